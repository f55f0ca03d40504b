package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPath(t *testing.T) {
	store, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := store.Lookup("+390000000")
	if snap.ResidentName != "" {
		t.Errorf("expected zero snapshot, got %+v", snap)
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if store.Lookup("anyone").ResidentName != "" {
		t.Errorf("expected zero snapshot for missing file")
	}
}

func TestLoadAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	contents := `{
		"+390000000": {
			"ResidentName": "Maria Rossi",
			"Address": "Via Roma 12",
			"AddressAliases": ["Via Roma dodici"],
			"SafePlace": "portineria"
		}
	}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := store.Lookup("+390000000")
	if snap.ResidentName != "Maria Rossi" {
		t.Errorf("ResidentName = %q, want Maria Rossi", snap.ResidentName)
	}
	if snap.SafePlace != "portineria" {
		t.Errorf("SafePlace = %q, want portineria", snap.SafePlace)
	}
	if store.Lookup("unknown").ResidentName != "" {
		t.Errorf("expected zero snapshot for unknown caller")
	}
}
