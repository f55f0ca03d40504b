// Package knowledge loads the per-caller KnowledgeSnapshot data a call's
// system prompt is built from (spec.md §4.5/§6.11's supplemented
// knowledge-snapshot shape), grounded on
// original_source/api/app/prompts/system.py's build_system_prompt inputs.
// Knowledge-base persistence itself is out of scope; this is the minimal
// static loader a deployment seeds ahead of time.
package knowledge

import (
	"encoding/json"
	"os"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// Store is a read-only, caller-id-keyed table of KnowledgeSnapshots,
// loaded once at startup.
type Store struct {
	byCaller map[string]orchestrator.KnowledgeSnapshot
}

// Load reads a JSON file mapping caller id to KnowledgeSnapshot. A
// missing or empty path yields an empty Store, whose Lookup always
// returns the zero snapshot (an assistant with no account/address
// context, matching a brand-new deployment with no seeded knowledge).
func Load(path string) (*Store, error) {
	store := &Store{byCaller: make(map[string]orchestrator.KnowledgeSnapshot)}
	if path == "" {
		return store, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &store.byCaller); err != nil {
		return nil, err
	}
	return store, nil
}

// Lookup returns the snapshot for callerID, or the zero snapshot if none
// is on file. Its signature matches carrier.KnowledgeLookup.
func (s *Store) Lookup(callerID string) orchestrator.KnowledgeSnapshot {
	return s.byCaller[callerID]
}
