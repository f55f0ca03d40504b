package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
)

// CallRecord is the full single-call read: events, reconstructed turns,
// and the call summary.
type CallRecord struct {
	Events  []Event     `json:"events"`
	Turns   []Turn      `json:"turns"`
	Summary CallSummary `json:"summary"`
}

// ListCalls enumerates call directories under root sorted by modification
// time descending and returns the lightweight summaries read from each
// summary.json. Directories without a summary.json (call still in
// progress, or finalize failed) are skipped.
func ListCalls(root string) ([]CallSummary, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type withModTime struct {
		summary CallSummary
		modTime int64
	}
	var found []withModTime

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		summaryPath := filepath.Join(root, entry.Name(), "summary.json")
		info, err := os.Stat(summaryPath)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(summaryPath)
		if err != nil {
			continue
		}
		var s CallSummary
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		found = append(found, withModTime{summary: s, modTime: info.ModTime().UnixNano()})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime > found[j].modTime })

	out := make([]CallSummary, 0, len(found))
	for _, f := range found {
		out = append(out, f.summary)
	}
	return out, nil
}

// ReadCall returns the full record {events, turns, summary} for one call.
func ReadCall(root, callID string) (CallRecord, error) {
	dir := filepath.Join(root, callID)

	var rec CallRecord

	eventsPath := filepath.Join(dir, "events.jsonl")
	if data, err := os.ReadFile(eventsPath); err == nil {
		rec.Events = parseJSONLEvents(data)
	}

	if data, err := os.ReadFile(filepath.Join(dir, "turns.json")); err == nil {
		json.Unmarshal(data, &rec.Turns)
	}
	if data, err := os.ReadFile(filepath.Join(dir, "summary.json")); err == nil {
		json.Unmarshal(data, &rec.Summary)
	}

	return rec, nil
}

func parseJSONLEvents(data []byte) []Event {
	var events []Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(line, &e); err == nil {
				events = append(events, e)
			}
		}
	}
	return events
}
