package core

import "time"

// FindingEntry is one structured observation an agent recorded against a
// file key. An entry is current while SupersededBy is empty; older entries
// for the same (FileKey, AgentID) are kept as history.
type FindingEntry struct {
	ID           string    `json:"id"`
	FileKey      string    `json:"file_key"`
	AgentID      string    `json:"agent_id"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      Value     `json:"payload"`
	SupersededBy string    `json:"superseded_by,omitempty"`
}

// IsCurrent reports whether no later entry supersedes this one.
func (f FindingEntry) IsCurrent() bool { return f.SupersededBy == "" }

// ProcessedFileRecord tracks which agents touched a file and when. Summary
// holds the latest non-empty analysis summary an agent left for the file.
type ProcessedFileRecord struct {
	FileKey          string    `json:"file_key"`
	Agents           []string  `json:"agents"`
	FirstProcessedAt time.Time `json:"first_processed_at"`
	LastProcessedAt  time.Time `json:"last_processed_at"`
	Summary          string    `json:"summary,omitempty"`
	SummaryBy        string    `json:"summary_by,omitempty"`
}

// LedgerState holds every finding in insertion order plus the processed file
// records keyed by file key.
type LedgerState struct {
	Findings  []FindingEntry                 `json:"findings,omitempty"`
	Processed map[string]ProcessedFileRecord `json:"processed,omitempty"`
}

func (l LedgerState) clone() LedgerState {
	out := LedgerState{}
	if len(l.Findings) > 0 {
		out.Findings = make([]FindingEntry, len(l.Findings))
		copy(out.Findings, l.Findings)
	}
	if l.Processed != nil {
		out.Processed = make(map[string]ProcessedFileRecord, len(l.Processed))
		for k, rec := range l.Processed {
			rec.Agents = append([]string(nil), rec.Agents...)
			out.Processed[k] = rec
		}
	}
	return out
}
