// Package ledger records agent findings per file key and tracks which files
// each agent processed. Every agent keeps one current finding per file; a
// newer finding supersedes the older one, which stays available as history.
//
// Each mutating call is a single commit against the session store and each
// read a single snapshot, so concurrent agents never lose each other's
// findings. Conflicts are returned to the caller, never retried here.
package ledger

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// Options configures a Ledger.
type Options struct {
	Logger logging.Logger
	Clock  func() time.Time
	// NewID generates finding ids. Defaults to uuid.NewString.
	NewID func() string
}

// Ledger is the findings and processed-file store of a session.
type Ledger struct {
	c     *core.Committer
	newID func() string
}

// New creates a Ledger on top of store.
func New(store core.SessionStore, optFns ...func(o *Options)) *Ledger {
	opts := Options{NewID: uuid.NewString}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Ledger{c: core.NewCommitter(store, opts.Logger, opts.Clock), newID: opts.NewID}
}

// FileContext is everything the ledger knows about one file key.
type FileContext struct {
	FileKey string `json:"file_key"`
	// Current maps agent id to that agent's current payload.
	Current map[string]core.Value `json:"current"`
	// History lists superseded entries, oldest first.
	History   []core.FindingEntry       `json:"history"`
	Processed *core.ProcessedFileRecord `json:"processed,omitempty"`
	Version   int64                     `json:"version"`
}

// MergeResult reports what a Merge applied.
type MergeResult struct {
	Applied    int   `json:"applied"`
	Superseded int   `json:"superseded"`
	Skipped    int   `json:"skipped"`
	Version    int64 `json:"version"`
}

// Summary holds aggregate counts computed from the stored entries.
type Summary struct {
	FilesProcessed int `json:"files_processed"`
	// FindingsPerAgent counts current findings per agent.
	FindingsPerAgent map[string]int `json:"findings_per_agent"`
	TotalEntries     int            `json:"total_entries"`
	Version          int64          `json:"version"`
}

// AddFinding records payload as the current finding of agentID for fileKey.
func (l *Ledger) AddFinding(ctx context.Context, sessionID, fileKey, agentID string, payload core.Value) (core.FindingEntry, error) {
	const op = "ledger.add_finding"
	if err := validateKeys(op, sessionID, fileKey, agentID); err != nil {
		return core.FindingEntry{}, err
	}
	entry := core.FindingEntry{
		ID:      l.newID(),
		FileKey: fileKey,
		AgentID: agentID,
		Payload: payload,
	}
	_, err := l.c.Update(ctx, op, sessionID, func(st *core.State) error {
		entry.Timestamp = l.c.Now()
		appendFinding(&st.Ledger, entry)
		return nil
	})
	if err != nil {
		return core.FindingEntry{}, err
	}
	return entry, nil
}

// MarkProcessed ensures a processed record exists for fileKey and agentID
// without recording a finding.
func (l *Ledger) MarkProcessed(ctx context.Context, sessionID, fileKey, agentID string) error {
	return l.MarkProcessedWithSummary(ctx, sessionID, fileKey, agentID, "")
}

// MarkProcessedWithSummary is MarkProcessed that also stores an analysis
// summary for the file. An empty summary keeps the previous one.
func (l *Ledger) MarkProcessedWithSummary(ctx context.Context, sessionID, fileKey, agentID, summary string) error {
	const op = "ledger.mark_processed"
	if err := validateKeys(op, sessionID, fileKey, agentID); err != nil {
		return err
	}
	_, err := l.c.Update(ctx, op, sessionID, func(st *core.State) error {
		touchProcessed(&st.Ledger, fileKey, agentID, l.c.Now())
		if summary != "" {
			rec := st.Ledger.Processed[fileKey]
			rec.Summary = summary
			rec.SummaryBy = agentID
			st.Ledger.Processed[fileKey] = rec
		}
		return nil
	})
	return err
}

// FileSummary returns the stored analysis summary for fileKey. ok is false
// when the file was never processed or carries no summary.
func (l *Ledger) FileSummary(ctx context.Context, sessionID, fileKey string) (summary string, ok bool, err error) {
	const op = "ledger.file_summary"
	if fileKey == "" {
		return "", false, core.NewError(core.ErrInvalidArgument, op, sessionID, "", "file key is empty")
	}
	st, _, err := l.c.Read(ctx, op, sessionID)
	if err != nil {
		return "", false, err
	}
	rec, found := st.Ledger.Processed[fileKey]
	if !found || rec.Summary == "" {
		return "", false, nil
	}
	return rec.Summary, true, nil
}

// Merge applies a batch of findings in one commit using the same supersede
// rule as AddFinding. Entries for the same file and agent are applied in
// batch order, so the last one wins; entries of different agents never
// conflict. Entries whose id is already in the ledger are skipped, which
// makes re-merging the same batch a no-op.
func (l *Ledger) Merge(ctx context.Context, sessionID string, batch []core.FindingEntry) (MergeResult, error) {
	const op = "ledger.merge"
	for _, e := range batch {
		if err := validateKeys(op, sessionID, e.FileKey, e.AgentID); err != nil {
			return MergeResult{}, err
		}
	}
	prepared := make([]core.FindingEntry, len(batch))
	for i, e := range batch {
		if e.ID == "" {
			e.ID = l.newID()
		}
		e.SupersededBy = ""
		prepared[i] = e
	}

	var res MergeResult
	version, err := l.c.Update(ctx, op, sessionID, func(st *core.State) error {
		res = MergeResult{}
		known := make(map[string]struct{}, len(st.Ledger.Findings)+len(prepared))
		for _, f := range st.Ledger.Findings {
			known[f.ID] = struct{}{}
		}
		now := l.c.Now()
		for _, e := range prepared {
			if _, dup := known[e.ID]; dup {
				res.Skipped++
				continue
			}
			known[e.ID] = struct{}{}
			if e.Timestamp.IsZero() {
				e.Timestamp = now
			}
			if appendFinding(&st.Ledger, e) {
				res.Superseded++
			}
			res.Applied++
		}
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}
	res.Version = version
	return res, nil
}

// GetFileContext returns the current payload per agent and the superseded
// history for fileKey. An unknown file key yields an empty context.
func (l *Ledger) GetFileContext(ctx context.Context, sessionID, fileKey string) (FileContext, error) {
	st, version, err := l.c.Read(ctx, "ledger.get_file_context", sessionID)
	if err != nil {
		return FileContext{}, err
	}
	fc := FileContext{FileKey: fileKey, Current: map[string]core.Value{}, History: []core.FindingEntry{}, Version: version}
	for _, f := range st.Ledger.Findings {
		if f.FileKey != fileKey {
			continue
		}
		if f.IsCurrent() {
			fc.Current[f.AgentID] = f.Payload
		} else {
			fc.History = append(fc.History, f)
		}
	}
	if rec, ok := st.Ledger.Processed[fileKey]; ok {
		fc.Processed = &rec
	}
	return fc, nil
}

// Summary computes aggregate counts on read.
func (l *Ledger) Summary(ctx context.Context, sessionID string) (Summary, error) {
	st, version, err := l.c.Read(ctx, "ledger.summary", sessionID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(st, version), nil
}

// Summarize computes the ledger summary of an already opened document.
func Summarize(st *core.State, version int64) Summary {
	s := Summary{
		FilesProcessed:   len(st.Ledger.Processed),
		FindingsPerAgent: map[string]int{},
		TotalEntries:     len(st.Ledger.Findings),
		Version:          version,
	}
	for _, f := range st.Ledger.Findings {
		if f.IsCurrent() {
			s.FindingsPerAgent[f.AgentID]++
		}
	}
	return s
}

// ProcessedFiles lists processed file records sorted by file key.
func (l *Ledger) ProcessedFiles(ctx context.Context, sessionID string) ([]core.ProcessedFileRecord, error) {
	st, _, err := l.c.Read(ctx, "ledger.processed_files", sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]core.ProcessedFileRecord, 0, len(st.Ledger.Processed))
	for _, rec := range st.Ledger.Processed {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileKey < out[j].FileKey })
	return out, nil
}

// appendFinding supersedes the current entry of the same file and agent,
// appends e and updates the processed record. It reports whether an entry
// was superseded.
func appendFinding(ls *core.LedgerState, e core.FindingEntry) bool {
	superseded := false
	for i := range ls.Findings {
		f := &ls.Findings[i]
		if f.FileKey == e.FileKey && f.AgentID == e.AgentID && f.IsCurrent() {
			f.SupersededBy = e.ID
			superseded = true
		}
	}
	ls.Findings = append(ls.Findings, e)
	touchProcessed(ls, e.FileKey, e.AgentID, e.Timestamp)
	return superseded
}

func touchProcessed(ls *core.LedgerState, fileKey, agentID string, at time.Time) {
	if ls.Processed == nil {
		ls.Processed = map[string]core.ProcessedFileRecord{}
	}
	rec, ok := ls.Processed[fileKey]
	if !ok {
		rec = core.ProcessedFileRecord{FileKey: fileKey, FirstProcessedAt: at}
	}
	if i, found := slices.BinarySearch(rec.Agents, agentID); !found {
		rec.Agents = slices.Insert(rec.Agents, i, agentID)
	}
	if at.Before(rec.FirstProcessedAt) {
		rec.FirstProcessedAt = at
	}
	if at.After(rec.LastProcessedAt) {
		rec.LastProcessedAt = at
	}
	ls.Processed[fileKey] = rec
}

func validateKeys(op, sessionID, fileKey, agentID string) error {
	if fileKey == "" {
		return core.NewError(core.ErrInvalidArgument, op, sessionID, "", "file key is empty")
	}
	if agentID == "" {
		return core.NewError(core.ErrInvalidArgument, op, sessionID, fileKey, "agent id is empty")
	}
	return nil
}
