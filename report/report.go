// Package report builds a progressive Markdown report for a session. Sections
// are declared once, in order, and then only grow: text is appended to their
// content and structured rows to their data. Finalize renders the stored
// state and never writes, so repeated calls return identical output.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// Options configures an Accumulator.
type Options struct {
	Logger logging.Logger
	Clock  func() time.Time
}

// Accumulator is the progressive report builder of a session.
type Accumulator struct {
	c *core.Committer
}

// New creates an Accumulator on top of store.
func New(store core.SessionStore, optFns ...func(o *Options)) *Accumulator {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Accumulator{c: core.NewCommitter(store, opts.Logger, opts.Clock)}
}

// Initialize declares the report sections in order and fixes the row style.
// A report can be initialized once.
func (a *Accumulator) Initialize(ctx context.Context, sessionID string, sectionNames []string, style core.ReportStyle) error {
	const op = "report.initialize"
	if style == "" {
		style = core.StyleTable
	}
	if !style.Valid() {
		return core.NewError(core.ErrInvalidArgument, op, sessionID, "", fmt.Sprintf("unknown style %q", style))
	}
	if len(sectionNames) == 0 {
		return core.NewError(core.ErrInvalidArgument, op, sessionID, "", "no sections")
	}
	seen := make(map[string]struct{}, len(sectionNames))
	for _, name := range sectionNames {
		if name == "" {
			return core.NewError(core.ErrInvalidArgument, op, sessionID, "", "empty section name")
		}
		if _, dup := seen[name]; dup {
			return core.NewError(core.ErrInvalidArgument, op, sessionID, name, "duplicate section name")
		}
		seen[name] = struct{}{}
	}

	_, err := a.c.Update(ctx, op, sessionID, func(st *core.State) error {
		if st.Report.Initialized {
			return core.NewError(core.ErrInvalidTransition, op, sessionID, "", "report already initialized")
		}
		st.Report = core.ReportState{Initialized: true, Style: style}
		for i, name := range sectionNames {
			st.Report.Sections = append(st.Report.Sections, core.ReportSection{Name: name, OrderIndex: i})
		}
		return nil
	})
	return err
}

// Update appends contentDelta and rows to the named section.
func (a *Accumulator) Update(ctx context.Context, sessionID, section, contentDelta string, rows []core.DataRow) error {
	const op = "report.update"
	for i, row := range rows {
		if len(row) == 0 {
			return core.NewError(core.ErrInvalidArgument, op, sessionID, section, fmt.Sprintf("row %d has no fields", i))
		}
	}
	_, err := a.c.Update(ctx, op, sessionID, func(st *core.State) error {
		if !st.Report.Initialized {
			return core.NewError(core.ErrInvalidTransition, op, sessionID, section, "report not initialized")
		}
		for i := range st.Report.Sections {
			sec := &st.Report.Sections[i]
			if sec.Name != section {
				continue
			}
			sec.Content += contentDelta
			for _, row := range rows {
				sec.Rows = append(sec.Rows, append(core.DataRow(nil), row...))
			}
			return nil
		}
		return core.NewError(core.ErrNotFound, op, sessionID, section, "unknown section")
	})
	return err
}

// Sections returns the sections in order.
func (a *Accumulator) Sections(ctx context.Context, sessionID string) ([]core.ReportSection, error) {
	st, _, err := a.c.Read(ctx, "report.sections", sessionID)
	if err != nil {
		return nil, err
	}
	return sortedSections(st.Report), nil
}

// Finalize renders the report. It is a pure function of the stored state.
func (a *Accumulator) Finalize(ctx context.Context, sessionID string) (string, error) {
	const op = "report.finalize"
	st, _, err := a.c.Read(ctx, op, sessionID)
	if err != nil {
		return "", err
	}
	if !st.Report.Initialized {
		return "", core.NewError(core.ErrInvalidTransition, op, sessionID, "", "report not initialized")
	}
	return Render(st.Report), nil
}

// Row builds a DataRow from alternating name/value arguments.
func Row(kv ...any) (core.DataRow, error) {
	if len(kv)%2 != 0 {
		return nil, core.NewError(core.ErrInvalidArgument, "report.row", "", "", "odd number of arguments")
	}
	row := make(core.DataRow, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok || name == "" {
			return nil, core.NewError(core.ErrInvalidArgument, "report.row", "", "", fmt.Sprintf("field name at %d is not a string", i))
		}
		v, err := core.NewValue(kv[i+1])
		if err != nil {
			return nil, core.NewError(core.ErrInvalidArgument, "report.row", "", name, err.Error())
		}
		row = append(row, core.Field{Name: name, Value: v})
	}
	return row, nil
}

// MustRow is like Row but panics on error.
func MustRow(kv ...any) core.DataRow {
	row, err := Row(kv...)
	if err != nil {
		panic(err)
	}
	return row
}
