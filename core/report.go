package core

// ReportStyle selects how section data rows are rendered.
type ReportStyle string

const (
	// StyleTable renders rows as a Markdown table.
	StyleTable ReportStyle = "table"
	// StyleList renders rows as a bullet list.
	StyleList ReportStyle = "list"
)

// Valid reports whether s is a known style.
func (s ReportStyle) Valid() bool { return s == StyleTable || s == StyleList }

// Field is a named cell of a data row.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// DataRow is an ordered record appended to a report section.
type DataRow []Field

// ReportSection is an append-only part of the progressive report. OrderIndex
// is assigned at initialization and never changes.
type ReportSection struct {
	Name       string    `json:"name"`
	OrderIndex int       `json:"order_index"`
	Content    string    `json:"content,omitempty"`
	Rows       []DataRow `json:"rows,omitempty"`
}

// ReportState is the report document of a session.
type ReportState struct {
	Initialized bool            `json:"initialized"`
	Style       ReportStyle     `json:"style,omitempty"`
	Sections    []ReportSection `json:"sections,omitempty"`
}

func (r ReportState) clone() ReportState {
	out := ReportState{Initialized: r.Initialized, Style: r.Style}
	if len(r.Sections) == 0 {
		return out
	}
	out.Sections = make([]ReportSection, len(r.Sections))
	for i, sec := range r.Sections {
		if len(sec.Rows) > 0 {
			rows := make([]DataRow, len(sec.Rows))
			for j, row := range sec.Rows {
				rows[j] = append(DataRow(nil), row...)
			}
			sec.Rows = rows
		}
		out.Sections[i] = sec
	}
	return out
}
