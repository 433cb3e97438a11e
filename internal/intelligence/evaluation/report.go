package evaluation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Row names of the aggregate lines in a report.
const (
	RowMicro = "micro avg"
	RowMacro = "macro avg"
)

// Row is one line of a classification report.
type Row struct {
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report returns one row per label followed by the micro and macro rows.
func (r *Result) Report() []Row {
	rows := make([]Row, 0, len(r.Labels)+2)
	for _, ls := range r.Labels {
		rows = append(rows, Row{ls.Label, ls.Precision, ls.Recall, ls.F1, ls.Support})
	}
	rows = append(rows,
		Row{RowMicro, r.Micro.Precision, r.Micro.Recall, r.Micro.F1, r.Micro.Support},
		Row{RowMacro, r.Macro.Precision, r.Macro.Recall, r.Macro.F1, r.Macro.Support},
	)
	return rows
}

// FormatTable writes rows as a right-aligned text table. Label widths are
// measured in terminal cells so wide characters keep columns aligned.
func FormatTable(w io.Writer, rows []Row) error {
	width := runewidth.StringWidth("label")
	for _, row := range rows {
		if cw := runewidth.StringWidth(row.Name); cw > width {
			width = cw
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %10s %10s %10s %10s\n",
		runewidth.FillLeft("", width), "precision", "recall", "f1-score", "support")
	for i, row := range rows {
		if row.Name == RowMicro && i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %10.2f %10.2f %10.2f %10d\n",
			runewidth.FillLeft(row.Name, width), row.Precision, row.Recall, row.F1, row.Support)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes the full result as indented JSON.
func WriteJSON(w io.Writer, r *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
