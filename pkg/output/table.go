package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is a view with a table form: outcomes, status reports,
// run history and policy results.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// plainTable returns a borderless, left-aligned table. Runs are read in a
// terminal or over ssh, so it draws no box characters.
func plainTable(w io.Writer, columnSep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(columnSep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable renders one row per resource or run, headers upper-cased.
func PrintTable(w io.Writer, view TableRenderer) error {
	table := plainTable(w, "")
	table.SetAutoFormatHeaders(true)
	table.SetHeader(view.Headers())
	table.AppendBulk(view.Rows())
	table.Render()
	return nil
}

// SimpleTable renders label/value pairs, as in the validate plan summary.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	table := plainTable(w, ":")
	table.SetAutoFormatHeaders(false)
	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}
	table.Render()
	return nil
}
