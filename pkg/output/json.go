package output

import (
	"encoding/json"
	"io"
)

// PrintJSON writes a view for scripts: two-space indent, one document per
// call, HTML characters left unescaped so commands and URLs read as typed.
func PrintJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}
