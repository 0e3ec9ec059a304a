package convert

import (
	"html"
	"strings"
)

var lineBreaks = strings.NewReplacer("\r\n", "<br>", "\r", "<br>", "\n", "<br>")

// EscapeNoteContent turns a plain-text note body into the markup a rich-text
// note stores.
func EscapeNoteContent(body []byte) []byte {
	return []byte(lineBreaks.Replace(html.EscapeString(string(body))))
}
