// Package encoding provides the XML escaping the document writer needs.
package encoding

import "strings"

// EscapeXMLText escapes the basic XML entities for element text. Word
// accepts bare quotes inside w:t, so they stay literal here.
func EscapeXMLText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// EscapeXMLAttr escapes text for a double-quoted XML attribute value.
func EscapeXMLAttr(s string) string {
	s = EscapeXMLText(s)
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
