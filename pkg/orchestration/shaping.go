package orchestration

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// KeyStyle is a document key naming convention.
type KeyStyle string

const (
	// Camelized keys look like "UserName" or "AccessKeys".
	Camelized KeyStyle = "camelized"
	// Underscored keys look like "user_name" or "access_keys".
	Underscored KeyStyle = "underscored"
)

// ParseKeyStyle validates a style name.
func ParseKeyStyle(s string) (KeyStyle, error) {
	switch KeyStyle(strings.ToLower(s)) {
	case Camelized:
		return Camelized, nil
	case Underscored:
		return Underscored, nil
	}
	return "", ErrValidation("unknown output style %q (want %s or %s)", s, Camelized, Underscored)
}

var (
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	wordBoundary    = regexp.MustCompile(`([a-z\d])([A-Z])`)
)

// Modify returns a copy of doc with every key, including keys of nested maps
// and of maps inside slices, renamed to style. Values are not changed.
// Keys starting with an underscore are metadata and are kept as-is.
func Modify(doc Document, style KeyStyle) Document {
	if doc == nil {
		return nil
	}
	rename := Camelize
	if style == Underscored {
		rename = Underscore
	}
	return Document(shapeMap(doc, rename))
}

// shapeMap renames the keys of m. When several keys rename to the same
// target, the one already spelled as the target wins, then the lexically
// smallest.
func shapeMap(m map[string]any, rename func(string) string) map[string]any {
	out := make(map[string]any, len(m))
	from := make(map[string]string, len(m))
	for k, v := range m {
		target := k
		if !strings.HasPrefix(k, "_") {
			target = rename(k)
		}
		if prev, ok := from[target]; ok && !outranks(k, prev, target) {
			continue
		}
		from[target] = k
		out[target] = shapeValue(v, rename)
	}
	return out
}

func outranks(k, prev, target string) bool {
	if (k == target) != (prev == target) {
		return k == target
	}
	return k < prev
}

// shapeValue keeps the container types it is given so shaped documents
// compare equal to hand-built ones.
func shapeValue(v any, rename func(string) string) any {
	switch t := v.(type) {
	case Document:
		return Document(shapeMap(t, rename))
	case map[string]any:
		return shapeMap(t, rename)
	case []Document:
		out := make([]Document, len(t))
		for i, m := range t {
			out[i] = shapeMap(m, rename)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, m := range t {
			out[i] = shapeMap(m, rename)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = shapeValue(e, rename)
		}
		return out
	}
	return v
}

// Camelize upper-cases the first letter of the key and of every segment
// following an underscore, dropping the underscores.
func Camelize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	upper := true
	for _, r := range key {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Underscore splits the key at word and acronym boundaries, joins the parts
// with underscores and lower-cases the result. Digits and single-letter
// segments do not start a word, so "x_1" comes back from Camelize as "x1".
func Underscore(key string) string {
	if !utf8.ValidString(key) {
		return key
	}
	s := acronymBoundary.ReplaceAllString(key, "${1}_${2}")
	s = wordBoundary.ReplaceAllString(s, "${1}_${2}")
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ToLower(s)
}
