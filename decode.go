package toolwire

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

var namedEntities = []struct{ name, value string }{
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
	{"&apos;", "'"},
	{"&amp;", "&"},
}

// UnescapeEntities decodes the XML entities &lt; &gt; &quot; &apos; &amp; and numeric
// character references. Each reference is decoded exactly once, so "&amp;lt;" becomes "&lt;".
// Unknown or malformed references are kept verbatim.
func UnescapeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '&' {
			j := strings.IndexByte(s[i:], '&')
			if j < 0 {
				b.WriteString(s[i:])
				break
			}
			b.WriteString(s[i : i+j])
			i += j
			continue
		}
		if value, n := matchEntity(s[i:]); n > 0 {
			b.WriteString(value)
			i += n
			continue
		}
		b.WriteByte('&')
		i++
	}
	return b.String()
}

func matchEntity(s string) (string, int) {
	for _, e := range namedEntities {
		if strings.HasPrefix(s, e.name) {
			return e.value, len(e.name)
		}
	}
	if !strings.HasPrefix(s, "&#") {
		return "", 0
	}
	end := strings.IndexByte(s, ';')
	if end < 3 || end > 10 {
		return "", 0
	}
	digits, base := s[2:end], 10
	if digits[0] == 'x' || digits[0] == 'X' {
		digits, base = digits[1:], 16
	}
	code, err := strconv.ParseUint(digits, base, 32)
	if err != nil || !utf8.ValidRune(rune(code)) {
		return "", 0
	}
	return string(rune(code)), end + 1
}

// UnescapeBackslashes decodes \n \r \t \" \' and \\ in a single left-to-right pass.
// Any other backslash sequence is kept as written.
func UnescapeBackslashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(c)
			continue
		}
		i++
	}
	return b.String()
}

// DecodeLeaf decodes a leaf string from a structured field: entities first (outer layer),
// then backslash escapes (inner layer). Plain text is returned unchanged.
func DecodeLeaf(s string) string {
	return UnescapeBackslashes(UnescapeEntities(s))
}

// trimNewlines drops one leading and one trailing line break, the way models lay out
// element content on its own lines. Indentation inside is preserved.
func trimNewlines(s string) string {
	s = strings.TrimPrefix(s, "\r\n")
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s
}

// extractElements returns the contents of every <tag>...</tag> (or <tag/>) in s, in order.
// Elements are not nested: each runs to the first matching close tag. An unterminated
// trailing element is ignored.
func extractElements(s, tag string) []string {
	var out []string
	for i := 0; i < len(s); {
		start, n, selfClosing := findElementOpen(s[i:], tag)
		if start < 0 {
			break
		}
		valueStart := i + start + n
		if selfClosing {
			out = append(out, "")
			i = valueStart
			continue
		}
		closeTag := "</" + tag + ">"
		end := strings.Index(s[valueStart:], closeTag)
		if end < 0 {
			break
		}
		out = append(out, s[valueStart:valueStart+end])
		i = valueStart + end + len(closeTag)
	}
	return out
}

// extractElement returns the contents of the first <tag> element in s.
func extractElement(s, tag string) (string, bool) {
	start, n, selfClosing := findElementOpen(s, tag)
	if start < 0 {
		return "", false
	}
	if selfClosing {
		return "", true
	}
	valueStart := start + n
	end := strings.Index(s[valueStart:], "</"+tag+">")
	if end < 0 {
		return "", false
	}
	return s[valueStart : valueStart+end], true
}

// findElementOpen finds "<tag>", "<tag attr...>" or "<tag/>" and returns its offset and length.
func findElementOpen(s, tag string) (start, n int, selfClosing bool) {
	open := "<" + tag
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], open)
		if j < 0 {
			return -1, 0, false
		}
		p := i + j
		k := p + len(open)
		if k < len(s) && (s[k] == '>' || s[k] == '/' || s[k] == ' ' || s[k] == '\t' || s[k] == '\n') {
			gt := strings.IndexByte(s[k:], '>')
			if gt >= 0 {
				end := k + gt + 1
				return p, end - p, s[end-2] == '/'
			}
		}
		i = p + 1
	}
	return -1, 0, false
}
