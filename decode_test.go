package toolwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeLeaf(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "hello world", "hello world"},
		{"newline and ampersand", `line1\nline2 &amp; more`, "line1\nline2 & more"},
		{"entities", "a &lt;b&gt; &quot;c&quot; &apos;d&apos;", `a <b> "c" 'd'`},
		{"double-escaped entity decodes once", "&amp;lt;", "&lt;"},
		{"escaped backslash decodes once", `\\n`, `\n`},
		{"tab and carriage return", `a\tb\r\n`, "a\tb\r\n"},
		{"quotes", `\"x\" \'y\'`, `"x" 'y'`},
		{"unknown escape kept", `C:\path\dir`, `C:\path\dir`},
		{"trailing backslash kept", `end\`, `end\`},
		{"numeric references", "&#65;&#x42;", "AB"},
		{"unknown entity kept", "&nbsp; & ;", "&nbsp; & ;"},
		{"entity produces escape", `&#92;n`, "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeLeaf(tt.in))
		})
	}
}

func TestDecodeLeaf_PlainTextIsIdempotent(t *testing.T) {
	for _, s := range []string{"", "abc", "multi\nline\ttext", "a < b > c", "100% sure; x = y"} {
		assert.Equal(t, s, DecodeLeaf(s))
		assert.Equal(t, DecodeLeaf(s), DecodeLeaf(DecodeLeaf(s)))
	}
}

func TestExtractElements(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"two items", "<item>a</item><item>b</item>", []string{"a", "b"}},
		{"whitespace between", "\n  <item>a</item>\n  <item>b</item>\n", []string{"a", "b"}},
		{"self closing", "<item/><item>x</item>", []string{"", "x"}},
		{"attributes", `<item id="1">a</item>`, []string{"a"}},
		{"similar tag ignored", "<items>a</items><item>b</item>", []string{"b"}},
		{"unterminated trailing", "<item>a</item><item>b", []string{"a"}},
		{"none", "plain", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractElements(tt.in, "item"))
		})
	}
}

func TestTrimNewlines(t *testing.T) {
	assert.Equal(t, "  indented\n  body", trimNewlines("\n  indented\n  body\n"))
	assert.Equal(t, "\nkeep", trimNewlines("\n\nkeep"))
	assert.Equal(t, "x", trimNewlines("\r\nx\r\n"))
}
