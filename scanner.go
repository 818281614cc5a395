package toolwire

import (
	"regexp"
	"slices"
	"strings"
)

// RawField is one captured field of a tool invocation, verbatim as streamed.
type RawField struct {
	Name     string
	Value    string
	Complete bool
}

// Draft is a tool invocation being assembled from the stream. Fields keep arrival order;
// a repeated field name overwrites the earlier value in place.
type Draft struct {
	ToolName string
	Fields   []RawField
	Complete bool
}

// Raw returns the raw text of the named field.
func (d Draft) Raw(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (d *Draft) set(name, value string) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			d.Fields[i] = RawField{Name: name, Value: value, Complete: true}
			return
		}
	}
	d.Fields = append(d.Fields, RawField{Name: name, Value: value, Complete: true})
}

func (d Draft) clone() Draft {
	d.Fields = slices.Clone(d.Fields)
	return d
}

func (d Draft) equal(o Draft) bool {
	return d.ToolName == o.ToolName && d.Complete == o.Complete && slices.Equal(d.Fields, o.Fields)
}

// ScanEventKind identifies what a ScanEvent carries.
type ScanEventKind int

const (
	// EventText is prose outside any tool block.
	EventText ScanEventKind = iota
	// EventDraft reports a changed open draft; more chunks are expected.
	EventDraft
	// EventClosed reports a complete draft ready for normalization.
	EventClosed
	// EventDiscarded reports an open draft dropped because the stream ended.
	EventDiscarded
)

func (k ScanEventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventDraft:
		return "draft"
	case EventClosed:
		return "closed"
	case EventDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// ScanEvent is one output of Scanner.Feed or Scanner.Finish.
type ScanEvent struct {
	Kind  ScanEventKind
	Text  string
	Draft Draft
}

type scanState int

const (
	stateOutside scanState = iota
	stateBlock
	stateField
)

// maxTagLen bounds how far the scanner looks for the '>' of an opening tag before deciding
// that a '<' is prose. A longer opening tag is prose whether it arrives whole or in pieces.
const maxTagLen = 256

// Scanner recognizes tool invocation blocks in streamed text:
//
//	<tool name="read_file"><path>main.go</path></tool>
//
// Registered tool names are also accepted as the element itself (<read_file>...</read_file>).
// Field contents are captured verbatim; nothing inside a field is scanned for invocations.
// The scanner is not safe for concurrent use.
type Scanner struct {
	buf   Buffer
	names map[string]bool

	state      scanState
	closeTag   string
	draft      Draft
	pos        int
	field      string
	valueStart int
	searchFrom int

	last     Draft
	lastSent bool
}

// NewScanner returns a scanner accepting the direct element form for the given tool names.
func NewScanner(names ...string) *Scanner {
	s := &Scanner{names: make(map[string]bool, len(names))}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

// Feed appends a chunk and returns the events it produced. The events depend only on the
// text received so far, never on how it was split into chunks, except for how prose is
// divided between EventText events.
func (s *Scanner) Feed(chunk string) []ScanEvent {
	s.buf.Append(chunk)
	text := s.buf.Text()
	var events []ScanEvent
	for {
		switch s.state {
		case stateOutside:
			cursor := s.buf.Cursor()
			start, end, name, tag, st := s.findOpening(text, cursor)
			switch st {
			case matchNone:
				events = appendText(events, text[cursor:])
				s.buf.Advance(len(text))
				return events
			case matchPartial:
				events = appendText(events, text[cursor:start])
				s.buf.Advance(start)
				return events
			}
			events = appendText(events, text[cursor:start])
			s.buf.Advance(start)
			s.draft = Draft{ToolName: name}
			s.lastSent = false
			if st == matchSelfClosing {
				s.draft.Complete = true
				events = append(events, ScanEvent{Kind: EventClosed, Draft: s.draft.clone()})
				s.buf.Advance(end)
				s.draft = Draft{}
				continue
			}
			s.closeTag = "</" + tag + ">"
			s.state = stateBlock
			s.pos = end

		case stateBlock:
			j := strings.IndexByte(text[s.pos:], '<')
			if j < 0 {
				s.pos = len(text)
				return s.appendPreview(events, text)
			}
			p := s.pos + j
			rest := text[p:]
			if strings.HasPrefix(rest, s.closeTag) {
				s.draft.Complete = true
				events = append(events, ScanEvent{Kind: EventClosed, Draft: s.draft.clone()})
				s.buf.Advance(p + len(s.closeTag))
				s.state = stateOutside
				s.draft = Draft{}
				s.lastSent = false
				continue
			}
			if strings.HasPrefix(s.closeTag, rest) {
				s.pos = p
				return s.appendPreview(events, text)
			}
			name, n, st := matchFieldOpen(rest)
			switch st {
			case matchPartial:
				s.pos = p
				return s.appendPreview(events, text)
			case matchNone:
				s.pos = p + 1
				continue
			case matchSelfClosing:
				s.draft.set(name, "")
				s.pos = p + n
				continue
			}
			s.state = stateField
			s.field = name
			s.valueStart = p + n
			s.searchFrom = s.valueStart

		case stateField:
			fclose := "</" + s.field + ">"
			k := strings.Index(text[s.searchFrom:], fclose)
			if k < 0 {
				s.searchFrom = max(s.valueStart, len(text)-len(fclose)+1)
				return s.appendPreview(events, text)
			}
			end := s.searchFrom + k
			s.draft.set(s.field, text[s.valueStart:end])
			s.state = stateBlock
			s.pos = end + len(fclose)
		}
	}
}

// Finish ends the stream. Trailing prose is flushed and an unterminated block is discarded,
// never promoted to closed.
func (s *Scanner) Finish() []ScanEvent {
	text := s.buf.Text()
	var events []ScanEvent
	if s.state == stateOutside {
		events = appendText(events, text[s.buf.Cursor():])
	} else {
		events = append(events, ScanEvent{Kind: EventDiscarded, Draft: s.preview(text)})
	}
	s.buf.Advance(len(text))
	s.state = stateOutside
	s.draft = Draft{}
	s.lastSent = false
	return events
}

// Pending reports whether a block is open.
func (s *Scanner) Pending() bool { return s.state != stateOutside }

func (s *Scanner) preview(text string) Draft {
	d := s.draft.clone()
	if s.state == stateField {
		value := trimPartialSuffix(text[s.valueStart:], "</"+s.field+">")
		d.Fields = append(d.Fields, RawField{Name: s.field, Value: value})
	}
	return d
}

func (s *Scanner) appendPreview(events []ScanEvent, text string) []ScanEvent {
	d := s.preview(text)
	if s.lastSent && d.equal(s.last) {
		return events
	}
	s.last = d
	s.lastSent = true
	return append(events, ScanEvent{Kind: EventDraft, Draft: d})
}

func appendText(events []ScanEvent, text string) []ScanEvent {
	if text == "" {
		return events
	}
	return append(events, ScanEvent{Kind: EventText, Text: text})
}

// trimPartialSuffix drops a trailing prefix of tag, e.g. "abc</pa" with tag "</path>".
func trimPartialSuffix(value, tag string) string {
	for n := min(len(tag)-1, len(value)); n > 0; n-- {
		if strings.HasSuffix(value, tag[:n]) {
			return value[:len(value)-n]
		}
	}
	return value
}

type matchStatus int

const (
	matchNone matchStatus = iota
	matchPartial
	matchFull
	matchSelfClosing
)

var nameAttrRE = regexp.MustCompile(`(?:^|\s)name\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// findOpening looks for the next tool opening tag at or after from.
// It returns the invoked tool name and the element name that closes the block.
func (s *Scanner) findOpening(text string, from int) (start, end int, name, tag string, st matchStatus) {
	for i := from; i < len(text); {
		j := strings.IndexByte(text[i:], '<')
		if j < 0 {
			return 0, 0, "", "", matchNone
		}
		p := i + j
		name, tag, n, st := s.matchOpening(text[p:])
		if st != matchNone {
			return p, p + n, name, tag, st
		}
		i = p + 1
	}
	return 0, 0, "", "", matchNone
}

func (s *Scanner) matchOpening(rest string) (name, tag string, n int, st matchStatus) {
	i := 1
	for i < len(rest) && isNameByte(rest[i]) {
		i++
	}
	tag = rest[1:i]
	if i == len(rest) {
		if s.couldOpen(tag) {
			return "", "", 0, matchPartial
		}
		return "", "", 0, matchNone
	}
	if tag != "tool" && !s.names[tag] {
		return "", "", 0, matchNone
	}
	gt := strings.IndexByte(rest[i:], '>')
	if gt < 0 {
		if len(rest) < maxTagLen && !strings.ContainsRune(rest[i:], '<') {
			return "", "", 0, matchPartial
		}
		return "", "", 0, matchNone
	}
	attrs := rest[i : i+gt]
	n = i + gt + 1
	if n > maxTagLen || strings.ContainsRune(attrs, '<') {
		return "", "", 0, matchNone
	}
	st = matchFull
	if strings.HasSuffix(attrs, "/") {
		attrs = attrs[:len(attrs)-1]
		st = matchSelfClosing
	}
	if tag == "tool" {
		if m := nameAttrRE.FindStringSubmatch(attrs); m != nil {
			name = m[1] + m[2]
		}
		if name == "" && strings.TrimSpace(attrs) == "" && s.names["tool"] {
			name = "tool"
		}
		if name == "" {
			return "", "", 0, matchNone
		}
		return name, tag, n, st
	}
	if strings.TrimSpace(attrs) != "" {
		return "", "", 0, matchNone
	}
	return tag, tag, n, st
}

// couldOpen reports whether a tag name cut off by the end of the buffer may still become an
// opening tag once more text arrives.
func (s *Scanner) couldOpen(prefix string) bool {
	if strings.HasPrefix("tool", prefix) {
		return true
	}
	for n := range s.names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

// matchFieldOpen matches "<name>", "<name attr...>" or "<name/>" at the start of rest.
func matchFieldOpen(rest string) (string, int, matchStatus) {
	i := 1
	for i < len(rest) && isNameByte(rest[i]) {
		i++
	}
	if i == len(rest) {
		return "", 0, matchPartial
	}
	if i == 1 {
		return "", 0, matchNone
	}
	name := rest[1:i]
	switch c := rest[i]; {
	case c == '>':
		return name, i + 1, matchFull
	case c == '/':
		switch {
		case i+1 == len(rest):
			return "", 0, matchPartial
		case rest[i+1] == '>':
			return name, i + 2, matchSelfClosing
		}
		return "", 0, matchNone
	case !isSpace(c):
		return "", 0, matchNone
	}
	gt := strings.IndexByte(rest[i:], '>')
	if gt < 0 {
		if len(rest) < maxTagLen && !strings.ContainsRune(rest[i:], '<') {
			return "", 0, matchPartial
		}
		return "", 0, matchNone
	}
	n := i + gt + 1
	if n > maxTagLen || strings.ContainsRune(rest[i:i+gt], '<') {
		return "", 0, matchNone
	}
	if rest[n-2] == '/' {
		return name, n, matchSelfClosing
	}
	return name, n, matchFull
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
