package toolwire

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Validator checks normalized parameter bags against the registered schemas.
type Validator struct {
	reg     *Registry
	printer *message.Printer
}

// NewValidator returns a validator reading schemas from reg.
func NewValidator(reg *Registry) *Validator {
	return &Validator{reg: reg, printer: message.NewPrinter(language.English)}
}

// Validate checks n and returns the call it describes. The returned call has no id yet; the
// Manager assigns one on Submit. Errors are always *ValidationError.
func (v *Validator) Validate(n Normalized) (ValidatedCall, error) {
	t, ok := v.reg.lookup(n.Tool)
	if !ok {
		return ValidatedCall{}, &ValidationError{
			Tool:    n.Tool,
			Message: fmt.Sprintf("tool %q is not registered", n.Tool),
			Hint:    "use one of: " + strings.Join(v.reg.Names(), ", "),
		}
	}
	if err := checkFieldValues(n.Tool, "", t.schema.Fields, n.Params, n.Notes); err != nil {
		return ValidatedCall{}, err
	}
	if err := t.schema.keyword.Validate(map[string]any(n.Params)); err != nil {
		return ValidatedCall{}, v.keywordError(n.Tool, err)
	}
	return ValidatedCall{ToolName: n.Tool, Params: n.Params.clone()}, nil
}

// checkFieldValues checks one object level in declared field order and returns the first
// violation.
func checkFieldValues(tool, prefix string, fields []Field, values map[string]any, notes map[string]string) error {
	for _, f := range fields {
		path := prefix + f.Name
		value, present := values[f.Name]
		if !present || value == nil {
			if f.Required {
				return &ValidationError{
					Tool:          tool,
					FieldPath:     path,
					ExpectedShape: f.Shape.String(),
					ReceivedShape: "missing",
					Message:       "required field is missing",
					Hint:          withNote(missingHint(f), notes[f.Name]),
				}
			}
			continue
		}
		if err := checkValue(tool, path, f, value, notes[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(tool, path string, f Field, value any, note string) error {
	got := shapeOf(value)
	if got != f.Shape.String() {
		msg := fmt.Sprintf("expected %s, got %s", f.Shape, got)
		if s, ok := value.(string); ok {
			msg = fmt.Sprintf("expected %s, got string %q", f.Shape, truncate(s, 40))
		}
		return &ValidationError{
			Tool:          tool,
			FieldPath:     path,
			ExpectedShape: f.Shape.String(),
			ReceivedShape: got,
			Message:       msg,
			Hint:          withNote(shapeHint(f), note),
		}
	}
	switch f.Shape {
	case ShapeString:
		s := value.(string)
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return &ValidationError{
				Tool: tool, FieldPath: path, ExpectedShape: "string", ReceivedShape: "string",
				Message: fmt.Sprintf("%q is not an allowed value", truncate(s, 40)),
				Hint:    "use one of: " + strings.Join(f.Enum, ", "),
			}
		}
		if f.Format == FormatURL && !isHTTPURL(s) {
			return &ValidationError{
				Tool: tool, FieldPath: path, ExpectedShape: "url", ReceivedShape: "string",
				Message: fmt.Sprintf("%q is not a valid URL", truncate(s, 80)),
				Hint:    "use an absolute http:// or https:// URL including the host",
			}
		}
	case ShapeArray:
		items := value.([]any)
		if len(items) < f.MinItems {
			return &ValidationError{
				Tool: tool, FieldPath: path, ExpectedShape: "array", ReceivedShape: "array",
				Message: fmt.Sprintf("expected at least %d item(s), got %d", f.MinItems, len(items)),
				Hint:    withNote(minItemsHint(f), note),
			}
		}
		for i, item := range items {
			itemPath := path + "[" + strconv.Itoa(i) + "]"
			if len(f.Fields) == 0 {
				if _, ok := item.(string); !ok {
					return &ValidationError{
						Tool: tool, FieldPath: itemPath, ExpectedShape: "string", ReceivedShape: shapeOf(item),
						Message: fmt.Sprintf("expected string, got %s", shapeOf(item)),
						Hint:    "each entry must be plain text",
					}
				}
				continue
			}
			rec, ok := item.(map[string]any)
			if !ok {
				return &ValidationError{
					Tool: tool, FieldPath: itemPath, ExpectedShape: "object", ReceivedShape: shapeOf(item),
					Message: fmt.Sprintf("expected object, got %s", shapeOf(item)),
					Hint:    recordHint(f),
				}
			}
			if err := checkFieldValues(tool, itemPath+".", f.Fields, rec, nil); err != nil {
				return err
			}
		}
	case ShapeObject:
		return checkFieldValues(tool, path+".", f.Fields, value.(map[string]any), nil)
	}
	return nil
}

// keywordError maps the deepest cause of a keyword failure to a ValidationError.
func (v *Validator) keywordError(tool string, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Tool: tool, Message: err.Error()}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	out := &ValidationError{
		Tool:      tool,
		FieldPath: instancePath(leaf.InstanceLocation),
		Message:   leaf.ErrorKind.LocalizedString(v.printer),
		Hint:      keywordHint(""),
	}
	if kp := leaf.ErrorKind.KeywordPath(); len(kp) > 0 {
		out.Hint = keywordHint(kp[len(kp)-1])
	}
	return out
}

// instancePath renders ["edits", "2", "old_string"] as "edits[2].old_string".
func instancePath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil && b.Len() > 0 {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func keywordHint(keyword string) string {
	switch keyword {
	case "pattern":
		return "rewrite the value to match the documented pattern"
	case "minimum", "exclusiveMinimum":
		return "use a larger number"
	case "maximum", "exclusiveMaximum":
		return "use a smaller number"
	case "maxItems":
		return "send fewer entries, or split the work across several calls"
	case "format":
		return "check the value's format"
	case "enum":
		return "use one of the documented values"
	default:
		return "check the value against the tool description"
	}
}

func shapeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func missingHint(f Field) string {
	switch f.Shape {
	case ShapeArray:
		return fmt.Sprintf("add <%s> with at least one <%s>...</%s> element", f.Name, f.itemTag(), f.itemTag())
	default:
		return fmt.Sprintf("add <%s>...</%s> inside the tool block", f.Name, f.Name)
	}
}

func shapeHint(f Field) string {
	switch f.Shape {
	case ShapeNumber:
		return "use a numeric literal such as 42 or 0.5"
	case ShapeBoolean:
		return "use true or false"
	case ShapeArray:
		return fmt.Sprintf("wrap each entry in <%s>...</%s> or send a JSON array", f.itemTag(), f.itemTag())
	case ShapeObject:
		return "send a JSON object or one sub-element per property"
	default:
		return "send the value as plain text"
	}
}

func minItemsHint(f Field) string {
	tag := f.itemTag()
	if f.MinItems == 1 {
		return fmt.Sprintf("at least one repeating element required: wrap each entry in <%s>...</%s>", tag, tag)
	}
	return fmt.Sprintf("at least %d repeating elements required: wrap each entry in <%s>...</%s>", f.MinItems, tag, tag)
}

func recordHint(f Field) string {
	names := make([]string, 0, len(f.Fields))
	for _, sf := range f.Fields {
		names = append(names, "<"+sf.Name+">")
	}
	return fmt.Sprintf("each <%s> must contain %s", f.itemTag(), strings.Join(names, ", "))
}

func withNote(hint, note string) string {
	if note == "" {
		return hint
	}
	return note + "; " + hint
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
