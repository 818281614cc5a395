package toolwire

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Normalized is a parameter bag converted to the declared shapes. Notes records, per field,
// why structural decoding fell back; the validator turns them into hints.
type Normalized struct {
	Tool   string
	Params Params
	Notes  map[string]string
}

func (n *Normalized) note(field, format string, args ...any) {
	if n.Notes == nil {
		n.Notes = make(map[string]string)
	}
	n.Notes[field] = fmt.Sprintf(format, args...)
}

// Normalizer converts raw field text into typed values using the registered field lists.
// It never fails: undecodable input becomes the shape's empty value, or stays a raw string
// for primitives, and the validator reports it.
type Normalizer struct {
	reg    *Registry
	logger *slog.Logger
}

// NewNormalizer returns a normalizer reading schemas from reg.
func NewNormalizer(reg *Registry, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{reg: reg, logger: logger}
}

// Normalize decodes the fields of a draft. Fields of an unregistered tool are kept as raw
// strings; the validator rejects the tool.
func (n *Normalizer) Normalize(d Draft) Normalized {
	out := Normalized{Tool: d.ToolName, Params: make(Params, len(d.Fields))}
	t, ok := n.reg.lookup(d.ToolName)
	if !ok {
		for _, f := range d.Fields {
			out.Params[f.Name] = f.Value
		}
		return out
	}
	for _, raw := range d.Fields {
		f, ok := t.schema.field(raw.Name)
		if !ok {
			n.logger.Debug("dropping unknown field", "tool", d.ToolName, "field", raw.Name)
			continue
		}
		if (f.Shape == ShapeNumber || f.Shape == ShapeBoolean) && strings.TrimSpace(raw.Value) == "" {
			// An empty primitive element means the value was left out.
			continue
		}
		out.Params[f.Name] = n.decodeText(&out, f, raw.Value)
	}
	return out
}

// NormalizeValues normalizes a programmatic invocation. Values that are already typed skip
// text decoding; strings given for array or object fields go through the text pipeline.
func (n *Normalizer) NormalizeValues(tool string, values map[string]any) Normalized {
	out := Normalized{Tool: tool, Params: make(Params, len(values))}
	t, ok := n.reg.lookup(tool)
	if !ok {
		for k, v := range values {
			out.Params[k] = jsonValue(v)
		}
		return out
	}
	for name, v := range values {
		if v == nil {
			continue
		}
		f, ok := t.schema.field(name)
		if !ok {
			n.logger.Debug("dropping unknown field", "tool", tool, "field", name)
			continue
		}
		if s, isText := v.(string); isText && f.Shape.structural() {
			out.Params[name] = n.decodeText(&out, f, s)
			continue
		}
		out.Params[name] = coerceValue(f, v)
	}
	return out
}

func (n *Normalizer) decodeText(out *Normalized, f Field, raw string) any {
	switch f.Shape {
	case ShapeString:
		s := trimNewlines(raw)
		if f.Unescape {
			s = DecodeLeaf(s)
		}
		return s
	case ShapeNumber, ShapeBoolean:
		return coercePrimitive(f.Shape, strings.TrimSpace(raw))
	}
	v, note := n.decodeStructural(f, raw)
	if note != "" {
		out.note(f.Name, "%s", note)
		n.logger.Debug("structural decoding fell back", "tool", out.Tool, "field", f.Name, "reason", note)
	}
	return v
}

// decodeStructural runs the field's decoder, or JSON then repeating elements.
func (n *Normalizer) decodeStructural(f Field, raw string) (any, string) {
	if f.Decoder != nil {
		v, err := f.Decoder(raw)
		if err != nil {
			return emptyValue(f.Shape), fmt.Sprintf("could not decode %s: %v", f.Name, err)
		}
		return coerceValue(f, v), ""
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return emptyValue(f.Shape), ""
	}
	var note string
	if text[0] == '[' || text[0] == '{' {
		if gjson.Valid(text) {
			return coerceValue(f, unwrapJSON(f, gjson.Parse(text).Value())), ""
		}
		note = "value starts like JSON but is not valid JSON"
	}
	if f.Shape == ShapeObject {
		rec := decodeRecord(f.Fields, text)
		if len(rec) == 0 && note == "" {
			note = fmt.Sprintf("no sub-elements found; write each property as <%s>value</%s>",
				firstFieldName(f.Fields), firstFieldName(f.Fields))
		}
		return rec, note
	}
	items := decodeItems(f, text)
	if len(items) == 0 && note == "" {
		tag := f.itemTag()
		note = fmt.Sprintf("no <%s> elements found; wrap each entry in <%s>...</%s>", tag, tag, tag)
	}
	return items, note
}

// decodeItems extracts the repeating elements of an array field. Leaves are decoded.
func decodeItems(f Field, s string) []any {
	elems := extractElements(s, f.itemTag())
	items := make([]any, 0, len(elems))
	for _, e := range elems {
		if len(f.Fields) == 0 {
			items = append(items, DecodeLeaf(trimNewlines(e)))
			continue
		}
		items = append(items, decodeRecord(f.Fields, e))
	}
	return items
}

// decodeRecord extracts the declared sub-elements of one record. Absent sub-elements are left
// out so the validator can name them.
func decodeRecord(fields []Field, s string) map[string]any {
	rec := make(map[string]any, len(fields))
	for _, sf := range fields {
		content, ok := extractElement(s, sf.Name)
		if !ok {
			continue
		}
		switch sf.Shape {
		case ShapeObject:
			rec[sf.Name] = decodeRecord(sf.Fields, content)
		case ShapeArray:
			rec[sf.Name] = decodeItems(sf, content)
		case ShapeString:
			rec[sf.Name] = DecodeLeaf(trimNewlines(content))
		default:
			rec[sf.Name] = coercePrimitive(sf.Shape, strings.TrimSpace(DecodeLeaf(content)))
		}
	}
	return rec
}

// unwrapJSON accepts the common wrappers {"item": [...]} and {"<field>": [...]} for arrays,
// and a single record object where an array of records is declared.
func unwrapJSON(f Field, v any) any {
	m, ok := v.(map[string]any)
	if !ok || f.Shape != ShapeArray {
		return v
	}
	if len(m) == 1 {
		for _, key := range []string{f.itemTag(), f.Name} {
			if inner, ok := m[key]; ok {
				if arr, ok := inner.([]any); ok {
					return arr
				}
			}
		}
	}
	if len(f.Fields) > 0 {
		return []any{m}
	}
	return v
}

// coerceValue normalizes an already-typed value to JSON shapes and coerces string leaves of
// primitive fields. Values of the wrong shape are returned as is for the validator.
func coerceValue(f Field, v any) any {
	v = jsonValue(v)
	switch f.Shape {
	case ShapeNumber, ShapeBoolean:
		if s, ok := v.(string); ok {
			return coercePrimitive(f.Shape, strings.TrimSpace(s))
		}
		return v
	case ShapeArray:
		arr, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			if rec, ok := item.(map[string]any); ok && len(f.Fields) > 0 {
				out[i] = coerceRecord(f.Fields, rec)
			} else {
				out[i] = item
			}
		}
		return out
	case ShapeObject:
		if rec, ok := v.(map[string]any); ok {
			return coerceRecord(f.Fields, rec)
		}
		return v
	default:
		return v
	}
}

func coerceRecord(fields []Field, rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, sf := range fields {
		if v, ok := out[sf.Name]; ok {
			out[sf.Name] = coerceValue(sf, v)
		}
	}
	return out
}

// jsonValue converts native Go values ([]string, int, structs...) to the shapes
// encoding/json produces.
func jsonValue(v any) any {
	switch v := v.(type) {
	case nil, string, float64, bool:
		return v
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = jsonValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = jsonValue(item)
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return gjson.ParseBytes(data).Value()
}

// coercePrimitive converts s to the shape, or returns s unchanged when it does not parse.
func coercePrimitive(shape Shape, s string) any {
	switch shape {
	case ShapeBoolean:
		switch {
		case strings.EqualFold(s, "true"):
			return true
		case strings.EqualFold(s, "false"):
			return false
		}
	case ShapeNumber:
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
	}
	return s
}

func emptyValue(shape Shape) any {
	if shape == ShapeObject {
		return map[string]any{}
	}
	return []any{}
}

func firstFieldName(fields []Field) string {
	if len(fields) == 0 {
		return "name"
	}
	return fields[0].Name
}
