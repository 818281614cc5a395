package toolwire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"

	gjs "github.com/google/jsonschema-go/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Shape is the declared type of a tool field.
type Shape int

const (
	ShapeString Shape = iota
	ShapeNumber
	ShapeBoolean
	ShapeArray
	ShapeObject
)

func (s Shape) String() string {
	switch s {
	case ShapeString:
		return "string"
	case ShapeNumber:
		return "number"
	case ShapeBoolean:
		return "boolean"
	case ShapeArray:
		return "array"
	case ShapeObject:
		return "object"
	default:
		return "unknown"
	}
}

// structural reports whether values of this shape go through structural decoding.
func (s Shape) structural() bool { return s == ShapeArray || s == ShapeObject }

// Format is an additional string constraint checked by the validator.
type Format string

const (
	FormatNone Format = ""
	// FormatURL requires an absolute http or https URL with a host.
	FormatURL Format = "url"
)

// DecodeFunc replaces the default structural decoding of one array or object field.
// Returning an error makes the normalizer fall back to the shape's empty value.
type DecodeFunc func(raw string) (any, error)

// DefaultItemTag is the repeating element name used when Field.ItemTag is empty.
const DefaultItemTag = "item"

// Field declares one parameter of a tool.
//
// For ShapeArray, Fields describes the record stored in each repeating element; an empty
// Fields means an array of strings. For ShapeObject, Fields lists the object's properties.
type Field struct {
	Name        string
	Shape       Shape
	Required    bool
	Description string
	Enum        []string
	Format      Format
	Pattern     string
	Minimum     *float64
	Maximum     *float64
	MinItems    int
	MaxItems    int
	ItemTag     string
	Fields      []Field
	// Unescape applies entity and backslash decoding to a string field.
	Unescape bool
	Decoder  DecodeFunc
}

func (f Field) itemTag() string {
	if f.ItemTag == "" {
		return DefaultItemTag
	}
	return f.ItemTag
}

// ToolSchema is the static description of a tool registered once at startup.
type ToolSchema struct {
	Name        string
	Description string
	Fields      []Field
}

// Field returns the declared field with the given name.
func (s ToolSchema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Definition returns the JSON Schema of the tool's parameters, suitable for LLM tool
// definitions. The result is freshly built on each call.
func (s ToolSchema) Definition() *gjs.Schema {
	return objectDefinition(s.Description, s.Fields)
}

func objectDefinition(description string, fields []Field) *gjs.Schema {
	def := &gjs.Schema{
		Type:        "object",
		Description: description,
		Properties:  make(map[string]*gjs.Schema, len(fields)),
	}
	for _, f := range fields {
		def.Properties[f.Name] = fieldDefinition(f)
		if f.Required {
			def.Required = append(def.Required, f.Name)
		}
	}
	return def
}

func fieldDefinition(f Field) *gjs.Schema {
	switch f.Shape {
	case ShapeArray:
		def := &gjs.Schema{Type: "array", Description: f.Description}
		if len(f.Fields) > 0 {
			def.Items = objectDefinition("", f.Fields)
		} else {
			def.Items = &gjs.Schema{Type: "string"}
		}
		if f.MinItems > 0 {
			n := f.MinItems
			def.MinItems = &n
		}
		if f.MaxItems > 0 {
			n := f.MaxItems
			def.MaxItems = &n
		}
		return def
	case ShapeObject:
		return objectDefinition(f.Description, f.Fields)
	}
	def := &gjs.Schema{Type: f.Shape.String(), Description: f.Description}
	if f.Shape == ShapeString {
		for _, e := range f.Enum {
			def.Enum = append(def.Enum, e)
		}
		if f.Format == FormatURL {
			def.Format = "uri"
		}
		def.Pattern = f.Pattern
	}
	def.Minimum = f.Minimum
	def.Maximum = f.Maximum
	return def
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// compiledSchema is a ToolSchema checked and resolved at registration.
type compiledSchema struct {
	ToolSchema
	index   map[string]int
	keyword *jsonschema.Schema
}

func (c *compiledSchema) field(name string) (Field, bool) {
	i, ok := c.index[name]
	if !ok {
		return Field{}, false
	}
	return c.Fields[i], true
}

func compileSchema(s ToolSchema) (*compiledSchema, error) {
	if !identRE.MatchString(s.Name) {
		return nil, fmt.Errorf("invalid tool name %q", s.Name)
	}
	if err := checkFields(s.Name, s.Fields); err != nil {
		return nil, err
	}
	index := make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		index[f.Name] = i
	}
	keyword, err := compileKeywordSchema(s)
	if err != nil {
		return nil, fmt.Errorf("tool %s: failed to compile schema: %w", s.Name, err)
	}
	c := &compiledSchema{ToolSchema: s, index: index, keyword: keyword}
	c.Fields = slices.Clone(s.Fields)
	return c, nil
}

func checkFields(path string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !identRE.MatchString(f.Name) {
			return fmt.Errorf("%s: invalid field name %q", path, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s: duplicate field %q", path, f.Name)
		}
		seen[f.Name] = true
		if len(f.Fields) > 0 && !f.Shape.structural() {
			return fmt.Errorf("%s.%s: nested fields require an array or object shape", path, f.Name)
		}
		if f.MinItems < 0 || f.MaxItems < 0 || (f.MaxItems > 0 && f.MaxItems < f.MinItems) {
			return fmt.Errorf("%s.%s: invalid item bounds", path, f.Name)
		}
		if f.Shape == ShapeArray && !identRE.MatchString(f.itemTag()) {
			return fmt.Errorf("%s.%s: invalid item tag %q", path, f.Name, f.ItemTag)
		}
		if (len(f.Enum) > 0 || f.Format != FormatNone || f.Pattern != "") && f.Shape != ShapeString {
			return fmt.Errorf("%s.%s: enum, format and pattern apply to string fields only", path, f.Name)
		}
		if f.Decoder != nil && !f.Shape.structural() {
			return fmt.Errorf("%s.%s: decoders apply to array and object fields only", path, f.Name)
		}
		if err := checkFields(path+"."+f.Name, f.Fields); err != nil {
			return err
		}
	}
	return nil
}

var errNilSchema = errors.New("compiled schema is nil")

// compileKeywordSchema compiles the exported definition with format assertions on. The
// validator uses it for keywords it does not check itself (pattern, minimum, maximum...).
func compileKeywordSchema(s ToolSchema) (*jsonschema.Schema, error) {
	data, err := json.Marshal(s.Definition())
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	url := "https://toolwire.local/tools/" + s.Name + ".json"
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	if sch == nil {
		return nil, errNilSchema
	}
	return sch, nil
}
