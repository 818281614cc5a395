package toolwire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
)

// FieldsFor derives a field list from the exported fields of struct type T, using the same
// struct tags the LLM-facing schema is generated from:
//
//	type Args struct {
//	    URL   string   `json:"url" jsonschema:"format=uri,description=Page to fetch"`
//	    Paths []string `json:"paths" jsonschema:"minItems=1" jsonschema_extras:"x-item-tag=path"`
//	}
//
// Fields without omitempty are required. The x-item-tag extra overrides the repeating
// element name and x-unescape=true enables leaf decoding on a string field.
func FieldsFor[T any]() ([]Field, error) {
	typ := reflect.TypeFor[T]()
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("fields for %s: expected a struct type", typ)
	}
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	data, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		return nil, err
	}
	return fieldsFromSchema(gjson.ParseBytes(data))
}

func fieldsFromSchema(obj gjson.Result) ([]Field, error) {
	var required []string
	for _, r := range obj.Get("required").Array() {
		required = append(required, r.String())
	}
	var fields []Field
	var err error
	obj.Get("properties").ForEach(func(key, prop gjson.Result) bool {
		var f Field
		f, err = fieldFromSchema(key.String(), prop)
		if err != nil {
			return false
		}
		f.Required = slices.Contains(required, f.Name)
		fields = append(fields, f)
		return true
	})
	return fields, err
}

func fieldFromSchema(name string, prop gjson.Result) (Field, error) {
	f := Field{
		Name:        name,
		Description: prop.Get("description").String(),
		Pattern:     prop.Get("pattern").String(),
		ItemTag:     prop.Get("x-item-tag").String(),
		Unescape:    strings.EqualFold(prop.Get("x-unescape").String(), "true"),
	}
	switch typ := prop.Get("type").String(); typ {
	case "string":
		f.Shape = ShapeString
	case "number", "integer":
		f.Shape = ShapeNumber
	case "boolean":
		f.Shape = ShapeBoolean
	case "array":
		f.Shape = ShapeArray
		f.MinItems = int(prop.Get("minItems").Int())
		f.MaxItems = int(prop.Get("maxItems").Int())
		items := prop.Get("items")
		if items.Get("type").String() == "object" {
			sub, err := fieldsFromSchema(items)
			if err != nil {
				return Field{}, err
			}
			f.Fields = sub
		}
	case "object":
		f.Shape = ShapeObject
		sub, err := fieldsFromSchema(prop)
		if err != nil {
			return Field{}, err
		}
		f.Fields = sub
	default:
		return Field{}, fmt.Errorf("field %s: unsupported schema type %q", name, typ)
	}
	for _, e := range prop.Get("enum").Array() {
		f.Enum = append(f.Enum, e.String())
	}
	if format := prop.Get("format").String(); format == "uri" || format == "url" {
		f.Format = FormatURL
	}
	if v := prop.Get("minimum"); v.Exists() {
		n := v.Float()
		f.Minimum = &n
	}
	if v := prop.Get("maximum"); v.Exists() {
		n := v.Float()
		f.Maximum = &n
	}
	return f, nil
}
