package toolwire

import (
	"context"
	"errors"
	"reflect"
)

// Validatable is implemented by argument structs that need business validation beyond the
// schema. It runs after the parameters are decoded into the struct.
type Validatable interface {
	Validate() error
}

// NewHandler builds a Handler from a typed function. Validated params are decoded into T,
// Validatable runs if T implements it, and fn's result becomes the success payload.
// A Validate error is reported as a Validation failure; an fn error goes to the dispatcher.
func NewHandler[T any, R any](fn func(ctx context.Context, args T) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, call ValidatedCall) (Outcome, error) {
		var args T
		if err := call.Params.Decode(&args); err != nil {
			return Failure(KindValidation, "could not decode parameters: "+err.Error(),
				"check the parameter types against the tool description"), nil
		}
		if err := validateArgs(args); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return Outcome{Failure: &ErrorDetail{
					Kind: KindValidation, Message: ve.Message, Hint: ve.Hint, FieldPath: ve.FieldPath,
				}}, nil
			}
			return Failure(KindValidation, err.Error(), ""), nil
		}
		res, err := fn(ctx, args)
		if err != nil {
			return Outcome{}, err
		}
		return Success(res), nil
	})
}

// NewTool derives the schema of T with FieldsFor and pairs it with NewHandler(fn).
//
//	schema, h, err := toolwire.NewTool("weather", "Get weather", func(_ context.Context, a Args) (Out, error) {
//	    return Out{Temp: 22.5}, nil
//	})
//	if err != nil { ... }
//	reg.Register(schema, h)
func NewTool[T any, R any](name, description string, fn func(ctx context.Context, args T) (R, error)) (ToolSchema, Handler, error) {
	fields, err := FieldsFor[T]()
	if err != nil {
		return ToolSchema{}, nil, err
	}
	return ToolSchema{Name: name, Description: description, Fields: fields}, NewHandler(fn), nil
}

// validateArgs runs Validatable on args; if args does not implement it, it tries &args for
// value types (pointer receiver). Validate is never called twice.
func validateArgs[T any](args T) error {
	if v, ok := any(args).(Validatable); ok {
		return v.Validate()
	}
	typ := reflect.TypeOf(args)
	if typ == nil || typ.Kind() == reflect.Pointer {
		return nil
	}
	if v, ok := any(&args).(Validatable); ok {
		return v.Validate()
	}
	return nil
}
