package jsonrpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrNotFunction         = errors.New("not a function")
	ErrMustReturnError     = errors.New("function must return error as a last return value")
	ErrMustHaveContext     = errors.New("function must have context.Context as a first argument")
	ErrTooManyReturnValues = errors.New("too many return values")

	ErrInvalidParams = errors.New("invalid params")
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// methodHandler is a function of the form
// func(ctx context.Context, params...) ([result,] error)
type methodHandler struct {
	fn        reflect.Value
	params    []reflect.Type
	hasResult bool
}

func newMethodHandler(fn interface{}) (methodHandler, error) {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return methodHandler{}, ErrNotFunction
	}
	if fnType.NumIn() == 0 || fnType.In(0) != contextType {
		return methodHandler{}, ErrMustHaveContext
	}

	switch numOut := fnType.NumOut(); {
	case numOut == 0 || !fnType.Out(numOut-1).Implements(errorType):
		return methodHandler{}, ErrMustReturnError
	case numOut > 2:
		return methodHandler{}, ErrTooManyReturnValues
	}

	params := make([]reflect.Type, 0, fnType.NumIn()-1)
	for i := 1; i < fnType.NumIn(); i++ {
		params = append(params, fnType.In(i))
	}
	return methodHandler{
		fn:        reflect.ValueOf(fn),
		params:    params,
		hasResult: fnType.NumOut() == 2,
	}, nil
}

// decodeParams unmarshals positional params. Missing trailing params are zero values.
func (h methodHandler) decodeParams(raw []json.RawMessage) ([]reflect.Value, error) {
	if len(raw) > len(h.params) {
		return nil, fmt.Errorf("%w: expected at most %d, got %d", ErrInvalidParams, len(h.params), len(raw))
	}

	args := make([]reflect.Value, len(h.params))
	for i, paramType := range h.params {
		arg := reflect.New(paramType)
		if i < len(raw) {
			if err := json.Unmarshal(raw[i], arg.Interface()); err != nil {
				return nil, fmt.Errorf("%w: param %d: %s", ErrInvalidParams, i, err.Error())
			}
		}
		args[i] = arg.Elem()
	}
	return args, nil
}

func (h methodHandler) call(ctx context.Context, raw []json.RawMessage) (any, error) {
	args, err := h.decodeParams(raw)
	if err != nil {
		return nil, err
	}
	results := h.fn.Call(append([]reflect.Value{reflect.ValueOf(ctx)}, args...))

	var callErr error
	if errValue := results[len(results)-1]; !errValue.IsNil() {
		callErr, _ = errValue.Interface().(error)
	}
	if !h.hasResult {
		return nil, callErr
	}
	return results[0].Interface(), callErr
}
