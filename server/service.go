package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService scans rcvr for exported methods of the form
//
//	func (r *T) Name(args *A, reply *R) error
//
// Each one is exposed under the lowerCamel wire name ("GetState" → "getState").
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: receiver must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	s := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	s.registerMethods()
	if len(s.method) == 0 {
		return nil, fmt.Errorf("server: %s has no exported methods of the form (args *A, reply *R) error", s.name)
	}
	return s, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}
		s.method[wireName(method.Name)] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

func wireName(goName string) string {
	r, size := utf8.DecodeRuneInString(goName)
	return string(unicode.ToLower(r)) + goName[size:]
}

// handler adapts one reflected method to a Handler. A slice or array argument takes
// the whole params array; any other argument takes its first element.
func (s *service) handler(mt *methodType) Handler {
	return func(ctx context.Context, sess *Session, params json.RawMessage) (any, error) {
		argv := reflect.New(mt.ArgType)
		if err := decodeArgs(params, mt.ArgType, argv.Interface()); err != nil {
			return nil, &InvalidParamsError{Err: err}
		}
		replyv := reflect.New(mt.ReplyType)

		results := mt.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
		if err, _ := results[0].Interface().(error); err != nil {
			return nil, err
		}
		return replyv.Interface(), nil
	}
}

func decodeArgs(params json.RawMessage, typ reflect.Type, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if typ.Kind() == reflect.Slice || typ.Kind() == reflect.Array {
		return json.Unmarshal(params, dst)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(params, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return json.Unmarshal(items[0], dst)
}
