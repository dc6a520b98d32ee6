package proxy

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"mesh-rpc/endpoint"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// MethodInfo describes one callable RPC method of a reference.
type MethodInfo struct {
	Method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// ReflectFactory builds invokers by scanning the reference's exported
// methods. A method is callable when it has the shape
// func (recv) Name(args *A, reply *R) error.
type ReflectFactory struct{}

// NewReflectFactory returns the default proxy factory.
func NewReflectFactory() *ReflectFactory { return &ReflectFactory{} }

func (f *ReflectFactory) GetInvoker(ref any, iface string, d endpoint.Descriptor) (Invoker, error) {
	methods, err := ScanMethods(ref)
	if err != nil {
		return nil, err
	}
	return &reflectInvoker{
		iface:   iface,
		url:     d,
		rcvr:    reflect.ValueOf(ref),
		methods: methods,
	}, nil
}

type reflectInvoker struct {
	iface   string
	url     endpoint.Descriptor
	rcvr    reflect.Value
	methods map[string]*MethodInfo
}

func (inv *reflectInvoker) Interface() string        { return inv.iface }
func (inv *reflectInvoker) URL() endpoint.Descriptor { return inv.url }

func (inv *reflectInvoker) Invoke(_ context.Context, method string, args, reply any) error {
	mt, ok := inv.methods[method]
	if !ok {
		return fmt.Errorf("proxy: %s has no method %s", inv.iface, method)
	}
	in := [3]reflect.Value{inv.rcvr, reflect.ValueOf(args), reflect.ValueOf(reply)}
	out := mt.Method.Func.Call(in[:])
	if !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

// Introspector is implemented by invokers that can describe the concrete
// argument and reply types of their methods. Transports use it to decode
// request payloads into the right values.
type Introspector interface {
	Methods() map[string]*MethodInfo
}

// Methods implements Introspector.
func (inv *reflectInvoker) Methods() map[string]*MethodInfo { return inv.methods }

// MethodsOf returns inv's method table, or nil when inv (or the invoker it
// wraps) is not introspectable. Wrapping invokers forward through this so
// introspection survives decoration.
func MethodsOf(inv Invoker) map[string]*MethodInfo {
	if in, ok := inv.(Introspector); ok {
		return in.Methods()
	}
	return nil
}

// ScanMethods collects the callable RPC methods of ref, keyed by name.
func ScanMethods(ref any) (map[string]*MethodInfo, error) {
	if ref == nil {
		return nil, fmt.Errorf("proxy: ref must not be nil")
	}
	typ := reflect.TypeOf(ref)
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("proxy: ref must be a pointer to struct, got %s", typ)
	}
	methods := make(map[string]*MethodInfo)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 3 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1).Kind() != reflect.Pointer || mt.In(2).Kind() != reflect.Pointer {
			continue
		}
		methods[method.Name] = &MethodInfo{
			Method:    method,
			ArgType:   mt.In(1).Elem(),
			ReplyType: mt.In(2).Elem(),
		}
	}
	return methods, nil
}

// MethodNames returns the sorted callable method names of ref. An empty
// result is legal; the caller decides whether that is an error.
func MethodNames(ref any) ([]string, error) {
	methods, err := ScanMethods(ref)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// MethodArgTypes maps each callable method of ref to the type names of its
// declared arguments, used to resolve argument-level config overrides.
func MethodArgTypes(ref any) (map[string][]string, error) {
	methods, err := ScanMethods(ref)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(methods))
	for name, mt := range methods {
		out[name] = []string{mt.ArgType.String(), mt.ReplyType.String()}
	}
	return out, nil
}

// Implements reports whether ref satisfies the given interface type. iface
// must be a reflect.Type of kind Interface.
func Implements(ref any, iface reflect.Type) bool {
	if ref == nil || iface == nil || iface.Kind() != reflect.Interface {
		return false
	}
	return reflect.TypeOf(ref).Implements(iface)
}

// HasMethods reports the first named method ref does not expose, if any.
func HasMethods(ref any, names []string) (string, bool) {
	methods, err := ScanMethods(ref)
	if err != nil {
		return "", false
	}
	for _, name := range names {
		if _, ok := methods[name]; !ok {
			return name, false
		}
	}
	return "", true
}
