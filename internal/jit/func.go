package jit

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"unsafe"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Func returns a typed Go function that calls the generated function name.
// F must be a func type whose parameters and result are integers, bool,
// float64, uintptr, unsafe.Pointer or pointers. A leading context.Context
// parameter is passed to the machine. When the last result is error it
// receives execution faults; otherwise a fault panics.
//
// The generated function's signature is not checked against F.
func Func[F any](ctx context.Context, e *Engine, name string) (F, error) {
	var zero F
	ft := reflect.TypeFor[F]()
	if ft.Kind() != reflect.Func {
		return zero, fmt.Errorf("jit: Func type %s is not a function", ft)
	}
	sig, err := parseSignature(ft)
	if err != nil {
		return zero, err
	}
	sym, err := e.Lookup(ctx, name)
	if err != nil {
		return zero, err
	}
	fn := reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		callCtx := context.Background()
		if sig.withContext {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				callCtx = c
			}
			in = in[1:]
		}
		args := make([]uint64, len(in))
		for i, v := range in {
			args[i] = toRegister(v)
		}
		ret, err := e.CallAddress(callCtx, sym.Addr, args...)
		if err != nil && !sig.withError {
			panic(fmt.Errorf("jit: %s: %w", name, err))
		}
		out := make([]reflect.Value, 0, 2)
		if sig.result != nil {
			if err != nil {
				out = append(out, reflect.Zero(sig.result))
			} else {
				out = append(out, fromRegister(ret, sig.result))
			}
		}
		if sig.withError {
			ev := reflect.Zero(errorType)
			if err != nil {
				ev = reflect.ValueOf(&err).Elem()
			}
			out = append(out, ev)
		}
		return out
	})
	return fn.Interface().(F), nil
}

type signature struct {
	withContext bool
	withError   bool
	result      reflect.Type
}

func parseSignature(ft reflect.Type) (signature, error) {
	var sig signature
	for i := range ft.NumIn() {
		t := ft.In(i)
		if i == 0 && t == contextType {
			sig.withContext = true
			continue
		}
		if !supported(t) {
			return sig, fmt.Errorf("jit: parameter %d of %s: unsupported type %s", i, ft, t)
		}
	}
	if ft.IsVariadic() {
		return sig, fmt.Errorf("jit: variadic %s", ft)
	}
	n := ft.NumOut()
	if n > 0 && ft.Out(n-1) == errorType {
		sig.withError = true
		n--
	}
	switch n {
	case 0:
	case 1:
		sig.result = ft.Out(0)
		if !supported(sig.result) {
			return sig, fmt.Errorf("jit: result of %s: unsupported type %s", ft, sig.result)
		}
	default:
		return sig, fmt.Errorf("jit: %s has more than one value result", ft)
	}
	return sig, nil
}

func supported(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float64, reflect.Pointer, reflect.UnsafePointer:
		return true
	}
	return false
}

func toRegister(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(v.Int()) //nolint:gosec // registers hold two's complement bits
	case reflect.Float64:
		return math.Float64bits(v.Float())
	case reflect.Pointer, reflect.UnsafePointer:
		return uint64(v.Pointer())
	}
	return v.Uint()
}

//go:nocheckptr
func fromRegister(r uint64, t reflect.Type) reflect.Value {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		v.SetBool(r&1 == 1)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(int64(r)) //nolint:gosec // registers hold two's complement bits
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(r))
	case reflect.Pointer:
		v = reflect.NewAt(t.Elem(), unsafe.Pointer(uintptr(r))).Convert(t) //nolint:govet // address produced by generated code
	case reflect.UnsafePointer:
		v.SetPointer(unsafe.Pointer(uintptr(r))) //nolint:govet // address produced by generated code
	default:
		v.SetUint(r)
	}
	return v
}
