package wasm

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/wavmio/wavm/api"
)

var (
	ctxType       = reflect.TypeOf((*context.Context)(nil)).Elem()
	apiModuleType = reflect.TypeOf((*api.Module)(nil)).Elem()
)

// ParseGoFunc derives a wasm signature from a Go function.
//
// The Go signature may begin with a context.Context and then an api.Module
// parameter, neither visible in the wasm signature. Remaining parameters and
// all results must be uint32, int32, uint64, int64, float32 or float64.
func ParseGoFunc(fn interface{}) (*reflect.Value, *FunctionType, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, nil, fmt.Errorf("host function must be a func, but was %s", t.Kind())
	}

	pOffset := 0
	if t.NumIn() > 0 && t.In(0).Implements(ctxType) {
		pOffset++
	}
	if t.NumIn() > pOffset && t.In(pOffset).Implements(apiModuleType) {
		pOffset++
	}

	ft := &FunctionType{}
	for i := pOffset; i < t.NumIn(); i++ {
		vt, ok := goTypeToValueType(t.In(i).Kind())
		if !ok {
			return nil, nil, fmt.Errorf("param[%d] is unsupported as a host function parameter: %s", i, t.In(i).Kind())
		}
		ft.Params = append(ft.Params, vt)
	}
	for i := 0; i < t.NumOut(); i++ {
		vt, ok := goTypeToValueType(t.Out(i).Kind())
		if !ok {
			return nil, nil, fmt.Errorf("result[%d] is unsupported as a host function result: %s", i, t.Out(i).Kind())
		}
		ft.Results = append(ft.Results, vt)
	}
	return &v, ft, nil
}

func goTypeToValueType(k reflect.Kind) (ValueType, bool) {
	switch k {
	case reflect.Uint32, reflect.Int32:
		return ValueTypeI32, true
	case reflect.Uint64, reflect.Int64:
		return ValueTypeI64, true
	case reflect.Float32:
		return ValueTypeF32, true
	case reflect.Float64:
		return ValueTypeF64, true
	}
	return 0, false
}

// CallGoFunc transfers control to a host Go function, converting the encoded
// parameters to the Go representation and the Go results back.
//
// A panic in the host function propagates to the engine, which wraps it the
// same way as a guest trap.
func CallGoFunc(ctx context.Context, callCtx *CallContext, f *FunctionInstance, params []uint64) []uint64 {
	t := f.GoFunc.Type()

	in := make([]reflect.Value, 0, t.NumIn())
	i := 0
	if t.NumIn() > 0 && t.In(0).Implements(ctxType) {
		in = append(in, reflect.ValueOf(ctx))
		i++
	}
	if t.NumIn() > i && t.In(i).Implements(apiModuleType) {
		in = append(in, reflect.ValueOf(callCtx))
		i++
	}
	for pi := 0; i < t.NumIn(); i, pi = i+1, pi+1 {
		raw := params[pi]
		val := reflect.New(t.In(i)).Elem()
		switch t.In(i).Kind() {
		case reflect.Uint32, reflect.Uint64:
			val.SetUint(raw)
		case reflect.Int32:
			val.SetInt(int64(api.DecodeI32(raw)))
		case reflect.Int64:
			val.SetInt(int64(raw))
		case reflect.Float32:
			val.SetFloat(float64(api.DecodeF32(raw)))
		case reflect.Float64:
			val.SetFloat(api.DecodeF64(raw))
		}
		in = append(in, val)
	}

	out := f.GoFunc.Call(in)
	results := make([]uint64, len(out))
	for oi, ret := range out {
		switch ret.Kind() {
		case reflect.Uint32, reflect.Uint64:
			results[oi] = ret.Uint()
		case reflect.Int32:
			results[oi] = api.EncodeI32(int32(ret.Int()))
		case reflect.Int64:
			results[oi] = uint64(ret.Int())
		case reflect.Float32:
			results[oi] = uint64(math.Float32bits(float32(ret.Float())))
		case reflect.Float64:
			results[oi] = math.Float64bits(ret.Float())
		}
	}
	return results
}
