package script

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dop251/goja"
	"github.com/samber/lo"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/scope"
)

// jsBridge converts between host values and goja values for one invocation.
type jsBridge struct {
	vm        *goja.Runtime
	b         *scope.Bindings
	sentinels map[*marshal.Sentinel]*goja.Object
}

// throw raises err as a JavaScript exception after the effects have seen it.
func (br *jsBridge) throw(err error) {
	panic(br.vm.NewGoError(br.b.Effects.Check(err)))
}

func (br *jsBridge) fn(f func(call goja.FunctionCall) goja.Value) goja.Value {
	return br.vm.ToValue(f)
}

func (br *jsBridge) toJS(v any) goja.Value {
	vm := br.vm
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return val
	case []byte:
		return vm.ToValue(vm.NewArrayBuffer(val))
	case marshal.Decimal, marshal.Date, marshal.Datetime, marshal.Time:
		return vm.NewDynamicObject(&jsHostValue{br: br, v: val})
	case *marshal.MapView:
		return vm.NewDynamicObject(&jsMap{br: br, view: val})
	case *marshal.ListView:
		return vm.NewDynamicArray(&jsList{br: br, view: val})
	case *marshal.FieldRef:
		return vm.NewDynamicObject(&jsFieldRef{br: br, ref: val})
	case *marshal.Sentinel:
		return br.sentinels[val]
	case *scope.RecordView:
		return vm.NewDynamicObject(&jsRecord{br: br, view: val})
	case []string:
		return vm.NewArray(lo.ToAnySlice(val)...)
	case map[string]string:
		obj := vm.NewObject()
		keys := lo.Keys(val)
		slices.Sort(keys)
		for _, k := range keys {
			_ = obj.Set(k, val[k])
		}
		return obj
	}
	return vm.ToValue(v)
}

func (br *jsBridge) fromJS(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export(), nil
	}
	switch impl := obj.Export().(type) {
	case *jsMap:
		return impl.view, nil
	case *jsList:
		return impl.view, nil
	case *jsRecord:
		return impl.view, nil
	case *jsFieldRef:
		return impl.ref, nil
	case *jsSentinel:
		return impl.s, nil
	case *jsHostValue:
		return impl.v, nil
	case time.Time:
		return impl, nil
	case goja.ArrayBuffer:
		return impl.Bytes(), nil
	case []byte:
		return impl, nil
	}
	switch obj.ClassName() {
	case "Array":
		n := int(obj.Get("length").ToInteger())
		items := make([]any, n)
		for i := 0; i < n; i++ {
			item, err := br.fromJS(obj.Get(strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case "Function":
		return nil, marshal.Errorf("", "unsupported javascript value: function")
	}
	keys := obj.Keys()
	pairs := make([]marshal.Pair, 0, len(keys))
	for _, k := range keys {
		item, err := br.fromJS(obj.Get(k))
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, marshal.Pair{Key: k, Value: item})
	}
	return pairs, nil
}

func (br *jsBridge) set(v goja.Value, store func(any) error) bool {
	host, err := br.fromJS(v)
	if err == nil {
		err = store(host)
	}
	if err != nil {
		br.throw(err)
	}
	return true
}

// jsSentinel is the JavaScript face of a typed null; one object per engine
// and type, so === compares identity.
type jsSentinel struct {
	vm *goja.Runtime
	s  *marshal.Sentinel
}

func (o *jsSentinel) Get(key string) goja.Value {
	switch key {
	case "name":
		return o.vm.ToValue(o.s.Name())
	case "toString":
		return o.vm.ToValue(func(goja.FunctionCall) goja.Value { return o.vm.ToValue(o.s.Name()) })
	}
	return nil
}

func (o *jsSentinel) Set(string, goja.Value) bool { return false }

func (o *jsSentinel) Has(key string) bool { return key == "name" }

func (o *jsSentinel) Delete(string) bool { return false }

func (o *jsSentinel) Keys() []string { return []string{"name"} }

// jsHostValue carries DECIMAL and the date types.
type jsHostValue struct {
	br *jsBridge
	v  any
}

func (o *jsHostValue) Get(key string) goja.Value {
	br := o.br
	switch key {
	case "toString", "toJSON":
		return br.fn(func(goja.FunctionCall) goja.Value { return br.vm.ToValue(fmt.Sprint(o.v)) })
	case "valueOf":
		return br.fn(func(goja.FunctionCall) goja.Value {
			if d, ok := o.v.(marshal.Decimal); ok {
				return br.vm.ToValue(d.InexactFloat64())
			}
			return br.vm.ToValue(hostTime(o.v).UnixMilli())
		})
	case "getTime":
		if _, ok := o.v.(marshal.Decimal); ok {
			return nil
		}
		return br.fn(func(goja.FunctionCall) goja.Value { return br.vm.ToValue(hostTime(o.v).UnixMilli()) })
	case "toDate":
		if _, ok := o.v.(marshal.Decimal); ok {
			return nil
		}
		return br.fn(func(goja.FunctionCall) goja.Value {
			date, err := br.vm.New(br.vm.Get("Date"), br.vm.ToValue(hostTime(o.v).UnixMilli()))
			if err != nil {
				panic(br.vm.NewGoError(err))
			}
			return date
		})
	}
	return nil
}

func (o *jsHostValue) Set(string, goja.Value) bool { return false }

func (o *jsHostValue) Has(string) bool { return false }

func (o *jsHostValue) Delete(string) bool { return false }

func (o *jsHostValue) Keys() []string { return nil }

// jsMap is a live MAP or ORDERED_MAP; property order follows the map.
type jsMap struct {
	br   *jsBridge
	view *marshal.MapView
}

func (o *jsMap) Get(key string) goja.Value {
	v, ok := o.view.Get(key)
	if !ok {
		return nil
	}
	return o.br.toJS(v)
}

func (o *jsMap) Set(key string, val goja.Value) bool {
	return o.br.set(val, func(v any) error { return o.view.Set(key, v) })
}

func (o *jsMap) Has(key string) bool { return o.view.Has(key) }

func (o *jsMap) Delete(key string) bool {
	o.view.Delete(key)
	return true
}

func (o *jsMap) Keys() []string { return o.view.Keys() }

// jsList is a live LIST. Writing at the length appends.
type jsList struct {
	br   *jsBridge
	view *marshal.ListView
}

func (o *jsList) Len() int { return o.view.Len() }

func (o *jsList) Get(idx int) goja.Value {
	if idx < 0 || idx >= o.view.Len() {
		return nil
	}
	v, err := o.view.Get(idx)
	if err != nil {
		return nil
	}
	return o.br.toJS(v)
}

func (o *jsList) Set(idx int, val goja.Value) bool {
	switch {
	case idx >= 0 && idx < o.view.Len():
		return o.br.set(val, func(v any) error { return o.view.Set(idx, v) })
	case idx == o.view.Len():
		return o.br.set(val, o.view.Append)
	}
	return false
}

func (o *jsList) SetLen(n int) bool {
	if n > o.view.Len() || n < 0 {
		return false
	}
	for o.view.Len() > n {
		if _, err := o.view.Remove(o.view.Len() - 1); err != nil {
			return false
		}
	}
	return true
}

// jsFieldRef is a field handle.
type jsFieldRef struct {
	br  *jsBridge
	ref *marshal.FieldRef
}

var fieldRefKeys = []string{"type", "value"}

func (o *jsFieldRef) Get(key string) goja.Value {
	br, ref := o.br, o.ref
	switch key {
	case "type":
		return br.vm.ToValue(ref.Type())
	case "value":
		return br.toJS(ref.Value())
	case "isNull":
		return br.fn(func(goja.FunctionCall) goja.Value { return br.vm.ToValue(ref.IsNull()) })
	case "getAttribute":
		return br.fn(func(call goja.FunctionCall) goja.Value {
			return br.toJS(ref.GetAttribute(call.Argument(0).String()))
		})
	case "setAttribute":
		return br.fn(func(call goja.FunctionCall) goja.Value {
			ref.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		})
	case "removeAttribute":
		return br.fn(func(call goja.FunctionCall) goja.Value {
			ref.RemoveAttribute(call.Argument(0).String())
			return goja.Undefined()
		})
	case "attributeNames":
		return br.fn(func(goja.FunctionCall) goja.Value { return br.toJS(ref.AttributeNames()) })
	case "toString":
		return br.fn(func(goja.FunctionCall) goja.Value { return br.vm.ToValue(ref.String()) })
	}
	return nil
}

func (o *jsFieldRef) Set(string, goja.Value) bool { return false }

func (o *jsFieldRef) Has(key string) bool { return lo.Contains(fieldRefKeys, key) }

func (o *jsFieldRef) Delete(string) bool { return false }

func (o *jsFieldRef) Keys() []string { return fieldRefKeys }

// jsRecord is the script view of one record.
type jsRecord struct {
	br   *jsBridge
	view *scope.RecordView
}

var recordKeys = []string{"id", "value", "attributes", "sdcRecord"}

func (o *jsRecord) Get(key string) goja.Value {
	br := o.br
	switch key {
	case "id":
		return br.vm.ToValue(o.view.ID())
	case "value":
		return br.toJS(o.view.Value())
	case "attributes":
		return br.vm.NewDynamicObject(&jsAttributes{br: br, attrs: o.view.Attributes()})
	case "sdcRecord":
		return br.sdcRecordObject(o.view.SdcRecord())
	}
	return nil
}

func (o *jsRecord) Set(key string, val goja.Value) bool {
	if key != "value" {
		return false
	}
	return o.br.set(val, o.view.SetValue)
}

func (o *jsRecord) Has(key string) bool { return lo.Contains(recordKeys, key) }

func (o *jsRecord) Delete(string) bool { return false }

func (o *jsRecord) Keys() []string { return recordKeys }

// jsAttributes exposes header attributes as properties; remove(name) deletes one.
type jsAttributes struct {
	br    *jsBridge
	attrs *scope.Attributes
}

func (o *jsAttributes) Get(key string) goja.Value {
	if key == "remove" {
		return o.br.fn(func(call goja.FunctionCall) goja.Value {
			o.attrs.Remove(call.Argument(0).String())
			return goja.Undefined()
		})
	}
	if v, ok := o.attrs.Get(key); ok {
		return o.br.vm.ToValue(v)
	}
	return nil
}

func (o *jsAttributes) Set(key string, val goja.Value) bool {
	if goja.IsUndefined(val) || goja.IsNull(val) {
		o.attrs.Remove(key)
		return true
	}
	o.attrs.Set(key, val.String())
	return true
}

func (o *jsAttributes) Has(key string) bool { return o.attrs.Has(key) }

func (o *jsAttributes) Delete(key string) bool {
	o.attrs.Remove(key)
	return true
}

func (o *jsAttributes) Keys() []string { return o.attrs.Keys() }

// jsState stores goja values as they are.
type jsState struct {
	state *scope.State
}

func (o *jsState) Get(key string) goja.Value {
	v, ok := o.state.Get(key)
	if !ok {
		return nil
	}
	if jv, ok := v.(goja.Value); ok {
		return jv
	}
	return nil
}

func (o *jsState) Set(key string, val goja.Value) bool {
	o.state.Set(key, val)
	return true
}

func (o *jsState) Has(key string) bool { return o.state.Has(key) }

func (o *jsState) Delete(key string) bool {
	o.state.Delete(key)
	return true
}

func (o *jsState) Keys() []string { return o.state.Keys() }

func (br *jsBridge) sdcRecordObject(rec *scope.SdcRecord) goja.Value {
	vm := br.vm
	obj := vm.NewObject()
	_ = obj.Set("id", rec.ID())
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		ref, err := rec.Get(call.Argument(0).String())
		if err != nil {
			br.throw(err)
		}
		if ref == nil {
			return goja.Undefined()
		}
		return br.toJS(ref)
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		br.set(call.Argument(1), func(v any) error { return rec.Set(path, v) })
		return goja.Undefined()
	})
	_ = obj.Set("has", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(rec.Has(call.Argument(0).String()))
	})
	_ = obj.Set("delete", func(call goja.FunctionCall) goja.Value {
		v, err := rec.Delete(call.Argument(0).String())
		if err != nil {
			br.throw(err)
		}
		return br.toJS(v)
	})
	_ = obj.Set("getFieldPaths", func(goja.FunctionCall) goja.Value {
		return br.toJS(rec.GetFieldPaths())
	})
	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		return br.toJS(rec.GetAttribute(call.Argument(0).String()))
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		rec.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	return obj
}
