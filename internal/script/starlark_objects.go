package script

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/scope"
)

// starBridge converts between host values and Starlark values for one invocation.
type starBridge struct {
	b         *scope.Bindings
	sentinels map[*marshal.Sentinel]*starSentinel
}

func (br *starBridge) check(err error) error {
	if err == nil {
		return nil
	}
	return br.b.Effects.Check(err)
}

func (br *starBridge) toStar(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return val
	case string:
		return starlark.String(val)
	case int64:
		return starlark.MakeInt64(val)
	case int:
		return starlark.MakeInt(val)
	case float64:
		return starlark.Float(val)
	case bool:
		return starlark.Bool(val)
	case []byte:
		return starlark.Bytes(val)
	case marshal.Decimal, marshal.Date, marshal.Datetime, marshal.Time:
		return &starHostValue{v: val}
	case *marshal.MapView:
		return &starMap{br: br, view: val}
	case *marshal.ListView:
		return &starList{br: br, view: val}
	case *marshal.FieldRef:
		return &starFieldRef{br: br, ref: val}
	case *marshal.Sentinel:
		return br.sentinels[val]
	case *scope.RecordView:
		return &starRecord{br: br, view: val}
	case []string:
		return starlark.NewList(lo.Map(val, func(s string, _ int) starlark.Value { return starlark.String(s) }))
	case map[string]string:
		d := starlark.NewDict(len(val))
		keys := lo.Keys(val)
		slices.Sort(keys)
		for _, k := range keys {
			_ = d.SetKey(starlark.String(k), starlark.String(val[k]))
		}
		return d
	}
	return starlark.None
}

func (br *starBridge) fromStar(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, marshal.Errorf("", "integer %s overflows LONG", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Bytes:
		return []byte(val), nil
	case starlarktime.Time:
		return time.Time(val), nil
	case *starlark.List:
		return br.fromStarIterable(val)
	case starlark.Tuple:
		return br.fromStarIterable(val)
	case *starlark.Dict:
		pairs := make([]marshal.Pair, 0, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, marshal.Errorf("", "map keys must be strings, got %s", item[0].Type())
			}
			value, err := br.fromStar(item[1])
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, marshal.Pair{Key: key, Value: value})
		}
		return pairs, nil
	case *starHostValue:
		return val.v, nil
	case *starMap:
		return val.view, nil
	case *starList:
		return val.view, nil
	case *starFieldRef:
		return val.ref, nil
	case *starSentinel:
		return val.s, nil
	case *starRecord:
		return val.view, nil
	}
	return nil, marshal.Errorf("", "unsupported starlark value of type %s", v.Type())
}

func (br *starBridge) fromStarIterable(seq starlark.Iterable) (any, error) {
	var out []any
	iter := seq.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		v, err := br.fromStar(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

func (br *starBridge) builtin(name string, fn func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		v, err := fn(args, kwargs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), br.check(err))
		}
		return v, nil
	})
}

func (br *starBridge) module(name string, members starlark.StringDict) *starlarkstruct.Module {
	return &starlarkstruct.Module{Name: name, Members: members}
}

func unhashable(v starlark.Value) (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", v.Type())
}

func attrOf(names []string, name string, get func() starlark.Value) (starlark.Value, error) {
	if !lo.Contains(names, name) {
		return nil, nil
	}
	return get(), nil
}

// starIterator walks a snapshot of values.
type starIterator struct {
	items []starlark.Value
	i     int
}

func (it *starIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.items) {
		return false
	}
	*p = it.items[it.i]
	it.i++
	return true
}

func (it *starIterator) Done() {}

func stringValues(keys []string) []starlark.Value {
	return lo.Map(keys, func(k string, _ int) starlark.Value { return starlark.String(k) })
}

// starSentinel is one typed null; == between non-comparable values is identity.
type starSentinel struct {
	s *marshal.Sentinel
}

func (o *starSentinel) String() string        { return o.s.Name() }
func (o *starSentinel) Type() string          { return "null" }
func (o *starSentinel) Freeze()               {}
func (o *starSentinel) Truth() starlark.Bool  { return starlark.False }
func (o *starSentinel) Hash() (uint32, error) { return starlark.String(o.s.Name()).Hash() }

// starHostValue carries DECIMAL and the date types.
type starHostValue struct {
	v any
}

func (o *starHostValue) String() string       { return fmt.Sprint(o.v) }
func (o *starHostValue) Freeze()              {}
func (o *starHostValue) Truth() starlark.Bool { return starlark.True }

func (o *starHostValue) Type() string { return hostTypeName(o.v) }

func (o *starHostValue) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	eq := hostEqual(o.v, y.(*starHostValue).v)
	switch op {
	case syntax.EQL:
		return eq, nil
	case syntax.NEQ:
		return !eq, nil
	}
	return false, fmt.Errorf("%s %s %s not implemented", o.Type(), op, y.Type())
}

func (o *starHostValue) Hash() (uint32, error) { return starlark.String(o.String()).Hash() }

func (o *starHostValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "string":
		return starlark.String(o.String()), nil
	case "time":
		if _, ok := o.v.(marshal.Decimal); !ok {
			return starlarktime.Time(hostTime(o.v)), nil
		}
	}
	return nil, nil
}

func (o *starHostValue) AttrNames() []string { return []string{"string", "time"} }

// starMap is a live MAP or ORDERED_MAP with a dict-like surface.
type starMap struct {
	br   *starBridge
	view *marshal.MapView
}

var starMapMethods = []string{"get", "items", "keys", "pop", "values"}

func (o *starMap) String() string        { return o.view.String() }
func (o *starMap) Freeze()               {}
func (o *starMap) Truth() starlark.Bool  { return o.view.Len() > 0 }
func (o *starMap) Hash() (uint32, error) { return unhashable(o) }
func (o *starMap) Len() int              { return o.view.Len() }

func (o *starMap) Type() string {
	if o.view.Ordered() {
		return "ordered_map"
	}
	return "map"
}

func (o *starMap) Get(k starlark.Value) (starlark.Value, bool, error) {
	key, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("map keys must be strings, got %s", k.Type())
	}
	v, found := o.view.Get(key)
	if !found {
		return nil, false, nil
	}
	return o.br.toStar(v), true, nil
}

func (o *starMap) SetKey(k, v starlark.Value) error {
	key, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("map keys must be strings, got %s", k.Type())
	}
	host, err := o.br.fromStar(v)
	if err != nil {
		return o.br.check(err)
	}
	return o.br.check(o.view.Set(key, host))
}

func (o *starMap) Iterate() starlark.Iterator {
	return &starIterator{items: stringValues(o.view.Keys())}
}

func (o *starMap) Attr(name string) (starlark.Value, error) {
	br := o.br
	return attrOf(starMapMethods, name, func() starlark.Value {
		switch name {
		case "get":
			return br.builtin("get", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var key string
				var def starlark.Value = starlark.None
				if err := starlark.UnpackPositionalArgs("get", args, kwargs, 1, &key, &def); err != nil {
					return nil, err
				}
				if v, ok := o.view.Get(key); ok {
					return br.toStar(v), nil
				}
				return def, nil
			})
		case "keys":
			return br.builtin("keys", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				return starlark.NewList(stringValues(o.view.Keys())), nil
			})
		case "values":
			return br.builtin("values", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				var values []starlark.Value
				o.view.Each(func(_ string, v any) bool {
					values = append(values, br.toStar(v))
					return true
				})
				return starlark.NewList(values), nil
			})
		case "items":
			return br.builtin("items", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				var items []starlark.Value
				o.view.Each(func(k string, v any) bool {
					items = append(items, starlark.Tuple{starlark.String(k), br.toStar(v)})
					return true
				})
				return starlark.NewList(items), nil
			})
		default:
			return br.builtin("pop", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var key string
				var def starlark.Value
				if err := starlark.UnpackPositionalArgs("pop", args, kwargs, 1, &key, &def); err != nil {
					return nil, err
				}
				v, ok := o.view.Get(key)
				if !ok {
					if def != nil {
						return def, nil
					}
					return nil, fmt.Errorf("key %q not in map", key)
				}
				o.view.Delete(key)
				return br.toStar(v), nil
			})
		}
	})
}

func (o *starMap) AttrNames() []string { return starMapMethods }

// starList is a live LIST with a list-like surface.
type starList struct {
	br   *starBridge
	view *marshal.ListView
}

var starListMethods = []string{"append", "extend", "pop"}

func (o *starList) String() string        { return o.view.String() }
func (o *starList) Type() string          { return "list_field" }
func (o *starList) Freeze()               {}
func (o *starList) Truth() starlark.Bool  { return o.view.Len() > 0 }
func (o *starList) Hash() (uint32, error) { return unhashable(o) }
func (o *starList) Len() int              { return o.view.Len() }

func (o *starList) Index(i int) starlark.Value {
	v, err := o.view.Get(i)
	if err != nil {
		return starlark.None
	}
	return o.br.toStar(v)
}

func (o *starList) SetIndex(i int, v starlark.Value) error {
	host, err := o.br.fromStar(v)
	if err != nil {
		return o.br.check(err)
	}
	return o.br.check(o.view.Set(i, host))
}

func (o *starList) Iterate() starlark.Iterator {
	return &starIterator{items: lo.Map(o.view.Items(), func(v any, _ int) starlark.Value { return o.br.toStar(v) })}
}

func (o *starList) Attr(name string) (starlark.Value, error) {
	br := o.br
	return attrOf(starListMethods, name, func() starlark.Value {
		switch name {
		case "append":
			return br.builtin("append", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var item starlark.Value
				if err := starlark.UnpackPositionalArgs("append", args, kwargs, 1, &item); err != nil {
					return nil, err
				}
				host, err := br.fromStar(item)
				if err != nil {
					return nil, err
				}
				return starlark.None, o.view.Append(host)
			})
		case "extend":
			return br.builtin("extend", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var items starlark.Iterable
				if err := starlark.UnpackPositionalArgs("extend", args, kwargs, 1, &items); err != nil {
					return nil, err
				}
				hosts, err := br.fromStarIterable(items)
				if err != nil {
					return nil, err
				}
				for _, h := range hosts.([]any) {
					if err := o.view.Append(h); err != nil {
						return nil, err
					}
				}
				return starlark.None, nil
			})
		default:
			return br.builtin("pop", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				i := o.view.Len() - 1
				if err := starlark.UnpackPositionalArgs("pop", args, kwargs, 0, &i); err != nil {
					return nil, err
				}
				if i < 0 {
					i += o.view.Len()
				}
				v, err := o.view.Remove(i)
				if err != nil {
					return nil, err
				}
				return br.toStar(v), nil
			})
		}
	})
}

func (o *starList) AttrNames() []string { return starListMethods }

// starFieldRef is a field handle.
type starFieldRef struct {
	br  *starBridge
	ref *marshal.FieldRef
}

var starFieldRefAttrs = []string{"attributeNames", "getAttribute", "isNull", "removeAttribute", "setAttribute", "type", "value"}

func (o *starFieldRef) String() string        { return o.ref.String() }
func (o *starFieldRef) Type() string          { return "field" }
func (o *starFieldRef) Freeze()               {}
func (o *starFieldRef) Truth() starlark.Bool  { return !starlark.Bool(o.ref.IsNull()) }
func (o *starFieldRef) Hash() (uint32, error) { return unhashable(o) }

func (o *starFieldRef) Attr(name string) (starlark.Value, error) {
	br, ref := o.br, o.ref
	return attrOf(starFieldRefAttrs, name, func() starlark.Value {
		switch name {
		case "type":
			return starlark.String(ref.Type())
		case "value":
			return br.toStar(ref.Value())
		case "isNull":
			return br.builtin("isNull", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				return starlark.Bool(ref.IsNull()), nil
			})
		case "getAttribute":
			return br.builtin("getAttribute", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var attr string
				if err := starlark.UnpackPositionalArgs("getAttribute", args, kwargs, 1, &attr); err != nil {
					return nil, err
				}
				return br.toStar(ref.GetAttribute(attr)), nil
			})
		case "setAttribute":
			return br.builtin("setAttribute", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var attr, value string
				if err := starlark.UnpackPositionalArgs("setAttribute", args, kwargs, 2, &attr, &value); err != nil {
					return nil, err
				}
				ref.SetAttribute(attr, value)
				return starlark.None, nil
			})
		case "removeAttribute":
			return br.builtin("removeAttribute", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var attr string
				if err := starlark.UnpackPositionalArgs("removeAttribute", args, kwargs, 1, &attr); err != nil {
					return nil, err
				}
				ref.RemoveAttribute(attr)
				return starlark.None, nil
			})
		default:
			return br.builtin("attributeNames", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				return br.toStar(ref.AttributeNames()), nil
			})
		}
	})
}

func (o *starFieldRef) AttrNames() []string { return starFieldRefAttrs }

// starRecord is the script view of one record.
type starRecord struct {
	br   *starBridge
	view *scope.RecordView
}

var starRecordAttrs = []string{"attributes", "id", "sdcRecord", "value"}

func (o *starRecord) String() string        { return "record(" + o.view.ID() + ")" }
func (o *starRecord) Type() string          { return "record" }
func (o *starRecord) Freeze()               {}
func (o *starRecord) Truth() starlark.Bool  { return starlark.True }
func (o *starRecord) Hash() (uint32, error) { return unhashable(o) }

func (o *starRecord) Attr(name string) (starlark.Value, error) {
	return attrOf(starRecordAttrs, name, func() starlark.Value {
		switch name {
		case "id":
			return starlark.String(o.view.ID())
		case "value":
			return o.br.toStar(o.view.Value())
		case "attributes":
			return &starAttributes{br: o.br, attrs: o.view.Attributes()}
		default:
			return o.br.sdcRecordModule(o.view.SdcRecord())
		}
	})
}

func (o *starRecord) AttrNames() []string { return starRecordAttrs }

func (o *starRecord) SetField(name string, v starlark.Value) error {
	if name != "value" {
		return fmt.Errorf("record.%s is read-only", name)
	}
	host, err := o.br.fromStar(v)
	if err != nil {
		return o.br.check(err)
	}
	return o.br.check(o.view.SetValue(host))
}

// starAttributes indexes header attributes; remove(name) deletes one.
type starAttributes struct {
	br    *starBridge
	attrs *scope.Attributes
}

func (o *starAttributes) String() string        { return fmt.Sprint(o.attrs.Keys()) }
func (o *starAttributes) Type() string          { return "attributes" }
func (o *starAttributes) Freeze()               {}
func (o *starAttributes) Truth() starlark.Bool  { return o.attrs.Len() > 0 }
func (o *starAttributes) Hash() (uint32, error) { return unhashable(o) }
func (o *starAttributes) Len() int              { return o.attrs.Len() }

func (o *starAttributes) Get(k starlark.Value) (starlark.Value, bool, error) {
	key, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("attribute names must be strings, got %s", k.Type())
	}
	v, found := o.attrs.Get(key)
	if !found {
		return nil, false, nil
	}
	return starlark.String(v), true, nil
}

func (o *starAttributes) SetKey(k, v starlark.Value) error {
	key, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("attribute names must be strings, got %s", k.Type())
	}
	if v == starlark.None {
		o.attrs.Remove(key)
		return nil
	}
	value, ok := starlark.AsString(v)
	if !ok {
		value = v.String()
	}
	o.attrs.Set(key, value)
	return nil
}

func (o *starAttributes) Iterate() starlark.Iterator {
	return &starIterator{items: stringValues(o.attrs.Keys())}
}

func (o *starAttributes) Attr(name string) (starlark.Value, error) {
	if name != "remove" {
		return nil, nil
	}
	return o.br.builtin("remove", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key string
		if err := starlark.UnpackPositionalArgs("remove", args, kwargs, 1, &key); err != nil {
			return nil, err
		}
		o.attrs.Remove(key)
		return starlark.None, nil
	}), nil
}

func (o *starAttributes) AttrNames() []string { return []string{"remove"} }

// starState is the process-wide state, holding Starlark values.
type starState struct {
	state *scope.State
}

func (o *starState) String() string        { return fmt.Sprint(o.state.Keys()) }
func (o *starState) Type() string          { return "state" }
func (o *starState) Freeze()               {}
func (o *starState) Truth() starlark.Bool  { return o.state.Len() > 0 }
func (o *starState) Hash() (uint32, error) { return unhashable(o) }
func (o *starState) Len() int              { return o.state.Len() }

func (o *starState) Get(k starlark.Value) (starlark.Value, bool, error) {
	key, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("state keys must be strings, got %s", k.Type())
	}
	v, found := o.state.Get(key)
	if !found {
		return nil, false, nil
	}
	sv, _ := v.(starlark.Value)
	if sv == nil {
		sv = starlark.None
	}
	return sv, true, nil
}

func (o *starState) SetKey(k, v starlark.Value) error {
	key, ok := starlark.AsString(k)
	if !ok {
		return fmt.Errorf("state keys must be strings, got %s", k.Type())
	}
	o.state.Set(key, v)
	return nil
}

func (o *starState) Iterate() starlark.Iterator {
	return &starIterator{items: stringValues(o.state.Keys())}
}

func (o *starState) Attr(name string) (starlark.Value, error) {
	switch name {
	case "get":
		return starlark.NewBuiltin("get", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var def starlark.Value = starlark.None
			if err := starlark.UnpackPositionalArgs("get", args, kwargs, 1, &key, &def); err != nil {
				return nil, err
			}
			if v, found, _ := o.Get(starlark.String(key)); found {
				return v, nil
			}
			return def, nil
		}), nil
	case "keys":
		return starlark.NewBuiltin("keys", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.NewList(stringValues(o.state.Keys())), nil
		}), nil
	}
	return nil, nil
}

func (o *starState) AttrNames() []string { return []string{"get", "keys"} }

func (br *starBridge) sdcRecordModule(rec *scope.SdcRecord) *starlarkstruct.Module {
	pathArg := func(name string, args starlark.Tuple, kwargs []starlark.Tuple) (string, error) {
		var path string
		err := starlark.UnpackPositionalArgs(name, args, kwargs, 1, &path)
		return path, err
	}
	return br.module("sdcRecord", starlark.StringDict{
		"id": starlark.String(rec.ID()),
		"get": br.builtin("get", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			path, err := pathArg("get", args, kwargs)
			if err != nil {
				return nil, err
			}
			ref, err := rec.Get(path)
			if err != nil || ref == nil {
				return starlark.None, err
			}
			return br.toStar(ref), nil
		}),
		"set": br.builtin("set", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			var value starlark.Value
			if err := starlark.UnpackPositionalArgs("set", args, kwargs, 2, &path, &value); err != nil {
				return nil, err
			}
			host, err := br.fromStar(value)
			if err != nil {
				return nil, err
			}
			return starlark.None, rec.Set(path, host)
		}),
		"has": br.builtin("has", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			path, err := pathArg("has", args, kwargs)
			if err != nil {
				return nil, err
			}
			return starlark.Bool(rec.Has(path)), nil
		}),
		"delete": br.builtin("delete", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			path, err := pathArg("delete", args, kwargs)
			if err != nil {
				return nil, err
			}
			v, err := rec.Delete(path)
			if err != nil {
				return nil, err
			}
			return br.toStar(v), nil
		}),
		"getFieldPaths": br.builtin("getFieldPaths", func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return br.toStar(rec.GetFieldPaths()), nil
		}),
		"getAttribute": br.builtin("getAttribute", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			name, err := pathArg("getAttribute", args, kwargs)
			if err != nil {
				return nil, err
			}
			return br.toStar(rec.GetAttribute(name)), nil
		}),
		"setAttribute": br.builtin("setAttribute", func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, value string
			if err := starlark.UnpackPositionalArgs("setAttribute", args, kwargs, 2, &name, &value); err != nil {
				return nil, err
			}
			rec.SetAttribute(name, value)
			return starlark.None, nil
		}),
	})
}
