package script

import (
	"fmt"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/samber/lo"

	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/scope"
)

// tengoBridge converts between host values and tengo objects for one
// invocation. Every error raised by a host call goes through check so the
// invocation effects learn about marshalling errors and contract violations.
type tengoBridge struct {
	b         *scope.Bindings
	sentinels map[*marshal.Sentinel]*tengoSentinel
}

func (br *tengoBridge) check(err error) error {
	if err == nil {
		return nil
	}
	return br.b.Effects.Check(err)
}

func (br *tengoBridge) toTengo(v any) tengo.Object {
	switch val := v.(type) {
	case nil:
		return tengo.UndefinedValue
	case tengo.Object:
		return val
	case string:
		return &tengo.String{Value: val}
	case int64:
		return &tengo.Int{Value: val}
	case int:
		return &tengo.Int{Value: int64(val)}
	case float64:
		return &tengo.Float{Value: val}
	case bool:
		if val {
			return tengo.TrueValue
		}
		return tengo.FalseValue
	case []byte:
		return &tengo.Bytes{Value: val}
	case marshal.Decimal, marshal.Date, marshal.Datetime, marshal.Time:
		return &tengoHostValue{v: val}
	case *marshal.MapView:
		return &tengoMap{br: br, view: val}
	case *marshal.ListView:
		return &tengoList{br: br, view: val}
	case *marshal.FieldRef:
		return &tengoFieldRef{br: br, ref: val}
	case *marshal.Sentinel:
		return br.sentinels[val]
	case *scope.RecordView:
		return &tengoRecord{br: br, view: val}
	case []string:
		return tengoStrings(val)
	case map[string]string:
		return tengoStringMap(val)
	}
	obj, err := tengo.FromInterface(v)
	if err != nil {
		return tengo.UndefinedValue
	}
	return obj
}

func (br *tengoBridge) fromTengo(o tengo.Object) (any, error) {
	switch val := o.(type) {
	case *tengo.Undefined:
		return nil, nil
	case *tengo.String:
		return val.Value, nil
	case *tengo.Int:
		return val.Value, nil
	case *tengo.Float:
		return val.Value, nil
	case *tengo.Bool:
		return !val.IsFalsy(), nil
	case *tengo.Char:
		return string(val.Value), nil
	case *tengo.Bytes:
		return val.Value, nil
	case *tengo.Time:
		return val.Value, nil
	case *tengo.Array:
		return br.fromTengoSlice(val.Value)
	case *tengo.ImmutableArray:
		return br.fromTengoSlice(val.Value)
	case *tengo.Map:
		return br.fromTengoMap(val.Value)
	case *tengo.ImmutableMap:
		return br.fromTengoMap(val.Value)
	case *tengoHostValue:
		return val.v, nil
	case *tengoMap:
		return val.view, nil
	case *tengoList:
		return val.view, nil
	case *tengoFieldRef:
		return val.ref, nil
	case *tengoSentinel:
		return val.s, nil
	case *tengoRecord:
		return val.view, nil
	}
	return nil, marshal.Errorf("", "unsupported tengo value of type %s", o.TypeName())
}

func (br *tengoBridge) fromTengoSlice(items []tengo.Object) (any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		v, err := br.fromTengo(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (br *tengoBridge) fromTengoMap(m map[string]tengo.Object) (any, error) {
	out := make(map[string]any, len(m))
	for k, item := range m {
		v, err := br.fromTengo(item)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func tengoStrings(values []string) *tengo.ImmutableArray {
	return &tengo.ImmutableArray{Value: lo.Map(values, func(s string, _ int) tengo.Object {
		return &tengo.String{Value: s}
	})}
}

func tengoStringMap(values map[string]string) *tengo.ImmutableMap {
	return &tengo.ImmutableMap{Value: lo.MapValues(values, func(s string, _ string) tengo.Object {
		return &tengo.String{Value: s}
	})}
}

func tengoFunc(name string, fn tengo.CallableFunc) *tengo.UserFunction {
	return &tengo.UserFunction{Name: name, Value: fn}
}

func tengoStringArg(args []tengo.Object, i int, name string) (string, error) {
	if len(args) <= i {
		return "", tengo.ErrWrongNumArguments
	}
	s, ok := tengo.ToString(args[i])
	if !ok {
		return "", tengo.ErrInvalidArgumentType{Name: name, Expected: "string", Found: args[i].TypeName()}
	}
	return s, nil
}

func tengoSelector(index tengo.Object) (string, error) {
	s, ok := index.(*tengo.String)
	if !ok {
		return "", tengo.ErrInvalidIndexType
	}
	return s.Value, nil
}

// tengoIterator walks a snapshot of keys and values.
type tengoIterator struct {
	tengo.ObjectImpl
	keys   []tengo.Object
	values []tengo.Object
	i      int
}

func (it *tengoIterator) TypeName() string { return "iterator" }

func (it *tengoIterator) String() string { return "<iterator>" }

func (it *tengoIterator) Next() bool {
	it.i++
	return it.i <= len(it.keys)
}

func (it *tengoIterator) Key() tengo.Object { return it.keys[it.i-1] }

func (it *tengoIterator) Value() tengo.Object { return it.values[it.i-1] }

// tengoSentinel is the tengo face of a typed null. There is one per engine and
// type, so == compares identity.
type tengoSentinel struct {
	tengo.ObjectImpl
	s *marshal.Sentinel
}

func (o *tengoSentinel) TypeName() string { return "null" }

func (o *tengoSentinel) String() string { return o.s.Name() }

func (o *tengoSentinel) IsFalsy() bool { return true }

func (o *tengoSentinel) Equals(x tengo.Object) bool { return o == x }

func (o *tengoSentinel) Copy() tengo.Object { return o }

// tengoHostValue carries DECIMAL and the date types, which tengo has no
// faithful native type for.
type tengoHostValue struct {
	tengo.ObjectImpl
	v any
}

func (o *tengoHostValue) TypeName() string { return hostTypeName(o.v) }

func (o *tengoHostValue) String() string { return fmt.Sprint(o.v) }

func (o *tengoHostValue) Equals(x tengo.Object) bool {
	other, ok := x.(*tengoHostValue)
	return ok && hostEqual(o.v, other.v)
}

func (o *tengoHostValue) IndexGet(index tengo.Object) (tengo.Object, error) {
	key, err := tengoSelector(index)
	if err != nil {
		return nil, err
	}
	switch key {
	case "string":
		return &tengo.String{Value: o.String()}, nil
	case "time":
		if _, ok := o.v.(marshal.Decimal); !ok {
			return &tengo.Time{Value: hostTime(o.v)}, nil
		}
	}
	return tengo.UndefinedValue, nil
}

func (o *tengoHostValue) Copy() tengo.Object { return o }

func hostTime(v any) time.Time {
	switch t := v.(type) {
	case marshal.Date:
		return t.Time
	case marshal.Datetime:
		return t.Time
	case marshal.Time:
		return t.Time
	}
	return time.Time{}
}

func hostTypeName(v any) string {
	switch v.(type) {
	case marshal.Decimal:
		return "decimal"
	case marshal.Date:
		return "date"
	case marshal.Time:
		return "time_of_day"
	}
	return "datetime"
}

// hostEqual compares two wrapped DECIMAL or date values of the same kind.
func hostEqual(a, b any) bool {
	if hostTypeName(a) != hostTypeName(b) {
		return false
	}
	if d, ok := a.(marshal.Decimal); ok {
		return d.Equal(b.(marshal.Decimal).Decimal)
	}
	return hostTime(a).Equal(hostTime(b))
}

// tengoMap is a live MAP or ORDERED_MAP.
type tengoMap struct {
	tengo.ObjectImpl
	br   *tengoBridge
	view *marshal.MapView
}

func (o *tengoMap) TypeName() string {
	if o.view.Ordered() {
		return "ordered-map"
	}
	return "map"
}

func (o *tengoMap) String() string { return o.view.String() }

func (o *tengoMap) IndexGet(index tengo.Object) (tengo.Object, error) {
	key, ok := tengo.ToString(index)
	if !ok {
		return nil, tengo.ErrInvalidIndexType
	}
	v, found := o.view.Get(key)
	if !found {
		return tengo.UndefinedValue, nil
	}
	return o.br.toTengo(v), nil
}

func (o *tengoMap) IndexSet(index, value tengo.Object) error {
	key, ok := tengo.ToString(index)
	if !ok {
		return tengo.ErrInvalidIndexType
	}
	v, err := o.br.fromTengo(value)
	if err != nil {
		return o.br.check(err)
	}
	return o.br.check(o.view.Set(key, v))
}

func (o *tengoMap) CanIterate() bool { return true }

func (o *tengoMap) Iterate() tengo.Iterator {
	it := &tengoIterator{}
	o.view.Each(func(key string, value any) bool {
		it.keys = append(it.keys, &tengo.String{Value: key})
		it.values = append(it.values, o.br.toTengo(value))
		return true
	})
	return it
}

func (o *tengoMap) Equals(x tengo.Object) bool {
	other, ok := x.(*tengoMap)
	return ok && o.view.Field().Equal(other.view.Field())
}

func (o *tengoMap) Copy() tengo.Object { return o }

// tengoList is a live LIST.
type tengoList struct {
	tengo.ObjectImpl
	br   *tengoBridge
	view *marshal.ListView
}

func (o *tengoList) TypeName() string { return "list" }

func (o *tengoList) String() string { return o.view.String() }

func (o *tengoList) IndexGet(index tengo.Object) (tengo.Object, error) {
	i, ok := index.(*tengo.Int)
	if !ok {
		return nil, tengo.ErrInvalidIndexType
	}
	if i.Value < 0 || i.Value >= int64(o.view.Len()) {
		return tengo.UndefinedValue, nil
	}
	v, err := o.view.Get(int(i.Value))
	if err != nil {
		return nil, err
	}
	return o.br.toTengo(v), nil
}

func (o *tengoList) IndexSet(index, value tengo.Object) error {
	i, ok := index.(*tengo.Int)
	if !ok {
		return tengo.ErrInvalidIndexType
	}
	if i.Value < 0 || i.Value >= int64(o.view.Len()) {
		return tengo.ErrIndexOutOfBounds
	}
	v, err := o.br.fromTengo(value)
	if err != nil {
		return o.br.check(err)
	}
	return o.br.check(o.view.Set(int(i.Value), v))
}

func (o *tengoList) CanIterate() bool { return true }

func (o *tengoList) Iterate() tengo.Iterator {
	it := &tengoIterator{}
	for i, item := range o.view.Items() {
		it.keys = append(it.keys, &tengo.Int{Value: int64(i)})
		it.values = append(it.values, o.br.toTengo(item))
	}
	return it
}

func (o *tengoList) Equals(x tengo.Object) bool {
	other, ok := x.(*tengoList)
	return ok && o.view.Field().Equal(other.view.Field())
}

func (o *tengoList) Copy() tengo.Object { return o }

// tengoFieldRef exposes a field handle in SDC_RECORDS mode and from sdcRecord.get.
type tengoFieldRef struct {
	tengo.ObjectImpl
	br  *tengoBridge
	ref *marshal.FieldRef
}

func (o *tengoFieldRef) TypeName() string { return "field" }

func (o *tengoFieldRef) String() string { return o.ref.String() }

func (o *tengoFieldRef) IndexGet(index tengo.Object) (tengo.Object, error) {
	key, err := tengoSelector(index)
	if err != nil {
		return nil, err
	}
	switch key {
	case "type":
		return &tengo.String{Value: o.ref.Type()}, nil
	case "value":
		return o.br.toTengo(o.ref.Value()), nil
	case "isNull":
		return tengoFunc("isNull", func(args ...tengo.Object) (tengo.Object, error) {
			return o.br.toTengo(o.ref.IsNull()), nil
		}), nil
	case "getAttribute":
		return tengoFunc("getAttribute", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := tengoStringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			return o.br.toTengo(o.ref.GetAttribute(name)), nil
		}), nil
	case "setAttribute":
		return tengoFunc("setAttribute", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := tengoStringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			value, err := tengoStringArg(args, 1, "value")
			if err != nil {
				return nil, err
			}
			o.ref.SetAttribute(name, value)
			return tengo.UndefinedValue, nil
		}), nil
	case "removeAttribute":
		return tengoFunc("removeAttribute", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := tengoStringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			o.ref.RemoveAttribute(name)
			return tengo.UndefinedValue, nil
		}), nil
	case "attributeNames":
		return tengoFunc("attributeNames", func(args ...tengo.Object) (tengo.Object, error) {
			return tengoStrings(o.ref.AttributeNames()), nil
		}), nil
	}
	return tengo.UndefinedValue, nil
}

func (o *tengoFieldRef) Equals(x tengo.Object) bool {
	other, ok := x.(*tengoFieldRef)
	return ok && o.ref.Field() == other.ref.Field()
}

func (o *tengoFieldRef) Copy() tengo.Object { return o }

// tengoRecord is the script view of one record.
type tengoRecord struct {
	tengo.ObjectImpl
	br   *tengoBridge
	view *scope.RecordView
}

func (o *tengoRecord) TypeName() string { return "record" }

func (o *tengoRecord) String() string { return "record(" + o.view.ID() + ")" }

func (o *tengoRecord) IndexGet(index tengo.Object) (tengo.Object, error) {
	key, err := tengoSelector(index)
	if err != nil {
		return nil, err
	}
	switch key {
	case "id":
		return &tengo.String{Value: o.view.ID()}, nil
	case "value":
		return o.br.toTengo(o.view.Value()), nil
	case "attributes":
		return &tengoAttributes{attrs: o.view.Attributes()}, nil
	case "sdcRecord":
		return &tengoSdcRecord{br: o.br, rec: o.view.SdcRecord()}, nil
	}
	return tengo.UndefinedValue, nil
}

func (o *tengoRecord) IndexSet(index, value tengo.Object) error {
	key, err := tengoSelector(index)
	if err != nil {
		return err
	}
	if key != "value" {
		return fmt.Errorf("record.%s is read-only", key)
	}
	v, err := o.br.fromTengo(value)
	if err != nil {
		return o.br.check(err)
	}
	return o.br.check(o.view.SetValue(v))
}

func (o *tengoRecord) Equals(x tengo.Object) bool {
	other, ok := x.(*tengoRecord)
	return ok && o.view.Record() == other.view.Record()
}

func (o *tengoRecord) Copy() tengo.Object { return o }

// tengoAttributes indexes header attributes by name. remove(name) deletes one;
// assigning undefined deletes too.
type tengoAttributes struct {
	tengo.ObjectImpl
	attrs *scope.Attributes
}

func (o *tengoAttributes) TypeName() string { return "attributes" }

func (o *tengoAttributes) String() string { return fmt.Sprint(o.attrs.Keys()) }

func (o *tengoAttributes) IndexGet(index tengo.Object) (tengo.Object, error) {
	key, ok := tengo.ToString(index)
	if !ok {
		return nil, tengo.ErrInvalidIndexType
	}
	if key == "remove" {
		return tengoFunc("remove", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := tengoStringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			o.attrs.Remove(name)
			return tengo.UndefinedValue, nil
		}), nil
	}
	if v, found := o.attrs.Get(key); found {
		return &tengo.String{Value: v}, nil
	}
	return tengo.UndefinedValue, nil
}

func (o *tengoAttributes) IndexSet(index, value tengo.Object) error {
	key, ok := tengo.ToString(index)
	if !ok {
		return tengo.ErrInvalidIndexType
	}
	if value == tengo.UndefinedValue {
		o.attrs.Remove(key)
		return nil
	}
	s, ok := tengo.ToString(value)
	if !ok {
		return tengo.ErrInvalidIndexValueType
	}
	o.attrs.Set(key, s)
	return nil
}

func (o *tengoAttributes) CanIterate() bool { return true }

func (o *tengoAttributes) Iterate() tengo.Iterator {
	it := &tengoIterator{}
	for _, key := range o.attrs.Keys() {
		v, _ := o.attrs.Get(key)
		it.keys = append(it.keys, &tengo.String{Value: key})
		it.values = append(it.values, &tengo.String{Value: v})
	}
	return it
}

// tengoSdcRecord is the path-based record handle.
type tengoSdcRecord struct {
	tengo.ObjectImpl
	br  *tengoBridge
	rec *scope.SdcRecord
}

func (o *tengoSdcRecord) TypeName() string { return "sdc-record" }

func (o *tengoSdcRecord) String() string { return "sdcRecord(" + o.rec.ID() + ")" }

func (o *tengoSdcRecord) IndexGet(index tengo.Object) (tengo.Object, error) {
	key, err := tengoSelector(index)
	if err != nil {
		return nil, err
	}
	br := o.br
	switch key {
	case "id":
		return &tengo.String{Value: o.rec.ID()}, nil
	case "get":
		return tengoFunc("get", func(args ...tengo.Object) (tengo.Object, error) {
			path, err := tengoStringArg(args, 0, "path")
			if err != nil {
				return nil, err
			}
			ref, err := o.rec.Get(path)
			if err != nil {
				return nil, err
			}
			if ref == nil {
				return tengo.UndefinedValue, nil
			}
			return br.toTengo(ref), nil
		}), nil
	case "set":
		return tengoFunc("set", func(args ...tengo.Object) (tengo.Object, error) {
			path, err := tengoStringArg(args, 0, "path")
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, tengo.ErrWrongNumArguments
			}
			v, err := br.fromTengo(args[1])
			if err != nil {
				return nil, br.check(err)
			}
			return tengo.UndefinedValue, br.check(o.rec.Set(path, v))
		}), nil
	case "has":
		return tengoFunc("has", func(args ...tengo.Object) (tengo.Object, error) {
			path, err := tengoStringArg(args, 0, "path")
			if err != nil {
				return nil, err
			}
			return br.toTengo(o.rec.Has(path)), nil
		}), nil
	case "delete":
		return tengoFunc("delete", func(args ...tengo.Object) (tengo.Object, error) {
			path, err := tengoStringArg(args, 0, "path")
			if err != nil {
				return nil, err
			}
			v, err := o.rec.Delete(path)
			if err != nil {
				return nil, err
			}
			return br.toTengo(v), nil
		}), nil
	case "getFieldPaths":
		return tengoFunc("getFieldPaths", func(args ...tengo.Object) (tengo.Object, error) {
			return tengoStrings(o.rec.GetFieldPaths()), nil
		}), nil
	case "getAttribute":
		return tengoFunc("getAttribute", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := tengoStringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			return br.toTengo(o.rec.GetAttribute(name)), nil
		}), nil
	case "setAttribute":
		return tengoFunc("setAttribute", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := tengoStringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			value, err := tengoStringArg(args, 1, "value")
			if err != nil {
				return nil, err
			}
			o.rec.SetAttribute(name, value)
			return tengo.UndefinedValue, nil
		}), nil
	}
	return tengo.UndefinedValue, nil
}

// tengoState is the process-wide state mapping. Values are stored as tengo
// objects.
type tengoState struct {
	tengo.ObjectImpl
	state *scope.State
}

func (o *tengoState) TypeName() string { return "state" }

func (o *tengoState) String() string { return fmt.Sprint(o.state.Keys()) }

func (o *tengoState) IndexGet(index tengo.Object) (tengo.Object, error) {
	key, ok := tengo.ToString(index)
	if !ok {
		return nil, tengo.ErrInvalidIndexType
	}
	v, found := o.state.Get(key)
	if !found {
		return tengo.UndefinedValue, nil
	}
	if obj, ok := v.(tengo.Object); ok {
		return obj, nil
	}
	return tengo.UndefinedValue, nil
}

func (o *tengoState) IndexSet(index, value tengo.Object) error {
	key, ok := tengo.ToString(index)
	if !ok {
		return tengo.ErrInvalidIndexType
	}
	o.state.Set(key, value)
	return nil
}

func (o *tengoState) CanIterate() bool { return true }

func (o *tengoState) Iterate() tengo.Iterator {
	it := &tengoIterator{}
	for _, key := range o.state.Keys() {
		v, _ := o.IndexGet(&tengo.String{Value: key})
		it.keys = append(it.keys, &tengo.String{Value: key})
		it.values = append(it.values, v)
	}
	return it
}
