package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptproc/internal/field"
	"github.com/nfrund/scriptproc/internal/marshal"
	"github.com/nfrund/scriptproc/internal/record"
)

func testRecord(t *testing.T) *record.Record {
	t.Helper()
	m := field.NewMap()
	m.Set("name", field.NewString("n"))
	m.Set("null_int", field.Null(field.TypeInteger))
	return record.MustNew("r1", field.NewMapField(m))
}

func testEnv() *Env {
	return &Env{
		Stage:          "stage",
		RecordType:     NativeObjects,
		UserParams:     map[string]string{"k": "v"},
		PipelineParams: map[string]string{"company": "acme"},
		Preview:        true,
	}
}

func TestBindExposesRecords(t *testing.T) {
	b := testEnv().Bind("main", []*record.Record{testRecord(t)})
	require.Len(t, b.Records, 1)
	assert.Equal(t, "r1", b.Records[0].ID())
	assert.Equal(t, "v", b.UserParams["k"])
	assert.Len(t, b.Sentinels, len(field.Types()))
	assert.NotNil(t, b.State)

	empty := testEnv().Bind("init", nil)
	assert.Empty(t, empty.Records)
}

func TestWriteSnapshotsRecord(t *testing.T) {
	b := testEnv().Bind("main", []*record.Record{testRecord(t)})
	view := b.Records[0]
	value := view.Value().(*marshal.MapView)

	require.NoError(t, b.Output.Write(view))
	require.NoError(t, value.Set("name", "changed"))
	require.NoError(t, b.Output.Write(view))

	require.Len(t, b.Effects.Outputs, 2)
	first, _ := b.Effects.Outputs[0].Get("/name")
	second, _ := b.Effects.Outputs[1].Get("/name")
	assert.True(t, first.Equal(field.NewString("n")))
	assert.True(t, second.Equal(field.NewString("changed")))
}

func TestSinkContract(t *testing.T) {
	b := testEnv().Bind("main", nil)
	var cerr *ContractError
	assert.ErrorAs(t, b.Output.Write("not a record"), &cerr)
	assert.ErrorAs(t, b.Error.Write(nil, "x"), &cerr)

	rec, err := b.Functions.CreateRecord("id")
	require.NoError(t, err)
	require.NoError(t, b.Error.Write(rec, "oops"))
	assert.Equal(t, "oops", b.Effects.Errors[0].Message)
}

func TestSetValueUsesHint(t *testing.T) {
	b := testEnv().Bind("main", []*record.Record{testRecord(t)})
	view := b.Records[0]
	require.NoError(t, view.SetValue(nil))
	assert.True(t, view.Record().Root().IsNull())
	assert.Equal(t, field.TypeMap, view.Record().Root().Type())
}

func TestSdcRecordsMode(t *testing.T) {
	env := testEnv()
	env.RecordType = SdcRecords
	b := env.Bind("main", []*record.Record{testRecord(t)})
	view := b.Records[0]

	ref, ok := view.Value().(*marshal.FieldRef)
	require.True(t, ok)
	assert.Equal(t, "MAP", ref.Type())

	sdc := view.SdcRecord()
	created, err := b.Functions.CreateField("STRING", "new-value")
	require.NoError(t, err)
	require.NoError(t, sdc.Set("/new", created))
	assert.True(t, sdc.Has("/new"))

	old, err := sdc.Get("/name")
	require.NoError(t, err)
	old.SetAttribute("attr", "attr-value")
	f, _ := view.Record().Get("/name")
	v, _ := f.GetAttribute("attr")
	assert.Equal(t, "attr-value", v)

	missing, err := sdc.Get("/none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Contains(t, sdc.GetFieldPaths(), "/new")
	err = sdc.Set("/other", nil)
	var merr *marshal.MarshallingError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "/other", merr.Path)
}

func TestAttributes(t *testing.T) {
	rec := testRecord(t)
	rec.Header().Set("remove", "me")
	view := NewRecordView(rec, NativeObjects)

	attrs := view.Attributes()
	attrs.Set("key1", "value1")
	attrs.Remove("remove")
	attrs.Remove("absent")

	assert.Equal(t, []string{"key1"}, rec.Header().Keys())
	assert.Nil(t, view.SdcRecord().GetAttribute("remove"))
	assert.Equal(t, "value1", view.SdcRecord().GetAttribute("key1"))
}

func TestFunctions(t *testing.T) {
	b := testEnv().Bind("main", []*record.Record{testRecord(t)})
	fn := b.Functions

	_, err := fn.CreateRecord("")
	assert.ErrorIs(t, err, record.ErrMissingID)

	m := fn.CreateMap(true)
	assert.True(t, m.Ordered())
	assert.False(t, fn.CreateMap(false).Ordered())

	ev, err := fn.CreateEvent("not important", 1)
	require.NoError(t, err)
	require.NoError(t, ev.SetValue(map[string]any{"a": int64(1)}))
	require.NoError(t, fn.ToEvent(ev))
	require.Len(t, b.Effects.Events, 1)
	assert.Equal(t, "not important", b.Effects.Events[0].Type)
	assert.Empty(t, b.Effects.Outputs)

	plain, _ := fn.CreateRecord("plain")
	var cerr *ContractError
	assert.ErrorAs(t, fn.ToEvent(plain), &cerr)

	null, err := fn.GetFieldNull(b.Records[0], "/null_int")
	require.NoError(t, err)
	assert.Same(t, marshal.SentinelFor(field.TypeInteger), null)
	value, err := fn.GetFieldNull(b.Records[0], "/name")
	require.NoError(t, err)
	assert.Equal(t, "n", value)

	params := fn.PipelineParameters()
	params["company"] = "other"
	assert.Equal(t, "acme", fn.PipelineParameters()["company"])
	assert.True(t, fn.IsPreview())
}

func TestCreateField(t *testing.T) {
	b := testEnv().Bind("main", nil)
	fn := b.Functions

	ref, err := fn.CreateField("integer", "12")
	require.NoError(t, err)
	assert.True(t, ref.Field().Equal(field.NewInteger(12)))

	ref, err = fn.CreateField("LIST", []any{"a"})
	require.NoError(t, err)
	assert.Equal(t, "LIST", ref.Type())

	ref, err = fn.CreateField("ORDERED_MAP", []marshal.Pair{{Key: "b", Value: int64(1)}})
	require.NoError(t, err)
	assert.Equal(t, "ORDERED_MAP", ref.Type())

	ref, err = fn.CreateField("DATE", nil)
	require.NoError(t, err)
	assert.True(t, ref.IsNull())

	_, err = fn.CreateField("LIST", map[string]any{"a": 1})
	assert.Error(t, err)
	_, err = fn.CreateField("NOPE", 1)
	assert.Error(t, err)
}

func TestEffectsCheckKeepsFirstMarshallingError(t *testing.T) {
	e := NewEffects()
	assert.NoError(t, e.Check(nil))
	other := assert.AnError
	assert.Equal(t, other, e.Check(other))
	assert.Nil(t, e.Fatal())

	first := marshal.Errorf("/a", "first")
	e.Check(first)
	e.Check(marshal.Errorf("/b", "second"))
	assert.Equal(t, first, e.Fatal())
}

func TestState(t *testing.T) {
	s := NewState()
	s.Set("b", 1)
	s.Set("a", 2)
	assert.Equal(t, []string{"b", "a"}, s.Keys())
	v, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	s.Delete("b")
	assert.False(t, s.Has("b"))
	s.Clear()
	assert.Equal(t, 0, s.Len())
}
