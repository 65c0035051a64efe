package script

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptproc/internal/field"
	"github.com/nfrund/scriptproc/internal/record"
	"github.com/nfrund/scriptproc/internal/scope"
)

var backends = []ScriptLanguage{LanguageTengo, LanguageJavaScript, LanguageStarlark}

// scripts holds one source per backend for the same behaviour.
type scripts map[ScriptLanguage]string

func testEnv() *scope.Env {
	return &scope.Env{
		Stage:          "test",
		RecordType:     scope.NativeObjects,
		UserParams:     map[string]string{"k": "v"},
		PipelineParams: map[string]string{"company": "acme"},
		Preview:        true,
	}
}

func mapRecord(id string, kv ...any) *record.Record {
	m := field.NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(*field.Field))
	}
	return record.MustNew(id, field.NewMapField(m))
}

func compileScript(t *testing.T, engine LanguageEngine, lang ScriptLanguage, src string) *CompiledScript {
	t.Helper()
	compiled, err := engine.Compile(&Script{Stage: "test", Name: ScriptMain, Language: lang, Content: src})
	require.NoError(t, err)
	return compiled
}

func runScript(t *testing.T, lang ScriptLanguage, src string, env *scope.Env, records ...*record.Record) (*ScriptOutput, error) {
	t.Helper()
	engine, err := NewFactory().CreateEngine(lang)
	require.NoError(t, err)
	return engine.Execute(context.Background(), compileScript(t, engine, lang, src), env.Bind(ScriptMain, records))
}

func forEachBackend(t *testing.T, src scripts, fn func(t *testing.T, lang ScriptLanguage, src string)) {
	t.Helper()
	for _, lang := range backends {
		require.Contains(t, src, lang)
		t.Run(string(lang), func(t *testing.T) { fn(t, lang, src[lang]) })
	}
}

func getField(t *testing.T, r *record.Record, path string) *field.Field {
	t.Helper()
	f, err := r.Get(path)
	require.NoError(t, err)
	require.NotNil(t, f, "no field at %s", path)
	return f
}

func everyTypeRecord() *record.Record {
	ts := time.Date(2022, 6, 7, 8, 9, 10, 11000000, time.UTC)
	inner := field.NewMap()
	inner.Set("k", field.NewString("v"))
	ordered := field.NewMap()
	ordered.Set("z", field.NewInteger(1))
	ordered.Set("a", field.NewInteger(2))
	return mapRecord("all",
		"string", field.NewString("hello"),
		"integer", field.NewInteger(-7),
		"long", field.NewLong(1<<42),
		"float", field.NewFloat(1.1),
		"double", field.NewDouble(3.3),
		"boolean", field.NewBoolean(true),
		"date", field.NewDate(ts),
		"datetime", field.NewDatetime(ts),
		"time", field.NewTime(ts),
		"decimal", field.NewDecimal(decimal.RequireFromString("1235.678")),
		"bytes", field.NewByteArray([]byte("bytes")),
		"list", field.NewList([]*field.Field{field.NewInteger(1), field.NewString("x")}),
		"map", field.NewMapField(inner),
		"ordered", field.NewOrderedMap(ordered),
	)
}

func TestRoundTripEveryType(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	for k, v in r.value {
		r.value[k] = v
	}
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  for (const k of Object.keys(r.value)) {
    r.value[k] = r.value[k];
  }
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    for k in r.value.keys():
        r.value[k] = r.value[k]
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		want := everyTypeRecord()
		out, err := runScript(t, lang, src, testEnv(), everyTypeRecord())
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		m, _ := want.Root().Map()
		for _, key := range m.Keys() {
			expected, _ := m.Get(key)
			got := getField(t, out.Effects.Outputs[0], "/"+key)
			assert.Equal(t, expected.Type(), got.Type(), key)
			assert.True(t, expected.Equal(got), "%s: got %s want %s", key, got, expected)
		}
	})
}

func TestTypedNullIdentity(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	r.value.x = NULL_INTEGER
	n := sdcFunctions.getFieldNull(r, "/x")
	r.value.same = n == NULL_INTEGER
	r.value.other = n == NULL_LONG
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  r.value.x = NULL_INTEGER;
  const n = sdcFunctions.getFieldNull(r, "/x");
  r.value.same = n === NULL_INTEGER;
  r.value.other = n === NULL_LONG;
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    r.value["x"] = NULL_INTEGER
    n = sdcFunctions.getFieldNull(r, "/x")
    r.value["same"] = n == NULL_INTEGER
    r.value["other"] = n == NULL_LONG
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1", "x", field.NewString("s")))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		rec := out.Effects.Outputs[0]
		x := getField(t, rec, "/x")
		assert.True(t, x.IsNull())
		assert.Equal(t, field.TypeInteger, x.Type())
		assert.True(t, getField(t, rec, "/same").Equal(field.NewBoolean(true)))
		assert.True(t, getField(t, rec, "/other").Equal(field.NewBoolean(false)))
	})
}

func TestOrderedMapKeepsInsertionOrder(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
m := sdcFunctions.createMap(true)
for i := 0; i < 20; i++ {
	m["A" + string(i)] = i
}
for r in records {
	r.value.m = m
	output.write(r)
}`,
		LanguageJavaScript: `
const m = sdcFunctions.createMap(true);
for (let i = 0; i < 20; i++) {
  m["A" + i] = i;
}
for (const r of records) {
  r.value.m = m;
  output.write(r);
}`,
		LanguageStarlark: `
m = sdcFunctions.createMap(True)
for i in range(20):
    m["A%d" % i] = i
for r in records:
    r.value["m"] = m
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1"))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		m := getField(t, out.Effects.Outputs[0], "/m")
		assert.Equal(t, field.TypeOrderedMap, m.Type())
		entries, ok := m.Map()
		require.True(t, ok)
		want := make([]string, 20)
		for i := range want {
			want[i] = fmt.Sprintf("A%d", i)
		}
		assert.Equal(t, want, entries.Keys())
	})
}

func TestEventEmission(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
ev := sdcFunctions.createEvent("not important", 1)
ev.value = {a: 1}
sdcFunctions.toEvent(ev)`,
		LanguageJavaScript: `
const ev = sdcFunctions.createEvent("not important", 1);
ev.value = { a: 1 };
sdcFunctions.toEvent(ev);`,
		LanguageStarlark: `
ev = sdcFunctions.createEvent("not important", 1)
ev.value = {"a": 1}
sdcFunctions.toEvent(ev)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1"))
		require.NoError(t, err)
		assert.Empty(t, out.Effects.Outputs)
		require.Len(t, out.Effects.Events, 1)
		ev := out.Effects.Events[0]
		assert.Equal(t, "not important", ev.Type)
		assert.Equal(t, 1, ev.Version)
		assert.True(t, getField(t, ev.Record, "/a").Equal(field.NewLong(1)))
	})
}

func TestCreateRecordWithID(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	n := sdcFunctions.createRecord("recordId")
	n.value = {copied: r.value.name}
	output.write(n)
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  const n = sdcFunctions.createRecord("recordId");
  n.value = { copied: r.value.name };
  output.write(n);
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    n = sdcFunctions.createRecord("recordId")
    n.value = {"copied": r.value["name"]}
    output.write(n)
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("orig", "name", field.NewString("n")))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 2)
		assert.Equal(t, "recordId", out.Effects.Outputs[0].ID())
		assert.Equal(t, "orig", out.Effects.Outputs[1].ID())
		assert.True(t, getField(t, out.Effects.Outputs[0], "/copied").Equal(field.NewString("n")))
	})
}

func TestWriteSnapshotsRecord(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	r.value.name = "first"
	output.write(r)
	r.value.name = "second"
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  r.value.name = "first";
  output.write(r);
  r.value.name = "second";
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    r.value["name"] = "first"
    output.write(r)
    r.value["name"] = "second"
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1", "name", field.NewString("n")))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 2)
		assert.True(t, getField(t, out.Effects.Outputs[0], "/name").Equal(field.NewString("first")))
		assert.True(t, getField(t, out.Effects.Outputs[1], "/name").Equal(field.NewString("second")))
	})
}

func TestHeaderAttributes(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	r.attributes.foo = "bar"
	r.attributes.remove("old")
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  r.attributes.foo = "bar";
  r.attributes.remove("old");
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    r.attributes["foo"] = "bar"
    r.attributes.remove("old")
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		in := mapRecord("r1")
		in.Header().Set("old", "1")
		out, err := runScript(t, lang, src, testEnv(), in)
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		h := out.Effects.Outputs[0].Header()
		foo, ok := h.Get("foo")
		assert.True(t, ok)
		assert.Equal(t, "bar", foo)
		_, ok = h.Get("old")
		assert.False(t, ok)
	})
}

func TestSdcRecordAccess(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	f := r.sdcRecord.get("/name")
	r.sdcRecord.set("/attr", f.getAttribute("a"))
	r.sdcRecord.set("/created", "x")
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  const f = r.sdcRecord.get("/name");
  r.sdcRecord.set("/attr", f.getAttribute("a"));
  r.sdcRecord.set("/created", "x");
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    f = r.sdcRecord.get("/name")
    r.sdcRecord.set("/attr", f.getAttribute("a"))
    r.sdcRecord.set("/created", "x")
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		name := field.NewString("n")
		name.SetAttribute("a", "attr-value")
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1", "name", name))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		rec := out.Effects.Outputs[0]
		assert.True(t, getField(t, rec, "/attr").Equal(field.NewString("attr-value")))
		assert.True(t, getField(t, rec, "/created").Equal(field.NewString("x")))
	})
}

func TestSdcRecordsMode(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	r.sdcRecord.set("/kind", r.value.type)
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  r.sdcRecord.set("/kind", r.value.type);
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    r.sdcRecord.set("/kind", r.value.type)
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		env := testEnv()
		env.RecordType = scope.SdcRecords
		out, err := runScript(t, lang, src, env, mapRecord("r1"))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		assert.True(t, getField(t, out.Effects.Outputs[0], "/kind").Equal(field.NewString("MAP")))
	})
}

func TestHostInputs(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	r.value.preview = sdcFunctions.isPreview()
	r.value.company = sdcFunctions.pipelineParameters().company
	r.value.param = sdcUserParams.k
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  r.value.preview = sdcFunctions.isPreview();
  r.value.company = sdcFunctions.pipelineParameters().company;
  r.value.param = sdcUserParams.k;
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    r.value["preview"] = sdcFunctions.isPreview()
    r.value["company"] = sdcFunctions.pipelineParameters()["company"]
    r.value["param"] = sdcUserParams["k"]
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1"))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		rec := out.Effects.Outputs[0]
		assert.True(t, getField(t, rec, "/preview").Equal(field.NewBoolean(true)))
		assert.True(t, getField(t, rec, "/company").Equal(field.NewString("acme")))
		assert.True(t, getField(t, rec, "/param").Equal(field.NewString("v")))
	})
}

func TestBareNullKeepsExistingType(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	r.value.x = undefined
	output.write(r)
}`,
		LanguageJavaScript: `
for (const r of records) {
  r.value.x = null;
  output.write(r);
}`,
		LanguageStarlark: `
for r in records:
    r.value["x"] = None
    output.write(r)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1", "x", field.NewInteger(5)))
		require.NoError(t, err)
		require.Len(t, out.Effects.Outputs, 1)
		x := getField(t, out.Effects.Outputs[0], "/x")
		assert.True(t, x.IsNull())
		assert.Equal(t, field.TypeInteger, x.Type())
	})
}

func TestBareNullOnNewKeyIsMarshallingError(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	r.value.fresh = undefined
}`,
		LanguageJavaScript: `
for (const r of records) {
  try {
    r.value.fresh = null;
  } catch (e) {
    // caught, still fatal
  }
}`,
		LanguageStarlark: `
for r in records:
    r.value["fresh"] = None
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		_, err := runScript(t, lang, src, testEnv(), mapRecord("r1"))
		var scriptErr *ScriptError
		require.ErrorAs(t, err, &scriptErr)
		assert.Equal(t, ErrorTypeMarshalling, scriptErr.Type)
		assert.Contains(t, scriptErr.Error(), "/fresh")
	})
}

func TestScriptFailureCarriesMessage(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo:      `fail("boom")`,
		LanguageJavaScript: `throw new Error("boom");`,
		LanguageStarlark:   `fail("boom")`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("r1"))
		assert.Nil(t, out)
		var scriptErr *ScriptError
		require.ErrorAs(t, err, &scriptErr)
		assert.Equal(t, ErrorTypeExecution, scriptErr.Type)
		assert.Equal(t, "boom", scriptErr.Message)
		assert.Equal(t, "test", scriptErr.Stage)
		assert.Equal(t, ScriptMain, scriptErr.ScriptName)
		assert.NotEmpty(t, scriptErr.Detail)
	})
}

func TestSinkContractViolation(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo:      `output.write(42)`,
		LanguageJavaScript: `output.write(42);`,
		LanguageStarlark:   `output.write(42)`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		_, err := runScript(t, lang, src, testEnv())
		var scriptErr *ScriptError
		require.ErrorAs(t, err, &scriptErr)
		assert.Equal(t, ErrorTypeSinkContract, scriptErr.Type)
	})
}

func TestErrorSinkDoesNotStopScript(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
for r in records {
	err.write(r, "oops")
}
log("after error writes")`,
		LanguageJavaScript: `
for (const r of records) {
  error.write(r, "oops");
}
log("after error writes");`,
		LanguageStarlark: `
for r in records:
    error.write(r, "oops")
log("after error writes")
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		out, err := runScript(t, lang, src, testEnv(), mapRecord("a"), mapRecord("b"))
		require.NoError(t, err)
		require.Len(t, out.Effects.Errors, 2)
		for _, e := range out.Effects.Errors {
			assert.Equal(t, "oops", e.Message)
		}
		assert.Equal(t, "a", out.Effects.Errors[0].Record.ID())
		assert.Equal(t, "b", out.Effects.Errors[1].Record.ID())
	})
}

func TestStatePersistsAcrossInvocations(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo: `
if state.n == undefined {
	state.n = 0
}
state.n += len(records)`,
		LanguageJavaScript: `
if (state.n === undefined) {
  state.n = 0;
}
state.n += records.length;`,
		LanguageStarlark: `
if "n" not in state:
    state["n"] = 0
state["n"] += len(records)
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		engine, err := NewFactory().CreateEngine(lang)
		require.NoError(t, err)
		compiled := compileScript(t, engine, lang, src)
		env := testEnv()

		_, err = engine.Execute(context.Background(), compiled, env.Bind(ScriptMain, []*record.Record{mapRecord("a"), mapRecord("b")}))
		require.NoError(t, err)
		_, err = engine.Execute(context.Background(), compiled, env.Bind(ScriptMain, []*record.Record{mapRecord("c")}))
		require.NoError(t, err)

		assert.Equal(t, 1, env.State.Len())
		assert.True(t, env.State.Has("n"))
	})
}

func TestExecutionTimeout(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo:      `for { }`,
		LanguageJavaScript: `for (;;) {}`,
		LanguageStarlark: `
while True:
    pass
`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		limits := GetDefaultSecurityLimits()
		limits.MaxExecutionTime = 50 * time.Millisecond
		engine, err := NewFactory().WithSecurityLimits(limits).CreateEngine(lang)
		require.NoError(t, err)

		_, err = engine.Execute(context.Background(), compileScript(t, engine, lang, src), testEnv().Bind(ScriptMain, nil))
		var scriptErr *ScriptError
		require.ErrorAs(t, err, &scriptErr)
		assert.Equal(t, ErrorTypeTimeout, scriptErr.Type)
	})
}

func TestCompileErrors(t *testing.T) {
	forEachBackend(t, scripts{
		LanguageTengo:      `x := `,
		LanguageJavaScript: `function (`,
		LanguageStarlark:   `def broken(`,
	}, func(t *testing.T, lang ScriptLanguage, src string) {
		engine, err := NewFactory().CreateEngine(lang)
		require.NoError(t, err)
		_, err = engine.Compile(&Script{Stage: "test", Name: ScriptMain, Language: lang, Content: src})
		var scriptErr *ScriptError
		require.ErrorAs(t, err, &scriptErr)
		assert.Equal(t, ErrorTypeCompilation, scriptErr.Type)
	})
}

func TestJavaScriptTopLevelDeclarationsAreFreshPerRun(t *testing.T) {
	engine := NewJSEngine()
	compiled := compileScript(t, engine, LanguageJavaScript, `const seen = records.length; log(seen);`)
	for i := 0; i < 2; i++ {
		_, err := engine.Execute(context.Background(), compiled, testEnv().Bind(ScriptMain, []*record.Record{mapRecord("r")}))
		require.NoError(t, err)
	}
}

func TestTengoModulesFollowAllowedPackages(t *testing.T) {
	engine := NewTengoEngine()

	_, err := engine.Compile(&Script{Stage: "test", Name: ScriptMain, Language: LanguageTengo,
		Content: `text := import("text")
x := text.to_upper("a")`})
	require.NoError(t, err)

	_, err = engine.Compile(&Script{Stage: "test", Name: ScriptMain, Language: LanguageTengo,
		Content: `os := import("os")`})
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, ErrorTypeCompilation, scriptErr.Type)
}

func TestTengoAllocationLimit(t *testing.T) {
	engine := NewTengoEngine()
	limits := GetDefaultSecurityLimits()
	limits.MaxAllocs = 100
	require.NoError(t, engine.SetSecurityLimits(limits))

	compiled := compileScript(t, engine, LanguageTengo, `
a := []
for i := 0; i < 10000; i++ {
	a = append(a, [i])
}`)
	_, err := engine.Execute(context.Background(), compiled, testEnv().Bind(ScriptMain, nil))
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, ErrorTypeMemoryLimit, scriptErr.Type)
}

func TestTengoCollectionFuncs(t *testing.T) {
	in := mapRecord("r1",
		"list", field.NewList([]*field.Field{field.NewInteger(1)}),
		"k", field.NewString("gone"),
		"keep", field.NewString("kept"),
	)
	in.Header().Set("a", "1")
	in.Header().Set("b", "2")
	env := testEnv()

	out, err := runScript(t, LanguageTengo, `
for r in records {
	push(r.value.list, "x", "y")
	remove(r.value, "k")
	r.value.fields = size(r.value)
	r.value.items = size(r.value.list)
	remove(r.attributes, "a")
	r.attributes.count = string(size(r.attributes))
	state.x = 1
	state.y = 2
	remove(state, "x")
	r.value.entries = size(state)
	r.value.plain = size(push([1], 2))
	m := {a: 1}
	remove(m, "a")
	r.value.empty = size(m)
	r.value.chars = size("abc")
	output.write(r)
}`, env, in)
	require.NoError(t, err)
	require.Len(t, out.Effects.Outputs, 1)
	rec := out.Effects.Outputs[0]

	items, ok := getField(t, rec, "/list").List()
	require.True(t, ok)
	require.Len(t, items, 3)
	assert.Equal(t, "x", items[1].Value())
	assert.Equal(t, "y", items[2].Value())

	assert.False(t, rec.Has("/k"))
	assert.Equal(t, "kept", getField(t, rec, "/keep").Value())
	for path, want := range map[string]int{
		"/fields":  2,
		"/items":   3,
		"/entries": 1,
		"/plain":   2,
		"/empty":   0,
		"/chars":   3,
	} {
		assert.EqualValues(t, want, getField(t, rec, path).Value(), path)
	}

	_, ok = rec.Header().Get("a")
	assert.False(t, ok)
	count, ok := rec.Header().Get("count")
	assert.True(t, ok)
	assert.Equal(t, "1", count)

	assert.False(t, env.State.Has("x"))
	assert.True(t, env.State.Has("y"))
}

func TestTengoRemoveRejectsNonStringKey(t *testing.T) {
	_, err := runScript(t, LanguageTengo, `
for r in records {
	remove(r.value, 1)
}`, testEnv(), mapRecord("r1", "k", field.NewString("v")))
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, ErrorTypeExecution, scriptErr.Type)
}

func TestHostPanicIsNotRecoverable(t *testing.T) {
	compiled := &CompiledScript{Script: &Script{Stage: "test", Name: ScriptMain, Language: LanguageTengo}}
	b := testEnv().Bind(ScriptMain, []*record.Record{mapRecord("r1")})

	_, err := execute(context.Background(), compiled, b, GetDefaultSecurityLimits(), func(context.Context) error {
		var counts map[string]int
		counts["boom"]++
		return nil
	}, func(err error) string { return err.Error() })

	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, ErrorTypeInternal, scriptErr.Type)
	assert.False(t, IsRecoverable(scriptErr))
	assert.Contains(t, scriptErr.Error(), "script panic")
}

func TestStarlarkStepLimit(t *testing.T) {
	engine := NewStarlarkEngine()
	limits := GetDefaultSecurityLimits()
	limits.MaxAllocs = 1000
	require.NoError(t, engine.SetSecurityLimits(limits))

	compiled := compileScript(t, engine, LanguageStarlark, `
n = 0
for i in range(1000000):
    n += i
`)
	_, err := engine.Execute(context.Background(), compiled, testEnv().Bind(ScriptMain, nil))
	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, ErrorTypeMemoryLimit, scriptErr.Type)
}

func TestScaffoldTemplatesRun(t *testing.T) {
	for _, lang := range backends {
		t.Run(string(lang), func(t *testing.T) {
			engine, err := NewFactory().CreateEngine(lang)
			require.NoError(t, err)
			env := testEnv()

			run := func(name string, records ...*record.Record) *scope.Effects {
				src, err := Template(lang, name)
				require.NoError(t, err)
				compiled, err := engine.Compile(&Script{Stage: "test", Name: name, Language: lang, Content: src})
				require.NoError(t, err)
				out, err := engine.Execute(context.Background(), compiled, env.Bind(name, records))
				require.NoError(t, err)
				return out.Effects
			}

			run(ScriptInit)
			main := run(ScriptMain,
				mapRecord("keep", "name", field.NewString("a")),
				mapRecord("drop", "reject", field.NewBoolean(true)))
			destroy := run(ScriptDestroy)

			require.Len(t, main.Outputs, 1)
			assert.Equal(t, "keep", main.Outputs[0].ID())
			require.Len(t, main.Errors, 1)
			assert.Equal(t, "drop", main.Errors[0].Record.ID())
			require.Len(t, destroy.Events, 1)
			assert.Equal(t, "stage-summary", destroy.Events[0].Type)
			assert.True(t, getField(t, destroy.Events[0].Record, "/count").Equal(field.NewLong(2)))
		})
	}
}
