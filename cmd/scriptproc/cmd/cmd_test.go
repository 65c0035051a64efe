package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/scriptproc/internal/field"
	"github.com/nfrund/scriptproc/internal/processor"
	"github.com/nfrund/scriptproc/internal/record"
	"github.com/nfrund/scriptproc/internal/script"
)

const inputRecords = `{"id":"keep","value":{"type":"MAP","value":{"name":{"type":"STRING","value":"a"}}}}
{"id":"drop","value":{"type":"MAP","value":{"name":{"type":"STRING","value":"b"},"reject":{"type":"BOOLEAN","value":true}}}}
`

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, fs afero.Fs, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	injector := newInjector(fs, streams{in: strings.NewReader(stdin), out: &out, err: &errOut})
	t.Cleanup(func() { injector.Shutdown() })

	root := NewRootCommand(injector)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func scaffoldStage(t *testing.T, fs afero.Fs, language script.ScriptLanguage) {
	t.Helper()
	_, err := script.NewScaffolder(fs, false).Scaffold("stage", language)
	require.NoError(t, err)
}

func readLines(t *testing.T, fs afero.Fs, path string) []string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestLanguagesCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "", "languages")
	require.NoError(t, err)
	assert.Contains(t, out, "tengo")
	assert.Contains(t, out, "*.js")
	assert.Contains(t, out, "*.star")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "", "version")
	require.NoError(t, err)
	assert.Equal(t, "scriptproc v"+version+"\n", out)
}

func TestScaffoldCommand(t *testing.T) {
	fs := afero.NewMemMapFs()
	out, err := execute(t, fs, "", "scaffold", "--language", "js", "--dir", "stage")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote main.js")
	for _, file := range []string{"main.js", "init.js", "destroy.js"} {
		exists, err := afero.Exists(fs, "stage/"+file)
		require.NoError(t, err)
		assert.True(t, exists, file)
	}

	out, err = execute(t, fs, "", "scaffold", "--language", "javascript", "--dir", "stage")
	require.NoError(t, err)
	assert.Contains(t, out, "kept  main.js")

	_, err = execute(t, fs, "", "scaffold", "--language", "lua", "--dir", "stage")
	assert.ErrorContains(t, err, "unsupported script language")
}

func TestRunCommandWritesEveryChannel(t *testing.T) {
	for _, language := range script.NewFactory().SupportedLanguages() {
		t.Run(string(language), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			scaffoldStage(t, fs, language)
			require.NoError(t, afero.WriteFile(fs, "in.jsonl", []byte(inputRecords), 0o644))

			_, err := execute(t, fs, "", "run",
				"--scripts", "stage",
				"--stage", "orders",
				"--input", "in.jsonl",
				"--output", "out/outputs.jsonl",
				"--errors", "out/errors.jsonl",
				"--events", "out/events.jsonl",
			)
			require.NoError(t, err)

			outputs, err := record.ReadAll(strings.NewReader(strings.Join(readLines(t, fs, "out/outputs.jsonl"), "\n")))
			require.NoError(t, err)
			require.Len(t, outputs, 1)
			assert.Equal(t, "keep", outputs[0].ID())
			count, err := outputs[0].Get("/count")
			require.NoError(t, err)
			assert.True(t, count.Equal(field.NewLong(1)), "count: %s", count)

			errorLines := readLines(t, fs, "out/errors.jsonl")
			require.Len(t, errorLines, 1)
			var errorRecord struct {
				Record  *record.Record `json:"record"`
				Message string         `json:"message"`
			}
			require.NoError(t, json.Unmarshal([]byte(errorLines[0]), &errorRecord))
			assert.Equal(t, "drop", errorRecord.Record.ID())
			assert.Equal(t, "rejected by script", errorRecord.Message)

			eventLines := readLines(t, fs, "out/events.jsonl")
			require.Len(t, eventLines, 1)
			var ev record.Event
			require.NoError(t, json.Unmarshal([]byte(eventLines[0]), &ev))
			assert.Equal(t, "stage-summary", ev.Type)
			assert.Equal(t, 1, ev.Version)
			total, err := ev.Record.Get("/count")
			require.NoError(t, err)
			assert.True(t, total.Equal(field.NewLong(2)), "total: %s", total)
		})
	}
}

func TestRunCommandReadsStdinAndWritesStdout(t *testing.T) {
	fs := afero.NewMemMapFs()
	scaffoldStage(t, fs, script.LanguageStarlark)

	out, err := execute(t, fs, inputRecords, "run", "--scripts", "stage", "--mode", "batch")
	require.NoError(t, err)
	outputs, err := record.ReadAll(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "keep", outputs[0].ID())
}

func TestRunCommandStopsOnErrorRecords(t *testing.T) {
	fs := afero.NewMemMapFs()
	scaffoldStage(t, fs, script.LanguageTengo)
	require.NoError(t, afero.WriteFile(fs, "in.jsonl", []byte(inputRecords), 0o644))

	_, err := execute(t, fs, "", "run",
		"--scripts", "stage",
		"--input", "in.jsonl",
		"--output", "",
		"--on-error", "STOP_PIPELINE",
		"--batch-size", "1",
	)
	var stageErr *processor.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, processor.KindErrorRecords, stageErr.Kind)
	assert.Equal(t, "drop", stageErr.RecordID)
	assert.Contains(t, err.Error(), "batch 2 of 2")
}

func TestRunCommandPassesParameters(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "stage/main.js", []byte(`
for (const r of records) {
  r.value.greeting = sdcUserParams.greeting;
  r.value.company = sdcFunctions.pipelineParameters().company;
  r.value.preview = sdcFunctions.isPreview();
  output.write(r);
}`), 0o644))

	out, err := execute(t, fs, inputRecords, "run",
		"--scripts", "stage",
		"--param", "greeting=hi",
		"--pipeline-param", "company=acme",
		"--preview",
	)
	require.NoError(t, err)
	outputs, err := record.ReadAll(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	for path, want := range map[string]*field.Field{
		"/greeting": field.NewString("hi"),
		"/company":  field.NewString("acme"),
		"/preview":  field.NewBoolean(true),
	} {
		got, err := outputs[0].Get(path)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), path)
	}
}

func TestRunCommandFailures(t *testing.T) {
	t.Run("missing scripts directory", func(t *testing.T) {
		_, err := execute(t, afero.NewMemMapFs(), "", "run", "--scripts", "nowhere")
		var scriptErr *script.ScriptError
		require.ErrorAs(t, err, &scriptErr)
		assert.Equal(t, script.ErrorTypeConfiguration, scriptErr.Type)
	})

	t.Run("invalid mode", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		scaffoldStage(t, fs, script.LanguageTengo)
		_, err := execute(t, fs, "", "run", "--scripts", "stage", "--mode", "STREAM")
		assert.True(t, processor.IsConfiguration(err), "got %v", err)
	})

	t.Run("watch needs an input file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		scaffoldStage(t, fs, script.LanguageTengo)
		_, err := execute(t, fs, "", "run", "--scripts", "stage", "--watch")
		assert.ErrorContains(t, err, "--watch")
	})

	t.Run("script failure in batch mode", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "stage/main.star", []byte(`fail("broken batch")`), 0o644))
		_, err := execute(t, fs, inputRecords, "run", "--scripts", "stage", "--mode", "BATCH")
		var stageErr *processor.StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, processor.KindScript, stageErr.Kind)
		assert.Contains(t, err.Error(), "broken batch")
	})
}

func TestCheckCommand(t *testing.T) {
	fs := afero.NewMemMapFs()
	scaffoldStage(t, fs, script.LanguageTengo)

	out, err := execute(t, fs, "", "check", "--scripts", "stage")
	require.NoError(t, err)
	assert.Contains(t, out, "ok   destroy.tengo")
	assert.Contains(t, out, "ok   init.tengo")
	assert.Contains(t, out, "ok   main.tengo")

	require.NoError(t, afero.WriteFile(fs, "stage/init.tengo", []byte("x := "), 0o644))
	out, err = execute(t, fs, "", "check", "--scripts", "stage")
	var scriptErr *script.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, script.ErrorTypeCompilation, scriptErr.Type)
	assert.Contains(t, out, "FAIL init.tengo")
	assert.Contains(t, out, "ok   main.tengo")
}
