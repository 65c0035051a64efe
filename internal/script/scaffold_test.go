package script

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaffolder_Scaffold(t *testing.T) {
	for _, lang := range backends {
		t.Run(string(lang), func(t *testing.T) {
			fs := afero.NewMemMapFs()

			result, err := NewScaffolder(fs, false).Scaffold("/stage", lang)
			require.NoError(t, err)
			ext := Extension(lang)
			assert.Equal(t, []string{"main" + ext, "init" + ext, "destroy" + ext}, result.Written)
			assert.Empty(t, result.Skipped)

			registry := NewRegistry(fs, "/stage", "stage")
			require.NoError(t, registry.LoadScripts())
			language, err := registry.Language()
			require.NoError(t, err)
			assert.Equal(t, lang, language)
		})
	}
}

func TestScaffolder_KeepsExistingFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/stage/main.js", []byte("mine"), 0o644))

	result, err := NewScaffolder(fs, false).Scaffold("/stage", LanguageJavaScript)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.js"}, result.Skipped)
	assert.Len(t, result.Written, 2)

	content, err := afero.ReadFile(fs, "/stage/main.js")
	require.NoError(t, err)
	assert.Equal(t, "mine", string(content))

	result, err = NewScaffolder(fs, true).Scaffold("/stage", LanguageJavaScript)
	require.NoError(t, err)
	assert.Len(t, result.Written, 3)
	content, err = afero.ReadFile(fs, "/stage/main.js")
	require.NoError(t, err)
	assert.NotEqual(t, "mine", string(content))
}

func TestScaffolder_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := NewScaffolder(fs, false).Scaffold("/stage", ScriptLanguage("cobol"))
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/file", []byte("x"), 0o644))
	_, err = NewScaffolder(fs, false).Scaffold("/file", LanguageTengo)
	assert.Error(t, err)
}
