package i18n

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedCatalogs(t *testing.T) {
	m, err := Load("ru")
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "ru"}, m.Languages())

	ru := m.Translator("ru")
	en := m.Translator("en-US")
	assert.Equal(t, "en", en.Lang())
	assert.NotEqual(t, ru.T("start.welcome"), en.T("start.welcome"))
	assert.NotEqual(t, "start.welcome", ru.T("start.welcome"))
}

func TestTranslator_Fallbacks(t *testing.T) {
	fsys := fstest.MapFS{
		"l/all.yaml": {Data: []byte(`
ru:
  menu:
    library: "Библиотека"
    stats: "Новых: %d"
en:
  menu:
    library: "Library"
`)},
	}

	m, err := LoadFS(fsys, "l", "ru")
	require.NoError(t, err)

	en := m.Translator("en")
	assert.Equal(t, "Library", en.T("menu.library"))
	assert.Equal(t, "Новых: 3", en.Tf("menu.stats", 3))
	assert.Equal(t, "menu.unknown", en.T("menu.unknown"))
	assert.Equal(t, "ru", m.Translator("de").Lang())
}

func TestLoadFS_MissingDefault(t *testing.T) {
	fsys := fstest.MapFS{"l/en.yaml": {Data: []byte("en:\n  a: b\n")}}

	_, err := LoadFS(fsys, "l", "ru")
	require.Error(t, err)
}
