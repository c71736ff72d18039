package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/errors"
)

func writeJSONFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "данные.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestJSONParser_FlattensKeyPathsInFileOrder(t *testing.T) {
	path := writeJSONFile(t, `{
		"организация": {
			"название": "Ромашка",
			"активна": true,
			"филиалы": ["Москва", "Тверь"]
		},
		"год": 2024
	}`)
	parsed, err := (&JSONParser{}).Parse(path)
	require.NoError(t, err)

	want := "организация.название: Ромашка\n" +
		"организация.активна: да\n" +
		"организация.филиалы[0]: Москва\n" +
		"организация.филиалы[1]: Тверь\n" +
		"год: 2024"
	assert.Equal(t, want, parsed.Text)
	assert.False(t, parsed.Structured)
}

func TestJSONParser_RootArrayElements(t *testing.T) {
	path := writeJSONFile(t, `["Москва", false, null, 3.50]`)
	parsed, err := (&JSONParser{}).Parse(path)
	require.NoError(t, err)

	want := "элемент_0: Москва\n" +
		"элемент_1: нет\n" +
		"элемент_3: 3.50"
	assert.Equal(t, want, parsed.Text)
}

func TestJSONParser_ScalarRendering(t *testing.T) {
	path := writeJSONFile(t, `{"активен": true, "удален": false, "комментарий": null, "счет": 150, "имя": "  Анна  "}`)
	parsed, err := (&JSONParser{}).Parse(path)
	require.NoError(t, err)

	want := "активен: да\n" +
		"удален: нет\n" +
		"счет: 150\n" +
		"имя: Анна"
	assert.Equal(t, want, parsed.Text)
}

func TestJSONParser_DepthCapReplacesSubtree(t *testing.T) {
	content := strings.Repeat(`{"a":`, MaxJSONDepth+2) + `"x"` + strings.Repeat("}", MaxJSONDepth+2)
	path := writeJSONFile(t, content)

	parsed, err := (&JSONParser{}).Parse(path)
	require.NoError(t, err)

	prefix := strings.TrimSuffix(strings.Repeat("a.", MaxJSONDepth), ".")
	assert.Equal(t, prefix+": [слишком глубокая вложенность]", parsed.Text)
	assert.NotContains(t, parsed.Text, "x")
}

func TestJSONParser_InvalidJSON(t *testing.T) {
	path := writeJSONFile(t, `{"сломан": `)
	_, err := (&JSONParser{}).Parse(path)
	require.Error(t, err)
	assert.Equal(t, errors.KindCorruption, errors.KindOf(err))
}

func TestJSONParser_TrailingData(t *testing.T) {
	path := writeJSONFile(t, `{"a": 1} мусор`)
	_, err := (&JSONParser{}).Parse(path)
	require.Error(t, err)
	assert.Equal(t, errors.KindCorruption, errors.KindOf(err))
}

func TestJSONParser_NoTextualContent(t *testing.T) {
	for _, content := range []string{`{}`, `{"a": "   "}`, `{"a": null}`} {
		path := writeJSONFile(t, content)
		_, err := (&JSONParser{}).Parse(path)
		require.Error(t, err, "content %s", content)
		assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	}
}
