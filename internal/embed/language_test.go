package embed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"russian question", "Какие обязанности у копирайтера?", "ru"},
		{"english question", "What are the copywriter's duties?", "en"},
		{"russian with latin term", "как настроить kubernetes кластер", "ru"},
		{"mostly latin", "REST API endpoint configuration", "en"},
		{"single russian word", "отпуск", "ru"},
		{"digits only", "123 456 789", "en"},
		{"empty", "", "en"},
		{"yo letter", "ёлка", "ru"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text))
		})
	}
}

func TestQueryPrefix(t *testing.T) {
	prefix, lang := QueryPrefix("Какие обязанности у копирайтера?")
	assert.Equal(t, "ru", lang)
	assert.True(t, strings.HasPrefix(prefix, "Инструкция:"))

	prefix, lang = QueryPrefix("What are the copywriter's duties?")
	assert.Equal(t, "en", lang)
	assert.True(t, strings.HasPrefix(prefix, "Instruct:"))
}
