package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrank/docrank/internal/store"
)

func TestTableTitle(t *testing.T) {
	cases := []struct {
		name    string
		context string
		want    string
	}{
		{"last line wins", "Вводный текст.\nСписок сотрудников:", "Список сотрудников"},
		{"short lines skipped", "Штатное расписание отдела:\n№", "Штатное расписание отдела"},
		{"long lines skipped", "Итоги года:\n" + strings.Repeat("а", 150), "Итоги года"},
		{"empty context", "", "Таблица"},
		{"nothing plausible", "№\nп/п", "Таблица"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tableTitle(tc.context))
		})
	}
}

func TestProcessInContext(t *testing.T) {
	table := store.Table{
		Text: "[Заголовки таблицы: Имя | Оклад]\n[Строка 1: Иванов | 50000]",
		Rows: [][]string{{"Имя", "Оклад"}, {"Иванов", "50000"}},
	}
	content := []rune("Данные за год:\n" + table.Text + "\nПримечание.")

	p := NewTableProcessor()
	pt := p.ProcessInContext(table, content, 15)

	assert.Equal(t, "Данные за год", pt.Title)
	assert.Equal(t, "Данные за год:", pt.ContextBefore)
	assert.Equal(t, "Примечание.", pt.ContextAfter)
	assert.Equal(t, []string{"Имя", "Оклад"}, pt.Headers)
	assert.Equal(t, [][]string{{"Иванов", "50000"}}, pt.Rows)
}

func TestProcessInContext_WindowsAreBounded(t *testing.T) {
	table := store.Table{
		Text: "[Заголовки таблицы: А]",
		Rows: [][]string{{"А"}},
	}
	content := []rune(strings.Repeat("а", 300) + "\n" + table.Text)

	p := NewTableProcessor()
	pt := p.ProcessInContext(table, content, 301)

	// Only the last 200 runes before the table are considered, and there is
	// nothing after it.
	assert.Equal(t, 199, utf8.RuneCountInString(pt.ContextBefore))
	assert.Equal(t, "", pt.ContextAfter)
	assert.Equal(t, "Таблица", pt.Title)
}

func TestRowLine(t *testing.T) {
	headers := []string{"Имя", "Должность"}

	assert.Equal(t, "Строка 1: Имя: Иванов | Должность: директор",
		rowLine(1, headers, []string{"Иванов", "директор"}))
	assert.Equal(t, "Строка 2: Имя: Петров",
		rowLine(2, headers, []string{"Петров", ""}))

	// A row that does not align with the headers falls back to bare values.
	assert.Equal(t, "Строка 3: а | б", rowLine(3, []string{"Имя"}, []string{"а", "б"}))
	assert.Equal(t, "Строка 1: х | у", rowLine(1, nil, []string{"х", "у"}))

	assert.Equal(t, "", rowLine(1, headers, []string{"", ""}))
}

func TestHeadersAndRows(t *testing.T) {
	table := store.Table{Rows: [][]string{
		{" Имя ", "Должность"},
		{"Иванов", ""},
		{"", ""},
		{"Петров", " инженер "},
	}}

	headers, rows := headersAndRows(table)
	assert.Equal(t, []string{"Имя", "Должность"}, headers)
	assert.Equal(t, [][]string{{"Иванов", ""}, {"Петров", "инженер"}}, rows)

	// An all-empty header row counts as no headers.
	headers, rows = headersAndRows(store.Table{Rows: [][]string{{"", ""}, {"а", "б"}}})
	assert.Nil(t, headers)
	assert.Equal(t, [][]string{{"а", "б"}}, rows)

	headers, rows = headersAndRows(store.Table{})
	assert.Nil(t, headers)
	assert.Nil(t, rows)

	// A header-only grid has no data rows.
	headers, rows = headersAndRows(store.Table{Rows: [][]string{{"Имя"}}})
	assert.Equal(t, []string{"Имя"}, headers)
	assert.Nil(t, rows)
}

func TestRowPieces(t *testing.T) {
	pt := ProcessedTable{
		Title:         "Штат",
		Headers:       []string{"Имя"},
		Rows:          [][]string{{"Иванов"}, {"Петров"}},
		ContextBefore: "до таблицы",
		ContextAfter:  "после таблицы",
	}

	p := NewTableProcessor()
	pieces := p.rowPieces(pt, 10, 50)
	require.Len(t, pieces, 2)

	assert.Equal(t,
		"Контекст документа: до таблицы\nТаблица: Штат\nСтолбцы таблицы: Имя\nСтрока 1: Имя: Иванов\nДалее в документе: после таблицы",
		pieces[0].text)

	for i, pc := range pieces {
		assert.Equal(t, 10, pc.start)
		assert.Equal(t, 50, pc.end)
		assert.Equal(t, TypeTableRow, pc.meta.String("chunk_type"))
		assert.Equal(t, "structured_data", pc.meta.String("content_type"))

		idx, ok := pc.meta.Int("table_row_index")
		require.True(t, ok)
		assert.Equal(t, i+1, idx)

		weight, ok := pc.meta.Float("search_weight")
		require.True(t, ok)
		assert.InDelta(t, 2.0, weight, 1e-9)
	}
}

func TestRowPieces_WithoutContextOrHeaders(t *testing.T) {
	pt := ProcessedTable{
		Title: "Таблица",
		Rows:  [][]string{{"одиночное значение"}},
	}

	p := NewTableProcessor()
	pieces := p.rowPieces(pt, 0, 10)
	require.Len(t, pieces, 1)

	// No context lines, no header line: just the title and the row.
	assert.Equal(t, "Таблица: Таблица\nСтрока 1: одиночное значение", pieces[0].text)
	assert.False(t, pieces[0].meta.Bool("is_complete_section"))
}
