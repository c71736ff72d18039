//go:build ignore

// Package main generates a synthetic Russian document corpus for load
// testing ingestion.
// Usage: go run scripts/generate-test-corpus.go -files 200 -output testdata/corpus
package main

import (
	"archive/zip"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 200, "Number of files to generate")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

const documentTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>%s № %d</w:t></w:r></w:p>
    <w:p><w:r><w:t>О порядке %s</w:t></w:r></w:p>
    <w:p/>
    <w:p><w:r><w:t>1. Общие положения</w:t></w:r></w:p>
%s    <w:tbl>
      <w:tblPr/>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Должность</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Оклад</w:t></w:r></w:p></w:tc>
      </w:tr>
%s    </w:tbl>
    <w:p><w:r><w:t>Контроль за исполнением оставляю за собой.</w:t></w:r></w:p>
  </w:body>
</w:document>`

const coreTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <dc:title>%s о порядке %s</dc:title>
  <dc:creator>%s</dc:creator>
  <dcterms:created xsi:type="dcterms:W3CDTF">2024-%02d-15T10:00:00Z</dcterms:created>
  <dcterms:modified xsi:type="dcterms:W3CDTF">2024-%02d-20T09:30:00Z</dcterms:modified>
</cp:coreProperties>`

// Word pools for generating plausible corporate documents.
var (
	docTypes = []string{
		"ПРИКАЗ", "ПОЛОЖЕНИЕ", "РЕГЛАМЕНТ", "ИНСТРУКЦИЯ",
		"РАСПОРЯЖЕНИЕ", "ПРОТОКОЛ",
	}
	topics = []string{
		"оформления отпусков", "командировочных расходов", "оплаты труда",
		"охраны труда", "работы с персональными данными",
		"внутреннего трудового распорядка", "проведения инвентаризации",
		"пожарной безопасности", "доступа к информационным системам",
		"технического обслуживания оборудования",
	}
	departments = []string{
		"Отдел кадров", "Бухгалтерия", "Юридический отдел",
		"Служба безопасности", "Отдел снабжения", "Техническая служба",
	}
	positions = []string{
		"Инженер", "Бухгалтер", "Юрисконсульт", "Специалист",
		"Руководитель отдела", "Менеджер", "Аналитик",
	}
	goods = []string{
		"Бумага офисная", "Картридж лазерный", "Ноутбук", "Монитор",
		"Клавиатура", "Кресло офисное", "Сетевой фильтр", "Шкаф архивный",
	}
	authors = []string{
		"Иванова А.П.", "Петров С.Н.", "Сидорова Е.В.",
		"Кузнецов Д.М.", "Васильева О.И.",
	}
	sentences = []string{
		"Работник обязан уведомить руководителя не позднее чем за две недели.",
		"Ответственность за исполнение возлагается на руководителей подразделений.",
		"Выплаты производятся в течение десяти рабочих дней.",
		"Данные предоставляются по запросу уполномоченного сотрудника.",
		"Изменения вносятся приказом генерального директора.",
		"Документ вступает в силу с момента подписания.",
		"Срок хранения документов составляет пять лет.",
		"Согласование проводится в установленном порядке.",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	for _, subdir := range []string{"docx", "csv", "json"} {
		if err := os.MkdirAll(filepath.Join(*outputDir, subdir), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating subdirectory %s: %v\n", subdir, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d files in %s...\n", *numFiles, *outputDir)

	docxFiles := *numFiles * 40 / 100
	csvFiles := *numFiles * 30 / 100
	jsonFiles := *numFiles - docxFiles - csvFiles

	generated := 0
	for i := 0; i < docxFiles; i++ {
		if err := generateDocx(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating docx %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < csvFiles; i++ {
		if err := generateCSV(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating csv %d: %v\n", i, err)
			continue
		}
		generated++
	}
	for i := 0; i < jsonFiles; i++ {
		if err := generateJSON(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "Error generating json %d: %v\n", i, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d files successfully.\n", generated)
}

func randomWord(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// titleCase lowercases an all-caps heading, keeping the first letter upper.
func titleCase(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return s
	}
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func generateDocx(rng *rand.Rand, index int) error {
	docType := randomWord(rng, docTypes)
	topic := randomWord(rng, topics)

	var body strings.Builder
	for i := 0; i < 3+rng.Intn(5); i++ {
		fmt.Fprintf(&body, "    <w:p><w:r><w:t>%s</w:t></w:r></w:p>\n", randomWord(rng, sentences))
	}

	var rows strings.Builder
	for i := 0; i < 2+rng.Intn(4); i++ {
		fmt.Fprintf(&rows,
			"      <w:tr>\n        <w:tc><w:p><w:r><w:t>%s</w:t></w:r></w:p></w:tc>\n        <w:tc><w:p><w:r><w:t>%d</w:t></w:r></w:p></w:tc>\n      </w:tr>\n",
			randomWord(rng, positions), 50000+rng.Intn(100)*1000)
	}

	documentXML := fmt.Sprintf(documentTemplate, docType, index+1, topic, body.String(), rows.String())
	month := 1 + rng.Intn(12)
	coreXML := fmt.Sprintf(coreTemplate, titleCase(docType), topic, randomWord(rng, authors), month, month)

	path := filepath.Join(*outputDir, "docx", fmt.Sprintf("doc_%03d.docx", index))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	w, err := zw.Create("word/document.xml")
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		return err
	}
	cw, err := zw.Create("docProps/core.xml")
	if err != nil {
		return err
	}
	if _, err := cw.Write([]byte(coreXML)); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func generateCSV(rng *rand.Rand, index int) error {
	var sb strings.Builder
	sb.WriteString("Товар;Цена;Количество;Поставщик\n")
	for i := 0; i < 5+rng.Intn(20); i++ {
		fmt.Fprintf(&sb, "%s;%d.%02d;%d;%s\n",
			randomWord(rng, goods), 100+rng.Intn(50000), rng.Intn(100),
			1+rng.Intn(200), randomWord(rng, departments))
	}

	path := filepath.Join(*outputDir, "csv", fmt.Sprintf("price_%03d.csv", index))
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func generateJSON(rng *rand.Rand, index int) error {
	type employee struct {
		Name        string `json:"фио"`
		Position    string `json:"должность"`
		AccessLevel int    `json:"уровень_доступа"`
	}

	staff := make([]employee, 0, 3+rng.Intn(5))
	for i := 0; i < cap(staff); i++ {
		staff = append(staff, employee{
			Name:        randomWord(rng, authors),
			Position:    randomWord(rng, positions),
			AccessLevel: 1 + rng.Intn(100),
		})
	}

	handbook := map[string]any{
		"подразделение": randomWord(rng, departments),
		"руководитель":  randomWord(rng, authors),
		"телефон":       fmt.Sprintf("+7 (495) %03d-%02d-%02d", rng.Intn(1000), rng.Intn(100), rng.Intn(100)),
		"сотрудники":    staff,
	}

	data, err := json.MarshalIndent(handbook, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(*outputDir, "json", fmt.Sprintf("handbook_%03d.json", index))
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
