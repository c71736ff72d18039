package expand

// defaultSynonyms maps Russian corpus vocabulary to search-equivalent terms.
// Keys are lowercase; multi-word keys match bigrams and trigrams extracted
// from the query. A dictionary file configured at startup replaces this set.
var defaultSynonyms = map[string][]string{
	// Технические термины
	"api":              {"интерфейс", "эндпоинт", "rest"},
	"база данных":      {"бд", "субд", "хранилище данных"},
	"бд":               {"база данных", "субд"},
	"программирование": {"разработка", "кодирование", "написание кода"},
	"разработка":       {"программирование", "создание", "проектирование"},
	"сервер":           {"хост", "узел", "машина"},
	"резервное копирование": {"бэкап", "backup", "копия данных"},
	"бэкап":      {"резервное копирование", "backup"},
	"доступ":     {"права", "разрешение", "полномочия"},
	"настройка":  {"конфигурация", "параметры", "установка"},
	"ошибка":     {"сбой", "неисправность", "дефект"},
	"обновление": {"апдейт", "новая версия", "актуализация"},

	// Деловая лексика
	"клиент":          {"заказчик", "контрагент", "покупатель"},
	"продажи":         {"сбыт", "реализация", "выручка"},
	"маркетинг":       {"продвижение", "реклама"},
	"проект":          {"инициатива", "работа", "задача"},
	"документооборот": {"делопроизводство", "эдо", "документы"},
	"договор":         {"контракт", "соглашение", "сделка"},
	"приказ":          {"распоряжение", "указание", "постановление"},
	"отчет":           {"отчетность", "сводка", "доклад"},
	"сотрудник":       {"работник", "специалист", "персонал"},
	"отпуск":          {"отдых", "каникулы"},
	"зарплата":        {"заработная плата", "оклад", "оплата труда"},
	"увольнение":      {"расторжение трудового договора", "уход"},
	"командировка":    {"служебная поездка", "выезд"},
	"совещание":       {"встреча", "собрание", "планерка"},

	// Дизайн и креатив
	"дизайн":   {"оформление", "визуал", "макетирование"},
	"макет":    {"шаблон", "прототип", "эскиз"},
	"брендинг": {"фирменный стиль", "айдентика"},
	"логотип":  {"лого", "эмблема", "знак"},
}

// technicalProbeTerms widen expansion for technical queries.
var technicalProbeTerms = []string{
	"api", "база данных", "программирование", "разработка", "сервер",
}

// businessProbeTerms and designProbeTerms keep the default width but mark
// the query domain for logging.
var businessProbeTerms = []string{
	"клиент", "продажи", "маркетинг", "проект", "документооборот",
}

var designProbeTerms = []string{
	"дизайн", "макет", "брендинг", "логотип", "креатив",
}
