package retrieval

import "strings"

type topic struct {
	stems []string
	query string
}

// contractTopics map contract vocabulary to a statute query. Order is the
// order queries are issued and merged in.
var contractTopics = []topic{
	{[]string{"купл", "продаж"}, "договор купли продажи существенные условия"},
	{[]string{"услуг"}, "договор оказания услуг обязательства"},
	{[]string{"труд", "работник"}, "трудовой договор обязательные условия"},
	{[]string{"аренд"}, "договор аренды существенные условия"},
	{[]string{"поставк"}, "договор поставки обязательства"},
}

// GenericContractQuery is used when no contract topic is recognized.
const GenericContractQuery = "договор существенные условия обязательства"

// BroadContractQueries are always searched during contract analysis.
var BroadContractQueries = []string{
	"существенные условия договора",
	"заключение договора обязательные условия",
	"неустойка штраф пеня",
	"валюта расчетов резиденты",
	"расторжение договора",
}

// TopicQueries derives one query per contract topic found in text.
func TopicQueries(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, t := range contractTopics {
		if containsAny(lower, t.stems) {
			out = append(out, t.query)
		}
	}
	if len(out) == 0 {
		out = []string{GenericContractQuery}
	}
	return out
}

type draftCategory struct {
	stems   []string
	queries []string
}

var draftCategories = []draftCategory{
	{[]string{"аренд"}, []string{
		"договор аренды существенные условия",
		"права обязанности арендодателя арендатора",
		"расторжение договора аренды",
	}},
	{[]string{"услуг"}, []string{
		"договор оказания услуг существенные условия",
		"ответственность исполнителя заказчика",
		"качество услуг претензии",
	}},
	{[]string{"купл", "продаж", "поставк"}, []string{
		"договор купли продажи существенные условия",
		"поставка товаров условия",
		"переход права собственности",
	}},
	{[]string{"займ", "кредит"}, []string{
		"договор займа существенные условия",
		"проценты по займу",
		"обеспечение исполнения обязательств",
	}},
}

var defaultDraftQueries = []string{
	"существенные условия договора",
	"права обязанности сторон",
	"ответственность сторон договора",
}

// GenerationQueries returns the statute queries used to draft a contract of
// the given category. The first matching category wins.
func GenerationQueries(category string) []string {
	lower := strings.ToLower(category)
	for _, c := range draftCategories {
		if containsAny(lower, c.stems) {
			return append([]string(nil), c.queries...)
		}
	}
	return append([]string(nil), defaultDraftQueries...)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
