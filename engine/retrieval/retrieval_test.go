package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/pkg/metrics"
)

// --- Mocks ---

type call struct {
	query string
	topK  int
}

type mockSearcher struct {
	mu      sync.Mutex
	results map[string][]domain.SearchHit
	delays  map[string]time.Duration
	errs    map[string]error
	calls   []call
}

func (m *mockSearcher) Search(_ context.Context, query string, topK int, _ map[string]string) ([]domain.SearchHit, error) {
	if d := m.delays[query]; d > 0 {
		time.Sleep(d)
	}
	m.mu.Lock()
	m.calls = append(m.calls, call{query, topK})
	m.mu.Unlock()
	if err := m.errs[query]; err != nil {
		return nil, err
	}
	hits := m.results[query]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *mockSearcher) limitFor(query string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.query == query {
			return c.topK
		}
	}
	return -1
}

func hit(id, source, article string, sim float64) domain.SearchHit {
	return domain.SearchHit{
		ID:         id,
		Content:    "content of " + id,
		Meta:       domain.ChunkMeta{Source: source, ArticleNumber: article, ArticleDisplay: article},
		Distance:   1 - sim,
		Similarity: sim,
	}
}

func ids(hits []domain.SearchHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func newService(m *mockSearcher) *Service {
	return New(m, DefaultOptions(), nil)
}

// --- Tests ---

func TestPerQueryLimit(t *testing.T) {
	tests := []struct {
		topK, n, pad, want int
	}{
		{40, 3, 5, 19},
		{40, 1, 5, 45},
		{40, 4, 5, 15},
		{60, 7, 0, 9},
		{10, 0, 5, 0},
	}
	for _, tt := range tests {
		if got := PerQueryLimit(tt.topK, tt.n, tt.pad); got != tt.want {
			t.Errorf("PerQueryLimit(%d, %d, %d) = %d, want %d", tt.topK, tt.n, tt.pad, got, tt.want)
		}
	}
}

func TestFanOutFirstSeenWinsInQueryOrder(t *testing.T) {
	m := &mockSearcher{
		results: map[string][]domain.SearchHit{
			"q1": {hit("q1-a1", "civil.docx", "1", 0.50), hit("q1-a2", "civil.docx", "2", 0.40)},
			"q2": {hit("q2-a1", "civil.docx", "1", 0.95), hit("q2-a3", "civil.docx", "3", 0.60)},
		},
		delays: map[string]time.Duration{"q1": 30 * time.Millisecond},
	}
	got, err := newService(m).FanOut(context.Background(), []string{"q1", "q2"}, 10)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"q2-a3", "q1-a1", "q1-a2"}
	if strings.Join(ids(got), ",") != strings.Join(want, ",") {
		t.Fatalf("merged = %v, want %v", ids(got), want)
	}
	for _, h := range got {
		if h.ID == "q2-a1" {
			t.Fatal("later duplicate of an article must be dropped")
		}
	}
	if m.limitFor("q1") != 10 || m.limitFor("q2") != 10 {
		t.Fatalf("expected per-query limit ceil(10/2)+5, got %d", m.limitFor("q1"))
	}
}

func TestFanOutTruncatesToTopK(t *testing.T) {
	m := &mockSearcher{results: map[string][]domain.SearchHit{
		"a": {hit("1", "s", "1", 0.1), hit("2", "s", "2", 0.9)},
		"b": {hit("3", "s", "3", 0.5), hit("4", "t", "1", 0.7)},
	}}
	got, err := newService(m).FanOut(context.Background(), []string{"a", "b"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids(got), ",") != "2,4" {
		t.Fatalf("unexpected ranking %v", ids(got))
	}
}

func TestFanOutPropagatesErrors(t *testing.T) {
	m := &mockSearcher{errs: map[string]error{"b": errors.New("index down")}}
	_, err := newService(m).FanOut(context.Background(), []string{"a", "b"}, 5)
	if err == nil || !strings.Contains(err.Error(), "index down") {
		t.Fatalf("expected search error, got %v", err)
	}
}

func TestShouldFallback(t *testing.T) {
	sims := func(vals ...float64) []domain.SearchHit {
		var out []domain.SearchHit
		for _, v := range vals {
			out = append(out, domain.SearchHit{Similarity: v})
		}
		return out
	}
	tests := []struct {
		name string
		hits []domain.SearchHit
		want bool
	}{
		{"weak", sims(0.1, 0.2, 0.15), true},
		{"strong", sims(0.6, 0.7), false},
		{"empty", nil, true},
		{"at threshold", sims(0.35), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldFallback(tt.hits, 0.35); got != tt.want {
				t.Fatalf("ShouldFallback() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroundRiskManagerFallback(t *testing.T) {
	m := &mockSearcher{results: map[string][]domain.SearchHit{
		"вопрос": {hit("1", "civil.docx", "5", 0.1), hit("2", "civil.docx", "6", 0.2)},
	}}
	reg := metrics.New()
	svc := newService(m).WithMetrics(reg)

	g, err := svc.Ground(context.Background(), "вопрос", ModeRiskManager)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Fallback {
		t.Fatal("weak hits must flag fallback")
	}
	if !strings.HasPrefix(g.Context, FallbackInstruction+"\n\n[Source 1: civil.docx | Статья 5]") {
		t.Fatalf("fallback instruction must precede the sources:\n%s", g.Context)
	}
	if m.limitFor("вопрос") != 60 {
		t.Fatalf("risk-manager must request 60 hits, got %d", m.limitFor("вопрос"))
	}
	if len(g.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(g.Sources))
	}
	out := reg.Render()
	if !strings.Contains(out, "lexrag_retrieval_fallback_total 1") {
		t.Fatalf("fallback not counted:\n%s", out)
	}
}

func TestGroundRiskManagerConfident(t *testing.T) {
	m := &mockSearcher{results: map[string][]domain.SearchHit{
		"вопрос": {hit("1", "civil.docx", "5", 0.6), hit("2", "civil.docx", "6", 0.7)},
	}}
	g, err := newService(m).Ground(context.Background(), "вопрос", ModeRiskManager)
	if err != nil {
		t.Fatal(err)
	}
	if g.Fallback || strings.Contains(g.Context, "FALLBACK") {
		t.Fatal("strong hits must not flag fallback")
	}
}

func TestGroundEmptyFlagsFallback(t *testing.T) {
	g, err := newService(&mockSearcher{}).Ground(context.Background(), "вопрос", ModeRiskManager)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Fallback || !strings.HasSuffix(g.Context, NoDocumentsContext) {
		t.Fatalf("unexpected grounding %+v", g)
	}
}

func TestGroundSmalltalk(t *testing.T) {
	var hits []domain.SearchHit
	for i := 0; i < 40; i++ {
		hits = append(hits, hit(string(rune('a'+i%26))+string(rune('0'+i/26)), "civil.docx", string(rune('A'+i)), 0.05))
	}
	m := &mockSearcher{results: map[string][]domain.SearchHit{"привет": hits}}
	opts := DefaultOptions()
	opts.SmalltalkTopK = 40
	opts.SmalltalkSources = 3

	g, err := New(m, opts, nil).Ground(context.Background(), "привет", ModeSmalltalk)
	if err != nil {
		t.Fatal(err)
	}
	if g.Fallback {
		t.Fatal("smalltalk never flags fallback")
	}
	if len(g.Sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(g.Sources))
	}
	if m.limitFor("привет") != 40 {
		t.Fatalf("unexpected limit %d", m.limitFor("привет"))
	}
}

func TestGroundRejectsEmptyQuestion(t *testing.T) {
	_, err := newService(&mockSearcher{}).Ground(context.Background(), "  ", ModeRiskManager)
	if !errors.Is(err, domain.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestAnalyzeContract(t *testing.T) {
	topic := "договор аренды существенные условия"
	m := &mockSearcher{results: map[string][]domain.SearchHit{
		topic: {hit("t1", "civil.docx", "535", 0.8)},
		"существенные условия договора": {hit("b1", "civil.docx", "535", 0.99), hit("b2", "civil.docx", "364", 0.7)},
		"неустойка штраф пеня":          {hit("b3", "civil.docx", "260", 0.75)},
	}}
	g, err := newService(m).AnalyzeContract(context.Background(), "Договор аренды нежилого помещения")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids(g.Hits), ",") != "t1,b3,b2" {
		t.Fatalf("unexpected hits %v", ids(g.Hits))
	}
	if m.limitFor(topic) != 45 {
		t.Fatalf("topic query limit = %d, want 45", m.limitFor(topic))
	}
	for _, q := range BroadContractQueries {
		if m.limitFor(q) != 5 {
			t.Fatalf("broad query %q limit = %d", q, m.limitFor(q))
		}
	}
	if g.Fallback {
		t.Fatal("analysis does not flag fallback")
	}
}

func TestDraft(t *testing.T) {
	m := &mockSearcher{}
	g, err := newService(m).Draft(context.Background(), "Договор займа")
	if err != nil {
		t.Fatal(err)
	}
	if g.Context != NoDocumentsContext {
		t.Fatalf("unexpected context %q", g.Context)
	}
	if m.limitFor("проценты по займу") != 19 {
		t.Fatalf("unexpected limit %d", m.limitFor("проценты по займу"))
	}
}

func TestTopicQueries(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"Договор КУПЛИ-продажи и поставки", []string{
			"договор купли продажи существенные условия",
			"договор поставки обязательства",
		}},
		{"работник обязуется оказать услуги", []string{
			"договор оказания услуг обязательства",
			"трудовой договор обязательные условия",
		}},
		{"соглашение о намерениях", []string{GenericContractQuery}},
	}
	for _, tt := range tests {
		got := TopicQueries(tt.text)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("TopicQueries(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestGenerationQueries(t *testing.T) {
	tests := []struct {
		category string
		first    string
	}{
		{"Аренда", "договор аренды существенные условия"},
		{"Оказание услуг", "договор оказания услуг существенные условия"},
		{"Поставка", "договор купли продажи существенные условия"},
		{"Кредит", "договор займа существенные условия"},
		{"Прочее", "существенные условия договора"},
	}
	for _, tt := range tests {
		got := GenerationQueries(tt.category)
		if len(got) != 3 || got[0] != tt.first {
			t.Errorf("GenerationQueries(%q) = %v", tt.category, got)
		}
	}
}

func TestFormatContext(t *testing.T) {
	h := domain.SearchHit{
		Content: "Текст статьи",
		Meta: domain.ChunkMeta{
			Source: "civil.docx", ArticleNumber: "251", ArticleDisplay: "25.1",
			Section: "ОБЩАЯ ЧАСТЬ", Chapter: "Глава 2. Лица", Title: "Правоспособность",
		},
	}
	want := "[Source 1: civil.docx | Статья 25.1]\nSection: ОБЩАЯ ЧАСТЬ\nChapter: Глава 2. Лица\nTitle: Правоспособность\nContent:\nТекст статьи\n---"
	if got := FormatContext([]domain.SearchHit{h}); got != want {
		t.Fatalf("FormatContext() =\n%s\nwant\n%s", got, want)
	}
	two := FormatContext([]domain.SearchHit{h, h})
	if !strings.Contains(two, "---\n\n[Source 2: ") {
		t.Fatalf("blocks must be separated by a blank line:\n%s", two)
	}
	if FormatContext(nil) != NoDocumentsContext {
		t.Fatal("empty context mismatch")
	}
}

func TestFormatSources(t *testing.T) {
	long := strings.Repeat("я", 301)
	hits := []domain.SearchHit{
		{Content: long, Similarity: 0.8766, Meta: domain.ChunkMeta{Source: "civil.docx", ArticleDisplay: "5", Chapter: strings.Repeat("г", 90)}},
		{Content: "дубль", Similarity: 0.99, Meta: domain.ChunkMeta{Source: "civil.docx", ArticleDisplay: "5"}},
		{Content: "коротко", Similarity: 0.5, Meta: domain.ChunkMeta{Source: "labor.docx", ArticleNumber: "7"}},
		{Content: "без меток"},
	}
	got := FormatSources(hits, 300)
	if len(got) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(got))
	}
	c := got[0]
	if c.Similarity != "87.7%" || c.Article != "5" || len([]rune(c.Chapter)) != 80 {
		t.Fatalf("unexpected first citation %+v", c)
	}
	if !strings.HasSuffix(c.Preview, "...") || len([]rune(c.Preview)) != 303 {
		t.Fatalf("preview must be capped with ellipsis, got %d runes", len([]rune(c.Preview)))
	}
	if got[1].Article != "7" || got[1].Preview != "коротко" || got[1].Similarity != "50.0%" {
		t.Fatalf("unexpected second citation %+v", got[1])
	}
	if got[2].Article != domain.UnknownArticle || got[2].Source != domain.UnknownArticle {
		t.Fatalf("unexpected placeholder citation %+v", got[2])
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("smalltalk") != ModeSmalltalk || ParseMode("lawyer") != ModeRiskManager || ParseMode("") != ModeRiskManager {
		t.Fatal("unexpected mode mapping")
	}
}
