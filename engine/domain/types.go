// Package domain defines the core types shared by the statute indexing and
// retrieval pipeline, together with the validation used at its entry points.
package domain

// DocType is the document-format tag produced by the classifier.
type DocType string

const (
	DocRussianCode DocType = "russian_code"
	DocUzbekCode   DocType = "uzbek_code"
	DocDecree      DocType = "decree"
	DocGeneric     DocType = "generic"
)

// Placeholder values used when a document has no recognizable structure.
const (
	UnknownArticle = "Unknown"
	GeneralChapter = "General"
)

// RawDocument is an extracted source document. It is created once per
// ingested file and never mutated.
type RawDocument struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Blocks []string `json:"blocks"`
	Text   string   `json:"text"`
	Type   DocType  `json:"doc_type"`
}

// Article is one recognized article or decree point.
type Article struct {
	Number     string `json:"article_number"`
	Display    string `json:"article_display"`
	Chapter    string `json:"chapter"`
	ChapterNum string `json:"chapter_num"`
	Section    string `json:"section"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// ChunkMeta is the provenance carried by every indexed chunk.
type ChunkMeta struct {
	Source         string  `json:"source"`
	ArticleNumber  string  `json:"article_number"`
	ArticleDisplay string  `json:"article_display"`
	Chapter        string  `json:"chapter"`
	ChapterNum     string  `json:"chapter_num"`
	Section        string  `json:"section"`
	Title          string  `json:"title"`
	ChunkIndex     int     `json:"chunk_index"`
	TotalChunks    int     `json:"total_chunks"`
	DocType        DocType `json:"doc_type,omitempty"`
}

// Chunk is the unit of retrieval stored in the vector index.
type Chunk struct {
	ID      string    `json:"id"`
	Content string    `json:"content"`
	Meta    ChunkMeta `json:"metadata"`
}

// SearchHit is a single result of a similarity search.
type SearchHit struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Meta       ChunkMeta `json:"metadata"`
	Distance   float64   `json:"distance"`
	Similarity float64   `json:"similarity"`
}

// ArticleKey identifies the article a hit belongs to. Hits sharing a key are
// duplicates for merge and citation purposes.
func (h SearchHit) ArticleKey() string {
	return h.Meta.Source + "_" + h.Meta.ArticleDisplay
}

// Citation is a display summary of a ranked hit.
type Citation struct {
	Article    string `json:"article"`
	Source     string `json:"source"`
	Chapter    string `json:"chapter"`
	Title      string `json:"title"`
	Preview    string `json:"preview"`
	Similarity string `json:"similarity"`
}

// DocumentInfo summarizes one indexing run for a source document.
type DocumentInfo struct {
	Source       string  `json:"source_name"`
	Hash         string  `json:"doc_hash"`
	DocType      DocType `json:"doc_type"`
	ArticleCount int     `json:"article_count"`
	ChunkCount   int     `json:"chunk_count"`
	TextLength   int     `json:"text_length"`
}

// IndexedDocument is a per-source chunk count reported by the index.
type IndexedDocument struct {
	Source     string  `json:"source"`
	DocType    DocType `json:"doc_type,omitempty"`
	ChunkCount int     `json:"chunk_count"`
}
