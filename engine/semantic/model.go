package semantic

import (
	"context"
	"fmt"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// Embedder maps text to fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Payload length caps applied before chunks are written.
const (
	MaxChapterLen = 500
	MaxSectionLen = 200
	MaxTitleLen   = 300
)

// Payload keys.
const (
	keyContent        = "content"
	keySource         = "source"
	keyArticleNumber  = "article_number"
	keyArticleDisplay = "article_display"
	keyChapter        = "chapter"
	keyChapterNum     = "chapter_num"
	keySection        = "section"
	keyTitle          = "title"
	keyChunkIndex     = "chunk_index"
	keyTotalChunks    = "total_chunks"
	keyDocType        = "doc_type"
)

// BatchError reports the batch an upsert failed on. Batches before it stay
// committed.
type BatchError struct {
	Batch int
	Added int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("semantic: batch %d failed after %d chunks: %v", e.Batch, e.Added, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// sanitize builds the stored payload of a chunk.
func sanitize(c domain.Chunk) map[string]*pb.Value {
	m := c.Meta
	p := map[string]*pb.Value{
		keyContent:        stringValue(c.Content),
		keySource:         stringValue(m.Source),
		keyArticleNumber:  stringValue(m.ArticleNumber),
		keyArticleDisplay: stringValue(m.ArticleDisplay),
		keyChapter:        stringValue(domain.Truncate(m.Chapter, MaxChapterLen)),
		keyChapterNum:     stringValue(m.ChapterNum),
		keySection:        stringValue(domain.Truncate(m.Section, MaxSectionLen)),
		keyTitle:          stringValue(domain.Truncate(m.Title, MaxTitleLen)),
		keyChunkIndex:     intValue(m.ChunkIndex),
		keyTotalChunks:    intValue(m.TotalChunks),
	}
	if m.DocType != "" {
		p[keyDocType] = stringValue(string(m.DocType))
	}
	return p
}

// decode is the inverse of sanitize.
func decode(payload map[string]*pb.Value) (string, domain.ChunkMeta) {
	str := func(k string) string { return payload[k].GetStringValue() }
	return str(keyContent), domain.ChunkMeta{
		Source:         str(keySource),
		ArticleNumber:  str(keyArticleNumber),
		ArticleDisplay: str(keyArticleDisplay),
		Chapter:        str(keyChapter),
		ChapterNum:     str(keyChapterNum),
		Section:        str(keySection),
		Title:          str(keyTitle),
		ChunkIndex:     intOf(payload[keyChunkIndex]),
		TotalChunks:    intOf(payload[keyTotalChunks]),
		DocType:        domain.DocType(str(keyDocType)),
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

// intOf accepts integers and their string or double renditions.
func intOf(v *pb.Value) int {
	switch k := v.GetKind().(type) {
	case *pb.Value_IntegerValue:
		return int(k.IntegerValue)
	case *pb.Value_DoubleValue:
		return int(k.DoubleValue)
	case *pb.Value_StringValue:
		n, _ := strconv.Atoi(k.StringValue)
		return n
	}
	return 0
}

// integerKeys are payload fields stored as integers.
var integerKeys = map[string]bool{keyChunkIndex: true, keyTotalChunks: true}

// fieldMatch matches key against value, as an integer for integer fields.
func fieldMatch(key, value string) *pb.Condition {
	match := &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}}
	if integerKeys[key] {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: n}}
		}
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: match},
		},
	}
}

// filterOf turns metadata equality pairs into a Qdrant filter. A nil or empty
// map yields nil.
func filterOf(eq map[string]string) *pb.Filter {
	if len(eq) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(eq))
	for k, v := range eq {
		must = append(must, fieldMatch(k, v))
	}
	return &pb.Filter{Must: must}
}
