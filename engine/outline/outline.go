// Package outline records the statute hierarchy of every indexed document
// (document, section, chapter, article) in Neo4j so it can be browsed
// without going through the vector index.
package outline

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// result is the part of a neo4j result the store reads.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the part of a neo4j session the store uses.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// Entry is one article in a document outline.
type Entry struct {
	Section    string
	Chapter    string
	ChapterNum string
	Article    string
	Title      string
}

// Store writes and reads outlines.
type Store struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner
	now        func() time.Time
}

// Dial opens a driver and checks connectivity.
func Dial(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("outline: driver %s: %w", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("outline: connect %s: %w", uri, err)
	}
	return driver, nil
}

// New creates a Store over driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver, now: time.Now}
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

var schema = []string{
	`CREATE CONSTRAINT document_source IF NOT EXISTS FOR (d:Document) REQUIRE d.source IS UNIQUE`,
	`CREATE INDEX section_source IF NOT EXISTS FOR (s:Section) ON (s.source)`,
	`CREATE INDEX chapter_source IF NOT EXISTS FOR (c:Chapter) ON (c.source)`,
	`CREATE INDEX article_source IF NOT EXISTS FOR (a:Article) ON (a.source)`,
}

// EnsureSchema creates the constraint and indexes the store relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	for _, cypher := range schema {
		if _, err := sess.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("outline: schema: %w", err)
		}
	}
	return nil
}

const recordCypher = `
MERGE (d:Document {source: $source})
SET d.hash = $hash, d.doc_type = $doc_type, d.article_count = $article_count,
    d.chunk_count = $chunk_count, d.text_length = $text_length, d.indexed_at = $indexed_at
WITH d
UNWIND $articles AS a
MERGE (s:Section {source: $source, name: a.section})
MERGE (d)-[:HAS_SECTION]->(s)
MERGE (c:Chapter {source: $source, section: a.section, name: a.chapter})
SET c.number = a.chapter_num
MERGE (s)-[:HAS_CHAPTER]->(c)
MERGE (ar:Article {source: $source, display: a.display})
SET ar.number = a.number, ar.title = a.title, ar.position = a.position
MERGE (c)-[:HAS_ARTICLE]->(ar)`

// Record writes the document node and its hierarchy. Re-recording the same
// source merges into the existing nodes.
func (s *Store) Record(ctx context.Context, info domain.DocumentInfo, articles []domain.Article) error {
	rows := make([]map[string]any, len(articles))
	for i, a := range articles {
		rows[i] = map[string]any{
			"section":     a.Section,
			"chapter":     a.Chapter,
			"chapter_num": a.ChapterNum,
			"display":     a.Display,
			"number":      a.Number,
			"title":       a.Title,
			"position":    i,
		}
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx, recordCypher, map[string]any{
		"source":        info.Source,
		"hash":          info.Hash,
		"doc_type":      string(info.DocType),
		"article_count": info.ArticleCount,
		"chunk_count":   info.ChunkCount,
		"text_length":   info.TextLength,
		"indexed_at":    s.now().UTC().Format(time.RFC3339),
		"articles":      rows,
	})
	if err != nil {
		return fmt.Errorf("outline: record %s: %w", info.Source, err)
	}
	return nil
}

// Remove deletes every node recorded for source.
func (s *Store) Remove(ctx context.Context, source string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.Run(ctx,
		`MATCH (n {source: $source}) WHERE n:Document OR n:Section OR n:Chapter OR n:Article DETACH DELETE n`,
		map[string]any{"source": source})
	if err != nil {
		return fmt.Errorf("outline: remove %s: %w", source, err)
	}
	return nil
}

// Outline returns the articles of source in document order.
func (s *Store) Outline(ctx context.Context, source string) ([]Entry, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `
MATCH (:Document {source: $source})-[:HAS_SECTION]->(s:Section)-[:HAS_CHAPTER]->(c:Chapter)-[:HAS_ARTICLE]->(a:Article)
RETURN s.name AS section, c.name AS chapter, c.number AS chapter_num, a.display AS article, a.title AS title
ORDER BY a.position`, map[string]any{"source": source})
	if err != nil {
		return nil, fmt.Errorf("outline: read %s: %w", source, err)
	}

	var out []Entry
	for res.Next(ctx) {
		rec := res.Record()
		out = append(out, Entry{
			Section:    str(rec, "section"),
			Chapter:    str(rec, "chapter"),
			ChapterNum: str(rec, "chapter_num"),
			Article:    str(rec, "article"),
			Title:      str(rec, "title"),
		})
	}
	return out, nil
}

func str(rec *neo4j.Record, key string) string {
	v, _, err := neo4j.GetRecordValue[string](rec, key)
	if err != nil {
		return ""
	}
	return v
}
