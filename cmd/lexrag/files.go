package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opuslawyer/lexrag/engine/domain"
)

// blankLine separates text blocks in plain-text input.
var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// splitBlocks turns extracted plain text into the non-empty blocks the
// indexer expects.
func splitBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []string
	for _, b := range blankLine.Split(text, -1) {
		if b = strings.TrimSpace(b); b != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// loadDocuments reads every .txt and .json file named by paths, descending
// into directories. A .txt file becomes one document split into blocks on
// blank lines; a .json file holds a domain.RawDocument.
func loadDocuments(paths []string) ([]domain.RawDocument, error) {
	var docs []domain.RawDocument
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			doc, err := loadFile(p)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !supported(path) {
				return err
			}
			doc, err := loadFile(path)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".json":
		return true
	}
	return false
}

func loadFile(path string) (domain.RawDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RawDocument{}, err
	}
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return domain.RawDocument{Source: name, Blocks: splitBlocks(string(data))}, nil
	case ".json":
		var doc domain.RawDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return domain.RawDocument{}, fmt.Errorf("%s: %w", path, err)
		}
		if doc.Source == "" {
			doc.Source = strings.TrimSuffix(name, filepath.Ext(name))
		}
		return doc, nil
	default:
		return domain.RawDocument{}, fmt.Errorf("%s: unsupported file type (want .txt or .json)", path)
	}
}

// readText returns the content of path, or of stdin when path is "-".
func readText(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseDocType(s string) (domain.DocType, error) {
	switch t := domain.DocType(s); t {
	case "", domain.DocRussianCode, domain.DocUzbekCode, domain.DocDecree, domain.DocGeneric:
		return t, nil
	}
	return "", fmt.Errorf("unknown document type %q (want %s, %s, %s or %s)",
		s, domain.DocRussianCode, domain.DocUzbekCode, domain.DocDecree, domain.DocGeneric)
}
