// Package ingest turns uploaded files into PCIV sources.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/pciv"
)

// #region chunking
// ChunkConfig bounds the word windows long text is split into.
type ChunkConfig struct {
	MaxTokens int `yaml:"max_tokens" json:"maxTokens" validate:"gte=0"`
	Overlap   int `yaml:"overlap" json:"overlap" validate:"gte=0"`
}

var (
	UploadChunks = ChunkConfig{MaxTokens: 500, Overlap: 60}
	NoteChunks   = ChunkConfig{MaxTokens: 350, Overlap: 40}
)

// Chunk splits text into windows of at most MaxTokens words, each starting
// Overlap words before the end of the previous one. A non-positive MaxTokens
// yields a single chunk.
func Chunk(text string, cfg ChunkConfig) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if cfg.MaxTokens <= 0 || len(words) <= cfg.MaxTokens {
		return []string{strings.Join(words, " ")}
	}
	var chunks []string
	start := 0
	for start < len(words) {
		end := min(start+cfg.MaxTokens, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		start = max(end-cfg.Overlap, start+1)
	}
	return chunks
}

// #endregion chunking

// #region sources
// Detect returns the mime type of a file, preferring the extension for the
// formats the extractor parses.
func Detect(name string, data []byte) (mime string, text bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv", true
	case ".geojson":
		return "application/geo+json", true
	case ".txt", ".md":
		return "text/plain", true
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return baseType(mt.String()), true
		}
	}
	return baseType(mt.String()), false
}

func baseType(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	return strings.TrimSpace(base)
}

// FromBytes converts a file into sources. CSV and GeoJSON files stay whole;
// other text is split per cfg, one source per chunk titled "<name> [n]".
// Binary files are rejected.
func FromBytes(name string, data []byte, cfg ChunkConfig) ([]pciv.Source, error) {
	mime, text := Detect(name, data)
	if !text {
		return nil, apperr.Validation("file %s: unsupported content type %s", name, mime)
	}
	meta := func(extra ...string) map[string]string {
		md := map[string]string{"file_name": name, "mime_type": mime}
		for i := 0; i+1 < len(extra); i += 2 {
			md[extra[i]] = extra[i+1]
		}
		return md
	}

	switch mime {
	case "text/csv", "application/geo+json":
		return []pciv.Source{{
			Type:     pciv.SourceFile,
			Title:    name,
			MimeType: mime,
			Metadata: meta(),
			Content:  string(data),
		}}, nil
	}

	content := string(data)
	chunks := Chunk(content, cfg)
	if len(chunks) == 0 {
		return nil, apperr.Validation("file %s is empty", name)
	}
	if len(chunks) == 1 {
		return []pciv.Source{{
			Type:     pciv.SourceFile,
			Title:    name,
			MimeType: mime,
			Metadata: meta(),
			Content:  content,
		}}, nil
	}
	out := make([]pciv.Source, len(chunks))
	for i, c := range chunks {
		out[i] = pciv.Source{
			Type:     pciv.SourceFile,
			Title:    fmt.Sprintf("%s [%d]", name, i+1),
			MimeType: mime,
			Metadata: meta("chunk", strconv.Itoa(i+1), "chunks", strconv.Itoa(len(chunks))),
			Content:  c,
		}
	}
	return out, nil
}

// FromFile reads path and converts it with FromBytes.
func FromFile(path string, cfg ChunkConfig) ([]pciv.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return FromBytes(filepath.Base(path), data, cfg)
}

// #endregion sources
