// Package loader reads exported document collections from a directory
// tree. Format readers parse what each file carries; the loader assigns
// missing IDs, fills the required metadata keys, and bounds body size.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/types"
)

// ErrSourceDir marks a missing or unreadable export directory. Unlike a
// malformed file, this fails the whole run.
var ErrSourceDir = errors.New("source directory unreadable")

// Options wires the loader.
type Options struct {
	Dir          string
	MaxBodyBytes int
	Readers      []FormatReader // defaults to DefaultReaders
	Logger       *zap.Logger
}

// Loader walks an export directory and parses every supported file.
type Loader struct {
	dir          string
	maxBodyBytes int
	readers      map[string]FormatReader
	logger       *zap.Logger
}

// DefaultReaders covers the export formats the pipeline ingests.
func DefaultReaders() []FormatReader {
	return []FormatReader{JSONReader{}, JSONLReader{}, CSVReader{}, MarkdownReader{}}
}

// New creates a loader for the given export directory.
func New(opts Options) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	readers := opts.Readers
	if len(readers) == 0 {
		readers = DefaultReaders()
	}
	byExt := make(map[string]FormatReader)
	for _, r := range readers {
		for _, ext := range r.Extensions() {
			byExt[ext] = r
		}
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Loader{
		dir:          opts.Dir,
		maxBodyBytes: maxBody,
		readers:      byExt,
		logger:       logger,
	}
}

// Name implements the stage contract.
func (l *Loader) Name() string { return types.StageLoad }

// Load reads the whole directory in lexical path order. Malformed or
// unreadable files are logged and skipped; a missing directory is a
// stage failure. An empty directory yields no documents and no error.
func (l *Loader) Load(ctx context.Context) ([]*types.Document, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceDir, l.dir)
	}

	var docs []*types.Document
	walkErr := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.dir {
				return fmt.Errorf("%w: %v", ErrSourceDir, err)
			}
			l.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != l.dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		reader, ok := l.readers[strings.ToLower(filepath.Ext(path))]
		if !ok {
			l.logger.Debug("skipping unsupported file", zap.String("path", path))
			return nil
		}
		parsed, err := l.readFile(path, reader)
		if err != nil {
			l.logger.Warn("skipping malformed file", zap.String("path", path), zap.Error(err))
			return nil
		}
		docs = append(docs, parsed...)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	l.logger.Info("loaded documents", zap.Int("count", len(docs)), zap.String("dir", l.dir))
	return docs, nil
}

func (l *Loader) readFile(path string, reader FormatReader) ([]*types.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}

	parsed, err := reader.Read(path, f)
	if err != nil {
		return nil, err
	}
	docs := make([]*types.Document, 0, len(parsed))
	for _, doc := range parsed {
		if doc == nil {
			continue
		}
		l.normalize(doc, path, modTime)
		docs = append(docs, doc)
	}
	return docs, nil
}

// normalize fills the contract every downstream stage assumes: an ID,
// the four required metadata keys, valid UTF-8, and a bounded body.
func (l *Loader) normalize(doc *types.Document, path string, modTime time.Time) {
	if doc.Metadata == nil {
		doc.Metadata = make(types.Metadata)
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		rel = path
	}
	doc.Metadata[types.MetaPath] = rel
	if _, ok := doc.Metadata[types.MetaSource]; !ok {
		doc.Metadata[types.MetaSource] = filepath.Base(path)
	}
	if title, ok := doc.Metadata[types.MetaTitle]; !ok || title == "" {
		base := filepath.Base(path)
		doc.Metadata[types.MetaTitle] = strings.TrimSuffix(base, filepath.Ext(base))
	}

	fallback := modTime
	if fallback.IsZero() {
		fallback = time.Now()
	}
	raw, _ := doc.Metadata[types.MetaTimestamp].(string)
	ts, ok := ParseTimestamp(raw, fallback)
	if !ok {
		ts = fallback.UTC()
		if raw != "" {
			l.logger.Debug("unparseable timestamp, using file mtime",
				zap.String("doc_id", doc.ID), zap.String("raw", raw))
		}
	}
	doc.Metadata[types.MetaTimestamp] = ts.Format(time.RFC3339)

	body := doc.Content.Body
	if !utf8.ValidString(body) {
		body = strings.ToValidUTF8(body, "�")
	}
	if len(body) > l.maxBodyBytes {
		body = truncateUTF8(body, l.maxBodyBytes)
		doc.Metadata[types.MetaTruncated] = true
		l.logger.Warn("truncated oversized body",
			zap.String("doc_id", doc.ID),
			zap.Int("max_bytes", l.maxBodyBytes))
	}
	doc.Content.Body = body
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
