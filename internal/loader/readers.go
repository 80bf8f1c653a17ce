package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/docpipe/docpipe/internal/types"
)

// FormatReader parses one export file into documents. Readers fill what
// the format carries; the loader normalises IDs, required metadata, and
// body bounds afterwards.
type FormatReader interface {
	Extensions() []string
	Read(path string, r io.Reader) ([]*types.Document, error)
}

// exportDoc is the wire shape shared by the JSON-family readers. Unknown
// top-level fields are ignored; everything under metadata is carried
// through as-is.
type exportDoc struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Summary    string         `json:"summary"`
	Timestamp  string         `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
	ParentID   string         `json:"parent_id"`
	References []string       `json:"references"`
}

func (e *exportDoc) document() *types.Document {
	doc := &types.Document{
		ID:      e.ID,
		Content: types.Content{Body: e.Body, Summary: e.Summary},
		Relationships: types.Relationships{
			ParentID:   e.ParentID,
			References: e.References,
		},
		Metadata: make(types.Metadata, len(e.Metadata)+2),
	}
	for k, v := range e.Metadata {
		doc.Metadata[k] = v
	}
	if e.Title != "" {
		doc.Metadata[types.MetaTitle] = e.Title
	}
	if e.Timestamp != "" {
		doc.Metadata[types.MetaTimestamp] = e.Timestamp
	}
	return doc
}

// JSONReader accepts a single document object or an array of them.
type JSONReader struct{}

func (JSONReader) Extensions() []string { return []string{".json"} }

func (JSONReader) Read(path string, r io.Reader) ([]*types.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	trimmed := bytes.TrimLeftFunc(data, unicode.IsSpace)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var parsed []exportDoc
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		docs := make([]*types.Document, 0, len(parsed))
		for i := range parsed {
			docs = append(docs, parsed[i].document())
		}
		return docs, nil
	}
	var parsed exportDoc
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return []*types.Document{parsed.document()}, nil
}

// JSONLReader reads newline-delimited JSON, one document per line.
type JSONLReader struct{}

func (JSONLReader) Extensions() []string { return []string{".jsonl", ".ndjson"} }

func (JSONLReader) Read(path string, r io.Reader) ([]*types.Document, error) {
	var docs []*types.Document
	decoder := json.NewDecoder(r)
	for line := 1; ; line++ {
		var parsed exportDoc
		if err := decoder.Decode(&parsed); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parsing %s line %d: %w", path, line, err)
		}
		docs = append(docs, parsed.document())
	}
	return docs, nil
}

// CSVReader maps header columns onto documents: id, title, body, summary,
// timestamp, parent_id, and references are recognised; every other column
// lands in metadata under its lowercased header name.
type CSVReader struct{}

func (CSVReader) Extensions() []string { return []string{".csv"} }

func (CSVReader) Read(path string, r io.Reader) ([]*types.Document, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s header: %w", path, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var docs []*types.Document
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		doc := &types.Document{Metadata: make(types.Metadata)}
		for i, value := range record {
			if i >= len(header) {
				break
			}
			switch header[i] {
			case "id":
				doc.ID = value
			case "body", "content", "text":
				doc.Content.Body = value
			case "summary":
				doc.Content.Summary = value
			case "title":
				doc.Metadata[types.MetaTitle] = value
			case "timestamp", "date", "created_at":
				doc.Metadata[types.MetaTimestamp] = value
			case "parent_id":
				doc.Relationships.ParentID = value
			case "references":
				doc.Relationships.References = splitList(value)
			default:
				if value != "" {
					doc.Metadata[header[i]] = value
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// splitList splits a semicolon-delimited cell into trimmed entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MarkdownReader splits optional YAML front matter from the body. Front
// matter keys become metadata (id, parent_id, and references are lifted
// onto the document); a missing title falls back to the first # heading.
type MarkdownReader struct{}

func (MarkdownReader) Extensions() []string { return []string{".md", ".markdown"} }

func (MarkdownReader) Read(path string, r io.Reader) ([]*types.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	front, body := splitFrontMatter(data)
	doc := &types.Document{
		Content:  types.Content{Body: strings.TrimSpace(string(body))},
		Metadata: make(types.Metadata),
	}
	if len(front) > 0 {
		meta := make(map[string]any)
		if err := yaml.Unmarshal(front, &meta); err != nil {
			return nil, fmt.Errorf("parsing %s front matter: %w", path, err)
		}
		for k, v := range meta {
			switch k {
			case "id":
				if s, ok := v.(string); ok {
					doc.ID = s
				}
			case "parent_id":
				if s, ok := v.(string); ok {
					doc.Relationships.ParentID = s
				}
			case "references":
				doc.Relationships.References = toStringSlice(v)
			default:
				doc.Metadata[k] = v
			}
		}
	}
	if title, ok := doc.Metadata[types.MetaTitle]; !ok || title == "" {
		if h := firstHeading(doc.Content.Body); h != "" {
			doc.Metadata[types.MetaTitle] = h
		}
	}
	return []*types.Document{doc}, nil
}

// splitFrontMatter returns the YAML between leading --- fences and the
// remaining body. The closing fence must be a line of its own.
func splitFrontMatter(data []byte) (front, body []byte) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != "---" {
		return nil, data
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == "---" {
			return []byte(strings.Join(lines[1:i], "\n")),
				[]byte(strings.Join(lines[i+1:], "\n"))
		}
	}
	return nil, data
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

func toStringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
