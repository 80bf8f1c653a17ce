package pii

import (
	"fmt"

	"github.com/jdkato/prose/v2"
)

// Entity is one named entity found by a tagger.
type Entity struct {
	Text  string
	Label string
}

// Tagger extracts named entities from text. Implementations may be slow;
// the stage runs them on its worker pool.
type Tagger interface {
	Entities(text string) ([]Entity, error)
}

// ProseTagger runs the prose statistical NER model.
type ProseTagger struct{}

// NewProseTagger returns the default tagger.
func NewProseTagger() *ProseTagger { return &ProseTagger{} }

// Entities implements Tagger.
func (p *ProseTagger) Entities(text string) ([]Entity, error) {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("ner tagging: %w", err)
	}
	found := doc.Entities()
	out := make([]Entity, 0, len(found))
	for _, ent := range found {
		out = append(out, Entity{Text: ent.Text, Label: ent.Label})
	}
	return out, nil
}
