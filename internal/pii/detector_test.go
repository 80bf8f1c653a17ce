package pii

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type fakeTagger struct {
	entities []Entity
	err      error
}

func (f *fakeTagger) Entities(text string) ([]Entity, error) {
	return f.entities, f.err
}

func TestDetectRegexTypes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"email", "contact alice@example.com today", TypeEmail},
		{"ssn", "ssn 123-45-6789 on file", TypeSSN},
		{"credit card spaced", "card 4111 1111 1111 1111 ok", TypeCreditCard},
		{"credit card solid", "card 4111111111111111 ok", TypeCreditCard},
		{"phone parens", "call (555) 123-4567 now", TypePhone},
		{"phone dashed", "call 555-123-4567 now", TypePhone},
		{"phone international", "call +1 555 123 4567 now", TypePhone},
		{"ip address", "host 192.168.0.1 is up", TypeIPAddress},
		{"date iso", "born 1990-05-01 in spring", TypeDate},
		{"date slash", "due on 3/14/2022 sharp", TypeDate},
		{"passport", "passport X1234567 issued", TypePassport},
		{"bitcoin", "send to 1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa thanks", TypeBitcoin},
		{"ethereum", "wallet 0x52908400098527886E0F7030069857D2E4169EE7 active", TypeEthereum},
	}
	d := NewDetector(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := d.Detect(tt.body)
			if err != nil {
				t.Fatalf("Failed to detect: %v", err)
			}
			for _, m := range matches {
				if m.Type == tt.want {
					return
				}
			}
			t.Errorf("Expected a %s match in %q, got %v", tt.want, tt.body, matches)
		})
	}
}

func TestDetectOffsetsAreByteSpans(t *testing.T) {
	body := "mail bob@corp.io now"
	d := NewDetector(nil)
	matches, err := d.Detect(body)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %v", matches)
	}
	if got := body[matches[0].Start:matches[0].End]; got != "bob@corp.io" {
		t.Errorf("Span resolves to %q", got)
	}
}

func TestDetectOverlapKeepsEarliestLongest(t *testing.T) {
	body := "email bob@corp.com now"
	// The tagged entity starts where the email match starts but runs longer.
	d := NewDetector(&fakeTagger{entities: []Entity{
		{Text: "bob@corp.com now", Label: "PERSON"},
	}})
	matches, err := d.Detect(body)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected overlap to collapse to 1 match, got %v", matches)
	}
	if matches[0].Type != TypePerson {
		t.Errorf("Expected the longest match (person) to win, got %s", matches[0].Type)
	}
}

func TestDetectShorterSameStartLoses(t *testing.T) {
	body := "email bob@corp.com now"
	d := NewDetector(&fakeTagger{entities: []Entity{
		{Text: "bob", Label: "PERSON"},
	}})
	matches, err := d.Detect(body)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	if len(matches) != 1 || matches[0].Type != TypeEmail {
		t.Errorf("Expected only the longer email match, got %v", matches)
	}
}

func TestDetectDeduplicates(t *testing.T) {
	body := "Ada Lovelace wrote programs"
	d := NewDetector(&fakeTagger{entities: []Entity{
		{Text: "Ada Lovelace", Label: "PERSON"},
		{Text: "Ada Lovelace", Label: "PERSON"},
	}})
	matches, err := d.Detect(body)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("Expected duplicate entities collapsed, got %v", matches)
	}
}

func TestDetectNERMapping(t *testing.T) {
	body := "Ada met IBM near Paris at Wembley over $5 about iPhone during Olympics under GDPR with Belgians"
	d := NewDetector(&fakeTagger{entities: []Entity{
		{Text: "Ada", Label: "PERSON"},
		{Text: "IBM", Label: "ORG"},
		{Text: "Paris", Label: "GPE"},
		{Text: "Wembley", Label: "FAC"},
		{Text: "$5", Label: "MONEY"},
		{Text: "iPhone", Label: "PRODUCT"},
		{Text: "Olympics", Label: "EVENT"},
		{Text: "GDPR", Label: "LAW"},
		{Text: "Belgians", Label: "NORP"},
		{Text: "ignored", Label: "CARDINAL"},
	}})
	matches, err := d.Detect(body)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	want := []string{
		TypeEvent, TypeFacility, TypeGroup, TypeLaw, TypeLocation,
		TypeMoney, TypeOrganization, TypePerson, TypeProduct,
	}
	if got := Types(matches); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected types %v, got %v", want, got)
	}
}

func TestDetectTaggerFailureKeepsRegexMatches(t *testing.T) {
	body := "reach alice@example.com"
	d := NewDetector(&fakeTagger{err: errors.New("model not loaded")})
	matches, err := d.Detect(body)
	if err == nil {
		t.Error("Expected tagger error to surface")
	}
	if len(matches) != 1 || matches[0].Type != TypeEmail {
		t.Errorf("Expected regex matches despite tagger failure, got %v", matches)
	}
}

func TestRedact(t *testing.T) {
	body := "call 555-123-4567 or mail a@b.io"
	d := NewDetector(nil)
	matches, err := d.Detect(body)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	got := Redact(body, matches)
	if got != "call [PHONE] or mail [EMAIL]" {
		t.Errorf("Unexpected redaction: %q", got)
	}
}

func TestRedactPreservesCleanText(t *testing.T) {
	body := "nothing sensitive in this sentence"
	if got := Redact(body, nil); got != body {
		t.Errorf("Redact with no matches changed the body: %q", got)
	}
}

func TestRedactTagUppercasesType(t *testing.T) {
	body := "card 4111 1111 1111 1111 ok"
	d := NewDetector(nil)
	matches, err := d.Detect(body)
	if err != nil {
		t.Fatalf("Failed to detect: %v", err)
	}
	got := Redact(body, matches)
	if !strings.Contains(got, "[CREDIT_CARD]") {
		t.Errorf("Expected [CREDIT_CARD] token, got %q", got)
	}
}
