// Package pii detects and optionally redacts personally identifiable
// information in document bodies.
package pii

import "regexp"

// Detection types for the regex pattern set.
const (
	TypeEmail      = "email"
	TypePhone      = "phone"
	TypeSSN        = "ssn"
	TypeCreditCard = "credit_card"
	TypeIPAddress  = "ip_address"
	TypeDate       = "date"
	TypePassport   = "passport"
	TypeBitcoin    = "bitcoin_address"
	TypeEthereum   = "ethereum_address"
)

// Detection types contributed by the NER tagger.
const (
	TypePerson       = "person"
	TypeOrganization = "organization"
	TypeLocation     = "location"
	TypeFacility     = "facility"
	TypeMoney        = "money"
	TypeProduct      = "product"
	TypeEvent        = "event"
	TypeLaw          = "law"
	TypeGroup        = "group"
)

// patterns is evaluated in order; ordering only affects tie-breaks in
// overlap resolution, which sorts matches before resolving.
var patterns = []struct {
	Type string
	Re   *regexp.Regexp
}{
	{TypeEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{TypeSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{TypeCreditCard, regexp.MustCompile(`\b(?:\d{4}[ \-]){3}\d{4}\b|\b\d{15,16}\b`)},
	{TypePhone, regexp.MustCompile(`\(\d{3}\)\s?\d{3}[\s.\-]?\d{4}|\b\d{3}[\s.\-]\d{3}[\s.\-]\d{4}\b|\+\d{1,2}\s?\d{3}[\s.\-]?\d{3}[\s.\-]?\d{4}`)},
	{TypeIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{TypeDate, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`)},
	{TypePassport, regexp.MustCompile(`\b[A-Z]{1,2}\d{7,9}\b`)},
	{TypeBitcoin, regexp.MustCompile(`\b(?:[13][a-km-zA-HJ-NP-Z1-9]{25,34}|bc1[a-z0-9]{11,71})\b`)},
	{TypeEthereum, regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)},
}

// nerLabels maps tagger labels (OntoNotes-style) onto the closed type set.
// Unmapped labels are dropped.
var nerLabels = map[string]string{
	"PERSON":       TypePerson,
	"ORG":          TypeOrganization,
	"ORGANIZATION": TypeOrganization,
	"GPE":          TypeLocation,
	"LOC":          TypeLocation,
	"LOCATION":     TypeLocation,
	"FAC":          TypeFacility,
	"FACILITY":     TypeFacility,
	"MONEY":        TypeMoney,
	"PRODUCT":      TypeProduct,
	"EVENT":        TypeEvent,
	"LAW":          TypeLaw,
	"NORP":         TypeGroup,
	"GROUP":        TypeGroup,
}
