package loader

import (
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// timeLayouts are tried in order before falling back to natural-language
// parsing. RFC 3339 comes first: it is what conforming exporters emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	time.RFC1123,
	time.RFC822,
}

var naturalParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

// ParseTimestamp resolves a loose timestamp string: known layouts first,
// then unix seconds, then natural language ("yesterday", "Jan 5 2024")
// relative to base. The second return is false when nothing recognises
// the input.
func ParseTimestamp(raw string, base time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	if res, err := naturalParser.Parse(raw, base); err == nil && res != nil {
		return res.Time.UTC(), true
	}
	return time.Time{}, false
}
