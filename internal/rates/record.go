package rates

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-tax/internal/common"
)

// Record is a locally persisted tax rate. Rate is a percentage, so 8.875
// means 8.875%.
type Record struct {
	ID        int64
	Country   string
	State     string
	Name      string
	Priority  int
	Compound  bool
	Shipping  bool
	Rate      decimal.Decimal
	TaxClass  string
	Postcodes []string
	Cities    []string
	// LookupKey is set on records created from remote answers and is unique
	// per location and class.
	LookupKey string
}

// Lookup identifies the location and tax class a rate is resolved for.
type Lookup struct {
	Country  string
	State    string
	Postcode string
	City     string
	TaxClass string
}

var unsafeKeyChars = regexp.MustCompile(`[^a-z0-9_\-]`)

// StateKey normalises a state the same way the platform stores it: keep
// key-safe characters only, upper-cased.
func StateKey(state string) string {
	cleaned := unsafeKeyChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(state)), "")
	return strings.ToUpper(cleaned)
}

// Normalize returns the lookup with every component in its comparable form.
func (l Lookup) Normalize() Lookup {
	return Lookup{
		Country:  strings.ToUpper(strings.TrimSpace(l.Country)),
		State:    StateKey(l.State),
		Postcode: strings.ToUpper(strings.TrimSpace(l.Postcode)),
		City:     strings.ToUpper(strings.TrimSpace(l.City)),
		TaxClass: strings.TrimSpace(l.TaxClass),
	}
}

// Key returns the canonical identity of the lookup.
func (l Lookup) Key() string {
	n := l.Normalize()
	return strings.Join([]string{n.Country, n.State, n.Postcode, n.City, n.TaxClass}, "|")
}

// Digest returns a fixed-length hash of Key, suitable for lock names and
// unique columns.
func (l Lookup) Digest() string {
	return common.Sha256Hex(l.Key())
}

// WildcardPostcodes expands a postcode into every pattern that may match
// it: "*", the code itself, the code with a trailing "*" and each shorter
// prefix followed by "*".
func WildcardPostcodes(postcode string) []string {
	code := strings.ToUpper(strings.TrimSpace(postcode))
	patterns := []string{"*", code, code + "*"}
	for i := len(code) - 1; i >= 0; i-- {
		patterns = append(patterns, code[:i]+"*")
	}
	return patterns
}

// Matches reports whether rec applies to the lookup. Empty country or state
// on the record act as wildcards, and a record without postcode or city
// patterns accepts any value.
func Matches(rec Record, l Lookup) bool {
	n := l.Normalize()
	if rec.Country != "" && !strings.EqualFold(rec.Country, n.Country) {
		return false
	}
	if rec.State != "" && StateKey(rec.State) != n.State {
		return false
	}
	if rec.TaxClass != n.TaxClass {
		return false
	}
	if len(rec.Postcodes) > 0 && !postcodeMatches(rec.Postcodes, n.Postcode) {
		return false
	}
	if len(rec.Cities) > 0 && !cityMatches(rec.Cities, n.City) {
		return false
	}
	return true
}

// Specificity ranks matching records; higher wins.
func Specificity(rec Record) int {
	score := 0
	if rec.Country != "" {
		score += 8
	}
	if rec.State != "" {
		score += 4
	}
	if len(rec.Postcodes) > 0 {
		score += 2
	}
	if len(rec.Cities) > 0 {
		score++
	}
	return score
}

func postcodeMatches(patterns []string, postcode string) bool {
	candidates := WildcardPostcodes(postcode)
	for _, p := range patterns {
		p = strings.ToUpper(strings.TrimSpace(p))
		for _, c := range candidates {
			if p == c {
				return true
			}
		}
	}
	return false
}

func cityMatches(patterns []string, city string) bool {
	for _, p := range patterns {
		if strings.ToUpper(strings.TrimSpace(p)) == city {
			return true
		}
	}
	return false
}

// CleanPatterns trims, upper-cases and de-duplicates location patterns,
// dropping empty entries.
func CleanPatterns(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ";") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			out = append(out, trimmed)
		}
	}
	return out
}
