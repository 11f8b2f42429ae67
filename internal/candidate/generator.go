// Package candidate derives name variants and website guesses for an entity.
// Generation is pure: the same name and country always yield the same list.
package candidate

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

const (
	minVariantLength  = 3
	defaultGenericTLD = "com"
)

// Legal-form suffixes, stripped once each in this order.
var legalSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s+ltd\.?$`),
	regexp.MustCompile(`(?i)\s+limited$`),
	regexp.MustCompile(`(?i)\s+plc$`),
	regexp.MustCompile(`(?i)\s+llc$`),
	regexp.MustCompile(`(?i)\s+inc\.?$`),
	regexp.MustCompile(`(?i)\s+\(uk\)$`),
}

var countryTLDs = map[string]string{
	"gb":               "co.uk",
	"uk":               "co.uk",
	"united kingdom":   "co.uk",
	"england":          "co.uk",
	"wales":            "co.uk",
	"scotland":         "co.uk",
	"northern ireland": "co.uk",
	"ie":               "ie",
	"ireland":          "ie",
	"de":               "de",
	"germany":          "de",
	"fr":               "fr",
	"france":           "fr",
	"nl":               "nl",
	"au":               "com.au",
	"australia":        "com.au",
	"nz":               "co.nz",
	"us":               "com",
	"united states":    "com",
}

// Config tunes URL guessing.
type Config struct {
	// GenericTLD is the fallback domain tried for every variant.
	GenericTLD string
}

// Generator builds ordered candidate lists.
type Generator struct {
	genericTLD string
}

// New returns a Generator.
func New(cfg Config) *Generator {
	tld := strings.Trim(strings.ToLower(cfg.GenericTLD), ". ")
	if tld == "" {
		tld = defaultGenericTLD
	}
	return &Generator{genericTLD: tld}
}

// Generate uses the default generator.
func Generate(legalName, country string) []enrichment.Candidate {
	return New(Config{}).Generate(legalName, country)
}

// Generate returns (variant, URL) pairs, most likely first.
func (g *Generator) Generate(legalName, country string) []enrichment.Candidate {
	return g.build(Variants(legalName), country)
}

// ForEntity generates candidates from the legal name, followed by any known
// trading names that are not already covered.
func (g *Generator) ForEntity(entity enrichment.Entity) []enrichment.Candidate {
	variants := Variants(entity.LegalName)
	for _, name := range entity.TradingNames {
		variants = append(variants, Variants(name)...)
	}
	return g.build(dedupe(variants), entity.Country)
}

func (g *Generator) build(variants []string, country string) []enrichment.Candidate {
	tld := CountryTLD(country)
	if tld == "" {
		tld = g.genericTLD
	}
	seen := make(map[string]struct{})
	var out []enrichment.Candidate
	for _, variant := range variants {
		label := Normalize(variant)
		if label == "" {
			continue
		}
		guesses := []string{
			"https://www." + label + "." + tld,
			"https://" + label + "." + tld,
			"https://www." + label + "." + g.genericTLD,
		}
		for _, u := range guesses {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, enrichment.Candidate{Variant: variant, URL: u})
		}
	}
	return out
}

// Variants returns the legal name, its suffix-stripped trading form, and
// brand guesses from its leading tokens. Variants shorter than three
// characters are dropped.
func Variants(legalName string) []string {
	full := strings.Join(strings.Fields(legalName), " ")
	if full == "" {
		return nil
	}
	names := []string{full}
	trading := StripLegalSuffix(full)
	if trading != full {
		names = append(names, trading)
	}
	if words := strings.Fields(trading); len(words) >= 2 {
		names = append(names, words[0], words[0]+" "+words[1])
	}
	return dedupe(names)
}

// StripLegalSuffix removes trailing corporate-form tokens such as "Ltd".
func StripLegalSuffix(name string) string {
	out := name
	for _, re := range legalSuffixes {
		out = re.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(out)
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if len(n) < minVariantLength {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

var lower = cases.Lower(language.Und)

// Normalize lowercases s, folds accents and keeps only ASCII letters and digits.
func Normalize(s string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		s,
	)
	if err != nil {
		folded = s
	}
	folded = lower.String(folded)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CountryTLD maps a country code or name to its conventional commercial TLD.
// Unknown countries return "".
func CountryTLD(country string) string {
	return countryTLDs[strings.ToLower(strings.TrimSpace(country))]
}
