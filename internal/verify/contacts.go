package verify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

const (
	maxEmails = 10
	maxPhones = 5
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z0-9._-]+\.[a-zA-Z0-9._-]+`)
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:\+44\s?(?:\(0\)\s?)?|\b0)\d{2,4}[\s-]?\d{3,4}[\s-]?\d{3,4}`),
		regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
	}
	contactPattern = regexp.MustCompile(`(?i)(contact|kontakt|get in touch|support)`)
	genericMailbox = regexp.MustCompile(`(?i)^(info|contact|hello|support|sales|admin|noreply|no-reply|enquiries|enquiry|mail|office)[@+_.-]`)
	nonDigit       = regexp.MustCompile(`\D`)
)

var ukCountries = []string{"england", "scotland", "wales", "united kingdom", "uk", "gb", "northern ireland"}

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

// ExtractEmails returns up to ten distinct addresses found in text, skipping
// placeholders and asset names like "logo@2x.png".
func ExtractEmails(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range emailPattern.FindAllString(text, -1) {
		email := strings.ToLower(strings.TrimRight(m, "._-"))
		if strings.Contains(email, "example.com") || strings.Contains(email, "placeholder") {
			continue
		}
		if hasAssetSuffix(email) {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
		if len(out) == maxEmails {
			break
		}
	}
	return out
}

func hasAssetSuffix(s string) bool {
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// ExtractPhones returns up to five phone-like strings found in text, UK
// style groupings first. Matches with the same digits count once.
func ExtractPhones(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, re := range phonePatterns {
		for _, m := range re.FindAllString(text, -1) {
			phone := strings.TrimSpace(m)
			key := nationalDigits(phone)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, phone)
			if len(out) == maxPhones {
				return out
			}
		}
	}
	return out
}

// nationalDigits strips formatting and any international or trunk prefix so
// "+44 (0)20 ..." and "020 ..." compare equal.
func nationalDigits(phone string) string {
	digits := nonDigit.ReplaceAllString(phone, "")
	digits = strings.TrimPrefix(digits, "00")
	digits = strings.TrimPrefix(digits, "44")
	return strings.TrimPrefix(digits, "0")
}

// IsUK reports whether country names a UK jurisdiction.
func IsUK(country string) bool {
	c := strings.ToLower(strings.TrimSpace(country))
	if c == "" {
		return false
	}
	for _, uk := range ukCountries {
		if c == uk || (len(uk) > 2 && strings.Contains(c, uk)) {
			return true
		}
	}
	return false
}

// FormatUKPhone renders a UK number as "+44 XXXX XXX XXX" (ten national
// digits) or "+44 XXX XXXX XXXX" (eleven). Other lengths are rejected.
func FormatUKPhone(phone string) (string, bool) {
	digits := nonDigit.ReplaceAllString(phone, "")
	digits = strings.TrimPrefix(digits, "0")
	digits = strings.TrimPrefix(digits, "44")
	switch len(digits) {
	case 10:
		return "+44 " + digits[:4] + " " + digits[4:7] + " " + digits[7:], true
	case 11:
		return "+44 " + digits[:3] + " " + digits[3:7] + " " + digits[7:], true
	default:
		return "", false
	}
}

// ChoosePhone picks the best phone number, normalizing UK numbers and
// preferring ones with a country code.
func ChoosePhone(phones []string, country string) string {
	uk := IsUK(country)
	var formatted []string
	for _, p := range phones {
		if uk {
			f, ok := FormatUKPhone(p)
			if !ok {
				continue
			}
			p = f
		}
		formatted = append(formatted, p)
	}
	for _, p := range formatted {
		if strings.HasPrefix(p, "+") {
			return p
		}
	}
	if len(formatted) > 0 {
		return formatted[0]
	}
	return ""
}

// ChooseEmail prefers a named mailbox on domain, then a generic mailbox on
// domain (hello, info, contact first), then the first address found.
func ChooseEmail(emails []string, domain string) string {
	if len(emails) == 0 {
		return ""
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	var onDomain []string
	for _, e := range emails {
		if domain != "" && strings.HasSuffix(strings.ToLower(e), "@"+domain) {
			onDomain = append(onDomain, e)
		}
	}
	for _, e := range onDomain {
		if !genericMailbox.MatchString(e) {
			return e
		}
	}
	for _, prefix := range []string{"hello@", "info@", "contact@"} {
		for _, e := range onDomain {
			if strings.HasPrefix(strings.ToLower(e), prefix) {
				return e
			}
		}
	}
	if len(onDomain) > 0 {
		return onDomain[0]
	}
	return emails[0]
}

// FindContactLink returns the absolute URL of the first same-site link that
// looks like a contact page, falling back to "<base>/contact".
func FindContactLink(page Page) string {
	base, err := url.Parse(page.URL)
	if err != nil || base.Host == "" {
		return ""
	}
	for _, link := range page.Links {
		if !contactPattern.MatchString(link.Text) && !contactPattern.MatchString(link.Href) {
			continue
		}
		ref, err := url.Parse(link.Href)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if !sameSite(resolved.Hostname(), base.Hostname()) {
			continue
		}
		resolved.Fragment = ""
		if resolved.String() == base.String() {
			continue
		}
		return resolved.String()
	}
	return base.ResolveReference(&url.URL{Path: "/contact"}).String()
}

func sameSite(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}

// ScrapeContacts merges contact details from the accepted page and an
// optional contact page.
func ScrapeContacts(pages []Page, country string) enrichment.Fields {
	var emails, phones []string
	domain := ""
	for i, p := range pages {
		if i == 0 {
			domain = p.Host
		}
		emails = append(emails, ExtractEmails(p.Text+" "+mailtoLinks(p))...)
		phones = append(phones, ExtractPhones(p.Text+" "+telLinks(p))...)
	}
	return enrichment.Fields{
		Email: ChooseEmail(dedupe(emails), domain),
		Phone: ChoosePhone(dedupe(phones), country),
	}
}

func mailtoLinks(p Page) string {
	var b strings.Builder
	for _, l := range p.Links {
		if addr, ok := strings.CutPrefix(strings.ToLower(l.Href), "mailto:"); ok {
			addr, _, _ = strings.Cut(addr, "?")
			b.WriteString(addr)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func telLinks(p Page) string {
	var b strings.Builder
	for _, l := range p.Links {
		if num, ok := strings.CutPrefix(strings.ToLower(l.Href), "tel:"); ok {
			b.WriteString(num)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
