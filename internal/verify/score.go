package verify

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/entity-enricher/internal/candidate"
	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

// Signal weights.
const (
	PointsRegistrationNumber = 70
	PointsDomainMatch        = 30
	PointsFullAddress        = 40
	PointsPostcode           = 20
	PointsPerAssociate       = 15
	MaxAssociatePoints       = 30
	PointsLegalName          = 10

	MaxScore         = 100
	DefaultThreshold = 50

	minSurnameLength = 4
)

// Scorer computes confidence scores for candidate pages.
type Scorer struct {
	threshold int
}

// NewScorer returns a Scorer accepting pages at or above threshold.
func NewScorer(threshold int) Scorer {
	if threshold <= 0 || threshold > MaxScore {
		threshold = DefaultThreshold
	}
	return Scorer{threshold: threshold}
}

// Threshold returns the acceptance threshold.
func (s Scorer) Threshold() int { return s.threshold }

// Score evaluates every signal independently and caps the sum at MaxScore.
func (s Scorer) Score(entity enrichment.Entity, page Page) enrichment.VerificationResult {
	score := 0
	signals := []string{}

	if reg := strings.ToLower(stripSpace(entity.RegistrationNumber)); reg != "" {
		if strings.Contains(page.HTML, reg) || strings.Contains(page.Text, reg) {
			score += PointsRegistrationNumber
			signals = append(signals, enrichment.SignalRegistrationNumber)
		}
	}

	if domainMatches(page, entity.LegalName) {
		score += PointsDomainMatch
		signals = append(signals, enrichment.SignalDomainMatch)
	}

	address := strings.ToLower(collapse(entity.AddressLine))
	postcode := strings.ToLower(stripSpace(entity.PostalCode))
	if postcode != "" && strings.Contains(page.Compact, postcode) {
		if address != "" && strings.Contains(page.Text, address) {
			score += PointsFullAddress
			signals = append(signals, enrichment.SignalFullAddress)
		} else {
			score += PointsPostcode
			signals = append(signals, enrichment.SignalPostcode)
		}
	}

	matched := 0
	for _, a := range entity.Associates {
		surname := strings.ToLower(a.Surname())
		if utf8.RuneCountInString(surname) < minSurnameLength {
			continue
		}
		if strings.Contains(page.Text, surname) {
			matched++
		}
	}
	if matched > 0 {
		score += min(MaxAssociatePoints, matched*PointsPerAssociate)
		signals = append(signals, fmt.Sprintf("%d%s", matched, enrichment.SignalAssociatesSuffix))
	}

	if name := strings.ToLower(collapse(entity.LegalName)); name != "" && strings.Contains(page.Text, name) {
		score += PointsLegalName
		signals = append(signals, enrichment.SignalLegalName)
	}

	score = min(score, MaxScore)
	return enrichment.VerificationResult{
		URL:      page.URL,
		Score:    score,
		Signals:  signals,
		Accepted: score >= s.threshold,
	}
}

// domainMatches compares the host's primary label with the normalized legal
// name. An empty label or name never matches.
func domainMatches(page Page, legalName string) bool {
	host := page.Host
	if host == "" {
		u, err := url.Parse(page.URL)
		if err != nil {
			return false
		}
		host = u.Hostname()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	label, _, _ := strings.Cut(host, ".")
	name := candidate.Normalize(legalName)
	if label == "" || name == "" {
		return false
	}
	return label == name || strings.Contains(name, label) || strings.Contains(label, name)
}
