package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if claimsTotal == nil || jobsTotal == nil || candidateFetchesTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	beforeJob := testutil.ToFloat64(claimsTotal.WithLabelValues("job"))
	beforeEmpty := testutil.ToFloat64(claimsTotal.WithLabelValues("empty"))
	ObserveClaim(true)
	ObserveClaim(false)
	ObserveClaim(false)
	if got := testutil.ToFloat64(claimsTotal.WithLabelValues("job")) - beforeJob; got != 1 {
		t.Errorf("job claims delta = %f, want 1", got)
	}
	if got := testutil.ToFloat64(claimsTotal.WithLabelValues("empty")) - beforeEmpty; got != 2 {
		t.Errorf("empty claims delta = %f, want 2", got)
	}

	beforeCompleted := testutil.ToFloat64(jobsTotal.WithLabelValues("completed"))
	ObserveJob("completed", 2*time.Second)
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("completed")) - beforeCompleted; got != 1 {
		t.Errorf("completed jobs delta = %f, want 1", got)
	}

	beforeWebsite := testutil.ToFloat64(fieldsUpdatedTotal.WithLabelValues("website"))
	ObserveFieldsUpdated([]string{"website", "email"})
	if got := testutil.ToFloat64(fieldsUpdatedTotal.WithLabelValues("website")) - beforeWebsite; got != 1 {
		t.Errorf("website delta = %f, want 1", got)
	}

	beforeReaped := testutil.ToFloat64(leasesReapedTotal)
	ObserveLeasesReaped(3)
	ObserveLeasesReaped(0)
	if got := testutil.ToFloat64(leasesReapedTotal) - beforeReaped; got != 3 {
		t.Errorf("reaped delta = %f, want 3", got)
	}

	before := testutil.ToFloat64(jobsInFlight)
	IncInFlight()
	DecInFlight()
	if got := testutil.ToFloat64(jobsInFlight); got != before {
		t.Errorf("in-flight gauge = %f, want %f", got, before)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
