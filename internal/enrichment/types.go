package enrichment

import (
	"net/http"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of an enrichment job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions can occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job is one unit of enrichment work targeting exactly one entity.
type Job struct {
	ID           int64      `json:"id"`
	EntityID     string     `json:"entity_id"`
	Status       JobStatus  `json:"status"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	WorkerID     string     `json:"worker_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Associate is a known person linked to an entity (officer, director, partner).
type Associate struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Surname returns the last whitespace-separated token of the associate name.
// Registry-style names ("SMITH, John") are handled by taking the part before
// the comma.
func (a Associate) Surname() string {
	name := strings.TrimSpace(a.Name)
	if i := strings.Index(name, ","); i > 0 {
		return strings.TrimSpace(name[:i])
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// Fields holds the contact fields an enrichment run may fill in.
// Empty strings mean "unknown".
type Fields struct {
	Website string `json:"website,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Empty reports whether no field carries a value.
func (f Fields) Empty() bool {
	return f.Website == "" && f.Email == "" && f.Phone == ""
}

// Missing reports whether at least one field is still unknown.
func (f Fields) Missing() bool {
	return f.Website == "" || f.Email == "" || f.Phone == ""
}

// FillableFrom returns the subset of candidate that would be written on top of
// f under fill-if-null semantics, along with the names of those fields.
func (f Fields) FillableFrom(candidate Fields) (Fields, []string) {
	var out Fields
	var names []string
	if f.Website == "" && candidate.Website != "" {
		out.Website = candidate.Website
		names = append(names, "website")
	}
	if f.Email == "" && candidate.Email != "" {
		out.Email = candidate.Email
		names = append(names, "email")
	}
	if f.Phone == "" && candidate.Phone != "" {
		out.Phone = candidate.Phone
		names = append(names, "phone")
	}
	return out, names
}

// Entity is the business record targeted by a job.
type Entity struct {
	ID                 string      `json:"id"`
	LegalName          string      `json:"legal_name"`
	TradingNames       []string    `json:"trading_names,omitempty"`
	RegistrationNumber string      `json:"registration_number,omitempty"`
	AddressLine        string      `json:"address_line,omitempty"`
	PostalCode         string      `json:"postal_code,omitempty"`
	Country            string      `json:"country,omitempty"`
	Associates         []Associate `json:"associates,omitempty"`
	Fields
}

// Candidate is a guessed URL derived from one name variant.
type Candidate struct {
	Variant string `json:"variant"`
	URL     string `json:"url"`
}

// Verification signal names reported in VerificationResult.Signals. The
// associate signal is reported as "<n>_officers".
const (
	SignalRegistrationNumber = "company_number"
	SignalDomainMatch        = "domain_match"
	SignalFullAddress        = "full_address"
	SignalPostcode           = "postcode"
	SignalLegalName          = "company_name"
	SignalAssociatesSuffix   = "_officers"
)

// VerificationResult is the outcome of scoring one candidate page.
type VerificationResult struct {
	URL      string   `json:"url"`
	Score    int      `json:"score"`
	Signals  []string `json:"signals"`
	Accepted bool     `json:"accepted"`
}

// Discovery is the outcome of running the verification engine over the
// candidate list of one entity.
type Discovery struct {
	Website  string               `json:"website,omitempty"`
	Contacts Fields               `json:"contacts"`
	Result   VerificationResult   `json:"result"`
	Tried    []VerificationResult `json:"tried"`
	Page     []byte               `json:"-"`
}

// Found reports whether a website was accepted.
func (d Discovery) Found() bool {
	return d.Website != ""
}

// WorkerLoad counts the jobs currently leased by one worker.
type WorkerLoad struct {
	WorkerID string `json:"worker_id"`
	Jobs     int64  `json:"jobs"`
}

// QueueStats summarizes the backlog by status.
type QueueStats struct {
	Pending       int64        `json:"pending"`
	Processing    int64        `json:"processing"`
	Completed     int64        `json:"completed"`
	Failed        int64        `json:"failed"`
	ActiveWorkers []WorkerLoad `json:"active_workers"`
}

// Total returns the number of jobs across all statuses.
func (s QueueStats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// FetchRequest captures everything needed to fetch a candidate URL.
type FetchRequest struct {
	JobID       int64
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	Host         string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// EnrichedEvent is published when a job fills at least one entity field.
type EnrichedEvent struct {
	EventID       string    `json:"event_id,omitempty"`
	JobID         int64     `json:"job_id"`
	EntityID      string    `json:"entity_id"`
	Website       string    `json:"website,omitempty"`
	FieldsUpdated []string  `json:"fields_updated"`
	Score         int       `json:"score"`
	Signals       []string  `json:"signals"`
	EvidenceURI   string    `json:"evidence_uri,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
