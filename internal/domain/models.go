package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind distinguishes how a source is fetched and classified.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"  // city/county portals
	SourceGlobal SourceKind = "global" // state/federal portals
	SourceCustom SourceKind = "custom" // ad-hoc URLs added by users
)

// Source is one URL target to be scraped in a batch. Immutable for the
// life of the batch.
type Source struct {
	URL  string     `json:"url"`
	Name string     `json:"name"`
	Kind SourceKind `json:"kind"`
}

// ScrapeSession represents one batch invocation. Session ids are never
// reused; the session row itself is never mutated after creation.
type ScrapeSession struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Sources   []Source  `json:"sources"`
}

// ProgressStatus is the lifecycle state of one source within a session.
type ProgressStatus string

const (
	StatusPending    ProgressStatus = "pending"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
	StatusFailed     ProgressStatus = "failed"
	StatusRetrying   ProgressStatus = "retrying"
)

// Terminal reports whether no further automatic transition occurs.
func (s ProgressStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProgressRecord is the durable per-source status row, keyed by
// (session_id, source_url). Updates are upserts; records are never deleted.
type ProgressRecord struct {
	SessionID          string         `json:"session_id"`
	SourceName         string         `json:"source_name"`
	SourceURL          string         `json:"source_url"`
	Status             ProgressStatus `json:"status"`
	OpportunitiesFound int            `json:"opportunities_found"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	RetryCount         int            `json:"retry_count"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// SessionDone reports the sole completion predicate for a session: every
// known record is in a terminal state. An empty set is not done.
func SessionDone(records []ProgressRecord) bool {
	if len(records) == 0 {
		return false
	}
	for _, r := range records {
		if !r.Status.Terminal() {
			return false
		}
	}
	return true
}

// Candidate is an unvalidated structured record proposed by the classifier.
// Date fields are raw strings as returned by the model; the writer parses
// them. Candidates exist only in memory between classification and write.
type Candidate struct {
	Title        string   `json:"title"`
	Agency       string   `json:"agency"`
	Geography    string   `json:"geography"`
	Tags         []string `json:"tags"`
	ContractType string   `json:"contract_type"`
	ValueMin     *float64 `json:"value_min"`
	ValueMax     *float64 `json:"value_max"`
	IssueDate    string   `json:"issue_date"`
	QuestionsDue string   `json:"questions_due"`
	PreBidDate   string   `json:"pre_bid_date"`
	ProposalDue  string   `json:"proposal_due"`
	Summary      string   `json:"summary"`
	Priority     string   `json:"priority"`
}

// ClassifyHints carries source attribution into the classifier prompt.
type ClassifyHints struct {
	SourceName string
	SourceURL  string
	Kind       SourceKind
}

// Opportunity is the validated, persisted form of an accepted candidate.
// Once written it is owned by the surrounding application and never
// mutated by the pipeline.
type Opportunity struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	Agency       string     `json:"agency"`
	Geography    string     `json:"geography"`
	Region       string     `json:"region"`
	Tags         []string   `json:"tags"`
	ContractType string     `json:"contract_type"`
	ValueMin     *float64   `json:"value_min,omitempty"`
	ValueMax     *float64   `json:"value_max,omitempty"`
	IssueDate    *time.Time `json:"issue_date,omitempty"`
	QuestionsDue *time.Time `json:"questions_due,omitempty"`
	PreBidDate   *time.Time `json:"pre_bid_date,omitempty"`
	ProposalDue  time.Time  `json:"proposal_due"`
	Summary      string     `json:"summary"`
	Priority     string     `json:"priority"`
	SourceName   string     `json:"source_name"`
	SourceURL    string     `json:"source_url"`
	Status       string     `json:"status"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SessionSummary is the aggregate returned to the batch caller. Full
// per-source detail stays in the progress records.
type SessionSummary struct {
	SourcesSucceeded           int `json:"sources_succeeded"`
	SourcesFailed              int `json:"sources_failed"`
	TotalOpportunitiesInserted int `json:"total_opportunities_inserted"`
}

// SearchRequest is the search-API source variant of a batch start.
type SearchRequest struct {
	DaysBack       int    `json:"days_back"`
	SearchKeywords string `json:"search_keywords,omitempty"`
	SearchID       string `json:"search_id,omitempty"`
	SourceType     string `json:"source_type"`
}

// SearchSummary extends the session summary for the search-API variant.
type SearchSummary struct {
	Fetched    int `json:"fetched"`
	Classified int `json:"classified"`
	Inserted   int `json:"inserted"`
	Skipped    int `json:"skipped"`
}
