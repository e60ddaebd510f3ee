package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oppscan/internal/domain"
)

// OpportunityStore is the persistence surface the writer drives.
type OpportunityStore interface {
	InsertOpportunity(ctx context.Context, o *domain.Opportunity) error
}

// Writer validates accepted candidates and inserts them as opportunities.
// A single candidate's failure never aborts its siblings; the job runner
// aggregates per-candidate outcomes.
type Writer struct {
	store     OpportunityStore
	logger    *zap.Logger
	createdBy string
	now       func() time.Time
}

func New(store OpportunityStore, logger *zap.Logger) *Writer {
	return &Writer{
		store:     store,
		logger:    logger,
		createdBy: "discovery-pipeline",
		now:       time.Now,
	}
}

// Insert validates, normalizes, and persists one candidate attributed to
// its source. Returns ValidationError for rejected candidates and
// ErrDuplicate for dedup hits.
func (w *Writer) Insert(ctx context.Context, cand domain.Candidate, src domain.Source) error {
	opp, err := w.build(cand, src)
	if err != nil {
		return err
	}
	return w.store.InsertOpportunity(ctx, opp)
}

func (w *Writer) build(cand domain.Candidate, src domain.Source) (*domain.Opportunity, error) {
	if strings.TrimSpace(cand.Title) == "" {
		return nil, &domain.ValidationError{Field: "title", Reason: "missing"}
	}
	if strings.TrimSpace(cand.Agency) == "" {
		return nil, &domain.ValidationError{Field: "agency", Reason: "missing"}
	}

	proposalDue, err := parseDate(cand.ProposalDue)
	if err != nil {
		return nil, &domain.ValidationError{Field: "proposal_due", Reason: fmt.Sprintf("unparseable: %q", cand.ProposalDue)}
	}

	priority := cand.Priority
	if !validPriority(priority) {
		priority = w.priorityFromDeadline(proposalDue)
	}

	return &domain.Opportunity{
		ID:           uuid.New(),
		Title:        strings.TrimSpace(cand.Title),
		Agency:       strings.TrimSpace(cand.Agency),
		Geography:    cand.Geography,
		Region:       regionFor(cand.Geography),
		Tags:         normalizeTags(cand.Tags),
		ContractType: cand.ContractType,
		ValueMin:     cand.ValueMin,
		ValueMax:     cand.ValueMax,
		IssueDate:    parseOptionalDate(cand.IssueDate),
		QuestionsDue: parseOptionalDate(cand.QuestionsDue),
		PreBidDate:   parseOptionalDate(cand.PreBidDate),
		ProposalDue:  proposalDue,
		Summary:      cand.Summary,
		Priority:     priority,
		SourceName:   src.Name,
		SourceURL:    src.URL,
		Status:       "new",
		CreatedBy:    w.createdBy,
		CreatedAt:    w.now(),
	}, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matched %q", s)
}

func parseOptionalDate(s string) *time.Time {
	t, err := parseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

func validPriority(p string) bool {
	return p == "high" || p == "medium" || p == "low"
}

// priorityFromDeadline buckets by proposal-due proximity when the
// classifier omits or garbles the priority.
func (w *Writer) priorityFromDeadline(due time.Time) string {
	until := due.Sub(w.now())
	switch {
	case until <= 14*24*time.Hour:
		return "high"
	case until <= 45*24*time.Hour:
		return "medium"
	default:
		return "low"
	}
}
