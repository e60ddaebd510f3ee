package classifier

import (
	"encoding/json"
	"strconv"
	"strings"

	"oppscan/internal/domain"
)

// rawCandidate mirrors one element of the extraction response before
// validation. Numeric fields tolerate being returned as strings.
type rawCandidate struct {
	Title        string      `json:"title"`
	Agency       string      `json:"agency"`
	Geography    string      `json:"geography"`
	Tags         []string    `json:"tags"`
	ContractType string      `json:"contract_type"`
	ValueMin     looseNumber `json:"value_min"`
	ValueMax     looseNumber `json:"value_max"`
	IssueDate    string      `json:"issue_date"`
	QuestionsDue string      `json:"questions_due"`
	PreBidDate   string      `json:"pre_bid_date"`
	ProposalDue  string      `json:"proposal_due"`
	Summary      string      `json:"summary"`
	Priority     string      `json:"priority"`
}

func (p rawCandidate) validate() (domain.Candidate, error) {
	if strings.TrimSpace(p.Title) == "" {
		return domain.Candidate{}, &domain.ValidationError{Field: "title", Reason: "missing"}
	}
	if strings.TrimSpace(p.Agency) == "" {
		return domain.Candidate{}, &domain.ValidationError{Field: "agency", Reason: "missing"}
	}
	if strings.TrimSpace(p.ProposalDue) == "" {
		return domain.Candidate{}, &domain.ValidationError{Field: "proposal_due", Reason: "missing"}
	}
	return domain.Candidate{
		Title:        strings.TrimSpace(p.Title),
		Agency:       strings.TrimSpace(p.Agency),
		Geography:    strings.TrimSpace(p.Geography),
		Tags:         p.Tags,
		ContractType: strings.TrimSpace(p.ContractType),
		ValueMin:     p.ValueMin.value,
		ValueMax:     p.ValueMax.value,
		IssueDate:    strings.TrimSpace(p.IssueDate),
		QuestionsDue: strings.TrimSpace(p.QuestionsDue),
		PreBidDate:   strings.TrimSpace(p.PreBidDate),
		ProposalDue:  strings.TrimSpace(p.ProposalDue),
		Summary:      strings.TrimSpace(p.Summary),
		Priority:     strings.ToLower(strings.TrimSpace(p.Priority)),
	}, nil
}

// looseNumber accepts a JSON number, a numeric string (with optional "$"
// and thousands separators), or null.
type looseNumber struct {
	value *float64
}

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		str = strings.NewReplacer("$", "", ",", "", " ", "").Replace(str)
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil
		}
		n.value = &f
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	n.value = &f
	return nil
}
