// Package scoring turns per-question scores into the overall compliance
// verdict and renders the remediation ticket text.
package scoring

import (
	"fmt"
	"strings"

	"nhaguard/internal/config"
	"nhaguard/internal/domain"
)

// Decide maps the aggregate of scores onto the three-tier verdict. It is a
// pure function of the scores and the two thresholds.
func Decide(scores []int, sc config.Scoring) domain.Overall {
	total := 0
	for _, s := range scores {
		total += s
	}
	switch {
	case total >= sc.CompliantThreshold:
		return domain.Compliant
	case total >= sc.PartialThreshold:
		return domain.PartiallyCompliant
	default:
		return domain.NonCompliant
	}
}

// RunScores extracts the countable scores of a run. Questions answered
// UNKNOWN only contribute when the configured policy counts their default
// toward the total.
func RunScores(run domain.ValidationRun, sc config.Scoring) []int {
	scores := make([]int, 0, len(run.Results))
	for _, q := range run.Results {
		if q.Answer == domain.AnswerUnknown && !sc.CountUnknownTowardScore {
			scores = append(scores, 0)
			continue
		}
		scores = append(scores, q.Score)
	}
	return scores
}

// TicketSummary builds the remediation ticket summary line.
func TicketSummary(run domain.ValidationRun) string {
	return fmt.Sprintf("NHA Compliance Gap - %s - %s", run.ControlID, run.ApplicationID)
}

// TicketDescription serializes the run's question results as structured
// text for the remediation ticket body.
func TicketDescription(run domain.ValidationRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Control: %s\n", run.ControlID)
	fmt.Fprintf(&b, "Application: %s\n", run.ApplicationID)
	if run.AUOwner != "" {
		fmt.Fprintf(&b, "AU Owner: %s\n", run.AUOwner)
	}
	fmt.Fprintf(&b, "Overall: %s (total score %d)\n\n", run.Overall, run.TotalScore())
	for _, q := range run.Results {
		fmt.Fprintf(&b, "%s: answer=%s score=%d\n", q.Key, q.Answer, q.Score)
		if q.Rationale != "" {
			fmt.Fprintf(&b, "  rationale: %s\n", q.Rationale)
		}
		if len(q.EvidenceUsed) > 0 {
			fmt.Fprintf(&b, "  evidence: %s\n", strings.Join(q.EvidenceUsed, ", "))
		}
	}
	return b.String()
}
