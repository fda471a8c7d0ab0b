// Package workflow runs the ordered validation questions of a compliance
// control against the backend adapters and seals the run with a verdict.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nhaguard/internal/adapter"
	"nhaguard/internal/config"
	"nhaguard/internal/domain"
	"nhaguard/internal/evidence"
	"nhaguard/internal/registry"
	"nhaguard/internal/scoring"
	"nhaguard/internal/store"
)

// ErrMissingApplication aborts a run before Q1; an application identifier
// is the one input the workflow cannot degrade around.
var ErrMissingApplication = errors.New("application id is required")

// Adapter operations, per backend family.
const (
	opQuery           = "query"
	opAnalyzeEvidence = "analyze_evidence"
	opCreateTicket    = "create_ticket"
)

// Runner owns a ValidationRun for its duration. Distinct runs are
// independent and may execute concurrently; within a run the questions are
// strictly sequential because Q2 depends on Q1 and Q3/Q4 share one adapter
// call.
type Runner struct {
	Cache    *evidence.Cache
	Registry *registry.Registry
	Invoker  *adapter.Invoker
	Config   *config.Config
	Logger   *slog.Logger
	Store    *store.Store
	Now      func() time.Time

	// Backend adapters. Their callable shape is negotiated per call by
	// the invoker, so they are deliberately untyped here.
	Query     any
	Analysis  any
	Ticketing any
}

// Options are the inputs of one validation run.
type Options struct {
	ControlID     string
	ApplicationID string
	AUOwner       string
	Evidence      []domain.EvidenceDescriptor
	// AppFilter narrows the evidence manifest by file-name substring;
	// a filter matching nothing falls back to the full manifest.
	AppFilter string
}

// Validate runs the workflow and always returns a structured outcome; fatal
// errors surface as Success=false rather than as a Go error.
func (r *Runner) Validate(ctx context.Context, opts Options) domain.ValidationOutcome {
	run, err := r.Run(ctx, opts)
	if err != nil {
		return domain.ValidationOutcome{
			Success:       false,
			Error:         err.Error(),
			ControlID:     opts.ControlID,
			ApplicationID: opts.ApplicationID,
			AUOwner:       opts.AUOwner,
		}
	}
	results := make(map[string]domain.QuestionResult, len(run.Results))
	for _, q := range run.Results {
		results[q.Key] = q
	}
	return domain.ValidationOutcome{
		Success:           true,
		RunID:             run.ID,
		ControlID:         run.ControlID,
		ApplicationID:     run.ApplicationID,
		AUOwner:           run.AUOwner,
		Results:           results,
		OverallCompliance: run.Overall,
		Ticket:            run.Ticket,
	}
}

// Run executes Q1..Qn in order and seals the run. Returned errors are the
// fatal kind only (missing input, unknown control, cancellation); every
// other failure degrades the affected question instead.
func (r *Runner) Run(ctx context.Context, opts Options) (domain.ValidationRun, error) {
	if opts.ApplicationID == "" {
		return domain.ValidationRun{}, ErrMissingApplication
	}
	controlID := opts.ControlID
	if controlID == "" {
		controlID = r.Config.Control.Default
	}
	desc, err := r.Registry.Ensure(ctx, controlID)
	if err != nil {
		return domain.ValidationRun{}, fmt.Errorf("control registration: %w", err)
	}

	run := domain.ValidationRun{
		ID:            uuid.New().String(),
		ControlID:     controlID,
		ApplicationID: opts.ApplicationID,
		AUOwner:       opts.AUOwner,
		StartedAt:     r.now().UTC().Format(time.RFC3339),
	}
	logger := r.logger().With("run_id", run.ID, "control_id", controlID, "application_id", opts.ApplicationID)
	if r.Store != nil {
		_ = r.Store.AppendEvent(ctx, run.StartedAt, "run.started", run.ID, "run", run.ID, map[string]any{
			"application_id": opts.ApplicationID,
		})
	}

	manifest := evidence.FilterManifest(
		evidence.NewNormalizer(r.Cache, r.Config.Evidence.AllowedExtensions, logger).Normalize(opts.Evidence),
		opts.AppFilter,
	)
	logger.Info("validation run started", "questions", len(desc.Questions), "evidence", len(manifest))

	// Q3/Q4 come from a single analysis call; compute lazily on the first
	// of the pair.
	var analysis map[string]domain.QuestionResult

	for _, spec := range desc.Questions {
		var result domain.QuestionResult
		switch spec.Key {
		case "Q1":
			result = r.runQ1(ctx, run)
		case "Q2":
			prior, _ := run.Result("Q1")
			result = r.runQ2(ctx, run, prior)
		case "Q3", "Q4":
			if analysis == nil {
				analysis = r.runAnalysis(ctx, run, manifest)
			}
			result = analysis[spec.Key]
		default:
			result = r.degraded(spec.Key, "no handler for question")
		}
		result.Key = spec.Key
		run.Results = append(run.Results, result)
		logger.Info("question answered", "question", spec.Key, "answer", result.Answer, "score", result.Score)
		if r.Store != nil {
			_ = r.Store.AppendEvent(ctx, r.now().UTC().Format(time.RFC3339), "question.answered", run.ID, "question", spec.Key, map[string]any{
				"answer": result.Answer,
				"score":  result.Score,
			})
		}

		// Cooperative cancellation checkpoint between questions; a call
		// already in flight is bounded by its own timeout.
		if err := ctx.Err(); err != nil {
			return domain.ValidationRun{}, fmt.Errorf("run %s canceled after %s: %w", run.ID, spec.Key, err)
		}
	}

	run.Overall = scoring.Decide(scoring.RunScores(run, r.Config.Scoring), r.Config.Scoring)
	if run.Overall == domain.NonCompliant {
		r.escalate(ctx, &run, logger)
	}
	run.CompletedAt = r.now().UTC().Format(time.RFC3339)
	logger.Info("validation run scored", "overall", run.Overall, "total", run.TotalScore())

	if r.Store != nil {
		if err := r.Store.InsertRun(ctx, run); err != nil {
			logger.Warn("persist run failed", "err", err)
		}
	}
	return run, nil
}

// runQ1 answers Application NHA Identification: are non-human accounts
// registered to this application? Both branches score non-zero when the
// count is evidenced; a confirmed-absent inventory is a valid compliant
// state with its own configurable weight.
func (r *Runner) runQ1(ctx context.Context, run domain.ValidationRun) domain.QuestionResult {
	count, err := r.queryCount(ctx,
		`SELECT COUNT(*) FROM ServiceAccounts WHERE application_id = ? AND account_type = 'non-human'`,
		run.ApplicationID)
	if err != nil {
		return r.degraded("Q1", fmt.Sprintf("account lookup failed: %v", err))
	}
	sc := r.Config.Scoring
	if count > 0 {
		return domain.QuestionResult{
			Answer:    domain.AnswerYes,
			Rationale: fmt.Sprintf("%d non-human account(s) registered to %s", count, run.ApplicationID),
			Score:     sc.Q1Found,
		}
	}
	return domain.QuestionResult{
		Answer:    domain.AnswerNo,
		Rationale: fmt.Sprintf("no non-human accounts registered to %s", run.ApplicationID),
		Score:     sc.Q1Absent,
	}
}

// runQ2 answers ESAR Registration Validation, conditioned on Q1's
// disposition: with no accounts found there is nothing to register and the
// configured floor applies.
func (r *Runner) runQ2(ctx context.Context, run domain.ValidationRun, q1 domain.QuestionResult) domain.QuestionResult {
	sc := r.Config.Scoring
	if q1.Answer == domain.AnswerNo {
		return domain.QuestionResult{
			Answer:    domain.AnswerNo,
			Rationale: "no non-human accounts to register",
			Score:     sc.Q2Floor,
		}
	}
	count, err := r.queryCount(ctx,
		`SELECT COUNT(*) FROM ServiceAccounts WHERE application_id = ? AND account_type = 'non-human' AND esar_registration = 'completed'`,
		run.ApplicationID)
	if err != nil {
		return r.degraded("Q2", fmt.Sprintf("registration lookup failed: %v", err))
	}
	if count > 0 {
		return domain.QuestionResult{
			Answer:    domain.AnswerYes,
			Rationale: fmt.Sprintf("%d account(s) with completed eSAR registration", count),
			Score:     sc.Q2Registered,
		}
	}
	return domain.QuestionResult{
		Answer:    domain.AnswerNo,
		Rationale: "no accounts with completed eSAR registration",
		Score:     sc.Q2Floor,
	}
}

// runAnalysis performs the single document-analysis call that yields both
// Q3 (password construction) and Q4 (password rotation). A missing or
// malformed backend result degrades each question independently.
func (r *Runner) runAnalysis(ctx context.Context, run domain.ValidationRun, manifest []domain.ManifestEntry) map[string]domain.QuestionResult {
	payload := map[string]any{
		"applicationId":    run.ApplicationID,
		"auOwner":          run.AUOwner,
		"evidenceManifest": manifestPayload(manifest),
	}
	result, err := r.Invoker.Invoke(ctx, r.Analysis, opAnalyzeEvidence, payload, r.Config.Adapters.Analysis.Timeout())
	if err != nil {
		return map[string]domain.QuestionResult{
			"Q3": r.degraded("Q3", fmt.Sprintf("evidence analysis failed: %v", err)),
			"Q4": r.degraded("Q4", fmt.Sprintf("evidence analysis failed: %v", err)),
		}
	}
	return map[string]domain.QuestionResult{
		"Q3": r.questionFromAnalysis(result, "passwordConstruction", "Q3"),
		"Q4": r.questionFromAnalysis(result, "passwordRotation", "Q4"),
	}
}

// questionFromAnalysis maps one sub-object of the analysis response onto a
// QuestionResult, clamping the score into [0, question_max].
func (r *Runner) questionFromAnalysis(result map[string]any, field, key string) domain.QuestionResult {
	sub, ok := result[field].(map[string]any)
	if !ok {
		return r.degraded(key, fmt.Sprintf("analysis result missing %s", field))
	}
	q := domain.QuestionResult{Answer: domain.AnswerUnknown, Score: r.Config.Scoring.UnknownDefault}
	switch answer := sub["answer"].(type) {
	case string:
		switch domain.Answer(answer) {
		case domain.AnswerYes, domain.AnswerNo, domain.AnswerUnknown:
			q.Answer = domain.Answer(answer)
		}
	}
	if rationale, ok := sub["rationale"].(string); ok {
		q.Rationale = rationale
	}
	if used, ok := sub["evidenceUsed"].([]any); ok {
		for _, id := range used {
			if s, ok := id.(string); ok {
				if _, err := r.Cache.Get(s); err != nil {
					r.logger().Warn("analysis referenced unknown evidence", "question", key, "id", s)
					continue
				}
				q.EvidenceUsed = append(q.EvidenceUsed, s)
			}
		}
	}
	if score, ok := numeric(sub["score"]); ok && q.Answer != domain.AnswerUnknown {
		max := r.Config.Scoring.QuestionMax
		switch {
		case score < 0:
			q.Score = 0
		case score > max:
			q.Score = max
		default:
			q.Score = score
		}
	}
	return q
}

// escalate opens the remediation ticket. Ticket failure is reported but the
// verdict is evidence-derived and stands.
func (r *Runner) escalate(ctx context.Context, run *domain.ValidationRun, logger *slog.Logger) {
	payload := map[string]any{
		"projectKey":  r.Config.Ticket.ProjectKey,
		"summary":     scoring.TicketSummary(*run),
		"priority":    r.Config.Ticket.Priority,
		"description": scoring.TicketDescription(*run),
	}
	result, err := r.Invoker.Invoke(ctx, r.Ticketing, opCreateTicket, payload, r.Config.Adapters.Ticketing.Timeout())
	if err != nil {
		logger.Warn("ticket creation failed", "err", err)
		if r.Store != nil {
			_ = r.Store.AppendEvent(ctx, r.now().UTC().Format(time.RFC3339), "ticket.create_failed", run.ID, "ticket", "", map[string]any{"err": err.Error()})
		}
		return
	}
	key, _ := result["key"].(string)
	url, _ := result["url"].(string)
	if key == "" {
		logger.Warn("ticketing adapter returned no ticket key")
		return
	}
	run.Ticket = &domain.TicketRef{Key: key, URL: url}
	logger.Info("remediation ticket created", "key", key, "url", url)
	if r.Store != nil {
		_ = r.Store.AppendEvent(ctx, r.now().UTC().Format(time.RFC3339), "ticket.created", run.ID, "ticket", key, map[string]any{"url": url})
	}
}

// queryCount runs a count statement through the structured-query backend
// and extracts the single integer it returns.
func (r *Runner) queryCount(ctx context.Context, statement string, params ...any) (int, error) {
	payload := map[string]any{"statement": statement, "params": params}
	result, err := r.Invoker.Invoke(ctx, r.Query, opQuery, payload, r.Config.Adapters.Query.Timeout())
	if err != nil {
		return 0, err
	}
	rows, ok := result["rows"].([]any)
	if !ok || len(rows) == 0 {
		return 0, fmt.Errorf("query returned no rows")
	}
	first, ok := rows[0].([]any)
	if !ok || len(first) == 0 {
		return 0, fmt.Errorf("query returned malformed row")
	}
	count, ok := numeric(first[0])
	if !ok {
		return 0, fmt.Errorf("query returned non-numeric count %v", first[0])
	}
	return count, nil
}

func (r *Runner) degraded(key, rationale string) domain.QuestionResult {
	return domain.QuestionResult{
		Key:       key,
		Answer:    domain.AnswerUnknown,
		Rationale: rationale,
		Score:     r.Config.Scoring.UnknownDefault,
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func manifestPayload(manifest []domain.ManifestEntry) []map[string]any {
	out := make([]map[string]any, 0, len(manifest))
	for _, e := range manifest {
		out = append(out, map[string]any{
			"id":       e.ID,
			"fileName": e.FileName,
			"mimeType": e.MimeType,
			"size":     e.Size,
		})
	}
	return out
}

func numeric(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
