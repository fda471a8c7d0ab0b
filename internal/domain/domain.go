package domain

// Answer is the disposition of a single validation question.
type Answer string

const (
	AnswerYes     Answer = "YES"
	AnswerNo      Answer = "NO"
	AnswerUnknown Answer = "UNKNOWN"
)

// Overall is the three-tier compliance verdict for a run.
type Overall string

const (
	Compliant          Overall = "COMPLIANT"
	PartiallyCompliant Overall = "PARTIALLY_COMPLIANT"
	NonCompliant       Overall = "NON_COMPLIANT"
)

// EvidenceDescriptor is the heterogeneous shape evidence arrives in.
// Exactly one of Text, Base64, Bytes or Path is expected to carry content;
// resolution order when several are set is Text, Base64/Bytes, Path.
type EvidenceDescriptor struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Base64   string `json:"base64,omitempty"`
	Bytes    []byte `json:"-"`
	Path     string `json:"path,omitempty"`
}

// EvidenceRecord is the canonical cached form of one evidence item.
// Content is immutable once stored.
type EvidenceRecord struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Content  []byte `json:"-"`
}

// ManifestEntry references cached evidence by id; content never travels
// in adapter payloads.
type ManifestEntry struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// QuestionSpec names one question of a control workflow.
type QuestionSpec struct {
	Key   string `json:"key" yaml:"key"`
	Phase string `json:"phase" yaml:"phase"`
}

// ControlDescriptor is the immutable definition of a compliance control:
// its instruction text plus the ordered validation questions.
type ControlDescriptor struct {
	ControlID   string         `json:"control_id" yaml:"control_id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Instruction string         `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Questions   []QuestionSpec `json:"questions" yaml:"questions"`
}

// QuestionResult is produced exactly once per question per run.
type QuestionResult struct {
	Key          string   `json:"key"`
	Answer       Answer   `json:"answer"`
	Rationale    string   `json:"rationale,omitempty"`
	EvidenceUsed []string `json:"evidence_used,omitempty"`
	Score        int      `json:"score"`
}

// TicketRef points at the remediation ticket opened for a failed run.
type TicketRef struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

// ValidationRun is owned by the workflow for its duration: results are
// appended strictly in question order and the run is sealed once Overall
// is computed.
type ValidationRun struct {
	ID            string           `json:"id"`
	ControlID     string           `json:"control_id"`
	ApplicationID string           `json:"application_id"`
	AUOwner       string           `json:"au_owner,omitempty"`
	Results       []QuestionResult `json:"results"`
	Overall       Overall          `json:"overall"`
	Ticket        *TicketRef       `json:"ticket,omitempty"`
	StartedAt     string           `json:"started_at" format:"date-time"`
	CompletedAt   string           `json:"completed_at,omitempty" format:"date-time"`
}

// Result returns the result for a question key, if present.
func (r ValidationRun) Result(key string) (QuestionResult, bool) {
	for _, q := range r.Results {
		if q.Key == key {
			return q, true
		}
	}
	return QuestionResult{}, false
}

// TotalScore sums the per-question scores.
func (r ValidationRun) TotalScore() int {
	total := 0
	for _, q := range r.Results {
		total += q.Score
	}
	return total
}

// ValidationOutcome is the caller-facing result. A run that aborts still
// yields an outcome with Success=false and Error set; callers never see an
// unhandled failure.
type ValidationOutcome struct {
	Success           bool                      `json:"success"`
	Error             string                    `json:"error,omitempty"`
	RunID             string                    `json:"run_id,omitempty"`
	ControlID         string                    `json:"control_id,omitempty"`
	ApplicationID     string                    `json:"application_id,omitempty"`
	AUOwner           string                    `json:"au_owner,omitempty"`
	Results           map[string]QuestionResult `json:"results,omitempty"`
	OverallCompliance Overall                   `json:"overall_compliance,omitempty"`
	Ticket            *TicketRef                `json:"ticket,omitempty"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
