package evaluator

// Status is the verdict for one checklist criterion.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFail    Status = "fail"
)

// MinOKConfidence is the lowest confidence at which a criterion may be marked ok.
const MinOKConfidence = 0.75

// ChecklistItem scores one criterion. Criterion is 1-based and follows the fixed criteria order.
type ChecklistItem struct {
	Criterion  int     `json:"criterion"`
	Status     Status  `json:"status"`
	Note       string  `json:"note"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
}

// Coaching describes operator behaviour to improve, never the call topic.
type Coaching struct {
	TopIssues []string `json:"top_issues"`
	Tip       string   `json:"tip"`
}

// Result is the structured evaluation of one call.
type Result struct {
	Facts        map[string]any  `json:"facts"`
	Checklist    []ChecklistItem `json:"checklist"`
	Summary      string          `json:"summary"`
	Tag          string          `json:"tag"`
	Coaching     Coaching        `json:"coaching"`
	RiskFlags    []string        `json:"risk_flags"`
	Unanalyzable bool            `json:"unanalyzable,omitempty"`
}

// Score counts criteria marked ok (0..8). The sentinel scores 0.
func (r Result) Score() int {
	n := 0
	for _, item := range r.Checklist {
		if item.Status == StatusOK {
			n++
		}
	}
	return n
}

// Outcome is what Evaluate reports back to the pipeline.
type Outcome struct {
	Result     Result
	Accepted   bool
	Attempts   int
	Violations []Violation
}

// Sentinel is the safe result substituted when the model output cannot be used.
func Sentinel(rules Rules) Result {
	return Result{
		Facts:        map[string]any{},
		Checklist:    []ChecklistItem{},
		Tag:          rules.CatchAllTag,
		Coaching:     Coaching{TopIssues: []string{}},
		RiskFlags:    []string{},
		Unanalyzable: true,
	}
}
