package harness

import "github.com/10d3/nexora/internal/queue"

// Trace event types.
const (
	EventInvoke       = "invoke"
	EventConnectivity = "connectivity"
	EventDrain        = "drain"
	EventFail         = "fail"
	EventHeal         = "heal"
	EventPut          = "put"
	EventBulkPut      = "bulk_put"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Type    string        `json:"type"`
	Seq     int64         `json:"seq"`
	Action  string        `json:"action,omitempty"`
	Outcome string        `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
	ID      string        `json:"id,omitempty"`
	Count   *int          `json:"count,omitempty"`
	Online  *bool         `json:"online,omitempty"`
	Report  *queue.Report `json:"report,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult returns a passing, empty result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
