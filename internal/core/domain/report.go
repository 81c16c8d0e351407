package domain

import "time"

// AttemptRecord is one entry of an operation's attempt history as
// persisted in an error report.
type AttemptRecord struct {
	At      time.Time     `json:"at"`
	Error   string        `json:"error"`
	Reason  string        `json:"reason"`
	Delayed time.Duration `json:"delayed"`
}

// ErrorReport is the durable record of an exhausted or critical failure,
// with the full attempt history and suggested remediation.
type ErrorReport struct {
	ID          string          `json:"id"`
	Operation   string          `json:"operation"`
	Resource    string          `json:"resource"`
	Reason      string          `json:"reason"`
	Error       string          `json:"error"`
	Attempts    []AttemptRecord `json:"attempts"`
	Suggestions []string        `json:"suggestions,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
