package runner

import (
	"time"

	"github.com/jwebster45206/timeline-summary/pkg/match"
)

// Step actions
const (
	// ActionPost merge-upserts Body into the suite's match
	ActionPost = "post"
	// ActionSubmit posts Body to the queueing endpoint
	ActionSubmit = "submit"
	// ActionSubmitSync posts Body to the queueing endpoint with sync=true
	ActionSubmitSync = "submit_sync"
	// ActionGet reads the suite's match
	ActionGet = "get"
	// ActionWaitSummary polls until the per-model field for Model appears
	ActionWaitSummary = "wait_summary"
	// ActionRecent lists recent summaries
	ActionRecent = "recent"
)

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name  string       `json:"name"`
	Seed  match.Record `json:"seed,omitempty"`  // Used for regular tests
	Steps []TestStep   `json:"steps,omitempty"` // Used for regular tests
	Cases []string     `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep defines a single API interaction and its expected outcomes.
// Body gets the run's unique match key unless it names one itself.
type TestStep struct {
	Name         string         `json:"name,omitempty"`
	Action       string         `json:"action"`
	Model        string         `json:"model,omitempty"`
	Body         map[string]any `json:"body,omitempty"`
	Expectations Expectations   `json:"expect"`
}

// Expectations defines what to check after a test step executes
type Expectations struct {
	Status *int `json:"status,omitempty"`

	// Record properties, checked against the match after the step
	HasFields     []string       `json:"has_fields,omitempty"`
	MissingFields []string       `json:"missing_fields,omitempty"`
	FieldEquals   map[string]any `json:"field_equals,omitempty"`

	// Recent listing membership
	InRecent *bool `json:"in_recent,omitempty"`

	// Response Analysis
	ResponseContains    []string `json:"response_contains,omitempty"`
	ResponseNotContains []string `json:"response_not_contains,omitempty"`
	ResponseRegex       string   `json:"response_regex,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName     string
	StepName     string
	Success      bool
	Error        error
	Duration     time.Duration
	ResponseText string
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	Match    string // key of the match used for this run
}
