package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/timeline-summary/pkg/match"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running timeline-summary API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration // max wait for a summary to appear
	PollInterval      time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 60 * time.Second},
		Timeout:           SummaryTimeout,
		PollInterval:      PollInterval,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite executes a complete test suite against a fresh match key
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	key := runKey(suite.Name)
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
		Match:   key,
	}

	if suite.Seed != nil {
		resp, err := PostMatch(ctx, r.Client, r.BaseURL, key, withKey(suite.Seed, key))
		if err == nil && resp.Status != http.StatusOK {
			err = fmt.Errorf("seed returned %d: %s", resp.Status, string(resp.Body))
		}
		if err != nil {
			result.Error = fmt.Errorf("failed to seed match: %w", err)
			result.Duration = time.Since(start)
			return result, result.Error
		}
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.executeStep(ctx, key, step)
		stepResult.TestName = suite.Name
		result.Results = append(result.Results, stepResult)

		if !stepResult.Success {
			r.Logger("    [%d/%d] FAIL %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i+1, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}
		r.Logger("    [%d/%d] ok %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// runKey derives a unique match key for one run of a suite
func runKey(name string) string {
	slug := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return '-'
	}, name)
	return fmt.Sprintf("it-%s-%s", slug, uuid.New().String()[:8])
}

// withKey copies fields, filling in the run's match key when the body has none
func withKey(fields map[string]any, key string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if _, ok := out[match.FieldMatch]; !ok {
		out[match.FieldMatch] = key
	}
	return out
}

// executeStep performs one step and checks its expectations
func (r *Runner) executeStep(ctx context.Context, key string, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{StepName: step.Name}
	fail := func(err error) TestResult {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	var resp *APIResponse
	var err error
	var recent []match.Record

	switch step.Action {
	case ActionPost:
		resp, err = PostMatch(ctx, r.Client, r.BaseURL, key, withKey(step.Body, key))
	case ActionSubmit, ActionSubmitSync:
		resp, err = SubmitMatch(ctx, r.Client, r.BaseURL, withKey(step.Body, key), step.Action == ActionSubmitSync)
	case ActionGet:
		_, resp, err = GetMatch(ctx, r.Client, r.BaseURL, key)
	case ActionRecent:
		recent, resp, err = GetRecent(ctx, r.Client, r.BaseURL, 100)
	case ActionWaitSummary:
		if step.Model == "" {
			return fail(fmt.Errorf("%s requires a model", ActionWaitSummary))
		}
		_, err = PollForSummary(ctx, r.Client, r.BaseURL, key, match.FieldName(step.Model), r.PollInterval, r.Timeout)
	default:
		return fail(fmt.Errorf("unknown action %q", step.Action))
	}
	if err != nil && (resp == nil || step.Expectations.Status == nil) {
		return fail(fmt.Errorf("%s failed: %w", step.Action, err))
	}
	if resp != nil {
		result.ResponseText = string(resp.Body)
	}

	if err := r.checkExpectations(ctx, key, step.Expectations, resp, recent); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// checkExpectations validates the step expectations against the API state
func (r *Runner) checkExpectations(ctx context.Context, key string, exp Expectations, resp *APIResponse, recent []match.Record) error {
	if exp.Status != nil {
		if resp == nil {
			return fmt.Errorf("expected status %d, but the step made no request", *exp.Status)
		}
		if resp.Status != *exp.Status {
			return fmt.Errorf("expected status %d, got %d: %s", *exp.Status, resp.Status, string(resp.Body))
		}
	}

	if len(exp.HasFields) > 0 || len(exp.MissingFields) > 0 || len(exp.FieldEquals) > 0 {
		record, _, err := GetMatch(ctx, r.Client, r.BaseURL, key)
		if err != nil {
			return fmt.Errorf("failed to read match for expectations: %w", err)
		}
		if record == nil {
			record = match.Record{}
		}

		for _, field := range exp.HasFields {
			if _, ok := lookup(record, field); !ok {
				return fmt.Errorf("expected field %s to be set, but it doesn't exist", field)
			}
		}
		for _, field := range exp.MissingFields {
			if _, ok := lookup(record, field); ok {
				return fmt.Errorf("expected field %s to be absent, but it exists", field)
			}
		}
		for field, expected := range exp.FieldEquals {
			actual, ok := lookup(record, field)
			if !ok {
				return fmt.Errorf("expected field %s to be set, but it doesn't exist", field)
			}
			if !reflect.DeepEqual(actual, expected) {
				return fmt.Errorf("expected field %s to be %v, got %v", field, expected, actual)
			}
		}
	}

	if exp.InRecent != nil {
		if recent == nil {
			list, _, err := GetRecent(ctx, r.Client, r.BaseURL, 100)
			if err != nil {
				return err
			}
			recent = list
		}
		found := false
		for _, rec := range recent {
			if rec.Match() == key {
				found = true
				break
			}
		}
		if found != *exp.InRecent {
			return fmt.Errorf("expected in_recent to be %t, got %t", *exp.InRecent, found)
		}
	}

	responseText := ""
	if resp != nil {
		responseText = string(resp.Body)
	}

	if len(exp.ResponseContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, expectedText := range exp.ResponseContains {
			if !strings.Contains(lowerResponse, strings.ToLower(expectedText)) {
				return fmt.Errorf("expected response to contain '%s', but it didn't", expectedText)
			}
		}
	}

	if len(exp.ResponseNotContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, unexpectedText := range exp.ResponseNotContains {
			if strings.Contains(lowerResponse, strings.ToLower(unexpectedText)) {
				return fmt.Errorf("expected response to NOT contain '%s', but it did", unexpectedText)
			}
		}
	}

	if exp.ResponseRegex != "" {
		matched, err := regexp.MatchString(exp.ResponseRegex, responseText)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		if !matched {
			return fmt.Errorf("response didn't match regex pattern: %s", exp.ResponseRegex)
		}
	}

	return nil
}

// lookup resolves a dotted path such as "summary.headline"
func lookup(record match.Record, path string) (any, bool) {
	var current any = map[string]any(record)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
