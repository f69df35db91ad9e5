package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/10d3/nexora/internal/crud"
	"github.com/10d3/nexora/internal/engine"
)

// Scenario is one end-to-end sync scenario.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Online is the initial connectivity state.
	Online bool `yaml:"online"`

	// User performs every invoke step. Defaults to an owner of tenant t1.
	User *crud.User `yaml:"user,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of its action fields.
type Step struct {
	// Invoke is an operation name such as create_customer.
	Invoke string         `yaml:"invoke,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`

	// Connectivity is "online" or "offline".
	Connectivity string `yaml:"connectivity,omitempty"`

	// Drain replays the queue once.
	Drain bool `yaml:"drain,omitempty"`

	// Fail injects remote failures; Heal clears them.
	Fail *FailStep `yaml:"fail,omitempty"`
	Heal string    `yaml:"heal,omitempty"`

	// Put and BulkPut write straight to the mirror.
	Put     *PutStep     `yaml:"put,omitempty"`
	BulkPut *BulkPutStep `yaml:"bulk_put,omitempty"`

	// Expect checks the step's outcome. Steps without Expect must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// FailStep makes the stub answer status for the next times calls of
// action; a negative times fails until healed.
type FailStep struct {
	Action  string `yaml:"action"`
	Times   int    `yaml:"times"`
	Status  int    `yaml:"status"`
	Message string `yaml:"message,omitempty"`
}

// PutStep writes one record.
type PutStep struct {
	Kind   string         `yaml:"kind"`
	Record map[string]any `yaml:"record"`
}

// BulkPutStep writes records atomically.
type BulkPutStep struct {
	Kind    string           `yaml:"kind"`
	Records []map[string]any `yaml:"records"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Outcome is remote, queued, local, ok or error.
	Outcome string `yaml:"outcome"`
	// Error is the error category when Outcome is error.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks final state.
type Assertion struct {
	Type    string         `yaml:"type"`
	Action  string         `yaml:"action,omitempty"`
	Retries *int           `yaml:"retries,omitempty"`
	Kind    string         `yaml:"kind,omitempty"`
	Entity  string         `yaml:"entity,omitempty"`
	Tenant  string         `yaml:"tenant,omitempty"`
	ID      string         `yaml:"id,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
	Level   string         `yaml:"level,omitempty"`
	Message string         `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertQueueLength     = "queue_length"
	AssertQueueContains   = "queue_contains"
	AssertDroppedContains = "dropped_contains"
	AssertMirrorCount     = "mirror_count"
	AssertMirrorRecord    = "mirror_record"
	AssertMirrorAbsent    = "mirror_absent"
	AssertRemoteCount     = "remote_count"
	AssertRemoteCalls     = "remote_calls"
	AssertLogContains     = "log_contains"
)

// Step outcomes.
const (
	OutcomeRemote = "remote"
	OutcomeQueued = "queued"
	OutcomeLocal  = "local"
	OutcomeOK     = "ok"
	OutcomeError  = "error"
)

// LoadScenario reads a scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	set := 0
	for _, present := range []bool{
		st.Invoke != "", st.Connectivity != "", st.Drain, st.Fail != nil,
		st.Heal != "", st.Put != nil, st.BulkPut != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}
	switch {
	case st.Invoke != "":
		if _, err := engine.ParseOp(st.Invoke); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	case st.Connectivity != "":
		if st.Connectivity != "online" && st.Connectivity != "offline" {
			return fmt.Errorf("steps[%d]: connectivity must be online or offline", i)
		}
	case st.Fail != nil:
		if st.Fail.Action == "" || st.Fail.Status < 400 {
			return fmt.Errorf("steps[%d].fail: action and a 4xx/5xx status are required", i)
		}
	case st.Put != nil:
		if st.Put.Kind == "" || st.Put.Record == nil {
			return fmt.Errorf("steps[%d].put: kind and record are required", i)
		}
	case st.BulkPut != nil:
		if st.BulkPut.Kind == "" {
			return fmt.Errorf("steps[%d].bulk_put: kind is required", i)
		}
	}
	if st.Expect != nil {
		switch st.Expect.Outcome {
		case OutcomeRemote, OutcomeQueued, OutcomeLocal, OutcomeOK:
		case OutcomeError:
			if st.Expect.Error == "" {
				return fmt.Errorf("steps[%d].expect: error category is required", i)
			}
		default:
			return fmt.Errorf("steps[%d].expect: unknown outcome %q", i, st.Expect.Outcome)
		}
	}
	return nil
}

func validateAssertion(i int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertQueueLength:
	case AssertQueueContains, AssertDroppedContains, AssertRemoteCalls:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", i, a.Type)
		}
	case AssertMirrorCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for %s", i, a.Type)
		}
	case AssertMirrorRecord, AssertMirrorAbsent:
		if a.Kind == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: kind and id are required for %s", i, a.Type)
		}
		if a.Type == AssertMirrorRecord && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", i, a.Type)
		}
	case AssertRemoteCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for %s", i, a.Type)
		}
	case AssertLogContains:
		if a.Level == "" || a.Message == "" {
			return fmt.Errorf("assertions[%d]: level and message are required for %s", i, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", i)
	}
	return nil
}
