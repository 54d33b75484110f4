package harness

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cpool/internal/ir"
)

// Scenario is a scripted conversation with one worker: an optional init
// bundle, an ordered list of calls with expected outcomes, and assertions
// on the worker's final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID fixes the worker run id. Defaults to "test-run-default" so
	// golden traces are stable.
	RunID string `yaml:"run_id,omitempty"`

	// Init, when present, is sent as __init_worker__ before the first step.
	// Leave it out to exercise an uninitialized worker.
	Init *InitSpec `yaml:"init,omitempty"`

	// Passthrough replaces the default passthrough allowlist.
	Passthrough []string `yaml:"passthrough,omitempty"`

	// Steps are the calls, handled in order by one worker.
	Steps []Step `yaml:"steps"`

	// Assertions validate the worker after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// InitSpec describes the init bundle.
type InitSpec struct {
	// RuntimeParams is validated against the runtime-params schema.
	RuntimeParams    map[string]any `yaml:"runtime_params"`
	StdSchema        string         `yaml:"std_schema"`
	ReflectionSchema string         `yaml:"reflection_schema"`
	ClassLayout      string         `yaml:"class_layout"`
}

// Step is one call.
type Step struct {
	// Op is the operation name.
	Op string `yaml:"op"`

	// Client, DB, Invalidate and Sync form the client context. Any of them
	// being set makes this a client call; Client is then required.
	Client     *int64    `yaml:"client,omitempty"`
	DB         string    `yaml:"db,omitempty"`
	Invalidate []int64   `yaml:"invalidate,omitempty"`
	Sync       *SyncSpec `yaml:"sync,omitempty"`

	// Args is the operation payload.
	Args string `yaml:"args,omitempty"`

	// State is a transaction state in the fake compiler's form; it is
	// encoded before sending. StateRaw is sent as-is. ReuseLast sends the
	// continuation marker. At most one may be set.
	State     string `yaml:"state,omitempty"`
	StateRaw  string `yaml:"state_raw,omitempty"`
	ReuseLast bool   `yaml:"reuse_last,omitempty"`

	// Expect checks the reply. A step without expect must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected outcome of a step.
type Expect struct {
	// Error is the expected error code; empty means success.
	Error string `yaml:"error,omitempty"`
	// Cause is the expected code wrapped by a SYNC_FAILURE.
	Cause string `yaml:"cause,omitempty"`
	// Result is the expected result payload.
	Result *string `yaml:"result,omitempty"`
	// State is whether the reply carries a new transaction state.
	State *bool `yaml:"state,omitempty"`
}

// Payload field names accepted in a sync spec.
const (
	fieldUserSchema      = "user_schema"
	fieldReflectionCache = "reflection_cache"
	fieldDatabaseConfig  = "database_config"
	fieldGlobalSchema    = "global_schema"
	fieldInstanceConfig  = "instance_config"
	fieldDBs             = "dbs"
	fieldDroppedDBs      = "dropped_dbs"
)

// SyncSpec is a sync message written in YAML.
//
// A payload key that is absent leaves the field unchanged, an explicit
// null removes it and a string replaces it:
//
//	sync:
//	  dbs:
//	    shop: {reflection_cache: C2}
//	  dropped_dbs: [audit]
//	  global_schema: G2
type SyncSpec struct {
	msg ir.SyncMessage
}

// Message returns the decoded sync message.
func (s *SyncSpec) Message() *ir.SyncMessage {
	if s == nil {
		return nil
	}
	msg := s.msg
	return &msg
}

// UnmarshalYAML decodes the mapping key by key so that a null payload is
// kept distinct from an absent one.
func (s *SyncSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: sync must be a mapping", node.Line)
	}
	var msg ir.SyncMessage
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case fieldDBs:
			dbs, err := decodeDBs(val)
			if err != nil {
				return err
			}
			msg.DBs = dbs
		case fieldDroppedDBs:
			if err := val.Decode(&msg.DroppedDBs); err != nil {
				return err
			}
		case fieldGlobalSchema:
			u, err := decodeUpdate(val)
			if err != nil {
				return err
			}
			msg.GlobalSchema = u
		case fieldInstanceConfig:
			u, err := decodeUpdate(val)
			if err != nil {
				return err
			}
			msg.InstanceConfig = u
		default:
			return fmt.Errorf("line %d: unknown sync field %q", key.Line, key.Value)
		}
	}
	s.msg = msg
	return nil
}

func decodeDBs(node *yaml.Node) (map[string]ir.DBUpdate, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: dbs must be a mapping", node.Line)
	}
	dbs := make(map[string]ir.DBUpdate, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, body := node.Content[i].Value, node.Content[i+1]
		var upd ir.DBUpdate
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: database %q must be a mapping", body.Line, name)
		}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, val := body.Content[j], body.Content[j+1]
			u, err := decodeUpdate(val)
			if err != nil {
				return nil, err
			}
			switch key.Value {
			case fieldUserSchema:
				upd.UserSchema = u
			case fieldReflectionCache:
				upd.ReflectionCache = u
			case fieldDatabaseConfig:
				upd.DatabaseConfig = u
			default:
				return nil, fmt.Errorf("line %d: unknown database field %q", key.Line, key.Value)
			}
		}
		dbs[name] = upd
	}
	return dbs, nil
}

func decodeUpdate(node *yaml.Node) (ir.Update[ir.Blob], error) {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		return ir.Remove[ir.Blob](), nil
	}
	var v string
	if err := node.Decode(&v); err != nil {
		return ir.Update[ir.Blob]{}, err
	}
	return ir.Replace(ir.Blob(v)), nil
}

// Assertion validates the worker after the last step.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Client is the client id (client_absent, client_dbs, db_state,
	// global_state).
	Client *int64 `yaml:"client,omitempty"`

	// DBs is the expected set of database names (client_dbs).
	DBs []string `yaml:"dbs,omitempty"`

	// DB names the database (db_state).
	DB string `yaml:"db,omitempty"`

	// Payload fields (db_state, global_state). Only fields that are set
	// are compared.
	UserSchema      *string `yaml:"user_schema,omitempty"`
	ReflectionCache *string `yaml:"reflection_cache,omitempty"`
	DatabaseConfig  *string `yaml:"database_config,omitempty"`
	GlobalSchema    *string `yaml:"global_schema,omitempty"`
	InstanceConfig  *string `yaml:"instance_config,omitempty"`

	// Clients is the expected set of cached client ids (cached_clients).
	Clients []int64 `yaml:"clients,omitempty"`

	// Calls is the expected sequence of compiler calls (compiler_calls),
	// each in CompilerCall.String form.
	Calls []string `yaml:"calls,omitempty"`

	// Held and State describe the continuation slot (continuation).
	Held  *bool  `yaml:"held,omitempty"`
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertClientAbsent  = "client_absent"
	AssertClientDBs     = "client_dbs"
	AssertDBState       = "db_state"
	AssertGlobalState   = "global_state"
	AssertCachedClients = "cached_clients"
	AssertCompilerCalls = "compiler_calls"
	AssertContinuation  = "continuation"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
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
	if s.Init != nil && s.Init.StdSchema == "" {
		return fmt.Errorf("init: std_schema is required")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	if st.Op == "" {
		return fmt.Errorf("steps[%d]: op is required", index)
	}
	hasContext := st.DB != "" || st.Sync != nil || len(st.Invalidate) > 0
	if hasContext && st.Client == nil {
		return fmt.Errorf("steps[%d]: client is required with db, sync or invalidate", index)
	}
	stateSources := 0
	for _, set := range []bool{st.State != "", st.StateRaw != "", st.ReuseLast} {
		if set {
			stateSources++
		}
	}
	if stateSources > 1 {
		return fmt.Errorf("steps[%d]: state, state_raw and reuse_last are mutually exclusive", index)
	}
	if e := st.Expect; e != nil && e.Error == "" && e.Cause != "" {
		return fmt.Errorf("steps[%d].expect: cause requires error", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertClientAbsent, AssertClientDBs, AssertGlobalState:
		if a.Client == nil {
			return fmt.Errorf("assertions[%d]: client is required for %s", index, a.Type)
		}
	case AssertDBState:
		if a.Client == nil || a.DB == "" {
			return fmt.Errorf("assertions[%d]: client and db are required for db_state", index)
		}
	case AssertCachedClients, AssertCompilerCalls:
	case AssertContinuation:
		if a.Held == nil && a.State == "" {
			return fmt.Errorf("assertions[%d]: held or state is required for continuation", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// sortedInt64s returns a sorted copy.
func sortedInt64s(in []int64) []int64 {
	out := append([]int64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
