// Package cucumber provides a godog-based BDD test framework for driving the
// converter end to end.
//
// Variables are scoped to the scenario. The output of the last command run
// by a scenario is kept as its result and can be asserted on as text or JSON.
//
// Variable resolution supports:
//   - ${variableName}        → scenario variable lookup
//   - ${result}              → full result of the last command
//   - ${result.field}        → result field via gojq
//   - ${variable.field}      → nested field access via gojq
//   - ${variable | pipe}     → pipe transformations (json, json_escape, string)
package cucumber

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
)

func NewTestSuite() *TestSuite {
	return &TestSuite{
		Extra: map[string]interface{}{},
	}
}

func DefaultOptions() godog.Options {
	return godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
}

// ApplyReportOptions configures junit XML output when GODOG_REPORT_DIR is set.
// Pass t.Name() as testName; slashes are replaced with dashes to form the filename.
// Returns a cleanup function that must be called (or deferred) after the test runs.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	reportDir := os.Getenv("GODOG_REPORT_DIR")
	if reportDir == "" {
		return func() {}
	}
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return func() {}
	}
	safeName := strings.ReplaceAll(testName, "/", "-")
	f, err := os.Create(filepath.Join(reportDir, safeName+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// TestSuite holds state global to all test scenarios.
type TestSuite struct {
	Context  interface{} // opaque application context
	Mu       sync.Mutex
	TestingT *testing.T
	Extra    map[string]interface{} // additional test-scoped objects (e.g. mock servers)
}

// TestScenario holds state for a single scenario. Not accessed concurrently.
type TestScenario struct {
	Suite      *TestSuite
	Variables  map[string]interface{}
	Result     []byte
	ResultErr  error
	resultJSON interface{}
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

// SetResult records the output and error of the last command.
func (s *TestScenario) SetResult(output []byte, err error) {
	s.Result = output
	s.ResultErr = err
	s.resultJSON = nil
}

// ResultJSON returns the last result parsed as JSON.
func (s *TestScenario) ResultJSON() (interface{}, error) {
	if s.resultJSON == nil {
		if s.Result == nil {
			return nil, fmt.Errorf("no result")
		}
		if err := json.Unmarshal(s.Result, &s.resultJSON); err != nil {
			return nil, fmt.Errorf("error parsing result json: %w\njson was:\n%s", err, s.Result)
		}
	}
	return s.resultJSON, nil
}

func marshalIndent(a any) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// JSONMustMatch compares actual and expected JSON for equality and reports a
// unified diff when they differ.
func (s *TestScenario) JSONMustMatch(actual, expected string, expandExpected bool) error {
	var actualParsed interface{}
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}

	expanded := expected
	if expandExpected {
		var err error
		if expanded, err = s.Expand(expected); err != nil {
			return err
		}
	}
	if strings.TrimSpace(expanded) == "" {
		actual, _ := marshalIndent(actualParsed)
		return fmt.Errorf("expected json not specified, actual json was:\n%s", actual)
	}

	var expectedParsed interface{}
	if err := json.Unmarshal([]byte(expanded), &expectedParsed); err != nil {
		return fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expanded)
	}

	if !reflect.DeepEqual(expectedParsed, actualParsed) {
		expected, _ := marshalIndent(expectedParsed)
		actual, _ := marshalIndent(actualParsed)
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(expected)),
			B:        difflib.SplitLines(string(actual)),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		return fmt.Errorf("actual does not match expected, diff:\n%s", diff)
	}
	return nil
}

// JSONMustContain checks that every field in expected is present in actual
// with the same value. Extra object keys in actual are allowed.
func (s *TestScenario) JSONMustContain(actual, expected string, expand bool) error {
	var actualParsed interface{}
	if err := json.Unmarshal([]byte(actual), &actualParsed); err != nil {
		return fmt.Errorf("error parsing actual json: %w\njson was:\n%s", err, actual)
	}
	if expand {
		var err error
		if expected, err = s.Expand(expected); err != nil {
			return err
		}
	}
	var expectedParsed interface{}
	if err := json.Unmarshal([]byte(expected), &expectedParsed); err != nil {
		return fmt.Errorf("error parsing expected json: %w\njson was:\n%s", err, expected)
	}
	if err := jsonSubset(expectedParsed, actualParsed, ""); err != nil {
		expectedIndented, _ := marshalIndent(expectedParsed)
		actualIndented, _ := marshalIndent(actualParsed)
		return fmt.Errorf("actual does not contain expected.\n  mismatch: %s\n  expected:\n%s\n  actual:\n%s",
			err, expectedIndented, actualIndented)
	}
	return nil
}

// jsonSubset checks that every field in expected exists in actual with a matching value.
// Arrays must have the same length; their elements are compared with subset semantics.
func jsonSubset(expected, actual interface{}, path string) error {
	if expected == nil {
		if actual != nil {
			return fmt.Errorf("at %s: expected null, got %v", pathOrRoot(path), actual)
		}
		return nil
	}

	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected object, got %T", pathOrRoot(path), actual)
		}
		for key, expVal := range exp {
			actVal, exists := act[key]
			if !exists {
				return fmt.Errorf("at %s: missing key %q", pathOrRoot(path), key)
			}
			if err := jsonSubset(expVal, actVal, path+"."+key); err != nil {
				return err
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return fmt.Errorf("at %s: expected array, got %T", pathOrRoot(path), actual)
		}
		if len(exp) != len(act) {
			return fmt.Errorf("at %s: expected array length %d, got %d", pathOrRoot(path), len(exp), len(act))
		}
		for i := range exp {
			if err := jsonSubset(exp[i], act[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(expected, actual) {
			return fmt.Errorf("at %s: expected %v (%T), got %v (%T)", pathOrRoot(path), expected, expected, actual, actual)
		}
	}
	return nil
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return "$" + path
}

// Expand replaces ${var} in the string based on scenario variables.
func (s *TestScenario) Expand(value string) (result string, rerr error) {
	return os.Expand(value, func(name string) string {
		res, err := s.ResolveString(name)
		if err != nil {
			rerr = err
			return ""
		}
		return res
	}), rerr
}

func (s *TestScenario) ResolveString(name string) (string, error) {
	value, err := s.Resolve(name)
	if err != nil {
		return "", err
	}
	return ToString(value)
}

func ToString(value interface{}) (string, error) {
	switch value := value.(type) {
	case string:
		return value, nil
	case bool:
		if value {
			return "true", nil
		}
		return "false", nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", value), nil
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case nil:
		return "", nil
	}
	out, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Resolve looks up name, applying any pipes. Dotted names select into the
// JSON form of the variable (or of the result) with gojq.
func (s *TestScenario) Resolve(name string) (interface{}, error) {
	pipes := strings.Split(name, "|")
	for i := range pipes {
		pipes[i] = strings.TrimSpace(pipes[i])
	}
	name = pipes[0]
	pipes = pipes[1:]

	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return pipeline(pipes, name[1:len(name)-1], nil)
	}

	root, rest, _ := strings.Cut(name, ".")
	var value interface{}
	if root == "result" {
		j, err := s.ResultJSON()
		if err != nil {
			return pipeline(pipes, nil, err)
		}
		value = j
	} else {
		v, found := s.Variables[root]
		if !found {
			return pipeline(pipes, nil, fmt.Errorf("variable ${%s} not defined yet", root))
		}
		value = v
	}
	if rest == "" {
		return pipeline(pipes, value, nil)
	}
	selected, err := Select(value, "."+rest)
	return pipeline(pipes, selected, err)
}

// Select evaluates a jq selector against the JSON form of value.
func Select(value interface{}, selector string) (interface{}, error) {
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	iter := query.Run(normalized)
	next, found := iter.Next()
	if !found {
		return nil, fmt.Errorf("selection %s not found in:\n%s", selector, raw)
	}
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next, nil
}

func pipeline(pipes []string, value any, err error) (any, error) {
	for _, pipe := range pipes {
		fn := PipeFunctions[pipe]
		if fn == nil {
			return nil, fmt.Errorf("unknown pipe: %s", pipe)
		}
		value, err = fn(value, err)
	}
	return value, err
}

var PipeFunctions = map[string]func(any, error) (any, error){
	"json": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		buf := bytes.NewBuffer(nil)
		encoder := json.NewEncoder(buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(value); err != nil {
			return value, err
		}
		return buf.String(), nil
	},
	"json_escape": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		data, err := json.Marshal(fmt.Sprintf("%v", value))
		if err != nil {
			return value, err
		}
		return strings.TrimSuffix(strings.TrimPrefix(string(data), `"`), `"`), nil
	},
	"string": func(value any, err error) (any, error) {
		if err != nil {
			return value, err
		}
		return fmt.Sprintf("%v", value), nil
	},
}

// StepModules is the list of functions used to register steps with a godog.ScenarioContext.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:     suite,
		Variables: map[string]interface{}{},
	}
	for _, module := range StepModules {
		module(ctx, s)
	}
}
