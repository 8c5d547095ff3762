// Package testutils holds assertion helpers shared by command and package tests.
package testutils

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// TestingT is the part of testing.T the asserters use.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// JSONAssertOptions tunes the comparison.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys the expected document does not mention.
	IgnoreExtraKeys bool `default:"true"`
	// IgnoredFields are removed from both sides at any depth, e.g. timestamps.
	IgnoredFields []string
}

// JSONOption is a functional option for JSONAsserter.
type JSONOption func(*JSONAssertOptions)

// WithIgnoredFields removes the named keys before comparing.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// WithStrictKeys makes extra keys in the actual document a failure.
func WithStrictKeys() JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = false }
}

// JSONAsserter compares JSON documents and reports an ASCII diff on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates an asserter with default options.
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	o := JSONAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &JSONAsserter{t: t, options: o}
}

// Assert fails the test when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	expected = map[string]interface{}{"root": expected}
	actual = map[string]interface{}{"root": actual}

	if len(ja.options.IgnoredFields) > 0 {
		removeFields(expected, ja.options.IgnoredFields)
		removeFields(actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	d, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	var left map[string]interface{}
	_ = json.Unmarshal(expectedBytes, &left)
	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(d)
	if err != nil {
		return fmt.Sprintf("JSON differs (format failed: %v)", err)
	}
	return out
}

func removeFields(v interface{}, fields []string) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			if slices.Contains(fields, k) {
				delete(val, k)
				continue
			}
			removeFields(child, fields)
		}
	case []interface{}:
		for _, child := range val {
			removeFields(child, fields)
		}
	}
}

// pruneExtraKeys removes keys from actual that expected does not have.
func pruneExtraKeys(actual, expected interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range act {
			if _, ok := exp[k]; !ok {
				delete(act, k)
				continue
			}
			pruneExtraKeys(act[k], exp[k])
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}
