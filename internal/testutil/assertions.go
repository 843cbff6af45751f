// Package testutil carries the behavior-oriented test helpers shared by the
// package tests: assertions that log what was verified, and builders for MCP
// requests aimed at tool handlers.
package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// mark records one verified behavior. Passing checks log with a check mark
// so a verbose run reads as a list of guarantees; failing checks carry the
// detail needed to see what went wrong.
func mark(t *testing.T, ok bool, behavior, detail string) {
	t.Helper()
	if ok {
		t.Logf("✓ %s", behavior)
		return
	}
	if detail == "" {
		t.Errorf("✗ %s", behavior)
	} else {
		t.Errorf("✗ %s\n%s", behavior, detail)
	}
}

// Assert checks a condition and logs a human-readable behavior description.
func Assert(t *testing.T, condition bool, behavior string) {
	t.Helper()
	mark(t, condition, behavior, "")
}

// AssertEqual checks equality and logs what behavior was verified.
func AssertEqual(t *testing.T, expected, actual any, behavior string) {
	t.Helper()
	mark(t, expected == actual, behavior,
		fmt.Sprintf("  Expected: %v\n  Got: %v", expected, actual))
}

// AssertNoError fails the behavior when err is non-nil.
func AssertNoError(t *testing.T, err error, behavior string) {
	t.Helper()
	mark(t, err == nil, behavior, fmt.Sprintf("  Error: %v", err))
}

// AssertContains checks that haystack contains needle.
func AssertContains(t *testing.T, haystack, needle string, behavior string) {
	t.Helper()
	mark(t, strings.Contains(haystack, needle), behavior,
		fmt.Sprintf("  Looking for: %q\n  In: %q", needle, haystack))
}

// TestScenario describes a test case with the behavior it proves.
type TestScenario struct {
	Name     string
	Behavior string
	Test     func(t *testing.T)
}

// RunScenarios runs each scenario as a subtest, logging the behavior under
// proof before the checks fire.
func RunScenarios(t *testing.T, scenarios []TestScenario) {
	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			t.Logf("SCENARIO: %s", scenario.Behavior)
			scenario.Test(t)
		})
	}
}

// Section, Given, When and Then shape a verbose test run into a readable
// narrative. They log, nothing more.
func Section(t *testing.T, name string) { t.Logf("\n=== %s ===", name) }

func Given(t *testing.T, context string) { t.Logf("GIVEN: %s", context) }

func When(t *testing.T, action string) { t.Logf("WHEN: %s", action) }

func Then(t *testing.T, expectation string) { t.Logf("THEN: %s", expectation) }

// Summary closes a test with the one-line statement of what it covered.
func Summary(t *testing.T, tested string) { t.Logf("\n📋 TESTED: %s", tested) }
