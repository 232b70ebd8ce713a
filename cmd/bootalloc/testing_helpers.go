package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// testScenarioPath returns the path to a scenario from the scenario package testdata.
func testScenarioPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("..", "..", "internal", "scenario", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("test file not found: %s", path)
	}
	return path
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}

	return buf.String(), fnErr
}

// assertJSON checks that output is valid JSON
func assertJSON(t *testing.T, output string) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("output is not valid JSON: %v\nOutput: %s", err, output)
	}
	return result
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, want []string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(output, w) {
			t.Errorf("output missing %q\nOutput:\n%s", w, output)
		}
	}
}

// resetGlobals restores every package-level flag to its default and renders
// styles as plain text so output can be matched.
func resetGlobals() {
	lipgloss.SetColorProfile(termenv.Ascii)
	cmpFrom, cmpTo, cmpContext = "early", "lab", 3
	cfgFile, logLevel, logFile = "", "", ""
	verbose, quiet, jsonOut = false, false, false
	simAllocator, simBacked = "", false
	statsAllocator = "early"
	statsBase, statsSize = 0x8000_0000, 16<<20
	statsPageSize, statsSafetyMargin = 0x1000, 0x102000
	statsAccurate, statsPages = false, 0
}
