package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Comparison is the outcome of replaying one script against two allocators.
type Comparison struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Diff    string `json:"diff"`
	Added   int    `json:"added"`   // number of lines starting with '+' (excluding +++)
	Removed int    `json:"removed"` // number of lines starting with '-' (excluding ---)
}

// Same reports whether both allocators behaved identically.
func (c Comparison) Same() bool { return c.Diff == "" }

// Compare replays s against the from and to allocators in record-only mode and
// returns a unified diff of their transcripts.
func Compare(ctx context.Context, s *Scenario, from, to string, contextLines int) (*Comparison, error) {
	a, err := Run(ctx, s, Options{Allocator: from, RecordOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", from, err)
	}
	b, err := Run(ctx, s, Options{Allocator: to, RecordOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", to, err)
	}

	ud := difflib.UnifiedDiff{
		A:        Transcript(a),
		B:        Transcript(b),
		FromFile: from,
		ToFile:   to,
		Context:  contextLines,
	}
	patch, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return nil, err
	}

	c := &Comparison{From: from, To: to, Diff: patch}
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			c.Added++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			c.Removed++
		}
	}
	return c, nil
}

// Transcript renders a result as newline-terminated lines, one per step
// followed by the final counters.
func Transcript(res *Result) []string {
	lines := make([]string, 0, len(res.Steps)+2)
	for _, st := range res.Steps {
		outcome := "ok"
		switch {
		case st.Panic != "":
			outcome = "panic"
		case st.Err != "":
			outcome = "error: " + st.Err
		case st.Addr != "":
			outcome = st.Addr
		}
		lines = append(lines, fmt.Sprintf("%d %s %s %s\n", st.Index, st.Op, st.Name, outcome))
	}
	f := res.Final
	lines = append(lines,
		fmt.Sprintf("bytes total=%#x used=%#x available=%#x\n", f.TotalBytes, f.UsedBytes, f.AvailableBytes),
		fmt.Sprintf("pages total=%#x used=%#x available=%#x\n", f.TotalPages, f.UsedPages, f.AvailablePages),
	)
	return lines
}
