// benchmark_parser turns `go test -bench ./alloc/...` output into a markdown
// table grouped by allocator.
//
//	go test -bench . -benchmem ./alloc/ | go run scripts/benchmark_parser.go
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Allocator   string // "EarlyAllocator" or "LabAllocator"
	Operation   string
	Iterations  int
	NsPerOp     float64
	BytesPerOp  int64
	AllocsPerOp int64
}

var (
	inputFile = flag.String(
		"input",
		"",
		"Input file with benchmark output (stdin if not specified)",
	)
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

// Regex to parse benchmark output lines
// BenchmarkLabAllocator_Alternating-8    50000000    24.1 ns/op    0 B/op    0 allocs/op
var benchmarkRegex = regexp.MustCompile(
	`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+([\d.]+)\s+B/op)?(?:\s+([\d.]+)\s+allocs/op)?`,
)

func main() {
	flag.Parse()

	var in io.Reader = os.Stdin
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	results := parseBenchmarks(bufio.NewScanner(in))
	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}

	report := generateMarkdownReport(results)
	if *outputFile == "" {
		fmt.Print(report)
		return
	}
	if err := os.WriteFile(*outputFile, []byte(report), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
		os.Exit(1)
	}
}

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult

	for scanner.Scan() {
		line := scanner.Text()

		// Try to parse as JSON (from -json flag)
		var testEvent map[string]any
		if err := json.Unmarshal([]byte(line), &testEvent); err == nil {
			if output, ok := testEvent["Output"].(string); ok {
				line = output
			}
		}

		matches := benchmarkRegex.FindStringSubmatch(strings.TrimSpace(line))
		if matches == nil {
			continue
		}

		r := BenchmarkResult{Name: matches[1]}
		r.Iterations, _ = strconv.Atoi(matches[2])
		r.NsPerOp, _ = strconv.ParseFloat(matches[3], 64)
		if matches[4] != "" {
			r.BytesPerOp, _ = strconv.ParseInt(matches[4], 10, 64)
		}
		if matches[5] != "" {
			r.AllocsPerOp, _ = strconv.ParseInt(matches[5], 10, 64)
		}

		// Format: Benchmark<Allocator>_<Operation>-<procs>
		name := strings.TrimPrefix(r.Name, "Benchmark")
		if dash := strings.LastIndex(name, "-"); dash > 0 {
			name = name[:dash]
		}
		r.Allocator, r.Operation, _ = strings.Cut(name, "_")
		results = append(results, r)
	}

	return results
}

func generateMarkdownReport(results []BenchmarkResult) string {
	var sb strings.Builder

	sb.WriteString("# Allocator Benchmarks\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().Format(time.RFC3339)))

	byAlloc := make(map[string][]BenchmarkResult)
	for _, r := range results {
		byAlloc[r.Allocator] = append(byAlloc[r.Allocator], r)
	}
	names := make([]string, 0, len(byAlloc))
	for name := range byAlloc {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rows := byAlloc[name]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Operation < rows[j].Operation })

		sb.WriteString(fmt.Sprintf("## %s\n\n", name))
		sb.WriteString("| Operation | Iterations | Time/op | Memory/op | Allocs/op |\n")
		sb.WriteString("|-----------|-----------:|--------:|----------:|----------:|\n")
		for _, r := range rows {
			sb.WriteString(fmt.Sprintf("| %s | %s | %.1fns | %s | %d |\n",
				r.Operation, formatNumber(float64(r.Iterations)), r.NsPerOp, formatBytes(r.BytesPerOp), r.AllocsPerOp))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func formatNumber(n float64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.2fM", n/1000000)
	} else if n >= 1000 {
		return fmt.Sprintf("%.1fK", n/1000)
	}
	return fmt.Sprintf("%.0f", n)
}

func formatBytes(b int64) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%.2fMB", float64(b)/(1024*1024))
	} else if b >= 1024 {
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	}
	return fmt.Sprintf("%dB", b)
}
