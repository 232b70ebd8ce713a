package main

import (
	"testing"
)

func TestStatsCommand(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		wantErr     bool
		wantContain []string
		wantJSON    bool
	}{
		{
			name:        "early defaults",
			setup:       func() {},
			wantContain: []string{"Allocator: early (page size 4,096)", "0x80000000 - 0x81000000", "16,777,216", "4,096"},
		},
		{
			name: "lab with reserved pages",
			setup: func() {
				statsAllocator = "lab"
				statsPages = 4
			},
			wantContain: []string{"Reserved:  4 pages at 0x80ffc000", "16,760,832"},
		},
		{
			name:        "lab reports fixed total as JSON",
			setup:       func() { statsAllocator = "lab" },
			wantJSON:    true,
			wantContain: []string{`"total_bytes": 4096`, `"available_bytes": 16777216`, `"allocator": "lab"`},
		},
		{
			name: "lab accurate total as JSON",
			setup: func() {
				statsAllocator = "lab"
				statsAccurate = true
			},
			wantJSON:    true,
			wantContain: []string{`"total_bytes": 16777216`},
		},
		{
			name:    "bad page size",
			setup:   func() { statsPageSize = 3000 },
			wantErr: true,
		},
		{
			name:    "unknown allocator",
			setup:   func() { statsAllocator = "buddy" },
			wantErr: true,
		},
		{
			name: "too many pages",
			setup: func() {
				statsSize = 0x1000
				statsPages = 2
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals()
			jsonOut = tt.wantJSON
			tt.setup()

			output, err := captureOutput(t, runStats)
			if (err != nil) != tt.wantErr {
				t.Fatalf("runStats() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantJSON {
				assertJSON(t, output)
			}
			assertContains(t, output, tt.wantContain)
		})
	}
}
