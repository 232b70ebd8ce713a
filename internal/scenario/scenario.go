// Package scenario replays scripted allocator workloads.
//
// A scenario names an allocator, the region it manages, and a list of steps.
// Each step is one allocator call, optionally with the outcome it must
// produce, or a check of the capacity counters:
//
//	allocator: lab
//	page_size: 0x100
//	safety_margin: 0
//	base: 0x1000
//	size: 0x1000
//	steps:
//	  - {op: alloc_pages, count: 1, name: p0}
//	  - {op: alloc, size: 64, align: 1, name: a, addr: 0x1ec0}
//	  - {op: check, available_bytes: 0xec0}
package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Allocator kinds.
const (
	KindEarly = "early"
	KindLab   = "lab"
)

// Operations.
const (
	OpInit         = "init"
	OpAddMemory    = "add_memory"
	OpAlloc        = "alloc"
	OpDealloc      = "dealloc"
	OpAllocPages   = "alloc_pages"
	OpDeallocPages = "dealloc_pages"
	OpCheck        = "check"
)

// Expected outcomes.
const (
	ExpectOK               = "ok"
	ExpectOutOfMemory      = "out_of_memory"
	ExpectInvalidParameter = "invalid_parameter"
	ExpectUnsupported      = "unsupported"
	ExpectPanic            = "panic"
)

// ErrInvalidScenario indicates a script that cannot be run.
var ErrInvalidScenario = errors.New("scenario: invalid script")

// Scenario is a scripted workload.
type Scenario struct {
	Allocator string `yaml:"allocator" json:"allocator"`
	PageSize  uint64 `yaml:"page_size" json:"page_size"`

	// SafetyMargin overrides the lab headroom policy. Nil keeps the default.
	SafetyMargin *uint64 `yaml:"safety_margin,omitempty" json:"safety_margin,omitempty"`

	// AccurateTotalBytes makes the lab allocator report the region size from
	// TotalBytes instead of the fixed constant.
	AccurateTotalBytes bool `yaml:"accurate_total_bytes,omitempty" json:"accurate_total_bytes,omitempty"`

	Base  uint64 `yaml:"base" json:"base"`
	Size  uint64 `yaml:"size" json:"size"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one operation. Which fields matter depends on Op.
type Step struct {
	Op    string `yaml:"op" json:"op"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Size  uint64 `yaml:"size,omitempty" json:"size,omitempty"`
	Align uint64 `yaml:"align,omitempty" json:"align,omitempty"`
	Count uint64 `yaml:"count,omitempty" json:"count,omitempty"`
	Base  uint64 `yaml:"base,omitempty" json:"base,omitempty"`

	// Expect is the required outcome; empty means ok.
	Expect string `yaml:"expect,omitempty" json:"expect,omitempty"`

	// Addr, when set, is the address an alloc or alloc_pages must return.
	Addr *uint64 `yaml:"addr,omitempty" json:"addr,omitempty"`

	// Same names an earlier grant whose address this alloc must repeat.
	Same string `yaml:"same,omitempty" json:"same,omitempty"`

	// Counter checks.
	TotalBytes     *uint64 `yaml:"total_bytes,omitempty" json:"total_bytes,omitempty"`
	UsedBytes      *uint64 `yaml:"used_bytes,omitempty" json:"used_bytes,omitempty"`
	AvailableBytes *uint64 `yaml:"available_bytes,omitempty" json:"available_bytes,omitempty"`
	TotalPages     *uint64 `yaml:"total_pages,omitempty" json:"total_pages,omitempty"`
	UsedPages      *uint64 `yaml:"used_pages,omitempty" json:"used_pages,omitempty"`
	AvailablePages *uint64 `yaml:"available_pages,omitempty" json:"available_pages,omitempty"`
}

// Load reads and validates a scenario from a local path or any URL the
// default storage service understands (file://, mem://, http://, ...).
func Load(ctx context.Context, location string) (*Scenario, error) {
	return LoadWith(ctx, afs.New(), location)
}

// LoadWith reads a scenario through fs.
func LoadWith(ctx context.Context, fs afs.Service, location string) (*Scenario, error) {
	URL := url.Normalize(location, file.Scheme)
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", location, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the script for structural mistakes before anything runs.
func (s *Scenario) Validate() error {
	switch s.Allocator {
	case KindEarly, KindLab:
	case "":
		return fmt.Errorf("%w: allocator is required", ErrInvalidScenario)
	default:
		return fmt.Errorf("%w: unknown allocator %q", ErrInvalidScenario, s.Allocator)
	}

	names := make(map[string]bool)
	for i, st := range s.Steps {
		if err := st.validate(names); err != nil {
			return fmt.Errorf("%w: step %d (%s): %v", ErrInvalidScenario, i, st.Op, err)
		}
		if st.Name != "" && (st.Op == OpAlloc || st.Op == OpAllocPages) {
			names[st.Name] = true
		}
	}
	return nil
}

func (st Step) validate(names map[string]bool) error {
	switch st.Expect {
	case "", ExpectOK, ExpectOutOfMemory, ExpectInvalidParameter, ExpectUnsupported, ExpectPanic:
	default:
		return fmt.Errorf("unknown expectation %q", st.Expect)
	}

	switch st.Op {
	case OpInit, OpAddMemory, OpAlloc, OpAllocPages, OpCheck:
	case OpDealloc, OpDeallocPages:
		if st.Name == "" {
			return errors.New("name of the grant to release is required")
		}
		if !names[st.Name] {
			return fmt.Errorf("no earlier grant named %q", st.Name)
		}
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}

	if st.Same != "" && !names[st.Same] {
		return fmt.Errorf("no earlier grant named %q", st.Same)
	}
	return nil
}
