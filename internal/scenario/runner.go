package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joshuapare/bootalloc/alloc"
	"github.com/joshuapare/bootalloc/internal/backing"
	"github.com/joshuapare/bootalloc/internal/format"
	"github.com/joshuapare/bootalloc/internal/logger"
)

// ErrExpectation indicates a step whose outcome differed from the script.
var ErrExpectation = errors.New("scenario: expectation failed")

// ErrOverlap indicates backed verification found two live grants sharing memory.
var ErrOverlap = errors.New("scenario: overlapping grants")

// ErrUnbacked indicates a backed run granted memory outside the mapping.
var ErrUnbacked = errors.New("scenario: grant outside backing memory")

// Options adjusts how a scenario runs.
type Options struct {
	// Allocator overrides the scenario's allocator kind when non-empty.
	Allocator string

	// Backed runs the allocator over real mapped memory and verifies after
	// every step that live grants still hold the pattern written into them.
	Backed bool

	// RecordOnly runs every step and records its outcome without enforcing
	// expect, addr, same, or check fields. Used to compare allocators.
	RecordOnly bool
}

// Stats is a capacity snapshot.
type Stats struct {
	TotalBytes     uint64 `json:"total_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
	TotalPages     uint64 `json:"total_pages"`
	UsedPages      uint64 `json:"used_pages"`
	AvailablePages uint64 `json:"available_pages"`
	Cursors        string `json:"cursors"`
}

// StepResult records what one step did.
type StepResult struct {
	Index int    `json:"index"`
	Op    string `json:"op"`
	Name  string `json:"name,omitempty"`
	Addr  string `json:"addr,omitempty"`
	Err   string `json:"error,omitempty"`
	Panic string `json:"panic,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	RunID     string       `json:"run_id"`
	Allocator string       `json:"allocator"`
	Backed    bool         `json:"backed"`
	Steps     []StepResult `json:"steps"`
	Final     Stats        `json:"final"`
}

type liveGrant struct {
	addr    alloc.Addr
	size    uintptr
	align   uintptr
	count   uintptr
	pages   bool
	pattern byte
	class   bool
}

type runner struct {
	sc     *Scenario
	opts   Options
	runID  string
	a      alloc.Allocator
	lab    *alloc.LabAllocator
	region *backing.Region
	live   map[string]*liveGrant
	order  []string
	seq    int
}

// Run executes s and returns the per-step log. The result is returned even
// when a step fails so callers can show how far the run got. Cancelling ctx
// stops the run before the next step.
func Run(ctx context.Context, s *Scenario, opts Options) (*Result, error) {
	kind := s.Allocator
	if opts.Allocator != "" {
		kind = opts.Allocator
	}

	r := &runner{sc: s, opts: opts, runID: uuid.New().String(), live: make(map[string]*liveGrant)}
	if err := r.build(kind); err != nil {
		return nil, err
	}

	if opts.Backed {
		if err := validateBacked(s); err != nil {
			return nil, err
		}
		region, err := backing.NewRegion(int(backedSize(s)))
		if err != nil {
			return nil, err
		}
		defer region.Close()
		r.region = region
	}

	res := &Result{RunID: r.runID, Allocator: kind, Backed: opts.Backed}
	r.a.Init(r.addr(s.Base), uintptr(s.Size))
	logger.Debug("scenario init", "run", r.runID, "allocator", kind, "base", r.addr(s.Base), "size", s.Size, "backed", opts.Backed)

	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			res.Final = r.stats()
			return res, err
		}
		sr, err := r.step(i, st)
		res.Steps = append(res.Steps, sr)
		if err == nil && r.region != nil {
			err = r.verify(i)
		}
		if err != nil {
			res.Final = r.stats()
			logger.Warn("scenario step failed", "run", r.runID, "step", i, "op", st.Op, "err", err)
			return res, err
		}
	}
	res.Final = r.stats()
	return res, nil
}

// backedSize is the mapping needed to cover, from the scenario base, the end
// of every region the script initializes and every extension it expects to
// succeed.
func backedSize(s *Scenario) uint64 {
	size := s.Size
	for _, st := range s.Steps {
		if mapped(st) && st.Base >= s.Base {
			size = max(size, st.Base-s.Base+st.Size)
		}
	}
	return max(size, 1)
}

// mapped reports whether st places memory that a backed run must map.
func mapped(st Step) bool {
	return st.Op == OpInit || (st.Op == OpAddMemory && (st.Expect == "" || st.Expect == ExpectOK))
}

// validateBacked rejects scripts that place memory below the scenario base,
// which has no mapped counterpart.
func validateBacked(s *Scenario) error {
	for i, st := range s.Steps {
		if mapped(st) && st.Base < s.Base {
			return fmt.Errorf("%w: step %d (%s): base %#x is below the scenario base %#x in a backed run",
				ErrInvalidScenario, i, st.Op, st.Base, s.Base)
		}
	}
	return nil
}

func (r *runner) build(kind string) error {
	pageSize := uintptr(r.sc.PageSize)
	if pageSize == 0 {
		pageSize = format.DefaultPageSize
	}

	switch kind {
	case KindEarly:
		ea, err := alloc.NewEarly(pageSize)
		if err != nil {
			return err
		}
		r.a = ea
	case KindLab:
		cfg := alloc.DefaultLabConfig
		if r.sc.AccurateTotalBytes {
			cfg = alloc.AccurateLabConfig
		}
		cfg.PageSize = pageSize
		if r.sc.SafetyMargin != nil {
			cfg.SafetyMargin = uintptr(*r.sc.SafetyMargin)
		}
		la, err := alloc.NewLab(cfg)
		if err != nil {
			return err
		}
		r.a, r.lab = la, la
	default:
		return fmt.Errorf("%w: unknown allocator %q", ErrInvalidScenario, kind)
	}
	return nil
}

// addr translates a script address into an allocator token. Backed runs
// relocate the script's region onto the mapped memory; addresses below the
// scenario base land below the mapping.
func (r *runner) addr(a uint64) alloc.Addr {
	if r.region == nil {
		return alloc.Addr(a)
	}
	if a < r.sc.Base {
		return alloc.Addr(r.region.Base() - uintptr(r.sc.Base-a))
	}
	return alloc.Addr(uintptr(a-r.sc.Base) + r.region.Base())
}

// scriptAddr is the inverse of addr for reporting.
func (r *runner) scriptAddr(a alloc.Addr) uint64 {
	if r.region == nil || !r.inRegion(a, 0) {
		return uint64(a)
	}
	return uint64(uintptr(a)-r.region.Base()) + r.sc.Base
}

// describe renders a granted address. Lab class buffers live outside the
// region at a different address in every allocator, so they are named by class.
func (r *runner) describe(a alloc.Addr) string {
	if r.lab != nil {
		for _, c := range r.lab.SizeClasses() {
			if a >= c.Base && a < c.Base.Add(c.Capacity) {
				return fmt.Sprintf("class(%d)+%#x", c.Capacity, a.Sub(c.Base))
			}
		}
	}
	return fmt.Sprintf("%#x", r.scriptAddr(a))
}

func (r *runner) inRegion(a alloc.Addr, n uintptr) bool {
	if r.region == nil {
		return false
	}
	_, err := r.region.View(uintptr(a), n)
	return err == nil
}

func (r *runner) step(i int, st Step) (sr StepResult, err error) {
	sr = StepResult{Index: i, Op: st.Op, Name: st.Name}

	var (
		got      alloc.Addr
		granted  bool
		opErr    error
		panicked any
	)
	func() {
		defer func() {
			panicked = recover()
		}()
		got, granted, opErr = r.call(i, st)
	}()

	if panicked != nil {
		sr.Panic = fmt.Sprint(panicked)
		logger.Debug("scenario step", "run", r.runID, "step", i, "op", st.Op, "panic", sr.Panic)
		if st.Expect != ExpectPanic && !r.opts.RecordOnly {
			return sr, fmt.Errorf("%w: step %d (%s): unexpected panic: %v", ErrExpectation, i, st.Op, panicked)
		}
		return sr, nil
	}
	if opErr != nil {
		sr.Err = opErr.Error()
	}
	if granted {
		sr.Addr = r.describe(got)
	}
	logger.Debug("scenario step", "run", r.runID, "step", i, "op", st.Op, "name", st.Name, "addr", sr.Addr, "err", sr.Err)
	if r.opts.RecordOnly {
		return sr, nil
	}

	if err := matchOutcome(st.Expect, opErr); err != nil {
		return sr, fmt.Errorf("%w: step %d (%s): %v", ErrExpectation, i, st.Op, err)
	}
	if granted {
		if st.Addr != nil && got != r.addr(*st.Addr) {
			return sr, fmt.Errorf("%w: step %d (%s): got address %#x, want %#x",
				ErrExpectation, i, st.Op, r.scriptAddr(got), *st.Addr)
		}
		if same := r.live[st.Same]; st.Same != "" && (same == nil || got != same.addr) {
			return sr, fmt.Errorf("%w: step %d (%s): got address %#x, want the address of %q",
				ErrExpectation, i, st.Op, r.scriptAddr(got), st.Same)
		}
	}
	if st.Op == OpCheck {
		return sr, r.check(i, st)
	}
	return sr, nil
}

// call performs the allocator operation for st.
func (r *runner) call(i int, st Step) (alloc.Addr, bool, error) {
	switch st.Op {
	case OpInit:
		r.a.Init(r.addr(st.Base), uintptr(st.Size))
		r.live = make(map[string]*liveGrant)
		r.order = nil
		return 0, false, nil

	case OpAddMemory:
		return 0, false, r.a.AddMemory(r.addr(st.Base), uintptr(st.Size))

	case OpAlloc:
		align := uintptr(st.Align)
		if align == 0 {
			align = 1
		}
		got, err := r.a.Alloc(uintptr(st.Size), align)
		if err != nil {
			return 0, false, err
		}
		g := &liveGrant{addr: got, size: uintptr(st.Size), align: align, pattern: byte(i + 1)}
		g.class = r.lab != nil && align > 1
		r.track(st.Name, g)
		return got, true, nil

	case OpDealloc:
		g := r.live[st.Name]
		if g == nil || g.pages {
			return 0, false, fmt.Errorf("%q is not a live byte grant", st.Name)
		}
		r.a.Dealloc(g.addr, g.size, g.align)
		r.untrack(st.Name)
		return 0, false, nil

	case OpAllocPages:
		align := uintptr(st.Align)
		if align == 0 {
			align = r.a.PageSize()
		}
		got, err := r.a.AllocPages(uintptr(st.Count), align)
		if err != nil {
			return 0, false, err
		}
		r.track(st.Name, &liveGrant{
			addr:    got,
			size:    uintptr(st.Count) * r.a.PageSize(),
			count:   uintptr(st.Count),
			pages:   true,
			pattern: byte(i + 1),
		})
		return got, true, nil

	case OpDeallocPages:
		g := r.live[st.Name]
		if g == nil || !g.pages {
			return 0, false, fmt.Errorf("%q is not a live page grant", st.Name)
		}
		r.a.DeallocPages(g.addr, g.count)
		return 0, false, nil

	case OpCheck:
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("%w: unknown op %q", ErrInvalidScenario, st.Op)
}

func (r *runner) track(name string, g *liveGrant) {
	if name == "" {
		name = fmt.Sprintf("#%d", r.seq)
		r.seq++
	}
	if _, ok := r.live[name]; !ok {
		r.order = append(r.order, name)
	}
	r.live[name] = g
	r.fill(g)
}

func (r *runner) untrack(name string) {
	delete(r.live, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// memory returns the bytes behind a grant. It returns nil when the run is not
// backed, the grant is empty, or the grant is a lab class buffer. A region
// grant outside the mapping is an error.
func (r *runner) memory(g *liveGrant) ([]byte, error) {
	if r.region == nil || g.size == 0 {
		return nil, nil
	}
	if g.class {
		// Class buffers alias; they are not checked for overlap.
		return nil, nil
	}
	view, err := r.region.View(uintptr(g.addr), g.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes at %s: %v", ErrUnbacked, g.size, g.addr, err)
	}
	return view, nil
}

func (r *runner) fill(g *liveGrant) {
	if g.class && r.lab != nil && r.region != nil {
		if b, ok := r.lab.ClassBytes(g.addr, g.size); ok {
			for i := range b {
				b[i] = g.pattern
			}
		}
		return
	}
	// An unbacked grant is reported by the verify that follows the step.
	b, _ := r.memory(g)
	for i := range b {
		b[i] = g.pattern
	}
}

// verify checks that every live grant still holds its pattern. A grant whose
// bytes were overwritten shares memory with a later grant.
func (r *runner) verify(step int) error {
	for _, name := range r.order {
		g := r.live[name]
		b, err := r.memory(g)
		if err != nil {
			return fmt.Errorf("after step %d, %q: %w", step, name, err)
		}
		for off, v := range b {
			if v != g.pattern {
				return fmt.Errorf("%w: after step %d, %q at %#x+%d was overwritten",
					ErrOverlap, step, name, r.scriptAddr(g.addr), off)
			}
		}
	}
	return nil
}

func (r *runner) check(i int, st Step) error {
	s := r.stats()
	var errs []error
	cmp := func(field string, want *uint64, got uint64) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Errorf("%s = %#x, want %#x", field, got, *want))
		}
	}
	cmp("total_bytes", st.TotalBytes, s.TotalBytes)
	cmp("used_bytes", st.UsedBytes, s.UsedBytes)
	cmp("available_bytes", st.AvailableBytes, s.AvailableBytes)
	cmp("total_pages", st.TotalPages, s.TotalPages)
	cmp("used_pages", st.UsedPages, s.UsedPages)
	cmp("available_pages", st.AvailablePages, s.AvailablePages)
	if len(errs) > 0 {
		return fmt.Errorf("%w: step %d (check): %w", ErrExpectation, i, errors.Join(errs...))
	}
	return nil
}

func (r *runner) stats() Stats {
	return Stats{
		TotalBytes:     uint64(r.a.TotalBytes()),
		UsedBytes:      uint64(r.a.UsedBytes()),
		AvailableBytes: uint64(r.a.AvailableBytes()),
		TotalPages:     uint64(r.a.TotalPages()),
		UsedPages:      uint64(r.a.UsedPages()),
		AvailablePages: uint64(r.a.AvailablePages()),
		Cursors:        r.a.Snapshot().String(),
	}
}

func matchOutcome(expect string, err error) error {
	var want error
	switch expect {
	case "", ExpectOK:
		if err != nil {
			return fmt.Errorf("unexpected error: %v", err)
		}
		return nil
	case ExpectOutOfMemory:
		want = alloc.ErrOutOfMemory
	case ExpectInvalidParameter:
		want = alloc.ErrInvalidParameter
	case ExpectUnsupported:
		want = alloc.ErrUnsupported
	case ExpectPanic:
		return errors.New("expected a panic, call returned")
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("got %v, want %v", err, want)
	}
	return nil
}
