// Package parallel splits independent units of work across the target's
// execution cores and joins them before returning.
package parallel

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// MaxCores is the number of execution contexts on the target.
const MaxCores = 2

// Errors returned by the dispatcher.
var (
	ErrReentrant    = errors.New("dispatcher is already running a fork")
	ErrTooManyTasks = errors.New("more tasks than execution cores")
)

// Mode is the runtime invocation mode requested by the caller of a model run.
type Mode int

const (
	// ModeAuto lets operators split work across both cores.
	ModeAuto Mode = iota
	// ModeSingleCore forces every operator to run a single task inline.
	ModeSingleCore
)

// String returns the mode name accepted by ParseMode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeSingleCore:
		return "single"
	default:
		return "unknown"
	}
}

// ParseMode converts "auto"/"dual" or "single" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", "dual", "multi":
		return ModeAuto, nil
	case "single", "single-core":
		return ModeSingleCore, nil
	default:
		return 0, fmt.Errorf("unknown runtime mode %q", s)
	}
}

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether forked tasks actually run concurrently.
	Cores        int  // Number of execution contexts; at most MaxCores.
	MinChunkSize int  // Minimum elements before work is split at all.
}

// DefaultConfig returns the dual-core configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      runtime.NumCPU() > 1,
		Cores:        MaxCores,
		MinChunkSize: 64,
	}
}

// Range is a half-open interval [Start, End).
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// SplitRanges divides [0, n) into at most k contiguous ranges whose lengths
// differ by at most one, earlier ranges taking the remainder. It always
// returns at least one range, which is empty when n == 0.
func SplitRanges(n, k int) []Range {
	k = max(min(k, n), 1)

	ranges := make([]Range, k)
	base, rem := n/k, n%k
	start := 0
	for i := range ranges {
		size := base
		if i < rem {
			size++
		}
		ranges[i] = Range{Start: start, End: start + size}
		start += size
	}
	return ranges
}

// Dispatcher runs up to Cores independent tasks concurrently and waits for
// all of them. The calling goroutine executes the first task itself.
//
// A Dispatcher is not reentrant: a task must not fork again through the
// same dispatcher.
type Dispatcher struct {
	cfg  Config
	busy atomic.Bool
}

// NewDispatcher creates a dispatcher for cfg. Cores outside [1, MaxCores]
// are clamped.
func NewDispatcher(cfg Config) *Dispatcher {
	cfg.Cores = max(min(cfg.Cores, MaxCores), 1)
	return &Dispatcher{cfg: cfg}
}

// Config returns the dispatcher's effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// RunPair runs task0 on the calling core and task1 on the other core, and
// returns once both have finished.
func (d *Dispatcher) RunPair(task0, task1 func()) error {
	return d.ForkJoin([]func(){task0, task1})
}

// ForkJoin runs every task, one per core, and joins before returning.
func (d *Dispatcher) ForkJoin(tasks []func()) error {
	if len(tasks) == 0 {
		return nil
	}
	if len(tasks) > d.cfg.Cores {
		return fmt.Errorf("%w: %d tasks, %d cores", ErrTooManyTasks, len(tasks), d.cfg.Cores)
	}
	if !d.busy.CompareAndSwap(false, true) {
		klog.ErrorS(ErrReentrant, "Nested fork rejected", "tasks", len(tasks))
		return ErrReentrant
	}
	defer d.busy.Store(false)

	if !d.cfg.Enabled || len(tasks) == 1 {
		for _, task := range tasks {
			task()
		}
		return nil
	}

	var g errgroup.Group
	for _, task := range tasks[1:] {
		g.Go(func() error {
			task()
			return nil
		})
	}
	tasks[0]()
	return g.Wait()
}
