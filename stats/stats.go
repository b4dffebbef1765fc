// Package stats holds the kernel's always-on counters (page faults,
// evictions, swap traffic, syscalls served) and exports them two ways: as a
// human-readable report and as a pprof profile for external tooling.
//
// Grounded on stats/stats.go's Counter_t/Cycles_t pair, but dropping their
// Stats/Timing compile-time gates and runtime.Rdtsc() call — that hook only
// exists in biscuit's patched Go runtime, so a portable kernel has no
// equivalent cycle counter. These counters are plain atomics, always
// recorded, matching this core's much smaller event volume (per-page
// faults and syscalls, not per-instruction counts).
package stats

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

/// Counters is the fixed set of kernel-wide counters: page faults is the
/// one most scenarios read directly, the rest are diagnostic.
type Counters struct {
	PageFaults     int64
	Evictions      int64
	SwapIns        int64
	SwapOuts       int64
	SyscallsServed int64
}

func (c *Counters) IncPageFaults()     { atomic.AddInt64(&c.PageFaults, 1) }
func (c *Counters) IncEvictions()      { atomic.AddInt64(&c.Evictions, 1) }
func (c *Counters) IncSwapIns()        { atomic.AddInt64(&c.SwapIns, 1) }
func (c *Counters) IncSwapOuts()       { atomic.AddInt64(&c.SwapOuts, 1) }
func (c *Counters) IncSyscallsServed() { atomic.AddInt64(&c.SyscallsServed, 1) }

/// Snapshot atomically reads every counter into a plain map, keyed by name,
/// for formatting or export.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"page_faults":     atomic.LoadInt64(&c.PageFaults),
		"evictions":       atomic.LoadInt64(&c.Evictions),
		"swap_ins":        atomic.LoadInt64(&c.SwapIns),
		"swap_outs":       atomic.LoadInt64(&c.SwapOuts),
		"syscalls_served": atomic.LoadInt64(&c.SyscallsServed),
	}
}

/// Report formats the current snapshot as a locale-formatted (thousands
/// separators) multi-line string, playing a Stats2String role with
/// golang.org/x/text/message instead of manual strconv/reflect.
func (c *Counters) Report() string {
	p := message.NewPrinter(language.English)
	snap := c.Snapshot()
	order := []string{"page_faults", "evictions", "swap_ins", "swap_outs", "syscalls_served"}
	var buf bytes.Buffer
	for _, k := range order {
		p.Fprintf(&buf, "\t#%s: %d\n", k, snap[k])
	}
	return buf.String()
}

/// Profile renders the current snapshot as a pprof Profile with one sample
/// per counter, so it can be written out and inspected with `go tool pprof`
/// or any other profile.proto consumer.
func (c *Counters) Profile() *profile.Profile {
	snap := c.Snapshot()
	order := []string{"page_faults", "evictions", "swap_ins", "swap_outs", "syscalls_served"}

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		TimeNanos:  time.Now().UnixNano(),
	}
	for i, name := range order {
		fn := &profile.Function{ID: uint64(i + 1), Name: name}
		loc := &profile.Location{ID: uint64(i + 1), Line: []profile.Line{{Function: fn}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{snap[name]},
		})
	}
	return prof
}
