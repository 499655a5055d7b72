package faultline

import (
	"fmt"

	"github.com/faultline-io/faultline/event"
	"github.com/faultline-io/faultline/internal/stacktrace"
)

// MechanismPanicTrap tags records produced by the panic trap.
const MechanismPanicTrap = "panic_trap"

// Recover is the process-wide fatal-fault trap, used as a deferred call:
//
//	defer monitor.Recover()
//
// A panic unwinding through it is captured, flushed to disk with a
// bounded wait, and then handed to the previously-installed handler
// (Options.OnFatal) — or re-raised unchanged when none is configured, so
// the process still dies the way it was going to.
func (m *Monitor) Recover() {
	if v := recover(); v != nil {
		m.trapFatal(v)
	}
}

// Go runs fn on a new goroutine with the trap installed. A panic in fn
// is captured before it kills the process.
func (m *Monitor) Go(fn func()) {
	go func() {
		defer m.Recover()
		fn()
	}()
}

// HandlePanic is the manual entry to the trap for code that does its own
// recover. It captures and flushes the panic value, returning the stored
// record (nil when the record was dropped by policy or lost). Unlike
// Recover it neither re-raises nor invokes the previous handler.
func (m *Monitor) HandlePanic(v any) *event.Record {
	rec := m.buildPanicRecord(v)
	if !m.capture(rec, true) {
		return nil
	}
	return rec
}

// trapFatal runs the full trap sequence. It must never itself panic: a
// trap failure would mask the original fault, so everything internal is
// recovered and logged before the original value continues on its way.
func (m *Monitor) trapFatal(v any) {
	rec := m.safeHandlePanic(v)

	if m.opts.OnFatal != nil {
		m.safeOnFatal(rec, v)
		return
	}
	panic(v)
}

func (m *Monitor) safeHandlePanic(v any) (rec *event.Record) {
	defer m.recoverInternal("panic trap")
	return m.HandlePanic(v)
}

func (m *Monitor) safeOnFatal(rec *event.Record, v any) {
	defer m.recoverInternal("previous fatal handler")
	m.opts.OnFatal(rec, v)
}

// buildPanicRecord snapshots every goroutine, marking the calling (and
// panicking) one as faulting, and keys the record on the panic value's
// dynamic type.
func (m *Monitor) buildPanicRecord(v any) *event.Record {
	threads := stacktrace.Snapshot(stacktrace.GoroutineID())
	rec := event.NewRecord(event.KindPanic, threads, fmt.Sprintf("%T", v), m.clk.Now())
	rec.Mechanism = MechanismPanicTrap
	rec.Message = fmt.Sprint(v)
	return rec
}
