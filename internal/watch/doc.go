// Package watch is the change-detection and notification engine.
//
// One cycle runs fetch -> diff -> notify -> commit. Cycles are
// single-flight: the interval loop and manual /check triggers share one
// slot, and a trigger that arrives while a cycle is in flight is rejected
// with ErrBusy instead of overlapping. Failures are per-cycle; the
// scheduler itself never stops on an error.
package watch
