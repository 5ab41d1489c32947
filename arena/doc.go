// Package arena implements the allocation tracker of the regvm.
//
// All guest memory lives in a single append-only byte arena. Guest pointers
// never hold arena addresses; they name an allocation record by id and an
// offset into it, and every access is resolved and bounds checked through
// that record. Records move from live to dead exactly once, so a stale
// pointer is always detected as use-after-free or double-free rather than
// silently reaching reused bytes.
package arena
