// Package registry wraps a single bitfield.Bitfield with the mutex that
// makes it safe to share across a link's receive loop, both scheduler
// threads, and the completion watcher.
package registry

import (
	"sync"

	"github.com/EthanAGit/p2pProj/internal/bitfield"
)

// Registry is the local peer's piece bookkeeping: one bitfield guarded by
// one mutex, with the operations every link and scheduler needs against it.
type Registry struct {
	mu        sync.Mutex
	bits      bitfield.Bitfield
	numPieces int
}

// New creates a Registry for numPieces, starting all-ones if hasFile is
// true (this peer already holds the complete file), else all-zeros.
func New(numPieces int, hasFile bool) *Registry {
	var bits bitfield.Bitfield
	if hasFile {
		bits = bitfield.NewFull(numPieces)
	} else {
		bits = bitfield.New(numPieces)
	}
	return &Registry{bits: bits, numPieces: numPieces}
}

// NumPieces returns the fixed piece count this registry was created for.
func (r *Registry) NumPieces() int {
	return r.numPieces
}

// MarkHave sets bit i. Idempotent.
func (r *Registry) MarkHave(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bits.Set(i)
}

// Have reports whether the local peer owns piece i.
func (r *Registry) Have(i int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bits.Get(i)
}

// Snapshot returns an independent copy of the local bitfield, safe to ship
// on the wire.
func (r *Registry) Snapshot() bitfield.Bitfield {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bits.Clone()
}

// NextNeededFrom returns the lowest-indexed bit set in neighborBits that is
// clear locally, or ok=false if none.
func (r *Registry) NextNeededFrom(neighborBits bitfield.Bitfield) (idx int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bits.NextNeeded(neighborBits, r.numPieces)
}

// IsComplete reports whether every local piece is present.
func (r *Registry) IsComplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bits.IsComplete(r.numPieces)
}

// BitfieldIsComplete is the predicate the completion watcher applies to a
// neighbor's derived bitfield (its own local state is never mutex-guarded
// by this type since it belongs to the caller).
func (r *Registry) BitfieldIsComplete(bits bitfield.Bitfield) bool {
	return bits.IsComplete(r.numPieces)
}
