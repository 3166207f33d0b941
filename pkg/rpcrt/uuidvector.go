package rpcrt

import (
	"sync"

	"github.com/google/uuid"
)

// MaxUuidVectorEntries is the platform limit on the endpoint-map call's
// UUID vector argument; exceeding it fails with CapacityExceeded.
const MaxUuidVectorEntries = 32

// UuidVector is a capacity-bounded, ordered collection of object UUIDs
// handed to the endpoint-map registration call. It is move-assignable (copy
// the struct) but callers must not share one across goroutines without
// external synchronization beyond what Add/AsSlice already provide.
type UuidVector struct {
	mu      sync.Mutex
	entries []uuid.UUID
}

// NewUuidVector returns an empty vector ready for use.
func NewUuidVector() *UuidVector {
	return &UuidVector{entries: make([]uuid.UUID, 0, MaxUuidVectorEntries)}
}

// Add appends a UUID, or fails with CapacityExceeded once 32 entries are
// already present.
func (v *UuidVector) Add(id uuid.UUID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.entries) >= MaxUuidVectorEntries {
		return &Error{
			Kind:    CapacityExceeded,
			Message: "UuidVector capacity exceeded",
			Detail:  "at most 32 object UUIDs may be registered against one interface handle",
		}
	}
	v.entries = append(v.entries, id)
	return nil
}

// Len returns the current number of entries.
func (v *UuidVector) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// AsSlice materializes a contiguous snapshot of the current entries, in
// insertion order, for the endpoint-map call. The returned slice is a copy;
// mutating it does not affect the vector.
func (v *UuidVector) AsSlice() []uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]uuid.UUID, len(v.entries))
	copy(out, v.entries)
	return out
}
