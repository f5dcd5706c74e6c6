package motion

import (
	"errors"
	"fmt"
)

// Sentinel errors for sequence lifecycle and access failures. Callers match
// with errors.Is; operations that fail leave the sequence exactly as it was.
var (
	// ErrOutOfMemory is returned when growth would exceed the allocation
	// ceiling. The sequence is unchanged.
	ErrOutOfMemory = errors.New("motion: allocation exceeds sequence record ceiling")
	// ErrIndexOutOfRange is returned for positional access at or beyond size.
	ErrIndexOutOfRange = errors.New("motion: record index out of range")
	// ErrUseAfterFree is returned for any operation on a finalised or
	// never-initialised sequence.
	ErrUseAfterFree = errors.New("motion: sequence is finalised or was never initialised")
	// ErrShapeMismatch is returned when a decoded batch declares a record
	// count inconsistent with the bytes actually present.
	ErrShapeMismatch = errors.New("motion: declared record count does not match payload")
)

// MaxSequenceRecords caps how many records a single sequence may hold.
// At 176 bytes per record this bounds one batch at ~2.9 GB, which is far
// beyond anything the estimator produces; its real job is turning hostile
// or corrupt counts into ErrOutOfMemory/ErrShapeMismatch instead of an
// unbounded allocation.
const MaxSequenceRecords = 1 << 24

// minSequenceCapacity is the smallest non-zero capacity Push grows to.
const minSequenceCapacity = 4

type sequenceState uint8

const (
	stateUninitialised sequenceState = iota
	stateLive
	stateFinalised
)

// RecordSequence is an owning, growable batch of PoseRecords with explicit
// size and capacity, in the manner of the estimator's sample sequences:
// slots [0,size) are valid records, slots [size,cap) are allocated but
// unspecified, and growth may relocate the backing buffer.
//
// A sequence has a single logical owner; concurrent mutation requires
// external synchronisation. The zero value is unusable; construct with
// NewRecordSequence. Every operation after Finalize fails with
// ErrUseAfterFree.
type RecordSequence struct {
	data  []PoseRecord // len(data) == capacity
	size  int
	state sequenceState
}

// NewRecordSequence creates a live sequence with size 0 and capacity of at
// least capacityHint slots. A hint of 0 is legal and allocates nothing.
func NewRecordSequence(capacityHint int) (*RecordSequence, error) {
	if capacityHint < 0 {
		return nil, fmt.Errorf("motion: negative capacity hint %d", capacityHint)
	}
	if capacityHint > MaxSequenceRecords {
		return nil, fmt.Errorf("init capacity %d: %w", capacityHint, ErrOutOfMemory)
	}
	s := &RecordSequence{state: stateLive}
	if capacityHint > 0 {
		s.data = make([]PoseRecord, capacityHint)
	}
	return s, nil
}

func (s *RecordSequence) live() error {
	if s == nil || s.state != stateLive {
		return ErrUseAfterFree
	}
	return nil
}

// Len returns the number of valid records.
func (s *RecordSequence) Len() int {
	if s == nil {
		return 0
	}
	return s.size
}

// Cap returns the number of allocated slots.
func (s *RecordSequence) Cap() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// At returns the record at index i. Indices at or beyond Len fail with
// ErrIndexOutOfRange.
func (s *RecordSequence) At(i int) (PoseRecord, error) {
	if err := s.live(); err != nil {
		return PoseRecord{}, err
	}
	if i < 0 || i >= s.size {
		return PoseRecord{}, fmt.Errorf("index %d with size %d: %w", i, s.size, ErrIndexOutOfRange)
	}
	return s.data[i], nil
}

// Set overwrites the record at index i.
func (s *RecordSequence) Set(i int, rec PoseRecord) error {
	if err := s.live(); err != nil {
		return err
	}
	if i < 0 || i >= s.size {
		return fmt.Errorf("index %d with size %d: %w", i, s.size, ErrIndexOutOfRange)
	}
	s.data[i] = rec
	return nil
}

// Records returns the valid prefix of the backing buffer. The slice aliases
// the sequence's storage: it is invalidated by any operation that grows or
// releases the buffer, and callers must not retain it across such calls.
func (s *RecordSequence) Records() []PoseRecord {
	if s == nil || s.state != stateLive {
		return nil
	}
	return s.data[:s.size]
}

// Reserve ensures capacity ≥ n. When already satisfied it is a no-op and
// the buffer address is unchanged. Otherwise it allocates a buffer of
// exactly n slots, copies the valid records across, and releases the old
// buffer. On failure the sequence is left exactly as before the call.
func (s *RecordSequence) Reserve(n int) error {
	if err := s.live(); err != nil {
		return err
	}
	if n <= len(s.data) {
		return nil
	}
	if n > MaxSequenceRecords {
		return fmt.Errorf("reserve %d: %w", n, ErrOutOfMemory)
	}
	grown := make([]PoseRecord, n)
	copy(grown, s.data[:s.size])
	s.data = grown
	return nil
}

// Push appends rec, growing the buffer first when full. Growth doubles the
// capacity (minimum 4 slots) so N sequential pushes do O(N) total copy work.
func (s *RecordSequence) Push(rec PoseRecord) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.size == len(s.data) {
		next := len(s.data) * 2
		if next < minSequenceCapacity {
			next = minSequenceCapacity
		}
		if next > MaxSequenceRecords {
			next = MaxSequenceRecords
		}
		if next <= s.size {
			return fmt.Errorf("push beyond %d records: %w", MaxSequenceRecords, ErrOutOfMemory)
		}
		if err := s.Reserve(next); err != nil {
			return err
		}
	}
	s.data[s.size] = rec
	s.size++
	return nil
}

// Resize sets the size to n, reserving first when n exceeds capacity.
// Newly exposed slots [oldSize,n) are initialised to fill; nil fill means a
// zero-valued record. Shrinking leaves the abandoned slots' memory as is.
func (s *RecordSequence) Resize(n int, fill *PoseRecord) error {
	if err := s.live(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("resize to %d: %w", n, ErrIndexOutOfRange)
	}
	if n > len(s.data) {
		if err := s.Reserve(n); err != nil {
			return err
		}
	}
	if n > s.size {
		var f PoseRecord
		if fill != nil {
			f = *fill
		}
		for i := s.size; i < n; i++ {
			s.data[i] = f
		}
	}
	s.size = n
	return nil
}

// Clear sets the size to 0 and retains the buffer for reuse.
func (s *RecordSequence) Clear() error {
	if err := s.live(); err != nil {
		return err
	}
	s.size = 0
	return nil
}

// CopyFrom replaces the sequence's contents with a deep copy of other:
// afterwards size == capacity == other.Len() and no storage is shared, so
// mutating either sequence never affects the other.
func (s *RecordSequence) CopyFrom(other *RecordSequence) error {
	if err := s.live(); err != nil {
		return err
	}
	if err := other.live(); err != nil {
		return err
	}
	if other.size == 0 {
		s.data = nil
		s.size = 0
		return nil
	}
	fresh := make([]PoseRecord, other.size)
	copy(fresh, other.data[:other.size])
	s.data = fresh
	s.size = other.size
	return nil
}

// Clone returns a new independently owned sequence holding a deep copy of
// the valid records.
func (s *RecordSequence) Clone() (*RecordSequence, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	out, err := NewRecordSequence(0)
	if err != nil {
		return nil, err
	}
	if err := out.CopyFrom(s); err != nil {
		return nil, err
	}
	return out, nil
}

// Finalize releases the owned buffer and retires the sequence. It must be
// called exactly once per successful NewRecordSequence; any later operation,
// including a second Finalize, fails with ErrUseAfterFree.
func (s *RecordSequence) Finalize() error {
	if err := s.live(); err != nil {
		return err
	}
	s.data = nil
	s.size = 0
	s.state = stateFinalised
	return nil
}
