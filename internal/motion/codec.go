package motion

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Batch wire format, little-endian throughout:
//
//	uint32 count
//	count × 176-byte records (22 doubles each, field order
//	OffsetTime, Acc, Gyr, Vel, Pos, Rot row-major)
//
// Capacity is a local allocation detail and is never transmitted.

// countWireSize is the encoded size of the leading record count.
const countWireSize = 4

// WireSize returns the encoded size of the sequence in bytes.
func (s *RecordSequence) WireSize() int {
	return countWireSize + s.Len()*RecordWireSize
}

// MarshalBinary encodes the valid records into a fresh buffer.
func (s *RecordSequence) MarshalBinary() ([]byte, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	return s.appendBinary(make([]byte, 0, s.WireSize())), nil
}

// AppendBinary encodes the sequence onto buf, returning the extended slice.
// Callers pre-size transmission buffers with WireSize to avoid growth.
func (s *RecordSequence) AppendBinary(buf []byte) ([]byte, error) {
	if err := s.live(); err != nil {
		return nil, err
	}
	return s.appendBinary(buf), nil
}

func (s *RecordSequence) appendBinary(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.size))
	for i := 0; i < s.size; i++ {
		buf = appendRecord(buf, &s.data[i])
	}
	return buf
}

func appendRecord(buf []byte, r *PoseRecord) []byte {
	buf = appendFloat64(buf, r.OffsetTime)
	for _, v := range r.Acc {
		buf = appendFloat64(buf, v)
	}
	for _, v := range r.Gyr {
		buf = appendFloat64(buf, v)
	}
	for _, v := range r.Vel {
		buf = appendFloat64(buf, v)
	}
	for _, v := range r.Pos {
		buf = appendFloat64(buf, v)
	}
	for _, v := range r.Rot {
		buf = appendFloat64(buf, v)
	}
	return buf
}

func appendFloat64(buf []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
}

// decodeRecord reads one record from the front of data. len(data) must be
// at least RecordWireSize; callers validate totals up front.
func decodeRecord(data []byte) PoseRecord {
	var r PoseRecord
	off := 0
	next := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		off += 8
		return v
	}
	r.OffsetTime = next()
	for i := range r.Acc {
		r.Acc[i] = next()
	}
	for i := range r.Gyr {
		r.Gyr[i] = next()
	}
	for i := range r.Vel {
		r.Vel[i] = next()
	}
	for i := range r.Pos {
		r.Pos[i] = next()
	}
	for i := range r.Rot {
		r.Rot[i] = next()
	}
	return r
}

// DecodeSequence reconstructs an independently owned sequence from one
// encoded batch. A declared count inconsistent with the bytes present
// (short payload, trailing garbage, or a count beyond the allocation
// ceiling) fails with ErrShapeMismatch and is fatal for that message.
func DecodeSequence(data []byte) (*RecordSequence, error) {
	if len(data) < countWireSize {
		return nil, fmt.Errorf("batch of %d bytes has no count header: %w", len(data), ErrShapeMismatch)
	}
	count := binary.LittleEndian.Uint32(data)
	if count > MaxSequenceRecords {
		return nil, fmt.Errorf("declared count %d exceeds ceiling %d: %w", count, MaxSequenceRecords, ErrShapeMismatch)
	}
	payload := data[countWireSize:]
	want := int(count) * RecordWireSize
	if len(payload) != want {
		return nil, fmt.Errorf("declared %d records (%d bytes) but payload is %d bytes: %w",
			count, want, len(payload), ErrShapeMismatch)
	}

	s, err := NewRecordSequence(int(count))
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		s.data[i] = decodeRecord(payload[i*RecordWireSize:])
	}
	s.size = int(count)
	return s, nil
}

// UnmarshalBinary decodes one encoded batch into an existing live sequence,
// reusing its buffer when the capacity already suffices. The sequence's
// prior contents are replaced.
func (s *RecordSequence) UnmarshalBinary(data []byte) error {
	if err := s.live(); err != nil {
		return err
	}
	if len(data) < countWireSize {
		return fmt.Errorf("batch of %d bytes has no count header: %w", len(data), ErrShapeMismatch)
	}
	count := binary.LittleEndian.Uint32(data)
	if count > MaxSequenceRecords {
		return fmt.Errorf("declared count %d exceeds ceiling %d: %w", count, MaxSequenceRecords, ErrShapeMismatch)
	}
	payload := data[countWireSize:]
	want := int(count) * RecordWireSize
	if len(payload) != want {
		return fmt.Errorf("declared %d records (%d bytes) but payload is %d bytes: %w",
			count, want, len(payload), ErrShapeMismatch)
	}
	if err := s.Reserve(int(count)); err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		s.data[i] = decodeRecord(payload[i*RecordWireSize:])
	}
	s.size = int(count)
	return nil
}
