package motion

import (
	"errors"
	"math"
	"testing"
)

// testRecord builds a distinguishable record keyed by seed.
func testRecord(seed float64) PoseRecord {
	r := PoseRecord{
		OffsetTime: seed,
		Acc:        [3]float64{seed + 1, seed + 2, seed + 3},
		Gyr:        [3]float64{seed + 4, seed + 5, seed + 6},
		Vel:        [3]float64{seed + 7, seed + 8, seed + 9},
		Pos:        [3]float64{seed + 10, seed + 11, seed + 12},
		Rot:        IdentityRotation(),
	}
	return r
}

func TestNewRecordSequence_CapacityHints(t *testing.T) {
	for _, hint := range []int{0, 1, 4, 100} {
		s, err := NewRecordSequence(hint)
		if err != nil {
			t.Fatalf("NewRecordSequence(%d): %v", hint, err)
		}
		if s.Len() != 0 {
			t.Errorf("hint %d: size = %d, want 0", hint, s.Len())
		}
		if s.Cap() < hint {
			t.Errorf("hint %d: capacity = %d, want >= %d", hint, s.Cap(), hint)
		}
		if hint == 0 && s.Cap() != 0 {
			t.Errorf("hint 0: capacity = %d, want 0 (no allocation)", s.Cap())
		}
	}
}

func TestNewRecordSequence_NegativeHint(t *testing.T) {
	if _, err := NewRecordSequence(-1); err == nil {
		t.Fatal("NewRecordSequence(-1) succeeded, want error")
	}
}

func TestNewRecordSequence_BeyondCeiling(t *testing.T) {
	_, err := NewRecordSequence(MaxSequenceRecords + 1)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("error = %v, want ErrOutOfMemory", err)
	}
}

// TestPush_GravityAtRest is the canonical stationary-sensor sample: gravity
// on the accelerometer Z axis and an identity rotation.
func TestPush_GravityAtRest(t *testing.T) {
	s, err := NewRecordSequence(0)
	if err != nil {
		t.Fatal(err)
	}
	rec := PoseRecord{
		OffsetTime: 1.5,
		Acc:        [3]float64{0, 0, 9.81},
		Rot:        IdentityRotation(),
	}
	if err := s.Push(rec); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("size = %d, want 1", s.Len())
	}
	if s.Cap() < 1 {
		t.Errorf("capacity = %d, want >= 1", s.Cap())
	}
	got, err := s.At(0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if got != rec {
		t.Errorf("slot 0 = %+v, want %+v", got, rec)
	}
}

func TestPush_SizeAndLastSlot(t *testing.T) {
	s, _ := NewRecordSequence(0)
	for i := 0; i < 100; i++ {
		rec := testRecord(float64(i))
		before := s.Len()
		if err := s.Push(rec); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
		if s.Len() != before+1 {
			t.Fatalf("push %d: size %d -> %d, want +1", i, before, s.Len())
		}
		last, err := s.At(s.Len() - 1)
		if err != nil {
			t.Fatalf("At(last): %v", err)
		}
		if last != rec {
			t.Fatalf("push %d: last slot = %+v, want %+v", i, last, rec)
		}
	}
	// Earlier records survive every relocation.
	for i := 0; i < 100; i++ {
		got, err := s.At(i)
		if err != nil {
			t.Fatalf("At(%d): %v", i, err)
		}
		if got != testRecord(float64(i)) {
			t.Errorf("slot %d corrupted after growth", i)
		}
	}
}

// TestPush_AmortisedGrowth verifies the doubling policy: N pushes from empty
// trigger only O(log N) reallocations, so total copy work stays O(N).
func TestPush_AmortisedGrowth(t *testing.T) {
	const n = 1 << 14
	s, _ := NewRecordSequence(0)
	grows := 0
	lastCap := s.Cap()
	for i := 0; i < n; i++ {
		if err := s.Push(testRecord(float64(i))); err != nil {
			t.Fatal(err)
		}
		if s.Cap() != lastCap {
			grows++
			if lastCap > 0 && s.Cap() < 2*lastCap {
				t.Fatalf("growth %d -> %d is below doubling", lastCap, s.Cap())
			}
			lastCap = s.Cap()
		}
	}
	maxGrows := int(math.Log2(n)) + 2
	if grows > maxGrows {
		t.Errorf("%d pushes caused %d reallocations, want <= %d", n, grows, maxGrows)
	}
}

func TestReserve_NoOpWhenSatisfied(t *testing.T) {
	s, _ := NewRecordSequence(8)
	s.Push(testRecord(1))
	before := s.Records()
	if err := s.Reserve(4); err != nil {
		t.Fatalf("Reserve(4): %v", err)
	}
	if s.Cap() != 8 {
		t.Errorf("capacity changed to %d on satisfied reserve", s.Cap())
	}
	after := s.Records()
	if &before[0] != &after[0] {
		t.Error("buffer relocated on satisfied reserve")
	}
}

func TestReserve_GrowsAndPreserves(t *testing.T) {
	s, _ := NewRecordSequence(2)
	s.Push(testRecord(1))
	s.Push(testRecord(2))
	if err := s.Reserve(50); err != nil {
		t.Fatalf("Reserve(50): %v", err)
	}
	if s.Cap() != 50 {
		t.Errorf("capacity = %d, want 50", s.Cap())
	}
	if s.Len() != 2 {
		t.Errorf("size = %d, want 2", s.Len())
	}
	for i, seed := range []float64{1, 2} {
		got, _ := s.At(i)
		if got != testRecord(seed) {
			t.Errorf("slot %d lost across reserve", i)
		}
	}
}

func TestReserve_FailureLeavesStateUnchanged(t *testing.T) {
	s, _ := NewRecordSequence(4)
	s.Push(testRecord(1))
	err := s.Reserve(MaxSequenceRecords + 1)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("error = %v, want ErrOutOfMemory", err)
	}
	if s.Len() != 1 || s.Cap() != 4 {
		t.Errorf("sequence changed by failed reserve: size=%d cap=%d", s.Len(), s.Cap())
	}
	got, _ := s.At(0)
	if got != testRecord(1) {
		t.Error("record changed by failed reserve")
	}
}

func TestResize_GrowWithFill(t *testing.T) {
	s, _ := NewRecordSequence(0)
	s.Push(testRecord(1))
	fill := testRecord(99)
	if err := s.Resize(4, &fill); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("size = %d, want 4", s.Len())
	}
	got, _ := s.At(0)
	if got != testRecord(1) {
		t.Error("existing record overwritten by resize")
	}
	for i := 1; i < 4; i++ {
		got, _ := s.At(i)
		if got != fill {
			t.Errorf("slot %d = %+v, want fill record", i, got)
		}
	}
}

func TestResize_DefaultFillIsZeroRecord(t *testing.T) {
	s, _ := NewRecordSequence(0)
	if err := s.Resize(2, nil); err != nil {
		t.Fatal(err)
	}
	var zero PoseRecord
	for i := 0; i < 2; i++ {
		got, _ := s.At(i)
		if got != zero {
			t.Errorf("slot %d = %+v, want zero record", i, got)
		}
	}
}

func TestResize_ShrinkInvalidatesTail(t *testing.T) {
	s, _ := NewRecordSequence(0)
	for i := 0; i < 5; i++ {
		s.Push(testRecord(float64(i)))
	}
	cap := s.Cap()
	if err := s.Resize(2, nil); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Errorf("size = %d, want 2", s.Len())
	}
	if s.Cap() != cap {
		t.Errorf("capacity changed on shrink: %d -> %d", cap, s.Cap())
	}
	if _, err := s.At(2); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("At(2) after shrink = %v, want ErrIndexOutOfRange", err)
	}
}

func TestClear_RetainsBuffer(t *testing.T) {
	s, _ := NewRecordSequence(0)
	for i := 0; i < 10; i++ {
		s.Push(testRecord(float64(i)))
	}
	cap := s.Cap()
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 0 {
		t.Errorf("size = %d after clear, want 0", s.Len())
	}
	if s.Cap() != cap {
		t.Errorf("capacity = %d after clear, want %d (buffer retained)", s.Cap(), cap)
	}
}

func TestCopyFrom_DeepCopy(t *testing.T) {
	src, _ := NewRecordSequence(16)
	for i := 0; i < 3; i++ {
		src.Push(testRecord(float64(i)))
	}
	dst, _ := NewRecordSequence(0)
	if err := dst.CopyFrom(src); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	if dst.Len() != 3 || dst.Cap() != 3 {
		t.Errorf("dst size=%d cap=%d, want size=cap=3", dst.Len(), dst.Cap())
	}
	for i := 0; i < 3; i++ {
		a, _ := src.At(i)
		b, _ := dst.At(i)
		if a != b {
			t.Errorf("slot %d differs after copy", i)
		}
	}
	// Distinct storage: mutating the copy never affects the source.
	if &src.Records()[0] == &dst.Records()[0] {
		t.Fatal("copy shares storage with source")
	}
	dst.Set(0, testRecord(42))
	orig, _ := src.At(0)
	if orig != testRecord(0) {
		t.Error("mutating copy changed source")
	}
}

func TestCopyFrom_EmptySource(t *testing.T) {
	src, _ := NewRecordSequence(0)
	dst, _ := NewRecordSequence(8)
	dst.Push(testRecord(1))
	if err := dst.CopyFrom(src); err != nil {
		t.Fatal(err)
	}
	if dst.Len() != 0 || dst.Cap() != 0 {
		t.Errorf("dst size=%d cap=%d after copying empty source, want 0/0", dst.Len(), dst.Cap())
	}
}

func TestIndexedAccess_OutOfRange(t *testing.T) {
	s, _ := NewRecordSequence(8)
	s.Push(testRecord(1))
	for _, i := range []int{-1, 1, 7, 100} {
		if _, err := s.At(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("At(%d) = %v, want ErrIndexOutOfRange", i, err)
		}
		if err := s.Set(i, testRecord(0)); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Set(%d) = %v, want ErrIndexOutOfRange", i, err)
		}
	}
}

func TestFinalize_RetiresSequence(t *testing.T) {
	s, _ := NewRecordSequence(4)
	s.Push(testRecord(1))
	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if s.Cap() != 0 {
		t.Errorf("capacity = %d after finalize, want 0", s.Cap())
	}

	ops := map[string]func() error{
		"Push":     func() error { return s.Push(testRecord(0)) },
		"Reserve":  func() error { return s.Reserve(1) },
		"Resize":   func() error { return s.Resize(1, nil) },
		"Clear":    func() error { return s.Clear() },
		"Set":      func() error { return s.Set(0, testRecord(0)) },
		"CopyFrom": func() error { o, _ := NewRecordSequence(0); return s.CopyFrom(o) },
		"Finalize": func() error { return s.Finalize() },
		"At":       func() error { _, err := s.At(0); return err },
		"Marshal":  func() error { _, err := s.MarshalBinary(); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrUseAfterFree) {
			t.Errorf("%s after finalize = %v, want ErrUseAfterFree", name, err)
		}
	}
}

func TestZeroValueSequence_IsUnusable(t *testing.T) {
	var s RecordSequence
	if err := s.Push(testRecord(0)); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("Push on zero value = %v, want ErrUseAfterFree", err)
	}
	if _, err := s.MarshalBinary(); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("MarshalBinary on zero value = %v, want ErrUseAfterFree", err)
	}
}

func TestCopyFrom_FinalisedSource(t *testing.T) {
	src, _ := NewRecordSequence(0)
	src.Finalize()
	dst, _ := NewRecordSequence(0)
	if err := dst.CopyFrom(src); !errors.Is(err, ErrUseAfterFree) {
		t.Errorf("CopyFrom finalised source = %v, want ErrUseAfterFree", err)
	}
}

func BenchmarkPush(b *testing.B) {
	rec := testRecord(1)
	s, _ := NewRecordSequence(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Push(rec); err != nil {
			// Ceiling reached on very long runs; start over.
			s.Finalize()
			s, _ = NewRecordSequence(0)
		}
	}
}
