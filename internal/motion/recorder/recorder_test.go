package recorder

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/motion.report/internal/motion"
)

func recordLog(t *testing.T, dir string, batches int) *Recorder {
	t.Helper()
	rec, err := NewRecorder(dir, "imu-01")
	if err != nil {
		t.Fatal(err)
	}

	gen := motion.NewSyntheticTrajectory()
	for i := 0; i < batches; i++ {
		seq, err := gen.Batch(i+1, 0.01)
		if err != nil {
			t.Fatal(err)
		}
		if err := rec.Record(seq, int64(1000+i)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		seq.Finalize()
	}
	return rec
}

func TestRecorder_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session"+FileExtension)
	rec := recordLog(t, dir, 5)
	if rec.BatchCount() != 5 {
		t.Errorf("BatchCount = %d, want 5", rec.BatchCount())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(dir)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.TotalBatches() != 5 {
		t.Fatalf("TotalBatches = %d, want 5", r.TotalBatches())
	}
	hdr := r.Header()
	if hdr.SensorID != "imu-01" {
		t.Errorf("SensorID = %q", hdr.SensorID)
	}
	if hdr.StartNs != 1000 || hdr.EndNs != 1004 {
		t.Errorf("time range = [%d,%d], want [1000,1004]", hdr.StartNs, hdr.EndNs)
	}
	if hdr.TotalRecords != 1+2+3+4+5 {
		t.Errorf("TotalRecords = %d, want 15", hdr.TotalRecords)
	}

	gen := motion.NewSyntheticTrajectory()
	for i := 0; i < 5; i++ {
		seq, ts, err := r.ReadBatch()
		if err != nil {
			t.Fatalf("ReadBatch %d: %v", i, err)
		}
		if ts != int64(1000+i) {
			t.Errorf("batch %d timestamp = %d, want %d", i, ts, 1000+i)
		}
		want, _ := gen.Batch(i+1, 0.01)
		if diff := cmp.Diff(want.Records(), seq.Records()); diff != "" {
			t.Errorf("batch %d mismatch:\n%s", i, diff)
		}
		want.Finalize()
		seq.Finalize()
	}

	if _, _, err := r.ReadBatch(); !errors.Is(err, io.EOF) {
		t.Errorf("read past end = %v, want io.EOF", err)
	}
}

func TestReader_Seek(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seek"+FileExtension)
	rec := recordLog(t, dir, 4)
	rec.Close()

	r, err := NewReader(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Seek(2); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	seq, ts, err := r.ReadBatch()
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Finalize()
	if ts != 1002 || seq.Len() != 3 {
		t.Errorf("after Seek(2): ts=%d len=%d, want 1002/3", ts, seq.Len())
	}

	if err := r.Seek(99); err == nil {
		t.Error("Seek past end succeeded")
	}

	if err := r.SeekToTimestamp(1003); err != nil {
		t.Fatal(err)
	}
	seq2, ts, err := r.ReadBatch()
	if err != nil {
		t.Fatal(err)
	}
	defer seq2.Finalize()
	if ts != 1003 {
		t.Errorf("SeekToTimestamp landed at %d, want 1003", ts)
	}
}

func TestRecorder_ClosedRejectsWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "closed"+FileExtension)
	rec := recordLog(t, dir, 1)
	rec.Close()
	// Close is idempotent.
	if err := rec.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	seq, _ := motion.NewRecordSequence(0)
	defer seq.Finalize()
	if err := rec.Record(seq, 1); err == nil {
		t.Error("Record on closed recorder succeeded")
	}
}

func TestRecorder_FinalisedSequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uaf"+FileExtension)
	rec, err := NewRecorder(dir, "imu-01")
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	seq, _ := motion.NewRecordSequence(0)
	seq.Finalize()
	if err := rec.Record(seq, 1); !errors.Is(err, motion.ErrUseAfterFree) {
		t.Errorf("Record(finalised) = %v, want ErrUseAfterFree", err)
	}
}
