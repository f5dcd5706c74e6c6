// Package motion defines the in-memory and wire contract for motion-state
// samples exchanged with the odometry estimator: the fixed-layout PoseRecord
// and the owning, growable RecordSequence used to batch samples for one
// transmission.
package motion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// PoseRecord is one timestamped motion-state sample. All fields are float64
// so a record is exactly 22 consecutive doubles on the wire with no padding.
// Records have no internal pointers and copy by value.
type PoseRecord struct {
	OffsetTime float64    // seconds since the batch reference time
	Acc        [3]float64 // linear acceleration, m/s²
	Gyr        [3]float64 // angular velocity, rad/s
	Vel        [3]float64 // velocity, m/s
	Pos        [3]float64 // position, m
	Rot        [9]float64 // 3x3 rotation matrix, row-major (r00..r02, r10..r12, r20..r22)
}

// RecordWireSize is the encoded size of one PoseRecord: 22 doubles.
const RecordWireSize = 22 * 8

// RotationTolerance is the allowed deviation of det(Rot) from 1 when
// checking that a record carries a proper rotation.
const RotationTolerance = 0.01

// IdentityRotation returns the row-major identity rotation matrix.
func IdentityRotation() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// HasProperRotation reports whether the record's rotation matrix is a proper
// rotation (determinant ≈ 1, so not a reflection or a degenerate matrix).
func (r *PoseRecord) HasProperRotation() bool {
	rot := r.Rot
	det := mat.Det(mat.NewDense(3, 3, rot[:]))
	return math.Abs(det-1.0) <= RotationTolerance
}

// IsFinite reports whether every field of the record is a finite number.
// Ingest paths use this to reject samples carrying NaN or Inf from an
// upstream estimator fault.
func (r *PoseRecord) IsFinite() bool {
	if !isFinite(r.OffsetTime) {
		return false
	}
	for _, v3 := range [4][3]float64{r.Acc, r.Gyr, r.Vel, r.Pos} {
		for _, v := range v3 {
			if !isFinite(v) {
				return false
			}
		}
	}
	for _, v := range r.Rot {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
