package motion

import "math"

// SyntheticTrajectory generates deterministic motion samples along a
// constant-rate circular path on the ground plane. It exists for replay
// tooling and tests that need physically plausible batches without a live
// estimator: velocity is tangent to the circle, acceleration combines
// gravity with the centripetal term, and the rotation tracks the heading.
type SyntheticTrajectory struct {
	// RadiusMeters is the circle radius (default 5 m).
	RadiusMeters float64
	// AngularRate is the yaw rate in rad/s (default 0.5).
	AngularRate float64
	// Gravity is the magnitude of the gravity vector (default 9.81).
	Gravity float64
}

// NewSyntheticTrajectory returns a trajectory with the default geometry.
func NewSyntheticTrajectory() *SyntheticTrajectory {
	return &SyntheticTrajectory{
		RadiusMeters: 5.0,
		AngularRate:  0.5,
		Gravity:      9.81,
	}
}

// RecordAt returns the sample at offset t seconds from the batch reference
// time. The same t always yields the same record.
func (g *SyntheticTrajectory) RecordAt(t float64) PoseRecord {
	theta := g.AngularRate * t
	sin, cos := math.Sin(theta), math.Cos(theta)

	speed := g.AngularRate * g.RadiusMeters
	centripetal := g.AngularRate * speed

	return PoseRecord{
		OffsetTime: t,
		Pos:        [3]float64{g.RadiusMeters * cos, g.RadiusMeters * sin, 0},
		Vel:        [3]float64{-speed * sin, speed * cos, 0},
		// Centripetal acceleration points at the circle centre; gravity is +Z
		// in the body frame as an accelerometer would report at rest.
		Acc: [3]float64{-centripetal * cos, -centripetal * sin, g.Gravity},
		Gyr: [3]float64{0, 0, g.AngularRate},
		// Yaw-only rotation, row-major.
		Rot: [9]float64{
			cos, -sin, 0,
			sin, cos, 0,
			0, 0, 1,
		},
	}
}

// Batch fills a new sequence with n samples spaced dt seconds apart.
func (g *SyntheticTrajectory) Batch(n int, dt float64) (*RecordSequence, error) {
	s, err := NewRecordSequence(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if err := s.Push(g.RecordAt(float64(i) * dt)); err != nil {
			s.Finalize()
			return nil, err
		}
	}
	return s, nil
}
