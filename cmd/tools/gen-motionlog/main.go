// Command gen-motionlog generates sample .mbl batch logs for testing replay.
package main

import (
	"flag"
	"log"

	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/motion/recorder"
)

func main() {
	output := flag.String("o", "sample_motion", "output directory")
	batches := flag.Int("n", 100, "number of batches")
	batchLen := flag.Int("len", 40, "records per batch")
	flag.Parse()

	rec, err := recorder.NewRecorder(*output, "sample")
	if err != nil {
		log.Fatalf("failed to create recorder: %v", err)
	}
	defer rec.Close()

	gen := motion.NewSyntheticTrajectory()
	const dt = 0.005 // 200Hz sample spacing
	timestampNs := int64(0)

	for i := 0; i < *batches; i++ {
		seq, err := gen.Batch(*batchLen, dt)
		if err != nil {
			log.Fatalf("failed to generate batch: %v", err)
		}
		if err := rec.Record(seq, timestampNs); err != nil {
			log.Fatalf("failed to record batch: %v", err)
		}
		seq.Finalize()

		timestampNs += int64(float64(*batchLen) * dt * 1e9)
		if (i+1)%10 == 0 {
			log.Printf("%d/%d batches", i+1, *batches)
		}
	}
	log.Printf("✓ Created: %s", rec.Path())
}
