package serialmux

import (
	"io"
	"time"

	"github.com/banshee-data/motion.report/internal/motion"
)

// MockSerialPort implements SerialPorter for testing and development
// without IMU hardware.
type MockSerialPort struct {
	io.Reader
	io.WriteCloser
}

// NewMockSerialMux creates a SerialMux backed by a mock port that emits one
// framed synthetic batch of batchLen records every interval. Writes to the
// port (commands) are discarded.
func NewMockSerialMux(batchLen int, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()

	mockPort := &MockSerialPort{
		Reader:      r,
		WriteCloser: discardCloser{r: r},
	}

	go func() {
		defer w.Close()
		gen := motion.NewSyntheticTrajectory()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			seq, err := gen.Batch(batchLen, 0.005)
			if err != nil {
				return
			}
			payload, err := seq.MarshalBinary()
			seq.Finalize()
			if err != nil {
				return
			}
			if _, err := w.Write(appendFrame(nil, payload)); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// discardCloser swallows commands written to the mock port. Closing it
// closes the pipe reader so the emitter goroutine unblocks and exits.
type discardCloser struct{ r *io.PipeReader }

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (d discardCloser) Close() error              { return d.r.Close() }
