// Package serialmux reads motion batch frames from a serial-attached IMU
// unit and fans the decoded batches out to multiple subscribers. It also
// carries the command channel used to configure the unit's output rate.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

var logf = monitoring.Scoped("serial")

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// SerialMux multiplexes one serial-attached IMU to many subscribers. Each
// subscriber receives its own independently owned RecordSequence per frame,
// preserving the single-owner contract; a subscriber that falls behind
// misses batches rather than blocking the read loop.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan *motion.RecordSequence
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	framesSeen    atomic.Uint64
	framesDropped atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a channel receiving decoded batches. The returned ID
	// identifies the channel for Unsubscribe. Every delivered sequence is
	// owned by the receiver, which must Finalize it.
	Subscribe() (string, chan *motion.RecordSequence)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes a configuration command to the unit.
	SendCommand(string) error
	// Monitor reads frames from the serial port until ctx is cancelled.
	Monitor(context.Context) error
	// Close closes all subscribed channels and the serial port.
	Close() error
	// Initialize configures the unit for framed batch output.
	Initialize() error
}

// NewSerialMux creates a SerialMux backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan *motion.RecordSequence),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan *motion.RecordSequence) {
	id := randomID()
	ch := make(chan *motion.RecordSequence, 4)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialize puts the unit into framed binary batch output mode.
func (s *SerialMux[T]) Initialize() error {
	for _, command := range []string{
		"RST",  // reset output state
		"OB",   // binary framed batch output
		"R200", // sample rate 200Hz
	} {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand sends a command line to the unit.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads frames from the serial port and delivers decoded batches to
// subscribers until the context is cancelled or the stream ends.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	reader := bufio.NewReader(s.port)

	frameChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// The blocking frame read runs in its own goroutine so the outer loop
	// can also watch for context cancellation.
	go func() {
		defer close(frameChan)
		for {
			payload, err := readFrame(reader)
			if err != nil {
				select {
				case readErrChan <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case frameChan <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if err == nil || err == io.EOF {
				return nil
			}
			return err

		case payload, ok := <-frameChan:
			if !ok {
				return nil
			}

			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			s.deliver(payload)
		}
	}
}

// deliver decodes one frame payload and hands an independent copy to every
// subscriber with room in its channel.
func (s *SerialMux[T]) deliver(payload []byte) {
	s.framesSeen.Add(1)

	seq, err := motion.DecodeSequence(payload)
	if err != nil {
		s.framesDropped.Add(1)
		logf("dropping malformed frame: %v", err)
		return
	}

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	for _, ch := range s.subscribers {
		out, err := seq.Clone()
		if err != nil {
			break
		}
		select {
		case ch <- out:
		default:
			// Subscriber is behind; release the copy rather than block.
			out.Finalize()
			s.framesDropped.Add(1)
		}
	}
	seq.Finalize()
}

// Stats returns the number of frames seen and dropped since startup. It is
// safe to call while Monitor is running.
func (s *SerialMux[T]) Stats() (seen, dropped uint64) {
	return s.framesSeen.Load(), s.framesDropped.Load()
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}
