// Package network receives encoded motion batches over UDP and hands them
// to the rest of the pipeline.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

var logf = monitoring.Scoped("udp")

// BatchStatsInterface provides datagram statistics management.
type BatchStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddRecords(count int)
	LogStats()
}

// BatchHandler consumes decoded batches. The handler receives ownership of
// the sequence and must Finalize it; raw is the datagram payload, valid only
// for the duration of the call.
type BatchHandler interface {
	HandleBatch(seq *motion.RecordSequence, raw []byte, from *net.UDPAddr)
}

// UDPListener receives motion batch datagrams, decodes each into an
// independently owned RecordSequence, and forwards/dispatches them.
type UDPListener struct {
	address       string
	rcvBuf        int
	logInterval   time.Duration
	batchCapacity int
	conn          *net.UDPConn
	stats         BatchStatsInterface
	forwarder     *BatchForwarder
	handler       BatchHandler
	ready         chan struct{}
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	// BatchCapacity pre-sizes each decoded sequence so batches up to this
	// many records decode without a second allocation. Zero sizes each
	// sequence to its exact record count.
	BatchCapacity int
	Stats         BatchStatsInterface
	Forwarder     *BatchForwarder
	Handler       BatchHandler
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	// A no-op stats implementation keeps the handling and logging paths
	// free of nil checks when no collector is supplied.
	var stats BatchStatsInterface
	if config.Stats != nil {
		stats = config.Stats
	} else {
		stats = &noopStats{}
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	batchCapacity := config.BatchCapacity
	if batchCapacity < 0 {
		batchCapacity = 0
	}

	return &UDPListener{
		address:       config.Address,
		rcvBuf:        config.RcvBuf,
		logInterval:   logInterval,
		batchCapacity: batchCapacity,
		stats:         stats,
		forwarder:     config.Forwarder,
		handler:       config.Handler,
		ready:         make(chan struct{}),
	}
}

type noopStats struct{}

func (n *noopStats) AddPacket(bytes int)  {}
func (n *noopStats) AddDropped()          {}
func (n *noopStats) AddRecords(count int) {}
func (n *noopStats) LogStats()            {}

// LocalAddr returns the bound address once Start has opened the socket, or
// nil before that. Useful when listening on an ephemeral port.
func (l *UDPListener) LocalAddr() net.Addr {
	select {
	case <-l.ready:
		return l.conn.LocalAddr()
	default:
		return nil
	}
}

// Ready is closed once the socket is bound.
func (l *UDPListener) Ready() <-chan struct{} { return l.ready }

// Start binds the socket and processes datagrams until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	close(l.ready)
	defer conn.Close()

	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		logf("warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
	}

	logf("listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	// One batch of MaxSequenceRecords would never fit a datagram anyway;
	// 64KiB covers the largest UDP payload.
	buffer := make([]byte, 64<<10)

	for {
		select {
		case <-ctx.Done():
			logf("listener stopping due to context cancellation")
			return ctx.Err()
		default:
			// Short read deadline so context cancellation is noticed.
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logf("read error: %v", err)
				continue
			}

			l.handleDatagram(buffer[:n], from)
		}
	}
}

// startStatsLogging periodically logs datagram statistics. An initial report
// fires shortly after startup to avoid a long silence on first run.
func (l *UDPListener) startStatsLogging(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats()
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// handleDatagram processes one received datagram. A malformed batch is
// counted and dropped; it never stops the listener.
func (l *UDPListener) handleDatagram(datagram []byte, from *net.UDPAddr) {
	l.stats.AddPacket(len(datagram))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(datagram)
	}

	if l.handler == nil {
		return
	}

	seq, err := motion.NewRecordSequence(l.batchCapacity)
	if err != nil {
		l.stats.AddDropped()
		logf("failed to allocate batch: %v", err)
		return
	}
	if err := seq.UnmarshalBinary(datagram); err != nil {
		seq.Finalize()
		l.stats.AddDropped()
		if errors.Is(err, motion.ErrShapeMismatch) {
			logf("dropping malformed batch from %v: %v", from, err)
		} else {
			logf("dropping batch from %v: %v", from, err)
		}
		return
	}

	l.stats.AddRecords(seq.Len())
	l.handler.HandleBatch(seq, datagram, from)
}

// Close closes the UDP socket.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
