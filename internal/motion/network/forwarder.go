package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ForwardStats tracks datagrams the forwarder had to drop.
type ForwardStats interface {
	AddDropped()
}

// BatchForwarder mirrors received batch datagrams to another address, for a
// second consumer such as a development workstation. Forwarding is
// non-blocking: when the queue is full the datagram is dropped and counted
// rather than stalling the receive loop.
type BatchForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       ForwardStats
	logInterval time.Duration
	address     string
}

// NewBatchForwarder creates a forwarder that sends datagrams to addr:port.
func NewBatchForwarder(addr string, port int, stats ForwardStats, logInterval time.Duration) (*BatchForwarder, error) {
	forwardAddress := fmt.Sprintf("%s:%d", addr, port)
	forwardUDPAddr, err := net.ResolveUDPAddr("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, forwardUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}

	return &BatchForwarder{
		conn:        conn,
		channel:     make(chan []byte, 1000),
		stats:       stats,
		logInterval: logInterval,
		address:     forwardAddress,
	}, nil
}

// Start begins the forwarding goroutine. Write failures are aggregated and
// logged at the configured interval.
func (f *BatchForwarder) Start(ctx context.Context) {
	go func() {
		droppedCount := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case datagram := <-f.channel:
				if _, err := f.conn.Write(datagram); err != nil {
					droppedCount++
					lastError = err
				}
			case <-ticker.C:
				if droppedCount > 0 && lastError != nil {
					logf("dropped %d forwarded batches due to errors (latest: %v)", droppedCount, lastError)
					droppedCount = 0
					lastError = nil
				}
			}
		}
	}()

	logf("forwarding batches to %s", f.address)
}

// ForwardAsync queues a datagram for forwarding without blocking. The
// datagram is copied because the caller reuses its receive buffer.
func (f *BatchForwarder) ForwardAsync(datagram []byte) {
	datagramCopy := make([]byte, len(datagram))
	copy(datagramCopy, datagram)

	select {
	case f.channel <- datagramCopy:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close closes the forwarding connection and channel.
func (f *BatchForwarder) Close() error {
	close(f.channel)
	return f.conn.Close()
}
