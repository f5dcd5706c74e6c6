package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/motion.report/internal/motion"
)

type captureHandler struct {
	mu      sync.Mutex
	batches []*motion.RecordSequence
}

func (h *captureHandler) HandleBatch(seq *motion.RecordSequence, raw []byte, from *net.UDPAddr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, seq)
}

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batches)
}

func (h *captureHandler) first() *motion.RecordSequence {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batches[0]
}

type countingStats struct {
	mu      sync.Mutex
	packets int
	dropped int
	records int
}

func (s *countingStats) AddPacket(bytes int) { s.mu.Lock(); s.packets++; s.mu.Unlock() }
func (s *countingStats) AddDropped()         { s.mu.Lock(); s.dropped++; s.mu.Unlock() }
func (s *countingStats) AddRecords(n int)    { s.mu.Lock(); s.records += n; s.mu.Unlock() }
func (s *countingStats) LogStats()           {}

func (s *countingStats) snapshot() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets, s.dropped, s.records
}

func encodeBatch(t *testing.T, n int) []byte {
	t.Helper()
	gen := motion.NewSyntheticTrajectory()
	seq, err := gen.Batch(n, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	defer seq.Finalize()
	data, err := seq.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleDatagram_DecodesAndDispatches(t *testing.T) {
	handler := &captureHandler{}
	stats := &countingStats{}
	l := NewUDPListener(UDPListenerConfig{Stats: stats, Handler: handler})

	l.handleDatagram(encodeBatch(t, 3), nil)

	if handler.count() != 1 {
		t.Fatalf("handler saw %d batches, want 1", handler.count())
	}
	if got := handler.first().Len(); got != 3 {
		t.Errorf("decoded batch size = %d, want 3", got)
	}
	packets, dropped, records := stats.snapshot()
	if packets != 1 || dropped != 0 || records != 3 {
		t.Errorf("stats = packets %d dropped %d records %d", packets, dropped, records)
	}
}

func TestHandleDatagram_PreSizesToBatchCapacity(t *testing.T) {
	handler := &captureHandler{}
	l := NewUDPListener(UDPListenerConfig{BatchCapacity: 64, Handler: handler})

	l.handleDatagram(encodeBatch(t, 3), nil)

	if handler.count() != 1 {
		t.Fatalf("handler saw %d batches, want 1", handler.count())
	}
	seq := handler.first()
	if seq.Len() != 3 {
		t.Errorf("decoded batch size = %d, want 3", seq.Len())
	}
	if seq.Cap() != 64 {
		t.Errorf("decoded batch capacity = %d, want the 64-record hint", seq.Cap())
	}
}

func TestHandleDatagram_DropsMalformed(t *testing.T) {
	handler := &captureHandler{}
	stats := &countingStats{}
	l := NewUDPListener(UDPListenerConfig{Stats: stats, Handler: handler})

	good := encodeBatch(t, 3)
	l.handleDatagram(good[:len(good)-8], nil) // truncated payload
	l.handleDatagram([]byte{0x01}, nil)       // no count header

	if handler.count() != 0 {
		t.Fatalf("handler saw %d batches from malformed datagrams", handler.count())
	}
	_, dropped, _ := stats.snapshot()
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
}

func TestUDPListener_EndToEnd(t *testing.T) {
	handler := &captureHandler{}
	l := NewUDPListener(UDPListenerConfig{
		Address: "127.0.0.1:0",
		RcvBuf:  1 << 20,
		Handler: handler,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()

	select {
	case <-l.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("listener never bound")
	}

	conn, err := net.Dial("udp", l.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write(encodeBatch(t, 5)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for handler.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("batch never reached handler")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := handler.first().Len(); got != 5 {
		t.Errorf("received batch size = %d, want 5", got)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("listener did not stop on cancellation")
	}
}

func TestBatchForwarder_CopiesAndForwards(t *testing.T) {
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	port := sink.LocalAddr().(*net.UDPAddr).Port

	f, err := NewBatchForwarder("127.0.0.1", port, nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	payload := encodeBatch(t, 2)
	f.ForwardAsync(payload)
	// Caller's buffer may be reused immediately after ForwardAsync returns.
	for i := range payload {
		payload[i] = 0xFF
	}

	sink.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64<<10)
	n, _, err := sink.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("forwarded datagram never arrived: %v", err)
	}
	seq, err := motion.DecodeSequence(buf[:n])
	if err != nil {
		t.Fatalf("forwarded datagram corrupted: %v", err)
	}
	defer seq.Finalize()
	if seq.Len() != 2 {
		t.Errorf("forwarded batch size = %d, want 2", seq.Len())
	}
}
