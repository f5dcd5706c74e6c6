package publisher

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

var logf = monitoring.Scoped("grpc")

// Config holds configuration for the batch feed server.
type Config struct {
	// ListenAddr is the address to listen on (e.g. "localhost:50071").
	ListenAddr string

	// SensorID stamped onto every published envelope.
	SensorID string

	// MaxClients is the maximum number of concurrent streaming clients.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50071",
		SensorID:   "imu-01",
		MaxClients: 5,
	}
}

// Publisher manages the gRPC server and batch streaming. Publish borrows
// the sequence only for the duration of the call; the envelope carries its
// own copy of the encoded payload.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	batchChan chan *BatchEnvelope
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	batchCount     atomic.Uint64
	clientCount    atomic.Int32
	droppedBatches atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// clientStream represents a connected streaming client.
type clientStream struct {
	id      string
	request *SubscribeRequest
	batchCh chan *BatchEnvelope
	doneCh  chan struct{}
}

// NewPublisher creates a Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	return &Publisher{
		config:    cfg,
		batchChan: make(chan *BatchEnvelope, 100),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start binds the listen address and starts serving the feed.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}

	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	p.listener = lis

	// A single envelope carries a whole batch; 16MB leaves generous
	// headroom over the default 4MB for long capture windows.
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(
		grpc.ForceServerCodec(batchCodec{}),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	p.server.RegisterService(&feedServiceDesc, p)

	p.running.Store(true)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logf("batch feed listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the server and waits for streams to drain.
func (p *Publisher) Stop() {
	if !p.running.Load() {
		return
	}
	p.running.Store(false)
	close(p.stopCh)

	if p.server != nil {
		p.server.GracefulStop()
	}
	if p.listener != nil {
		p.listener.Close()
	}

	p.wg.Wait()
	logf("batch feed stopped")
}

// Addr returns the bound listen address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Publish encodes the sequence and queues it for all connected clients.
// The sequence is only read; the caller keeps ownership. Batches are
// dropped rather than blocking the data path when the queue is full.
func (p *Publisher) Publish(seq *motion.RecordSequence, timestampNs int64) error {
	if !p.running.Load() {
		return nil
	}

	payload, err := seq.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	env := &BatchEnvelope{
		SensorID:    p.config.SensorID,
		TimestampNs: timestampNs,
		BatchSeq:    p.batchCount.Add(1),
		Payload:     payload,
	}

	select {
	case p.batchChan <- env:
	default:
		dropped := p.droppedBatches.Add(1)
		logf("dropped batch %d (total dropped %d), queue full", env.BatchSeq, dropped)
	}
	return nil
}

// broadcastLoop distributes queued envelopes to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case env := <-p.batchChan:
			p.clientsMu.RLock()
			for _, client := range p.clients {
				if client.request.SensorID != "" && client.request.SensorID != env.SensorID {
					continue
				}
				select {
				case client.batchCh <- env:
				default:
					// Client is behind; it misses this batch.
					p.droppedBatches.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Subscribe implements the feed's streaming RPC.
func (p *Publisher) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	if int(p.clientCount.Load()) >= p.config.MaxClients {
		return status.Errorf(codes.ResourceExhausted, "client limit reached (%d)", p.config.MaxClients)
	}

	id := fmt.Sprintf("grpc-%d", time.Now().UnixNano())
	client := p.addClient(id, req)
	defer p.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-client.doneCh:
			return nil
		case env := <-client.batchCh:
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		}
	}
}

func (p *Publisher) addClient(id string, req *SubscribeRequest) *clientStream {
	client := &clientStream{
		id:      id,
		request: req,
		batchCh: make(chan *BatchEnvelope, 10),
		doneCh:  make(chan struct{}),
	}

	p.clientsMu.Lock()
	p.clients[id] = client
	p.clientsMu.Unlock()

	count := p.clientCount.Add(1)
	logf("client connected: %s (total %d)", id, count)
	return client
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	client, ok := p.clients[id]
	if ok {
		close(client.doneCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()

	if ok {
		remaining := p.clientCount.Add(-1)
		logf("client disconnected: %s (remaining %d)", id, remaining)
	}
}

// Stats contains publisher counters.
type Stats struct {
	BatchCount     uint64
	DroppedBatches uint64
	ClientCount    int32
	Running        bool
}

// GetStats returns a snapshot of the publisher counters.
func (p *Publisher) GetStats() Stats {
	return Stats{
		BatchCount:     p.batchCount.Load(),
		DroppedBatches: p.droppedBatches.Load(),
		ClientCount:    p.clientCount.Load(),
		Running:        p.running.Load(),
	}
}
