// Command motiond receives motion batch datagrams from lidar-inertial
// odometry units, validates and stores them, and republishes them to
// streaming clients. Batches can also be ingested from a serial-attached
// unit and mirrored to a second UDP consumer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/db"
	"github.com/banshee-data/motion.report/internal/motion"
	"github.com/banshee-data/motion.report/internal/motion/network"
	"github.com/banshee-data/motion.report/internal/motion/publisher"
	"github.com/banshee-data/motion.report/internal/motion/recorder"
	"github.com/banshee-data/motion.report/internal/serialmux"
	"github.com/banshee-data/motion.report/internal/version"
)

var (
	listen         = flag.String("listen", ":8091", "HTTP listen address")
	udpPort        = flag.Int("udp-port", 7501, "UDP port to listen for motion batches")
	udpAddress     = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	forwardBatches = flag.Bool("forward", false, "Mirror received batch datagrams to another address")
	forwardPort    = flag.Int("forward-port", 7502, "Port to mirror batch datagrams to")
	forwardAddr    = flag.String("forward-addr", "localhost", "Address to mirror batch datagrams to")
	dbFile         = flag.String("db", "motion_data.db", "Path to the SQLite database file")
	rcvBuf         = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval    = flag.Int("log-interval", 30, "Statistics logging interval in seconds")
	sensorID       = flag.String("sensor-id", "imu-01", "Sensor ID stamped onto stored and published batches")
	grpcListen     = flag.String("grpc", "localhost:50071", "gRPC batch feed listen address (empty to disable)")
	serialPath     = flag.String("serial", "", "Serial device to ingest batches from (empty to disable)")
	mockSerial     = flag.Bool("mock-serial", false, "Ingest synthetic batches from a mock serial unit")
	recordDir      = flag.String("record", "", "Directory to record batch logs into (empty to disable)")
	configPath     = flag.String("config", "", "Pipeline config JSON overriding the shipped defaults")
)

// formatWithCommas formats a number with thousands separators
func formatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}

// BatchStats tracks datagram and record throughput for periodic logging.
type BatchStats struct {
	mu           sync.Mutex
	packetCount  int64
	byteCount    int64
	droppedCount int64
	recordCount  int64
	lastReset    time.Time
}

func (bs *BatchStats) AddPacket(bytes int) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.packetCount++
	bs.byteCount += int64(bytes)
}

func (bs *BatchStats) AddDropped() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.droppedCount++
}

func (bs *BatchStats) AddRecords(count int) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.recordCount += int64(count)
}

func (bs *BatchStats) GetAndReset() (packets, bytes, dropped, records int64, duration time.Duration) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(bs.lastReset)
	packets = bs.packetCount
	bytes = bs.byteCount
	dropped = bs.droppedCount
	records = bs.recordCount

	bs.packetCount = 0
	bs.byteCount = 0
	bs.droppedCount = 0
	bs.recordCount = 0
	bs.lastReset = now

	return
}

func (bs *BatchStats) LogStats() {
	packets, bytes, dropped, records, duration := bs.GetAndReset()
	if packets == 0 && dropped == 0 {
		return
	}

	batchesPerSec := float64(packets) / duration.Seconds()
	kbPerSec := float64(bytes) / duration.Seconds() / 1024
	recordsPerSec := float64(records) / duration.Seconds()

	logMsg := fmt.Sprintf("Motion stats (/sec): %.1f KB, %.1f batches, %s records",
		kbPerSec, batchesPerSec, formatWithCommas(int64(recordsPerSec)))
	if dropped > 0 {
		logMsg += fmt.Sprintf(", %d dropped", dropped)
	}

	log.Print(logMsg)
}

// batchPipeline is the sink behind both the UDP listener and the serial
// mux: validate, store, record, publish. It owns every sequence it is
// handed and finalizes them when done.
type batchPipeline struct {
	sensorID        string
	rejectNonFinite bool

	stats     *BatchStats
	store     *db.DB
	recorder  *recorder.Recorder
	publisher *publisher.Publisher

	rejectedBatches atomic.Uint64
}

func (p *batchPipeline) HandleBatch(seq *motion.RecordSequence, raw []byte, from *net.UDPAddr) {
	defer seq.Finalize()

	if p.rejectNonFinite {
		for _, rec := range seq.Records() {
			if !rec.IsFinite() {
				p.stats.AddDropped()
				rejected := p.rejectedBatches.Add(1)
				if rejected%100 == 1 {
					log.Printf("Rejected batch with non-finite fields (total rejected: %d)", rejected)
				}
				return
			}
		}
	}

	now := time.Now().UnixNano()

	if p.store != nil {
		if _, err := p.store.InsertBatch(p.sensorID, now, seq.Len(), raw); err != nil {
			log.Printf("Failed to store batch: %v", err)
		}
	}

	if p.recorder != nil {
		if err := p.recorder.Record(seq, now); err != nil {
			log.Printf("Failed to record batch: %v", err)
		}
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(seq, now); err != nil {
			log.Printf("Failed to publish batch: %v", err)
		}
	}
}

// handleSerialBatch feeds a serial-delivered batch through the same sink as
// UDP batches. Serial batches have no datagram, so the raw payload is
// re-encoded for storage.
func (p *batchPipeline) handleSerialBatch(seq *motion.RecordSequence) {
	raw, err := seq.MarshalBinary()
	if err != nil {
		seq.Finalize()
		log.Printf("Failed to encode serial batch: %v", err)
		return
	}
	p.stats.AddPacket(len(raw))
	p.stats.AddRecords(seq.Len())
	p.HandleBatch(seq, raw, nil)
}

// loadConfig resolves the effective pipeline config: shipped defaults file
// if present, then the -config override on top.
func loadConfig() (*config.PipelineConfig, error) {
	cfg := config.Empty()

	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		defaults, err := config.Load(config.DefaultConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load default config: %w", err)
		}
		cfg.Merge(defaults)
	}

	if *configPath != "" {
		override, err := config.Load(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", *configPath, err)
		}
		cfg.Merge(override)
	}

	return cfg, nil
}

// flagWasSet reports whether the named flag appeared on the command line,
// so explicit flags win over config file values.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func main() {
	flag.Parse()

	log.Printf("motiond %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Flags override the config file; the config file overrides defaults.
	if !flagWasSet("udp-port") {
		*udpPort = cfg.GetUDPPort()
	}
	if !flagWasSet("udp-addr") {
		*udpAddress = cfg.GetUDPAddress()
	}
	if !flagWasSet("rcvbuf") {
		*rcvBuf = cfg.GetReceiveBuffer()
	}
	if !flagWasSet("log-interval") {
		*logInterval = int(cfg.GetLogInterval().Seconds())
	}
	if !flagWasSet("forward-addr") {
		*forwardAddr = cfg.GetForwardAddress()
	}
	if !flagWasSet("forward-port") {
		*forwardPort = cfg.GetForwardPort()
	}
	if !flagWasSet("grpc") {
		*grpcListen = cfg.GetGRPCListen()
	}
	if !flagWasSet("db") {
		*dbFile = cfg.GetDatabasePath()
	}
	if !flagWasSet("record") {
		*recordDir = cfg.GetRecorderDir()
	}

	udpListenAddr := fmt.Sprintf("%s:%d", *udpAddress, *udpPort)

	store, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open motion database: %v", err)
	}
	defer store.Close()

	stats := &BatchStats{lastReset: time.Now()}

	pipeline := &batchPipeline{
		sensorID:        *sensorID,
		rejectNonFinite: cfg.GetRejectNonFinite(),
		stats:           stats,
		store:           store,
	}

	if *recordDir != "" {
		rec, err := recorder.NewRecorder(*recordDir, *sensorID)
		if err != nil {
			log.Fatalf("Failed to open batch recorder: %v", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Failed to close batch recorder: %v", err)
			}
		}()
		pipeline.recorder = rec
		log.Printf("Recording batches to %s", rec.Path())
	}

	if *grpcListen != "" {
		pub := publisher.NewPublisher(publisher.Config{
			ListenAddr: *grpcListen,
			SensorID:   *sensorID,
			MaxClients: cfg.GetMaxClients(),
		})
		if err := pub.Start(); err != nil {
			log.Fatalf("Failed to start batch feed: %v", err)
		}
		defer pub.Stop()
		pipeline.publisher = pub
	}

	var forwarder *network.BatchForwarder
	if *forwardBatches {
		forwarder, err = network.NewBatchForwarder(*forwardAddr, *forwardPort, stats,
			time.Duration(*logInterval)*time.Second)
		if err != nil {
			log.Fatalf("Failed to create batch forwarder: %v", err)
		}
		defer forwarder.Close()
		log.Printf("Mirroring batch datagrams to %s:%d", *forwardAddr, *forwardPort)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:       udpListenAddr,
		RcvBuf:        *rcvBuf,
		LogInterval:   time.Duration(*logInterval) * time.Second,
		BatchCapacity: cfg.GetBatchCapacity(),
		Stats:         stats,
		Forwarder:     forwarder,
		Handler:       pipeline,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("UDP listener error: %v", err)
		}
		log.Print("UDP listener routine terminated")
	}()

	if *serialPath != "" || *mockSerial {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runSerialIngest(ctx, pipeline); err != nil && err != context.Canceled {
				log.Printf("Serial ingest error: %v", err)
			}
			log.Print("Serial ingest routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status": "ok", "service": "motiond", "timestamp": "%s"}`,
				time.Now().UTC().Format(time.RFC3339))
		})

		mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")

			batches, clients, dropped := uint64(0), int32(0), uint64(0)
			if pipeline.publisher != nil {
				s := pipeline.publisher.GetStats()
				batches, clients, dropped = s.BatchCount, s.ClientCount, s.DroppedBatches
			}

			dbStats, err := store.GetBatchStats(*sensorID)
			storedBatches, storedRecords := int64(0), int64(0)
			if err == nil {
				storedBatches, storedRecords = dbStats.BatchCount, dbStats.RecordCount
			}

			fmt.Fprintf(w, `{"sensor_id": %q, "published_batches": %d, "feed_clients": %d, "feed_dropped": %d, "stored_batches": %d, "stored_records": %d, "rejected_batches": %d}`,
				*sensorID, batches, clients, dropped, storedBatches, storedRecords,
				pipeline.rejectedBatches.Load())
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// runSerialIngest pumps batches from a serial-attached (or mock) unit into
// the pipeline until the context is cancelled.
func runSerialIngest(ctx context.Context, pipeline *batchPipeline) error {
	// 40 records at 200Hz matches the batch cadence of a real unit.
	const mockBatchLen = 40

	var mux serialmux.SerialMuxInterface
	if *mockSerial {
		log.Print("Using mock serial unit with synthetic batches")
		mux = serialmux.NewMockSerialMux(mockBatchLen, 50*time.Millisecond)
	} else {
		real, err := serialmux.NewRealSerialMux(*serialPath, serialmux.PortOptions{})
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", *serialPath, err)
		}
		if err := real.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize serial unit: %w", err)
		}
		mux = real
		log.Printf("Ingesting batches from serial port %s", *serialPath)
	}
	defer mux.Close()

	id, batches := mux.Subscribe()
	defer mux.Unsubscribe(id)

	go func() {
		for seq := range batches {
			pipeline.handleSerialBatch(seq)
		}
	}()

	return mux.Monitor(ctx)
}
