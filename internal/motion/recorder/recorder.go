// Package recorder provides recording and replay of motion batch data.
// A log is a directory: a JSON header, numbered chunk files of
// length-prefixed encoded batches, and a binary seek index.
package recorder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/motion.report/internal/motion"
)

// FileExtension is the extension for motion batch log directories.
const FileExtension = ".mbl"

// ChunkSize is the number of batches per chunk file.
const ChunkSize = 1000

// LogHeader contains metadata about a recorded log.
type LogHeader struct {
	Version      string `json:"version"`
	CreatedNs    int64  `json:"created_ns"`
	SensorID     string `json:"sensor_id"`
	TotalBatches uint64 `json:"total_batches"`
	TotalRecords uint64 `json:"total_records"`
	StartNs      int64  `json:"start_ns"`
	EndNs        int64  `json:"end_ns"`
}

// IndexEntry is an entry in the seek index.
type IndexEntry struct {
	BatchSeq    uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// Recorder writes encoded batches to a log directory.
type Recorder struct {
	basePath string
	sensorID string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    *os.File
	chunkOffset  uint32

	batchCount  uint64
	recordCount uint64
	startNs     int64
	endNs       int64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder writing to the given directory. An empty
// path creates a timestamped directory under the system temp dir.
func NewRecorder(basePath, sensorID string) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), fmt.Sprintf("motion_%s_%d%s", sensorID, time.Now().Unix(), FileExtension))
	}

	if err := os.MkdirAll(filepath.Join(basePath, "batches"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Recorder{
		basePath:     basePath,
		sensorID:     sensorID,
		currentChunk: -1,
		index:        make([]IndexEntry, 0),
		header: LogHeader{
			Version:   "1.0",
			CreatedNs: time.Now().UnixNano(),
			SensorID:  sensorID,
		},
	}, nil
}

// Record appends one batch to the log. The sequence is encoded immediately;
// the caller keeps ownership and may reuse or finalise it afterwards.
func (r *Recorder) Record(seq *motion.RecordSequence, timestampNs int64) error {
	data, err := seq.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	if r.startNs == 0 {
		r.startNs = timestampNs
	}
	r.endNs = timestampNs

	chunkIdx := int(r.batchCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf); err != nil {
		return fmt.Errorf("failed to write batch length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("failed to write batch data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		BatchSeq:    r.batchCount,
		TimestampNs: timestampNs,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})

	r.chunkOffset += uint32(4 + len(data))
	r.batchCount++
	r.recordCount += uint64(seq.Len())

	return nil
}

// rotateChunk closes the current chunk and opens the next one.
func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}

	chunkPath := filepath.Join(r.basePath, "batches", fmt.Sprintf("chunk_%04d.bin", chunkIdx))
	f, err := os.Create(chunkPath)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0

	return nil
}

// Close finalises the log and writes the header and index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		r.chunkFile.Close()
	}

	r.header.TotalBatches = r.batchCount
	r.header.TotalRecords = r.recordCount
	r.header.StartNs = r.startNs
	r.header.EndNs = r.endNs

	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	indexFile, err := os.Create(filepath.Join(r.basePath, "index.bin"))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer indexFile.Close()

	for _, entry := range r.index {
		if err := binary.Write(indexFile, binary.LittleEndian, entry.BatchSeq); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.LittleEndian, entry.TimestampNs); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.LittleEndian, entry.ChunkID); err != nil {
			return err
		}
		if err := binary.Write(indexFile, binary.LittleEndian, entry.Offset); err != nil {
			return err
		}
	}

	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string {
	return r.basePath
}

// BatchCount returns the number of batches recorded so far.
func (r *Recorder) BatchCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchCount
}

// Reader reads batches back from a recorded log.
type Reader struct {
	basePath string
	header   LogHeader
	index    []IndexEntry

	currentBatch uint64

	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// NewReader opens a log for reading.
func NewReader(basePath string) (*Reader, error) {
	r := &Reader{
		basePath:     basePath,
		currentChunk: -1,
	}

	headerData, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	indexFile, err := os.Open(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer indexFile.Close()

	r.index = make([]IndexEntry, 0, r.header.TotalBatches)
	for {
		var entry IndexEntry
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.BatchSeq); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.TimestampNs); err != nil {
			return nil, err
		}
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.ChunkID); err != nil {
			return nil, err
		}
		if err := binary.Read(indexFile, binary.LittleEndian, &entry.Offset); err != nil {
			return nil, err
		}
		r.index = append(r.index, entry)
	}

	return r, nil
}

// Header returns the log header.
func (r *Reader) Header() LogHeader {
	return r.header
}

// TotalBatches returns the number of batches in the log.
func (r *Reader) TotalBatches() uint64 {
	return r.header.TotalBatches
}

// Seek positions the reader at the given batch index.
func (r *Reader) Seek(batchIdx uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if batchIdx >= uint64(len(r.index)) {
		return fmt.Errorf("batch index out of range: %d >= %d", batchIdx, len(r.index))
	}
	r.currentBatch = batchIdx
	return nil
}

// SeekToTimestamp positions the reader at the first batch whose timestamp is
// not before timestampNs.
func (r *Reader) SeekToTimestamp(timestampNs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.index {
		if entry.TimestampNs >= timestampNs {
			r.currentBatch = uint64(i)
			return nil
		}
	}
	if len(r.index) == 0 {
		return fmt.Errorf("log is empty")
	}
	r.currentBatch = uint64(len(r.index) - 1)
	return nil
}

// ReadBatch reads the batch at the current position and advances. The
// returned sequence is independently owned by the caller. io.EOF is returned
// past the end of the log.
func (r *Reader) ReadBatch() (*motion.RecordSequence, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentBatch >= uint64(len(r.index)) {
		return nil, 0, io.EOF
	}

	entry := r.index[r.currentBatch]

	if int(entry.ChunkID) != r.currentChunk {
		if err := r.loadChunk(int(entry.ChunkID)); err != nil {
			return nil, 0, err
		}
	}

	offset := entry.Offset
	if offset+4 > uint32(len(r.chunkData)) {
		return nil, 0, fmt.Errorf("invalid batch offset %d in chunk %d", offset, entry.ChunkID)
	}

	batchLen := binary.LittleEndian.Uint32(r.chunkData[offset:])
	offset += 4

	if offset+batchLen > uint32(len(r.chunkData)) {
		return nil, 0, fmt.Errorf("invalid batch length %d in chunk %d", batchLen, entry.ChunkID)
	}

	seq, err := motion.DecodeSequence(r.chunkData[offset : offset+batchLen])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode batch %d: %w", r.currentBatch, err)
	}

	r.currentBatch++
	return seq, entry.TimestampNs, nil
}

// loadChunk loads a chunk file into memory.
func (r *Reader) loadChunk(chunkIdx int) error {
	chunkPath := filepath.Join(r.basePath, "batches", fmt.Sprintf("chunk_%04d.bin", chunkIdx))
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}

	r.chunkData = data
	r.currentChunk = chunkIdx
	return nil
}
