package serialmux

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// IMU units stream batches as frames:
//
//	4-byte magic "MOTB"
//	uint32 little-endian payload length
//	payload: one encoded RecordSequence batch
//
// The scanner resynchronises on the magic after line noise, so a corrupted
// frame costs at most one batch.

var frameMagic = [4]byte{'M', 'O', 'T', 'B'}

// maxFramePayload bounds a single frame. Anything larger is treated as a
// corrupt length field and resynchronised past.
const maxFramePayload = 16 << 20

// readFrame returns the payload of the next valid frame. Bytes before the
// magic are discarded. io.EOF is returned at a clean end of stream.
func readFrame(r *bufio.Reader) ([]byte, error) {
	if err := syncToMagic(r); err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, frameEOF(err)
	}
	payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
	if payloadLen > maxFramePayload {
		return nil, fmt.Errorf("frame declares %d byte payload (max %d)", payloadLen, maxFramePayload)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, frameEOF(err)
	}
	return payload, nil
}

// syncToMagic consumes input until the 4-byte magic has been read.
func syncToMagic(r *bufio.Reader) error {
	matched := 0
	for matched < len(frameMagic) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b == frameMagic[matched] {
			matched++
			continue
		}
		// A mismatch may itself start a new magic.
		if b == frameMagic[0] {
			matched = 1
		} else {
			matched = 0
		}
	}
	return nil
}

// frameEOF maps an unexpected EOF inside a frame to io.ErrUnexpectedEOF so
// callers can distinguish truncation from a clean end of stream.
func frameEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// appendFrame wraps an encoded batch payload in the serial framing. Used by
// device emulators and tests.
func appendFrame(dst, payload []byte) []byte {
	dst = append(dst, frameMagic[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
