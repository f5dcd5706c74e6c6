// Package publisher streams encoded motion batches to gRPC clients.
//
// The wire messages are hand-framed with protowire rather than generated
// code: the batch payload is already a stable binary format, so the proto
// layer only carries a thin routing envelope around it.
package publisher

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SubscribeRequest selects which sensor's batches a client wants.
// An empty SensorID subscribes to everything the publisher emits.
type SubscribeRequest struct {
	SensorID string
}

// BatchEnvelope wraps one encoded batch for transport. Payload is the
// little-endian batch encoding produced by RecordSequence.MarshalBinary.
type BatchEnvelope struct {
	SensorID    string
	TimestampNs int64
	BatchSeq    uint64
	Payload     []byte
}

// Field numbers are part of the wire contract; never renumber.
const (
	fieldSensorID    = 1
	fieldTimestampNs = 2
	fieldBatchSeq    = 3
	fieldPayload     = 4
)

func (r *SubscribeRequest) marshalWire() []byte {
	var buf []byte
	if r.SensorID != "" {
		buf = protowire.AppendTag(buf, fieldSensorID, protowire.BytesType)
		buf = protowire.AppendString(buf, r.SensorID)
	}
	return buf
}

func (r *SubscribeRequest) unmarshalWire(data []byte) error {
	*r = SubscribeRequest{}
	return eachField(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		if num == fieldSensorID && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.SensorID = v
		}
		return nil
	})
}

func (e *BatchEnvelope) marshalWire() []byte {
	var buf []byte
	if e.SensorID != "" {
		buf = protowire.AppendTag(buf, fieldSensorID, protowire.BytesType)
		buf = protowire.AppendString(buf, e.SensorID)
	}
	if e.TimestampNs != 0 {
		buf = protowire.AppendTag(buf, fieldTimestampNs, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(e.TimestampNs))
	}
	if e.BatchSeq != 0 {
		buf = protowire.AppendTag(buf, fieldBatchSeq, protowire.VarintType)
		buf = protowire.AppendVarint(buf, e.BatchSeq)
	}
	if len(e.Payload) > 0 {
		buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
		buf = protowire.AppendBytes(buf, e.Payload)
	}
	return buf
}

func (e *BatchEnvelope) unmarshalWire(data []byte) error {
	*e = BatchEnvelope{}
	return eachField(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch {
		case num == fieldSensorID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.SensorID = v
		case num == fieldTimestampNs && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.TimestampNs = int64(v)
		case num == fieldBatchSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.BatchSeq = v
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Payload = append([]byte(nil), v...)
		}
		return nil
	})
}

// eachField walks every top-level field in a proto wire message, calling fn
// with the bytes following the tag. Unknown fields are skipped so older
// readers tolerate newer envelopes.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if err := fn(num, typ, data); err != nil {
			return err
		}

		skip := protowire.ConsumeFieldValue(num, typ, data)
		if skip < 0 {
			return protowire.ParseError(skip)
		}
		data = data[skip:]
	}
	return nil
}

// wireMessage is implemented by both envelope types so the codec can
// round-trip them without reflection.
type wireMessage interface {
	marshalWire() []byte
	unmarshalWire([]byte) error
}

// batchCodec is the grpc codec used for the motion feed service. It is
// forced per-server and per-call rather than registered globally.
type batchCodec struct{}

func (batchCodec) Name() string { return "motionwire" }

func (batchCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("motionwire codec cannot marshal %T", v)
	}
	return m.marshalWire(), nil
}

func (batchCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("motionwire codec cannot unmarshal into %T", v)
	}
	return m.unmarshalWire(data)
}
