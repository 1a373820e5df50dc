package format

import "fmt"

// Locator is an opaque resume token produced by the capture container's
// Tell and consumed by its Seek. It is not a byte offset; no ordering or
// arithmetic is defined on it.
type Locator uint64

// String renders the locator in hex, the way index dumps show it.
func (l Locator) String() string {
	return fmt.Sprintf("%#x", uint64(l))
}

// OrdinalRecord maps a 1-based packet number to the locator of its header.
type OrdinalRecord struct {
	Packet  uint32
	Locator Locator
}

// MarshalTo encodes r into b, which must hold OrdinalRecordSize bytes.
func (r OrdinalRecord) MarshalTo(b []byte) {
	_ = b[OrdinalRecordSize-1]
	ByteOrder.PutUint32(b[0:4], r.Packet)
	ByteOrder.PutUint64(b[4:12], uint64(r.Locator))
}

// DecodeOrdinalRecord decodes one ordinal record.
func DecodeOrdinalRecord(b []byte) (OrdinalRecord, error) {
	if len(b) < OrdinalRecordSize {
		return OrdinalRecord{}, fmt.Errorf("ordinal record: %w", ErrShortBuffer)
	}
	return OrdinalRecord{
		Packet:  ByteOrder.Uint32(b[0:4]),
		Locator: Locator(ByteOrder.Uint64(b[4:12])),
	}, nil
}

// TemporalRecord maps a packet timestamp to the locator of its header.
type TemporalRecord struct {
	Timestamp Timestamp
	Locator   Locator
}

// MarshalTo encodes r into b, which must hold TemporalRecordSize bytes.
func (r TemporalRecord) MarshalTo(b []byte) {
	_ = b[TemporalRecordSize-1]
	ByteOrder.PutUint32(b[0:4], r.Timestamp.Sec)
	ByteOrder.PutUint32(b[4:8], r.Timestamp.Usec)
	ByteOrder.PutUint64(b[8:16], uint64(r.Locator))
}

// DecodeTemporalRecord decodes one temporal record.
func DecodeTemporalRecord(b []byte) (TemporalRecord, error) {
	if len(b) < TemporalRecordSize {
		return TemporalRecord{}, fmt.Errorf("temporal record: %w", ErrShortBuffer)
	}
	return TemporalRecord{
		Timestamp: Timestamp{
			Sec:  ByteOrder.Uint32(b[0:4]),
			Usec: ByteOrder.Uint32(b[4:8]),
		},
		Locator: Locator(ByteOrder.Uint64(b[8:16])),
	}, nil
}
