package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// Event is one decoded journal record, spec.md §4.H.
type Event struct {
	Seq       uint32
	TimestampUs int64
	Kind      string // publisher-facing name; see KindFromString
	Payload   json.RawMessage
}

// encodeRecord serializes an event as
// {u32 len, u32 seq, u64 ts_us, u8 kind, payload, u32 crc32}, spec.md
// §4.H's record framing. len covers everything after itself, including
// the trailing CRC.
func encodeRecord(seq uint32, tsUs int64, kind Kind, payload []byte) []byte {
	body := make([]byte, 4+8+1+len(payload))
	binary.BigEndian.PutUint32(body[0:4], seq)
	binary.BigEndian.PutUint64(body[4:12], uint64(tsUs))
	body[12] = byte(kind)
	copy(body[13:], payload)

	crc := crc32.ChecksumIEEE(body)

	buf := make([]byte, 4+len(body)+4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)+4))
	copy(buf[4:], body)
	binary.BigEndian.PutUint32(buf[4+len(body):], crc)
	return buf
}

// decodeRecord parses a record previously written by encodeRecord, kindName
// resolving the numeric Kind back to its publisher-facing string via name.
func decodeRecord(buf []byte, name func(Kind) string) (Event, int, error) {
	if len(buf) < 4 {
		return Event{}, 0, fmt.Errorf("journal: truncated record header")
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	total := 4 + int(length)
	if len(buf) < total {
		return Event{}, 0, fmt.Errorf("journal: truncated record body")
	}

	body := buf[4 : 4+int(length)-4]
	wantCRC := binary.BigEndian.Uint32(buf[4+int(length)-4 : total])
	gotCRC := crc32.ChecksumIEEE(body)
	if wantCRC != gotCRC {
		return Event{}, 0, fmt.Errorf("journal: CRC mismatch, record corrupt")
	}

	if len(body) < 13 {
		return Event{}, 0, fmt.Errorf("journal: truncated record fields")
	}
	seq := binary.BigEndian.Uint32(body[0:4])
	tsUs := int64(binary.BigEndian.Uint64(body[4:12]))
	kind := Kind(body[12])
	payload := append([]byte(nil), body[13:]...)

	return Event{Seq: seq, TimestampUs: tsUs, Kind: name(kind), Payload: payload}, total, nil
}

// decodeAll parses every record in a concatenated buffer, for tests and
// in-memory replay verification.
func decodeAll(buf []byte, name func(Kind) string) ([]Event, error) {
	var out []Event
	for len(buf) > 0 {
		ev, n, err := decodeRecord(buf, name)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
		buf = buf[n:]
	}
	return out, nil
}
