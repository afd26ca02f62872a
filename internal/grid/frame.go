package grid

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/minio/highwayhash"
	"github.com/tinylib/msgp/msgp"
)

// Frame is the grid wire message, spec.md §3/§6: (mux_id, seq, handler, op,
// flags, payload).
type Frame struct {
	MuxID   uint32
	Seq     uint32
	Handler HandlerID
	Op      Op
	Flags   Flags
	Payload []byte
}

// crcKey is a fixed key compiled into the binary, used to compute the CRC
// flag's checksum. Both endpoints of a session derive the same checksum from
// it -- the CRC guards against wire corruption between two live endpoints of
// this same binary, not cross-version compatibility.
var crcKey = []byte("maxio-grid-frame-crc-key-32-bytes")[:32]

// Marshal encodes a Frame as a MessagePack array, in the same field order
// MuxID/Seq/Handler/Op/Flags/Payload. When FlagCRC is set, an 8-byte
// HighwayHash-128 (truncated) of Payload is appended after the encoded
// fields -- the concrete mechanism behind the CRC flag bit spec.md §3/§6
// name but leave unspecified (SPEC_FULL.md §4.6 expansion).
func (f Frame) Marshal() ([]byte, error) {
	var b []byte
	b = msgp.AppendArrayHeader(b, 6)
	b = msgp.AppendUint32(b, f.MuxID)
	b = msgp.AppendUint32(b, f.Seq)
	b = msgp.AppendUint8(b, uint8(f.Handler))
	b = msgp.AppendUint8(b, uint8(f.Op))
	b = msgp.AppendUint8(b, uint8(f.Flags))
	b = msgp.AppendBytes(b, f.Payload)

	if f.Flags.Has(FlagCRC) {
		sum, err := highwayhash.New128(crcKey)
		if err != nil {
			return nil, err
		}
		sum.Write(f.Payload)
		digest := sum.Sum(nil)
		b = append(b, digest[:8]...)
	}
	return b, nil
}

// Unmarshal decodes a Frame produced by Marshal, verifying the CRC suffix
// when FlagCRC is set.
func Unmarshal(b []byte) (Frame, error) {
	var f Frame
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return f, err
	}
	if sz != 6 {
		return f, fmt.Errorf("grid: expected 6-element frame array, got %d", sz)
	}
	var v uint32
	if v, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return f, err
	}
	f.MuxID = v
	if v, b, err = msgp.ReadUint32Bytes(b); err != nil {
		return f, err
	}
	f.Seq = v
	var u8 uint8
	if u8, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return f, err
	}
	f.Handler = HandlerID(u8)
	if u8, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return f, err
	}
	f.Op = Op(u8)
	if u8, b, err = msgp.ReadUint8Bytes(b); err != nil {
		return f, err
	}
	f.Flags = Flags(u8)
	var payload []byte
	if payload, b, err = msgp.ReadBytesBytes(b, nil); err != nil {
		return f, err
	}
	f.Payload = payload

	if f.Flags.Has(FlagCRC) {
		if len(b) < 8 {
			return f, fmt.Errorf("grid: truncated CRC suffix")
		}
		sum, err := highwayhash.New128(crcKey)
		if err != nil {
			return f, err
		}
		sum.Write(f.Payload)
		digest := sum.Sum(nil)
		if !bytesEqual(digest[:8], b[:8]) {
			return f, fmt.Errorf("grid: CRC mismatch on frame mux=%d seq=%d", f.MuxID, f.Seq)
		}
	}
	return f, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EncodeSubroutePayload implements the bit-exact framing spec.md §4.6/§6 define:
// [u16 be route_len][route_bytes][body_bytes].
func EncodeSubroutePayload(route string, body []byte) []byte {
	out := make([]byte, 2+len(route)+len(body))
	binary.BigEndian.PutUint16(out[:2], uint16(len(route)))
	copy(out[2:2+len(route)], route)
	copy(out[2+len(route):], body)
	return out
}

// DecodeSubroutePayload reverses EncodeSubroutePayload. Invalid lengths or
// non-UTF-8 route bytes are InvalidSubroutePayload/Utf8 failures per
// spec.md §4.6.
func DecodeSubroutePayload(payload []byte) (route string, body []byte, err error) {
	if len(payload) < 2 {
		return "", nil, fmt.Errorf("grid: InvalidSubroutePayload: too short")
	}
	n := binary.BigEndian.Uint16(payload[:2])
	if int(n)+2 > len(payload) {
		return "", nil, fmt.Errorf("grid: InvalidSubroutePayload: route length %d exceeds payload", n)
	}
	routeBytes := payload[2 : 2+int(n)]
	if !utf8.Valid(routeBytes) {
		return "", nil, fmt.Errorf("grid: Utf8: invalid route bytes")
	}
	return string(routeBytes), payload[2+int(n):], nil
}
