// Package diskformat implements the on-disk encoding used inside bucket
// objects: a 1-byte bit-packed VaultPrefix header, a length-delimited
// framing scheme, and LZ4 compression of the point payload.
package diskformat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pierrec/lz4/v4"

	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
)

var (
	ErrShortBuffer   = errors.New("diskformat: buffer too short")
	ErrSizeOverflow  = errors.New("diskformat: size exceeds 10-bit prefix range")
	ErrEmptyCompress = errors.New("diskformat: lz4 compressor produced no output")
)

// Compression indicates whether the payload following a prefix is stored
// raw or LZ4-compressed.
type Compression uint8

const (
	Normal     Compression = 0
	Compressed Compression = 1
)

// Quantity indicates whether a record holds one point or a concatenated run
// of them.
type Quantity uint8

const (
	Single   Quantity = 0
	Multiple Quantity = 1
)

// VaultPrefix is the 1-byte bit-packed header preceding every on-disk point
// record, plus the 2-bit size extension that (together with one following
// byte) lets a small prefix carry its own length inline.
//
//	bit 7:   extended (1 = variable-width payload stored in the extended object)
//	bits 6-4: version (0-7)
//	bit 3:   compression (0 Normal, 1 Compressed)
//	bit 2:   quantity (0 Single, 1 Multiple)
//	bits 1-0: high bits of a 10-bit inline Size
type VaultPrefix struct {
	Extended    bool
	Version     uint8 // 0-7
	Compression Compression
	Quantity    Quantity
	Size        uint16 // 0-1023, only meaningful for the 2-byte inline encoding
}

const maxInlineSize = 0x3FF // 10 bits

// Encode packs p into its canonical 2-byte form: the header byte followed
// by the low 8 bits of Size, with Size's top 2 bits folded into the header.
func (p VaultPrefix) Encode() ([]byte, error) {
	if p.Version > 7 {
		return nil, fmt.Errorf("diskformat: version %d out of range", p.Version)
	}
	if p.Size > maxInlineSize {
		return nil, ErrSizeOverflow
	}
	var b byte
	if p.Extended {
		b |= 1 << 7
	}
	b |= (p.Version & 0x7) << 4
	if p.Compression == Compressed {
		b |= 1 << 3
	}
	if p.Quantity == Multiple {
		b |= 1 << 2
	}
	b |= byte((p.Size >> 8) & 0x3)
	return []byte{b, byte(p.Size & 0xFF)}, nil
}

// Decode unpacks the canonical 2-byte form produced by Encode.
func Decode(b []byte) (VaultPrefix, error) {
	if len(b) < 2 {
		return VaultPrefix{}, ErrShortBuffer
	}
	var p VaultPrefix
	p.Extended = b[0]&(1<<7) != 0
	p.Version = (b[0] >> 4) & 0x7
	if b[0]&(1<<3) != 0 {
		p.Compression = Compressed
	}
	if b[0]&(1<<2) != 0 {
		p.Quantity = Multiple
	}
	p.Size = (uint16(b[0]&0x3) << 8) | uint16(b[1])
	return p, nil
}

// record on-disk layout: prefix byte, 4-byte little-endian payload length,
// then the (optionally LZ4-compressed) payload. This is the format used for
// real bucket object bodies, where payload sizes routinely exceed the
// 10-bit inline range the compact VaultPrefix.Encode form supports.
const recordHeaderSize = 1 + 4

// EncodeRecord compresses payload (if requested) and frames it behind a
// prefix byte and a 4-byte little-endian length.
func EncodeRecord(extended bool, version uint8, quantity Quantity, compress bool, payload []byte) ([]byte, error) {
	var p VaultPrefix
	p.Extended = extended
	p.Version = version
	p.Quantity = quantity

	body := payload
	if compress {
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("diskformat: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("diskformat: lz4 compress: %w", err)
		}
		if buf.Len() == 0 && len(payload) > 0 {
			return nil, ErrEmptyCompress
		}
		body = buf.Bytes()
		p.Compression = Compressed
	}

	out := make([]byte, recordHeaderSize+len(body))
	hdrByte, err := p.Encode()
	if err != nil {
		// p.Size is never set here (the real length lives in the 4-byte
		// field below), so Encode can only fail on an out-of-range version;
		// the retry with Size cleared then fails the same way and that error
		// is returned.
		p.Size = 0
		hdrByte, err = p.Encode()
		if err != nil {
			return nil, err
		}
	}
	out[0] = hdrByte[0]
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[recordHeaderSize:], body)
	return out, nil
}

// DecodeRecord reads one record from buf, returning the decompressed
// payload and the number of bytes consumed.
func DecodeRecord(buf []byte) (prefix VaultPrefix, payload []byte, consumed int, err error) {
	if len(buf) < recordHeaderSize {
		return VaultPrefix{}, nil, 0, ErrShortBuffer
	}
	prefix, err = Decode([]byte{buf[0], 0})
	if err != nil {
		return VaultPrefix{}, nil, 0, err
	}
	length := binary.LittleEndian.Uint32(buf[1:5])
	if uint64(len(buf)) < uint64(recordHeaderSize)+uint64(length) {
		return VaultPrefix{}, nil, 0, ErrShortBuffer
	}
	body := buf[recordHeaderSize : recordHeaderSize+int(length)]
	consumed = recordHeaderSize + int(length)

	if prefix.Compression == Compressed {
		r := lz4.NewReader(bytes.NewReader(body))
		var out bytes.Buffer
		if _, err = out.ReadFrom(r); err != nil {
			return VaultPrefix{}, nil, 0, fmt.Errorf("diskformat: lz4 decompress: %w", err)
		}
		payload = out.Bytes()
	} else {
		payload = append([]byte(nil), body...)
	}
	return prefix, payload, consumed, nil
}

// DecodeAllRecords walks every record in buf until it is exhausted. A
// Multiple-quantity record's payload is itself a concatenation of Single
// records and is recursed into.
func DecodeAllRecords(buf []byte) ([][]byte, error) {
	var out [][]byte
	for len(buf) > 0 {
		prefix, payload, n, err := DecodeRecord(buf)
		if err != nil {
			return nil, err
		}
		if prefix.Quantity == Multiple {
			sub, err := DecodeAllRecords(payload)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		} else {
			out = append(out, payload)
		}
		buf = buf[n:]
	}
	return out, nil
}

const pointRecordSize = 8 + 8 + 1 // address + timestamp + kind byte, value follows

// EncodePointBody encodes a single Point's address/timestamp/payload into
// the byte form stored inside a (possibly compressed) disk record.
func EncodePointBody(addr point.Address, p point.Point) []byte {
	buf := make([]byte, pointRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(addr))
	binary.LittleEndian.PutUint64(buf[8:16], p.Timestamp)
	buf[16] = byte(p.Payload.Kind)
	switch p.Payload.Kind {
	case point.KindNumeric:
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, uint64(p.Payload.Numeric))
		buf = append(buf, v...)
	case point.KindMeasurement:
		v := make([]byte, 8)
		binary.LittleEndian.PutUint64(v, math.Float64bits(p.Payload.Measurement))
		buf = append(buf, v...)
	case point.KindTextual:
		buf = append(buf, []byte(p.Payload.Textual)...)
	case point.KindBlob:
		buf = append(buf, p.Payload.Blob...)
	}
	return buf
}

// DecodePointBody is the inverse of EncodePointBody. Textual/Blob kinds
// consume the remainder of buf, so the caller must have already framed the
// body to its exact length (via EncodeRecord/DecodeRecord).
func DecodePointBody(origin point.Origin, buf []byte) (point.Point, point.Address, error) {
	if len(buf) < pointRecordSize {
		return point.Point{}, 0, ErrShortBuffer
	}
	addr := point.Address(binary.LittleEndian.Uint64(buf[0:8]))
	ts := binary.LittleEndian.Uint64(buf[8:16])
	kind := point.Kind(buf[16])
	rest := buf[17:]

	var payload point.Payload
	switch kind {
	case point.KindEmpty:
		payload = point.Empty()
	case point.KindNumeric:
		if len(rest) < 8 {
			return point.Point{}, 0, ErrShortBuffer
		}
		payload = point.Numeric(int64(binary.LittleEndian.Uint64(rest[:8])))
	case point.KindMeasurement:
		if len(rest) < 8 {
			return point.Point{}, 0, ErrShortBuffer
		}
		payload = point.Measurement(math.Float64frombits(binary.LittleEndian.Uint64(rest[:8])))
	case point.KindTextual:
		payload = point.Textual(string(rest))
	case point.KindBlob:
		payload = point.BlobPayload(append([]byte(nil), rest...))
	default:
		return point.Point{}, 0, fmt.Errorf("diskformat: %w: %d", point.ErrUnknownKind, kind)
	}

	return point.Point{
		Origin:    origin,
		Timestamp: ts,
		Payload:   payload,
	}, addr, nil
}
