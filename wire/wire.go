// Package wire implements the request/response codec spoken over the
// router sockets: DataFrame, DataBurst, SourceTag and Request, using
// Protocol-Buffers-v2-compatible tagged-field encoding built directly on
// protowire rather than a generated .pb.go.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
)

// Field numbers. These are part of the wire contract and must never be
// reused for a different meaning once assigned.
const (
	fieldSourceTagField = 1
	fieldSourceTagValue = 2

	fieldFrameSource         = 1
	fieldFrameTimestamp      = 2
	fieldFramePayloadKind    = 3
	fieldFrameValueNumeric   = 4
	fieldFrameValueMeasure   = 5
	fieldFrameValueTextual   = 6
	fieldFrameValueBlob      = 7

	fieldBurstFrame = 1

	fieldRequestOrigin       = 1
	fieldRequestFingerprint  = 2
	fieldRequestTAlpha       = 3
	fieldRequestTOmega       = 4

	fieldRequestStreamEntry = 1
)

// payloadKind mirrors point.Kind on the wire; it is a distinct type because
// the wire enumeration's numeric values are a contract with clients and must
// not drift if point.Kind's internal ordering ever changes.
type payloadKind int32

const (
	pkEmpty payloadKind = iota
	pkNumber
	pkReal
	pkText
	pkBinary
)

func kindToWire(k point.Kind) payloadKind {
	switch k {
	case point.KindNumeric:
		return pkNumber
	case point.KindMeasurement:
		return pkReal
	case point.KindTextual:
		return pkText
	case point.KindBlob:
		return pkBinary
	default:
		return pkEmpty
	}
}

func appendSourceTag(b []byte, field, value string) []byte {
	var tag []byte
	tag = protowire.AppendTag(tag, fieldSourceTagField, protowire.BytesType)
	tag = protowire.AppendString(tag, field)
	tag = protowire.AppendTag(tag, fieldSourceTagValue, protowire.BytesType)
	tag = protowire.AppendString(tag, value)
	b = protowire.AppendTag(b, fieldFrameSource, protowire.BytesType)
	b = protowire.AppendBytes(b, tag)
	return b
}

func appendFrame(b []byte, p point.Point) []byte {
	for field, value := range p.Source {
		b = appendSourceTag(b, field, value)
	}
	b = protowire.AppendTag(b, fieldFrameTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Timestamp)

	b = protowire.AppendTag(b, fieldFramePayloadKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(kindToWire(p.Payload.Kind)))

	switch p.Payload.Kind {
	case point.KindNumeric:
		b = protowire.AppendTag(b, fieldFrameValueNumeric, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Payload.Numeric))
	case point.KindMeasurement:
		b = protowire.AppendTag(b, fieldFrameValueMeasure, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(p.Payload.Measurement))
	case point.KindTextual:
		b = protowire.AppendTag(b, fieldFrameValueTextual, protowire.BytesType)
		b = protowire.AppendString(b, p.Payload.Textual)
	case point.KindBlob:
		b = protowire.AppendTag(b, fieldFrameValueBlob, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Payload.Blob)
	}
	return b
}

// EncodePoints produces a DataBurst whose frames preserve input order.
func EncodePoints(points []point.Point) []byte {
	var out []byte
	for _, p := range points {
		var frame []byte
		frame = appendFrame(frame, p)
		out = protowire.AppendTag(out, fieldBurstFrame, protowire.BytesType)
		out = protowire.AppendBytes(out, frame)
	}
	return out
}

func decodeSourceTag(b []byte) (field, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("wire: malformed source tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldSourceTagField:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", fmt.Errorf("wire: malformed source tag field: %w", protowire.ParseError(n))
			}
			field = v
			b = b[n:]
		case fieldSourceTagValue:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", fmt.Errorf("wire: malformed source tag value: %w", protowire.ParseError(n))
			}
			value = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", fmt.Errorf("wire: skip unknown source tag field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return field, value, nil
}

func decodeFrame(b []byte) (point.Point, error) {
	var p point.Point
	p.Source = point.SourceDict{}
	var kind payloadKind
	haveKind := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return point.Point{}, fmt.Errorf("wire: malformed frame tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldFrameSource:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: malformed source field: %w", protowire.ParseError(n))
			}
			field, value, err := decodeSourceTag(raw)
			if err != nil {
				return point.Point{}, err
			}
			p.Source[field] = value
			b = b[n:]
		case fieldFrameTimestamp:
			ts, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: malformed timestamp: %w", protowire.ParseError(n))
			}
			p.Timestamp = ts
			b = b[n:]
		case fieldFramePayloadKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: malformed payload kind: %w", protowire.ParseError(n))
			}
			kind = payloadKind(v)
			haveKind = true
			b = b[n:]
		case fieldFrameValueNumeric:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: malformed numeric value: %w", protowire.ParseError(n))
			}
			p.Payload = point.Numeric(int64(v))
			b = b[n:]
		case fieldFrameValueMeasure:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: malformed measurement value: %w", protowire.ParseError(n))
			}
			p.Payload = point.Measurement(math.Float64frombits(v))
			b = b[n:]
		case fieldFrameValueTextual:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: malformed textual value: %w", protowire.ParseError(n))
			}
			p.Payload = point.Textual(v)
			b = b[n:]
		case fieldFrameValueBlob:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: malformed blob value: %w", protowire.ParseError(n))
			}
			p.Payload = point.BlobPayload(append([]byte(nil), v...))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return point.Point{}, fmt.Errorf("wire: skip unknown frame field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if haveKind && kind == pkEmpty {
		p.Payload = point.Empty()
	}
	return p, nil
}

// DecodeBurst parses a DataBurst back into an ordered slice of Points.
func DecodeBurst(b []byte) ([]point.Point, error) {
	var out []point.Point
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed burst tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldBurstFrame || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("wire: skip unknown burst field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed burst frame: %w", protowire.ParseError(n))
		}
		p, err := decodeFrame(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		b = b[n:]
	}
	return out, nil
}

// Request is a single client query: return the points with
// t_alpha <= timestamp <= t_omega from the buckets that origin/fingerprint
// maps to. The reader filters those points by time only, not by address.
type Request struct {
	Origin            point.Origin
	SourceFingerprint point.Address
	TAlpha            uint64
	TOmega            uint64
}

func appendRequest(b []byte, r Request) []byte {
	b = protowire.AppendTag(b, fieldRequestOrigin, protowire.BytesType)
	b = protowire.AppendString(b, string(r.Origin))
	b = protowire.AppendTag(b, fieldRequestFingerprint, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.SourceFingerprint))
	b = protowire.AppendTag(b, fieldRequestTAlpha, protowire.VarintType)
	b = protowire.AppendVarint(b, r.TAlpha)
	b = protowire.AppendTag(b, fieldRequestTOmega, protowire.VarintType)
	b = protowire.AppendVarint(b, r.TOmega)
	return b
}

// EncodeRequests serializes a batch of Requests as a single concatenated
// client message, the inverse of DecodeRequestMulti.
func EncodeRequests(reqs []Request) []byte {
	var out []byte
	for _, r := range reqs {
		var body []byte
		body = appendRequest(body, r)
		out = protowire.AppendTag(out, fieldRequestStreamEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, body)
	}
	return out
}

func decodeRequest(b []byte) (Request, error) {
	var r Request
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Request{}, fmt.Errorf("wire: malformed request tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRequestOrigin:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Request{}, fmt.Errorf("wire: malformed request origin: %w", protowire.ParseError(n))
			}
			r.Origin = point.Origin(v)
			b = b[n:]
		case fieldRequestFingerprint:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Request{}, fmt.Errorf("wire: malformed request fingerprint: %w", protowire.ParseError(n))
			}
			r.SourceFingerprint = point.Address(v)
			b = b[n:]
		case fieldRequestTAlpha:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Request{}, fmt.Errorf("wire: malformed request t_alpha: %w", protowire.ParseError(n))
			}
			r.TAlpha = v
			b = b[n:]
		case fieldRequestTOmega:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Request{}, fmt.Errorf("wire: malformed request t_omega: %w", protowire.ParseError(n))
			}
			r.TOmega = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Request{}, fmt.Errorf("wire: skip unknown request field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

// fieldSourceEntry frames one SourceDict within a SourceResponseBurst; it
// reuses the same {field, value} SourceTag encoding as a DataFrame's source
// list.
const fieldSourceEntry = 1

// EncodeSourceList produces a SourceResponseBurst: a sequence of SourceDicts
// enumerated from a contents query, in the order given.
func EncodeSourceList(dicts []point.SourceDict) []byte {
	var out []byte
	for _, d := range dicts {
		var entry []byte
		for field, value := range d {
			entry = appendSourceTag(entry, field, value)
		}
		out = protowire.AppendTag(out, fieldSourceEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

// DecodeSourceList is the inverse of EncodeSourceList.
func DecodeSourceList(b []byte) ([]point.SourceDict, error) {
	var out []point.SourceDict
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed source list tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldSourceEntry || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("wire: skip unknown source list field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed source list entry: %w", protowire.ParseError(n))
		}
		dict := point.SourceDict{}
		body := raw
		for len(body) > 0 {
			enum, etyp, en := protowire.ConsumeTag(body)
			if en < 0 {
				return nil, fmt.Errorf("wire: malformed source list entry tag: %w", protowire.ParseError(en))
			}
			body = body[en:]
			if enum != fieldFrameSource || etyp != protowire.BytesType {
				en := protowire.ConsumeFieldValue(enum, etyp, body)
				if en < 0 {
					return nil, fmt.Errorf("wire: skip unknown source list tag field: %w", protowire.ParseError(en))
				}
				body = body[en:]
				continue
			}
			tagBytes, en := protowire.ConsumeBytes(body)
			if en < 0 {
				return nil, fmt.Errorf("wire: malformed source list tag bytes: %w", protowire.ParseError(en))
			}
			field, value, err := decodeSourceTag(tagBytes)
			if err != nil {
				return nil, err
			}
			dict[field] = value
			body = body[en:]
		}
		out = append(out, dict)
		b = b[n:]
	}
	return out, nil
}

// DecodeRequestMulti parses zero or more Requests from a single client
// message. Malformed bytes fail the whole batch with a descriptive error.
func DecodeRequestMulti(origin point.Origin, b []byte) ([]Request, error) {
	var out []Request
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed request stream tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldRequestStreamEntry || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("wire: skip unknown request stream field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: malformed request entry: %w", protowire.ParseError(n))
		}
		r, err := decodeRequest(raw)
		if err != nil {
			return nil, err
		}
		if r.Origin == "" {
			r.Origin = origin
		}
		out = append(out, r)
		b = b[n:]
	}
	return out, nil
}
