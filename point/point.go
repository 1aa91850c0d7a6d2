// Package point defines the in-memory representation of a single metric
// sample moving through the reader daemon: its origin, its source tags, its
// timestamp, and its tagged-union payload.
package point

import (
	"errors"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrEmptySourceDict = errors.New("point: source dict has no tags")
	ErrUnknownKind     = errors.New("point: unknown payload kind")
)

// Origin identifies a tenant/source namespace. It prefixes every object key
// the daemon computes against the store.
type Origin string

// SourceDict is the tag set identifying one metric series. Key order must
// never affect Address -- see Address.
type SourceDict map[string]string

// Address is the 64-bit fingerprint of a SourceDict, stable across any
// ordering of its keys.
type Address uint64

// Addr computes the Address of a SourceDict by hashing its keys in
// lexicographic order, independent of the map's iteration order.
func (sd SourceDict) Addr() Address {
	if len(sd) == 0 {
		return 0
	}
	keys := make([]string, 0, len(sd))
	for k := range sd {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(sd[k])
		b.WriteByte('\n')
	}
	return Address(xxhash.Sum64String(b.String()))
}

// Kind enumerates the payload variants a Point may carry.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindNumeric
	KindMeasurement
	KindTextual
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNumeric:
		return "numeric"
	case KindMeasurement:
		return "measurement"
	case KindTextual:
		return "textual"
	case KindBlob:
		return "blob"
	}
	return "unknown"
}

// Payload is a closed tagged union: Empty | Numeric(i64) | Measurement(f64) |
// Textual(string) | Blob([]byte).
type Payload struct {
	Kind        Kind
	Numeric     int64
	Measurement float64
	Textual     string
	Blob        []byte
}

func Empty() Payload                        { return Payload{Kind: KindEmpty} }
func Numeric(v int64) Payload                { return Payload{Kind: KindNumeric, Numeric: v} }
func Measurement(v float64) Payload          { return Payload{Kind: KindMeasurement, Measurement: v} }
func Textual(v string) Payload               { return Payload{Kind: KindTextual, Textual: v} }
func BlobPayload(v []byte) Payload           { return Payload{Kind: KindBlob, Blob: v} }

// Extended reports whether this payload kind is variable-width and therefore
// must be routed to the extended day-map/bucket rather than the simple one.
func (p Payload) Extended() bool {
	return p.Kind == KindTextual || p.Kind == KindBlob
}

// Point is a single metric sample: an origin, a source tag set, a
// nanosecond timestamp, and a payload.
type Point struct {
	Origin    Origin
	Source    SourceDict
	Timestamp uint64 // nanoseconds since epoch
	Payload   Payload
}

// Addr is a convenience accessor for Source.Addr().
func (p Point) Addr() Address {
	return p.Source.Addr()
}
