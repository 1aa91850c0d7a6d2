// Package bucket computes the object-store addressing scheme that maps an
// (origin, source-fingerprint, timestamp) triple onto a bucket object: time
// marks, bucket object ids, and day-file ids.
package bucket

import (
	"fmt"
	"sort"

	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
)

// Kind distinguishes the fixed-width "simple" bucket stream from the
// variable-width "extended" one.
type Kind string

const (
	Simple   Kind = "simple"
	Extended Kind = "extended"
)

// Epoch is one entry of a per-origin DayMap: every point with timestamp >=
// Start (and < the next entry's Start, or unbounded if it is the last entry)
// belongs to this epoch, and its Address is reduced modulo BucketCount to
// pick a bucket index.
type Epoch struct {
	Start       uint64
	BucketCount uint64
}

// DayMap is the ordered sequence of epochs for one origin, sorted ascending
// by Start.
type DayMap []Epoch

// EpochFor returns the epoch governing timestamp t: the entry with the
// greatest Start <= t. ok is false if the map is empty or t precedes every
// entry.
func (dm DayMap) EpochFor(t uint64) (e Epoch, ok bool) {
	// dm is small (tens of entries); sort.Search over an explicit index
	// keeps this readable without requiring sort.Interface boilerplate.
	idx := sort.Search(len(dm), func(i int) bool { return dm[i].Start > t })
	if idx == 0 {
		return Epoch{}, false
	}
	return dm[idx-1], true
}

// TimeMark is one epoch boundary intersecting a query's [t_alpha, t_omega]
// range, carrying the epoch the caller needs to fetch buckets for.
type TimeMark struct {
	Epoch
}

// CalculateTimeMarks returns every epoch in dm intersecting [tAlpha, tOmega],
// in ascending Start order. An epoch whose Start equals tOmega is included;
// an epoch containing tAlpha is included even if its Start is below tAlpha.
func CalculateTimeMarks(dm DayMap, tAlpha, tOmega uint64) []TimeMark {
	if len(dm) == 0 || tAlpha > tOmega {
		return nil
	}
	var marks []TimeMark
	for i, e := range dm {
		var upper uint64
		hasUpper := i+1 < len(dm)
		if hasUpper {
			upper = dm[i+1].Start
		}
		// epoch i covers [e.Start, upper) or [e.Start, +inf) for the last entry.
		if hasUpper && upper <= tAlpha {
			continue
		}
		if e.Start > tOmega {
			break
		}
		marks = append(marks, TimeMark{e})
	}
	return marks
}

// BucketIndex reduces an Address modulo the epoch's bucket count.
func BucketIndex(addr point.Address, e Epoch) uint64 {
	if e.BucketCount == 0 {
		return 0
	}
	return uint64(addr) % e.BucketCount
}

// OID formats the object key for a bucket object:
// 02_<origin>_<bucket:20-digit>_<epoch:20-digit>_<kind>
func OID(origin point.Origin, epochStart uint64, bucketIndex uint64, kind Kind) string {
	return fmt.Sprintf("02_%s_%020d_%020d_%s", origin, bucketIndex, epochStart, kind)
}

// SimpleDayOID formats the simple day-map object key for an origin.
func SimpleDayOID(origin point.Origin) string {
	return fmt.Sprintf("02_%s_simple_days", origin)
}

// ExtendedDayOID formats the extended day-map object key for an origin.
func ExtendedDayOID(origin point.Origin) string {
	return fmt.Sprintf("02_%s_extended_days", origin)
}

// ContentsOID formats the contents-directory object key for an origin.
func ContentsOID(origin point.Origin) string {
	return fmt.Sprintf("02_%s_contents", origin)
}

// KindFor picks the simple or extended bucket stream for a payload.
func KindFor(p point.Payload) Kind {
	if p.Extended() {
		return Extended
	}
	return Simple
}
