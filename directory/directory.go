// Package directory maintains the single in-process Directory: the
// per-origin list of SourceDicts that the contents worker serves. It holds
// only the source dicts themselves; no bucket-membership metadata is kept
// per source. There is exactly one Directory map in the daemon,
// and all access to it is serialized through a single mutex, since contents
// queries are infrequent and must not race the refresh that merges newly
// observed sources in from the store.
package directory

import (
	"fmt"
	"sync"

	"github.com/WhereSoftwareGoesToDie/vaultaire/bucket"
	"github.com/WhereSoftwareGoesToDie/vaultaire/point"
)

// Store is the subset of the object store the directory needs.
type Store interface {
	ReadFull(oid string) ([]byte, error)
}

// Decoder turns a raw contents object body into the SourceDicts it lists.
// Satisfied by wire.DecodeSourceList; passed in to avoid an import cycle
// between directory and wire.
type Decoder func([]byte) ([]point.SourceDict, error)

// BenhurOrigin is the literal origin name that triggers demo-data synthesis
// instead of a real store read, per the daemon's demo hook.
const BenhurOrigin point.Origin = "BENHUR"

// benhurSources is the fixed one-entry demo source list.
var benhurSources = []point.SourceDict{{"wave": "sine"}}

// Directory is the process-wide source-dict cache, one entry set per
// origin.
type Directory struct {
	mu      sync.Mutex
	byOrig  map[point.Origin][]point.SourceDict
	store   Store
	decode  Decoder
	demoOn  bool
}

// New constructs an empty Directory. demoEnabled gates whether BenhurOrigin
// synthesizes demo sources instead of reading the store; it must only be
// true when the daemon was started with the explicit demo-origin flag.
func New(s Store, decode Decoder, demoEnabled bool) *Directory {
	return &Directory{
		byOrig: make(map[point.Origin][]point.SourceDict),
		store:  s,
		decode: decode,
		demoOn: demoEnabled,
	}
}

// Refresh acquires the directory's exclusive lock, then either synthesizes
// the BENHUR demo sources or reads and merges origin's contents object, and
// returns the resulting source list.
func (d *Directory) Refresh(origin point.Origin) ([]point.SourceDict, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if origin == BenhurOrigin && d.demoOn {
		d.byOrig[origin] = benhurSources
		return benhurSources, nil
	}

	body, err := d.store.ReadFull(bucket.ContentsOID(origin))
	if err != nil {
		return nil, fmt.Errorf("directory: read contents for %s: %w", origin, err)
	}
	if len(body) == 0 {
		return d.byOrig[origin], nil
	}

	sources, err := d.decode(body)
	if err != nil {
		return nil, fmt.Errorf("directory: decode contents for %s: %w", origin, err)
	}
	d.byOrig[origin] = mergeSources(d.byOrig[origin], sources)
	return d.byOrig[origin], nil
}

// mergeSources unions two source lists, deduplicating by Address.
func mergeSources(existing, fresh []point.SourceDict) []point.SourceDict {
	seen := make(map[point.Address]struct{}, len(existing)+len(fresh))
	out := make([]point.SourceDict, 0, len(existing)+len(fresh))
	for _, s := range existing {
		if _, ok := seen[s.Addr()]; ok {
			continue
		}
		seen[s.Addr()] = struct{}{}
		out = append(out, s)
	}
	for _, s := range fresh {
		if _, ok := seen[s.Addr()]; ok {
			continue
		}
		seen[s.Addr()] = struct{}{}
		out = append(out, s)
	}
	return out
}
