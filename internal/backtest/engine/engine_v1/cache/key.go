package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Key identifies one cached bar-table payload by what was fetched, not where
// it came from: the dataset kind, the instrument set and the date range.
type Key struct {
	DatasetKind string
	Instruments []string
	Start       time.Time
	End         time.Time
}

// NewKey builds a key with a canonicalized (sorted, deduplicated) instrument
// set so equivalent requests hash identically.
func NewKey(datasetKind string, instruments []string, start, end time.Time) Key {
	seen := make(map[string]struct{}, len(instruments))
	canonical := make([]string, 0, len(instruments))

	for _, id := range instruments {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		canonical = append(canonical, id)
	}

	sort.Strings(canonical)

	return Key{
		DatasetKind: datasetKind,
		Instruments: canonical,
		Start:       start,
		End:         end,
	}
}

// Hash returns the stable hex digest used as the payload file name and index
// key.
func (k Key) Hash() string {
	payload := fmt.Sprintf("%s|%s|%d|%d",
		k.DatasetKind,
		strings.Join(k.Instruments, ","),
		k.Start.UTC().Unix(),
		k.End.UTC().Unix(),
	)

	sum := sha1.Sum([]byte(payload))

	return hex.EncodeToString(sum[:])
}
