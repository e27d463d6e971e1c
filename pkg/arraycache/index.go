package arraycache

import (
	"fmt"

	"github.com/p4swarm/recordcache/pkg/codec"
)

// IndexSuffix is appended to a data file path to name its index.
const IndexSuffix = ".index"

// IndexPath returns the index file path for the data file at dataPath.
func IndexPath(dataPath string) string { return dataPath + IndexSuffix }

// Entry locates one encoded element inside a data file.
type Entry struct {
	Offset int64
	Length int64
}

// index is the in-memory form of an index file: keys in write order plus a
// lookup table.
type index struct {
	keys  []string
	spans map[string]Entry
}

func newIndex() *index {
	return &index{spans: make(map[string]Entry)}
}

func (ix *index) add(key string, e Entry) {
	ix.keys = append(ix.keys, key)
	ix.spans[key] = e
}

// encode returns the index as one codec value: key -> [offset, length].
func (ix *index) encode() ([]byte, error) {
	m := codec.Map{Entries: make([]codec.Entry, len(ix.keys))}

	for i, k := range ix.keys {
		e := ix.spans[k]
		m.Entries[i] = codec.Entry{Key: k, Value: []any{e.Offset, e.Length}}
	}

	return codec.Encode(m)
}

// decodeIndex parses an index file and checks every span against the data
// file size. Spans must appear in file order without overlapping.
func decodeIndex(data []byte, dataSize int64) (*index, error) {
	v, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: index: %w", ErrCorrupt, err)
	}

	m, ok := v.(codec.Map)
	if !ok {
		return nil, fmt.Errorf("%w: index: top-level value is %T, want map", ErrCorrupt, v)
	}

	ix := &index{
		keys:  make([]string, 0, m.Len()),
		spans: make(map[string]Entry, m.Len()),
	}

	var end int64

	for _, kv := range m.Entries {
		pair, ok := kv.Value.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: index: key %q: want [offset, length]", ErrCorrupt, kv.Key)
		}

		off, okOff := pair[0].(int64)
		n, okLen := pair[1].(int64)

		if !okOff || !okLen || off < 0 || n <= 0 {
			return nil, fmt.Errorf("%w: index: key %q: bad span %v", ErrCorrupt, kv.Key, pair)
		}

		if off < end || off > dataSize-n {
			return nil, fmt.Errorf("%w: index: key %q: span [%d, %d) outside data (size %d, previous end %d)",
				ErrCorrupt, kv.Key, off, off+n, dataSize, end)
		}

		end = off + n

		ix.add(kv.Key, Entry{Offset: off, Length: n})
	}

	return ix, nil
}
