// Package arraycache stores a wholesale-rebuilt key/value snapshot as a pair
// of files and serves point lookups without loading the data.
//
// A bucket B in directory D is two files:
//
//	D/B        encoded elements, back to back
//	D/B.index  one encoded map: key -> [offset, length]
//
// The index is loaded whole on open; each lookup reads only its element's
// byte range. The index is published last, atomically, while the writer still
// holds its lock, so a reader either finds a complete bucket or none.
//
// # Basic Usage
//
//	m, err := arraycache.NewManager("/var/cache/swarm")
//	...
//	r, err := m.GetOrBuild(ctx, "groups", func(ctx context.Context, w arraycache.ElementWriter) error {
//	    for g := range allGroups(ctx) {
//	        if err := w.WriteElement(g.Name, g.Record()); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	v, found, err := r.Get("eng")
//
// # Concurrency
//
// Coordination is between processes, through flock on the data file:
//   - any number of [Reader]s hold a shared lock; opening waits for a writer
//   - one [Writer] holds an exclusive lock, taken without waiting
//   - a process that loses the race to rebuild does not build; it waits for
//     the winner and reads its result
//
// [Reader] and [Writer] values are not safe for concurrent use. [Manager] is.
//
// # Error Handling
//
// [KindOf] maps any returned error to a [Kind]. [Manager.GetOrBuild] treats
// every kind except [KindIllegalState] and [KindInvalidBucket] as "rebuild".
package arraycache
