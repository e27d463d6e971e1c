package arraycache

import "fmt"

// Iterator walks a bucket in write order, decoding one element per step.
//
//	it := r.Iter()
//	for it.Next() {
//	    use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil {
//	    ...
//	}
//
// Each Iterator owns its position. Calls to [Reader.Get] or other iterators
// on the same Reader do not move it.
type Iterator struct {
	r     *Reader
	pos   int
	key   string
	value any
	err   error
}

// Iter returns an Iterator positioned before the first element.
func (r *Reader) Iter() *Iterator {
	return &Iterator{r: r}
}

// Next advances to the next element and reports whether there is one.
// It returns false at the end or on the first error; see [Iterator.Err].
func (it *Iterator) Next() bool {
	it.key, it.value = "", nil

	if it.err != nil {
		return false
	}

	if it.r.closed {
		it.err = fmt.Errorf("iterate: %w: reader closed", ErrIllegalState)

		return false
	}

	if it.pos >= len(it.r.ix.keys) {
		return false
	}

	key := it.r.ix.keys[it.pos]
	it.pos++

	v, err := it.r.readElement(key, it.r.ix.spans[key])
	if err != nil {
		it.err = err

		return false
	}

	it.key, it.value = key, v

	return true
}

// Key returns the current element's key.
func (it *Iterator) Key() string { return it.key }

// Value returns the current element's decoded value.
func (it *Iterator) Value() any { return it.value }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Reset rewinds to before the first element and clears any error.
func (it *Iterator) Reset() {
	*it = Iterator{r: it.r}
}
