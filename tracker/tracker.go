// Package tracker implements the lock-free superpage tracker of spec.md
// §4.2: two atomic bitmap arrays (mapping, sequence) indexed by superpage
// number, supporting lock-free reserve of a run of N superpages, release,
// trim, and backward sequence-start resolution. Grounded on the atomic
// refcount/freelist bitmap bookkeeping of biscuit's
// biscuit/src/mem/mem.go (Physmem_t), generalized from single-page
// refcounting to multi-page run reservation over a plain bitmap.
package tracker

import (
	"errors"
	"sync/atomic"

	"github.com/fgindraud/givy/bitops"
	"github.com/fgindraud/givy/stats"
)

const wordBits = bitops.W

// ErrOutOfSpace is returned by Acquire when no run of the requested
// length exists in the search range. Spec.md §4.2 treats this as fatal:
// the caller is expected to abort, not retry.
var ErrOutOfSpace = errors.New("tracker: no run of requested length in range")

// Range is a half-open interval of superpage indices [Start, End), per
// spec.md §9's commitment to half-open intervals throughout.
type Range struct {
	Start, End uint64
}

// Len returns the number of superpages the range spans.
func (r Range) Len() uint64 { return r.End - r.Start }

// Counters exposes the tracker's perf counters (spec.md "Size-class
// config"-adjacent observability; see stats package).
type Counters struct {
	AcquireAttempts stats.Counter_t
	AcquireRetries  stats.Counter_t
	AcquireSuccess  stats.Counter_t
	Releases        stats.Counter_t
}

// Tracker is two atomic bitmap arrays covering totalSuperpages bits each:
// mapping (bit=1 means reserved) and sequence (bit=1 means "continuation
// of a previously reserved run"). All operations use sequentially
// consistent ordering via sync/atomic, per spec.md §5.
type Tracker struct {
	mapping         []uint64
	sequence        []uint64
	totalSuperpages uint64
	Counters        Counters
}

// New returns a Tracker covering exactly totalSuperpages bits, backed by
// the given word slices (sized ceil(totalSuperpages/64) each, typically
// obtained from the bootstrap allocator at GasSpace construction).
func New(totalSuperpages uint64, mapping, sequence []uint64) *Tracker {
	words := (totalSuperpages + wordBits - 1) / wordBits
	if uint64(len(mapping)) != words || uint64(len(sequence)) != words {
		panic("tracker: bitmap slices sized incorrectly for totalSuperpages")
	}
	return &Tracker{mapping: mapping, sequence: sequence, totalSuperpages: totalSuperpages}
}

// TotalSuperpages reports the bitmap length in bits.
func (t *Tracker) TotalSuperpages() uint64 { return t.totalSuperpages }

// wordMask describes the bits of one word that belong to a reservation
// span.
type wordMask struct {
	idx  uint64
	mask uint64
}

// Acquire finds n consecutive zero bits in the mapping table within
// searchRange, atomically sets them, marks every bit but the first as a
// sequence continuation, and returns the first superpage index of the
// run. It implements the word-by-word scan + CAS algorithm of spec.md
// §4.2: single-word runs are reserved with one CAS; multi-word runs are
// verified then committed word-by-word, rolling back on contention and
// restarting the search from the failing word.
func (t *Tracker) Acquire(n uint64, searchRange Range) (uint64, error) {
	if n == 0 {
		panic("tracker: acquire n must be > 0")
	}
	end := searchRange.End
	if end > t.totalSuperpages {
		end = t.totalSuperpages
	}
	for i := searchRange.Start; i+n <= end; {
		t.Counters.AcquireAttempts.Inc()
		wordIdx := i / wordBits
		w := atomic.LoadUint64(&t.mapping[wordIdx])
		if w == ^uint64(0) {
			i = (wordIdx + 1) * wordBits
			continue
		}
		bitInWord := i % wordBits

		if bitInWord+n <= wordBits {
			// Candidate run fits inside a single word; the scan stops at the
			// word's end or the search range's end, whichever comes first.
			upto := uint(wordBits)
			if end < (wordIdx+1)*wordBits {
				upto = uint(end - wordIdx*wordBits)
			}
			lo := bitops.FindZeroRun(w, uint(n), uint(bitInWord), upto)
			if lo != wordBits {
				mask := bitops.Window(lo, lo+uint(n))
				if !atomic.CompareAndSwapUint64(&t.mapping[wordIdx], w, w|mask) {
					t.Counters.AcquireRetries.Inc()
					continue // reload and retry same word
				}
				base := wordIdx*wordBits + uint64(lo)
				t.markSequence(base+1, base+n)
				t.Counters.AcquireSuccess.Inc()
				return base, nil
			}

			// No run fits entirely inside this word. The word's own
			// trailing zero run (the zero bits abutting its top bit) can
			// still anchor a run that continues into the next word(s),
			// per spec.md §4.2 step 3: compute that run and try to span
			// it across words before giving up on the word entirely.
			tailStart := wordBits - bitops.LeadingZeros(w)
			candidate := wordIdx*wordBits + uint64(tailStart)
			if tailStart >= wordBits || candidate+n > end {
				i = (wordIdx + 1) * wordBits
				continue
			}
			base, status := t.tryMultiWordReserve(candidate, n)
			switch status {
			case reserveOK:
				t.markSequence(base+1, base+n)
				t.Counters.AcquireSuccess.Inc()
				return base, nil
			case reserveRaced:
				t.Counters.AcquireRetries.Inc()
				i = max(base, searchRange.Start) // transient CAS loss: restart from the failing word
			case reserveBlocked:
				i = candidate + 1 // genuinely unavailable: advance past it
			}
			continue
		}

		// Candidate run must start exactly at i and span into following
		// words; it can only start here if bit i itself is free.
		if w&(uint64(1)<<bitInWord) != 0 {
			i++
			continue
		}
		base, status := t.tryMultiWordReserve(i, n)
		switch status {
		case reserveOK:
			t.markSequence(base+1, base+n)
			t.Counters.AcquireSuccess.Inc()
			return base, nil
		case reserveRaced:
			t.Counters.AcquireRetries.Inc()
			// Transient CAS loss: restart from the failing word.
			i = max(base, searchRange.Start)
		case reserveBlocked:
			i++ // genuinely unavailable: advance past it
		}
	}
	return 0, ErrOutOfSpace
}

// reserveStatus distinguishes a genuinely unavailable span (some bit was
// already set on verification) from a transient CAS race, so the caller
// knows whether retrying the identical span could ever succeed.
type reserveStatus int

const (
	reserveOK reserveStatus = iota
	reserveBlocked
	reserveRaced
)

// tryMultiWordReserve attempts to reserve the span [i, i+n) which crosses
// at least one word boundary. It verifies every word's relevant bits are
// currently zero, then commits with a per-word CAS, rolling back any
// words it already flipped if a later CAS loses the race (spec.md §4.2
// step 3). On a lost race it returns the first superpage index of the
// word whose CAS failed.
func (t *Tracker) tryMultiWordReserve(i, n uint64) (uint64, reserveStatus) {
	end := i + n
	headIdx := i / wordBits
	lastIdx := (end - 1) / wordBits

	spans := make([]wordMask, 0, lastIdx-headIdx+1)
	for idx := headIdx; idx <= lastIdx; idx++ {
		var lo, hi uint
		switch {
		case idx == headIdx:
			lo, hi = uint(i%wordBits), wordBits
		case idx == lastIdx:
			lo, hi = 0, uint(end-idx*wordBits)
		default:
			lo, hi = 0, wordBits
		}
		spans = append(spans, wordMask{idx: idx, mask: bitops.Window(lo, hi)})
	}

	observed := make([]uint64, len(spans))
	for k, sp := range spans {
		w := atomic.LoadUint64(&t.mapping[sp.idx])
		if w&sp.mask != 0 {
			return 0, reserveBlocked
		}
		observed[k] = w
	}

	committed := 0
	for k, sp := range spans {
		if !atomic.CompareAndSwapUint64(&t.mapping[sp.idx], observed[k], observed[k]|sp.mask) {
			for j := 0; j < committed; j++ {
				atomic.StoreUint64(&t.mapping[spans[j].idx], observed[j])
			}
			return sp.idx * wordBits, reserveRaced
		}
		committed++
	}
	return i, reserveOK
}

// markSequence sets sequence bits [from, to) with plain OR (CAS-loop, but
// uncontended in practice: spec.md notes these bits are exclusively owned
// by the acquiring thread immediately after a successful mapping commit).
func (t *Tracker) markSequence(from, to uint64) {
	t.setRange(t.sequence, from, to)
}

func (t *Tracker) setRange(words []uint64, from, to uint64) {
	for from < to {
		wordIdx := from / wordBits
		bitFrom := from % wordBits
		wordEnd := (wordIdx + 1) * wordBits
		bitTo := uint(wordBits)
		if to < wordEnd {
			bitTo = uint(to - wordIdx*wordBits)
		}
		mask := bitops.Window(uint(bitFrom), bitTo)
		for {
			old := atomic.LoadUint64(&words[wordIdx])
			if old|mask == old {
				break
			}
			if atomic.CompareAndSwapUint64(&words[wordIdx], old, old|mask) {
				break
			}
		}
		from = wordIdx*wordBits + uint64(bitTo)
	}
}

func (t *Tracker) clearRange(words []uint64, from, to uint64) {
	for from < to {
		wordIdx := from / wordBits
		bitFrom := from % wordBits
		wordEnd := (wordIdx + 1) * wordBits
		bitTo := uint(wordBits)
		if to < wordEnd {
			bitTo = uint(to - wordIdx*wordBits)
		}
		mask := bitops.Window(uint(bitFrom), bitTo)
		for {
			old := atomic.LoadUint64(&words[wordIdx])
			next := old &^ mask
			if next == old {
				break
			}
			if atomic.CompareAndSwapUint64(&words[wordIdx], old, next) {
				break
			}
		}
		from = wordIdx*wordBits + uint64(bitTo)
	}
}

// Release clears the tracker's bits for rng: sequence bits over the
// continuation range first, then mapping bits over the whole range, so
// an observer that sees mapping=1 can still rely on sequence being
// consistent (spec.md §4.2 ordering requirement).
func (t *Tracker) Release(rng Range) {
	t.Counters.Releases.Inc()
	t.clearRange(t.sequence, rng.Start+1, rng.End)
	t.clearRange(t.mapping, rng.Start, rng.End)
}

// Trim shrinks rng to its first superpage: it clears sequence and mapping
// bits for the continuation range only, leaving rng.Start reserved. Used
// to shrink a multi-superpage huge SPB to one superpage after the huge
// allocation inside it is freed.
func (t *Tracker) Trim(rng Range) {
	t.clearRange(t.sequence, rng.Start+1, rng.End)
	t.clearRange(t.mapping, rng.Start+1, rng.End)
}

// SequenceStart walks the sequence table backward from index until it
// finds the first 0 bit, returning that superpage index: the base of the
// run index belongs to (spec.md I2). It does not consult the mapping
// table.
func (t *Tracker) SequenceStart(index uint64) uint64 {
	wordIdx := index / wordBits
	pos := uint(index % wordBits)
	for {
		w := atomic.LoadUint64(&t.sequence[wordIdx])
		p := bitops.FindPreviousZero(w, pos)
		if p != wordBits {
			return wordIdx*wordBits + uint64(p)
		}
		if wordIdx == 0 {
			return 0
		}
		wordIdx--
		pos = wordBits - 1
	}
}

// WordsFor returns the number of 64-bit words needed to cover
// totalSuperpages bits, for sizing the backing slices passed to New.
func WordsFor(totalSuperpages uint64) uint64 {
	return (totalSuperpages + wordBits - 1) / wordBits
}
