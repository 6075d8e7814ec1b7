// Package beat provides musical time primitives and the clocks that map
// beats onto audio samples.
package beat

import "fmt"

// Precision is the number of units a single musical beat is divided into.
const Precision = 128

// Beat is a position in musical time measured in units of 1/Precision beat.
type Beat uint32

// Range is a half-open [From, To) interval of beats.
type Range struct {
	From Beat
	To   Beat
}

// Size returns the number of beat units in the range.
func (r Range) Size() Beat {
	if r.To <= r.From {
		return 0
	}
	return r.To - r.From
}

// Empty reports whether the range contains no beats.
func (r Range) Empty() bool {
	return r.To <= r.From
}

// Contains reports whether b belongs to the range.
func (r Range) Contains(b Beat) bool {
	return b >= r.From && b < r.To
}

// Overlaps reports whether two ranges share at least one beat.
func (r Range) Overlaps(o Range) bool {
	return r.From < o.To && o.From < r.To
}

// Shift moves the range by delta beats.
func (r Range) Shift(delta Beat) Range {
	return Range{From: r.From + delta, To: r.To + delta}
}

// Pack encodes the range into a single word so it can be stored atomically.
func (r Range) Pack() uint64 {
	return uint64(r.From)<<32 | uint64(r.To)
}

// Unpack decodes a range packed with Pack.
func Unpack(v uint64) Range {
	return Range{From: Beat(v >> 32), To: Beat(v)}
}

func (r Range) String() string {
	return fmt.Sprintf("(%d:%d)", r.From, r.To)
}
