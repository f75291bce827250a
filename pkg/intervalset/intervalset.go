// Package intervalset implements sets of host identifiers stored as sorted, disjoint, closed intervals.
//
// The canonical textual form of a Set is an ascending comma-separated list of single ids or closed
// ranges, e.g. "0-3,5,8-9". Overlapping or adjacent intervals are always merged, so two equal sets
// have the same textual form.
package intervalset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Interval is the closed interval [Lo, Hi].
type Interval struct {
	Lo uint32
	Hi uint32
}

func (i Interval) size() uint32 {
	return i.Hi - i.Lo + 1
}

func (i Interval) String() string {
	if i.Lo == i.Hi {
		return strconv.FormatUint(uint64(i.Lo), 10)
	}
	return fmt.Sprintf("%d-%d", i.Lo, i.Hi)
}

// Set is an immutable set of host ids.
// The zero value is the empty set. All operations return new sets and never modify their receiver.
type Set struct {
	// Sorted by Lo. No two intervals overlap or touch.
	intervals []Interval
}

// Empty returns the empty set.
func Empty() Set {
	return Set{}
}

// ClosedInterval returns the set {lo, ..., hi}, or the empty set if lo > hi.
func ClosedInterval(lo, hi uint32) Set {
	if lo > hi {
		return Set{}
	}
	return Set{intervals: []Interval{{Lo: lo, Hi: hi}}}
}

// New returns the set containing exactly the given ids.
func New(ids ...uint32) Set {
	intervals := make([]Interval, len(ids))
	for i, id := range ids {
		intervals[i] = Interval{Lo: id, Hi: id}
	}
	return FromIntervals(intervals...)
}

// FromIntervals returns the union of the given intervals.
// Intervals with Lo > Hi are ignored.
func FromIntervals(intervals ...Interval) Set {
	valid := make([]Interval, 0, len(intervals))
	for _, interval := range intervals {
		if interval.Lo <= interval.Hi {
			valid = append(valid, interval)
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Lo < valid[j].Lo })
	return Set{intervals: mergeSorted(valid)}
}

// mergeSorted merges overlapping or adjacent intervals of a slice sorted by Lo.
// The input slice is reused.
func mergeSorted(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	rv := intervals[:1]
	for _, interval := range intervals[1:] {
		last := &rv[len(rv)-1]
		if last.Hi == math.MaxUint32 || interval.Lo <= last.Hi+1 {
			if interval.Hi > last.Hi {
				last.Hi = interval.Hi
			}
			continue
		}
		rv = append(rv, interval)
	}
	return rv
}

// FromString parses the canonical textual form of a set.
// Ranges may be given in any order and may overlap; the result is normalised.
// The empty string denotes the empty set.
func FromString(s string) (Set, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Set{}, nil
	}
	parts := strings.Split(s, ",")
	intervals := make([]Interval, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		bounds := strings.Split(part, "-")
		switch len(bounds) {
		case 1:
			id, err := parseId(bounds[0])
			if err != nil {
				return Set{}, errors.WithMessagef(err, "invalid host range %q", s)
			}
			intervals = append(intervals, Interval{Lo: id, Hi: id})
		case 2:
			lo, err := parseId(bounds[0])
			if err != nil {
				return Set{}, errors.WithMessagef(err, "invalid host range %q", s)
			}
			hi, err := parseId(bounds[1])
			if err != nil {
				return Set{}, errors.WithMessagef(err, "invalid host range %q", s)
			}
			if lo > hi {
				return Set{}, errors.Errorf("invalid host range %q: interval %q has lower bound greater than upper bound", s, part)
			}
			intervals = append(intervals, Interval{Lo: lo, Hi: hi})
		default:
			return Set{}, errors.Errorf("invalid host range %q: malformed interval %q", s, part)
		}
	}
	return FromIntervals(intervals...), nil
}

// MustFromString is like FromString but panics on error. Intended for tests and constants.
func MustFromString(s string) Set {
	rv, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return rv
}

func parseId(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return uint32(id), nil
}

// String returns the canonical textual form of the set.
func (s Set) String() string {
	parts := make([]string, len(s.intervals))
	for i, interval := range s.intervals {
		parts[i] = interval.String()
	}
	return strings.Join(parts, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (s Set) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Set) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Intervals returns a copy of the intervals making up the set, in ascending order.
func (s Set) Intervals() []Interval {
	rv := make([]Interval, len(s.intervals))
	copy(rv, s.intervals)
	return rv
}

// Hosts returns all ids in the set in ascending order.
func (s Set) Hosts() []uint32 {
	rv := make([]uint32, 0, s.Cardinality())
	for _, interval := range s.intervals {
		for id := uint64(interval.Lo); id <= uint64(interval.Hi); id++ {
			rv = append(rv, uint32(id))
		}
	}
	return rv
}

// Cardinality returns the number of ids in the set.
func (s Set) Cardinality() uint32 {
	var n uint32
	for _, interval := range s.intervals {
		n += interval.size()
	}
	return n
}

func (s Set) IsEmpty() bool {
	return len(s.intervals) == 0
}

// Max returns the largest id of the set; ok is false if the set is empty.
func (s Set) Max() (id uint32, ok bool) {
	if len(s.intervals) == 0 {
		return 0, false
	}
	return s.intervals[len(s.intervals)-1].Hi, true
}

// Contains returns true if id is in the set.
func (s Set) Contains(id uint32) bool {
	i := sort.Search(len(s.intervals), func(i int) bool { return s.intervals[i].Hi >= id })
	return i < len(s.intervals) && s.intervals[i].Lo <= id
}

// IsSubsetOf returns true if every id of s is in other.
func (s Set) IsSubsetOf(other Set) bool {
	return s.Difference(other).IsEmpty()
}

func (s Set) Equal(other Set) bool {
	if len(s.intervals) != len(other.intervals) {
		return false
	}
	for i := range s.intervals {
		if s.intervals[i] != other.intervals[i] {
			return false
		}
	}
	return true
}

// Union returns s ∪ other.
func (s Set) Union(other Set) Set {
	merged := make([]Interval, 0, len(s.intervals)+len(other.intervals))
	i, j := 0, 0
	for i < len(s.intervals) || j < len(other.intervals) {
		if j == len(other.intervals) || (i < len(s.intervals) && s.intervals[i].Lo <= other.intervals[j].Lo) {
			merged = append(merged, s.intervals[i])
			i++
		} else {
			merged = append(merged, other.intervals[j])
			j++
		}
	}
	return Set{intervals: mergeSorted(merged)}
}

// Difference returns s \ other.
func (s Set) Difference(other Set) Set {
	rv := make([]Interval, 0, len(s.intervals))
	j := 0
	for _, interval := range s.intervals {
		lo, hi := uint64(interval.Lo), uint64(interval.Hi)
		// Skip intervals of other entirely to the left of the current one.
		for j < len(other.intervals) && uint64(other.intervals[j].Hi) < lo {
			j++
		}
		k := j
		for k < len(other.intervals) && uint64(other.intervals[k].Lo) <= hi && lo <= hi {
			cut := other.intervals[k]
			if uint64(cut.Lo) > lo {
				rv = append(rv, Interval{Lo: uint32(lo), Hi: cut.Lo - 1})
			}
			lo = uint64(cut.Hi) + 1
			k++
		}
		if lo <= hi {
			rv = append(rv, Interval{Lo: uint32(lo), Hi: uint32(hi)})
		}
	}
	if len(rv) == 0 {
		return Set{}
	}
	return Set{intervals: rv}
}

// Intersection returns s ∩ other.
func (s Set) Intersection(other Set) Set {
	rv := make([]Interval, 0)
	i, j := 0, 0
	for i < len(s.intervals) && j < len(other.intervals) {
		a, b := s.intervals[i], other.intervals[j]
		lo, hi := max(a.Lo, b.Lo), min(a.Hi, b.Hi)
		if lo <= hi {
			rv = append(rv, Interval{Lo: lo, Hi: hi})
		}
		if a.Hi < b.Hi {
			i++
		} else {
			j++
		}
	}
	if len(rv) == 0 {
		return Set{}
	}
	return Set{intervals: rv}
}

// Left returns the set made of the n smallest ids of s.
// It panics if s contains fewer than n ids; callers are expected to check Cardinality first.
func (s Set) Left(n uint32) Set {
	if n > s.Cardinality() {
		panic(fmt.Sprintf("cannot take %d hosts from %q which only contains %d", n, s.String(), s.Cardinality()))
	}
	rv := make([]Interval, 0)
	for _, interval := range s.intervals {
		if n == 0 {
			break
		}
		if interval.size() <= n {
			rv = append(rv, interval)
			n -= interval.size()
		} else {
			rv = append(rv, Interval{Lo: interval.Lo, Hi: interval.Lo + n - 1})
			n = 0
		}
	}
	if len(rv) == 0 {
		return Set{}
	}
	return Set{intervals: rv}
}
