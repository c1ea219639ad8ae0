package orchestration

import (
	"math/bits"
	"strings"
)

// Flag is a single bit, or a union of bits, selecting optional expansion
// categories. Combine flags with | and test membership with Has.
type Flag uint64

// None selects no optional expansion.
const None Flag = 0

// maxFlags is the number of bits available in a Flag.
const maxFlags = 64

// Has reports whether any bit of other is present in f.
func (f Flag) Has(other Flag) bool {
	return f&other != 0
}

// Contains reports whether every bit of other is present in f.
func (f Flag) Contains(other Flag) bool {
	return f&other == other
}

// single reports whether f is exactly one bit.
func (f Flag) single() bool {
	return f != 0 && f&(f-1) == 0
}

// FlagSet is a closed, ordered set of named flags. It is immutable once
// constructed and safe for concurrent use.
type FlagSet struct {
	names  []string
	byName map[string]Flag
	all    Flag
}

// NewFlagSet declares one flag per name, in order. Names are matched
// case-insensitively by Parse but must be unique as given.
func NewFlagSet(names ...string) (*FlagSet, error) {
	if len(names) > maxFlags {
		return nil, ErrConfiguration("too many flags: %d (max %d)", len(names), maxFlags)
	}

	s := &FlagSet{
		names:  make([]string, 0, len(names)),
		byName: make(map[string]Flag, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, ErrConfiguration("flag %d has an empty name", i)
		}
		key := strings.ToUpper(name)
		if _, exists := s.byName[key]; exists {
			return nil, ErrConfiguration("flag already declared: %s", name)
		}
		f := Flag(1) << uint(i)
		s.byName[key] = f
		s.names = append(s.names, name)
		s.all |= f
	}
	return s, nil
}

// MustFlagSet is like NewFlagSet but panics on error. It is meant for
// package-level declarations.
func MustFlagSet(names ...string) *FlagSet {
	s, err := NewFlagSet(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// All returns the union of every declared flag.
func (s *FlagSet) All() Flag {
	return s.all
}

// Len returns the number of declared flags.
func (s *FlagSet) Len() int {
	return len(s.names)
}

// Flag returns the flag declared under name.
func (s *FlagSet) Flag(name string) (Flag, bool) {
	f, ok := s.byName[strings.ToUpper(name)]
	return f, ok
}

// MustFlag returns the flag declared under name and panics if it is unknown.
func (s *FlagSet) MustFlag(name string) Flag {
	f, ok := s.Flag(name)
	if !ok {
		panic(ErrConfiguration("unknown flag: %s", name))
	}
	return f
}

// Parse returns the union of the named flags. "ALL" and "NONE" are accepted
// as sentinels. An unknown name is a validation error.
func (s *FlagSet) Parse(names []string) (Flag, error) {
	var f Flag
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		switch strings.ToUpper(name) {
		case "ALL":
			f |= s.all
			continue
		case "NONE":
			continue
		}
		bit, ok := s.Flag(name)
		if !ok {
			return None, ErrValidation("unknown flag %q (known: %s)", name, strings.Join(s.names, ", "))
		}
		f |= bit
	}
	return f, nil
}

// Names returns the declared names of the bits set in f, in declaration order.
// Bits outside the set are ignored.
func (s *FlagSet) Names(f Flag) []string {
	f &= s.all
	out := make([]string, 0, bits.OnesCount64(uint64(f)))
	for i, name := range s.names {
		if f.Has(Flag(1) << uint(i)) {
			out = append(out, name)
		}
	}
	return out
}

// Declared reports whether f is composed only of declared bits.
func (s *FlagSet) Declared(f Flag) bool {
	return f&^s.all == 0
}

// Format renders f as "A|B", "ALL" or "NONE".
func (s *FlagSet) Format(f Flag) string {
	f &= s.all
	switch {
	case f == None:
		return "NONE"
	case f == s.all:
		return "ALL"
	}
	return strings.Join(s.Names(f), "|")
}
