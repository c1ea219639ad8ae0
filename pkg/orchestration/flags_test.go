package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlagSet(t *testing.T) {
	s, err := NewFlagSet("A", "B", "C")
	require.NoError(t, err)

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, Flag(0b111), s.All())
	assert.Equal(t, Flag(0b010), s.MustFlag("B"))
	assert.Equal(t, Flag(0b010), s.MustFlag("b"))

	_, ok := s.Flag("D")
	assert.False(t, ok)
}

func TestNewFlagSetErrors(t *testing.T) {
	t.Run("duplicate name", func(t *testing.T) {
		_, err := NewFlagSet("A", "B", "a")
		require.Error(t, err)
		assert.True(t, IsCategory(err, ErrCategoryConfiguration))
		assert.ErrorContains(t, err, "already declared")
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := NewFlagSet("A", "")
		assert.True(t, IsCategory(err, ErrCategoryConfiguration))
	})

	t.Run("too many flags", func(t *testing.T) {
		names := make([]string, maxFlags+1)
		for i := range names {
			names[i] = string(rune('A'+i%26)) + string(rune('a'+i/26))
		}
		_, err := NewFlagSet(names...)
		assert.ErrorContains(t, err, "too many flags")
	})
}

func TestFlagHasAndContains(t *testing.T) {
	s := MustFlagSet("A", "B", "C")
	a, b, c := s.MustFlag("A"), s.MustFlag("B"), s.MustFlag("C")

	sel := a | c
	assert.True(t, sel.Has(a))
	assert.False(t, sel.Has(b))
	assert.True(t, sel.Has(b|c))
	assert.False(t, sel.Contains(b|c))
	assert.True(t, s.All().Contains(sel))
	assert.False(t, None.Has(s.All()))
}

func TestFlagSetParse(t *testing.T) {
	s := MustFlagSet("ACCESS_KEYS", "MFA_DEVICES", "LOGIN_PROFILE")

	f, err := s.Parse([]string{"access_keys", " MFA_DEVICES ", ""})
	require.NoError(t, err)
	assert.Equal(t, s.MustFlag("ACCESS_KEYS")|s.MustFlag("MFA_DEVICES"), f)

	f, err = s.Parse([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, s.All(), f)

	f, err = s.Parse([]string{"NONE"})
	require.NoError(t, err)
	assert.Equal(t, None, f)

	_, err = s.Parse([]string{"GROUPS"})
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCategoryValidation))
}

func TestFlagSetNamesAndFormat(t *testing.T) {
	s := MustFlagSet("A", "B", "C")

	assert.Equal(t, []string{"A", "C"}, s.Names(s.MustFlag("C")|s.MustFlag("A")))
	assert.Equal(t, []string{"B"}, s.Names(s.MustFlag("B")|Flag(1)<<40))
	assert.Empty(t, s.Names(None))

	assert.Equal(t, "NONE", s.Format(None))
	assert.Equal(t, "ALL", s.Format(s.All()))
	assert.Equal(t, "A|C", s.Format(s.MustFlag("A")|s.MustFlag("C")))
	assert.True(t, s.Declared(s.All()))
	assert.False(t, s.Declared(Flag(1)<<10))
}
