package orchestration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConn struct {
	Account string
}

func noopBase(_ context.Context, doc Document, _ *testConn) (Document, error) {
	return doc, nil
}

func constOp(v any) OperationFunc[testConn] {
	return func(context.Context, Document, *testConn) (any, error) {
		return v, nil
	}
}

func TestBuilderRegister(t *testing.T) {
	flags := MustFlagSet("A", "B", "C")
	a, b, c := flags.MustFlag("A"), flags.MustFlag("B"), flags.MustFlag("C")

	tests := []struct {
		name    string
		setup   func(*Builder[testConn]) error
		wantErr string
	}{
		{
			name: "duplicate key",
			setup: func(bld *Builder[testConn]) error {
				require.NoError(t, bld.Register(Operation[testConn]{Flag: a, Key: "Same", Fn: constOp(1)}))
				return bld.Register(Operation[testConn]{Flag: b, Key: "Same", Fn: constOp(2)})
			},
			wantErr: "already claimed",
		},
		{
			name: "key differing only in style",
			setup: func(bld *Builder[testConn]) error {
				require.NoError(t, bld.Register(Operation[testConn]{Flag: a, Key: "MFADevices", Fn: constOp(1)}))
				return bld.Register(Operation[testConn]{Flag: b, Key: "MfaDevices", Fn: constOp(2)})
			},
			wantErr: "already claimed",
		},
		{
			name: "duplicate flag",
			setup: func(bld *Builder[testConn]) error {
				require.NoError(t, bld.Register(Operation[testConn]{Flag: a, Key: "A", Fn: constOp(1)}))
				return bld.Register(Operation[testConn]{Flag: a, Key: "A2", Fn: constOp(2)})
			},
			wantErr: "already registered for flag A",
		},
		{
			name: "combined flag",
			setup: func(bld *Builder[testConn]) error {
				return bld.Register(Operation[testConn]{Flag: a | b, Key: "AB", Fn: constOp(1)})
			},
			wantErr: "not a single declared flag",
		},
		{
			name: "undeclared flag",
			setup: func(bld *Builder[testConn]) error {
				return bld.Register(Operation[testConn]{Flag: Flag(1) << 9, Key: "X", Fn: constOp(1)})
			},
			wantErr: "not a single declared flag",
		},
		{
			name: "missing key",
			setup: func(bld *Builder[testConn]) error {
				return bld.Register(Operation[testConn]{Flag: a, Fn: constOp(1)})
			},
			wantErr: "has no key",
		},
		{
			name: "missing function",
			setup: func(bld *Builder[testConn]) error {
				return bld.Register(Operation[testConn]{Flag: a, Key: "A"})
			},
			wantErr: "has no function",
		},
		{
			name: "self dependency",
			setup: func(bld *Builder[testConn]) error {
				return bld.Register(Operation[testConn]{Flag: c, DependsOn: c, Key: "C", Fn: constOp(1)})
			},
			wantErr: "depends on itself",
		},
		{
			name: "undeclared dependency",
			setup: func(bld *Builder[testConn]) error {
				return bld.Register(Operation[testConn]{Flag: c, DependsOn: Flag(1) << 20, Key: "C", Fn: constOp(1)})
			},
			wantErr: "undeclared flags",
		},
		{
			name: "second base",
			setup: func(bld *Builder[testConn]) error {
				require.NoError(t, bld.RegisterBase(noopBase))
				return bld.RegisterBase(noopBase)
			},
			wantErr: "base operation already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bld := NewBuilder[testConn](flags)
			err := tt.setup(bld)
			require.Error(t, err)
			assert.True(t, IsCategory(err, ErrCategoryConfiguration))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestBuilderBuild(t *testing.T) {
	flags := MustFlagSet("A", "B", "C")
	a, b, c := flags.MustFlag("A"), flags.MustFlag("B"), flags.MustFlag("C")

	t.Run("missing base", func(t *testing.T) {
		bld := NewBuilder[testConn](flags)
		require.NoError(t, bld.Register(Operation[testConn]{Flag: a, Key: "A", Fn: constOp(1)}))
		require.NoError(t, bld.Register(Operation[testConn]{Flag: b, Key: "B", Fn: constOp(1)}))
		require.NoError(t, bld.Register(Operation[testConn]{Flag: c, Key: "C", Fn: constOp(1)}))
		_, err := bld.Build()
		assert.ErrorContains(t, err, "no base operation")
	})

	t.Run("unregistered flag", func(t *testing.T) {
		_, err := NewRegistry(flags, noopBase, []Operation[testConn]{
			{Flag: a, Key: "A", Fn: constOp(1)},
			{Flag: b, Key: "B", Fn: constOp(1)},
		})
		assert.ErrorContains(t, err, "no operation registered for flag C")
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := NewRegistry(flags, noopBase, []Operation[testConn]{
			{Flag: a, DependsOn: c, Key: "A", Fn: constOp(1)},
			{Flag: b, DependsOn: a, Key: "B", Fn: constOp(1)},
			{Flag: c, DependsOn: b, Key: "C", Fn: constOp(1)},
		})
		require.Error(t, err)
		assert.ErrorContains(t, err, "dependency cycle")
	})

	t.Run("must registry panics", func(t *testing.T) {
		assert.Panics(t, func() {
			MustRegistry[testConn](flags, nil, nil)
		})
	})
}

func TestRegistryResolve(t *testing.T) {
	flags := MustFlagSet("A", "B", "C", "D")
	a, b, c, d := flags.MustFlag("A"), flags.MustFlag("B"), flags.MustFlag("C"), flags.MustFlag("D")

	r, err := NewRegistry(flags, noopBase, []Operation[testConn]{
		{Flag: a, Key: "A", Fn: constOp(1)},
		{Flag: b, DependsOn: a, Key: "B", Fn: constOp(1)},
		{Flag: c, DependsOn: b, Key: "C", Fn: constOp(1)},
		{Flag: d, Key: "D", Fn: constOp(1)},
	})
	require.NoError(t, err)

	assert.Equal(t, a|b|c, r.Resolve(c))
	assert.Equal(t, d, r.Resolve(d|Flag(1)<<30))
	assert.Equal(t, None, r.Resolve(None))

	levels := r.levels(r.Resolve(c | d))
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"A", "D"}, opKeys(levels[0]))
	assert.Equal(t, []string{"B"}, opKeys(levels[1]))
	assert.Equal(t, []string{"C"}, opKeys(levels[2]))

	assert.Equal(t, []string{"A", "B", "C", "D"}, r.Keys(flags.All()))
	key, ok := r.Key(b)
	assert.True(t, ok)
	assert.Equal(t, "B", key)
}

func opKeys(ops []*Operation[testConn]) []string {
	keys := make([]string, len(ops))
	for i, op := range ops {
		keys[i] = op.Key
	}
	return keys
}
