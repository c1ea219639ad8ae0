// Package orchestration builds a document for one cloud entity out of many
// independent read-only calls.
//
// # Overview
//
// An entity type declares a FlagSet naming its optional expansions and a
// Registry mapping each flag to an Operation. Every registry has exactly one
// Base operation, which always runs first and ensures the minimal fields are
// present. Callers select expansions by combining flags; prerequisites are
// pulled in automatically.
//
// # Flags
//
//	flags := orchestration.MustFlagSet("ACCESS_KEYS", "MFA_DEVICES")
//	accessKeys := flags.MustFlag("ACCESS_KEYS")
//	selection := accessKeys | flags.MustFlag("MFA_DEVICES")
//	selection.Has(accessKeys) // true
//
// flags.All() is the union of every declared flag and orchestration.None
// selects nothing beyond Base.
//
// # Registry
//
// Registries are built once, at process start, from a static table:
//
//	var users = orchestration.MustRegistry(flags, getBase, []orchestration.Operation[Conn]{
//	    {Flag: accessKeys, Key: "AccessKeys", Fn: getAccessKeys},
//	    {Flag: mfaDevices, Key: "MFADevices", Fn: getMFADevices},
//	}, "UserName")
//
// Registration fails on a duplicate flag, a duplicate key, a second Base,
// undeclared dependencies or a dependency cycle. Build fails when Base is
// missing or a declared flag has no operation.
//
// # Build-out
//
//	doc, err := users.BuildOut(ctx, selection, start, conn)
//
// Operations are run in dependency levels. Operations in the same level are
// independent and run concurrently; their results are merged under their keys
// once the level completes. Provider errors are returned unchanged.
//
// # Output shaping
//
// Modify renames document keys between Camelized and Underscored styles,
// recursing into nested maps. It is applied by callers before and after a
// build-out.
package orchestration
