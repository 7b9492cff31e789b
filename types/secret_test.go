package types

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/secretcompute/mpcerr"
)

func Test_Value_Check(t *testing.T) {
	require.NoError(t, NewSecretUnsignedInteger(0).Check())
	require.NoError(t, NewSecretUnsignedInteger(200).Check())
	require.NoError(t, NewSecretInteger(-5).Check())
	require.NoError(t, NewSecretBlob([]byte("sealed")).Check())

	err := NewSecretUnsignedInteger(-1).Check()
	require.True(t, errors.Is(err, mpcerr.ErrValueRange))

	tooWide := Value{Type: SecretUnsignedInteger, Int: new(big.Int).Lsh(big.NewInt(1), 64)}
	require.True(t, errors.Is(tooWide.Check(), mpcerr.ErrValueRange))

	maxUint := Value{Type: SecretUnsignedInteger, Int: new(big.Int).SetUint64(^uint64(0))}
	require.NoError(t, maxUint.Check())

	wrongShape := Value{Type: SecretUnsignedInteger, Blob: []byte{1}}
	require.True(t, errors.Is(wrongShape.Check(), mpcerr.ErrValueRange))

	huge := NewSecretBlob(make([]byte, MaxBlobSize+1))
	require.True(t, errors.Is(huge.Check(), mpcerr.ErrValueRange))
}

func Test_NamedValues_Check(t *testing.T) {
	values := NamedValues{}.
		Add("bid0", NewSecretUnsignedInteger(100)).
		Add("bid1", NewSecretUnsignedInteger(200))
	name, err := values.Check()
	require.NoError(t, err)
	require.Empty(t, name)

	dup := values.Add("bid0", NewSecretUnsignedInteger(1))
	name, err = dup.Check()
	require.True(t, errors.Is(err, mpcerr.ErrDuplicateValue))
	require.Equal(t, "bid0", name)

	negative := values.Add("bid2", NewSecretUnsignedInteger(-1))
	name, err = negative.Check()
	require.True(t, errors.Is(err, mpcerr.ErrValueRange))
	require.Equal(t, "bid2", name)
}

func Test_Value_String_HidesSecrets(t *testing.T) {
	require.Equal(t, "SecretUnsignedInteger(***)", NewSecretUnsignedInteger(42).String())
	require.Equal(t, "PublicUnsignedInteger(42)", NewPublicUnsignedInteger(42).String())
}

func Test_RawHandles_Normalize_Shapes(t *testing.T) {
	names := []string{"bid2", "bid0", "bid1"}

	shapes := []RawHandles{
		{Shape: HandleSingle, Single: "s1"},
		{Shape: HandleList, List: []string{"l0", "l1", "l2"}},
		{Shape: HandleList, List: []string{"only"}},
		{Shape: HandleMap, Map: map[string]string{"bid0": "m0", "bid1": "m1", "bid2": "m2"}},
	}

	for _, raw := range shapes {
		handles, err := raw.Normalize(names)
		require.NoError(t, err, raw.Shape)
		require.Len(t, handles, 3)
		require.Equal(t, "bid0", handles[0].Name)
		require.Equal(t, "bid1", handles[1].Name)
		require.Equal(t, "bid2", handles[2].Name)
	}

	handles, err := RawHandles{Shape: HandleMap,
		Map: map[string]string{"bid0": "m0", "bid1": "m1", "bid2": "m2"}}.Normalize(names)
	require.NoError(t, err)
	require.Equal(t, []string{"m0", "m1", "m2"}, handles.IDs())

	handles, err = RawHandles{Shape: HandleSingle, Single: "s1"}.Normalize(names)
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, handles.IDs())

	// keys that are not value names do not take a name by position
	handles, err = RawHandles{Shape: HandleMap,
		Map: map[string]string{"bid1": "h-bid1", "zzz": "h-other"}}.Normalize([]string{"bid0", "bid1"})
	require.NoError(t, err)
	require.Equal(t, StoreHandles{{ID: "h-bid1", Name: "bid1"}, {ID: "h-other"}}, handles)

	handles, err = RawHandles{Shape: HandleMap,
		Map: map[string]string{"1": "k1", "0": "k0"}}.Normalize([]string{"bid0", "bid1"})
	require.NoError(t, err)
	require.Equal(t, StoreHandles{{ID: "k0"}, {ID: "k1"}}, handles)
}

func Test_RawHandles_Normalize_DuplicateNames(t *testing.T) {
	handles, err := RawHandles{Shape: HandleSingle, Single: "s"}.Normalize([]string{"a", "a", "b"})
	require.NoError(t, err)
	require.Len(t, handles, 2)
}

func Test_RawHandles_Normalize_Malformed(t *testing.T) {
	names := []string{"a", "b"}

	_, err := RawHandles{Shape: HandleSingle}.Normalize(names)
	require.True(t, errors.Is(err, mpcerr.ErrMalformedResponse))

	_, err = RawHandles{Shape: HandleList, List: []string{"1", "2", "3"}}.Normalize(names)
	require.True(t, errors.Is(err, mpcerr.ErrMalformedResponse))

	_, err = RawHandles{Shape: HandleMap, Map: map[string]string{"a": "1"}}.Normalize(names)
	require.True(t, errors.Is(err, mpcerr.ErrMalformedResponse))

	_, err = RawHandles{}.Normalize(names)
	require.True(t, errors.Is(err, mpcerr.ErrMalformedResponse))
}

func Test_ProgramRef_Parse(t *testing.T) {
	ref, err := ParseProgramRef("abc123/main")
	require.NoError(t, err)
	require.Equal(t, ProgramRef{Owner: "abc123", Name: "main"}, ref)
	require.Equal(t, "abc123/main", ref.String())

	_, err = ParseProgramRef("main")
	require.Error(t, err)
	_, err = ParseProgramRef("/main")
	require.Error(t, err)
}

func Test_Permissions_Default_And_Grants(t *testing.T) {
	perms := DefaultPermissionsFor("alice")
	ref := ProgramRef{Owner: "alice", Name: "main"}
	require.False(t, perms.CanCompute("alice", ref))

	perms.AddComputePermissions(map[string][]ProgramRef{"alice": {ref}})
	require.True(t, perms.CanCompute("alice", ref))
	require.False(t, perms.CanCompute("bob", ref))
	require.Equal(t, []ProgramRef{ref}, perms.Programs())
}

func Test_Operation_Digest_Binding(t *testing.T) {
	a := StoreProgramOperation("main", []byte("artifact"))
	b := StoreProgramOperation("main", []byte("artifact"))
	c := StoreProgramOperation("main", []byte("other"))
	require.True(t, a.Matches(b))
	require.False(t, a.Matches(c))

	ref := ProgramRef{Owner: "alice", Name: "main"}
	empty := ComputeOperation(ref, nil)
	withInline := ComputeOperation(ref, NamedValues{}.Add("x", NewSecretInteger(1)))
	require.False(t, empty.Matches(withInline))

	// payloads are not part of the digest
	v1 := StoreValuesOperation(NamedValues{}.Add("bid0", NewSecretUnsignedInteger(1)), DefaultTTL)
	v2 := StoreValuesOperation(NamedValues{}.Add("bid0", NewSecretUnsignedInteger(2)), DefaultTTL)
	require.True(t, v1.Matches(v2))
}
