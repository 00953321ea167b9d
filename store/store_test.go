package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterUserUpsertBumpsVersion(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterUser(ctx, User{UserID: "u1", Pubkey: "PEM-A"}))
	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "PEM-A", u.Pubkey)
	require.Equal(t, int64(1), u.Version)
	require.Equal(t, "{}", u.Meta)

	require.NoError(t, s.RegisterUser(ctx, User{UserID: "u1", Pubkey: "PEM-B"}))
	u, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "PEM-B", u.Pubkey)
	require.Equal(t, int64(2), u.Version)
}

func TestGetPubkeyAndExists(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_, err := s.GetPubkey(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.UserExists(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.RegisterUser(ctx, User{UserID: "u1", Pubkey: "PEM"}))
	pub, err := s.GetPubkey(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "PEM", pub)

	ok, err = s.UserExists(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMembership(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.EnsurePublicGroup(ctx, "server-1"))

	require.NoError(t, s.AddMember(ctx, PublicGroupID, Member{MemberID: "u2", WrappedKey: "wk2"}))
	require.NoError(t, s.AddMember(ctx, PublicGroupID, Member{MemberID: "u1", WrappedKey: "wk1"}))

	members, err := s.ListGroupMembers(ctx, PublicGroupID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "u1", members[0].MemberID)
	require.Equal(t, "member", members[0].Role)

	wk, err := s.GetWrappedKey(ctx, PublicGroupID, "u2")
	require.NoError(t, err)
	require.Equal(t, "wk2", wk)

	require.NoError(t, s.RemoveMember(ctx, PublicGroupID, "u2"))
	_, err = s.GetWrappedKey(ctx, PublicGroupID, "u2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEnsurePublicGroupIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePublicGroup(ctx, "server-1"))
	require.NoError(t, s.EnsurePublicGroup(ctx, "server-2"))

	v, err := s.PublicGroupVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
}

func TestBumpPublicVersionRewraps(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.EnsurePublicGroup(ctx, "server-1"))
	require.NoError(t, s.AddMember(ctx, PublicGroupID, Member{MemberID: "u1", WrappedKey: "old1"}))
	require.NoError(t, s.AddMember(ctx, PublicGroupID, Member{MemberID: "u2", WrappedKey: "old2"}))

	v, err := s.BumpPublicVersion(ctx, map[string]string{"u1": "new1", "u2": "new2"})
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	wk, err := s.GetWrappedKey(ctx, PublicGroupID, "u1")
	require.NoError(t, err)
	require.Equal(t, "new1", wk)
	wk, err = s.GetWrappedKey(ctx, PublicGroupID, "u2")
	require.NoError(t, err)
	require.Equal(t, "new2", wk)
}
