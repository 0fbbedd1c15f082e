package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

func TestStatic(t *testing.T) {
	assert.False(t, Static("").IsAuthenticated())
	u, ok := Static("alice").CurrentUser()
	assert.True(t, ok)
	assert.Equal(t, "alice", u)
}

func TestFromContext(t *testing.T) {
	a := FromContext(context.Background())
	assert.False(t, a.IsAuthenticated())

	a = FromContext(WithActor(context.Background(), "bob"))
	u, ok := a.CurrentUser()
	assert.True(t, ok)
	assert.Equal(t, "bob", u)
}

func TestJWT_RoundTrip(t *testing.T) {
	j, err := NewJWT("s3cret", "admin-sync")
	require.NoError(t, err)

	tok, err := j.Mint("alice", time.Hour)
	require.NoError(t, err)
	actor, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", actor)
}

func TestJWT_Rejects(t *testing.T) {
	j, _ := NewJWT("s3cret", "admin-sync")
	other, _ := NewJWT("other", "admin-sync")
	wrongIss, _ := NewJWT("s3cret", "someone-else")

	forged, _ := other.Mint("alice", time.Hour)
	_, err := j.Verify(forged)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	iss, _ := wrongIss.Mint("alice", time.Hour)
	_, err = j.Verify(iss)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	expired, _ := j.Mint("alice", -time.Minute)
	_, err = j.Verify(expired)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = NewJWT("", "x")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = BearerToken("Basic abc")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = BearerToken("Bearer   ")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestSubject(t *testing.T) {
	j, err := NewJWT("secret", "admin-sync")
	require.NoError(t, err)
	tok, err := j.Mint("carol", time.Minute)
	require.NoError(t, err)

	sub, err := Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, "carol", sub)

	_, err = Subject("not-a-token")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}
