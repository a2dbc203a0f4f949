package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(Forbidden, "not a member of this chat")
	require.Equal(t, Forbidden, KindOf(err))
	require.True(t, IsKind(err, Forbidden))
	require.False(t, IsKind(err, NotFound))
}

func TestKindOfWrapped(t *testing.T) {
	inner := Wrap(Conflict, "user is already a member", errors.New("duplicate key"))
	outer := fmt.Errorf("add member: %w", inner)

	require.Equal(t, Conflict, KindOf(outer))
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("connection reset")))
	require.False(t, IsKind(nil, Internal))
}

func TestMessageHidesInternalCause(t *testing.T) {
	err := Wrap(Internal, "failed to send message", errors.New("pq: deadlock detected"))
	require.Equal(t, "internal server error", Message(err))

	err = New(NotFound, "chat not found")
	require.Equal(t, "chat not found", Message(err))
}
