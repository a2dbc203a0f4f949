package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/overcastly/parley/internal/apperr"
	"github.com/overcastly/parley/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestCreatePrivateChat(t *testing.T) {
	f := newFixture(t)

	ch := f.privateChat(t, f.alice, f.bob)

	require.False(t, ch.IsGroup)
	require.Equal(t, f.alice.ID, ch.CreatorID)
	require.Len(t, ch.Members, 2)

	// titled after the other member, and nobody is admin
	require.NotNil(t, ch.Title)
	require.Equal(t, "Bob", *ch.Title)
	for _, m := range ch.Members {
		require.False(t, m.IsAdmin)
	}
}

func TestCreatePrivateChatCardinality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.chats.Create(ctx, f.alice.ID, false, nil, []uuid.UUID{f.bob.ID, f.carol.ID})
	require.True(t, apperr.IsKind(err, apperr.InvalidArgument))

	// the creator deduplicated into the member list leaves just one member
	_, err = f.chats.Create(ctx, f.alice.ID, false, nil, []uuid.UUID{f.alice.ID})
	require.True(t, apperr.IsKind(err, apperr.InvalidArgument))
}

func TestCreatePrivateChatDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.privateChat(t, f.alice, f.bob)

	// same pair in either direction conflicts
	_, err := f.chats.Create(ctx, f.alice.ID, false, nil, []uuid.UUID{f.bob.ID})
	require.True(t, apperr.IsKind(err, apperr.Conflict))

	_, err = f.chats.Create(ctx, f.bob.ID, false, nil, []uuid.UUID{f.alice.ID})
	require.True(t, apperr.IsKind(err, apperr.Conflict))

	// a different pair is fine
	_, err = f.chats.Create(ctx, f.alice.ID, false, nil, []uuid.UUID{f.carol.ID})
	require.NoError(t, err)
}

func TestCreateGroupChat(t *testing.T) {
	f := newFixture(t)

	ch := f.groupChat(t, "Weekend Plans", f.alice, f.bob, f.carol)

	require.True(t, ch.IsGroup)
	require.Equal(t, "Weekend Plans", *ch.Title)
	require.Len(t, ch.Members, 3)

	admins := 0
	for _, m := range ch.Members {
		if m.IsAdmin {
			admins++
			require.Equal(t, f.alice.ID, m.UserID)
		}
	}
	require.Equal(t, 1, admins)
}

func TestCreateChatUnknownMember(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Create(context.Background(), f.alice.ID, true, nil, []uuid.UUID{f.bob.ID, uuid.New()})
	require.True(t, apperr.IsKind(err, apperr.InvalidArgument))
}

func TestGetChatMasksNonMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.privateChat(t, f.alice, f.bob)

	// a non-member gets the same NotFound as an absent chat
	_, err := f.chats.Get(ctx, f.carol.ID, ch.ID)
	require.True(t, apperr.IsKind(err, apperr.NotFound))

	_, err = f.chats.Get(ctx, f.alice.ID, uuid.New())
	require.True(t, apperr.IsKind(err, apperr.NotFound))

	view, err := f.chats.Get(ctx, f.alice.ID, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "Bob", view.ChatName)

	for _, m := range view.Members {
		require.Equal(t, m.UserID == f.alice.ID, m.IsYou)
	}
}

func TestGetChatNameUsesDisplayNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	display := "Bobby"
	f.bob.DisplayName = &display
	require.NoError(t, f.store.Users.Update(ctx, f.bob))

	ch := f.groupChat(t, "Team", f.alice, f.bob, f.carol)

	view, err := f.chats.Get(ctx, f.alice.ID, ch.ID)
	require.NoError(t, err)
	require.Equal(t, "Bobby, Carol", view.ChatName)
}

func TestListChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := f.privateChat(t, f.alice, f.bob)
	f.groupChat(t, "Team", f.bob, f.carol)

	msg := f.send(t, f.bob, private.ID, "latest one")

	views, err := f.chats.List(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, private.ID, views[0].ID)
	require.NotNil(t, views[0].LatestMessage)
	require.Equal(t, msg.ID, views[0].LatestMessage.ID)
	require.False(t, views[0].LatestMessage.IsYou)

	views, err = f.chats.List(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
}

func TestAddMemberToGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dave := f.addUser(t, "Dave", "dave@example.com")

	ch := f.groupChat(t, "Team", f.alice, f.bob)

	// only admins add members
	_, err := f.chats.AddMember(ctx, f.bob.ID, ch.ID, f.carol.ID)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))

	view, err := f.chats.AddMember(ctx, f.alice.ID, ch.ID, f.carol.ID)
	require.NoError(t, err)
	require.Equal(t, ch.ID, view.ID)
	require.Len(t, view.Members, 3)

	// the new member joins without the admin flag
	for _, m := range view.Members {
		if m.UserID == f.carol.ID {
			require.False(t, m.IsAdmin)
		}
	}

	_, err = f.chats.AddMember(ctx, f.alice.ID, ch.ID, f.carol.ID)
	require.True(t, apperr.IsKind(err, apperr.Conflict))

	_, err = f.chats.AddMember(ctx, f.alice.ID, ch.ID, uuid.New())
	require.True(t, apperr.IsKind(err, apperr.NotFound))

	_, err = f.chats.AddMember(ctx, dave.ID, ch.ID, f.carol.ID)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))
}

func TestAddMemberPromotesPrivateChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := f.privateChat(t, f.alice, f.bob)

	view, err := f.chats.AddMember(ctx, f.bob.ID, private.ID, f.carol.ID)
	require.NoError(t, err)

	// a brand-new group chat, not the private chat mutated
	require.NotEqual(t, private.ID, view.ID)
	require.True(t, view.IsGroup)
	require.Len(t, view.Members, 3)
	require.Equal(t, f.bob.ID, view.CreatorID)

	// the adder is the sole admin of the new chat
	for _, m := range view.Members {
		require.Equal(t, m.UserID == f.bob.ID, m.IsAdmin)
	}

	// the private chat's title (the other member's name) carries over
	require.Equal(t, "Bob", *view.Title)

	// the original private chat is untouched
	original, err := f.chats.Get(ctx, f.alice.ID, private.ID)
	require.NoError(t, err)
	require.False(t, original.IsGroup)
	require.Len(t, original.Members, 2)

	_, err = f.chats.Get(ctx, f.carol.ID, private.ID)
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.groupChat(t, "Team", f.alice, f.bob, f.carol)

	// a non-admin cannot remove someone else
	err := f.chats.RemoveMember(ctx, f.bob.ID, ch.ID, f.carol.ID)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))

	// but anyone can leave
	require.NoError(t, f.chats.RemoveMember(ctx, f.carol.ID, ch.ID, f.carol.ID))

	// and admins remove anyone
	require.NoError(t, f.chats.RemoveMember(ctx, f.alice.ID, ch.ID, f.bob.ID))

	view, err := f.chats.Get(ctx, f.alice.ID, ch.ID)
	require.NoError(t, err)
	require.Len(t, view.Members, 1)
}

func TestRemoveMemberFromPrivateChat(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)

	err := f.chats.RemoveMember(context.Background(), f.alice.ID, ch.ID, f.bob.ID)
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestUpdateChatTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.groupChat(t, "Team", f.alice, f.bob)
	newTitle := "Renamed"

	// group chats: admin only
	_, err := f.chats.Update(ctx, f.bob.ID, group.ID, &newTitle)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))

	view, err := f.chats.Update(ctx, f.alice.ID, group.ID, &newTitle)
	require.NoError(t, err)
	require.Equal(t, "Renamed", *view.Title)

	// private chats: either member, admin flag means nothing
	private := f.privateChat(t, f.alice, f.carol)
	view, err = f.chats.Update(ctx, f.carol.ID, private.ID, &newTitle)
	require.NoError(t, err)
	require.Equal(t, "Renamed", *view.Title)

	_, err = f.chats.Update(ctx, f.bob.ID, private.ID, &newTitle)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))

	_, err = f.chats.Update(ctx, f.alice.ID, uuid.New(), &newTitle)
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestUpdateChatOmittedTitlePreserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.groupChat(t, "Team", f.alice, f.bob)

	// an update without a title leaves the stored title alone
	view, err := f.chats.Update(ctx, f.alice.ID, group.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, view.Title)
	require.Equal(t, "Team", *view.Title)

	view, err = f.chats.Get(ctx, f.alice.ID, group.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Title)
	require.Equal(t, "Team", *view.Title)
}

func TestPromotionDefaultsUntitledChatToGroupChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// an untitled private chat, as older rows can be
	private, err := f.store.Chats.CreateWithMembers(ctx, false, nil, f.alice.ID, []repository.NewMember{
		{UserID: f.alice.ID},
		{UserID: f.bob.ID},
	})
	require.NoError(t, err)

	view, err := f.chats.AddMember(ctx, f.alice.ID, private.ID, f.carol.ID)
	require.NoError(t, err)

	require.NotEqual(t, private.ID, view.ID)
	require.True(t, view.IsGroup)
	require.Len(t, view.Members, 3)
	require.NotNil(t, view.Title)
	require.Equal(t, "Group Chat", *view.Title)
}

func TestPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.privateChat(t, f.alice, f.bob)

	summary, err := f.chats.Presence(ctx, f.alice.ID, ch.ID)
	require.NoError(t, err)
	require.Equal(t, f.alice.ID, summary.ID)
	require.Equal(t, "Alice", summary.Name)

	_, err = f.chats.Presence(ctx, f.carol.ID, ch.ID)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))
}
