package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/overcastly/parley/internal/apperr"
	"github.com/overcastly/parley/internal/broadcast"
	"github.com/overcastly/parley/internal/models"
	"github.com/overcastly/parley/internal/service"
	"github.com/stretchr/testify/require"
)

func TestSendInitializesStatuses(t *testing.T) {
	f := newFixture(t)
	ch := f.groupChat(t, "Team", f.alice, f.bob, f.carol)

	msg := f.send(t, f.alice, ch.ID, "hello")

	require.True(t, msg.IsYou)
	require.Equal(t, f.alice.ID, msg.SenderID)
	require.Equal(t, "Alice", msg.Sender.Name)

	// sender starts at read, everyone else at sent
	require.Equal(t, models.StatusRead, f.effective(t, msg.ID, f.alice.ID).Status)
	require.Equal(t, models.StatusSent, f.effective(t, msg.ID, f.bob.ID).Status)
	require.Equal(t, models.StatusSent, f.effective(t, msg.ID, f.carol.ID).Status)
}

func TestSendPublishesMessageSent(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)

	sent := f.send(t, f.alice, ch.ID, "hi")

	calls := f.broadcaster.published()
	require.Len(t, calls, 1)
	require.Equal(t, broadcast.ChatChannel(ch.ID), calls[0].Channel)
	require.Equal(t, service.EventMessageSent, calls[0].Event)

	raw, err := json.Marshal(calls[0].Payload)
	require.NoError(t, err)

	var payload struct {
		Message map[string]json.RawMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))

	// the wire shape carries the message and sender summary only: no
	// requester-relative flags, no chat id (the channel scopes the chat)
	for _, key := range []string{"message_id", "sender_id", "text", "message_type", "created_at", "sender"} {
		require.Contains(t, payload.Message, key)
	}
	require.NotContains(t, payload.Message, "is_you")
	require.NotContains(t, payload.Message, "chat_id")
	require.NotContains(t, payload.Message, "latest_statuses")

	var messageID int64
	require.NoError(t, json.Unmarshal(payload.Message["message_id"], &messageID))
	require.Equal(t, sent.ID, messageID)
}

func TestSendBroadcastFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	f.broadcaster.fail = errors.New("redis down")

	text := "still works"
	msg, err := f.messages.Send(context.Background(), f.alice.ID, ch.ID, models.TypeText, &text, nil)
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestSendRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)

	text := "intruder"
	_, err := f.messages.Send(context.Background(), f.carol.ID, ch.ID, models.TypeText, &text, nil)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))
}

func TestSendRejectsInvalidType(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)

	text := "x"
	_, err := f.messages.Send(context.Background(), f.alice.ID, ch.ID, models.MessageType("sticker"), &text, nil)
	require.True(t, apperr.IsKind(err, apperr.InvalidArgument))
}

func TestSendReplyToValidation(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	other := f.privateChat(t, f.alice, f.carol)

	original := f.send(t, f.alice, other.ID, "elsewhere")

	// reply-to only checks existence, a cross-chat target is accepted
	text := "reply"
	msg, err := f.messages.Send(context.Background(), f.bob.ID, ch.ID, models.TypeText, &text, &original.ID)
	require.NoError(t, err)
	require.NotNil(t, msg.RepliedToID)
	require.Equal(t, original.ID, *msg.RepliedToID)

	// the response carries a preview of the quoted message
	require.NotNil(t, msg.RepliedTo)
	require.Equal(t, original.ID, msg.RepliedTo.MessageID)
	require.Equal(t, "elsewhere", *msg.RepliedTo.Text)
	require.Equal(t, f.alice.ID, msg.RepliedTo.SenderID)

	missing := original.ID + 1000
	_, err = f.messages.Send(context.Background(), f.bob.ID, ch.ID, models.TypeText, &text, &missing)
	require.True(t, apperr.IsKind(err, apperr.InvalidArgument))
}

func TestListAttachesReplyPreview(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)

	original := f.send(t, f.alice, ch.ID, "quoted")
	reply := "quoting you"
	_, err := f.messages.Send(context.Background(), f.bob.ID, ch.ID, models.TypeText, &reply, &original.ID)
	require.NoError(t, err)

	views, err := f.messages.List(context.Background(), f.alice.ID, ch.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, views, 2)

	require.Nil(t, views[0].RepliedTo)
	require.NotNil(t, views[1].RepliedTo)
	require.Equal(t, original.ID, views[1].RepliedTo.MessageID)
	require.Equal(t, "quoted", *views[1].RepliedTo.Text)
	require.Equal(t, f.alice.ID, views[1].RepliedTo.SenderID)
}

func TestListMarksRead(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	msg := f.send(t, f.alice, ch.ID, "unread")

	require.Equal(t, models.StatusSent, f.effective(t, msg.ID, f.bob.ID).Status)

	views, err := f.messages.List(context.Background(), f.bob.ID, ch.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.False(t, views[0].IsYou)

	require.Equal(t, models.StatusRead, f.effective(t, msg.ID, f.bob.ID).Status)

	// a second viewing appends nothing: read is already the latest state
	before := len(f.store.Statuses.EventLog())
	_, err = f.messages.List(context.Background(), f.bob.ID, ch.ID, 1, 50)
	require.NoError(t, err)
	require.Equal(t, before, len(f.store.Statuses.EventLog()))
}

func TestListExposesOtherMembersReceipts(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	f.send(t, f.alice, ch.ID, "receipt check")

	_, err := f.messages.List(context.Background(), f.bob.ID, ch.ID, 1, 50)
	require.NoError(t, err)

	views, err := f.messages.List(context.Background(), f.alice.ID, ch.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, views, 1)

	statuses := make(map[string]models.Status)
	for _, sv := range views[0].LatestStatuses {
		statuses[sv.UserID.String()] = sv.Status
	}
	require.Equal(t, models.StatusRead, statuses[f.bob.ID.String()])
	require.Equal(t, models.StatusRead, statuses[f.alice.ID.String()])
}

func TestListPaginationChronological(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)

	first := f.send(t, f.alice, ch.ID, "one")
	second := f.send(t, f.bob, ch.ID, "two")
	third := f.send(t, f.alice, ch.ID, "three")

	// page 1 holds the newest window, returned oldest-first
	views, err := f.messages.List(context.Background(), f.alice.ID, ch.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, second.ID, views[0].ID)
	require.Equal(t, third.ID, views[1].ID)

	views, err = f.messages.List(context.Background(), f.alice.ID, ch.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, first.ID, views[0].ID)
}

func TestListNormalizesPageAndLimit(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	f.send(t, f.alice, ch.ID, "only one")

	views, err := f.messages.List(context.Background(), f.alice.ID, ch.ID, 0, -5)
	require.NoError(t, err)
	require.Len(t, views, 1)
}

func TestListRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)

	_, err := f.messages.List(context.Background(), f.carol.ID, ch.ID, 1, 50)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))
}

func TestDeleteForSelfHidesOnlyForRequester(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	msg := f.send(t, f.alice, ch.ID, "soon gone for bob")

	require.NoError(t, f.messages.Delete(context.Background(), f.bob.ID, msg.ID, false))

	views, err := f.messages.List(context.Background(), f.bob.ID, ch.ID, 1, 50)
	require.NoError(t, err)
	require.Empty(t, views)

	views, err = f.messages.List(context.Background(), f.alice.ID, ch.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, views, 1)
}

func TestDeleteForEveryoneBySender(t *testing.T) {
	f := newFixture(t)
	ch := f.groupChat(t, "Team", f.alice, f.bob, f.carol)
	msg := f.send(t, f.alice, ch.ID, "retracted")

	require.NoError(t, f.messages.Delete(context.Background(), f.alice.ID, msg.ID, true))

	for _, u := range []*models.User{f.alice, f.bob, f.carol} {
		require.Equal(t, models.StatusDeleteEveryone, f.effective(t, msg.ID, u.ID).Status)

		views, err := f.messages.List(context.Background(), u.ID, ch.ID, 1, 50)
		require.NoError(t, err)
		require.Empty(t, views)
	}

	calls := f.broadcaster.published()
	require.Equal(t, service.EventMessageDeleted, calls[len(calls)-1].Event)
}

func TestDeleteForEveryoneByNonSenderDowngrades(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	msg := f.send(t, f.alice, ch.ID, "bob can't retract this")

	// non-sender asking for everyone-deletion silently gets a self-delete
	require.NoError(t, f.messages.Delete(context.Background(), f.bob.ID, msg.ID, true))

	require.Equal(t, models.StatusDeleted, f.effective(t, msg.ID, f.bob.ID).Status)
	require.Equal(t, models.StatusRead, f.effective(t, msg.ID, f.alice.ID).Status)

	views, err := f.messages.List(context.Background(), f.alice.ID, ch.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, views, 1)
}

func TestDeleteIsTerminalAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	msg := f.send(t, f.alice, ch.ID, "delete twice")

	require.NoError(t, f.messages.Delete(context.Background(), f.bob.ID, msg.ID, false))
	before := len(f.store.Statuses.EventLog())

	// second delete is a no-op: deleted is absorbing
	require.NoError(t, f.messages.Delete(context.Background(), f.bob.ID, msg.ID, false))
	require.Equal(t, before, len(f.store.Statuses.EventLog()))
	require.Equal(t, models.StatusDeleted, f.effective(t, msg.ID, f.bob.ID).Status)

	// a sender retraction after bob's self-delete leaves bob's pair alone
	require.NoError(t, f.messages.Delete(context.Background(), f.alice.ID, msg.ID, true))
	require.Equal(t, models.StatusDeleted, f.effective(t, msg.ID, f.bob.ID).Status)
	require.Equal(t, models.StatusDeleteEveryone, f.effective(t, msg.ID, f.alice.ID).Status)
}

func TestDeleteUnknownMessage(t *testing.T) {
	f := newFixture(t)
	err := f.messages.Delete(context.Background(), f.alice.ID, 404, false)
	require.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestDeleteRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	ch := f.privateChat(t, f.alice, f.bob)
	msg := f.send(t, f.alice, ch.ID, "private")

	err := f.messages.Delete(context.Background(), f.carol.ID, msg.ID, false)
	require.True(t, apperr.IsKind(err, apperr.Forbidden))
}

func TestLatestStatusesExcludeRetractedPairs(t *testing.T) {
	f := newFixture(t)
	ch := f.groupChat(t, "Team", f.alice, f.bob, f.carol)
	msg := f.send(t, f.alice, ch.ID, "target")

	// bob self-deletes, carol never looks
	require.NoError(t, f.messages.Delete(context.Background(), f.bob.ID, msg.ID, false))

	events, err := f.store.Statuses.LatestForMessage(context.Background(), msg.ID)
	require.NoError(t, err)

	statuses := make(map[string]models.Status)
	for _, ev := range events {
		statuses[ev.UserID.String()] = ev.Status
	}
	// deleted shows up in receipts, delete_everyone would not
	require.Equal(t, models.StatusDeleted, statuses[f.bob.ID.String()])
	require.Equal(t, models.StatusSent, statuses[f.carol.ID.String()])
	require.Equal(t, models.StatusRead, statuses[f.alice.ID.String()])
}
