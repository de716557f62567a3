// ABOUTME: Tests for Matrix event filtering and reply formatting
// ABOUTME: Exercises accept and markdownContent without a homeserver

package bot

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/registration-bot/internal/dedupe"
)

const botUser = id.UserID("@registration-bot:example.org")

func newFilterBot(t *testing.T, started time.Time) *Bot {
	t.Helper()
	seen := dedupe.New(time.Minute, 100)
	t.Cleanup(seen.Close)
	return &Bot{
		userID:    botUser,
		startedAt: started,
		seen:      seen,
		logger:    slog.Default(),
	}
}

func textEvent(eventID string, sender id.UserID, ts time.Time, msgType event.MessageType, body string) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		Sender:    sender,
		RoomID:    id.RoomID(room),
		Type:      event.EventMessage,
		Timestamp: ts.UnixMilli(),
		Content: event.Content{
			Parsed: &event.MessageEventContent{MsgType: msgType, Body: body},
		},
	}
}

func TestAccept(t *testing.T) {
	started := time.Now()
	b := newFilterBot(t, started)
	later := started.Add(time.Second)

	msg, ok := b.accept(textEvent("$1", admin, later, event.MsgText, "list"))
	require.True(t, ok)
	assert.Equal(t, Message{Sender: admin, RoomID: room, Body: "list"}, msg)

	t.Run("duplicate", func(t *testing.T) {
		_, ok := b.accept(textEvent("$1", admin, later, event.MsgText, "list"))
		assert.False(t, ok)
	})

	t.Run("own message", func(t *testing.T) {
		_, ok := b.accept(textEvent("$2", botUser, later, event.MsgText, "list"))
		assert.False(t, ok)
	})

	t.Run("before start", func(t *testing.T) {
		_, ok := b.accept(textEvent("$3", admin, started.Add(-time.Minute), event.MsgText, "list"))
		assert.False(t, ok)
	})

	t.Run("notice", func(t *testing.T) {
		_, ok := b.accept(textEvent("$4", admin, later, event.MsgNotice, "list"))
		assert.False(t, ok)
	})

	t.Run("unparsed content", func(t *testing.T) {
		evt := textEvent("$5", admin, later, event.MsgText, "list")
		evt.Content.Parsed = nil
		_, ok := b.accept(evt)
		assert.False(t, ok)
	})
}

func TestMarkdownContent(t *testing.T) {
	md := "**Token:** `abc`  \nexpires: does not expire  \nuses left: 1\n"
	content := markdownContent(md, slog.Default())

	assert.Equal(t, event.MsgNotice, content.MsgType)
	assert.Equal(t, md, content.Body)
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "<strong>Token:</strong>")
	assert.Contains(t, content.FormattedBody, "<code>abc</code>")
}
