// ABOUTME: Matrix transport for the registration bot
// ABOUTME: Logs in, syncs, joins on invite and routes text messages to the command router

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/registration-bot/internal/dedupe"
	"github.com/2389/registration-bot/internal/render"
)

const (
	// typingTimeout is how long the typing indicator shows.
	typingTimeout = 30 * time.Second
	// networkTimeout bounds Matrix API calls made outside a command.
	networkTimeout = 10 * time.Second
	// sendTimeout bounds sending one reply.
	sendTimeout = 30 * time.Second

	seenTTL     = 30 * time.Minute
	seenMaxSize = 10_000
)

// Options configures the Matrix side of the bot.
type Options struct {
	Server      string
	Username    string
	Password    string
	AccessToken string
	DeviceID    string
	AutoJoin    bool
	Typing      bool
}

// Bot connects a Matrix account to the command router.
type Bot struct {
	opts   Options
	matrix *mautrix.Client
	router *Router
	seen   *dedupe.Cache
	logger *slog.Logger

	userID    id.UserID
	startedAt time.Time

	// wg tracks in-flight commands so shutdown can wait for them.
	wg sync.WaitGroup
}

// New creates a bot. Call Login before Run.
func New(opts Options, router *Router, logger *slog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(opts.Server, "", opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		opts:   opts,
		matrix: client,
		router: router,
		seen:   dedupe.New(seenTTL, seenMaxSize),
		logger: logger.With("component", "bot"),
	}, nil
}

// Login authenticates with the access token or, failing that, the password.
func (b *Bot) Login(ctx context.Context) error {
	if b.opts.AccessToken != "" {
		resp, err := b.matrix.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("checking access token: %w", err)
		}
		b.matrix.UserID = resp.UserID
		b.matrix.DeviceID = resp.DeviceID
		b.userID = resp.UserID
		b.logger.Info("using access token", "user_id", resp.UserID, "device_id", resp.DeviceID)
		return nil
	}

	b.logger.Info("using password based authentication for the bot", "user", b.opts.Username)
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.opts.Username,
		},
		Password:                 b.opts.Password,
		DeviceID:                 id.DeviceID(b.opts.DeviceID),
		InitialDeviceDisplayName: "matrix-registration-bot",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}
	b.userID = resp.UserID
	b.logger.Info("logged in", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// Matrix returns the underlying client, e.g. for encryption setup.
func (b *Bot) Matrix() *mautrix.Client {
	return b.matrix
}

// UserID returns the logged in user.
func (b *Bot) UserID() id.UserID {
	return b.userID
}

// Run syncs until ctx is cancelled, then waits for running commands.
func (b *Bot) Run(ctx context.Context) error {
	defer b.seen.Close()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}

	b.startedAt = time.Now()
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		b.handleMessageEvent(ctx, evt)
	})
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	b.logger.Info("connecting to matrix homeserver", "homeserver", b.opts.Server, "user_id", b.userID)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down, waiting for running commands")
		b.wg.Wait()
		return nil
	case err := <-syncErr:
		b.wg.Wait()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// accept filters events down to fresh, unseen text messages from others.
func (b *Bot) accept(evt *event.Event) (Message, bool) {
	if evt.Sender == b.userID {
		return Message{}, false
	}
	// Backlog delivered by the first sync must not re-run old commands.
	if evt.Timestamp < b.startedAt.UnixMilli() {
		return Message{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return Message{}, false
	}
	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("dropping duplicate event", "event_id", evt.ID)
		return Message{}, false
	}
	return Message{Sender: evt.Sender.String(), RoomID: evt.RoomID.String(), Body: content.Body}, true
}

func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	msg, ok := b.accept(evt)
	if !ok || !b.router.Recognizes(msg.Body) {
		return
	}

	// Commands run independently so a slow admin API call does not block sync.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.process(ctx, evt.RoomID, msg)
	}()
}

func (b *Bot) process(ctx context.Context, roomID id.RoomID, msg Message) {
	if b.opts.Typing {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	for _, reply := range b.router.Handle(ctx, msg) {
		b.sendMarkdown(roomID, reply)
	}
}

func (b *Bot) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if !b.opts.AutoJoin || evt.GetStateKey() != b.userID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.matrix.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID.String(), "inviter", evt.Sender.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// setTyping sends a typing notification, ignoring failures.
func (b *Bot) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMarkdown posts a notice with the markdown as body and its HTML rendering
// as formatted body.
func (b *Bot) sendMarkdown(roomID id.RoomID, markdown string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if _, err := b.matrix.SendMessageEvent(ctx, roomID, event.EventMessage, markdownContent(markdown, b.logger)); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

func markdownContent(markdown string, logger *slog.Logger) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    markdown,
	}
	html, err := render.HTML(markdown)
	if err != nil {
		logger.Warn("sending reply without formatting", "error", err)
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = html
	return content
}
