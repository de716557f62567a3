// ABOUTME: Chat command router for registration token administration
// ABOUTME: Parses commands, checks the allow-list and turns client results into replies

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/2389/registration-bot/internal/allowlist"
	"github.com/2389/registration-bot/internal/render"
	"github.com/2389/registration-bot/internal/store"
	"github.com/2389/registration-bot/internal/synapse"
)

// shortListThreshold is the token count from which list switches to the short form.
const shortListThreshold = 10

// TokenService is the registration token API used by the router.
type TokenService interface {
	ListTokens(ctx context.Context) ([]synapse.Token, error)
	GetToken(ctx context.Context, token string) (*synapse.Token, error)
	CreateToken(ctx context.Context, expiryDays int) (*synapse.Token, error)
	DeleteToken(ctx context.Context, token string) (*synapse.Token, error)
	DeleteAllTokens(ctx context.Context) ([]synapse.Token, error)
}

// CommandObserver is notified of every handled command.
type CommandObserver interface {
	CommandHandled(command string)
}

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	Tokens     TokenService
	Allowed    *allowlist.List
	Audit      store.Recorder  // optional
	Observer   CommandObserver // optional
	Prefix     string
	ExpiryDays int
	Logger     *slog.Logger
}

// Message is an inbound chat message.
type Message struct {
	Sender string
	RoomID string
	Body   string
}

// Router maps chat commands onto TokenService calls.
type Router struct {
	tokens     TokenService
	allowed    *allowlist.List
	audit      store.Recorder
	observer   CommandObserver
	prefix     string
	expiryDays int
	logger     *slog.Logger
}

// NewRouter creates a router. A nil allow-list denies all restricted commands.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowed := cfg.Allowed
	if allowed == nil {
		allowed, _ = allowlist.New(nil)
	}
	return &Router{
		tokens:     cfg.Tokens,
		allowed:    allowed,
		audit:      cfg.Audit,
		observer:   cfg.Observer,
		prefix:     cfg.Prefix,
		expiryDays: cfg.ExpiryDays,
		logger:     logger.With("component", "router"),
	}
}

// parse splits a message into a lower-cased command word and its arguments.
func (r *Router) parse(body string) (string, []string, bool) {
	body = strings.TrimSpace(body)
	if r.prefix != "" {
		if !strings.HasPrefix(body, r.prefix) {
			return "", nil, false
		}
		body = strings.TrimSpace(strings.TrimPrefix(body, r.prefix))
	}
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Recognizes reports whether body is a command the router handles.
func (r *Router) Recognizes(body string) bool {
	cmd, _, ok := r.parse(body)
	if !ok {
		return false
	}
	if cmd == "help" {
		return true
	}
	_, known := r.restricted()[cmd]
	return known
}

// Handle runs the command in msg and returns the markdown replies in the
// order they should be sent. Nil means the message is not for the bot.
func (r *Router) Handle(ctx context.Context, msg Message) []string {
	cmd, args, ok := r.parse(msg.Body)
	if !ok {
		return nil
	}

	if cmd == "help" {
		r.logger.Info("help viewed", "sender", msg.Sender, "room", msg.RoomID)
		r.observe(cmd)
		return []string{HelpText()}
	}

	handler, known := r.restricted()[cmd]
	if !known {
		return nil
	}
	if !r.allowed.Allowed(msg.Sender) {
		r.logger.Info("ignoring restricted command from sender not on allow-list",
			"sender", msg.Sender, "room", msg.RoomID, "command", cmd)
		return nil
	}

	r.logger.Info("handling command", "sender", msg.Sender, "room", msg.RoomID, "command", cmd, "args", args)
	r.observe(cmd)
	return handler(ctx, msg, args)
}

type handlerFunc func(ctx context.Context, msg Message, args []string) []string

func (r *Router) restricted() map[string]handlerFunc {
	return map[string]handlerFunc{
		"list":       r.list,
		"show":       r.show,
		"create":     r.create,
		"delete":     r.deleteTokens,
		"delete-all": r.deleteAll,
		"allow":      r.allow,
		"disallow":   r.disallow,
	}
}

func (r *Router) list(ctx context.Context, _ Message, _ []string) []string {
	tokens, err := r.tokens.ListTokens(ctx)
	if err != nil {
		r.logger.Warn("listing tokens failed", "error", err)
		return []string{errorReply(err)}
	}
	switch {
	case len(tokens) == 0:
		return []string{"There are no registration tokens."}
	case len(tokens) < shortListThreshold:
		return []string{render.TokenList(tokens)}
	default:
		return []string{"All tokens: " + render.TokenShortList(tokens)}
	}
}

func (r *Router) show(ctx context.Context, msg Message, args []string) []string {
	if len(args) == 0 {
		return []string{"You must give a token!"}
	}

	var replies, shown []string
	for _, arg := range args {
		tok, err := r.tokens.GetToken(ctx, strings.TrimSpace(arg))
		if err != nil {
			r.logFailure("show", msg.Sender, arg, err)
			replies = append(replies, errorReply(err))
			continue
		}
		shown = append(shown, render.Token(*tok))
	}
	if len(shown) > 0 {
		replies = append(replies, strings.Join(shown, "\n"))
	}
	return replies
}

func (r *Router) create(ctx context.Context, msg Message, args []string) []string {
	days := r.expiryDays
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return []string{fmt.Sprintf("Invalid number of days: `%s`", args[0])}
		}
		days = n
	}

	tok, err := r.tokens.CreateToken(ctx, days)
	if err != nil {
		r.logger.Warn("creating token failed", "sender", msg.Sender, "error", err)
		r.record(ctx, msg, store.ActionCreateToken, "", err, nil)
		return []string{errorReply(err)}
	}
	r.logger.Info("token created", "sender", msg.Sender, "token", tok.Token)
	r.record(ctx, msg, store.ActionCreateToken, tok.Token, nil, map[string]any{"expiry_days": days})
	return []string{render.Token(*tok)}
}

func (r *Router) deleteTokens(ctx context.Context, msg Message, args []string) []string {
	if len(args) == 0 {
		return []string{"You must give a token!"}
	}

	var replies []string
	var deleted []synapse.Token
	for _, arg := range args {
		name := strings.TrimSpace(arg)
		tok, err := r.tokens.DeleteToken(ctx, name)
		if err != nil {
			r.logFailure("delete", msg.Sender, name, err)
			if !errors.Is(err, synapse.ErrMalformedInput) {
				r.record(ctx, msg, store.ActionDeleteToken, name, err, nil)
			}
			replies = append(replies, errorReply(err))
			continue
		}
		r.record(ctx, msg, store.ActionDeleteToken, tok.Token, nil, nil)
		deleted = append(deleted, *tok)
	}
	r.logger.Info("tokens deleted", "sender", msg.Sender, "count", len(deleted))
	return append(replies, deletedReply(deleted))
}

func (r *Router) deleteAll(ctx context.Context, msg Message, _ []string) []string {
	deleted, err := r.tokens.DeleteAllTokens(ctx)
	r.record(ctx, msg, store.ActionDeleteAllTokens, "", err, map[string]any{"deleted": len(deleted)})
	if err != nil {
		r.logger.Warn("deleting all tokens failed", "sender", msg.Sender, "deleted", len(deleted), "error", err)
		return []string{errorReply(err), deletedReply(deleted)}
	}
	r.logger.Info("all tokens deleted", "sender", msg.Sender, "count", len(deleted))
	return []string{deletedReply(deleted)}
}

func (r *Router) allow(ctx context.Context, msg Message, args []string) []string {
	if len(args) == 0 {
		return []string{"You must give a user or pattern!"}
	}
	if _, err := r.allowed.Add(args...); err != nil {
		return []string{errorReply(err)}
	}
	for _, p := range args {
		r.record(ctx, msg, store.ActionAllow, p, nil, nil)
	}
	return []string{fmt.Sprintf("allowing %s (if valid)", strings.Join(args, ", "))}
}

func (r *Router) disallow(ctx context.Context, msg Message, args []string) []string {
	if len(args) == 0 {
		return []string{"You must give a user or pattern!"}
	}
	r.allowed.Remove(args...)
	for _, p := range args {
		r.record(ctx, msg, store.ActionDisallow, p, nil, nil)
	}
	return []string{fmt.Sprintf("disallowing %s (if valid)", strings.Join(args, ", "))}
}

func (r *Router) observe(cmd string) {
	if r.observer != nil {
		r.observer.CommandHandled(cmd)
	}
}

// record appends to the audit log. Audit failures are logged, never surfaced.
func (r *Router) record(ctx context.Context, msg Message, action store.Action, token string, opErr error, detail map[string]any) {
	if r.audit == nil {
		return
	}
	e := &store.Entry{
		Actor:   msg.Sender,
		Action:  action,
		Token:   token,
		RoomID:  msg.RoomID,
		Outcome: synapse.Outcome(opErr),
		Detail:  detail,
	}
	if err := r.audit.Append(ctx, e); err != nil {
		r.logger.Error("writing audit entry failed", "action", action, "error", err)
	}
}

func (r *Router) logFailure(cmd, sender, token string, err error) {
	switch {
	case errors.Is(err, synapse.ErrMalformedInput):
		r.logger.Info("token not in correct format", "command", cmd, "sender", sender, "token", token)
	case errors.Is(err, synapse.ErrNotFound):
		r.logger.Info("token not found", "command", cmd, "sender", sender, "token", token)
	default:
		r.logger.Warn("token request failed", "command", cmd, "sender", sender, "token", token, "error", err)
	}
}

func errorReply(err error) string {
	return "The bot encountered the following error:\n" + err.Error()
}

func deletedReply(deleted []synapse.Token) string {
	if len(deleted) == 0 {
		return "No token deleted"
	}
	return "Deleted the following token(s): " + render.TokenShortList(deleted)
}
