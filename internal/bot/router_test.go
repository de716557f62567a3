// ABOUTME: Tests for the chat command router
// ABOUTME: Uses an in-memory token service and audit recorder to check replies and side effects

package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/registration-bot/internal/allowlist"
	"github.com/2389/registration-bot/internal/store"
	"github.com/2389/registration-bot/internal/synapse"
)

const (
	admin = "@admin:example.org"
	room  = "!room:example.org"
)

// fakeTokens is an in-memory TokenService.
type fakeTokens struct {
	mu          sync.Mutex
	tokens      []synapse.Token
	err         error // returned by every call when set
	createdDays []int
	deleteAllOK int // DeleteAllTokens fails after this many when err is set
}

func (f *fakeTokens) ListTokens(context.Context) ([]synapse.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]synapse.Token{}, f.tokens...), nil
}

func (f *fakeTokens) find(name string) (*synapse.Token, int, error) {
	if !synapse.ValidTokenFormat(name) {
		return nil, -1, &synapse.APIError{Kind: synapse.ErrMalformedInput, Token: name}
	}
	for i, t := range f.tokens {
		if t.Token == name {
			tok := t
			return &tok, i, nil
		}
	}
	return nil, -1, &synapse.APIError{Kind: synapse.ErrNotFound, Token: name, StatusCode: 404, Reason: "Not Found"}
}

func (f *fakeTokens) GetToken(_ context.Context, name string) (*synapse.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tok, _, err := f.find(name)
	return tok, err
}

func (f *fakeTokens) CreateToken(_ context.Context, days int) (*synapse.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.createdDays = append(f.createdDays, days)
	one := 1
	tok := synapse.Token{Token: fmt.Sprintf("new%d", len(f.createdDays)), UsesAllowed: &one}
	f.tokens = append(f.tokens, tok)
	return &tok, nil
}

func (f *fakeTokens) DeleteToken(_ context.Context, name string) (*synapse.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tok, i, err := f.find(name)
	if err != nil {
		return nil, err
	}
	f.tokens = append(f.tokens[:i], f.tokens[i+1:]...)
	return tok, nil
}

func (f *fakeTokens) DeleteAllTokens(context.Context) ([]synapse.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		n := f.deleteAllOK
		if n > len(f.tokens) {
			n = len(f.tokens)
		}
		deleted := append([]synapse.Token{}, f.tokens[:n]...)
		f.tokens = f.tokens[n:]
		return deleted, f.err
	}
	deleted := f.tokens
	f.tokens = nil
	return deleted, nil
}

type fakeRecorder struct {
	entries []store.Entry
}

func (f *fakeRecorder) Append(_ context.Context, e *store.Entry) error {
	f.entries = append(f.entries, *e)
	return nil
}

type countingObserver struct {
	commands []string
}

func (c *countingObserver) CommandHandled(cmd string) {
	c.commands = append(c.commands, cmd)
}

func namedTokens(names ...string) []synapse.Token {
	out := make([]synapse.Token, len(names))
	for i, n := range names {
		out[i] = synapse.Token{Token: n}
	}
	return out
}

func newTestRouter(t *testing.T, tokens *fakeTokens, prefix string) (*Router, *fakeRecorder, *countingObserver) {
	t.Helper()
	allowed, err := allowlist.New([]string{admin})
	require.NoError(t, err)
	rec := &fakeRecorder{}
	obs := &countingObserver{}
	r := NewRouter(RouterConfig{
		Tokens:     tokens,
		Allowed:    allowed,
		Audit:      rec,
		Observer:   obs,
		Prefix:     prefix,
		ExpiryDays: 7,
	})
	return r, rec, obs
}

func send(r *Router, sender, body string) []string {
	return r.Handle(context.Background(), Message{Sender: sender, RoomID: room, Body: body})
}

func TestHelp_Unrestricted(t *testing.T) {
	r, _, obs := newTestRouter(t, &fakeTokens{}, "")

	replies := send(r, "@stranger:example.org", "help")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Restricted commands")
	assert.Contains(t, replies[0], Version)
	assert.Equal(t, []string{"help"}, obs.commands)
}

func TestRestricted_IgnoredForStrangers(t *testing.T) {
	tokens := &fakeTokens{tokens: namedTokens("abc")}
	r, rec, obs := newTestRouter(t, tokens, "")

	for _, body := range []string{"list", "show abc", "create", "delete abc", "delete-all", "allow @me:example.org"} {
		assert.Nil(t, send(r, "@stranger:example.org", body), body)
	}
	assert.Len(t, tokens.tokens, 1)
	assert.Empty(t, rec.entries)
	assert.Empty(t, obs.commands)
}

func TestUnknownOrEmpty_Ignored(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeTokens{}, "")

	assert.Nil(t, send(r, admin, "hello there"))
	assert.Nil(t, send(r, admin, "   "))
	assert.False(t, r.Recognizes("hello there"))
	assert.True(t, r.Recognizes("LIST"))
	assert.True(t, r.Recognizes("help"))
}

func TestPrefix(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeTokens{}, "!reg")

	assert.Nil(t, send(r, admin, "list"))
	assert.Equal(t, []string{"There are no registration tokens."}, send(r, admin, "!reg list"))
	assert.Equal(t, []string{"There are no registration tokens."}, send(r, admin, "!reg   LIST"))
}

func TestList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		r, _, _ := newTestRouter(t, &fakeTokens{}, "")
		assert.Equal(t, []string{"There are no registration tokens."}, send(r, admin, "list"))
	})

	t.Run("full form below ten", func(t *testing.T) {
		r, _, _ := newTestRouter(t, &fakeTokens{tokens: namedTokens("a", "b")}, "")
		replies := send(r, admin, "List")
		require.Len(t, replies, 1)
		assert.Equal(t, "**Token:** `a`  \nexpires: does not expire  \nuses left: unlimited\n\n"+
			"**Token:** `b`  \nexpires: does not expire  \nuses left: unlimited\n", replies[0])
	})

	t.Run("short form from ten", func(t *testing.T) {
		names := make([]string, 10)
		for i := range names {
			names[i] = fmt.Sprintf("t%d", i)
		}
		r, _, _ := newTestRouter(t, &fakeTokens{tokens: namedTokens(names...)}, "")
		replies := send(r, admin, "list")
		require.Len(t, replies, 1)
		assert.True(t, strings.HasPrefix(replies[0], "All tokens: `t0`, `t1`"))
		assert.True(t, strings.HasSuffix(replies[0], "`t9`"))
	})

	t.Run("error", func(t *testing.T) {
		err := &synapse.APIError{Kind: synapse.ErrAuthFailure, StatusCode: 401, Reason: "Unauthorized", Method: "GET", URL: "u"}
		r, _, _ := newTestRouter(t, &fakeTokens{err: err}, "")
		replies := send(r, admin, "list")
		require.Len(t, replies, 1)
		assert.True(t, strings.HasPrefix(replies[0], "The bot encountered the following error:\n"))
		assert.Contains(t, replies[0], "Check that the API access token is correct")
	})
}

func TestShow(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeTokens{tokens: namedTokens("abc", "def")}, "")

	assert.Equal(t, []string{"You must give a token!"}, send(r, admin, "show"))

	replies := send(r, admin, "show abc def")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "`abc`")
	assert.Contains(t, replies[0], "`def`")

	replies = send(r, admin, "show missing bad! abc")
	require.Len(t, replies, 3)
	assert.Contains(t, replies[0], `token "missing" not found`)
	assert.Contains(t, replies[1], `token "bad!" is not a valid format`)
	assert.Contains(t, replies[2], "`abc`")
}

func TestCreate(t *testing.T) {
	tokens := &fakeTokens{}
	r, rec, _ := newTestRouter(t, tokens, "")

	replies := send(r, admin, "create")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "**Token:** `new1`")
	assert.Contains(t, replies[0], "uses left: 1")

	send(r, admin, "create 30")
	assert.Equal(t, []int{7, 30}, tokens.createdDays)

	assert.Equal(t, []string{"Invalid number of days: `soon`"}, send(r, admin, "create soon"))
	assert.Equal(t, []string{"Invalid number of days: `-3`"}, send(r, admin, "create -3"))
	assert.Len(t, tokens.createdDays, 2)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, store.ActionCreateToken, rec.entries[0].Action)
	assert.Equal(t, admin, rec.entries[0].Actor)
	assert.Equal(t, room, rec.entries[0].RoomID)
	assert.Equal(t, "new1", rec.entries[0].Token)
	assert.Equal(t, "ok", rec.entries[0].Outcome)
	assert.Equal(t, 30, rec.entries[1].Detail["expiry_days"])
}

func TestDelete(t *testing.T) {
	tokens := &fakeTokens{tokens: namedTokens("abc", "def", "ghi")}
	r, rec, _ := newTestRouter(t, tokens, "")

	assert.Equal(t, []string{"You must give a token!"}, send(r, admin, "delete"))

	replies := send(r, admin, "delete abc missing def bad!")
	require.Len(t, replies, 3)
	assert.Contains(t, replies[0], `token "missing" not found`)
	assert.Contains(t, replies[1], "not a valid format")
	assert.Equal(t, "Deleted the following token(s): `abc`, `def`", replies[2])
	assert.Equal(t, namedTokens("ghi"), tokens.tokens)

	// Malformed input never reached the server and is not audited
	require.Len(t, rec.entries, 3)
	assert.Equal(t, "abc", rec.entries[0].Token)
	assert.Equal(t, "missing", rec.entries[1].Token)
	assert.Equal(t, "not_found", rec.entries[1].Outcome)
	assert.Equal(t, "def", rec.entries[2].Token)

	assert.Equal(t, []string{
		`The bot encountered the following error:` + "\n" + `token "nope" not found (404 Not Found)`,
		"No token deleted",
	}, send(r, admin, "delete nope"))
}

func TestDeleteAll(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		tokens := &fakeTokens{tokens: namedTokens("a", "b")}
		r, rec, _ := newTestRouter(t, tokens, "")

		assert.Equal(t, []string{"Deleted the following token(s): `a`, `b`"}, send(r, admin, "delete-all"))
		assert.Empty(t, tokens.tokens)
		require.Len(t, rec.entries, 1)
		assert.Equal(t, store.ActionDeleteAllTokens, rec.entries[0].Action)
		assert.Equal(t, 2, rec.entries[0].Detail["deleted"])
	})

	t.Run("empty", func(t *testing.T) {
		r, _, _ := newTestRouter(t, &fakeTokens{}, "")
		assert.Equal(t, []string{"No token deleted"}, send(r, admin, "delete-all"))
	})

	t.Run("partial failure", func(t *testing.T) {
		tokens := &fakeTokens{
			tokens:      namedTokens("a", "b", "c"),
			err:         &synapse.APIError{Kind: synapse.ErrConnectivity, StatusCode: 500, Reason: "Internal Server Error", Method: "GET", URL: "u"},
			deleteAllOK: 2,
		}
		r, rec, _ := newTestRouter(t, tokens, "")

		replies := send(r, admin, "delete-all")
		require.Len(t, replies, 2)
		assert.Contains(t, replies[0], "500: Internal Server Error")
		assert.Equal(t, "Deleted the following token(s): `a`, `b`", replies[1])
		require.Len(t, rec.entries, 1)
		assert.Equal(t, "connectivity", rec.entries[0].Outcome)
	})
}

func TestAllowDisallow(t *testing.T) {
	r, rec, _ := newTestRouter(t, &fakeTokens{}, "")
	const alice = "@alice:example.org"

	assert.Nil(t, send(r, alice, "list"))

	assert.Equal(t, []string{"allowing @alice:example.org (if valid)"}, send(r, admin, "allow @alice:example.org"))
	assert.Equal(t, []string{"There are no registration tokens."}, send(r, alice, "list"))

	assert.Equal(t, []string{"disallowing @alice:example.org (if valid)"}, send(r, admin, "disallow @alice:example.org"))
	assert.Nil(t, send(r, alice, "list"))

	assert.Equal(t, []string{"You must give a user or pattern!"}, send(r, admin, "allow"))

	replies := send(r, admin, "allow @bad(:example.org")
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0], "The bot encountered the following error:"))

	require.Len(t, rec.entries, 2)
	assert.Equal(t, store.ActionAllow, rec.entries[0].Action)
	assert.Equal(t, store.ActionDisallow, rec.entries[1].Action)
	assert.Equal(t, alice, rec.entries[1].Token)
}

func TestNilAllowListDeniesAll(t *testing.T) {
	r := NewRouter(RouterConfig{Tokens: &fakeTokens{}})
	assert.Nil(t, send(r, admin, "list"))
	assert.NotNil(t, send(r, admin, "help"))
}
