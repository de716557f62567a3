// ABOUTME: Tests for the registration admin CLI
// ABOUTME: Runs subcommands against an httptest admin API and a temp audit log

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/registration-bot/internal/synapse"
)

// tokenServer is a minimal registration token admin API.
type tokenServer struct {
	mu     sync.Mutex
	tokens map[string]synapse.Token
	order  []string
	nextID int
}

func newTokenServer(names ...string) *tokenServer {
	s := &tokenServer{tokens: map[string]synapse.Token{}}
	for _, n := range names {
		s.add(synapse.Token{Token: n})
	}
	return s
}

func (s *tokenServer) add(t synapse.Token) {
	s.tokens[t.Token] = t
	s.order = append(s.order, t.Token)
}

func (s *tokenServer) remove(name string) {
	delete(s.tokens, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer syt_admin" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	name := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, synapse.TokensPath), "/")
	switch {
	case name == "" && r.Method == http.MethodGet:
		list := make([]synapse.Token, 0, len(s.order))
		for _, n := range s.order {
			list = append(list, s.tokens[n])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"registration_tokens": list})
	case name == "new" && r.Method == http.MethodPost:
		var body struct {
			UsesAllowed int   `json:"uses_allowed"`
			ExpiryTime  int64 `json:"expiry_time"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.nextID++
		t := synapse.Token{Token: fmt.Sprintf("created%d", s.nextID), UsesAllowed: &body.UsesAllowed, ExpiryTime: &body.ExpiryTime}
		s.add(t)
		_ = json.NewEncoder(w).Encode(t)
	default:
		t, ok := s.tokens[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"No such registration token"}`))
			return
		}
		if r.Method == http.MethodDelete {
			s.remove(name)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(t)
	}
}

func setupCLI(t *testing.T, srv *tokenServer, withAudit bool) string {
	t.Helper()
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	dir := t.TempDir()
	content := fmt.Sprintf("api:\n  base_url: %q\n  token: \"syt_admin\"\n", hs.URL)
	if withAudit {
		content += fmt.Sprintf("audit:\n  path: %q\n", filepath.Join(dir, "audit.db"))
	}
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestList(t *testing.T) {
	cfg := setupCLI(t, newTokenServer("abc", "def"), false)

	out, err := runCLI(t, cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Registration Tokens")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "def")
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "never")
}

func TestList_Empty(t *testing.T) {
	cfg := setupCLI(t, newTokenServer(), false)

	out, err := runCLI(t, cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "(no tokens)")
}

func TestShow(t *testing.T) {
	cfg := setupCLI(t, newTokenServer("abc"), false)

	out, err := runCLI(t, cfg, "show", "abc", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `token "missing" not found`)
	assert.Contains(t, out, "abc")
}

func TestCreateAndAudit(t *testing.T) {
	srv := newTokenServer()
	cfg := setupCLI(t, srv, true)

	out, err := runCLI(t, cfg, "create", "--days", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Created token created1")
	assert.Contains(t, srv.tokens, "created1")

	out, err = runCLI(t, cfg, "delete", "created1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted token created1")
	assert.Empty(t, srv.tokens)

	out, err = runCLI(t, cfg, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "create_token")
	assert.Contains(t, out, "delete_token")
	assert.Contains(t, out, "created1")
}

func TestDeleteAll(t *testing.T) {
	srv := newTokenServer("a", "b")
	cfg := setupCLI(t, srv, false)

	_, err := runCLI(t, cfg, "delete-all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	assert.Len(t, srv.tokens, 2)

	out, err := runCLI(t, cfg, "delete-all", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 token(s): a, b")
	assert.Empty(t, srv.tokens)
}

func TestAudit_NotConfigured(t *testing.T) {
	cfg := setupCLI(t, newTokenServer(), false)

	_, err := runCLI(t, cfg, "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.path is not configured")
}

func TestMalformedToken(t *testing.T) {
	cfg := setupCLI(t, newTokenServer(), false)

	_, err := runCLI(t, cfg, "delete", "not valid!")
	require.Error(t, err)
	assert.ErrorIs(t, err, synapse.ErrMalformedInput)
}
