// ABOUTME: Lazily created HTTP session bound to the homeserver base URL
// ABOUTME: Guarantees a single session per client even under concurrent first use

package synapse

import (
	"net/http"
	"strings"
	"sync"
)

// Session is the connection state shared by all requests of one Client.
type Session struct {
	BaseURL string
	HTTP    *http.Client
}

// sessionManager creates the Session on first use and returns it thereafter.
type sessionManager struct {
	baseURL   string
	newClient func() *http.Client

	once    sync.Once
	session *Session
}

func newSessionManager(baseURL string, newClient func() *http.Client) *sessionManager {
	return &sessionManager{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		newClient: newClient,
	}
}

// ensure returns the session, creating it exactly once.
func (m *sessionManager) ensure() *Session {
	m.once.Do(func() {
		m.session = &Session{
			BaseURL: m.baseURL,
			HTTP:    m.newClient(),
		}
	})
	return m.session
}
