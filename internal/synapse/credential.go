// ABOUTME: Bearer credential resolution for the admin API
// ABOUTME: Uses a static token or a one-time password login cached for the client lifetime

package synapse

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// credentialResolver hands out the bearer credential. A resolved credential is
// never refreshed, even when the server later rejects it.
type credentialResolver struct {
	static string
	login  func(ctx context.Context) (string, error)

	mu     sync.RWMutex
	cached string
	group  singleflight.Group
}

func (r *credentialResolver) resolve(ctx context.Context) (string, error) {
	if r.static != "" {
		return r.static, nil
	}
	if tok := r.current(); tok != "" {
		return tok, nil
	}

	// Concurrent first callers share one login.
	v, err, _ := r.group.Do("login", func() (any, error) {
		if tok := r.current(); tok != "" {
			return tok, nil
		}
		tok, err := r.login(ctx)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cached = tok
		r.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *credentialResolver) current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached
}
