// Package synapse is a client for the registration token section of the
// Synapse admin API.
//
// # Overview
//
// A Client owns one lazily created HTTP session bound to the homeserver base
// URL and one lazily resolved bearer credential. Both are initialized at most
// once per Client, even under concurrent first use. The server is the only
// source of truth: every operation fetches fresh state and nothing is cached
// past the call that produced it.
//
// # Operations
//
//   - ListTokens: GET the token collection
//   - GetToken: GET a single token
//   - CreateToken: POST a one-use token expiring after N days
//   - DeleteToken: GET then DELETE a token, returning the record as it was
//   - DeleteAllTokens: list, then delete each token sequentially
//
// # Errors
//
// Failures are returned as *APIError values whose Kind is one of the
// sentinels below, so callers can branch with errors.Is:
//
//   - ErrMalformedInput: token fails ValidTokenFormat, no request is made
//   - ErrNotFound: 404 on a token lookup
//   - ErrAuthFailure: 401 or 403
//   - ErrConnectivity: any other non-2xx status or transport failure
//   - ErrTimeout: the per-request deadline elapsed
//
// # Usage
//
//	c, err := synapse.New(synapse.Options{
//		BaseURL: "https://matrix.example.org",
//		Token:   os.Getenv("API_TOKEN"),
//	})
//	tokens, err := c.ListTokens(ctx)
package synapse
