// ABOUTME: Typed error taxonomy for registration token API failures
// ABOUTME: Maps HTTP statuses and transport errors onto sentinel error kinds

package synapse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

var (
	// ErrMalformedInput means a token failed ValidTokenFormat before any request was made.
	ErrMalformedInput = errors.New("malformed input")
	// ErrNotFound means the server answered 404 for a token lookup.
	ErrNotFound = errors.New("not found")
	// ErrAuthFailure means the server rejected the credential.
	ErrAuthFailure = errors.New("authentication failure")
	// ErrConnectivity covers every other failing status and transport error.
	ErrConnectivity = errors.New("connectivity failure")
	// ErrTimeout means the request deadline elapsed.
	ErrTimeout = errors.New("timeout")

	// ErrMissingCredentials is returned by New when neither a static token
	// nor a username and password pair is configured.
	ErrMissingCredentials = errors.New("either an API token or a username and password are required")
)

// APIError is the failure returned by every Client operation.
type APIError struct {
	Kind       error  // one of the Err* sentinels
	Op         string // client operation, e.g. "get_token"
	Method     string
	URL        string
	StatusCode int
	Reason     string // HTTP reason phrase or Matrix error message
	Token      string
	Err        error // underlying transport or decode error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case ErrMalformedInput:
		return fmt.Sprintf("token %q is not a valid format", e.Token)
	case ErrNotFound:
		if e.Token != "" {
			return fmt.Sprintf("token %q not found (%d %s)", e.Token, e.StatusCode, e.Reason)
		}
		return fmt.Sprintf("not found or API not reachable (%d %s)", e.StatusCode, e.Reason)
	case ErrAuthFailure:
		return fmt.Sprintf("the registration api returned `%d: %s` for %s: %s. Check that the API access token is correct",
			e.StatusCode, e.Reason, e.Method, e.URL)
	case ErrTimeout:
		return fmt.Sprintf("request timed out for %s: %s", e.Method, e.URL)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("the registration api returned `%d: %s` for %s: %s", e.StatusCode, e.Reason, e.Method, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Method, e.URL)
}

// Is matches the error kind so errors.Is(err, ErrNotFound) works.
func (e *APIError) Is(target error) bool {
	return e.Kind == target
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// matrixError is the standard Matrix error body.
type matrixError struct {
	ErrCode string `json:"errcode"`
	Message string `json:"error"`
}

// checkResponse turns a non-2xx response into an APIError. tokenLookup marks
// requests addressing a single token, where 404 means the token is unknown.
func checkResponse(op string, resp *http.Response, token string, tokenLookup bool) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	e := &APIError{
		Op:         op,
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Reason:     http.StatusText(resp.StatusCode),
		Token:      token,
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var merr matrixError
	if json.Unmarshal(body, &merr) == nil && merr.Message != "" {
		e.Reason = merr.Message
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && tokenLookup:
		e.Kind = ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.Kind = ErrAuthFailure
	default:
		e.Kind = ErrConnectivity
	}
	return e
}

// transportError classifies an error returned by http.Client.Do.
func transportError(op string, req *http.Request, err error) error {
	e := &APIError{
		Kind:   ErrConnectivity,
		Op:     op,
		Method: req.Method,
		URL:    req.URL.String(),
		Err:    err,
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		e.Kind = ErrTimeout
	}
	return e
}

// Outcome maps an operation result onto a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedInput):
		return "malformed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthFailure):
		return "auth"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "connectivity"
	}
}
