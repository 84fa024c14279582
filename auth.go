// auth.go
// -------
// Typed authentication operations. These are thin wrappers over Do that decode
// the backend's envelope into domain values and hand the token pair to the
// TokenManager. The refresh call wired into the manager lives here too: it is
// an ordinary API call, so it inherits the executor's retry policy, and it
// runs unauthenticated so a rejected refresh can never trigger itself.
package ledgerbridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

var (
	errMissingData  = errors.New("response envelope has no data object")
	errMissingToken = errors.New("response data carries no access token")
)

// Session identifies the logged-in user as reported by the backend.
type Session struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Login authenticates with email and password. On success the token pair is
// installed in the manager (and mirrored to the credential store) and the
// lifecycle becomes Authenticated.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   Payload{"email": email, "password": password},
	})
	if err != nil {
		return nil, err
	}
	return c.installSession(ctx, resp)
}

// Register creates an account. The backend logs the new user straight in, so
// this installs the returned token pair exactly like Login.
func (c *Client) Register(ctx context.Context, name, email, password string) (*Session, error) {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/register",
		Body:   Payload{"name": name, "email": email, "password": password},
	})
	if err != nil {
		return nil, err
	}
	return c.installSession(ctx, resp)
}

// Logout ends the session. The backend is notified best-effort with a short
// deadline; local logout proceeds regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	if _, ok := c.auth.AccessToken(); ok {
		_, err := c.Do(ctx, &Request{
			Method:  http.MethodPost,
			Path:    "/auth/logout",
			UseAuth: true,
			Timeout: 5 * time.Second,
		})
		if err != nil {
			c.logger.Warn(ctx, "backend logout notification failed", "error", err)
		}
	}
	c.auth.Clear(ctx)
	c.cache.invalidatePrefix("/")
	return nil
}

// refreshCall exchanges the refresh token for a new pair. Wired into the
// TokenManager at construction.
func (c *Client) refreshCall(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   Payload{"refresh_token": refreshToken},
	})
	if err != nil {
		return nil, err
	}
	data, ok := resp.Body.Data()
	if !ok {
		return nil, parseFailure(resp.StatusCode, errMissingData)
	}
	access, _ := data.String("access_token")
	if access == "" {
		return nil, parseFailure(resp.StatusCode, errMissingToken)
	}
	newRefresh, _ := data.String("refresh_token")
	if newRefresh == "" {
		// Backend rotates refresh tokens only sometimes; keep the old one.
		newRefresh = refreshToken
	}
	return tokenWithClaimTimes(access, newRefresh), nil
}

func (c *Client) installSession(ctx context.Context, resp *Response) (*Session, error) {
	data, ok := resp.Body.Data()
	if !ok {
		return nil, parseFailure(resp.StatusCode, errMissingData)
	}
	access, _ := data.String("access_token")
	if access == "" {
		return nil, parseFailure(resp.StatusCode, errMissingToken)
	}
	refreshTok, _ := data.String("refresh_token")
	if err := c.auth.SetTokens(ctx, access, refreshTok); err != nil {
		return nil, err
	}

	session := &Session{}
	if user, ok := data.Object("user"); ok {
		if err := user.Decode(session); err != nil {
			return nil, err
		}
	}
	return session, nil
}
