package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const currentUserTTL = time.Minute

// User is the signed-in account.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// Login exchanges credentials for a token pair and stores it. A 401 here is
// an ordinary failure ("invalid credentials"), never a refresh trigger.
func (c *Client) Login(ctx context.Context, email, password string) (*oauth2.Token, error) {
	body, err := c.execute(ctx, RequestConfig{
		Method: http.MethodPost,
		Path:   loginPath,
		Body: map[string]string{
			"email":    email,
			"password": password,
		},
	})
	if err != nil {
		return nil, err
	}

	token, err := parseTokenResponse(body)
	if err != nil {
		return nil, err
	}
	if err := c.session.SetTokens(token); err != nil {
		return nil, err
	}
	c.session.cache.Invalidate("")
	c.logger.Info("signed in", zap.String("email", email))
	return token, nil
}

// Logout tells the server the session is over and clears local state. The
// server call is best-effort: local tokens are cleared even when it fails.
func (c *Client) Logout(ctx context.Context) {
	if token := c.session.AccessToken(); token != "" {
		reqCtx, cancel := context.WithTimeout(ctx, LogoutTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+logoutPath, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set(requestIDHeader, c.newID())
			resp, doErr := c.retry.DoWithContext(reqCtx, req)
			if doErr != nil {
				err = doErr
			} else {
				resp.Body.Close()
			}
		}
		if err != nil {
			c.logger.Warn("logout request failed", zap.Error(err))
		}
	}

	c.session.Clear()
}

// CurrentUser returns the signed-in user, cached for a minute.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.CachedGet(ctx, mePath, currentUserTTL, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
