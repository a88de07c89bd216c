package gooddata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gdcli/internal/token"

	"golang.org/x/oauth2"
)

// Login authenticates with a user name and password, returning the super secured
// token for the session. Subsequent calls are authenticated with temporary tokens
// derived from it.
func (c *APIClient) Login(ctx context.Context, user, password string) (*token.ExtendedToken, error) {
	var body loginRequest
	body.PostUserLogin.Login = user
	body.PostUserLogin.Password = password
	body.PostUserLogin.Remember = 1
	body.PostUserLogin.VerifyLevel = 2

	req, err := c.newRequest(ctx, http.MethodPost, c.url("/gdc/account/login"), body)
	if err != nil {
		return nil, err
	}
	c.log.Debug(fmt.Sprintf("Login request for %s", user))

	var response loginResponse
	if _, err := send(c.httpClient, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("Login: request error: %v", err))
		return nil, fmt.Errorf("login failed: %w", err)
	}

	sst, err := token.NewExtendedToken(token.SuperSecuredToken, &oauth2.Token{
		AccessToken: response.UserLogin.Token,
		TokenType:   token.SuperSecuredToken.String(),
		Expiry:      time.Now().Add(sstLifetime),
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if response.UserLogin.Profile == "" {
		return nil, errors.New("login response did not contain a profile")
	}
	sst.User = user
	sst.Profile = response.UserLogin.Profile
	sst.State = response.UserLogin.State

	if err := c.Resume(sst); err != nil {
		return nil, err
	}
	c.log.Info(fmt.Sprintf("Login: logged in as %s", user))
	return sst, nil
}

// Resume restores an authenticated session from a previously issued super secured
// token, for example one stored by an earlier invocation.
func (c *APIClient) Resume(sst *token.ExtendedToken) error {
	if !sst.IsValid() {
		return errors.New("session token missing or expired, please log in again")
	}
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.sst = sst
	c.authClient = &http.Client{
		Transport: &ttTransport{
			base:   base,
			source: token.NewTemporarySource(c.ctx, sst, c.fetchTemporaryToken, ttLifetime),
		},
		Timeout: c.httpClient.Timeout,
	}
	return nil
}

// Session returns the current super secured token, or nil when not logged in.
func (c *APIClient) Session() *token.ExtendedToken {
	return c.sst
}

// Logout ends the session on the server and forgets the local tokens.
func (c *APIClient) Logout(ctx context.Context) error {
	if c.sst == nil {
		return ErrNotLoggedIn
	}
	if c.sst.State != "" {
		req, err := c.newRequest(ctx, http.MethodDelete, c.url(c.sst.State), nil)
		if err != nil {
			return err
		}
		req.Header.Set(headerSST, c.sst.Token.AccessToken)
		if _, err := do[struct{}](c, req, nil); err != nil {
			c.log.Error(fmt.Sprintf("Logout: request error: %v", err))
			return fmt.Errorf("logout failed: %w", err)
		}
	}
	c.log.Info(fmt.Sprintf("Logout: logged out %s", c.sst.User))
	c.sst = nil
	c.authClient = nil
	return nil
}

// fetchTemporaryToken exchanges the super secured token for a temporary token.
func (c *APIClient) fetchTemporaryToken(ctx context.Context, sst string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.url("/gdc/account/token"), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(headerSST, sst)

	var response tokenResponse
	if _, err := send(c.httpClient, req, &response); err != nil {
		c.log.Error(fmt.Sprintf("fetchTemporaryToken: request error: %v", err))
		return "", err
	}
	c.log.Debug("fetchTemporaryToken: new temporary token issued")
	return response.UserToken.Token, nil
}
