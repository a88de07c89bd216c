// Package token holds the authentication tokens used against the GoodData API.
//
// A password login yields a long-lived Super Secured Token (SST). The SST is then
// exchanged for short-lived Temporary Tokens (TT) which authenticate every other API
// call. Both are carried as oauth2.Token values so the oauth2 package's expiry and
// reuse machinery can manage the TT.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// TokenType is the type of a decorated Token.
type TokenType int

const (
	NoneToken TokenType = iota
	SuperSecuredToken
	TemporaryToken
)

var tokenName = map[TokenType]string{
	NoneToken:         "invalid",
	SuperSecuredToken: "sst",
	TemporaryToken:    "tt",
}

// String returns the TokenType name string.
func (tt TokenType) String() string {
	return tokenName[tt]
}

// ExtendedToken is a token with the account information returned at login.
type ExtendedToken struct {
	Type    TokenType     `json:"type"`
	Token   *oauth2.Token `json:"token"`
	User    string        `json:"user"`
	Profile string        `json:"profile"` // account profile uri, eg /gdc/account/profile/123
	State   string        `json:"state"`   // login state uri, deleted on logout
}

// NewExtendedToken creates a new ExtendedToken of the given type.
func NewExtendedToken(typer TokenType, token *oauth2.Token) (*ExtendedToken, error) {
	if token == nil {
		return nil, errors.New("nil token received")
	}
	switch typer {
	case SuperSecuredToken, TemporaryToken:
	default:
		return nil, errors.New("invalid token type received")
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("empty %s token received", typer)
	}
	return &ExtendedToken{
		Type:  typer,
		Token: token,
	}, nil
}

// IsValid reports whether the token is present and not expired. A zero expiry is
// treated as never expiring.
func (et *ExtendedToken) IsValid() bool {
	if et == nil || et.Token == nil {
		return false
	}
	return et.Token.Valid()
}

// FetchFunc exchanges a super secured token for a temporary token.
type FetchFunc func(ctx context.Context, sst string) (string, error)

// temporarySource is an oauth2.TokenSource minting temporary tokens from an SST.
type temporarySource struct {
	ctx      context.Context
	sst      *ExtendedToken
	fetch    FetchFunc
	lifetime time.Duration
}

// Token fetches a new temporary token.
func (ts *temporarySource) Token() (*oauth2.Token, error) {
	if !ts.sst.IsValid() {
		return nil, errors.New("super secured token missing or expired")
	}
	tt, err := ts.fetch(ts.ctx, ts.sst.Token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("could not fetch temporary token: %w", err)
	}
	if tt == "" {
		return nil, errors.New("empty temporary token received")
	}
	return &oauth2.Token{
		AccessToken: tt,
		TokenType:   TemporaryToken.String(),
		Expiry:      time.Now().Add(ts.lifetime),
	}, nil
}

// NewTemporarySource returns a TokenSource yielding temporary tokens for the given
// SST. A temporary token is reused until it is within the oauth2 expiry delta of its
// lifetime, after which fetch is called again.
func NewTemporarySource(ctx context.Context, sst *ExtendedToken, fetch FetchFunc, lifetime time.Duration) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &temporarySource{
		ctx:      ctx,
		sst:      sst,
		fetch:    fetch,
		lifetime: lifetime,
	})
}
