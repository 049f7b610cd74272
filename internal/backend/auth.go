package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// SessionState is the outcome of a session validity check.
type SessionState int

const (
	NotAuthenticated SessionState = iota
	Valid
	Invalid
)

func (s SessionState) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "not-authenticated"
	}
}

// CheckSession asks the backend whether the stored token is still good. It
// fails open: only a 401 or 403 reports Invalid; timeouts, transport errors
// and server errors report Valid. Without a token no request is made.
func (c *Client) CheckSession(ctx context.Context) SessionState {
	tok, err := c.token()
	if err != nil {
		return NotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, c.sessionCheckTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).SetAuthToken(tok).Get("/api/auth/validate")
	switch {
	case err != nil:
		c.logger.Warn("session check failed; assuming valid", zap.Error(err))
		return Valid
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return Invalid
	case resp.StatusCode() >= http.StatusInternalServerError:
		c.logger.Warn("session check got server error; assuming valid", zap.Int("status", resp.StatusCode()))
		return Valid
	default:
		return Valid
	}
}

// Credentials is what a successful login yields.
type Credentials struct {
	Token  string
	UserID int64
	Name   string
	// Recovered is set when the body was malformed and the fields were
	// salvaged from it.
	Recovered bool
}

// Login exchanges email and password for a token.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	data, err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || StatusOf(err) == http.StatusBadRequest {
			return Credentials{}, fmt.Errorf("login: %w", ErrUnauthorized)
		}
		return Credentials{}, fmt.Errorf("login: %w", err)
	}

	var dto loginDTO
	if err := decode(data, &dto); err == nil {
		creds := Credentials{Token: dto.Token, UserID: dto.userID()}
		if dto.User != nil {
			creds.Name = dto.User.displayName()
		}
		return creds, nil
	} else if !errors.Is(err, ErrMalformed) {
		return Credentials{}, fmt.Errorf("login: %w", err)
	}

	creds, ok := recoverLogin(data)
	if !ok {
		return Credentials{}, fmt.Errorf("login: %w", ErrMalformed)
	}
	c.logger.Warn("login response malformed; recovered token and user id from body")
	return creds, nil
}

// recoverLogin salvages the token and user id from a body that does not
// parse as a whole. Nothing else is trusted from such a body.
func recoverLogin(data []byte) (Credentials, bool) {
	token := firstString(data, "token", "accessToken", "data.token")
	if token == "" {
		return Credentials{}, false
	}
	var id int64
	for _, path := range []string{"userId", "user.id", "id", "data.userId"} {
		if r := gjson.GetBytes(data, path); r.Exists() && r.Int() != 0 {
			id = r.Int()
			break
		}
	}
	if id == 0 {
		return Credentials{}, false
	}
	return Credentials{Token: token, UserID: id, Recovered: true}, true
}

func firstString(data []byte, paths ...string) string {
	for _, p := range paths {
		if r := gjson.GetBytes(data, p); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}
