package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestLogin(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   error
		wantToken string
		wantID    int64
		recovered bool
	}{
		{
			name:      "well formed",
			body:      `{"token":"abc","user":{"id":7,"firstName":"Ana","lastName":"Souza"}}`,
			wantToken: "abc",
			wantID:    7,
		},
		{
			name:      "truncated body",
			body:      `{"token":"abc","userId":7,"user":{"id":7,"connections":[{"user":{"connections":[`,
			wantToken: "abc",
			wantID:    7,
			recovered: true,
		},
		{
			name:    "malformed without token",
			body:    `{"user":{"id":7,`,
			wantErr: ErrMalformed,
		},
		{
			name:    "well formed without user id",
			body:    `{"token":"abc"}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "bad credentials",
			status:  http.StatusUnauthorized,
			body:    `{"message":"bad credentials"}`,
			wantErr: ErrUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/auth/login" || r.Header.Get("Authorization") != "" {
					http.NotFound(w, r)
					return
				}
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = io.WriteString(w, tt.body)
			})

			creds, err := c.Login(context.Background(), "ana@example.com", "pw")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if creds.Token != tt.wantToken || creds.UserID != tt.wantID || creds.Recovered != tt.recovered {
				t.Errorf("creds = %+v", creds)
			}
		})
	}
}

func TestOnlyLoginRecovers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"otherUser":{"id":2,`)
	})
	if _, err := c.ListConversations(context.Background(), 1); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}
