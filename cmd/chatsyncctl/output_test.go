package main

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer preview", 8, "a longe…"},
		{"ééééé", 3, "éé…"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  map[string]any
		want string
	}{
		{"own pending", map[string]any{"sender_id": 10, "content": "hi", "provisional": true}, "me: hi (pending)"},
		{"counterpart named", map[string]any{"sender_id": 20, "sender_name": "Bailey", "content": "yo"}, "Bailey: yo"},
		{"counterpart unnamed", map[string]any{"sender_id": 20, "content": "yo"}, "20: yo"},
		{"placeholder", map[string]any{"system": true, "content": "No messages yet"}, "--: No messages yet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := structpb.NewStruct(tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if got := formatMessage(s.GetFields(), 20); !strings.HasSuffix(got, tt.want) {
				t.Errorf("formatMessage() = %q, want suffix %q", got, tt.want)
			}
		})
	}
}
