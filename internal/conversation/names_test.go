package conversation

import "testing"

func TestBetterName(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{"empty loses to generic", "", "Unknown", "Unknown"},
		{"generic loses to fallback", "Unknown User", "User 12", "User 12"},
		{"fallback loses to real name", "User 12", "Bailey Kim", "Bailey Kim"},
		{"real name kept over fallback", "Bailey Kim", "User 12", "Bailey Kim"},
		{"real name kept over generic", "Bailey Kim", "Unknown", "Bailey Kim"},
		{"real name kept over empty", "Bailey Kim", "", "Bailey Kim"},
		{"longer well-formed wins", "Bailey", "Bailey Kim", "Bailey Kim"},
		{"shorter well-formed loses", "Bailey Kim", "Bailey", "Bailey Kim"},
		{"equal length keeps existing", "Alice", "Carol", "Alice"},
		{"generic match is case-insensitive", "UNKNOWN", "User 3", "User 3"},
		{"whitespace trimmed", "  ", "Ana", "Ana"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BetterName(tt.existing, tt.incoming); got != tt.want {
				t.Errorf("BetterName(%q, %q) = %q, want %q", tt.existing, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestBetterNameOrderIndependent(t *testing.T) {
	names := []string{"", "Unknown", "User", "User 7", "Bailey Kim", "Bo"}
	for _, a := range names {
		for _, b := range names {
			ab := BetterName(a, b)
			ba := BetterName(b, a)
			if nameRank(ab) != nameRank(ba) {
				t.Errorf("rank(%q vs %q) depends on order: %q / %q", a, b, ab, ba)
			}
		}
	}
}

func TestBetterNameNeverRegresses(t *testing.T) {
	seq := []string{"User 5", "Bailey Kim", "Unknown", "User 5", "", "Bailey"}
	cur := ""
	for _, in := range seq {
		next := BetterName(cur, in)
		if nameRank(next) < nameRank(cur) {
			t.Fatalf("name regressed from %q to %q", cur, next)
		}
		cur = next
	}
	if cur != "Bailey Kim" {
		t.Errorf("final name = %q, want Bailey Kim", cur)
	}
}

func TestFallbackName(t *testing.T) {
	if got := FallbackName(42); got != "User 42" {
		t.Errorf("FallbackName(42) = %q", got)
	}
}
