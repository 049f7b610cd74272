package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var fallbackName = regexp.MustCompile(`^User \d+$`)

var genericNames = map[string]bool{
	"unknown":      true,
	"unknown user": true,
	"user":         true,
	"anonymous":    true,
	"loading...":   true,
	"null":         true,
	"undefined":    true,
}

// nameRank orders display names by quality: empty < generic placeholder <
// "User {id}" fallback < well-formed name.
func nameRank(name string) int {
	switch {
	case name == "":
		return 0
	case genericNames[strings.ToLower(name)]:
		return 1
	case fallbackName.MatchString(name):
		return 2
	default:
		return 3
	}
}

// BetterName picks the display name to keep when two sources disagree.
// The choice depends only on the values: a higher-quality name always wins
// whichever side it is on, among two well-formed names the longer wins, and
// otherwise the existing value is kept.
func BetterName(existing, incoming string) string {
	e := strings.TrimSpace(existing)
	in := strings.TrimSpace(incoming)

	re, ri := nameRank(e), nameRank(in)
	switch {
	case ri > re:
		return in
	case ri < re:
		return e
	case ri == 3 && utf8.RuneCountInString(in) > utf8.RuneCountInString(e):
		return in
	default:
		return e
	}
}

// FallbackName is the name used for a counterpart nothing is known about.
func FallbackName(id int64) string {
	return "User " + strconv.FormatInt(id, 10)
}
