package lookup

import (
	"regexp"
	"strings"
)

// phoneRe is the accepted shape after separator stripping: a leading zero
// followed by nine further digits.
var phoneRe = regexp.MustCompile(`^0\d{9}$`)

var separatorStripper = strings.NewReplacer(
	" ", "",
	"-", "",
	".", "",
	"(", "",
	")", "",
	"+", "",
)

// NormalizePhone strips separator punctuation from a scraped token and
// validates the result. Tokens that do not normalize to a valid number are
// discarded by callers, not returned.
func NormalizePhone(raw string) (string, bool) {
	n := separatorStripper.Replace(strings.TrimSpace(raw))
	if !phoneRe.MatchString(n) {
		return "", false
	}
	return n, true
}
