package engine

import (
	"regexp"
	"strings"
)

var tabletPattern = regexp.MustCompile(`(?i)tablet|ipad|playbook|silk`)

// isTablet reports whether a user agent belongs to a tablet. Android
// devices count as tablets unless "mobile" follows the android token.
func isTablet(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	if tabletPattern.MatchString(userAgent) {
		return true
	}
	ua := strings.ToLower(userAgent)
	i := strings.LastIndex(ua, "android")
	if i < 0 {
		return false
	}
	return !strings.Contains(ua[i:], "mobile")
}
