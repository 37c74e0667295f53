package util

import (
	"net/url"
	"regexp"
	"strings"
)

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// NormalizeOrigin reduces raw to scheme://host[:port], the form a browser
// reports as window.location.origin. Input without a scheme is returned
// trimmed and lower-cased.
func NormalizeOrigin(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(strings.TrimRight(s, "/"))
	}

	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
