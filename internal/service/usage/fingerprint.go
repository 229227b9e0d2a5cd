package usage

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Fingerprint derives the client key from the user agent and screen size.
//
// It is not an identity: two browsers reporting the same values share a quota and a
// client can reset its quota by changing either value. The ledger is a soft abuse
// brake, nothing more.
func Fingerprint(userAgent string, width, height int) string {
	raw := fmt.Sprintf("%s-%dx%d", userAgent, width, height)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// ParseScreen parses a "WIDTHxHEIGHT" value such as "1920x1080".
func ParseScreen(raw string) (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(w)
	if err != nil || width < 0 {
		return 0, 0, false
	}
	height, err = strconv.Atoi(h)
	if err != nil || height < 0 {
		return 0, 0, false
	}
	return width, height, true
}
