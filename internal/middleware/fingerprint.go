package middleware

import (
	"context"
	"net/http"

	"github.com/zhouzirui/timemachine/backend/internal/service/usage"
)

// ScreenHeader carries the client's screen size as WIDTHxHEIGHT.
const ScreenHeader = "X-Screen-Size"

type fingerprintKey struct{}

// Fingerprint derives the client fingerprint from the User-Agent header and the
// screen size, read from ScreenHeader or the "screen" query parameter. Browsers
// cannot set headers on WebSocket upgrades, hence the query fallback. A missing or
// malformed size counts as 0x0.
func Fingerprint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		screen := r.Header.Get(ScreenHeader)
		if screen == "" {
			screen = r.URL.Query().Get("screen")
		}
		width, height, _ := usage.ParseScreen(screen)
		fp := usage.Fingerprint(r.UserAgent(), width, height)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), fingerprintKey{}, fp)))
	})
}

// ClientFromContext returns the fingerprint stored by Fingerprint.
func ClientFromContext(ctx context.Context) string {
	fp, _ := ctx.Value(fingerprintKey{}).(string)
	return fp
}
