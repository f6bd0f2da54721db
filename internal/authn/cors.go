package authn

import "net/http"

// SameOriginAsServer implements spec.md §4.5 step 5d's narrow CORS gate:
// when no API key is configured, only http://127.0.0.1:<port> and
// http://localhost:<port> may call in without credentials. A missing
// Origin header (same-origin requests, non-browser clients) is allowed.
func SameOriginAsServer(r *http.Request, port string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowed := []string{
		"http://127.0.0.1:" + port,
		"http://localhost:" + port,
	}
	for _, a := range allowed {
		if origin == a {
			return true
		}
	}
	return false
}
