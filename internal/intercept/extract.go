// Package intercept captures the workspace API token by observing outbound
// browser requests over CDP. The extraction helpers are pure functions so
// the parsing rules stay testable without a browser.
package intercept

import (
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"regexp"
	"strings"
)

// tokenPattern matches a session-bound workspace API token. Anything not
// matching this shape is treated as a non-capture.
var tokenPattern = regexp.MustCompile(`xoxc-[0-9]+-[0-9]+-[0-9]+-[a-z0-9]{64}`)

// ValidToken reports whether s is exactly one well-formed token.
func ValidToken(s string) bool {
	return tokenPattern.FindString(s) == s && s != ""
}

// ExtractToken pulls the token out of a request body. It understands
// URL-encoded and multipart form bodies, keyed by the "token" field, and
// falls back to a raw pattern scan for anything else. A miss returns
// ("", false), never an error: an unparseable body is simply not a capture.
func ExtractToken(contentType string, body []byte) (string, bool) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		if tok, ok := extractFromForm(body); ok {
			return tok, true
		}
	case strings.HasPrefix(mediaType, "multipart/"):
		if tok, ok := extractFromMultipart(body, params["boundary"]); ok {
			return tok, true
		}
	}

	// Fallback: scan the raw bytes for the token shape.
	if m := tokenPattern.Find(body); m != nil {
		return string(m), true
	}
	return "", false
}

func extractFromForm(body []byte) (string, bool) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false
	}
	tok := values.Get("token")
	if ValidToken(tok) {
		return tok, true
	}
	return "", false
}

func extractFromMultipart(body []byte, boundary string) (string, bool) {
	if boundary == "" {
		return "", false
	}
	reader := multipart.NewReader(strings.NewReader(string(body)), boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			return "", false
		}
		if part.FormName() != "token" {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, 1<<16))
		if err != nil {
			return "", false
		}
		tok := strings.TrimSpace(string(data))
		if ValidToken(tok) {
			return tok, true
		}
		return "", false
	}
}
