// Package middleware – RedactingLogger
//
// RedactingLogger is an access logger for deployments that must keep
// credentials and buyer contact details out of log storage. It never logs
// bodies. Credential headers (Authorization, Cookie, X-UCP-API-Key and any
// extras) are replaced wholesale; credential query parameters (ucp_api_key)
// are replaced by name; emails and UUIDs elsewhere in the query or headers
// are pattern-redacted.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

// credentialParams are query parameters whose values are always redacted.
var credentialParams = []string{"ucp_api_key"}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// RedactOptions adds header names to the built-in mask list.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger logs method, route, scrubbed query and headers, status,
// size and latency. Level is error for 5xx, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	mask := map[string]struct{}{
		"authorization":   {},
		"cookie":          {},
		"set-cookie":      {},
		"x-ucp-api-key":   {},
		"x-ucp-signature": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := scrubQuery(c.Request.URL.RawQuery)
		if u, err := url.QueryUnescape(query); err == nil {
			query = u
		}
		query = redactPII(query)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := mask[strings.ToLower(k)]; ok {
				headers[k] = redacted
				continue
			}
			headers[k] = redactPII(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		rid := c.Writer.Header().Get(requestIDHeader)
		if rid == "" {
			rid = c.GetHeader(requestIDHeader)
		}
		key, _ := c.Get(apiKeyIDKey)

		ev.
			Str("request_id", rid).
			Str("api_key_id", asString(key)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// scrubQuery replaces the values of credential parameters in a raw query.
// An unparsable query is dropped entirely.
func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	changed := false
	for _, p := range credentialParams {
		if _, ok := q[p]; ok {
			q.Set(p, redacted)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return q.Encode()
}

// redactPII masks UUIDs before emails.
func redactPII(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	return emailRE.ReplaceAllString(s, "[REDACTED:email]")
}
