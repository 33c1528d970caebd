package audit

import (
	"strings"

	"github.com/google/uuid"
)

const unknown = "unknown"

// RequestMeta is the request context an audit row is stamped with.
type RequestMeta struct {
	UserID    *uuid.UUID
	IPAddress string
	UserAgent string
}

var clientIPHeaders = []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"}

// MetaFromHeaders reads the client address and agent through header, which
// returns "" for absent headers.
func MetaFromHeaders(header func(key string) string) RequestMeta {
	return RequestMeta{
		IPAddress: ClientIP(header),
		UserAgent: orUnknown(header("User-Agent")),
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then the real-ip header
// family, then "unknown".
func ClientIP(header func(key string) string) string {
	if forwarded := header("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	for _, name := range clientIPHeaders {
		if ip := strings.TrimSpace(header(name)); ip != "" {
			return ip
		}
	}
	return unknown
}

func orUnknown(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return unknown
	}
	return value
}
