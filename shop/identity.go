package shop

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenPrefix marks client-generated correlation tokens.
const TokenPrefix = "ORD"

// NewCorrelationToken returns an opaque, collision-resistant token used to
// reassociate a resumed session with its in-flight payment attempt.
//
// The token is a base36 millisecond timestamp followed by a random suffix.
// It carries no capability and needs no cryptographic strength.
func NewCorrelationToken(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return TokenPrefix + "-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + suffix
}

// IsCorrelationToken reports whether s has the shape produced by NewCorrelationToken.
func IsCorrelationToken(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] != TokenPrefix {
		return false
	}
	if _, err := strconv.ParseInt(parts[1], 36, 64); err != nil {
		return false
	}
	return len(parts[2]) == 10
}

// NewSessionID identifies one execution context (a tab) sharing the durable store.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionNamespace is the UUID namespace for deriving deterministic session ids.
var SessionNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ComputeSessionID derives a stable session id from a client supplied key, so a
// reconnecting browser keeps its identity across server restarts.
func ComputeSessionID(key string) string {
	return uuid.NewSHA1(SessionNamespace, []byte("storefront"+key)).String()
}
