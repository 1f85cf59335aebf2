// Package auth implements caller identity derivation, session tokens, provider-secret encryption at
// rest, and short-lived execution key minting.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/nexora-systems/registry-central/pkg/store"
)

// RequestIdentity is the raw material the router extracts from headers
// before a Caller row exists.
type RequestIdentity struct {
	ClientID string // x-client-id header, if present
	ClientIP string // resolved socket/forwarded peer IP
}

// Identifier returns the stable string identifier for this request,
// following the derivation order: (a) "{client-id}|{ip}" if a client id was
// presented, (b) else the IP alone, (c) else "unknown".
func (r RequestIdentity) Identifier() string {
	ip := strings.TrimSpace(r.ClientIP)
	if r.ClientID != "" {
		return fmt.Sprintf("%s|%s", strings.TrimSpace(r.ClientID), ip)
	}
	if ip != "" {
		return ip
	}
	return "unknown"
}

// ResolveClientIP implements derivation steps (b) and (c): the first IP in
// X-Forwarded-For, falling back to the socket peer address. remoteAddr is
// the net/http RemoteAddr (host:port form).
func ResolveClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return host
}

// CallerID derives the deterministic caller id for a (type, identifier)
// pair: "{type}-{first 16 hex chars of SHA-256(type:identifier)}".
func CallerID(callerType store.CallerType, identifier string) string {
	sum := sha256.Sum256([]byte(string(callerType) + ":" + identifier))
	return fmt.Sprintf("%s-%s", callerType, hex.EncodeToString(sum[:])[:16])
}

// ClientIDPrefix extracts the client-id portion of an identifier of the
// form "{client-id}|{ip}". Returns "", false if identifier carries no "|".
func ClientIDPrefix(identifier string) (string, bool) {
	idx := strings.Index(identifier, "|")
	if idx < 0 {
		return "", false
	}
	return identifier[:idx], true
}
