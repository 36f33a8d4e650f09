// Package fingerprint reduces a client address to a coarse, community-scoped
// network identifier. Raw addresses are never stored; only the keyed hash is.
package fingerprint

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SubnetKey truncates addr to its leading prefix: the last IPv4 octet is zeroed
// (a /24) and IPv6 keeps its first three groups (roughly a /48). Anything that is
// not four dotted parts and has no colon is returned unchanged.
func SubnetKey(addr string) string {
	if strings.Contains(addr, ":") {
		groups := strings.Split(addr, ":")
		if len(groups) > 3 {
			groups = groups[:3]
		}
		return strings.Join(groups, ":")
	}

	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return addr
	}
	parts[3] = "0"
	return strings.Join(parts, ".")
}

// Hasher computes community-scoped network fingerprints.
type Hasher struct {
	secret []byte
}

func NewHasher(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, errors.New("fingerprint: secret is required")
	}
	return &Hasher{secret: []byte(secret)}, nil
}

// Fingerprint returns hex(HMAC-SHA256(secret, communityID + ":" + SubnetKey(addr))).
func (h *Hasher) Fingerprint(communityID, addr string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(communityID + ":" + SubnetKey(addr)))
	return hex.EncodeToString(mac.Sum(nil))
}
