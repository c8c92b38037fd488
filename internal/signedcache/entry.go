// Package signedcache implements the tamper-evident authorization cache
// shared by the gateway and any service holding the gateway's public key.
// Entries are signed with the producer's RSA private key; verifiers only
// ever need the distributed public key.
package signedcache

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// fieldSep joins canonicalized fields before hashing. A non-printable
// separator keeps crafted usernames or permission names from colliding
// with adjacent fields.
const fieldSep = "\x1f"

// Entry is a cached authorization decision. All fields are covered by the
// signature; mutate any one and Verify fails.
type Entry struct {
	Token       string    `json:"token"`
	Username    string    `json:"username"`
	Permissions []string  `json:"permissions"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Signature   string    `json:"signature"`
}

// Build constructs and signs an entry. Permissions are deduplicated and
// sorted so the canonical form is stable regardless of input order.
func Build(signer *rsa.PrivateKey, token, username string, permissions []string, ttl time.Duration) (*Entry, error) {
	now := time.Now().UTC().Truncate(time.Second)
	entry := &Entry{
		Token:       token,
		Username:    username,
		Permissions: canonicalPermissions(permissions),
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	digest := entry.digest()
	sig, err := rsa.SignPKCS1v15(rand.Reader, signer, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signedcache: sign: %w", err)
	}
	entry.Signature = base64.StdEncoding.EncodeToString(sig)
	return entry, nil
}

// Verify recomputes the signature over the entry fields and checks it
// against the stored one. Any mismatch means tamper; the caller must
// delete the entry and treat the lookup as a miss.
func Verify(pub *rsa.PublicKey, entry *Entry) bool {
	if entry == nil || pub == nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(entry.Signature)
	if err != nil {
		return false
	}
	digest := entry.digest()
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// IsExpired reports whether the entry is past its lifetime at the given
// instant. An entry exactly at ExpiresAt is already expired.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// HasPermission reports whether the cached permission snapshot contains name.
func (e *Entry) HasPermission(name string) bool {
	i := sort.SearchStrings(e.Permissions, name)
	return i < len(e.Permissions) && e.Permissions[i] == name
}

// TTL returns the remaining lifetime at the given instant, zero when expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	if e.IsExpired(now) {
		return 0
	}
	return e.ExpiresAt.Sub(now)
}

func (e *Entry) digest() [sha256.Size]byte {
	canonical := strings.Join([]string{
		e.Token,
		e.Username,
		strings.Join(e.Permissions, fieldSep),
		strconv.FormatInt(e.IssuedAt.Unix(), 10),
		strconv.FormatInt(e.ExpiresAt.Unix(), 10),
	}, fieldSep)
	return sha256.Sum256([]byte(canonical))
}

func canonicalPermissions(permissions []string) []string {
	unique := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	out := make([]string, 0, len(unique))
	for p := range unique {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
