// Package publication maps public calendar-feed tokens to their owning user
// and computes the HTTP caching metadata (ETag / Last-Modified) a feed
// response carries. Tokens are opaque capability strings: knowing one is the
// only credential a calendar client ever presents.
package publication

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Metadata is the per-owner publication state: one owner-wide feed token and
// optionally one token per clinician, each an independently revocable link
// filtered to that clinician.
type Metadata struct {
	OwnerID         string            `json:"ownerId"`
	OwnerToken      string            `json:"ownerToken"`
	ClinicianTokens map[string]string `json:"clinicianTokens,omitempty"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// NewToken mints a fresh feed token.
func NewToken() string {
	return uuid.NewString()
}

// Resolve finds which feed a token addresses: the owner-wide feed
// (clinicianID empty) or a single clinician's filtered feed.
func (m *Metadata) Resolve(token string) (clinicianID string, ok bool) {
	if token == "" {
		return "", false
	}
	if token == m.OwnerToken {
		return "", true
	}
	for id, t := range m.ClinicianTokens {
		if t == token {
			return id, true
		}
	}
	return "", false
}

// Rotate replaces the owner-wide token, invalidating the previous link.
func (m *Metadata) Rotate(now time.Time) string {
	m.OwnerToken = NewToken()
	m.UpdatedAt = now.UTC()
	return m.OwnerToken
}

// RotateClinician replaces (or mints) one clinician's token.
func (m *Metadata) RotateClinician(clinicianID string, now time.Time) string {
	if m.ClinicianTokens == nil {
		m.ClinicianTokens = map[string]string{}
	}
	m.ClinicianTokens[clinicianID] = NewToken()
	m.UpdatedAt = now.UTC()
	return m.ClinicianTokens[clinicianID]
}

// CacheInfo is the caching metadata for one feed response.
type CacheInfo struct {
	ETag         string
	LastModified time.Time
}

// ComputeCacheInfo derives the feed's ETag and Last-Modified from the token
// plus the two timestamps that can change its content: the schedule state
// and the publication metadata.
func ComputeCacheInfo(token string, stateUpdatedAt, publicationUpdatedAt time.Time) CacheInfo {
	sum := sha256.Sum256([]byte(token + "|" + stateUpdatedAt.UTC().Format(time.RFC3339Nano) + "|" + publicationUpdatedAt.UTC().Format(time.RFC3339Nano)))
	last := stateUpdatedAt
	if publicationUpdatedAt.After(last) {
		last = publicationUpdatedAt
	}
	return CacheInfo{
		ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
		LastModified: last.UTC().Truncate(time.Second),
	}
}

// LastModifiedHeader renders Last-Modified in RFC 7231 IMF-fixdate form.
func (ci CacheInfo) LastModifiedHeader() string {
	return ci.LastModified.UTC().Format(http.TimeFormat)
}

// NotModified decides whether a conditional request matches the current feed
// representation. If-None-Match takes precedence over If-Modified-Since per
// RFC 7232; a present-but-unparseable If-Modified-Since is ignored.
func (ci CacheInfo) NotModified(ifNoneMatch, ifModifiedSince string) bool {
	if ifNoneMatch != "" {
		return etagMatches(ifNoneMatch, ci.ETag)
	}
	if ifModifiedSince != "" {
		since, err := http.ParseTime(ifModifiedSince)
		if err != nil {
			return false
		}
		return !ci.LastModified.After(since)
	}
	return false
}

// etagMatches implements the weak-comparison If-None-Match rules: "*" matches
// any representation, weak prefixes are stripped on both sides, and the
// header may carry a comma-separated list.
func etagMatches(header, etag string) bool {
	target := strings.TrimPrefix(strings.TrimSpace(etag), "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == target {
			return true
		}
	}
	return false
}
