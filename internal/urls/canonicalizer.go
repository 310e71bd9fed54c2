package urls

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/ternarybob/trawler/internal/models"
)

// trackingParams are query keys removed during canonicalization unless the
// caller preserves them explicitly. utm_* is matched by prefix.
var trackingParams = map[string]bool{
	"fbclid":    true,
	"gclid":     true,
	"gclsrc":    true,
	"msclkid":   true,
	"mc_cid":    true,
	"mc_eid":    true,
	"_hsenc":    true,
	"_hsmi":     true,
	"igshid":    true,
	"ref_src":   true,
	"spm":       true,
	"yclid":     true,
	"wbraid":    true,
	"gbraid":    true,
	"dclid":     true,
	"vero_id":   true,
	"_openstat": true,
}

// semanticParams are kept by default even though they often appear alongside
// tracking noise.
var semanticParams = map[string]bool{
	"page": true, "p": true, "category": true, "id": true, "q": true,
	"sort": true, "order": true, "filter": true, "limit": true,
	"offset": true, "lang": true, "locale": true, "tab": true,
	"section": true, "view": true, "type": true,
}

// Options controls canonicalization behavior. The zero value gives the
// defaults: lowercase host, drop fragment, strip tracking parameters.
type Options struct {
	PreserveParams []string // extra query keys to keep
	KeepFragment   bool
	KeepHostCase   bool
}

// Canonicalizer normalizes URLs into a digest-stable canonical form.
type Canonicalizer struct {
	opts      Options
	preserved map[string]bool
}

// NewCanonicalizer creates a canonicalizer with the given options.
func NewCanonicalizer(opts Options) *Canonicalizer {
	preserved := make(map[string]bool, len(semanticParams)+len(opts.PreserveParams))
	for k := range semanticParams {
		preserved[k] = true
	}
	for _, k := range opts.PreserveParams {
		preserved[strings.ToLower(k)] = true
	}
	return &Canonicalizer{opts: opts, preserved: preserved}
}

// Canonicalize normalizes raw and returns the canonical URL string.
// Two URLs are equivalent iff their canonical forms are equal.
func (c *Canonicalizer) Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", models.NewValidationError("empty URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", models.NewValidationError("unparseable URL %q: %v", raw, err)
	}
	if u.Scheme == "" {
		return "", models.NewValidationError("URL %q has no scheme", raw)
	}
	if u.Host == "" {
		return "", models.NewValidationError("URL %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if !c.opts.KeepHostCase {
		// Hostname casing is insignificant; the port is preserved verbatim.
		host := u.Hostname()
		lowered := strings.ToLower(host)
		if port := u.Port(); port != "" {
			u.Host = lowered + ":" + port
		} else {
			u.Host = lowered
		}
	}

	u.RawQuery = c.canonicalQuery(u.Query())
	if !c.opts.KeepFragment {
		u.Fragment = ""
		u.RawFragment = ""
	}

	return u.String(), nil
}

// canonicalQuery drops tracking keys, keeps the first value per key, sorts
// keys ascending, and re-encodes with canonical separators.
func (c *Canonicalizer) canonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if c.isTracking(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(vals[0]))
	}
	return b.String()
}

func (c *Canonicalizer) isTracking(key string) bool {
	lower := strings.ToLower(key)
	if c.preserved[lower] {
		return false
	}
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	return trackingParams[lower]
}

// Digest returns the lowercase-hex SHA-256 of the canonical form of raw.
func (c *Canonicalizer) Digest(raw string) (string, error) {
	canonical, err := c.Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return DigestOf(canonical), nil
}

// DigestOf hashes an already-canonical URL.
func DigestOf(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
