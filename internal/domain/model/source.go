package model

import (
	"errors"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Source is a monitored URL within a workspace. CanonicalURL and Domain are
// derived on write; a source is unique in its workspace by URL or canonical
// URL.
type Source struct {
	ID             string    `json:"id"                         db:"id"`
	WorkspaceID    string    `json:"workspace_id"               db:"workspace_id"`
	URL            string    `json:"url"                        db:"url"`
	CanonicalURL   string    `json:"canonical_url"              db:"canonical_url"`
	Domain         string    `json:"domain"                     db:"domain"`
	FetchProfileID *string   `json:"fetch_profile_id,omitempty" db:"fetch_profile_id"`
	Tags           []string  `json:"tags"                       db:"tags"`
	CreatedAt      time.Time `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"                 db:"updated_at"`
}

// CreateSourceRequest represents a request to register a source URL.
type CreateSourceRequest struct {
	WorkspaceID    string   `json:"workspace_id"`
	URL            string   `json:"url"`
	FetchProfileID *string  `json:"fetch_profile_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Normalize trims request fields. URL derivation happens in CanonicalizeURL at
// repository write time.
func (r *CreateSourceRequest) Normalize() {
	r.URL = strings.TrimSpace(r.URL)
	r.WorkspaceID = strings.TrimSpace(r.WorkspaceID)
}

// Validate validates the CreateSourceRequest fields.
func (r *CreateSourceRequest) Validate() error {
	if r.WorkspaceID == "" {
		return errors.New("workspace_id is required")
	}
	if r.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("url must be absolute http(s)")
	}
	return nil
}

// UpdateSourceRequest represents a partial source update. Nil fields are left
// unchanged; URL changes re-derive the canonical URL and domain.
type UpdateSourceRequest struct {
	URL            *string   `json:"url,omitempty"`
	FetchProfileID *string   `json:"fetch_profile_id,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
}

// Validate validates the UpdateSourceRequest fields.
func (r *UpdateSourceRequest) Validate() error {
	if r.URL != nil {
		u, err := url.Parse(strings.TrimSpace(*r.URL))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.New("url must be absolute http(s)")
		}
	}
	return nil
}

// Tracking query parameters stripped during canonicalization.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"gclid":        true,
	"fbclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
}

// CanonicalizeURL lowercases scheme and host, drops fragments, default ports,
// and tracking parameters, and sorts the remaining query. The result is the
// identity used for per-workspace source uniqueness. The returned domain is
// the registrable domain (eTLD+1) so shop.example.com and www.example.com
// pace as one site; hosts without a public suffix (IPs, localhost) fall back
// to the bare hostname.
func CanonicalizeURL(raw string) (canonical, domain string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", err
	}
	if u.Host == "" {
		return "", "", errors.New("url has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = host
	}

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rebuilt := url.Values{}
	for _, k := range keys {
		for _, v := range q[k] {
			rebuilt.Add(k, v)
		}
	}
	u.RawQuery = rebuilt.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), registrableDomain(host), nil
}

func registrableDomain(host string) string {
	host = strings.TrimPrefix(host, "www.")
	// The PSL wildcard default would mangle IP literals into "1.10" style
	// nonsense, so they bypass the suffix lookup.
	if net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}
