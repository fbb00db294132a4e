/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// Tracking parameters stripped during URL normalization. Two shares of
// the same link must produce the same fingerprint.
var junkQueryParams = map[string]struct{}{
	"fbclid":           {},
	"gclid":            {},
	"si":               {},
	"feature":          {},
	"ref":              {},
	"ref_src":          {},
	"utm_source":       {},
	"utm_medium":       {},
	"utm_campaign":     {},
	"utm_term":         {},
	"utm_content":      {},
	"pp":               {},
	"ab_channel":       {},
	"index":            {},
	"t":                {},
	"start_radio":      {},
}

// NormalizeURL canonicalizes a media URL: lowercased scheme and host,
// default ports stripped, fragment dropped, tracking params removed,
// remaining query sorted.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host, port, found := strings.Cut(u.Host, ":")
	if found && ((u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443")) {
		u.Host = host
	}

	query := u.Query()
	for key := range query {
		if _, junk := junkQueryParams[strings.ToLower(key)]; junk {
			query.Del(key)
		}
	}
	u.RawQuery = encodeSorted(query)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func encodeSorted(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		values := query[k]
		sort.Strings(values)
		for _, v := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// FingerprintURL computes the stable content identity of a URL song.
func FingerprintURL(raw string) (string, error) {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintReader hashes uploaded file content.
func FingerprintReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
