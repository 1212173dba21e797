// Package dedup decides whether a submission refers to an already-known
// literature. Four phases run in order: explicit identifier match, source
// URL match, in-flight task match, and content/title fingerprint match; the
// first hit wins.
package dedup

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// trackingParams are stripped from URLs before comparison.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "fbclid": {}, "gclid": {}, "ref": {}, "ref_src": {},
	"source": {}, "mkt_tok": {},
}

var arxivURLRegex = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf|html)/([^\s?#]+?)(?:\.pdf)?$`)

// NormalizeURL canonicalizes a URL for alias comparison: scheme and host are
// lowercased, the fragment and tracking parameters are dropped, remaining
// query parameters are sorted, trailing slashes are trimmed, and arXiv
// variants (pdf/html/versioned) collapse onto the abs page.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if m := arxivURLRegex.FindStringSubmatch(raw); m != nil {
		if id := domain.NormalizeArXivID(m[1]); id != "" {
			return "https://arxiv.org/abs/" + id
		}
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		if _, tracked := trackingParams[strings.ToLower(key)]; tracked {
			query.Del(key)
		}
	}
	parsed.RawQuery = sortedEncode(query)
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	return parsed.String()
}

// sortedEncode encodes query values with sorted keys for a stable form.
func sortedEncode(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	return sb.String()
}
