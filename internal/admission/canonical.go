package admission

import (
	"net/url"
	"strings"
)

// canonicalize lowercases the scheme and host, drops userinfo, removes default ports, trailing
// slashes, and fragments, and sorts query parameters so that equivalent spellings
// of a URL map to the same job.
func canonicalize(src *url.URL) string {
	u := *src
	u.User = nil
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		host := u.Hostname()
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		u.Host = host
	}
	u.Host = strings.TrimSuffix(u.Host, ".")

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}
