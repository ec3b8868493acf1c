package utils

import (
	"net/http"
	"net/url"
	"strings"
)

// ParseQuery parses an EDR query string. Keys are lower-cased so
// parameter names are case insensitive, except that free-form
// dimension selectors keep their case to match dataset dimension
// names exactly.
func ParseQuery(query string) (url.Values, error) {
	m := make(url.Values)
	var err error
	for query != "" {
		key := query
		if i := strings.IndexByte(key, '&'); i >= 0 {
			key, query = key[:i], key[i+1:]
		} else {
			query = ""
		}
		if key == "" {
			continue
		}
		value := ""
		if i := strings.IndexByte(key, '='); i >= 0 {
			key, value = key[:i], key[i+1:]
		}

		key, err1 := url.QueryUnescape(key)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}
		if EDRReservedParams[strings.ToLower(key)] {
			key = strings.ToLower(key)
		}

		value, err1 = url.QueryUnescape(value)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}

		m[key] = append(m[key], value)
	}
	return m, err
}

// ParseRemoteAddr extracts the client address, preferring the
// X-Forwarded-For header set by reverse proxies.
func ParseRemoteAddr(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if len(forwarded) > 0 {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
