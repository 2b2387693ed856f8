package login

import "strings"

// ForwardedRequest is the resource the reverse proxy asked about, as described by X-Forwarded-* headers.
type ForwardedRequest struct {
	Proto  string
	Host   string
	URI    string
	Method string
}

// OriginalURL rebuilds the URL the user asked for before being sent to the provider.
func OriginalURL(scheme, host, uri string) string {
	if scheme == "" {
		scheme = "https"
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return scheme + "://" + host + uri
}
