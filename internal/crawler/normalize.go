package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/alvmarrod/pdf-harvest/internal/model"
)

// defaultPorts are stripped from normalized hosts
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize resolves href against base and returns the canonical absolute URL.
//
// Relative paths, protocol-relative references, queries and fragments follow
// RFC 3986 resolution. Scheme and host are lowercased and default ports are
// dropped; the path is left as-is, so a trailing slash still makes a URL distinct.
func Normalize(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("%w: empty href", model.ErrInvalidURL)
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: base %q: %v", model.ErrInvalidURL, base, err)
	}
	if !baseURL.IsAbs() {
		return "", fmt.Errorf("%w: base %q is not absolute", model.ErrInvalidURL, base)
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", model.ErrInvalidURL, href, err)
	}

	resolved := baseURL.ResolveReference(ref)
	resolved.Scheme = strings.ToLower(resolved.Scheme)
	if _, ok := defaultPorts[resolved.Scheme]; !ok {
		return "", fmt.Errorf("%w: %q: unsupported scheme %q", model.ErrInvalidURL, href, resolved.Scheme)
	}

	host := strings.ToLower(resolved.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q: missing host", model.ErrInvalidURL, href)
	}

	port := resolved.Port()
	if port == defaultPorts[resolved.Scheme] {
		port = ""
	}
	resolved.Host = joinHost(host, port)

	return resolved.String(), nil
}

func joinHost(host, port string) string {
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
