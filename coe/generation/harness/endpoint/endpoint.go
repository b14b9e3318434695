// Package endpoint normalizes chat backend base URLs and derives the Linux
// Docker bridge fallback for them.
package endpoint

import (
	"strings"

	internal "github.com/ep-code-box/CoE/coe"
)

const (
	ChatCompletionsPath = "/v1/chat/completions"
	ModelsPath          = "/v1/models"
)

// Normalize trims base, substitutes the default backend when it is empty,
// upgrades http:// to https:// when forceHTTPS is set and strips trailing slashes.
func Normalize(base string, forceHTTPS bool) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = internal.DefaultBackendURL
	}
	if forceHTTPS && strings.HasPrefix(base, "http://") {
		base = "https://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/")
}

// Fallback swaps the Docker Desktop host alias for the Linux bridge gateway.
// Addresses without the alias come back unchanged.
func Fallback(base string) string {
	if !strings.Contains(base, internal.DockerHostAlias) {
		return base
	}
	return strings.ReplaceAll(base, internal.DockerHostAlias, internal.DockerBridgeHost)
}

// HasFallback reports whether Fallback yields a different address.
func HasFallback(base string) bool {
	return Fallback(base) != base
}

// Join appends path to a normalized base.
func Join(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
