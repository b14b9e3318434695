package coe

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultAppName = "coe-agents"

	// DockerHostAlias resolves to the host from inside Docker Desktop containers.
	DockerHostAlias = "host.docker.internal"
	// DockerBridgeHost is the default bridge gateway on Linux hosts where the alias is missing.
	DockerBridgeHost = "172.17.0.1"

	// BackendURLEnv overrides DefaultBackendURL when set.
	BackendURLEnv = "COE_BACKEND_URL"

	DefaultDatabaseType = "libsql"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDatabaseDir = filepath.Join(userCacheDir(), DefaultAppName)
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, "catalog.db")

	// DefaultBackendURL is read once at startup, trimmed and without trailing slashes.
	DefaultBackendURL = backendFromEnv()
)

func backendFromEnv() string {
	base := "http://" + DockerHostAlias + ":8000"
	if v, ok := os.LookupEnv(BackendURLEnv); ok && strings.TrimSpace(v) != "" {
		base = v
	}
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return filepath.Join(os.TempDir(), ".config")
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
