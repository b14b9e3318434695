package config

import (
	"fmt"

	internal "github.com/ep-code-box/CoE/coe"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"backend":        "backend.url",
	"force-https":    "backend.force_https",
	"prompt":         "harness.system_prompt",
	"max-iterations": "harness.max_iterations",
	"parallel-tools": "harness.parallel_tools",
	"log-level":      "log.level",
	"log-pretty":     "log.pretty",
}

// RegisterFlags declares the flags that override configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("backend", "", "chat backend base URL (default "+internal.DefaultBackendURL+")")
	fs.Bool("force-https", false, "rewrite http:// backend URLs to https://")
	fs.String("prompt", "", "system prompt prepended to the conversation")
	fs.Int("max-iterations", 0, "maximum dispatch iterations per request")
	fs.Bool("parallel-tools", false, "run side-effect-free tool batches concurrently")
	fs.String("log-level", "", "zerolog level (debug, info, warn, error)")
	fs.Bool("log-pretty", false, "human readable console logs")
}

// BindFlags binds every registered flag present in fs to its config key.
// Only flags that were set on the command line take precedence over files and env.
func BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}
