package main

import (
	"os"
	"strings"

	"github.com/danmuck/apibus/internal/config"
)

const envConfig = "APIBUS_CONFIG"

// loadConfig resolves the config path from the flag, then the
// environment. With neither set the built-in defaults apply.
func loadConfig(path string) (config.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfig))
	}
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}
