package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lpernett/godotenv"
)

// LoadDotEnv loads environment variables from .env-like files, skipping
// files that do not exist. Existing process environment variables keep
// precedence.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if err := godotenv.Load(trimmed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", trimmed, err)
		}
	}
	return nil
}
