// Package cli provides CLI command implementations.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrianpk/gatekeeper/internal/config"
	"github.com/adrianpk/gatekeeper/internal/policy"
)

// RunInit creates a gatekeeper configuration file. A local init also writes
// the built-in policy into the project so it can be edited.
func RunInit(w io.Writer, local bool) error {
	var configPath string
	if local {
		configPath = config.LocalConfigPath()
	} else {
		configPath = config.GlobalConfigPath()
	}
	if configPath == "" {
		return fmt.Errorf("cannot determine config location")
	}

	if err := writeOnce(w, configPath, []byte(defaultConfig)); err != nil {
		return err
	}
	if !local {
		return nil
	}

	policyPath := filepath.Join(filepath.Dir(configPath), config.Default().PolicyPath)
	return writeOnce(w, policyPath, policy.Default())
}

// writeOnce writes data to path unless the file already exists.
func writeOnce(w io.Writer, path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "Already exists: %s\n", path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}

	fmt.Fprintf(w, "Created: %s\n", path)
	return nil
}

const defaultConfig = `version: 1

# Relative paths resolve against the project directory
# ($CLAUDE_PROJECT_DIR, or the working directory).
policy_path: .gatekeeper/policy.yml

# Uncomment to override the policy threshold for trivial edits.
# threshold: 3

gate:
  timeout: 5m
  max_output: 4096

audit:
  # file | sqlite | postgres | none
  driver: file
  path: .gatekeeper/audit.jsonl
  # dsn: ${GATEKEEPER_AUDIT_DSN}

log:
  level: warn
  format: console

serve:
  addr: 127.0.0.1:7777
  watch: true
`
