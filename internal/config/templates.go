package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Shoonya Bridge Configuration

[bridge]
# Broker mode: "live" or "sim"
mode = "live"
# Timeout for each upstream REST call (e.g. "10s")
upstream_timeout = "10s"
# SQLite order journal path; empty string disables journaling
journal_path = ""

[risk]
# Maximum quantity per order
max_order_quantity = 100000
# Maximum notional value per order in INR (checked for LIMIT and SL orders)
max_order_value = 5000000.0

[feed]
# Tick ingest buffer between the stream and the multiplexer
buffer_size = 1000
# Per-subscriber channel buffer; slow subscribers drop ticks past this
subscriber_buffer_size = 100
# Stream reconnect attempts before giving up
reconnect_max_retries = 5
# Base delay for reconnect backoff (doubles per attempt)
reconnect_base_delay = "1s"

[log]
level = "info"
console = true
file = true
# file_path defaults to <config dir>/logs/bridge.log when empty
file_path = ""
max_size = 100
max_backups = 7
max_age = 30
`

const credentialsTemplate = `# Shoonya Bridge Credentials
# WARNING: Keep this file secure! Do not commit to version control.
# Every field can also be supplied via SHOONYA_* environment variables.

[shoonya]
user_id = ""
password = ""
# Base32 TOTP secret; a fresh code is generated at login
totp_secret = ""
vendor_code = ""
api_secret = ""
imei = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Created template config at %s\n", path)
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Created template credentials at %s\n", path)
	return nil
}
