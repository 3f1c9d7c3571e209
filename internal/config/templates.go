package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# DAS Bridge Configuration

[connection]
# Terminal CMD API host and port
host = "localhost"
port = 9910
# Wrap the TCP connection in TLS
use_tls = false
insecure_skip_verify = false
# Connect in watch mode (receive account activity without originating it)
watch_mode = false
# Per-command reply timeout
command_timeout = "30s"
# Keepalive interval; a missed reply degrades the connection
heartbeat_interval = "30s"
# Reconnect backoff
reconnect_base_delay = "5s"
reconnect_max_delay = "60s"
max_reconnects = 10

[locates]
# Reject locates above this fraction of daily volume (percent)
max_volume_percent = 1.0
# Reject locates costing more than this percent of position value
max_cost_percent = 1.5
# Reject locates costing more than this many dollars
max_total_cost = 2.50
# Locate requests round up to this share block
block_size = 100

[market_data]
# Bounded history per symbol
time_sales_cap = 1000
depth_cap = 200

[store]
# Journal orders and fills to sqlite
enabled = false
path = ""

[notifications]
enabled = false
# Notification level: all, trades_only, errors_only
level = "all"

[notifications.webhook]
enabled = false
url = ""
`

const credentialsTemplate = `# DAS Bridge Credentials
# WARNING: Keep this file secure! Do not commit to version control.

username = ""
password = ""
account = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Restricted permissions for credentials
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
