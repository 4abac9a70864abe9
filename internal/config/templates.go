package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Barscan Configuration

[database]
# Path to the SQLite market-data store
path = ""
# Bar timeframe stored and scanned
timeframe = "1min"

[scan]
# Tickers scanned in parallel per batch
batch_size = 5
# Stop launching batches once this many signals exist (0 = unlimited)
max_signals = 0
# Minimum bars a detector needs before the first scan step
warmup_bars = 30
# Directory for per-step scan stores
temp_dir = "/tmp"

[worker]
# Detector command and arguments
command = ""
args = []
# READY handshake timeout
ready_timeout = "10s"
# Per-request response timeout
response_timeout = "120s"

[exit]
# Default exit template for simulations
template = "gap-fill"

[metrics]
enabled = false
addr = ":9187"
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
