package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"barscan/internal/errors"
	"barscan/internal/models"
)

// RunOnce executes a detector script in legacy one-shot mode: without
// PERSISTENT_MODE the script reads its parameters from environment
// variables, scans once, prints a ScanResponse and exits. Kept for
// standalone debugging of detector scripts, not as a scan execution path.
func RunOnce(ctx context.Context, cfg Config, dbPath string, tickers []string, startDate, endDate string) (*models.ScanResponse, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("SCAN_TICKERS=%s", strings.Join(tickers, ",")),
		fmt.Sprintf("SCAN_START_DATE=%s", startDate),
		fmt.Sprintf("SCAN_END_DATE=%s", endDate),
		fmt.Sprintf("SCAN_DB_PATH=%s", dbPath),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &models.ScanResponse{
			Success: false,
			Error:   strings.TrimSpace(stderr.String()),
		}, errors.NewWorkerError(strings.Join(tickers, ","), "oneshot", "detector exited nonzero", err)
	}

	resp, err := parseResponseOutput(stdout.String())
	if err != nil {
		return nil, errors.NewProtocolError("", "parse one-shot output", err)
	}
	return resp, nil
}

// parseResponseOutput finds the ScanResponse in free-form script output by
// accumulating non-READY lines until they parse as JSON, the same rule the
// persistent protocol uses.
func parseResponseOutput(output string) (*models.ScanResponse, error) {
	var buf strings.Builder
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == readyLine {
			continue
		}
		buf.WriteString(line)
		var resp models.ScanResponse
		if err := json.Unmarshal([]byte(buf.String()), &resp); err == nil {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("no valid response in detector output")
}
