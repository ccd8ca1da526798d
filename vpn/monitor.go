package vpn

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yllada/pvpn/common"
)

// Markers OpenVPN writes to its log.
const (
	markerReady      = "Initialization Sequence Completed"
	markerAuthFailed = "AUTH_FAILED"
)

// LogState is what the OpenVPN log says about a connection.
type LogState int

const (
	LogPending LogState = iota
	LogReady
	LogAuthFailed
)

// ScanLog classifies OpenVPN log output. An authentication failure wins
// over a completed initialization.
func ScanLog(data []byte) LogState {
	switch {
	case bytes.Contains(data, []byte(markerAuthFailed)):
		return LogAuthFailed
	case bytes.Contains(data, []byte(markerReady)):
		return LogReady
	default:
		return LogPending
	}
}

// WaitReady polls the log until the tunnel is up, authentication fails,
// the process exits or ctx is done.
func (h *Handle) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(common.MonitorInterval)
	defer ticker.Stop()

	for {
		data, err := os.ReadFile(h.LogPath)
		if err != nil {
			common.LogDebug("Could not read OpenVPN log: %v", err)
		}

		switch ScanLog(data) {
		case LogReady:
			common.LogInfo("Connected to %s", h.Server.Name)
			return nil
		case LogAuthFailed:
			return fmt.Errorf("%w: check username and password", common.ErrAuthFailed)
		}

		select {
		case <-h.done:
			// One last look: the process may have logged success and exited.
			if data, err := os.ReadFile(h.LogPath); err == nil && ScanLog(data) == LogReady {
				return nil
			}
			return fmt.Errorf("%w: openvpn exited: %v (see %s)", common.ErrConnectionFailed, h.waitErr, h.LogPath)
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("%w: %w", common.ErrTimeout, ctx.Err())
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
