/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// TelnetControl issues commands on the mixer's telnet-style channel.
// The only command the control plane needs is the forced stop of the
// live harbor input.
type TelnetControl struct {
	addr    string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewTelnetControl creates the control channel client.
func NewTelnetControl(addr string, logger zerolog.Logger) *TelnetControl {
	return &TelnetControl{
		addr:    addr,
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "mixer_telnet").Logger(),
	}
}

// Disconnect sends a stop command for harborID. It does not wait for
// confirmation: the disconnect callback is the source of truth.
func (t *TelnetControl) Disconnect(harborID string) error {
	conn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return fmt.Errorf("dial mixer control: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(t.timeout))
	if _, err := fmt.Fprintf(conn, "%s.stop\nquit\n", harborID); err != nil {
		return fmt.Errorf("send stop command: %w", err)
	}

	t.logger.Info().Str("harbor", harborID).Msg("sent stop command to mixer")
	return nil
}
