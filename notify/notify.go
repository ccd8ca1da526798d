// Package notify shows desktop notifications for connection events
// through notify-send.
package notify

import (
	"fmt"
	"os/exec"

	"github.com/yllada/pvpn/common"
)

// Kind selects the icon and urgency of a notification.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindError
)

// Notification is one desktop notification.
type Notification struct {
	Title   string
	Message string
	Kind    Kind
	Icon    string
}

// Desktop sends notifications with notify-send. Failures are logged and
// never interrupt the connection.
type Desktop struct {
	// Binary is the notify-send executable.
	Binary string
}

// NewDesktop returns a Desktop using notify-send from PATH.
func NewDesktop() *Desktop {
	return &Desktop{Binary: "notify-send"}
}

// Args returns the notify-send arguments for n.
func Args(n Notification) []string {
	icon := n.Icon
	if icon == "" {
		switch n.Kind {
		case KindError:
			icon = "dialog-error"
		default:
			icon = "network-vpn"
		}
	}

	urgency := "low"
	if n.Kind == KindError {
		urgency = "critical"
	}

	return []string{
		"--app-name=" + common.AppName,
		"--icon=" + icon,
		"--urgency=" + urgency,
		n.Title,
		n.Message,
	}
}

// Send shows n.
func (d *Desktop) Send(n Notification) error {
	if err := exec.Command(d.Binary, Args(n)...).Run(); err != nil {
		common.LogDebug("Error showing notification: %v", err)
		return fmt.Errorf("notify-send: %w", err)
	}
	return nil
}

// Connected announces a new tunnel to server.
func (d *Desktop) Connected(server string) {
	_ = d.Send(Notification{
		Title:   "VPN Connected",
		Message: "Connected to " + server,
		Kind:    KindSuccess,
	})
}

// Disconnected announces the end of the tunnel to server.
func (d *Desktop) Disconnected(server string) {
	_ = d.Send(Notification{
		Title:   "VPN Disconnected",
		Message: "Disconnected from " + server,
		Kind:    KindInfo,
		Icon:    "network-vpn-disconnected",
	})
}

// Failed reports a connection error for server.
func (d *Desktop) Failed(server string, err error) {
	_ = d.Send(Notification{
		Title:   "Connection Error",
		Message: server + ": " + err.Error(),
		Kind:    KindError,
	})
}
