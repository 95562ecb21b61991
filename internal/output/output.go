// Package output delivers finished transcripts to the desktop: clipboard
// copy, optional simulated paste into the focused application, and desktop
// notifications.
package output

import (
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gen2brain/beeep"
	"github.com/micmonay/keybd_event"

	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/permission"
	"github.com/voxd/voxd/pkg/logger"
)

// ErrAccessibilityDenied indicates the paste keystroke could not be sent
// because the accessibility permission is missing. The clipboard copy has
// already succeeded when this is returned, so the text is not lost.
var ErrAccessibilityDenied = errors.New("accessibility permission denied")

const notifyTitle = "voxd"

// Deliverer copies transcripts to the clipboard and optionally pastes them
// into the active application.
type Deliverer struct {
	config config.OutputConfig
	notify bool
	perms  permission.Checker
	logger *logger.Logger
}

// NewDeliverer creates a new transcript deliverer
func NewDeliverer(cfg config.OutputConfig, notifications config.NotificationsConfig, perms permission.Checker, log *logger.Logger) *Deliverer {
	return &Deliverer{
		config: cfg,
		notify: notifications.Enabled,
		perms:  perms,
		logger: log.Named("output"),
	}
}

// Deliver places text on the clipboard and, if configured, simulates a
// paste keystroke. A failed paste after a successful copy returns
// ErrAccessibilityDenied (or the keystroke error) but leaves the text on
// the clipboard so the user can paste manually.
func (d *Deliverer) Deliver(text string) error {
	if !d.config.CopyToClipboard {
		d.logger.Debug("Clipboard delivery disabled, skipping")
		return nil
	}

	// Save the previous clipboard contents before overwriting
	var previous string
	var havePrevious bool
	if d.config.RestoreClipboard && d.config.SimulatePaste {
		if orig, err := clipboard.ReadAll(); err == nil {
			previous = orig
			havePrevious = true
		}
	}

	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	d.logger.Debug("Transcript copied to clipboard", logger.Int("length", len(text)))

	if !d.config.SimulatePaste {
		return nil
	}

	if !d.perms.CheckAccessibility() {
		d.logger.Warn("Accessibility permission missing, transcript left on clipboard")
		return ErrAccessibilityDenied
	}

	// Give the clipboard manager time to settle before the keystroke
	delay := time.Duration(d.config.PasteDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 80 * time.Millisecond
	}
	time.Sleep(delay)

	if err := sendPasteKeystroke(); err != nil {
		d.logger.Warn("Paste keystroke failed, transcript left on clipboard", logger.Error(err))
		return fmt.Errorf("failed to simulate paste: %w", err)
	}

	// Restore the previous clipboard contents after the paste lands
	if havePrevious {
		time.Sleep(delay)
		if err := clipboard.WriteAll(previous); err != nil {
			d.logger.Warn("Failed to restore clipboard", logger.Error(err))
		}
	}

	return nil
}

// NotifySuccess shows a desktop notification for a delivered transcript
func (d *Deliverer) NotifySuccess(text string) {
	if !d.notify {
		return
	}
	if err := beeep.Notify(notifyTitle, truncate(text, 120), ""); err != nil {
		d.logger.Debug("Notification failed", logger.Error(err))
	}
}

// NotifyError shows a desktop notification for a failed transcription
func (d *Deliverer) NotifyError(message string) {
	if !d.notify {
		return
	}
	if err := beeep.Alert(notifyTitle, message, ""); err != nil {
		d.logger.Debug("Notification failed", logger.Error(err))
	}
}

// sendPasteKeystroke simulates Ctrl+V in the focused application
func sendPasteKeystroke() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	return kb.Launching()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
