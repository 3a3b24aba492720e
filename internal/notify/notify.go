// Package notify delivers best-effort desktop notifications for the
// watch command. A missing notifier binary degrades to a log line;
// notification failure never fails a run.
package notify

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"mailtriage/internal/logging"
)

// disableEnv suppresses all desktop notifications when set, for
// headless and CI use.
const disableEnv = "MAILTRIAGE_DISABLE_NOTIFICATIONS"

// Notifier sends one notification.
type Notifier interface {
	Notify(title, body string) error
}

// Desktop shells out to the platform notifier.
type Desktop struct{}

func (Desktop) Notify(title, body string) error {
	if os.Getenv(disableEnv) != "" {
		logging.Log.WithField("title", title).Debug("Notifications disabled, skipping")
		return nil
	}

	cmd, err := platformCommand(title, body)
	if err != nil {
		return err
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running notifier: %w", err)
	}
	return nil
}

func platformCommand(title, body string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return nil, fmt.Errorf("notify-send not found: %w", err)
		}
		return exec.Command("notify-send", title, body), nil
	case "darwin":
		if _, err := exec.LookPath("terminal-notifier"); err == nil {
			return exec.Command("terminal-notifier", "-title", title, "-message", body), nil
		}
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return exec.Command("osascript", "-e", script), nil
	default:
		return nil, fmt.Errorf("no notifier for platform %s", runtime.GOOS)
	}
}
