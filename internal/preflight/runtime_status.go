package preflight

import (
	"os"
	"strings"

	"signsync/internal/config"
)

// CheckAccountFromConfig reports whether a login token is stored.
func CheckAccountFromConfig(cfg *config.Config) Result {
	const name = "Account"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	data, err := os.ReadFile(cfg.LoginTokenPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: "Not attached (run signsync attach)"}
		}
		return Result{Name: name, Detail: "Unreadable: " + err.Error()}
	}
	token := strings.TrimSpace(string(data))
	user, _, ok := strings.Cut(token, ":")
	if !ok || user == "" {
		return Result{Name: name, Detail: "Malformed login token"}
	}
	return Result{Name: name, Passed: true, Detail: "Attached as " + user}
}

// CheckNotificationsFromConfig reports the notification transport.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: "ntfy " + cfg.Notifications.NtfyTopic}
}
