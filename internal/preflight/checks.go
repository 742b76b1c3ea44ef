package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"signsync/internal/services"
)

// Prober is the lightweight authentication probe exposed by the server client.
type Prober interface {
	IsAuthenticated(ctx context.Context, token string) (bool, error)
}

// CheckServer verifies the collection server is reachable and, when a token
// is given, that it accepts it. The probe client carries its own short
// timeout; timeout here bounds the whole check.
func CheckServer(ctx context.Context, prober Prober, token string, timeout time.Duration) Result {
	const name = "Server"
	if prober == nil {
		return Result{Name: name, Detail: "not configured"}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := prober.IsAuthenticated(checkCtx, token)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	if token == "" {
		return Result{Name: name, Passed: true, Detail: "reachable (no account attached)"}
	}
	if !ok {
		return Result{Name: name, Detail: "reachable, login token rejected"}
	}
	return Result{Name: name, Passed: true, Detail: "reachable, authenticated"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out (server unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "probe timed out (server unreachable)"
	}
	if errors.Is(err, services.ErrTransient) {
		return "unreachable: " + err.Error()
	}
	return err.Error()
}
