package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signsync/internal/config"
)

const userAgent = "signsync/0.1.0"

// Event names one notification-worthy moment of an upload cycle.
type Event string

const (
	EventUploadStarted   Event = "upload_started"
	EventUploadProgress  Event = "upload_progress"
	EventUploadCompleted Event = "upload_completed"
	EventUploadFailed    Event = "upload_failed"
	EventError           Event = "error"
	EventTest            Event = "test"
)

// Payload carries event details keyed by name.
type Payload map[string]any

// Service is the notification surface used by the upload cycle.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		progress: cfg.Notifications.Progress,
		errors:   cfg.Notifications.Errors,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	progress bool
	errors   bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventUploadStarted:
		return message{
			title: "signsync - Upload Started",
			body:  fmt.Sprintf("Uploading %d records and %d files", payload.int("records"), payload.int("files")),
			tags:  []string{"signsync", "upload", "started"},
		}, n.progress
	case EventUploadProgress:
		return message{
			title:    "signsync - Uploading",
			body:     fmt.Sprintf("Upload progress: %d%%", payload.int("percent")),
			tags:     []string{"signsync", "upload", "progress"},
			priority: "low",
		}, n.progress
	case EventUploadCompleted:
		return message{
			title: "signsync - Upload Complete",
			body:  "Upload complete",
			tags:  []string{"signsync", "upload", "completed"},
		}, n.progress
	case EventUploadFailed:
		body := "Upload Failed, retrying later"
		if detail := payload.string("error"); detail != "" {
			body += "\n" + detail
		}
		return message{
			title: "signsync - Upload Failed",
			body:  body,
			tags:  []string{"signsync", "upload", "failed"},
		}, n.errors
	case EventError:
		var builder strings.Builder
		builder.WriteString("Error")
		if label := payload.string("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := payload.string("error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "signsync - Error",
			body:     builder.String(),
			tags:     []string{"signsync", "error", "alert"},
			priority: "high",
		}, n.errors
	case EventTest:
		return message{
			title:    "signsync - Test",
			body:     "Notification system test",
			tags:     []string{"signsync", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) string(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) int(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
