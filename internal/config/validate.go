package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/signsync/config.toml"
		}
		return fmt.Errorf("server.base_url is required. Set SIGNSYNC_SERVER_URL env var or edit %s (create with 'signsync config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Server.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.base_url %q must be an absolute http(s) URL", c.Server.BaseURL)
	}
	if err := ensurePositive("server.request_timeout", c.Server.RequestTimeout); err != nil {
		return err
	}
	return ensurePositive("server.probe_timeout", c.Server.ProbeTimeout)
}

func (c *Config) validateUpload() error {
	if err := ensurePositive("upload.batch_size", c.Upload.BatchSize); err != nil {
		return err
	}
	if c.Upload.ChunkSizeBytes < minChunkSizeBytes {
		return fmt.Errorf("upload.chunk_size_bytes must be at least %d", minChunkSizeBytes)
	}
	if c.Upload.SettleSeconds < 0 {
		return errors.New("upload.settle_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.InitialDelay < 0 {
		return errors.New("workflow.initial_delay must not be negative")
	}
	if err := ensurePositive("workflow.upload_interval", c.Workflow.UploadInterval); err != nil {
		return err
	}
	if err := ensurePositive("workflow.error_retry_interval", c.Workflow.ErrorRetryInterval); err != nil {
		return err
	}
	if err := ensurePositive("workflow.watchdog_interval", c.Workflow.WatchdogInterval); err != nil {
		return err
	}
	return ensurePositive("workflow.foreground_pause", c.Workflow.ForegroundPause)
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositive(field string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}
