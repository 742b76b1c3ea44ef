package preflight

import (
	"context"

	"signsync/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the directory checks and, when prober is non-nil, the
// server check.
func RunAll(ctx context.Context, cfg *config.Config, prober Prober, token string) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Upload directory", cfg.UploadDir()),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if prober != nil {
		results = append(results, CheckServer(ctx, prober, token, cfg.ProbeTimeout()))
	}
	return results
}
