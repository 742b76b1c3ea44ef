package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"signsync/internal/registry"
	"signsync/internal/store"
)

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "register <path>...",
		Short: "Register recordings for upload",
		Long: "Register recordings for upload. Paths may be absolute or relative to the\n" +
			"current directory but must live under the configured data directory.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rels := make([]string, 0, len(args))
			for _, arg := range args {
				rel, err := dataRelativePath(cfg.Paths.DataDir, arg)
				if err != nil {
					return err
				}
				rels = append(rels, rel)
			}
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				out := cmd.OutOrStdout()
				for _, rel := range rels {
					resp, err := api.Register(c, rel)
					if err != nil {
						return fmt.Errorf("register %s: %w", rel, err)
					}
					suffix := ""
					if resp.TutorialMode {
						suffix = " (tutorial)"
					}
					fmt.Fprintf(out, "Registered %s%s\n", resp.RelativePath, suffix)
				}
				return nil
			})
		},
	}
}

// dataRelativePath converts a user-supplied path into a slash separated
// path relative to dataDir.
func dataRelativePath(dataDir, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("%w: empty", registry.ErrInvalidPath)
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", arg, err)
	}
	root, err := filepath.Abs(dataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("%w: %s is outside %s", registry.ErrInvalidPath, arg, root)
	}
	return filepath.ToSlash(rel), nil
}

func newFilesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List registered recordings and their upload progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			files, err := st.ListFiles(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				if files == nil {
					files = []store.RegisteredFile{}
				}
				return writeJSON(cmd, files)
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No registered files")
				return nil
			}
			rows := make([][]string, 0, len(files))
			for _, f := range files {
				rows = append(rows, []string{f.RelativePath, formatSize(f.FileSize), fileStage(f), yesNo(f.TutorialMode)})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Path", "Size", "Stage", "Tutorial"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// fileStage names the next protocol step a registered file is waiting on.
func fileStage(f store.RegisteredFile) string {
	switch {
	case f.UploadVerified:
		return "verified"
	case f.UploadCompleted:
		return "verifying"
	case f.SessionLink != "":
		return "uploading"
	case f.UploadLink != "":
		return "session pending"
	case f.MD5 != "":
		return "link pending"
	default:
		return "new"
	}
}

func formatSize(size *int64) string {
	if size == nil || *size < 0 {
		return "-"
	}
	return humanize.IBytes(uint64(*size))
}
