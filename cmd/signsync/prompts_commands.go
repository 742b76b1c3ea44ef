package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"signsync/internal/datamanager"
	"signsync/internal/prompts"
	"signsync/internal/store"
)

func newDirectivesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "directives",
		Short: "Fetch and execute pending server directives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				report, err := api.Directives(c)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Executed %d, skipped %d, failed %d\n", report.Executed, report.Skipped, report.Failed)
				if report.ChangedUser {
					fmt.Fprintln(out, "Account changed by server directive")
				}
				return err
			})
		},
	}
}

func newReloadPromptsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload-prompts",
		Short: "Download prompts and resources for the attached account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				sections, err := api.ReloadPrompts(c)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Loaded %d %s\n", len(sections), plural(len(sections), "section", "sections"))
				for _, name := range sections {
					fmt.Fprintf(out, "  %s\n", sectionTitle(name))
				}
				return nil
			})
		},
	}
}

func newTutorialCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "tutorial <on|off>",
		Short:     "Switch tutorial mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return ctx.withSync(cmd, func(c context.Context, api syncAPI) error {
				if err := api.SetTutorialMode(c, enabled); err != nil {
					return err
				}
				if enabled {
					fmt.Fprintln(cmd.OutOrStdout(), "Tutorial mode enabled")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Tutorial mode disabled")
				}
				return nil
			})
		},
	}
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}

// progressView is the JSON form of `signsync progress`.
type progressView struct {
	TutorialMode   bool                  `json:"tutorialMode"`
	CurrentSection string                `json:"currentSection,omitempty"`
	Sections       []sectionProgressView `json:"sections"`
}

type sectionProgressView struct {
	Name     string `json:"name"`
	Recorded int    `json:"recorded"`
	Total    int    `json:"total"`
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show prompt progress per section",
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := loadProgress(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			if len(view.Sections) == 0 {
				fmt.Fprintln(out, "No prompts loaded (run signsync reload-prompts)")
				return nil
			}
			mode := "main"
			if view.TutorialMode {
				mode = "tutorial"
			}
			fmt.Fprintf(out, "Mode: %s\n", mode)
			rows := make([][]string, 0, len(view.Sections))
			for _, s := range view.Sections {
				marker := ""
				if s.Name == view.CurrentSection {
					marker = "*"
				}
				rows = append(rows, []string{marker, sectionTitle(s.Name), strconv.Itoa(s.Recorded) + "/" + strconv.Itoa(s.Total)})
			}
			fmt.Fprint(out, renderTable([]string{"", "Section", "Recorded"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func loadProgress(c context.Context, ctx *commandContext) (progressView, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return progressView{}, err
	}
	view := progressView{Sections: []sectionProgressView{}}

	collection, err := prompts.LoadFile(cfg.PromptsPath())
	if errors.Is(err, os.ErrNotExist) {
		return view, nil
	}
	if err != nil {
		return progressView{}, err
	}

	st, err := store.Open(cfg)
	if err != nil {
		return progressView{}, err
	}
	defer st.Close()
	if v, ok, err := st.GetBool(c, datamanager.PrefTutorialMode); err != nil {
		return progressView{}, err
	} else if ok {
		view.TutorialMode = v
	}
	view.CurrentSection, _, err = st.GetString(c, datamanager.PrefCurrentSection)
	if err != nil {
		return progressView{}, err
	}
	var progress prompts.Progress
	if _, err := st.GetJSON(c, datamanager.PrefPromptProgress, &progress); err != nil {
		return progressView{}, err
	}
	progress = prompts.Reconcile(progress, collection)

	for _, name := range collection.SectionNames() {
		section, _ := collection.Section(name)
		view.Sections = append(view.Sections, sectionProgressView{
			Name:     name,
			Recorded: progress[name].Index(view.TutorialMode),
			Total:    len(section.Prompts(view.TutorialMode)),
		})
	}
	return view, nil
}

func sectionTitle(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}
