package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/llm-table-fill/internal/config"
	"github.com/ogulcanaydogan/llm-table-fill/internal/dispatch"
	"github.com/ogulcanaydogan/llm-table-fill/internal/pipeline"
	"github.com/ogulcanaydogan/llm-table-fill/internal/report"
	"github.com/ogulcanaydogan/llm-table-fill/internal/tui"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

type runOptions struct {
	configPath string
	provider   string
	model      string
	apiKey     string
	reportPath string
	format     string
	useTUI     bool
}

func newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fill result fields of every eligible row",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withExitCode(runFill(cmd, opts))
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", defaultRunFile, "run file")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "provider override")
	cmd.Flags().StringVar(&opts.model, "model", "", "model override")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "API key (overrides env and store)")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write a run report to this path")
	cmd.Flags().StringVar(&opts.format, "format", "json", "report format (json|md)")
	cmd.Flags().BoolVar(&opts.useTUI, "tui", false, "show an interactive progress view")
	return cmd
}

func runFill(cmd *cobra.Command, opts runOptions) error {
	switch opts.format {
	case "json", "md":
	default:
		return fmt.Errorf("%w: unsupported format %s", types.ErrInvalidConfig, opts.format)
	}
	cfg, err := config.LoadRunFile(opts.configPath)
	if err != nil {
		return err
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	st, err := e.store()
	if err != nil {
		return err
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		if cfg.Provider, err = resolveProvider("", st); err != nil {
			return err
		}
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	cfg = cfg.Normalize()
	if cfg.Credential, err = resolveCredential(opts.apiKey, e.settings, st, cfg.Provider); err != nil {
		return err
	}
	// Fail before touching the host when the configuration is incomplete.
	if err := config.Validate(cfg); err != nil {
		return err
	}

	h, err := openHostFunc(e.settings)
	if err != nil {
		return err
	}

	runner := &pipeline.Runner{
		Host:        h,
		Sender:      newProviderClient(e.settings),
		BatchSize:   e.settings.BatchSize,
		RecordLimit: e.settings.PageSize,
		Progress:    dispatch.NewProgress(),
		Log:         e.log,
	}

	var rep report.RunReport
	var runErr error
	if opts.useTUI {
		rep, runErr = runWithTUI(cmd, runner, cfg)
	} else {
		rep, runErr = runPlain(cmd, runner, cfg)
	}

	if err := h.Save(); err != nil && runErr == nil {
		runErr = fmt.Errorf("%w: save table: %w", types.ErrRun, err)
	}
	if opts.reportPath != "" && rep.RunID != "" {
		if err := writeReport(opts.reportPath, opts.format, rep); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), opts.reportPath)
	}
	return runErr
}

func runPlain(cmd *cobra.Command, runner *pipeline.Runner, cfg types.RunConfiguration) (report.RunReport, error) {
	out := cmd.OutOrStdout()
	last := -1
	runner.Progress.Observe(func(v int) {
		if v != last && v > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "progress %d%%\n", v)
		}
		last = v
	})
	runner.Notify = func(n pipeline.Notice) {
		fmt.Fprintf(out, "%s: %s\n", n.Level, n.Message)
	}
	return runner.Run(cmd.Context(), cfg)
}

type runResult struct {
	rep report.RunReport
	err error
}

func runWithTUI(cmd *cobra.Command, runner *pipeline.Runner, cfg types.RunConfiguration) (report.RunReport, error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	model := tui.NewRunModel(fmt.Sprintf("Filling %s with %s", cfg.Table, cfg.Model), cancel)
	p := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	runner.Progress.Observe(func(v int) { p.Send(tui.ProgressMsg(v)) })
	runner.OnRow = func(r dispatch.RowResult) {
		p.Send(tui.RowMsg{RecordID: r.RecordID, Skipped: r.Skip != "", FieldErrors: len(r.Failed)})
	}
	runner.Notify = func(n pipeline.Notice) {
		p.Send(tui.DoneMsg{Failed: n.Level == pipeline.NoticeError, Message: n.Message})
	}

	done := make(chan runResult, 1)
	go func() {
		rep, err := runner.Run(ctx, cfg)
		done <- runResult{rep: rep, err: err}
	}()
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		res := <-done
		if res.err != nil {
			return res.rep, res.err
		}
		return res.rep, fmt.Errorf("progress view: %w", err)
	}
	res := <-done
	return res.rep, res.err
}

func writeReport(path, format string, rep report.RunReport) error {
	switch format {
	case "md":
		return report.WriteMarkdown(path, rep)
	default:
		return report.WriteJSON(path, rep)
	}
}

func newReportCommand() *cobra.Command {
	var inPath, outPath, format string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a saved JSON run report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" {
				return cliError{code: exitConfig, err: fmt.Errorf("--in is required")}
			}
			rep, err := report.ReadJSON(inPath)
			if err != nil {
				return err
			}
			switch format {
			case "md":
				if outPath == "" {
					_, err := io.WriteString(cmd.OutOrStdout(), report.BuildMarkdown(rep))
					return err
				}
				if err := report.WriteMarkdown(outPath, rep); err != nil {
					return err
				}
			case "json":
				if outPath == "" {
					return cliError{code: exitConfig, err: fmt.Errorf("--out is required for json")}
				}
				if err := report.WriteJSON(outPath, rep); err != nil {
					return err
				}
			default:
				return cliError{code: exitConfig, err: fmt.Errorf("unsupported format %s", format)}
			}
			fmt.Fprintln(cmd.OutOrStdout(), outPath)
			if !rep.Succeeded() {
				return cliError{code: exitRun, err: fmt.Errorf("run %s failed: %s", rep.RunID, rep.Error)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "JSON run report")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (stdout for md when empty)")
	cmd.Flags().StringVar(&format, "format", "md", "output format (md|json)")
	return cmd
}
