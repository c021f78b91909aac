package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/llm-table-fill/internal/catalog"
	"github.com/ogulcanaydogan/llm-table-fill/internal/config"
	"github.com/ogulcanaydogan/llm-table-fill/internal/logging"
	"github.com/ogulcanaydogan/llm-table-fill/internal/observability"
	"github.com/ogulcanaydogan/llm-table-fill/internal/provider"
	"github.com/ogulcanaydogan/llm-table-fill/internal/store"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table/larkbase"
	"github.com/ogulcanaydogan/llm-table-fill/internal/table/memory"
	"github.com/ogulcanaydogan/llm-table-fill/internal/tui"
	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

var version = "dev"

const (
	exitConfig = 10
	exitLoad   = 11
	exitRun    = 12

	defaultRunFile = "llmfill.yaml"
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func (e cliError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCommand()
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withExitCode maps the error kinds to process exit codes.
func withExitCode(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrInvalidConfig):
		return cliError{code: exitConfig, err: err}
	case errors.Is(err, types.ErrLoad):
		return cliError{code: exitLoad, err: err}
	case errors.Is(err, types.ErrRun):
		return cliError{code: exitRun, err: err}
	default:
		return err
	}
}

// Seams replaced in tests.
var (
	openHostFunc      = openHost
	newProviderClient = defaultProviderClient
	promptSecretFunc  = tui.PromptSecret
	loadSettingsFunc  = func() (config.Settings, error) { return config.LoadSettings() }
	initTracingFunc   = observability.InitTracing
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "llmfill",
		Short:         "Fill spreadsheet table fields with LLM completions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInitCommand())
	root.AddCommand(newTablesCommand())
	root.AddCommand(newFieldsCommand())
	root.AddCommand(newProvidersCommand())
	root.AddCommand(newKeyCommand())
	root.AddCommand(newModelsCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newReportCommand())
	return root
}

// env is the per-invocation environment shared by subcommands.
type env struct {
	settings config.Settings
	log      *logrus.Logger
	closers  []func() error
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	s, err := loadSettingsFunc()
	if err != nil {
		return nil, cliError{code: exitConfig, err: err}
	}
	log, closer, err := logging.New(s.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, cliError{code: exitConfig, err: err}
	}
	e := &env{settings: s, log: log, closers: []func() error{closer.Close}}
	shutdown, err := initTracingFunc("llmfill", version, s.OTel)
	if err != nil {
		log.WithError(err).Warn("tracing disabled")
	} else {
		e.closers = append(e.closers, func() error { return shutdown(context.Background()) })
	}
	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.WithError(err).Debug("close")
		}
	}
}

func (e *env) store() (*store.Store, error) {
	return store.Open(e.settings.Home)
}

// hostHandle is an opened table host plus a hook that persists pending
// changes for hosts that need it.
type hostHandle struct {
	table.Host
	save func() error
}

func (h hostHandle) Save() error {
	if h.save == nil {
		return nil
	}
	return h.save()
}

func openHost(s config.Settings) (hostHandle, error) {
	switch s.Host {
	case "file":
		if strings.TrimSpace(s.TableFile) == "" {
			return hostHandle{}, fmt.Errorf("%w: LLMFILL_TABLE_FILE is required for the file host", types.ErrInvalidConfig)
		}
		h, err := memory.LoadFile(s.TableFile)
		if err != nil {
			return hostHandle{}, fmt.Errorf("%w: %v", types.ErrLoad, err)
		}
		return hostHandle{Host: h, save: func() error { return h.SaveFile(s.TableFile) }}, nil
	case "", "larkbase":
		c, err := larkbase.New(larkbase.Config{
			BaseURL:   s.Lark.BaseURL,
			AppID:     s.Lark.AppID,
			AppSecret: s.Lark.AppSecret,
			AppToken:  s.Lark.AppToken,
		}, nil)
		if err != nil {
			return hostHandle{}, fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
		}
		return hostHandle{Host: c}, nil
	default:
		return hostHandle{}, fmt.Errorf("%w: unsupported host %q", types.ErrInvalidConfig, s.Host)
	}
}

func defaultProviderClient(s config.Settings) *provider.Client {
	return provider.NewClient(
		provider.WithTimeout(s.HTTPTimeout),
		provider.WithAttribution(s.Referer, s.Title),
	)
}

// resolveCredential picks the API key: flag, then LLMFILL_API_KEY, then the
// local store.
func resolveCredential(flagValue string, s config.Settings, kv store.KV, providerName string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(s.APIKey); v != "" {
		return v, nil
	}
	if kv == nil {
		return "", nil
	}
	return store.APIKey(kv, providerName)
}

// resolveProvider returns the named provider, or the stored selection when
// name is empty.
func resolveProvider(name string, kv store.KV) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		selected, err := store.SelectedProvider(kv)
		if err != nil {
			return "", err
		}
		name = selected
	}
	if _, err := provider.Lookup(name); err != nil {
		return "", err
	}
	return name, nil
}

func newInitCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize llmfill run file and local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettingsFunc()
			if err != nil {
				return cliError{code: exitConfig, err: err}
			}
			if _, err := store.EnsureDefaultDir(s.Home); err != nil {
				return err
			}
			if !fileExists(path) {
				raw, err := yaml.Marshal(config.DefaultRunFile())
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, raw, 0o644); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "initialized llmfill run file and local store")
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", defaultRunFile, "run file to create")
	return cmd
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables in the connected base",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			h, err := openHostFunc(e.settings)
			if err != nil {
				return withExitCode(err)
			}
			tables, err := table.NewLoader(h).Tables(cmd.Context())
			if err != nil {
				return withExitCode(err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, t := range tables {
				fmt.Fprintf(w, "%s\t%s\n", t.ID, t.Name)
			}
			return w.Flush()
		},
	}
}

func newFieldsCommand() *cobra.Command {
	var tableRef string
	var all bool
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List the fields of a table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(tableRef) == "" {
				return cliError{code: exitConfig, err: fmt.Errorf("--table is required")}
			}
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			h, err := openHostFunc(e.settings)
			if err != nil {
				return withExitCode(err)
			}
			loader := table.NewLoader(h)
			meta, err := loader.Table(cmd.Context(), tableRef)
			if err != nil {
				return withExitCode(err)
			}
			var fields []types.FieldDescriptor
			if all {
				fields, err = h.ListFields(cmd.Context(), meta.ID)
				if err != nil {
					err = fmt.Errorf("%w: list fields %s: %v", types.ErrLoad, meta.ID, err)
				}
			} else {
				fields, err = loader.TextFields(cmd.Context(), meta.ID)
			}
			if err != nil {
				return withExitCode(err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE")
			for _, f := range fields {
				fmt.Fprintf(w, "%s\t%s\t%d\n", f.ID, f.Name, f.Type)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tableRef, "table", "", "table id or name")
	cmd.Flags().BoolVar(&all, "all", false, "include non-text fields")
	return cmd
}

func newProvidersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List supported providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			st, err := e.store()
			if err != nil {
				return err
			}
			selected, err := store.SelectedProvider(st)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tNAME\tLABEL\tKEY")
			for _, v := range provider.All() {
				mark := ""
				if v.Name == selected {
					mark = "*"
				}
				key, err := store.APIKey(st, v.Name)
				if err != nil {
					return err
				}
				shown := "-"
				if key != "" {
					shown = logging.Redact(key)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, v.Name, v.Label, shown)
			}
			return w.Flush()
		},
	}

	use := &cobra.Command{
		Use:   "use <provider>",
		Short: "Select the default provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			name := strings.ToLower(strings.TrimSpace(args[0]))
			if _, err := provider.Lookup(name); err != nil {
				return withExitCode(err)
			}
			st, err := e.store()
			if err != nil {
				return err
			}
			if err := store.SelectProvider(st, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected provider %s\n", name)
			return nil
		},
	}
	cmd.AddCommand(use)
	return cmd
}

func newKeyCommand() *cobra.Command {
	keyCmd := &cobra.Command{Use: "key", Short: "Manage provider API keys"}

	var providerName, value string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store an API key for a provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			st, err := e.store()
			if err != nil {
				return err
			}
			name, err := resolveProvider(providerName, st)
			if err != nil {
				return withExitCode(err)
			}
			key := value
			if key == "" {
				key, err = promptSecretFunc(cmd.InOrStdin(), cmd.OutOrStdout(), name+" API key")
				if err != nil {
					return err
				}
			}
			saved, err := store.SaveAPIKey(st, name, key)
			if err != nil {
				return err
			}
			switch {
			case saved:
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s key %s\n", name, logging.Redact(strings.TrimSpace(key)))
			case strings.TrimSpace(key) == "":
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s key\n", name)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s key too short; not stored\n", name)
			}
			return nil
		},
	}
	set.Flags().StringVar(&providerName, "provider", "", "provider name (defaults to the selected provider)")
	set.Flags().StringVar(&value, "value", "", "key value (prompted when empty)")

	var showProvider string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the stored key, redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			st, err := e.store()
			if err != nil {
				return err
			}
			name, err := resolveProvider(showProvider, st)
			if err != nil {
				return withExitCode(err)
			}
			key, err := store.APIKey(st, name)
			if err != nil {
				return err
			}
			if key == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s key stored\n", name)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, logging.Redact(key))
			return nil
		},
	}
	show.Flags().StringVar(&showProvider, "provider", "", "provider name")

	var clearProvider string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			st, err := e.store()
			if err != nil {
				return err
			}
			name, err := resolveProvider(clearProvider, st)
			if err != nil {
				return withExitCode(err)
			}
			if err := store.ClearAPIKey(st, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s key\n", name)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&clearProvider, "provider", "", "provider name")

	keyCmd.AddCommand(set, show, clearCmd)
	return keyCmd
}

func newModelsCommand() *cobra.Command {
	var providerName, search, apiKey string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models offered by a provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			st, err := e.store()
			if err != nil {
				return err
			}
			name, err := resolveProvider(providerName, st)
			if err != nil {
				return withExitCode(err)
			}
			credential, err := resolveCredential(apiKey, e.settings, st, name)
			if err != nil {
				return err
			}
			loader := catalog.NewLoader(newProviderClient(e.settings), e.settings.CacheTTL)
			models, err := loader.Models(cmd.Context(), name, credential)
			if err != nil {
				return withExitCode(err)
			}
			models = catalog.Search(models, search)
			e.log.WithFields(logrus.Fields{"provider": name, "models": len(models)}).Debug("models listed")
			return printModels(cmd.OutOrStdout(), models)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "provider name (defaults to the selected provider)")
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive filter on id or name")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (overrides env and store)")
	return cmd
}

func printModels(out io.Writer, models []types.ModelDescriptor) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE (IN/OUT)")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, catalog.FormatPricing(m.Pricing))
	}
	return w.Flush()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
