package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexConsensus/config"
	"github.com/dyike/CortexConsensus/internal/catalog"
	"github.com/dyike/CortexConsensus/internal/display"
	"github.com/dyike/CortexConsensus/internal/logging"
)

const Version = "0.3.0"

// appState is filled by the root command before any subcommand runs.
type appState struct {
	configPath string
	debug      bool
	logLevel   string
	logFormat  string

	mgr    *config.Manager
	cfg    config.Config
	logger *slog.Logger
}

func (s *appState) load(errOut io.Writer) error {
	opts := []config.ManagerOption{
		config.WithEnvOverlay(),
		config.WithInitialConfig(config.DefaultConfig()),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}
	mgr, err := config.NewManager(opts...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	level := cfg.LogLevel
	if s.logLevel != "" {
		level = s.logLevel
	}
	if s.debug || cfg.Debug {
		level = "debug"
	}
	format := cfg.LogFormat
	if s.logFormat != "" {
		format = s.logFormat
	}
	logger := logging.New(level, format, errOut)
	slog.SetDefault(logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	s.mgr = mgr
	s.cfg = cfg
	s.logger = logger
	return nil
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	st := &appState{}

	rootCmd := &cobra.Command{
		Use:   "cortexconsensus",
		Short: "CortexConsensus - multi-analyst debate consensus",
		Long: `CortexConsensus runs three LLM-backed analysts through a three-round debate
over a candidate list and reduces their picks to a ranked, persisted top five.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return st.load(cmd.ErrOrStderr())
		},
	}

	rootCmd.AddCommand(newRunCmd(st))
	rootCmd.AddCommand(newShowCmd(st))
	rootCmd.AddCommand(newHistoryCmd(st))
	rootCmd.AddCommand(newScheduleCmd(st))
	rootCmd.AddCommand(newConfigCmd(st))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().BoolVar(&st.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&st.configPath, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&st.logFormat, "log-format", "", "Log format (text, json)")

	return rootCmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "CortexConsensus v%s\n", Version)
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(st *appState) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), maskKeys(st.cfg))
			}
			showConfig(cmd.OutOrStdout(), st.mgr.Path(), st.cfg)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON with credentials masked")
	configCmd.AddCommand(showCmd)

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, credentials and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), st.cfg)
		},
	})

	return configCmd
}

// showConfig displays the current configuration
func showConfig(w io.Writer, path string, cfg config.Config) {
	fmt.Fprintln(w, "Current CortexConsensus configuration")
	fmt.Fprintf(w, "Config File:          %s\n", path)
	fmt.Fprintf(w, "Results Directory:    %s\n", cfg.ResultsDir)
	fmt.Fprintf(w, "Database:             %s\n", cfg.DBPath)
	catalogPath := cfg.CatalogPath
	if catalogPath == "" {
		catalogPath = "(embedded default)"
	}
	fmt.Fprintf(w, "Catalog:              %s\n", catalogPath)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Pacing Delay:         %s\n", cfg.PacingDelay())
	fmt.Fprintf(w, "Context Budget:       %d runes\n", cfg.ContextBudget)
	fmt.Fprintf(w, "Request Timeout:      %s\n", cfg.RequestTimeout())
	fmt.Fprintf(w, "Write Transcripts:    %t\n", cfg.WriteTranscripts)
	fmt.Fprintf(w, "Schedule:             %s (%s)\n", cfg.Schedule, cfg.Timezone)
	fmt.Fprintf(w, "Eino Debug:           %t\n", cfg.EinoDebugEnabled)
	if cfg.EinoDebugEnabled {
		fmt.Fprintf(w, "Eino Debug Port:      %d\n", cfg.EinoDebugPort)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Personas:")
	for _, p := range cfg.Personas {
		key := "not configured"
		if p.APIKey != "" {
			key = "configured"
		}
		fmt.Fprintf(w, "  %-16s %-10s %-28s key %s\n", p.Name, p.Provider, p.Model, key)
		if p.BaseURL != "" {
			fmt.Fprintf(w, "  %-16s base_url %s\n", "", p.BaseURL)
		}
	}
}

// validateConfig validates the configuration and dependencies
func validateConfig(w io.Writer, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(w, "Structure:            ok")

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	fmt.Fprintf(w, "Catalog:              %d candidates\n", cat.Len())

	problems := cfg.Problems()
	if len(problems) == 0 {
		fmt.Fprintln(w, "Credentials:          ok")
		return nil
	}
	display.NewRenderer(w).Problems(problems)
	return fmt.Errorf("configuration incomplete: %d problem(s)", len(problems))
}

func maskKeys(cfg config.Config) config.Config {
	personas := make([]config.PersonaConfig, len(cfg.Personas))
	copy(personas, cfg.Personas)
	for i := range personas {
		if personas[i].APIKey != "" {
			personas[i].APIKey = "****"
		}
	}
	cfg.Personas = personas
	return cfg
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
