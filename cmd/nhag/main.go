package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nhaguard/internal/app"
	"nhaguard/internal/config"
	"nhaguard/internal/db"
	"nhaguard/internal/domain"
	"nhaguard/internal/registry"
	"nhaguard/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "nhag",
	Short: "NHA compliance validation orchestrator",
	Long: `nhag validates whether an application's non-human/service accounts meet a
compliance control by collecting evidence, querying the backend adapters,
running the ordered question workflow and scoring the findings. A failed
run opens a remediation ticket through the ticketing adapter.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("NHAGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/nhaguard.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(controlsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func validateCmd() *cobra.Command {
	var application, controlID, auOwner, evidenceDir, filter string
	var evidenceFiles []string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run a compliance validation for an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				descriptors, err := collectEvidence(evidenceFiles, evidenceDir)
				if err != nil {
					return err
				}
				outcome := a.Runner.Validate(ctx, workflow.Options{
					ControlID:     controlID,
					ApplicationID: application,
					AUOwner:       auOwner,
					Evidence:      descriptors,
					AppFilter:     filter,
				})
				if viper.GetBool("json") {
					return printJSON(outcome)
				}
				printOutcome(outcome)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&application, "application", "", "application id")
	cmd.Flags().StringVar(&controlID, "control", "", "control id (defaults to config)")
	cmd.Flags().StringVar(&auOwner, "au-owner", "", "AU owner name")
	cmd.Flags().StringArrayVar(&evidenceFiles, "evidence", nil, "evidence file (repeatable)")
	cmd.Flags().StringVar(&evidenceDir, "evidence-dir", "", "directory of evidence files")
	cmd.Flags().StringVar(&filter, "filter", "", "application-name filter for evidence file names")
	_ = cmd.MarkFlagRequired("application")
	return cmd
}

func controlsCmd() *cobra.Command {
	ctl := &cobra.Command{Use: "controls", Short: "Inspect compliance controls"}
	var controlID string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show a control descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}
			if controlID == "" {
				controlID = cfg.Control.Default
			}
			dir := cfg.Control.Dir
			if dir != "" && !filepath.IsAbs(dir) {
				dir = filepath.Join(workspace, dir)
			}
			reg := registry.New(registry.FallbackStore{
				registry.FileStore{Dir: dir},
				registry.BuiltinStore{},
			})
			desc, err := reg.Ensure(cmd.Context(), controlID)
			if err != nil {
				return err
			}
			return printJSONOrTable(desc)
		},
	}
	show.Flags().StringVar(&controlID, "control", "", "control id")
	ctl.AddCommand(show)
	return ctl
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect past validation runs"}

	var application string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List validation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Store.ListRuns(ctx, application, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Application", "Control", "Overall", "Total", "Ticket", "Started"})
				for _, r := range items {
					ticket := ""
					if r.Ticket != nil {
						ticket = r.Ticket.Key
					}
					tw.AppendRow(table.Row{r.ID, r.ApplicationID, r.ControlID, r.Overall, r.TotalScore(), ticket, r.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&application, "application", "", "filter by application id")
	list.Flags().IntVar(&limit, "n", 50, "maximum rows")
	runs.AddCommand(list)

	var id string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show one validation run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Store.GetRun(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	show.Flags().StringVar(&id, "id", "", "run id")
	runs.AddCommand(show)
	return runs
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	var evtType, runID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Store.LatestEvents(ctx, n, evtType, runID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&runID, "run-id", "", "run id filter")
	lg.AddCommand(tail)
	return lg
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configTargetPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cfg.AddCommand(initCmd)
	return cfg
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Build(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// configTargetPath is where config init writes: the explicit --config path
// when given, the workspace default otherwise.
func configTargetPath() string {
	if path := viper.GetString("config"); path != "" {
		return path
	}
	return config.Path(viper.GetString("workspace"))
}

func loadConfig(workspace string) (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(workspace)
}

func collectEvidence(files []string, dir string) ([]domain.EvidenceDescriptor, error) {
	var descriptors []domain.EvidenceDescriptor
	for _, f := range files {
		descriptors = append(descriptors, domain.EvidenceDescriptor{
			FileName: filepath.Base(f),
			Path:     f,
		})
	}
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			descriptors = append(descriptors, domain.EvidenceDescriptor{
				FileName: e.Name(),
				Path:     filepath.Join(dir, e.Name()),
			})
		}
	}
	return descriptors, nil
}

func printOutcome(outcome domain.ValidationOutcome) {
	if !outcome.Success {
		fmt.Printf("validation failed: %s\n", outcome.Error)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Question", "Answer", "Score", "Rationale"})
	for _, key := range sortedKeys(outcome.Results) {
		q := outcome.Results[key]
		tw.AppendRow(table.Row{key, q.Answer, q.Score, q.Rationale})
	}
	tw.Render()
	fmt.Printf("overall: %s\n", outcome.OverallCompliance)
	if outcome.Ticket != nil {
		fmt.Printf("ticket: %s %s\n", outcome.Ticket.Key, outcome.Ticket.URL)
	}
}

func sortedKeys(m map[string]domain.QuestionResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
