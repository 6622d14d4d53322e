package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taxline/internal/app"
	"taxline/internal/config"
	"taxline/internal/db"
	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/notify"
	"taxline/internal/repo"
	"taxline/internal/server"
	"taxline/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taxline CLI",
	Long: `Taxline drives yearly tax engagements from invitation to filing.
- Engagement: one client entity for one tax year; it moves INVITED -> ENGAGED -> COLLECTING_DOCS -> AWAITING_CONFIRMATION -> READY_FOR_PREP -> IN_PREP -> AWAITING_EFILE_AUTH -> FILED.
- Readiness: READY_FOR_PREP and IN_PREP need a signed engagement letter, a complete checklist, a signed document confirmation, a completed questionnaire and a valid ID.
- Checklist: required documents; receiving the last one advances COLLECTING_DOCS automatically.
- Reminders: DOCUMENTS, QUESTIONNAIRE and ID streams on their own cadence, paused while an extension is requested but not filed.
- Rules: taxline.yml in the workspace (see 'tl config init'); built-in defaults apply when it is absent.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return telemetry.Init(cmd.Context(), "taxline")
	},
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	err := rootCmd.ExecuteContext(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	telemetry.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		fmt.Println("error:", err)
		if blocked, ok := engine.IsBlocked(err); ok {
			for _, r := range blocked.Reasons {
				fmt.Println("  -", r)
			}
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TAXLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/taxline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(engagementCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(extensionCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func engagementCmd() *cobra.Command {
	eng := &cobra.Command{Use: "engagement", Aliases: []string{"eng"}, Short: "Manage engagements"}
	eng.AddCommand(engagementEnsureCmd())
	eng.AddCommand(engagementShowCmd())
	eng.AddCommand(engagementListCmd())
	eng.AddCommand(engagementTransitionCmd())
	eng.AddCommand(engagementReadinessCmd())
	eng.AddCommand(engagementHistoryCmd())
	eng.AddCommand(engagementFlagCmd())
	return eng
}

func engagementEnsureCmd() *cobra.Command {
	var client, entity string
	var year int
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the engagement for a client entity and tax year (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, created, err := e.EnsureEngagement(ctx, engine.EnsureOptions{
					ClientID: client,
					EntityID: entity,
					TaxYear:  year,
					Actor:    actor(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"engagement": eng, "created": created})
				}
				verb := "Existing"
				if created {
					verb = "Created"
				}
				fmt.Printf("%s engagement %s (%s/%s %d) status %s\n", verb, eng.ID, eng.ClientID, eng.EntityID, eng.TaxYear, eng.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "client id")
	cmd.Flags().StringVar(&entity, "entity", "", "entity id")
	cmd.Flags().IntVar(&year, "year", 0, "tax year")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func engagementShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <engagement-id>",
		Short: "Show an engagement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.GetEngagement(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(eng)
				}
				printEngagement(eng)
				return nil
			})
		},
	}
}

func engagementListCmd() *cobra.Command {
	var f repo.EngagementFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List engagements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				s, err := domain.ParseStatus(strings.ToUpper(status))
				if err != nil {
					return err
				}
				f.Status = s
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEngagements(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Entity", "Year", "Status", "Ready", "Due"})
				for _, eng := range items {
					due := ""
					if eng.ExtendedDueDate != nil {
						due = eng.ExtendedDueDate.Format(time.DateOnly)
					}
					tw.AppendRow(table.Row{eng.ID, eng.ClientID, eng.EntityID, eng.TaxYear, eng.Status, eng.ReadyForPrep, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.TaxYear, "year", 0, "tax year filter")
	cmd.Flags().StringVar(&f.Client, "client", "", "client filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func engagementTransitionCmd() *cobra.Command {
	var reason string
	var allowSoft bool
	cmd := &cobra.Command{
		Use:   "transition <engagement-id> <status>",
		Short: "Move an engagement to another status",
		Long:  "Moves are checked against the readiness gates for READY_FOR_PREP and IN_PREP. Moves outside the configured adjacency are applied with a warning.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Transition(ctx, engine.TransitionOptions{
					EngagementID:      args[0],
					Target:            strings.ToUpper(args[1]),
					Actor:             actor(),
					Reason:            reason,
					AllowSoftWarnings: allowSoft,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Engagement %s is %s\n", res.Engagement.ID, res.Engagement.Status)
				if res.Warning != "" {
					fmt.Println("warning:", res.Warning)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the status history")
	cmd.Flags().BoolVar(&allowSoft, "allow-soft", false, "apply even when readiness gates fail, recording a warning")
	return cmd
}

func engagementReadinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readiness <engagement-id>",
		Short: "Show readiness for preparation and what blocks it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Readiness(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Ready {
					fmt.Println("Ready for preparation")
					return nil
				}
				fmt.Println("Not ready:")
				for _, r := range res.Reasons {
					fmt.Println("  -", r)
				}
				return nil
			})
		},
	}
}

func engagementHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <engagement-id>",
		Short: "Show status history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.GetStatusHistory(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "Actor", "Reason"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.Timestamp.Format(time.RFC3339), h.FromStatus, h.ToStatus, h.Actor.String(), h.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "keep only the newest N entries")
	return cmd
}

func engagementFlagCmd() *cobra.Command {
	var expires string
	cmd := &cobra.Command{
		Use:   "flag <engagement-id> <flag> <true|false>",
		Short: "Set a readiness flag",
		Long:  "Flags: " + strings.Join(engine.Flags, ", ") + ". --expires applies to id_valid only.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("invalid flag value %q: %w", args[2], err)
			}
			var expiresAt *time.Time
			if expires != "" {
				t, err := time.Parse(time.DateOnly, expires)
				if err != nil {
					return fmt.Errorf("invalid --expires (want YYYY-MM-DD): %w", err)
				}
				expiresAt = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.SetFlag(ctx, args[0], args[1], value, expiresAt)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(eng)
				}
				printEngagement(eng)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&expires, "expires", "", "ID expiry date (YYYY-MM-DD)")
	return cmd
}

func checklistCmd() *cobra.Command {
	cl := &cobra.Command{Use: "checklist", Short: "Manage checklist items"}
	cl.AddCommand(checklistAddCmd())
	cl.AddCommand(checklistSetCmd())
	cl.AddCommand(checklistListCmd())
	cl.AddCommand(checklistCompletionCmd())
	return cl
}

func checklistAddCmd() *cobra.Command {
	var label, status string
	var optional bool
	cmd := &cobra.Command{
		Use:   "add <engagement-id> <key>",
		Short: "Add a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				upd, err := e.AddChecklistItem(ctx, engine.ChecklistItemInput{
					EngagementID: args[0],
					Key:          args[1],
					Label:        label,
					Required:     !optional,
					Status:       strings.ToUpper(status),
				})
				if err != nil {
					return err
				}
				return printChecklistUpdate(upd)
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "display label")
	cmd.Flags().StringVar(&status, "status", "", "initial status (PENDING, RECEIVED, NOT_APPLICABLE)")
	cmd.Flags().BoolVar(&optional, "optional", false, "do not count toward completion")
	return cmd
}

func checklistSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <item-id> <status>",
		Short: "Set a checklist item status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				upd, err := e.SetChecklistItemStatus(ctx, args[0], strings.ToUpper(args[1]))
				if err != nil {
					return err
				}
				return printChecklistUpdate(upd)
			})
		},
	}
}

func checklistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <engagement-id>",
		Short: "List checklist items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListChecklistItems(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Key", "Label", "Required", "Status"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Key, it.Label, it.Required, it.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func checklistCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <engagement-id>",
		Short: "Show checklist completion over required items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ComputeChecklistCompletion(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%d/%d required items received (%.1f%%)\n", c.ReceivedCount, c.RequiredCount, c.Percentage)
				return nil
			})
		},
	}
}

func extensionCmd() *cobra.Command {
	ext := &cobra.Command{
		Use:   "extension",
		Short: "Track filing extensions",
		Long:  "Requesting an extension pauses every reminder stream until the extension is filed; filing resumes them against the extended due date.",
	}
	ext.AddCommand(extensionRequestCmd())
	ext.AddCommand(extensionFileCmd())
	return ext
}

func extensionRequestCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "request <engagement-id>",
		Short: "Mark an extension as requested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.RequestExtension(ctx, args[0], reason)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(eng)
				}
				printEngagement(eng)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "pause reason shown on reminder streams")
	return cmd
}

func extensionFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <engagement-id> <extended-due-date>",
		Short: "Record a filed extension (date as YYYY-MM-DD)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := time.Parse(time.DateOnly, args[1])
			if err != nil {
				return fmt.Errorf("invalid extended due date (want YYYY-MM-DD): %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				eng, err := e.FileExtension(ctx, args[0], due)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(eng)
				}
				printEngagement(eng)
				return nil
			})
		},
	}
}

func remindersCmd() *cobra.Command {
	rem := &cobra.Command{Use: "reminders", Short: "Inspect and dispatch reminders"}
	rem.AddCommand(remindersListCmd())
	rem.AddCommand(remindersDueCmd())
	rem.AddCommand(remindersSweepCmd())
	return rem
}

func remindersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <engagement-id>",
		Short: "Show reminder state per stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.GetEngagement(ctx, args[0]); err != nil {
					return err
				}
				items, err := e.Scheduler().List(ctx, args[0])
				if err != nil {
					return err
				}
				return printReminders(items)
			})
		},
	}
}

func remindersDueCmd() *cobra.Command {
	var stream string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List reminders due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseStreamFlag(stream)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Scheduler().DueNow(ctx, s)
				if err != nil {
					return err
				}
				return printReminders(items)
			})
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "DOCUMENTS, QUESTIONNAIRE or ID (default all)")
	return cmd
}

func remindersSweepCmd() *cobra.Command {
	var stream string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Dispatch every due reminder once",
		Long:  "Sends due reminders to the configured webhooks (or only logs them with --dry-run or when none are configured) and advances their cadence.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseStreamFlag(stream)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var dispatcher notify.Dispatcher = notify.LogDispatcher{Logger: e.Logger}
				if !dryRun {
					dispatcher = notify.ForConfig(e.Config, e.Logger)
				}
				report, err := notify.Sweeper{
					Scheduler:  e.Scheduler(),
					Dispatcher: dispatcher,
					Metrics:    e.Metrics,
					Logger:     e.Logger,
				}.Sweep(ctx, s)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("due %d, sent %d, skipped %d, failed %d\n", report.Due, len(report.Sent), len(report.Skipped), len(report.Failures))
				for _, f := range report.Failures {
					fmt.Printf("  %s %s (%s): %s\n", f.EngagementID, f.Stream, f.Stage, f.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "DOCUMENTS, QUESTIONNAIRE or ID (default all)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log reminders instead of calling webhooks")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the rule set",
		Long:  "The rule set (taxline.yml) holds the lifecycle adjacency, the baseline checklist, reminder milestones, statutory due dates and reminder webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default taxline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepEvery time.Duration
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the API and, unless --sweep-interval is 0, dispatches due reminders in the background.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("config"), newLogger())
			if err != nil {
				return err
			}
			defer env.Close()
			e := env.Engine
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowLegacy,
				Logger:                 e.Logger,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("TAXLINE_JWT_SECRET is required for bearer auth")
			}
			dispatcher := notify.ForConfig(e.Config, e.Logger)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Dispatcher: dispatcher})
			if err != nil {
				return err
			}
			if sweepEvery > 0 {
				runner := notify.Runner{
					Sweeper: notify.Sweeper{
						Scheduler:  e.Scheduler(),
						Dispatcher: dispatcher,
						Metrics:    e.Metrics,
						Logger:     e.Logger,
					},
					Interval: sweepEvery,
				}
				go func() {
					if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						e.Logger.Printf("reminder runner stopped: %v", err)
					}
				}()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Taxline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().DurationVar(&sweepEvery, "sweep-interval", notify.DefaultInterval, "reminder sweep interval (0 disables)")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without a token (local use only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (or TAXLINE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func newLogger() *log.Logger {
	return log.New(os.Stderr, "tl: ", log.LstdFlags)
}

func actor() domain.Actor {
	return domain.Human(viper.GetString("actor-id"))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("config"), newLogger())
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env.Engine)
}

func parseStreamFlag(s string) (domain.Stream, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParseStream(strings.ToUpper(s))
}

func printEngagement(eng domain.EngagementYear) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", eng.ID},
		{"Client", eng.ClientID},
		{"Entity", eng.EntityID},
		{"Tax year", eng.TaxYear},
		{"Status", eng.Status},
		{"Ready for prep", eng.ReadyForPrep},
		{"Engagement signed", eng.EngagementSigned},
		{"Docs confirmation signed", eng.DocConfirmationSigned},
		{"Questionnaire completed", eng.QuestionnaireCompleted},
		{"ID valid", eng.IDValid},
		{"Extension", extensionLabel(eng)},
	})
	tw.Render()
}

func extensionLabel(eng domain.EngagementYear) string {
	switch {
	case eng.ExtensionFiled && eng.ExtendedDueDate != nil:
		return "filed, due " + eng.ExtendedDueDate.Format(time.DateOnly)
	case eng.ExtensionFiled:
		return "filed"
	case eng.ExtensionRequested:
		return "requested"
	default:
		return "none"
	}
}

func printChecklistUpdate(upd engine.ChecklistUpdate) error {
	if viper.GetBool("json") {
		return printJSON(upd)
	}
	fmt.Printf("%s %s -> %s\n", upd.Item.Key, upd.Item.ID, upd.Item.Status)
	fmt.Printf("checklist %d/%d (%.1f%%), engagement %s\n",
		upd.Completion.ReceivedCount, upd.Completion.RequiredCount, upd.Completion.Percentage, upd.Engagement.Status)
	return nil
}

func printReminders(items []domain.ReminderState) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Engagement", "Stream", "Next due", "Last sent", "Sent", "Paused"})
	for _, rs := range items {
		paused := ""
		if rs.Paused {
			paused = rs.PausedReason
			if paused == "" {
				paused = "yes"
			}
		}
		tw.AppendRow(table.Row{rs.EngagementID, rs.Stream, formatTimePtr(rs.NextDueAt), formatTimePtr(rs.LastSentAt), rs.SentCount, paused})
	}
	tw.Render()
	return nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
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
