package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"caseflow/internal/app"
	"caseflow/internal/backend"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/repo"
	"caseflow/internal/server"
)

const appName = "cfl"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "caseflow CLI",
	Long: `caseflow applies review actions to hospital incident subcases, one at a time or in bulk.
- Subcases come from the case service; each row lists the actions the service allows.
- The active role narrows that list. The bulk role only ever sees view and direct approval.
- Rows sharing a parent incident are grouped so one decision covers every unit involved.
- A bulk submission sends every call concurrently and reports how many succeeded and failed.
- The local workspace (.caseflow) stores actors, their roles and API keys. Case data is never stored.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/caseflow.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "", "active role (default: first assigned role)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "role"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(casesCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage caseflow.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
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
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.Encode()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(configPath())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

// --- actors and roles ---

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage local actors and their roles"}
	cmd.AddCommand(actorBootstrapCmd())
	cmd.AddCommand(actorGrantCmd())
	cmd.AddCommand(actorRevokeCmd())
	cmd.AddCommand(actorRolesCmd())
	return cmd
}

func actorBootstrapCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the current actor with the given roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if len(roles) == 0 {
					roles = ws.Config.Roles.Known
				}
				actorID := viper.GetString("actor-id")
				if err := app.BootstrapActor(ctx, ws, actorID, roles); err != nil {
					return err
				}
				return printRoles(ctx, ws.Repo, actorID)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles to assign (default: every known role)")
	return cmd
}

func actorGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := app.BootstrapActor(ctx, ws, target, []string{role}); err != nil {
					return err
				}
				return printRoles(ctx, ws.Repo, target)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func actorRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Repo.RevokeRole(ctx, nil, target, role); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("actor %s does not hold role %s", target, role)
					}
					return err
				}
				return printRoles(ctx, ws.Repo, target)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func actorRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles [actor]",
		Short: "List an actor's roles in assignment order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			if len(args) == 1 {
				actorID = args[0]
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				return printRoles(ctx, ws.Repo, actorID)
			})
		},
	}
}

func printRoles(ctx context.Context, r repo.Repo, actorID string) error {
	roles, err := r.ActorRoles(ctx, nil, actorID)
	if err != nil {
		return err
	}
	return printJSONOrTable(map[string]any{"actor_id": actorID, "roles": roles}, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"#", "Role"})
		for i, role := range roles {
			tw.AppendRow(table.Row{i + 1, role})
		}
	})
}

// --- api keys ---

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actorID := viper.GetString("actor-id")
				raw, err := newRawAPIKey()
				if err != nil {
					return err
				}
				key := domain.APIKey{ID: uuid.NewString(), ActorID: actorID, Name: name, KeyHash: repo.HashAPIKey(raw)}
				err = ws.Repo.WithTx(ctx, func(tx *sql.Tx) error {
					if err := ws.Repo.EnsureActor(ctx, tx, actorID); err != nil {
						return err
					}
					return ws.Repo.InsertAPIKey(ctx, tx, key)
				})
				if err != nil {
					return err
				}
				out := map[string]string{"id": key.ID, "actor_id": actorID, "key": raw}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, actorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				actorID := viper.GetString("actor-id")
				if all {
					actorID = ""
				}
				keys, err := ws.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
					for _, k := range keys {
						tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list keys of every actor")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func newRawAPIKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "cfk_" + hex.EncodeToString(b), nil
}

// --- cases ---

func casesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cases", Short: "Inspect subcases from the case service"}
	cmd.AddCommand(casesListCmd())
	cmd.AddCommand(casesGroupsCmd())
	return cmd
}

func bindFilterFlags(cmd *cobra.Command, f *backend.SubcaseFilter) {
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.IncidentID, "incident", "", "incident id filter")
	cmd.Flags().StringVar(&f.UnitID, "unit", "", "target unit filter")
}

func casesListCmd() *cobra.Command {
	var filter backend.SubcaseFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subcases with the actions offered to the active role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				rows, err := s.cases.ListSubcases(ctx, filter)
				if err != nil {
					return err
				}
				items := s.engine.Annotate(rows, s.role)
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("%d subcases as %s", len(items), s.role))
					tw.AppendHeader(table.Row{"ID", "Incident", "Status", "Unit", "Actions"})
					for _, it := range items {
						tw.AppendRow(table.Row{it.ID, incidentLabel(it.Subcase), it.Status, it.TargetUnit.ID, joinKinds(it.VisibleActions)})
					}
				})
			})
		},
	}
	bindFilterFlags(cmd, &filter)
	return cmd
}

func casesGroupsCmd() *cobra.Command {
	var filter backend.SubcaseFilter
	var file string
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Group subcases by parent incident",
		RunE: func(cmd *cobra.Command, args []string) error {
			render := func(rows []domain.Subcase) error {
				groups := engine.Group(rows)
				return printJSONOrTable(groups, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Group", "Incident", "Targets"})
					for _, g := range groups {
						incident := "-"
						if g.IncidentID != nil {
							incident = *g.IncidentID
						}
						tw.AppendRow(table.Row{g.Key, incident, strings.Join(g.TargetSubcaseIDs, ", ")})
					}
				})
			}
			if file != "" {
				rows, err := readRows(file)
				if err != nil {
					return err
				}
				return render(rows)
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				rows, err := s.cases.ListSubcases(ctx, filter)
				if err != nil {
					return err
				}
				return render(rows)
			})
		},
	}
	bindFilterFlags(cmd, &filter)
	cmd.Flags().StringVar(&file, "file", "", "group rows from a JSON file instead of the case service")
	return cmd
}

func readRows(path string) ([]domain.Subcase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []domain.Subcase
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Items []domain.Subcase `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return wrapped.Items, nil
}

// --- submit ---

func submitCmd() *cobra.Command {
	var (
		targets, items []string
		form           domain.FormState
		rcaFile        string
		dryRun         bool
	)
	cmd := &cobra.Command{
		Use:   "submit <action>",
		Short: "Apply one action to one or more subcases",
		Long: `Apply one action to every --target. Several targets are sent concurrently;
one failure never stops the others and the summary shows succeeded/failed counts.
Action items use --item "title|description|YYYY-MM-DD" and root causes come from --rca-file (YAML).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := domain.ParseActionKind(args[0])
			if !ok || !kind.IsTransition() {
				return fmt.Errorf("unknown action %q", args[0])
			}
			form.RootCause = domain.NewRootCauseFeedback()
			if rcaFile != "" {
				rc, err := readRootCause(rcaFile)
				if err != nil {
					return err
				}
				form.RootCause = rc
			}
			for _, raw := range items {
				form.ActionItems = append(form.ActionItems, parseItem(raw))
			}
			if dryRun {
				if err := engine.Validate(kind, form); err != nil {
					return err
				}
				return printJSON(engine.Build(kind, form))
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				req, err := engine.NewActionRequest(kind, targets, nil)
				if err != nil {
					return err
				}
				rows, err := s.cases.GetSubcases(ctx, req.Targets)
				if err != nil {
					return err
				}
				out, err := s.engine.Submit(ctx, s.actorID, s.role, rows, engine.Request{Kind: kind, Targets: req.Targets, Form: form})
				if err != nil {
					return err
				}
				if err := printOutcome(out); err != nil {
					return err
				}
				if out.Status == engine.OutcomeFailed {
					return errors.New(out.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "target subcase id (repeatable)")
	cmd.Flags().StringVar(&form.ExplanationText, "explanation", "", "explanation text (submit_response, direct_approve, override)")
	cmd.Flags().StringVar(&form.RejectionText, "rejection", "", "rejection or reopen note (reject, reopen)")
	cmd.Flags().StringVar(&form.Reason, "reason", "", "close reason (force_close)")
	cmd.Flags().StringArrayVar(&items, "item", nil, `action item "title|description|due date" (repeatable)`)
	cmd.Flags().StringVar(&rcaFile, "rca-file", "", "root-cause feedback YAML file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the request body without sending")
	return cmd
}

func parseItem(raw string) domain.ActionItemDraft {
	parts := strings.SplitN(raw, "|", 3)
	item := domain.ActionItemDraft{Title: parts[0]}
	if len(parts) > 1 {
		item.Description = parts[1]
	}
	if len(parts) > 2 {
		item.DueDate = parts[2]
	}
	return item
}

func readRootCause(path string) (domain.RootCauseFeedback, error) {
	rc := domain.NewRootCauseFeedback()
	data, err := os.ReadFile(path)
	if err != nil {
		return rc, err
	}
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return rc, fmt.Errorf("parse %s: %w", path, err)
	}
	return rc, nil
}

func printOutcome(out engine.Outcome) error {
	return printJSONOrTable(out, func(tw table.Writer) {
		tw.SetTitle(fmt.Sprintf("%s: %s", out.Kind, out.Message))
		tw.AppendHeader(table.Row{"Subcase", "Result", "Detail"})
		for _, r := range out.Results {
			if r.OK() {
				tw.AppendRow(table.Row{r.SubcaseID, "ok", ""})
				continue
			}
			tw.AppendRow(table.Row{r.SubcaseID, string(r.Err.Kind), r.Err.Message})
		}
	})
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				cfg := ws.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				logger := newLogger(cfg)
				authCfg := server.AuthConfig{
					JWTSecret: viper.GetString("jwt-secret"),
					DevLogin:  devLogin || cfg.Server.DevLogin,
					Logger:    logger,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("CASEFLOW_JWT_SECRET is required for bearer auth")
				}
				cases := newBackend(cfg)
				handler, err := server.New(server.Config{
					Engine:   engine.New(cases, cfg, logger),
					Cases:    cases,
					Repo:     ws.Repo,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving caseflow API", "addr", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", basePath+"/docs", "dev_login", authCfg.DevLogin)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	return cmd
}

// --- helpers ---

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

func loadConfig() (*config.Config, error) {
	if p := viper.GetString("config"); p != "" {
		return config.FromFile(p)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws, err := app.OpenWithConfig(viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// session is a workspace plus a resolved actor, role and case service client.
type session struct {
	actorID string
	role    domain.Role
	cases   *backend.Client
	engine  engine.Engine
}

func withSession(ctx context.Context, fn func(context.Context, session) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		actorID := viper.GetString("actor-id")
		roles := auth.Service{Repo: ws.Repo, Known: ws.Config.KnowsRole}
		principal, err := roles.Load(ctx, actorID, "cli")
		if err != nil {
			return err
		}
		role, err := roles.ResolveRole(principal, viper.GetString("role"))
		if err != nil {
			return fmt.Errorf("%w (grant one with cfl actor grant)", err)
		}
		cases := newBackend(ws.Config)
		return fn(ctx, session{
			actorID: actorID,
			role:    role,
			cases:   cases,
			engine:  engine.New(cases, ws.Config, newLogger(ws.Config)),
		})
	})
}

func newBackend(cfg *config.Config) *backend.Client {
	c := backend.New(cfg.Backend.BaseURL)
	if t := cfg.Backend.Timeout.Std(); t > 0 {
		c.Timeout = t
		c.HTTPClient = &http.Client{Timeout: t}
	}
	c.APIKey = cfg.Backend.APIKey
	if key := viper.GetString("backend-api-key"); key != "" {
		c.APIKey = key
	}
	c.BearerToken = viper.GetString("backend-token")
	return c
}

func newLogger(cfg *config.Config) *charmLog.Logger {
	level, err := charmLog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = charmLog.InfoLevel
	}
	formatter := charmLog.TextFormatter
	switch cfg.Logging.Format {
	case "json":
		formatter = charmLog.JSONFormatter
	case "logfmt":
		formatter = charmLog.LogfmtFormatter
	}
	return charmLog.NewWithOptions(os.Stderr, charmLog.Options{
		Level:           level,
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
}

func incidentLabel(s domain.Subcase) string {
	if s.HasIncident() {
		return *s.IncidentID
	}
	return "-"
}

func joinKinds(kinds []domain.ActionKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func printJSONOrTable(v any, fill func(table.Writer)) error {
	if viper.GetBool("json") || fill == nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	fill(tw)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
