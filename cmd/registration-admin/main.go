// ABOUTME: Admin CLI for registration tokens
// ABOUTME: Lists, shows, creates and deletes tokens through the admin API and reads the audit log

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/registration-bot/internal/config"
	"github.com/2389/registration-bot/internal/render"
	"github.com/2389/registration-bot/internal/store"
	"github.com/2389/registration-bot/internal/synapse"
)

// auditActor identifies CLI changes in the audit log.
func auditActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli:registration-admin"
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once the config is loaded.
type app struct {
	configPath string
	verbose    bool
	out        io.Writer

	cfg    *config.Config
	tokens *synapse.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "registration-admin",
		Short:         "Manage Matrix registration tokens from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config file (default $CONFIG_PATH or config.yml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log admin API requests")

	root.AddCommand(
		a.listCmd(),
		a.showCmd(),
		a.createCmd(),
		a.deleteCmd(),
		a.deleteAllCmd(),
		a.auditCmd(),
	)
	return root
}

func (a *app) setup() error {
	path := config.ResolvePath(a.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", path, err)
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	tokens, err := synapse.New(synapse.Options{
		BaseURL:  cfg.API.BaseURL,
		Token:    cfg.API.Token,
		Username: cfg.API.Username,
		Password: cfg.API.Password,
		DeviceID: cfg.Bot.DeviceID,
		Timeout:  cfg.API.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating admin API client: %w", err)
	}
	a.cfg = cfg
	a.tokens = tokens
	return nil
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registration tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tokens, err := a.tokens.ListTokens(cmd.Context())
			if err != nil {
				return err
			}
			a.printTokens("Registration Tokens", tokens)
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <token>...",
		Short: "Show one or more tokens",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var shown []synapse.Token
			var errs []error
			for _, name := range args {
				tok, err := a.tokens.GetToken(cmd.Context(), name)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				shown = append(shown, *tok)
			}
			if len(shown) > 0 {
				a.printTokens("Tokens", shown)
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a one-use token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				days = a.cfg.API.ExpiryDays
			}
			tok, err := a.tokens.CreateToken(cmd.Context(), days)
			a.record(cmd.Context(), store.ActionCreateToken, tokenName(tok), err, map[string]any{"expiry_days": days})
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(a.out, "✓ Created token %s\n", tok.Token)
			a.printTokens("", []synapse.Token{*tok})
			return nil
		},
	}
	cmd.Flags().IntVarP(&days, "days", "d", 0, "days until the token expires (default api.expiry_days)")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <token>...",
		Short: "Delete one or more tokens",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, name := range args {
				tok, err := a.tokens.DeleteToken(cmd.Context(), name)
				if !errors.Is(err, synapse.ErrMalformedInput) {
					a.record(cmd.Context(), store.ActionDeleteToken, name, err, nil)
				}
				if err != nil {
					errs = append(errs, err)
					continue
				}
				color.New(color.FgGreen).Fprintf(a.out, "✓ Deleted token %s\n", tok.Token)
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) deleteAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every registration token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all tokens without --yes")
			}
			deleted, err := a.tokens.DeleteAllTokens(cmd.Context())
			a.record(cmd.Context(), store.ActionDeleteAllTokens, "", err, map[string]any{"deleted": len(deleted)})
			if len(deleted) == 0 {
				fmt.Fprintln(a.out, "No token deleted")
			} else {
				color.New(color.FgGreen).Fprintf(a.out, "✓ Deleted %d token(s): %s\n", len(deleted), joinNames(deleted))
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting all tokens")
	return cmd
}

func (a *app) auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Audit.Path == "" {
				return fmt.Errorf("audit.path is not configured")
			}
			s, err := store.Open(a.cfg.Audit.Path)
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer s.Close()

			entries, err := s.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			a.printAudit(entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

// record appends a CLI change to the audit log when one is configured.
func (a *app) record(ctx context.Context, action store.Action, token string, opErr error, detail map[string]any) {
	if a.cfg.Audit.Path == "" {
		return
	}
	s, err := store.Open(a.cfg.Audit.Path)
	if err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "warning: opening audit log: %v\n", err)
		return
	}
	defer s.Close()

	err = s.Append(ctx, &store.Entry{
		Actor:   auditActor(),
		Action:  action,
		Token:   token,
		Outcome: synapse.Outcome(opErr),
		Detail:  detail,
	})
	if err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "warning: writing audit entry: %v\n", err)
	}
}

func (a *app) printTokens(title string, tokens []synapse.Token) {
	cyan := color.New(color.FgCyan)
	if title != "" {
		fmt.Fprintln(a.out)
		cyan.Fprintf(a.out, "  %s\n", title)
		cyan.Fprintf(a.out, "  %s\n", strings.Repeat("-", len(title)))
	}

	if len(tokens) == 0 {
		fmt.Fprintln(a.out, "  (no tokens)")
		fmt.Fprintln(a.out)
		return
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TOKEN\tUSES LEFT\tPENDING\tCOMPLETED\tEXPIRES")
	fmt.Fprintln(w, "  -----\t---------\t-------\t---------\t-------")
	for _, t := range tokens {
		usesLeft := "unlimited"
		if left, ok := t.UsesLeft(); ok {
			usesLeft = fmt.Sprintf("%d", left)
		}
		expires := "never"
		if exp, ok := t.Expiry(); ok {
			expires = exp.Format(render.TimeLayout)
		}
		fmt.Fprintf(w, "  %s\t%s\t%d\t%d\t%s\n", t.Token, usesLeft, t.Pending, t.Completed, expires)
	}
	w.Flush()
	fmt.Fprintln(a.out)
}

func (a *app) printAudit(entries []store.Entry) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintln(a.out, "  Audit Log")
	cyan.Fprintln(a.out, "  ---------")

	if len(entries) == 0 {
		fmt.Fprintln(a.out, "  (no entries)")
		fmt.Fprintln(a.out)
		return
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTOKEN\tOUTCOME")
	fmt.Fprintln(w, "  ----\t-----\t------\t-----\t-------")
	for _, e := range entries {
		token := e.Token
		if token == "" {
			token = "-"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.UTC().Format("Jan 02 15:04:05"), e.Actor, e.Action, token, e.Outcome)
	}
	w.Flush()
	fmt.Fprintln(a.out)
}

func tokenName(t *synapse.Token) string {
	if t == nil {
		return ""
	}
	return t.Token
}

func joinNames(tokens []synapse.Token) string {
	names := make([]string, len(tokens))
	for i, t := range tokens {
		names[i] = t.Token
	}
	return strings.Join(names, ", ")
}
