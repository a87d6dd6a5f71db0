package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatledger/internal/completion"
	"chatledger/internal/config"
	"chatledger/internal/identity"
	"chatledger/internal/ledger"
	"chatledger/internal/logging"
	"chatledger/internal/terminal"
	"chatledger/internal/ui"
)

var (
	configPath string
	verbose    bool
	modelName  string
	backend    string
	plain      bool
)

var rootCmd = &cobra.Command{
	Use:   "chatledger",
	Short: "Chat with an AI assistant after signing in with Google",
	Long: `chatledger signs you in with your Google account, keeps a ledger of your
logins and conversation in Supabase (or Postgres, or a local SQLite file)
and relays your messages to an OpenAI chat model.

Run without a subcommand to sign in (or resume your session) and start chatting.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.run(ctx)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.chatledger/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log to stderr instead of the log file")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "OpenAI model name")
	rootCmd.PersistentFlags().StringVar(&backend, "ledger", "", "Ledger backend: postgrest, postgres or sqlite")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "Print replies without markdown rendering")

	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(signoutCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every command needs
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	display  *ui.Display
	store    ledger.Store
	provider *identity.Google
}

// withApp loads configuration, sets up logging and runs fn with a context
// that is cancelled on Ctrl+C
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log, logCloser, err := logging.New(cfg.Log.Level, cfg.Log.Path, cfg.Verbose)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	a := &app{
		cfg:     cfg,
		log:     log,
		display: ui.NewDisplay(os.Stdout, !plain && terminal.IsTerminal()),
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug().Str("command", cmd.Name()).Str("ledger", cfg.Ledger.Backend).Msg("starting")
	return fn(ctx, a)
}

// loadConfig layers command-line flags over the loaded configuration
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if flags.Changed("model") {
		cfg.Completion.Model = modelName
	}
	if flags.Changed("ledger") {
		cfg.Ledger.Backend = backend
	}
	cfg.ResolvePaths()
	return cfg, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close ledger")
		}
	}
}

// openLedger opens the configured ledger on first use
func (a *app) openLedger(ctx context.Context) (ledger.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	store, err := ledger.Open(ctx, ledger.Options{
		Backend:     a.cfg.Ledger.Backend,
		SupabaseURL: a.cfg.Ledger.SupabaseURL,
		SupabaseKey: a.cfg.Ledger.SupabaseKey,
		DatabaseURL: a.cfg.Ledger.DatabaseURL,
		SQLitePath:  a.cfg.Ledger.SQLitePath,
		Timeout:     a.cfg.Ledger.Timeout,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// googleProvider creates the Google provider on first use
func (a *app) googleProvider() (*identity.Google, error) {
	if a.provider != nil {
		return a.provider, nil
	}

	p, err := identity.NewGoogle(identity.GoogleConfig{
		ClientID:     a.cfg.Identity.ClientID,
		ClientSecret: a.cfg.Identity.ClientSecret,
		CallbackPort: a.cfg.Identity.CallbackPort,
		SessionPath:  a.cfg.Identity.SessionPath,
		Timeout:      a.cfg.Identity.Timeout,
	}, a.openConsent, a.log)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w (set GOOGLE_CLIENT_ID)", err)
	}
	a.provider = p
	return p, nil
}

// openConsent shows the consent URL and tries to open a browser on it
func (a *app) openConsent(authURL string) error {
	a.display.PrintSignInHint(authURL)
	return terminal.OpenBrowser(authURL)
}

func (a *app) completer() *completion.Client {
	return completion.NewClient(completion.Config{
		APIKey:    a.cfg.Completion.APIKey,
		BaseURL:   a.cfg.Completion.BaseURL,
		Model:     a.cfg.Completion.Model,
		MaxTokens: a.cfg.Completion.MaxTokens,
		Timeout:   a.cfg.Completion.Timeout,
	}, a.log)
}
