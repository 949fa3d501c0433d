package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"supportbot/internal/action"
	"supportbot/internal/agent"
	"supportbot/internal/bus"
	"supportbot/internal/channel"
	"supportbot/internal/config"
	"supportbot/internal/domain"
	"supportbot/internal/history"
	"supportbot/internal/metrics"
	"supportbot/internal/provider"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "supportbot",
		Short: "Multi-platform customer support chatbot",
		Long:  "supportbot answers support requests over Telegram and email, backed by an LLM with tiered fallback.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(runCmd())
	root.AddCommand(factsCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot on all configured platforms",
		RunE:  run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.NewSQLiteStore(cfg.HistoryDB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	completer := buildCompleter(cfg)

	var dispatcher *action.Dispatcher
	if cfg.Actions != nil {
		dispatcher = action.NewDispatcher(action.DispatcherConfig{
			BinderDSN: cfg.Actions.BinderDB,
			Logger:    logger,
		})
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr)
	}

	if cfg.Email != nil {
		emailBus := newBus(cfg)
		defer emailBus.Close()
		go newResponder(cfg, store, completer, dispatcher, emailBus, "").Run(ctx)

		mailgun := channel.NewMailgun(channel.MailgunConfig{
			APIURL:  cfg.Email.MailgunURL,
			APIKey:  cfg.Email.MailgunKey,
			Address: cfg.Email.Address,
			CC:      cfg.Email.CC,
			Logger:  logger,
		})
		email := channel.NewEmail(channel.EmailConfig{
			ListenAddr: cfg.Email.ListenAddr,
			Path:       cfg.Email.Path,
			Signature:  cfg.Email.Signature,
			Mailgun:    mailgun,
			Logger:     logger,
		})

		if cfg.Telegram == nil {
			return email.Start(ctx, emailBus)
		}
		go func() {
			if err := email.Start(ctx, emailBus); err != nil {
				logger.Error("email channel failed", "error", err)
			}
		}()
	}

	if cfg.Telegram != nil {
		tgBus := newBus(cfg)
		defer tgBus.Close()
		go newResponder(cfg, store, completer, dispatcher, tgBus, cfg.Telegram.AdminUname).Run(ctx)

		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:              cfg.Telegram.Token,
			PollTimeoutSeconds: cfg.Telegram.PollTimeoutSeconds,
			CycleBudgetSeconds: cfg.Telegram.CycleBudgetSeconds,
			Logger:             logger,
		})
		return tg.Start(ctx, tgBus)
	}

	return nil
}

func newBus(cfg *config.Config) *bus.InMemoryBus {
	return bus.New(cfg.Queue.Size, bus.Policy(cfg.Queue.Policy), logger)
}

func newResponder(cfg *config.Config, store *history.SQLiteStore, completer domain.Completer, dispatcher *action.Dispatcher, b *bus.InMemoryBus, adminUname string) *agent.Responder {
	botMention := ""
	if cfg.Telegram != nil {
		botMention = cfg.Telegram.BotUname
	}
	// Avoid handing a typed-nil dispatcher to the interface field.
	var disp agent.Dispatcher
	if dispatcher != nil {
		disp = dispatcher
	}
	return agent.NewResponder(agent.ResponderConfig{
		Store:     store,
		Facts:     store,
		Resolver:  agent.NewResolver(store, logger),
		Assembler: agent.NewContextAssembler(cfg.ContextBudget, botMention),
		Prompt: agent.NewPromptBuilder(agent.PromptConfig{
			Base:           cfg.SystemPrompt,
			Facts:          store,
			ActionsEnabled: cfg.Actions != nil,
			Logger:         logger,
		}),
		Completer:  completer,
		Dispatcher: disp,
		Bus:        b,
		Logger:     logger,
		AdminUname: adminUname,
		MaxTokens:  cfg.OpenAI.MaxTokens,
	})
}

// buildCompleter chains the primary model and the fallback model into an
// ordered tier list. Only the primary tier carries a deadline; the
// fallback's outcome, success or error, is final.
func buildCompleter(cfg *config.Config) domain.Completer {
	client := provider.SharedHTTPClient(0)
	primary := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		APIBase: cfg.OpenAI.APIBase,
		Model:   cfg.OpenAI.Model,
		Client:  client,
		Logger:  logger,
	})

	tiers := []provider.Tier{
		{Completer: primary, Deadline: time.Duration(cfg.OpenAI.DeadlineSeconds) * time.Second},
	}
	if cfg.OpenAI.FallbackModel != "" {
		fallback := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			APIBase: cfg.OpenAI.APIBase,
			Model:   cfg.OpenAI.FallbackModel,
			Client:  client,
			Logger:  logger,
		})
		tiers = append(tiers, provider.Tier{Completer: fallback})
	}

	return provider.NewTiered(provider.TieredConfig{
		Tiers:     tiers,
		Serialize: cfg.OpenAI.Serialize,
		Logger:    logger,
	})
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "error", err)
	}
}

func factsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "facts",
		Short: "List the taught facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := history.NewSQLiteStore(cfg.HistoryDB, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			facts, err := store.Facts(cmd.Context())
			if err != nil {
				return err
			}
			for i, f := range facts {
				fmt.Printf("%4d  %s\n", i+1, f)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("supportbot", version)
		},
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
