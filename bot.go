package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gatekeeper/applications"
	"gatekeeper/clock"
	"gatekeeper/config"
	"gatekeeper/counters"
	"gatekeeper/health"
	"gatekeeper/inbox"
	"gatekeeper/logging"
	"gatekeeper/messenger"
	"gatekeeper/platform"
	"gatekeeper/redis"
	"gatekeeper/roles"
	"gatekeeper/router"
	"gatekeeper/sessions"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessageReactions

var (
	configPath string
	envFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Membership verification bot",
	Long: `gatekeeper interviews new members by direct message, posts their
answers for moderators to accept or reject, and keeps the role counter
channels up to date.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "file of KEY=value settings, skipped when missing")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	// Handlers run in gateway order; slow flows spawn their own goroutines.
	dg.SyncEvents = true
	dg.Identify.Intents = intents
	guild := platform.NewDiscord(dg, cfg.GuildID)

	dir, err := roles.New(cfg.Bindings(), logger)
	if err != nil {
		return fmt.Errorf("role bindings: %w", err)
	}
	guildRoles, err := guild.Roles()
	if err != nil {
		return fmt.Errorf("fetch guild roles: %w", err)
	}
	if err := dir.Verify(guildRoles); err != nil {
		return err
	}

	clk := clock.Real()
	claims, closeClaims, err := decisionClaims(cfg, clk, logger)
	if err != nil {
		return err
	}
	defer closeClaims()

	policy := messenger.DefaultPolicy()
	policy.BaseDelay = cfg.RetryBaseDelay
	m := messenger.New(guild, policy, logger)
	in := inbox.New(clk)

	board := applications.NewBoard(guild, m, cfg.Channels.Verification, logger)
	approvals := applications.NewHandler(guild, board, m, in, dir, claims, applications.Config{
		WelcomeChannelID: cfg.Channels.Welcome,
		BotIDs:           cfg.BotIDs,
		ModeratorRoleID:  cfg.ModeratorRoleID,
		ReasonTimeout:    cfg.ReasonTimeout,
	}, logger)
	interviews := sessions.New(guild, m, in, board, clk, cfg.QuestionTimeout, logger)

	reconciler := counters.New(guild, dir, clk, cfg.CounterInterval, cfg.CounterRecountCycles, logger)
	reconciler.Prime()

	g, gctx := errgroup.WithContext(ctx)
	events := router.New(gctx, guild, m, in, interviews, approvals, dir, router.Config{
		GuildID:         cfg.GuildID,
		IntakeChannelID: cfg.Channels.VerificationCheck,
	}, logger)
	events.Register(dg)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	logger.Info("bot is running")

	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return health.New(logger).ListenAndServe(gctx, cfg.Port) })
	err = g.Wait()

	logger.Info("shutting down")
	if cerr := dg.Close(); cerr != nil {
		logger.Warn("closing gateway", zap.Error(cerr))
	}
	events.Wait()
	return err
}

// decisionClaims guards moderator decisions in Redis when it is configured,
// so several bot processes never decide one application twice.
func decisionClaims(cfg config.Config, clk clock.Clock, logger *zap.Logger) (applications.Claims, func(), error) {
	if cfg.Redis.Addr == "" {
		return applications.NewMemoryClaims(clk, applications.DefaultClaimTTL), func() {}, nil
	}
	client, err := redis.Connect(redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return redis.NewClaims(client, redis.DefaultClaimTTL), func() {
		if err := client.Close(); err != nil {
			logger.Warn("closing redis", zap.Error(err))
		}
	}, nil
}
