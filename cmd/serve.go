package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/aichan/internal/bus"
	"github.com/nextlevelbuilder/aichan/internal/config"
	"github.com/nextlevelbuilder/aichan/internal/discord"
	"github.com/nextlevelbuilder/aichan/internal/media"
	"github.com/nextlevelbuilder/aichan/internal/ocr"
	"github.com/nextlevelbuilder/aichan/internal/pipeline"
	"github.com/nextlevelbuilder/aichan/internal/providers"
)

// subscriberBuffer is the per-consumer event buffer. Consumers that fall this
// far behind the gateway start missing events instead of blocking it.
const subscriberBuffer = 16

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and serve the configured channels",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Discord.Token == "" {
		slog.Error("discord token not configured (config or AICHAN_DISCORD_TOKEN)")
		os.Exit(1)
	}
	if len(cfg.Channels) == 0 {
		slog.Error("no channels configured")
		os.Exit(1)
	}

	broadcaster := bus.NewBroadcaster()
	gw, err := discord.NewGateway(cfg.Discord.Token, broadcaster)
	if err != nil {
		slog.Error("failed to create discord gateway", "error", err)
		os.Exit(1)
	}
	messenger := gw.Messenger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	started := 0
	for _, ch := range cfg.Channels {
		if ch.LLM.APIKey == "" || ch.LLM.Model == "" {
			slog.Error("channel missing llm api key or model, skipping",
				"channel_id", ch.ChannelID)
			continue
		}

		prompt, err := config.LoadPrompt(config.ExpandHome(ch.PromptPath))
		if err != nil {
			slog.Error("failed to load channel prompt, skipping channel",
				"channel_id", ch.ChannelID, "path", ch.PromptPath, "error", err)
			continue
		}
		defer prompt.Close()
		if err := prompt.Watch(); err != nil {
			slog.Warn("prompt hot reload unavailable",
				"channel_id", ch.ChannelID, "error", err)
		}

		var encoder pipeline.ImageEncoder
		if ch.Images.Enabled {
			encoder = media.NewEncoder(ch.MaxImageDimension())
		}

		queue := make(chan pipeline.IncomingMessage, ch.QueueCapacity())
		sub := broadcaster.Subscribe(subscriberBuffer)
		sched := pipeline.NewScheduler(pipeline.SchedulerConfig{
			ChannelID:      ch.ChannelID,
			Queue:          queue,
			Provider:       providers.NewOpenAIProvider(ch.LLM.APIKey, ch.LLM.APIBase),
			Model:          ch.LLM.Model,
			Prompt:         prompt,
			Messenger:      messenger,
			Encoder:        encoder,
			MaxHistorySize: ch.HistorySize(),
			MinDelay:       ch.MinResponseDelay(),
		})

		channelID, withImages := ch.ChannelID, ch.Images.Enabled
		g.Go(func() error {
			pipeline.RunIngest(gctx, sub, queue, channelID, withImages)
			return nil
		})
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})

		started++
		slog.Info("channel pipeline started",
			"channel_id", ch.ChannelID, "model", ch.LLM.Model,
			"history", ch.HistorySize(), "images", ch.Images.Enabled)
	}
	if started == 0 {
		slog.Error("no channel pipeline could be started")
		os.Exit(1)
	}

	if cfg.OCR.Enabled {
		svc := ocr.New(cfg.OCR, messenger)
		sub := broadcaster.Subscribe(subscriberBuffer)
		g.Go(func() error {
			svc.Run(gctx, sub)
			return nil
		})
		slog.Info("ocr consumer started")
	}

	if err := gw.Open(); err != nil {
		slog.Error("failed to open discord gateway", "error", err)
		os.Exit(1)
	}

	<-gctx.Done()
	slog.Info("shutting down")

	// Closing the gateway also closes the broadcaster, which lets every
	// consumer drain its buffer and exit.
	if err := gw.Close(); err != nil {
		slog.Warn("error closing discord gateway", "error", err)
	}
	g.Wait()
}
