package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"gastos/internal/amqp"
	"gastos/internal/cache"
	"gastos/internal/config"
	"gastos/internal/extract"
	"gastos/internal/log"
	"gastos/internal/offset"
	"gastos/internal/ollama"
	"gastos/internal/query"
	"gastos/internal/services"
	"gastos/internal/storage"
	"gastos/internal/telegram"
	"gastos/internal/vectorindex"
	"gastos/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gastos-bot stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("gastos-bot stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	loc, ok := cfg.Location()
	if !ok {
		logger.WarnContext(ctx, "Unknown timezone, falling back to UTC", "timezone", cfg.Timezone)
	}
	logger.InfoContext(ctx, "Starting gastos-bot",
		log.FieldOperation, log.OpStartup,
		"transport", cfg.Transport,
		"timezone", loc.String(),
		log.FieldCurrency, cfg.Currency)

	vectors, err := vectorindex.NewSQLiteIndex(cfg.VectorDBPath)
	if err != nil {
		return fmt.Errorf("open vector index %s: %w", cfg.VectorDBPath, err)
	}
	defer vectors.Close()

	llm := ollama.NewClient(ollama.Options{
		BaseURL:      cfg.OllamaBaseURL,
		ExtractModel: cfg.OllamaExtractModel,
		EmbedModel:   cfg.OllamaEmbedModel,
		Timeout:      cfg.OllamaTimeout,
	})

	embeddings := cache.NewLRUCache[[]float32](cfg.EmbeddingCacheSize, cfg.EmbeddingCacheTTL)
	retriever := vectorindex.NewRetriever(llm, vectors, embeddings)

	indexer := worker.NewIndexWorker(retriever, cfg.IndexQueueSize, cfg.OllamaTimeout)
	indexer.Start(ctx)

	ledger, err := storage.NewLedger(cfg.ExpensesDBPath, cfg.Currency)
	if err != nil {
		_ = indexer.Close()
		return fmt.Errorf("open ledger %s: %w", cfg.ExpensesDBPath, err)
	}
	ledger.SetIndexQueue(indexer)
	// Drains pending vector upserts before the index closes.
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("Failed to close ledger", "error", err)
		}
		indexed, failed := indexer.Stats()
		logger.Info("Index worker stopped", "indexed", indexed, "failed", failed)
	}()

	var publisher services.EventPublisher
	if cfg.AMQPURL != "" && cfg.AMQPEventsQueue != "" {
		events, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventsQueue)
		if err != nil {
			if cfg.Transport == config.TransportAMQP {
				return fmt.Errorf("connect AMQP events queue: %w", err)
			}
			logger.WarnContext(ctx, "AMQP unavailable, expense events disabled", "error", err)
		} else {
			defer events.Close()
			publisher = events
		}
	}

	t := cfg.Tuning
	svc := services.NewMessageService(services.MessageDeps{
		Parser:    query.NewParser(),
		Answerer:  query.NewService(ledger, cfg.Currency),
		Retriever: retriever,
		Classifier: extract.NewClassifier(llm, extract.PromptOptions{
			ExamplesLimit:   t.SimilarExamplesLimit,
			ExampleMaxChars: t.SimilarExampleTextMaxChars,
			NumPredict:      t.ExtractNumPredict,
		}),
		Prior: extract.NeighborPrior{
			TopK:                  t.NeighborTopK,
			MinConsideredUnclear:  t.MinConsideredUnclear,
			RatioUnclear:          t.RatioUnclear,
			MinConsideredOverride: t.MinConsideredOverride,
			RatioOverride:         t.RatioOverride,
		},
		Ledger:        ledger,
		Publisher:     publisher,
		Location:      loc,
		ExamplesLimit: max(t.SimilarExamplesLimit, t.NeighborTopK),
		Logger:        logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	janitor := cache.NewJanitor(cfg.EmbeddingCacheTTL/2, embeddings)
	g.Go(func() error { return janitor.Run(gctx) })

	pollTimeout := time.Duration(cfg.TelegramPollTimeout) * time.Second
	var bot *telegram.Client
	if cfg.TelegramBotToken != "" {
		bot, err = telegram.NewClient(ctx, cfg.TelegramBotToken, cfg.TelegramBaseURL, pollTimeout)
		if err != nil {
			if cfg.Transport == config.TransportTelegram {
				return fmt.Errorf("connect telegram bot: %w", err)
			}
			logger.WarnContext(ctx, "Telegram unavailable, replies will only be logged", "error", err)
			bot = nil
		} else {
			logger.InfoContext(ctx, "Connected to Telegram", "bot", bot.Username())
		}
	}

	switch cfg.Transport {
	case config.TransportTelegram:
		offsets, err := offset.OpenBoltStore(cfg.OffsetDBPath)
		if err != nil {
			return fmt.Errorf("open offset store %s: %w", cfg.OffsetDBPath, err)
		}
		defer offsets.Close()

		poller := telegram.NewPoller(bot, svc, offsets, pollTimeout, logger)
		g.Go(func() error { return poller.Run(gctx) })

	case config.TransportAMQP:
		updates, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPUpdatesQueue)
		if err != nil {
			return fmt.Errorf("connect AMQP updates queue: %w", err)
		}
		defer updates.Close()

		g.Go(func() error {
			return updates.ConsumeUpdates(gctx, updateHandler(svc, bot, logger))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)
	return nil
}

// updateHandler adapts broker deliveries to the message service. Replies go
// out through the bot when one is configured, including the retry notice
// sent before a failed update is handed back to the broker.
func updateHandler(svc *services.MessageService, bot *telegram.Client, logger *log.Logger) func(context.Context, *amqp.UpdateMessage) error {
	logger = logger.WithComponent(log.ComponentAMQP)
	return func(ctx context.Context, msg *amqp.UpdateMessage) error {
		u := services.Update{UpdateID: msg.UpdateID, ChatID: msg.ChatID, Sender: msg.Sender}
		if msg.Text != nil {
			u.Text, u.HasText = *msg.Text, true
		}

		reply, handleErr := svc.Handle(ctx, u)
		if reply.Send {
			deliverReply(ctx, bot, logger, u, reply)
		}
		return handleErr
	}
}

func deliverReply(ctx context.Context, bot *telegram.Client, logger *log.Logger, u services.Update, reply services.Reply) {
	if bot == nil || u.ChatID == 0 {
		logger.InfoContext(ctx, "Reply not delivered, no chat transport",
			log.FieldUpdateID, u.UpdateID,
			"reply", reply.Text)
		return
	}
	if err := bot.SendMessage(ctx, u.ChatID, reply.Text); err != nil {
		logger.ErrorContext(ctx, "Failed to send reply",
			log.FieldUpdateID, u.UpdateID,
			log.FieldError, err)
	}
}
