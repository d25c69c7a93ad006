package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gastos/internal/config"
	"gastos/internal/log"
	"gastos/internal/ollama"
	"gastos/internal/training"
	"gastos/internal/vectorindex"
)

var (
	csvPath string
	chatID  int64
	reset   bool
)

var rootCmd = &cobra.Command{
	Use:   "gastos-train",
	Short: "Load labeled example expenses into the vector index",
	Long: `Reads a CSV with 'Categoría' and 'Descripción' columns, embeds each row and
stores it in the vector index under the given chat, so the bot can use the
examples as neighbors when classifying new messages.`,
	SilenceUsage: true,
	RunE:         runTrain,
}

func init() {
	rootCmd.Flags().StringVarP(&csvPath, "csv", "f", "rule.csv", "Labeled CSV to ingest")
	rootCmd.Flags().Int64VarP(&chatID, "chat-id", "c", 0, "Chat id the examples belong to")
	rootCmd.Flags().BoolVar(&reset, "reset", false, "Remove the chat's previous training entries first")
	_ = rootCmd.MarkFlagRequired("chat-id")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "[error] %v\n", err)
		os.Exit(1)
	}
}

func runTrain(cmd *cobra.Command, _ []string) error {
	if chatID == 0 {
		return fmt.Errorf("--chat-id must be non-zero")
	}

	cfg := config.Load()
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentTraining,
		Output:    os.Stderr,
	})
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vectors, err := vectorindex.NewSQLiteIndex(cfg.VectorDBPath)
	if err != nil {
		return fmt.Errorf("open vector index %s: %w", cfg.VectorDBPath, err)
	}
	defer vectors.Close()

	llm := ollama.NewClient(ollama.Options{
		BaseURL:    cfg.OllamaBaseURL,
		EmbedModel: cfg.OllamaEmbedModel,
		Timeout:    cfg.OllamaTimeout,
	})
	retriever := vectorindex.NewRetriever(llm, vectors, nil)

	logger.InfoContext(ctx, "Ingesting training CSV", "path", csvPath, log.FieldChatID, chatID, "reset", reset)
	report, err := training.IngestFile(ctx, csvPath, retriever, training.Options{
		ChatID:   chatID,
		Currency: cfg.Currency,
		Reset:    reset,
	})
	if err != nil {
		return err
	}

	printReport(ctx, vectors, report)
	return nil
}

func printReport(ctx context.Context, vectors *vectorindex.SQLiteIndex, report training.Report) {
	color.New(color.BgGreen, color.FgBlack).Printf(" done ")
	fmt.Printf(" inserted=%d skipped=%d", report.Inserted, report.Skipped)
	if reset {
		fmt.Printf(" deleted=%d", report.Deleted)
	}
	if total, err := vectors.Count(ctx, chatID); err == nil {
		color.New(color.FgBlue).Printf(" chat_id=%d entries=%d", chatID, total)
	}
	fmt.Println()
}
