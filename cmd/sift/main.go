package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
	cfgPkg "github.com/xhad/sift/pkg/config"
	"github.com/xhad/sift/pkg/ingest"
	"github.com/xhad/sift/pkg/llm"
	"github.com/xhad/sift/pkg/lsh"
	"github.com/xhad/sift/pkg/retriever"
	"github.com/xhad/sift/pkg/retry"
	"github.com/xhad/sift/pkg/store"
	"github.com/xhad/sift/pkg/watch"
	"github.com/xhad/sift/server"
)

type Flags struct {
	ConfigPath string
	Scope      string
	Shared     bool
	IngestPath string
	WatchDir   string
	RunIndex   bool
	ClearScope bool
	Serve      string
	Ask        string
	TopK       int
	Verbose    bool
}

func main() {
	flags := parseFlags()

	if err := run(flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.Scope, "scope", "", "Tenant scope (defaults to a fresh session scope)")
	flag.BoolVar(&flags.Shared, "shared", false, "Ingest into the shared scope visible to everyone")
	flag.StringVar(&flags.IngestPath, "ingest", "", "File or directory to ingest")
	flag.StringVar(&flags.WatchDir, "watch", "", "Directory to watch for dropped files")
	flag.BoolVar(&flags.RunIndex, "index", false, "Scan for unindexed documents and index them")
	flag.BoolVar(&flags.ClearScope, "clear-scope", false, "Delete every document in the scope")
	flag.StringVar(&flags.Serve, "serve", "", "Serve queries over WebSocket on this address (e.g. :8080)")
	flag.StringVar(&flags.Ask, "ask", "", "Ask a single question and exit")
	flag.IntVar(&flags.TopK, "top-k", 0, "Number of chunks to retrieve per query")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return flags
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(flags Flags) error {
	cfg, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return fmt.Errorf("invalid configuration")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if flags.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	scope := flags.Scope
	if flags.Shared {
		scope = models.SharedScope
	}
	if scope == "" {
		scope = uuid.NewString()
		color.Yellow("No scope given, using session scope %s", scope)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		Multiplier:  cfg.Retry.Multiplier,
	}

	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		Dimension:  cfg.Embedding.Dimension,
		Retry:      policy,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectorStore.Close()

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		RateLimit: cfg.Embedding.RateLimit,
		Retry:     policy,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var indexer *lsh.Indexer
	if cfg.LSH.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		indexer, err = lsh.NewIndexerWithConfig(client, vectorStore, vectorStore, lsh.IndexerConfig{
			Dimension:      cfg.Embedding.Dimension,
			NumPerm:        cfg.LSH.NumPerm,
			Bands:          cfg.LSH.Bands,
			Threshold:      cfg.LSH.Threshold,
			KeyPrefix:      cfg.LSH.KeyPrefix,
			CandidateLimit: cfg.LSH.CandidateLimit,
			BatchSize:      cfg.LSH.BatchSize,
			Retry:          policy,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize index: %w", err)
		}
	}

	pipeline, err := ingest.NewWithConfig(embedder, vectorStore, ingest.PipelineConfig{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if flags.ClearScope {
		deleted, err := vectorStore.DeleteByScope(ctx, scope)
		if err != nil {
			return fmt.Errorf("failed to clear scope: %w", err)
		}
		color.Green("✓ Deleted %d document(s) in scope %s", deleted, scope)
	}

	if flags.IngestPath != "" {
		if err := runIngest(ctx, pipeline, flags.IngestPath, scope); err != nil {
			return err
		}
		if indexer != nil {
			if err := runIndexScan(ctx, indexer, scope); err != nil {
				return err
			}
		}
	}

	if flags.RunIndex {
		if indexer == nil {
			return fmt.Errorf("lsh is disabled in configuration, nothing to index")
		}
		if err := runIndexScan(ctx, indexer, scope); err != nil {
			return err
		}
	}

	if flags.WatchDir != "" {
		watcher, err := watch.NewWithConfig(pipeline, watch.WatcherConfig{
			Dir:    flags.WatchDir,
			Scope:  scope,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		color.Cyan("Watching %s (Ctrl-C to stop)", flags.WatchDir)
		return watcher.Run(ctx)
	}

	generator, err := llm.NewGenerator(llm.GeneratorConfig{
		Provider:    cfg.Generator.Provider,
		Model:       cfg.Generator.Model,
		BaseURL:     cfg.Generator.BaseURL,
		Temperature: cfg.Generator.Temperature,
		MaxTokens:   cfg.Generator.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize generator: %w", err)
	}

	topK := flags.TopK
	if topK <= 0 {
		topK = cfg.Retrieval.TopK
	}

	rtr, err := retriever.NewWithConfig(indexOrNil(indexer), vectorStore, retriever.RetrieverConfig{
		LSHEnabled:  cfg.LSH.Enabled,
		DefaultTopK: topK,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	if flags.Serve != "" {
		srv, err := server.NewWSServer(embedder, rtr, vectorStore, generator, server.Config{
			Addr:        flags.Serve,
			DefaultTopK: topK,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		color.Cyan("Serving queries on %s (Ctrl-C to stop)", flags.Serve)
		return srv.Run(ctx)
	}

	if flags.Ask != "" {
		answer, err := answerQuestion(ctx, embedder, rtr, vectorStore, generator, flags.Ask, scope, topK)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	if flags.IngestPath != "" || flags.ClearScope || flags.RunIndex {
		// One-shot maintenance invocation, no chat loop.
		return nil
	}

	return chatLoop(ctx, embedder, rtr, vectorStore, generator, scope, topK)
}

// indexOrNil keeps a typed-nil *lsh.Indexer out of the types.Index
// interface value.
func indexOrNil(ix *lsh.Indexer) types.Index {
	if ix == nil {
		return nil
	}
	return ix
}

func runIngest(ctx context.Context, pipeline *ingest.Pipeline, path, scope string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot ingest %s: %w", path, err)
	}

	if !info.IsDir() {
		docID, err := pipeline.IngestFile(ctx, path, scope)
		if err != nil {
			return err
		}
		color.Green("✓ Ingested %s as document %d", filepath.Base(path), docID)
		return nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && ingest.Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", path, err)
	}
	if len(files) == 0 {
		color.Yellow("No supported files under %s", path)
		return nil
	}

	bar := getProgressBar(len(files), "📄 Ingesting documents...")
	var failed int
	for _, f := range files {
		if _, err := pipeline.IngestFile(ctx, f, scope); err != nil {
			failed++
			color.Red("\n%s: %v", f, err)
		}
		bar.Add(1)
	}
	bar.Finish()

	if failed > 0 {
		color.Yellow("\n✓ Ingested %d of %d files (%d failed)", len(files)-failed, len(files), failed)
	} else {
		color.Green("\n✓ Ingested %d files", len(files))
	}
	return nil
}

func runIndexScan(ctx context.Context, indexer *lsh.Indexer, scope string) error {
	spinner := getSpinner("🔍 Indexing new documents...")
	indexed, err := indexer.IndexUnindexed(ctx, scope)
	spinner.Finish()
	fmt.Print("\r")

	if err != nil {
		color.Yellow("Some documents were left unindexed: %v", err)
	}
	color.Green("✓ Indexed %d chunk(s)", indexed)
	return nil
}

func answerQuestion(ctx context.Context, embedder *llm.Embedder, rtr *retriever.Retriever, vectorStore *store.VectorStore, generator types.Generator, question, scope string, topK int) (string, error) {
	vector, err := embedder.EmbedQuery(ctx, question)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	scored, err := rtr.Retrieve(ctx, vector, scope, topK)
	if err != nil {
		return "", fmt.Errorf("retrieval failed: %w", err)
	}

	ids := make([]int64, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}
	chunks, err := vectorStore.FetchByIDs(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("failed to fetch chunk content: %w", err)
	}

	contexts := make([]string, len(chunks))
	for i, c := range chunks {
		contexts[i] = c.Content
	}

	return generator.GenerateAnswer(ctx, question, contexts)
}

func chatLoop(ctx context.Context, embedder *llm.Embedder, rtr *retriever.Retriever, vectorStore *store.VectorStore, generator types.Generator, scope string, topK int) error {
	color.Cyan("\nChat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		spinner := getSpinner("🔍 Searching...")
		answer, err := answerQuestion(ctx, embedder, rtr, vectorStore, generator, query, scope, topK)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v", err)
			continue
		}

		assistantPrompt("Assistant: %s\n", answer)
	}

	return scanner.Err()
}
