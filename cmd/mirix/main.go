package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirix-ai/mirix"
	"github.com/mirix-ai/mirix/internal/config"
	"github.com/mirix-ai/mirix/observer"
	"github.com/mirix-ai/mirix/provider/gemini"
	"github.com/mirix-ai/mirix/store/postgres"
	"github.com/mirix-ai/mirix/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg := config.Load(os.Getenv("MIRIX_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Observability (optional)
	var tracer mirix.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, nil)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		tracer = observer.NewTracer()
	}

	// 3. Create store
	var store mirix.Store
	switch cfg.Database.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("postgres pool: %v", err)
		}
		store = postgres.New(pool,
			postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions),
			postgres.WithLogger(logger))
	default:
		store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("store init: %v", err)
	}

	// 4. Create providers
	var client mirix.LLMClient = gemini.New(cfg.LLM.APIKey, cfg.LLM.Model)
	var embedding mirix.EmbeddingProvider = gemini.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	var blob mirix.BlobStore = gemini.NewFileStore(cfg.LLM.APIKey)
	var transcriber mirix.Transcriber = gemini.NewTranscriber(cfg.LLM.APIKey, cfg.LLM.Model)
	if inst != nil {
		client = observer.WrapClient(client, cfg.LLM.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		blob = observer.WrapBlobStore(blob, inst)
	}

	// 5. Wire the engine
	coord := mirix.NewCoordinator(store, client, embedding, blob, transcriber,
		mirix.CoordinatorConfig{
			SkipMeta:          cfg.Agent.SkipMetaMemoryManager,
			MessageLimit:      cfg.Accumulate.MessageLimit,
			UploadWaitTimeout: time.Duration(cfg.Accumulate.UploadWaitTimeoutSec) * time.Second,
			UploadWorkers:     cfg.Upload.Workers,
		},
		mirix.WithAgents(mirix.DefaultAgents()),
		mirix.WithAgentName(cfg.Agent.Name),
		mirix.WithModels(cfg.LLM.Model, cfg.LLM.MemoryModel),
		mirix.WithIncludeRecentScreenshots(cfg.Agent.IncludeRecentScreenshots),
		mirix.WithScreenMonitor(cfg.Agent.IsScreenMonitor),
		mirix.WithCoordinatorLogger(logger),
		mirix.WithCoordinatorTracer(tracer),
	)
	defer coord.Close()

	if cfg.Agent.Timezone != "" {
		if err := coord.SetTimezone(cfg.Agent.Timezone); err != nil {
			logger.Warn("invalid timezone in config", "timezone", cfg.Agent.Timezone, "error", err)
		}
	}

	// 6. Align cloud mappings with remote storage
	if err := coord.Reconcile(ctx); err != nil {
		logger.Warn("cloud reconcile failed", "error", err)
	}

	// 7. Interactive loop
	if err := runREPL(ctx, coord, logger); err != nil {
		log.Fatal(err)
	}
}

// runREPL reads lines from stdin: slash commands administer the engine,
// anything else is a chat turn.
func runREPL(ctx context.Context, coord *mirix.Coordinator, logger *slog.Logger) error {
	fmt.Println("mirix ready. /help for commands, ctrl-d to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok = <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			fmt.Println(coord.Chat(ctx, line))
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/help":
			fmt.Println(replHelp)
		case "/remember":
			if err := coord.Memorize(ctx, mirix.Observation{Text: arg}, time.Now(), true); err != nil {
				fmt.Println("error:", err)
			}
		case "/ask":
			fmt.Println(coord.Ask(ctx, arg))
		case "/reflect":
			if err := coord.Reflect(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "/persona":
			if arg == "" {
				p, err := coord.Persona(ctx)
				if err != nil {
					fmt.Println("error:", err)
					break
				}
				fmt.Println(p)
				break
			}
			if err := coord.SetPersona(ctx, arg); err != nil {
				fmt.Println("error:", err)
			}
		case "/model":
			if arg == "" {
				chat, memory := coord.Models()
				fmt.Printf("chat=%s memory=%s\n", chat, memory)
				break
			}
			st, err := coord.SetModel(ctx, arg)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			if !st.Success {
				fmt.Println("missing keys:", strings.Join(st.MissingKeys, ", "))
			}
		case "/save":
			if err := coord.Save(ctx, arg); err != nil {
				fmt.Println("error:", err)
			}
		case "/load":
			if err := coord.Load(ctx, arg); err != nil {
				fmt.Println("error:", err)
			}
		case "/export":
			if err := coord.ExportMemoriesToCSV(ctx, arg); err != nil {
				fmt.Println("error:", err)
			}
		case "/quit", "/exit":
			return nil
		default:
			fmt.Println("unknown command; /help for commands")
		}
	}
}

const replHelp = `commands:
  /remember <text>   buffer an observation for the memory pipeline
  /ask <question>    pure retrieval question (no conversation recording)
  /reflect           run a reflexion pass over accumulated memory
  /persona [text]    show or set the assistant persona
  /model [name]      show or switch the chat model
  /save <dir>        snapshot database and agent state
  /load <dir>        restore a snapshot
  /export <dir>      export memories to CSV
  /quit              exit`
