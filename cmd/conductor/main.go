// Command conductor runs the agent orchestration server: stored agent and
// orchestrator definitions exposed over HTTP, with WebSocket and SSE
// streaming of orchestrator runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"conductor/internal/adapter/gateway"
	"conductor/internal/adapter/llm"
	"conductor/internal/adapter/tool"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/infra/logger"
	"conductor/internal/infra/tracer"
	"conductor/internal/store"
	"conductor/internal/usecase"
)

const version = "0.3.0"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "encrypt":
			if err := runEncrypt(); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		case "version":
			fmt.Println("conductor " + version)
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`conductor - agent orchestration server

USAGE:
    conductor [COMMAND] [FLAGS]

COMMANDS:
    encrypt VALUE   Encrypt a config secret with CONDUCTOR_CONFIG_KEY
    version         Print the version

    (no command) - Run the server

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: CONDUCTOR_* variables override config`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("CONDUCTOR_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// runEncrypt encrypts a secret value for use in config files as "enc:...".
func runEncrypt() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: conductor encrypt VALUE")
	}
	key := os.Getenv("CONDUCTOR_CONFIG_KEY")
	if key == "" {
		return fmt.Errorf("CONDUCTOR_CONFIG_KEY must be set")
	}
	enc, err := config.EncryptValue(os.Args[2], key)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Stores
	fs, err := store.NewFileStore(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	history, err := store.NewHistory(cfg.Store.DataDir, log)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	// 4. Tools
	registry := tool.NewRegistry(log)
	if err := registry.Register(tool.NewRenderChartTool(log)); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if cfg.ClickHouse.Host != "" {
		ch := tool.NewClickHouseClient(cfg.ClickHouse, log)
		if err := tool.RegisterClickHouseTools(registry, ch, log); err != nil {
			return fmt.Errorf("tools: %w", err)
		}
	}

	// 5. LLM providers
	resolver, httpClient := initLLM(cfg, log)

	// 6. Engine
	engine := usecase.NewEngine(usecase.EngineDeps{
		Store:      fs,
		History:    history,
		Tools:      registry,
		Resolver:   resolver,
		HTTPClient: httpClient,
		Logger:     log,
		Config:     cfg.Engine,
	})

	// 7. Gateway
	srv := gateway.NewServer(gateway.Deps{
		Store:   fs,
		History: history,
		Engine:  engine,
		Tools:   registry,
		Logger:  log,
		Version: version,
	}, cfg.Server)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("conductor starting",
		"addr", cfg.Server.Addr,
		"mode", cfg.Engine.Mode,
		"provider", cfg.LLM.Provider.Name,
		"model", cfg.LLM.Provider.Model,
		"alternate", cfg.LLM.Alternate != nil,
		"tools", len(registry.List()),
		"clickhouse", cfg.ClickHouse.Host != "",
	)

	return srv.Start(ctx)
}

// initLLM builds the provider chain: pooled HTTP client, OpenAI-compatible
// provider, circuit breaker, optional alternate endpoint, resolver. The
// returned client is shared by run executors for idle-connection cleanup.
func initLLM(cfg *config.Config, log *slog.Logger) (domain.ModelResolver, *http.Client) {
	client := llm.NewHTTPClient(cfg.LLM.Provider, cfg.LLM.InsecureSkipVerify)
	def := llm.NewCircuitBreakerProvider(
		llm.NewOpenAIProvider(cfg.LLM.Provider, client, log),
		cfg.LLM.CircuitBreaker, log,
	)

	var alternate domain.LLMProvider
	if cfg.LLM.Alternate != nil {
		altClient := llm.NewHTTPClient(*cfg.LLM.Alternate, cfg.LLM.InsecureSkipVerify)
		alternate = llm.NewCircuitBreakerProvider(
			llm.NewOpenAIProvider(*cfg.LLM.Alternate, altClient, log),
			cfg.LLM.CircuitBreaker, log,
		)
	}

	return llm.NewResolver(def, alternate, log), client
}
