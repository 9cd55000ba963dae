package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/vbonduro/siteoptic/internal/config"
	"github.com/vbonduro/siteoptic/internal/db"
	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/logging"
	"github.com/vbonduro/siteoptic/internal/photostore"
	"github.com/vbonduro/siteoptic/internal/photostore/local"
	s3store "github.com/vbonduro/siteoptic/internal/photostore/s3"
	"github.com/vbonduro/siteoptic/internal/service"
	"github.com/vbonduro/siteoptic/internal/store"
	"github.com/vbonduro/siteoptic/internal/store/kv"
	"github.com/vbonduro/siteoptic/internal/vision"
	claudevision "github.com/vbonduro/siteoptic/internal/vision/claude"
	geminivision "github.com/vbonduro/siteoptic/internal/vision/gemini"
	ollamavision "github.com/vbonduro/siteoptic/internal/vision/ollama"
	openaivision "github.com/vbonduro/siteoptic/internal/vision/openai"
	"github.com/vbonduro/siteoptic/internal/web"
	"github.com/vbonduro/siteoptic/internal/web/templates"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run wires the application and returns the process exit code, so deferred
// cleanups finish before main exits.
func run(args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("siteoptic", flag.ContinueOnError)
	listModels := flags.Bool("list-models", false, "print the models the vision backend can generate with, then exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Printf("failed to initialize logger: %v", err)
		return 1
	}
	defer cleanup()

	ctx := context.Background()

	visionAnalyzer, closeVision, err := newVisionAnalyzer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize vision backend", "backend", cfg.VisionBackend, "error", err)
		return 1
	}
	defer closeVision()

	if *listModels {
		if err := printModels(ctx, visionAnalyzer, stdout); err != nil {
			logger.Error("failed to list models", "error", err)
			return 1
		}
		return 0
	}

	sessions, transcripts, closeStore, err := newSessionStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open session store", "backend", cfg.SessionBackend, "error", err)
		return 1
	}
	defer closeStore()

	photoStg, err := newPhotoStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize photo store", "backend", cfg.PhotoBackend, "error", err)
		return 1
	}

	diagnosticService := service.NewDiagnosticService(
		sessions, transcripts, visionAnalyzer, photoStg,
		domain.Language(cfg.DefaultLanguage), cfg.SessionTTL, logger,
	)
	server := web.NewServer(diagnosticService, templates.FS, logger)

	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}

func newVisionAnalyzer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (vision.Analyzer, func(), error) {
	noop := func() {}
	switch cfg.VisionBackend {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, noop, errors.New("GEMINI_API_KEY is required when VISION_BACKEND=gemini")
		}
		a, err := geminivision.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using Gemini vision backend", "model", cfg.GeminiModel)
		return a, func() {
			if err := a.Close(); err != nil {
				logger.Error("failed to close gemini client", "error", err)
			}
		}, nil
	case "claude":
		if cfg.ClaudeAPIKey == "" {
			return nil, noop, errors.New("CLAUDE_API_KEY is required when VISION_BACKEND=claude")
		}
		logger.Info("using Claude vision backend", "model", cfg.ClaudeModel)
		return claudevision.NewClaudeAnalyzer(cfg.ClaudeAPIKey, cfg.ClaudeModel), noop, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, noop, errors.New("OPENAI_API_KEY is required when VISION_BACKEND=openai")
		}
		logger.Info("using OpenAI vision backend", "model", cfg.OpenAIModel, "base_url", cfg.OpenAIBaseURL)
		return openaivision.NewOpenAIAnalyzer(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), noop, nil
	case "ollama":
		logger.Info("using Ollama vision backend", "host", cfg.OllamaHost, "model", cfg.OllamaModel)
		return ollamavision.NewOllamaAnalyzer(cfg.OllamaHost, cfg.OllamaModel), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown VISION_BACKEND %q", cfg.VisionBackend)
	}
}

// sessionRepository and transcriptRepository are satisfied by both the SQLite
// and Redis stores.
type sessionRepository interface {
	Create(ctx context.Context, opts domain.AnalysisOptions) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	SetAnalysis(ctx context.Context, id string, photo domain.Photo, opts domain.AnalysisOptions) error
	Delete(ctx context.Context, id string) error
}

type transcriptRepository interface {
	Append(ctx context.Context, sessionID string, role domain.Role, content string) (*domain.Turn, error)
	List(ctx context.Context, sessionID string) ([]*domain.Turn, error)
	Clear(ctx context.Context, sessionID string) error
}

func newSessionStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sessionRepository, transcriptRepository, func(), error) {
	switch cfg.SessionBackend {
	case "redis":
		rdb, err := kv.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using redis session store", "ttl", cfg.SessionTTL.String())
		st := kv.NewStore(rdb, cfg.SessionTTL)
		return st, st, func() {
			if err := rdb.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}, nil
	case "sqlite":
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using sqlite session store", "path", cfg.DBPath)
		return store.NewSessionStore(database), store.NewTurnStore(database), closeDB(database, logger), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
}

func closeDB(database *sql.DB, logger *slog.Logger) func() {
	return func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}
}

func newPhotoStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (photostore.PhotoStore, error) {
	switch cfg.PhotoBackend {
	case "s3":
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		logger.Info("using s3 photo store", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
		return s3store.NewS3PhotoStore(ctx, s3store.Options{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})
	case "local":
		logger.Info("using local photo store", "path", cfg.PhotoPath)
		return local.NewLocalPhotoStore(cfg.PhotoPath)
	default:
		return nil, fmt.Errorf("unknown PHOTO_BACKEND %q", cfg.PhotoBackend)
	}
}

func printModels(ctx context.Context, a vision.Analyzer, w io.Writer) error {
	lister, ok := a.(vision.ModelLister)
	if !ok {
		return errors.New("vision backend cannot list models")
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	models, err := lister.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if vision.SupportsGeneration(m) {
			fmt.Fprintln(w, m.Name)
		}
	}
	return nil
}
