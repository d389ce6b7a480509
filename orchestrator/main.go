package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/artifacts"
	"github.com/conveyor-labs/conveyor-go/internal/executor"
	"github.com/conveyor-labs/conveyor-go/internal/orchestrator"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/config"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/graph"
	"github.com/conveyor-labs/conveyor-go/internal/platform/env"
	"github.com/conveyor-labs/conveyor-go/internal/platform/httpserver"
	platformstore "github.com/conveyor-labs/conveyor-go/internal/platform/objectstore"
	"github.com/conveyor-labs/conveyor-go/internal/platform/postgres"
	"github.com/conveyor-labs/conveyor-go/internal/repo"
	"github.com/conveyor-labs/conveyor-go/internal/repo/memory"
	repopg "github.com/conveyor-labs/conveyor-go/internal/repo/postgres"
	"github.com/conveyor-labs/conveyor-go/internal/scheduler"
	"github.com/conveyor-labs/conveyor-go/internal/storage/objectstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("CONVEYOR_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("CONVEYOR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	pipelineFile := strings.TrimSpace(env.String("CONVEYOR_PIPELINE_FILE", ""))
	if pipelineFile == "" {
		logger.Error("missing pipeline definition", "env", "CONVEYOR_PIPELINE_FILE")
		os.Exit(2)
	}
	doc, err := config.Load(pipelineFile)
	if err != nil {
		logger.Error("invalid pipeline definition", "path", pipelineFile, "error", err)
		os.Exit(2)
	}
	pipe, err := graph.Build(doc)
	if err != nil {
		logger.Error("invalid pipeline graph", "path", pipelineFile, "error", err)
		os.Exit(2)
	}
	logger.Info("pipeline loaded", "path", pipelineFile, "stages", len(pipe.Stages), "jobs", len(pipe.Jobs))

	triggerToken := strings.TrimSpace(env.String("CONVEYOR_TRIGGER_TOKEN", ""))
	if triggerToken == "" {
		logger.Warn("trigger token not set, trigger endpoint is open", "env", "CONVEYOR_TRIGGER_TOKEN")
	}

	persistence := strings.ToLower(strings.TrimSpace(env.String("CONVEYOR_PERSISTENCE", "postgres")))

	var runs repo.RunRepository
	var results repo.JobResultRepository
	var backend objectstore.Store
	bucket := "artifacts"
	readiness := []httpserver.ReadinessCheck{}

	switch persistence {
	case "memory":
		runs = memory.NewRunStore()
		results = memory.NewJobResultStore()
		backend = objectstore.NewMemoryStore()
	case "postgres":
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		runs = repopg.NewRunStore(db)
		results = repopg.NewJobResultStore(db)
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return db.PingContext(ctx) },
		})

		storeCfg, err := platformstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		bucket = storeCfg.Bucket
		client, err := platformstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := platformstore.EnsureBucket(startupCtx, client, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		minioStore, err := objectstore.NewMinioStoreWithClient(client)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(2)
		}
		backend = minioStore
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: func(ctx context.Context) error {
				_, err := client.BucketExists(ctx, storeCfg.Bucket)
				return err
			},
		})
	default:
		logger.Error("unknown persistence mode", "mode", persistence)
		os.Exit(2)
	}

	store, err := artifacts.NewStore(backend, bucket, logger)
	if err != nil {
		logger.Error("artifact store init failed", "error", err)
		os.Exit(2)
	}
	reapInterval, err := env.Duration("CONVEYOR_ARTIFACT_REAP_INTERVAL", time.Minute)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	go store.RunReaper(ctx, reapInterval)

	workspaceDir := env.String("CONVEYOR_WORKSPACE_DIR", os.TempDir()+"/conveyor")
	exec, err := executor.NewShellExecutor(workspaceDir, logger)
	if err != nil {
		logger.Error("executor init failed", "error", err)
		os.Exit(2)
	}

	sched, err := scheduler.New(pipe, exec, store, results, logger)
	if err != nil {
		logger.Error("scheduler init failed", "error", err)
		os.Exit(2)
	}
	svc, err := orchestrator.NewService(logger, pipe, sched, runs, results)
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz("orchestrator"))
	mux.HandleFunc("GET /readyz", httpserver.Readyz("orchestrator", readiness...))
	newOrchestratorAPI(logger, svc, store, triggerToken).register(mux)

	handler := httpserver.Wrap(logger, "orchestrator", mux)
	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "orchestrator",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, handler); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(drainCtx); err != nil {
		logger.Warn("runs still in flight at shutdown", "error", err)
	}
}
