package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	appadvisor "github.com/williamsouzadelima/strati-audit/internal/application/advisor"
	appaudit "github.com/williamsouzadelima/strati-audit/internal/application/audit"
	"github.com/williamsouzadelima/strati-audit/internal/config"
	advisordomain "github.com/williamsouzadelima/strati-audit/internal/domain/advisor"
	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
	"github.com/williamsouzadelima/strati-audit/internal/domain/auditlog"
	aiopenai "github.com/williamsouzadelima/strati-audit/internal/infra/ai/openai"
	memstore "github.com/williamsouzadelima/strati-audit/internal/infra/db/memory"
	mysqlstore "github.com/williamsouzadelima/strati-audit/internal/infra/db/mysql"
	pgstore "github.com/williamsouzadelima/strati-audit/internal/infra/db/postgres"
	"github.com/williamsouzadelima/strati-audit/internal/infra/executor/docker"
	"github.com/williamsouzadelima/strati-audit/internal/infra/executor/local"
	"github.com/williamsouzadelima/strati-audit/internal/infra/executor/sshrun"
	"github.com/williamsouzadelima/strati-audit/internal/infra/httpserver"
	"github.com/williamsouzadelima/strati-audit/internal/infra/report"
	minioStore "github.com/williamsouzadelima/strati-audit/internal/infra/storage"
	"github.com/williamsouzadelima/strati-audit/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	// path config.yaml; a missing default file just means env + defaults
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	} else if _, err := os.Stat(path); err != nil {
		path = ""
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(lvl)
	}

	ctx := context.Background()

	// storage backends
	var (
		inventory  domain.Inventory
		store      domain.StateStore
		directory  domain.Directory
		trail      auditlog.Recorder
		adviceRepo advisordomain.Repository
		sqlDB      *sql.DB
	)
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlstore.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		if err := mysqlstore.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("mysql schema error: %v", err)
		}
		st := mysqlstore.NewStore(db)
		store, directory = st, st
		inventory = mysqlstore.NewInventoryRepo(db)
		trail = mysqlstore.NewEventRepo(db)
		adviceRepo = mysqlstore.NewAdviceRepo(db)
		sqlDB = db
	case "postgres":
		db, err := pgstore.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		if err := pgstore.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("postgres schema error: %v", err)
		}
		st := pgstore.NewStore(db)
		store, directory = st, st
		inventory = pgstore.NewInventoryRepo(db)
		trail = pgstore.NewEventRepo(db)
		adviceRepo = pgstore.NewAdviceRepo(db)
		sqlDB = db
	case "memory":
		st := memstore.NewStore()
		store, directory, inventory = st, st, st
		trail = memstore.NewTrail()
		adviceRepo = memstore.NewAdviceRepo()
	default:
		log.Fatalf("unknown database driver %q", cfg.Database.Driver)
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	// executor
	var categories []domain.Category
	for _, c := range cfg.Audit.Categories {
		categories = append(categories, domain.NormalizeCategory(c))
	}

	var executor domain.Executor
	switch cfg.Executor.Driver {
	case "local":
		r, err := local.NewRunner(cfg.Executor.Command, categories, log)
		if err != nil {
			log.Fatalf("local executor init error: %v", err)
		}
		executor = r
	case "ssh":
		r, err := sshrun.NewRunner(cfg.Executor.Command, cfg.HandshakeTimeout(), log)
		if err != nil {
			log.Fatalf("ssh executor init error: %v", err)
		}
		executor = r
	case "docker":
		r, err := docker.NewRunner(cfg.Executor.Image, cfg.Executor.Command, categories, log)
		if err != nil {
			log.Fatalf("docker executor init error: %v", err)
		}
		executor = r
	default:
		log.Fatalf("unknown executor driver %q", cfg.Executor.Driver)
	}

	// artifact store; without it runs still finish, reports just stay local
	var artifacts domain.ArtifactStore
	if cfg.Minio.Endpoint != "" {
		s, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
			log,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		artifacts = s
	} else {
		log.Warn("minio endpoint not set, report upload disabled")
	}

	// scheduler
	dispatcher := appaudit.NewDispatcher(appaudit.DispatcherConfig{
		MaxConcurrent: cfg.Audit.MaxConcurrent,
		AuditTimeout:  cfg.AuditTimeout(),
		RetryAttempts: cfg.Audit.RetryAttempts,
		RetryDelay:    cfg.RetryDelay(),
		RetryDelayCap: cfg.RetryDelayCap(),
		Penalties: domain.PenaltyTable{
			domain.SeverityCritical: cfg.Scoring.Critical,
			domain.SeverityHigh:     cfg.Scoring.High,
			domain.SeverityMedium:   cfg.Scoring.Medium,
			domain.SeverityLow:      cfg.Scoring.Low,
			domain.SeverityInfo:     cfg.Scoring.Info,
		},
	}, store, executor, appaudit.SystemClock{}, trail, log)

	renderer := report.New()
	renderer.CriticalBelow = cfg.Scoring.CriticalBelow
	renderer.WarningBelow = cfg.Scoring.WarningBelow

	svc := &appaudit.Service{
		Inventory:  inventory,
		Store:      store,
		Directory:  directory,
		Dispatcher: dispatcher,
		Artifacts:  artifacts,
		Renderer:   renderer,
		Trail:      trail,
		Clock:      appaudit.SystemClock{},
		Log:        log,
	}
	dispatcher.SetRunTerminalHook(svc.FinalizeRun)

	// remediation advisor; nil generator keeps the endpoint up but disabled
	var gen advisordomain.Generator
	if cfg.AI.APIKey != "" {
		gen = aiopenai.NewClient(cfg.AI.APIKey, cfg.AI.Model)
	} else {
		log.Info("advisor disabled, no api key configured")
	}
	adviceSvc := appadvisor.NewService(store, gen, adviceRepo, log)

	// health probes
	checkers := map[string]middleware.HealthChecker{
		"scheduler": middleware.CheckerFunc(func(ctx context.Context) error {
			return dispatcher.Ping()
		}),
	}
	if sqlDB != nil {
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: sqlDB}
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpserver.NewRouter(svc, adviceSvc, checkers, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // blocking result reads hold the response open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
	if err := svc.Close(); err != nil {
		log.Errorf("dispatcher drain error: %v", err)
	}
}
