package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/workerpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	convconfig "github.com/voicetyped/conversation/config"
	"github.com/voicetyped/conversation/internal/api"
	"github.com/voicetyped/conversation/internal/character/manager"
	"github.com/voicetyped/conversation/internal/httputil"
	"github.com/voicetyped/conversation/pkg/audit"
	"github.com/voicetyped/conversation/pkg/commands"
	"github.com/voicetyped/conversation/pkg/conversation"
	"github.com/voicetyped/conversation/pkg/events"
	"github.com/voicetyped/conversation/pkg/snapshot"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadWithOIDC[convconfig.ConversationConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("conversation"),
		frame.WithDatastore(),
		frame.WithRegisterPublisher(eventRef, eventURL),
		frame.WithWorkerPoolOptions(
			workerpool.WithPoolCount(cfg.WorkerPoolCount),
			workerpool.WithSinglePoolCapacity(cfg.WorkerPoolCapacity),
		),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	authenticator := srv.SecurityManager().GetAuthenticator(ctx)

	pub := events.NewPublisher(srv.QueueManager(), "conversation", eventRef)

	// --- Authored conversations ---
	loader := conversation.NewLoader(cfg.ConversationDir)
	if _, err := loader.LoadAll(ctx); err != nil {
		slog.WarnContext(ctx, "loading conversations", slog.String("error", err.Error()))
	}

	// --- Commands ---
	registry := commands.NewRegistry()
	if cfg.CommandsFile != "" {
		defs, err := commands.LoadDefinitions(cfg.CommandsFile)
		if err != nil {
			log.Fatalf("loading commands: %v", err)
		}
		buildOpts := commands.BuildOptions{
			Breaker:           cfg.Breaker(),
			DefaultTimeoutSec: cfg.CommandTimeoutSec,
		}
		if cfg.TwilioAccountSID != "" {
			buildOpts.SMSClient, err = commands.NewTwilioMessageCreator(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
			if err != nil {
				log.Fatalf("configuring twilio: %v", err)
			}
		}
		if cfg.CommandAllowPrivate {
			buildOpts.Guard = append(buildOpts.Guard, commands.AllowPrivateIPs())
		}
		defs.Register(registry, buildOpts)
		slog.InfoContext(ctx, "commands registered", slog.Any("names", registry.Names()))
	}

	// --- Persistence ---
	auditRepo := audit.NewRepository(
		srv.DatastoreManager().GetPool(ctx, "__default__pool_name__"),
	)
	if cfg.AuditAutoMigrate {
		if err := auditRepo.Migrate(ctx); err != nil {
			log.Fatalf("migrating audit store: %v", err)
		}
	}

	mgrOpts := []manager.Option{
		manager.WithEmitter(pub),
		manager.WithCommands(registry),
		manager.WithWorkerPool(pool),
		manager.WithRecorder(auditRepo),
	}
	apiOpts := []api.Option{api.WithHistoryStore(auditRepo)}
	if cfg.RedisURL != "" {
		snapshots, err := snapshot.Dial(ctx, cfg.RedisURL, time.Duration(cfg.SnapshotTTLSec)*time.Second)
		if err != nil {
			log.Fatalf("connecting snapshot store: %v", err)
		}
		defer snapshots.Close()
		mgrOpts = append(mgrOpts, manager.WithSnapshotter(snapshots))
		apiOpts = append(apiOpts, api.WithSnapshotStore(snapshots))
	}

	// --- Sessions ---
	mgr := manager.New(manager.Config{
		DefaultGroup:       cfg.DefaultGroup,
		Debounce:           cfg.Debounce(),
		DefaultFailTimeout: cfg.DefaultFailTimeout(),
		RandomSeed:         cfg.RandomSeed,
		MaxHistory:         cfg.MaxHistory,
		SessionTTL:         cfg.SessionTTL(),
		ListInterval:       time.Duration(cfg.ListPublishMin) * time.Minute,
	}, loader, mgrOpts...)
	mgr.Start(ctx)
	defer mgr.Shutdown(context.WithoutCancel(ctx))

	if cfg.WatchConversations {
		watch := func() {
			if err := loader.Watch(ctx, mgr.ApplyGroupChanges); err != nil {
				slog.ErrorContext(ctx, "conversation watcher stopped", slog.String("error", err.Error()))
			}
		}
		if err := pool.Submit(ctx, watch); err != nil {
			go watch()
		}
	}

	// --- HTTP ---
	restMux := http.NewServeMux()
	api.NewHandler(mgr, loader, pub, apiOpts...).RegisterRoutes(restMux)

	mux := http.NewServeMux()
	mux.Handle("/api/", httputil.Authenticated(restMux, authenticator))
	mux.Handle("GET /metrics", promhttp.Handler())

	srv.Init(ctx,
		frame.WithRegisterSubscriber(cfg.InboundQueueName, cfg.InboundQueueURL, &manager.Subscriber{Manager: mgr}),
		frame.WithHTTPHandler(httputil.H2C(httputil.Logging(mux))),
	)

	if err := srv.Run(ctx, ""); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
