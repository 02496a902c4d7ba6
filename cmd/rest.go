package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/calmecac/wabridge/bot"
	globalConfig "github.com/calmecac/wabridge/config"
	"github.com/calmecac/wabridge/domains/media"
	"github.com/calmecac/wabridge/infrastructure/firestore"
	"github.com/calmecac/wabridge/infrastructure/gcsmedia"
	"github.com/calmecac/wabridge/infrastructure/identity"
	"github.com/calmecac/wabridge/infrastructure/whatsapp"
	"github.com/calmecac/wabridge/pkg/mediacache"
	"github.com/calmecac/wabridge/pkg/msgworker"
	"github.com/calmecac/wabridge/ui/rest"
	"github.com/calmecac/wabridge/ui/rest/middleware"
	"github.com/calmecac/wabridge/ui/websocket"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the bridge API, the websocket live stream and the bot pipeline",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Infraestructura compartida
	mediaCache := mediacache.New(time.Duration(globalConfig.MediaCacheTtlMs) * time.Millisecond)
	mediaCache.StartSweeper(ctx, time.Minute)

	supervisor := whatsapp.NewSupervisor(mediaCache)

	fsClient, err := firestore.NewClient(ctx, firestore.Config{
		ProjectID:       globalConfig.GcpProjectID,
		CredentialsFile: globalConfig.GcpCredentialsFile,
		CredentialsJSON: globalConfig.GcpCredentialsJSON,
	})
	if err != nil {
		logrus.Fatalf("[REST] Firestore init failed: %v", err)
	}
	defer fsClient.Close()

	turnStore := firestore.NewTurnStore(fsClient)
	policyReader := firestore.NewPolicyReader(fsClient)
	accessStore := firestore.NewAccessStore(fsClient)
	registry := firestore.NewSessionRegistry(fsClient)

	verifier, err := identity.NewFirebaseVerifier(ctx, identity.Config{
		ProjectID:       globalConfig.GcpProjectID,
		CredentialsFile: globalConfig.GcpCredentialsFile,
		CredentialsJSON: globalConfig.GcpCredentialsJSON,
	})
	if err != nil {
		logrus.Fatalf("[REST] Firebase Auth init failed: %v", err)
	}

	var blobs media.BlobStore
	if globalConfig.MediaBucket != "" {
		gcsStore, err := gcsmedia.NewBlobStore(ctx, gcsmedia.Config{
			Bucket:          globalConfig.MediaBucket,
			CredentialsFile: globalConfig.GcpCredentialsFile,
			CredentialsJSON: globalConfig.GcpCredentialsJSON,
		}, supervisor)
		if err != nil {
			logrus.Fatalf("[REST] GCS init failed: %v", err)
		}
		blobs = gcsStore
	} else {
		logrus.Warn("[REST] MEDIA_BUCKET not set, inbound voice notes will not be persisted")
	}

	// Pipeline del bot
	policyCache := bot.NewPolicyCache(policyReader, time.Duration(globalConfig.PolicyCacheTtlMs)*time.Millisecond)
	buffer := bot.NewBufferManager(policyCache, blobs, turnStore, bot.BufferConfig{
		DebounceMs:     globalConfig.BotDebounceMs,
		HardCapMs:      globalConfig.BotHardCapMs,
		GcIdleMs:       globalConfig.BufferGcIdleMs,
		FinalizerWords: globalConfig.FinalizerWords,
		VoicePhrases:   globalConfig.VoicePhrases,
		TextPhrases:    globalConfig.TextPhrases,
	})
	buffer.StartGC(ctx, time.Minute)

	outbox := bot.NewOutboxWatcher(turnStore, supervisor, policyCache, bot.OutboxConfig{
		FallbackText: globalConfig.FallbackReplyText,
	})

	pool := msgworker.NewPool(globalConfig.MessageWorkerPoolSize, globalConfig.MessageWorkerQueueSize)
	pool.Start(ctx)

	pipeline := bot.NewPipeline(buffer, outbox, pool)

	// Cada consumidor del bus lleva su propia suscripción.
	pipelineEvents, pipelineUnsub := supervisor.Subscribe()
	go pipeline.Run(ctx, pipelineEvents, pipelineUnsub)

	registryEvents, registryUnsub := supervisor.Subscribe()
	go registry.Follow(ctx, registryEvents, registryUnsub)

	hub := websocket.NewHub(verifier, accessStore, websocket.HubConfig{
		MaxConnections: globalConfig.WsMaxConnections,
		SendBufferSize: globalConfig.WsSendBufferSize,
		Heartbeat:      time.Duration(globalConfig.WsHeartbeatSec) * time.Second,
	})
	hubEvents, hubUnsub := supervisor.Subscribe()
	go hub.Run(ctx, hubEvents, hubUnsub)

	if restored, err := supervisor.RestoreAllFromFs(ctx); err != nil {
		logrus.Errorf("[REST] Session restore failed: %v", err)
	} else if restored > 0 {
		logrus.Infof("[REST] Restored %d session(s) from disk", restored)
	}

	fiberConfig := fiber.Config{
		AppName:               "Wabridge " + globalConfig.AppVersion,
		Network:               "tcp",
		DisableStartupMessage: false,
	}
	if len(globalConfig.AppTrustedProxies) > 0 {
		fiberConfig.EnableTrustedProxyCheck = true
		fiberConfig.TrustedProxies = globalConfig.AppTrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
	}
	app := fiber.New(fiberConfig)

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())

	if globalConfig.AppDebug {
		app.Use(logger.New())
	}

	hub.RegisterRoutes(app)
	rest.InitRest(app, rest.Deps{
		Supervisor:  supervisor,
		Verifier:    verifier,
		Resolver:    accessStore,
		AccessAdmin: accessStore,
	})
	app.Use(rest.NotFoundFallback)

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Termination signal received, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}

		cancel()
		supervisor.StopAll()
		pool.Stop()
	}()

	if err := app.Listen(":" + globalConfig.AppPort); err != nil {
		logrus.Fatalln("Failed to start: ", err.Error())
	}
}
