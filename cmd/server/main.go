// Package main runs the conferencing core's HTTP + WebSocket server with
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aura-conferencing/core/config"
	"github.com/aura-conferencing/core/internal/auth"
	"github.com/aura-conferencing/core/internal/conference"
	"github.com/aura-conferencing/core/internal/media"
	"github.com/aura-conferencing/core/internal/middleware"
	"github.com/aura-conferencing/core/internal/realtime"
	"github.com/aura-conferencing/core/internal/signaling"
	"github.com/aura-conferencing/core/internal/transcription"
	"github.com/aura-conferencing/core/internal/transcription/asr"
	"github.com/aura-conferencing/core/internal/transcription/asr/nim"
	"github.com/aura-conferencing/core/internal/transcription/asr/whisperhttp"
	"github.com/aura-conferencing/core/internal/transcription/vad"
	"github.com/aura-conferencing/core/pkg/database"
	pkgredis "github.com/aura-conferencing/core/pkg/redis"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	redisClient, err := pkgredis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	workerPool, err := media.NewWorkerPool(media.Settings{
		NumWorkers:  cfg.Media.NumWorkers,
		ListenIP:    cfg.Media.ListenIP,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		RTCMinPort:  cfg.Media.RTCMinPort,
		RTCMaxPort:  cfg.Media.RTCMaxPort,
	}, logger)
	if err != nil {
		logger.Fatal("create media worker pool", zap.Error(err))
	}

	fanout := realtime.NewFanout(logger)
	redisBridge := realtime.NewRedisBridge(redisClient.Client, logger)

	registry := buildASRRegistry(cfg, logger)
	vadCfg := vad.Config{
		StartThreshold:        cfg.Transcription.VADStartThreshold,
		EndThreshold:          cfg.Transcription.VADEndThreshold,
		MinSpeechFrames:       cfg.Transcription.VADMinSpeechFrames,
		MinSilenceFrames:      cfg.Transcription.VADMinSilenceFrames,
		PreSpeechPadFrames:    cfg.Transcription.VADPreSpeechPadFrames,
		MaxSpeechDurationSecs: cfg.Transcription.MaxSpeechDurationSecs,
	}
	asrTimeout := time.Duration(cfg.Transcription.ASRTimeoutSecs) * time.Second
	engine := transcription.NewEngine(registry, cfg.Transcription.Backend, cfg.Transcription.VADModelPath, vadCfg, asrTimeout, logger)

	confRepo := conference.NewRepository(pool)

	// The RoomManager needs its EventSink and AudioProducerHook at
	// construction time, but both forward into the Service, which itself
	// needs the already-built RoomManager. svcHolder breaks the cycle: the
	// RoomManager only invokes these closures well after main() has set
	// svcHolder.svc.
	svcHolder := &serviceHolder{}
	rooms := media.NewRoomManager(workerPool, buildICEServers(cfg), svcHolder, svcHolder.onAudioProducer, logger)
	svc := conference.NewService(confRepo, rooms, engine, fanout, redisBridge, logger)
	svcHolder.svc = svc

	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	go svc.SubscribeTranscripts(bgCtx)
	if cfg.Media.SweepIntervalSecs > 0 {
		go svc.SweepIdleRooms(bgCtx,
			time.Duration(cfg.Media.SweepIntervalSecs)*time.Second,
			time.Duration(cfg.Media.IdleAfterSecs)*time.Second,
		)
	}

	handler := conference.NewHandler(svc)

	router := gin.New()
	router.Use(middleware.Logger(logger), gin.Recovery(), middleware.CORS(cfg.Server.CORSAllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/conferences", middleware.RequireRole("admin", "organizer"), handler.Create)
		api.GET("/conferences/:id", handler.Get)
		api.POST("/conferences/:id/start", middleware.RequireRole("admin", "organizer"), handler.Start)
		api.POST("/conferences/:id/join", handler.Join)
		api.POST("/conferences/:id/leave", handler.Leave)
		api.POST("/conferences/:id/end", middleware.RequireRole("admin", "organizer"), handler.End)
	}

	channels := noopChannelMembers{}
	router.GET("/ws", realtime.ServeWS(fanout, jwtValidator(jwtService), func(userID string, conn *realtime.Connection) interface {
		Dispatch(raw []byte)
		Close()
	} {
		return signaling.New(userID, rooms, fanout, channels, fanout.AllUserIDs, logger)
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// serviceHolder forwards media.EventSink / media.AudioProducerHook calls
// into the Service once it exists; see the comment above its construction.
type serviceHolder struct {
	svc *conference.Service
}

func (h *serviceHolder) NewProducer(confID, producerID, ownerUserID string, kind media.ProducerKind, excludeUserID string) {
	h.svc.NewProducer(confID, producerID, ownerUserID, kind, excludeUserID)
}

func (h *serviceHolder) PeerLeft(confID, userID string) {
	h.svc.PeerLeft(confID, userID)
}

func (h *serviceHolder) RoomClosed(confID string, survivorUserIDs []string) {
	h.svc.RoomClosed(confID, survivorUserIDs)
}

func (h *serviceHolder) onAudioProducer(confID, producerID, userID string, rtpCh <-chan []byte) {
	h.svc.OnAudioProducer(confID, producerID, userID, rtpCh)
}

// noopChannelMembers satisfies signaling.ChannelMembers until a real
// channel-membership service (an external collaborator per spec §4.3's
// typing-indicator notes) is wired in; typing indicators simply reach no
// one until then.
type noopChannelMembers struct{}

func (noopChannelMembers) MemberUserIDs(string) ([]string, error) { return nil, nil }

func buildICEServers(cfg *config.Config) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	if cfg.Turn.URL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.Turn.URL},
			Username:   cfg.Turn.Username,
			Credential: cfg.Turn.Password,
		})
	}
	return servers
}

func buildASRRegistry(cfg *config.Config, logger *zap.Logger) *asr.Registry {
	registry := asr.NewRegistry()
	registry.Register(whisperhttp.New(cfg.Transcription.WhisperEndpoint, ""))
	registry.Register(nim.New(cfg.Transcription.NimEndpoint))
	logger.Info("asr backends registered", zap.Strings("backends", registry.AvailableBackends()))
	return registry
}

func jwtValidator(jwtService *auth.JWTService) realtime.JWTValidate {
	return func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}
}
