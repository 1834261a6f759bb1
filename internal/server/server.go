package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"livepoll-backend/internal/auth"
	"livepoll-backend/internal/cache"
	"livepoll-backend/internal/config"
	"livepoll-backend/internal/handler"
	"livepoll-backend/internal/middleware"
	"livepoll-backend/internal/presence"
	"livepoll-backend/internal/service"
	"livepoll-backend/internal/worker"
)

// Server Fiber 서버 래퍼
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	db         *gorm.DB
	jwtManager *auth.JWTManager

	registry *service.Registry
	polls    *service.PollEngine
	hub      *presence.Hub
	redis    *cache.RedisClient // nil이면 단일 인스턴스 모드
	relay    *presence.Relay
	runner   *worker.Runner

	authHandler    *handler.AuthHandler
	roomHandler    *handler.RoomHandler
	pollHandler    *handler.PollHandler
	roomWSHandler  *handler.RoomWSHandler
	healthHandler  *handler.HealthHandler
	roomMiddleware *middleware.RoomMiddleware

	cancel context.CancelFunc
}

// New 새 서버 인스턴스 생성 (clk가 nil이면 실시간 시계)
func New(cfg *config.Config, db *gorm.DB, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}

	app := fiber.New(fiber.Config{
		AppName:       "Live Poll Backend",
		ServerHeader:  "Fiber",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		Prefork:       false, // WebSocket과 호환성 문제로 비활성화
		BodyLimit:     1 * 1024 * 1024,
	})

	// Auth 초기화
	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.Issuer,
	)

	// 도메인 서비스
	registry := service.NewRegistry(db, clk)
	rooms := service.NewRoomService(db)
	polls := service.NewPollEngine(db, clk, registry)
	polls.SetTimeLimits(cfg.Poll.DefaultTimeLimitMinutes, cfg.Poll.MaxTimeLimitMinutes)
	members := service.NewMemberService(db)
	reaper := worker.NewReaper(db, clk)

	// Presence Hub가 모든 브로드캐스트를 받음
	hub := presence.NewHub(registry, rooms, cfg.Server.InstanceID, cfg.WebSocket.WriteTimeout)
	registry.SetNotifier(hub)
	rooms.SetNotifier(hub)
	polls.SetNotifier(hub)
	reaper.SetNotifier(hub)

	// Redis 초기화 (선택적)
	var (
		redisClient *cache.RedisClient
		relay       *presence.Relay
	)
	if cfg.Redis.Enabled() {
		var err error
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ResultTTL)
		if err != nil {
			log.Printf("⚠️ Redis initialization failed: %v (results cache and relay disabled)", err)
			redisClient = nil
		} else {
			log.Printf("✅ Redis connected (%s)", cfg.Redis.Addr)
			polls.SetCache(redisClient)
			relay = presence.NewRelay(redisClient.Client(), cfg.Redis.EventTopic, cfg.Server.InstanceID)
			hub.UseRelay(relay)
		}
	} else {
		log.Println("ℹ️ Redis not configured (single instance mode)")
	}

	var healthRedis handler.HealthChecker
	if redisClient != nil {
		healthRedis = redisClient
	}

	runner := worker.NewRunner(clk,
		worker.RoomReaperJob(reaper, cfg.Worker.ReaperInterval),
		worker.PollSweepJob(polls.SweepExpired, cfg.Worker.PollSweepInterval),
	)

	return &Server{
		app:            app,
		cfg:            cfg,
		db:             db,
		jwtManager:     jwtManager,
		registry:       registry,
		polls:          polls,
		hub:            hub,
		redis:          redisClient,
		relay:          relay,
		runner:         runner,
		authHandler:    handler.NewAuthHandler(jwtManager, cfg.Auth.SecureCookie),
		roomHandler:    handler.NewRoomHandler(rooms, registry, members),
		pollHandler:    handler.NewPollHandler(polls, registry),
		roomWSHandler:  handler.NewRoomWSHandler(hub, jwtManager),
		healthHandler:  handler.NewHealthHandler(db, healthRedis),
		roomMiddleware: middleware.NewRoomMiddleware(members),
	}
}

// App 내부 fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.cfg.Server.StackTrace,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "UTC",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))
}

// newLimiter 요청 빈도 제한 (인증된 사용자는 사용자 단위, 아니면 IP 단위)
func newLimiter(limit int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID, ok := c.Locals("userID").(string); ok && userID != "" {
				return "user:" + userID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	authMiddleware := auth.AuthMiddleware(s.jwtManager)
	guestLimiter := newLimiter(10, time.Minute)
	joinLimiter := newLimiter(20, time.Minute)
	answerLimiter := newLimiter(60, time.Minute)

	// Auth 라우트 그룹
	authGroup := s.app.Group("/api/auth")
	authGroup.Post("/guest", guestLimiter, s.authHandler.GuestToken)
	authGroup.Post("/logout", authMiddleware, s.authHandler.Logout)
	authGroup.Get("/me", authMiddleware, s.authHandler.GetMe)

	// Room 라우트 그룹 (인증 필요)
	roomGroup := s.app.Group("/api/rooms", authMiddleware)
	roomGroup.Post("", s.roomHandler.CreateRoom)
	roomGroup.Get("/code/:code", s.roomHandler.GetRoomByCode)
	roomGroup.Get("/:roomId", s.roomHandler.GetRoom)
	roomGroup.Post("/:roomId/start", s.roomHandler.StartRoom)
	roomGroup.Post("/:roomId/end", s.roomHandler.EndRoom)
	roomGroup.Post("/:roomId/join", joinLimiter, s.roomHandler.JoinRoom)
	roomGroup.Get("/:roomId/participants", s.roomMiddleware.RequireMembership(), s.roomHandler.ListParticipants)

	// Poll 라우트 (방 하위)
	roomGroup.Post("/:roomId/polls", s.roomMiddleware.RequireHost(), s.pollHandler.CreatePoll)
	roomGroup.Get("/:roomId/polls", s.roomMiddleware.RequireMembership(), s.pollHandler.ListPolls)
	roomGroup.Get("/:roomId/polls/:pollId", s.roomMiddleware.RequireMembership(), s.pollHandler.GetPoll)
	roomGroup.Delete("/:roomId/polls/:pollId", s.roomMiddleware.RequireHost(), s.pollHandler.DeletePoll)
	roomGroup.Post("/:roomId/polls/:pollId/answer", answerLimiter, s.pollHandler.SubmitAnswer)
	roomGroup.Post("/:roomId/polls/:pollId/skip", answerLimiter, s.pollHandler.SkipAnswer)
	roomGroup.Get("/:roomId/polls/:pollId/answer", s.roomMiddleware.RequireMembership(), s.pollHandler.GetMyAnswer)

	// WebSocket presence 엔드포인트
	s.app.Get("/ws/rooms/:roomId", s.roomWSHandler.Upgrade, websocket.New(s.roomWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// StartBackground 재시작 정리, Redis 중계, 주기 작업 시작
func (s *Server) StartBackground(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	// 이전 프로세스가 남긴 연결 정리 (퇴장 처리 + hostLeftAt 기록)
	if n, err := s.registry.PurgeConnections(ctx, s.cfg.Server.InstanceID); err != nil {
		log.Printf("⚠️ Stale connection purge failed: %v", err)
	} else if n > 0 {
		log.Printf("🧹 Purged %d stale connections from previous run", n)
	}

	if s.relay != nil {
		if err := s.relay.Start(ctx, s.hub.DeliverLocal); err != nil {
			log.Printf("⚠️ Redis relay disabled: %v", err)
			s.hub.UseRelay(nil)
		}
	}

	s.runner.Start(ctx)
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	s.StartBackground(context.Background())

	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Live Poll Backend starting on %s (instance=%s)", s.cfg.Server.Port, s.cfg.Server.InstanceID)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/rooms/:roomId", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료 (HTTP -> 주기 작업 -> Redis 순)
func (s *Server) Shutdown() error {
	err := s.app.ShutdownWithTimeout(30 * time.Second)

	if s.cancel != nil {
		s.cancel()
		s.runner.Wait()
	}
	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil {
			log.Printf("⚠️ Redis close failed: %v", cerr)
		}
	}
	return err
}
