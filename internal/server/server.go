package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/chatrelay/internal/config"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/relay"
)

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	coordinator *relay.Coordinator
	events      domain.EventRepository
	messages    domain.MessageRepository
	limits      *ConnectionLimits
	upgrader    websocket.Upgrader
	pool        *pgxpool.Pool
	redisClient *goredis.Client
	startTime   time.Time

	// test seams for health checks
	postgresHealthCheck postgresHealthChecker
	redisHealthCheck    redisHealthChecker
}

func NewServer(cfg *config.Config, coordinator *relay.Coordinator, events domain.EventRepository, messages domain.MessageRepository, pool *pgxpool.Pool, redisClient *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		coordinator: coordinator,
		events:      events,
		messages:    messages,
		limits:      NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		pool:        pool,
		redisClient: redisClient,
		startTime:   time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
