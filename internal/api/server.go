package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/engine"
	"bybit-trading-bot/internal/journal"
	"bybit-trading-bot/internal/signals"
)

// BotControl starts and stops the trading loop. The main wiring implements
// it around the engine's run context.
type BotControl interface {
	Start() bool
	Stop() bool
	Running() bool
}

// Server exposes the bot's state over REST and websocket.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	hub        *WSHub
	eng        *engine.Engine
	processor  *signals.Processor
	journal    *journal.Journal
	control    BotControl
	logger     zerolog.Logger
}

func NewServer(eng *engine.Engine, processor *signals.Processor, jrnl *journal.Journal, hub *WSHub, control BotControl, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{
		router:    router,
		hub:       hub,
		eng:       eng,
		processor: processor,
		journal:   jrnl,
		control:   control,
		logger:    logger.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/stops", s.handleStops)
		api.GET("/signals/:symbol", s.handleSignals)
		api.GET("/modes", s.handleModes)
		api.GET("/orders", s.handleOrders)
		api.POST("/bot/start", s.handleBotStart)
		api.POST("/bot/stop", s.handleBotStop)
	}
	s.router.GET("/ws", s.handleWebSocket)
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	s.logger.Info().Int("port", port).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":   s.control.Running(),
		"mode":      s.eng.Mode().Mode,
		"interval":  s.eng.Mode().Interval,
		"pairs":     s.eng.Mode().Pairs,
		"positions": len(s.eng.Ledger().All()),
		"stops":     len(s.eng.Stops().Active()),
		"wsClients": s.hub.ClientCount(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.eng.Ledger().All()})
}

func (s *Server) handleStops(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stops": s.eng.Stops().Active()})
}

func (s *Server) handleSignals(c *gin.Context) {
	symbol := c.Param("symbol")
	interval := c.DefaultQuery("interval", s.eng.Mode().Interval)

	set, err := s.processor.GetSignals(symbol, interval)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, set)
}

func (s *Server) handleModes(c *gin.Context) {
	modes := make([]gin.H, 0)
	for _, m := range config.AvailableModes() {
		modes = append(modes, gin.H{
			"mode":            m.Mode,
			"name":            m.Name,
			"interval":        m.Interval,
			"minConfirmation": m.MinConfirmation,
			"riskLevel":       m.RiskLevel,
			"pairs":           m.Pairs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"modes": modes})
}

func (s *Server) handleOrders(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, gin.H{"orders": []journal.OrderRecord{}})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	orders, err := s.journal.RecentOrders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleBotStart(c *gin.Context) {
	if !s.control.Start() {
		c.JSON(http.StatusConflict, gin.H{"error": "bot already running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleBotStop(c *gin.Context) {
	if !s.control.Stop() {
		c.JSON(http.StatusConflict, gin.H{"error": "bot not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}
