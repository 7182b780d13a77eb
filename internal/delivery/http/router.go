package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storybook-server/internal/delivery/http/middleware"
	"storybook-server/internal/delivery/websocket"
	"storybook-server/internal/domain"
	"storybook-server/internal/service"
)

// RouterConfig настройки роутера.
type RouterConfig struct {
	Debug          bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	EnableMetrics  bool // /metrics через go-gin-prometheus
}

// NewRouter собирает gin.Engine со всеми middleware и маршрутами.
// hub может быть nil, тогда /ws не регистрируется.
func NewRouter(cfg RouterConfig, h *Handler, hub *websocket.Manager, logger *zap.Logger) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.ZapLogger(logger))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	// до регистрации маршрутов, иначе они не попадут в метрики
	if cfg.EnableMetrics {
		httpMetrics().Use(router)
	}

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	h.RegisterRoutes(router)
	if hub != nil {
		router.GET("/ws", h.runUpdates(hub))
	}

	return router
}

var (
	metricsOnce sync.Once
	metrics     *ginprometheus.Prometheus
)

// httpMetrics возвращает общий для процесса набор HTTP метрик.
// Коллекторы регистрируются в prometheus.DefaultRegisterer один раз.
func httpMetrics() *ginprometheus.Prometheus {
	metricsOnce.Do(func() {
		metrics = ginprometheus.NewPrometheus("gin")
	})
	return metrics
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", middleware.RequestIDHeader}
	c.ExposeHeaders = []string{middleware.RequestIDHeader}
	c.MaxAge = 12 * time.Hour
	return c
}

// runUpdates подписывает WebSocket-клиента на обновления запуска ?run_id=.
// Первым сообщением клиент получает текущий снимок.
func (h *Handler) runUpdates(hub *websocket.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID, err := uuid.Parse(c.Query("run_id"))
		if err != nil {
			h.handleServiceError(c, domain.NewValidationError("parse run_id", err))
			return
		}
		snap, err := h.runs.Snapshot(c.Request.Context(), runID)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}

		topic := service.RunTopic(runID)
		initial := &websocket.Message{Type: service.RunUpdateMessage, Topic: topic, Payload: snap}
		if err := hub.Serve(c.Writer, c.Request, []string{topic}, initial); err != nil {
			// Upgrader уже ответил клиенту
			h.logger.Warn("WebSocket upgrade failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}
}
