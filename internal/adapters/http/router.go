package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/adapters/signal"
	"github.com/dkeye/MusicRoom/internal/app/orch"
	"github.com/dkeye/MusicRoom/internal/auth"
	"github.com/dkeye/MusicRoom/internal/config"
	"github.com/dkeye/MusicRoom/internal/domain"
)

const guestKey = "guest"

// Deps are the collaborators of the router.
type Deps struct {
	Orch     *orch.Orchestrator
	Signal   *signal.SignalWSController
	Verifier *auth.Verifier
	Limiter  *signal.ActionRateLimiter
	Gatherer prometheus.Gatherer
	Health   func(context.Context) error
}

// IdentityMiddleware resolves the user of a request. With a verifier the
// user comes from a bearer token (header or ?token=), otherwise from a guest
// ID kept in the cookie session so every tab of a browser is one user.
func IdentityMiddleware(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v.Enabled() {
			raw := c.Query("token")
			if raw == "" {
				raw, _ = auth.BearerToken(c.GetHeader("Authorization"))
			}
			user, err := v.Verify(raw)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("identity rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.Set(auth.UserKey, string(user))
			c.Next()
			return
		}

		sess := sessions.Default(c)
		id, _ := sess.Get(guestKey).(string)
		if id == "" {
			id = uuid.NewString()
			sess.Set(guestKey, id)
			if err := sess.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save guest session")
			}
		}
		c.Set(auth.UserKey, id)
		c.Next()
	}
}

// NewSignalController builds the websocket controller from config.
func NewSignalController(cfg *config.Config, o *orch.Orchestrator, limiter *signal.ActionRateLimiter) *signal.SignalWSController {
	return signal.NewSignalWSController(o, limiter, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	})
}

// SetupRouter serves websocket connections for as long as ctx lives.
func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("MusicRoomSession", store))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", healthz(deps.Health))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Bool("jwt", deps.Verifier.Enabled()).Msg("router setup")

	api := r.Group("/api")

	ctrl := deps.Signal
	if ctrl == nil {
		ctrl = NewSignalController(cfg, deps.Orch, deps.Limiter)
	}
	api.GET("/ws", IdentityMiddleware(deps.Verifier), func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("user", c.GetString(auth.UserKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	rooms := roomHandlers{orch: deps.Orch}
	api.GET("/rooms", rooms.list)
	api.GET("/rooms/:id", rooms.get)

	return r
}

func healthz(check func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type roomHandlers struct {
	orch *orch.Orchestrator
}

func (h roomHandlers) list(c *gin.Context) {
	rooms, err := h.orch.ListRooms(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	if rooms == nil {
		rooms = []domain.RoomSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h roomHandlers) get(c *gin.Context) {
	details, err := h.orch.RoomDetails(c.Request.Context(), domain.RoomID(c.Param("id")))
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("room details")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, details)
}
