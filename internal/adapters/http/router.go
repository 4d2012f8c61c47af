package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studycall/internal/adapters/signal"
	"github.com/dkeye/studycall/internal/app/orch"
	"github.com/dkeye/studycall/internal/config"
	"github.com/dkeye/studycall/internal/core"
)

const tokenKey = "ct"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable session token, kept in
// the signed session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(tokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(tokenKey, token)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.ViewController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("StudycallSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/view", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.Engine.View())
	})

	api.POST("/toggle/:intent", func(c *gin.Context) {
		in, err := orch.ParseIntent(c.Param("intent"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sid := core.SessionID(c.GetString("client_token"))
		if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		if !ctl.Engine.Toggle(in) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine_stopped"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"intent": in})
	})

	api.GET("/ws/view", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws view endpoint hit")
		ctl.HandleView(ctx, c)
	})

	return r
}

// ErrNoSecret is returned by CheckSecret for an empty cookie secret.
var ErrNoSecret = errors.New("session secret too short")

// CheckSecret reports whether cfg carries a usable cookie signing key.
func CheckSecret(cfg *config.Config) error {
	if len(cfg.Secret) < 16 {
		return ErrNoSecret
	}
	return nil
}
