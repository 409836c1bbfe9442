// Package http wires the gin router: the websocket signaling endpoint,
// the service/room REST surface and the static console.
package http

import (
	"context"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/adapters/ws"
	"github.com/telegate/teleop/internal/config"
	"github.com/telegate/teleop/internal/core"
)

// ClientTokenMiddleware tags each browser console with a stable client
// token kept in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("client_token").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("client_token", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save failed")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// AuthTokenMiddleware enforces the X-Auth-Token header (or query param) on
// the REST surface when a secret is configured.
func AuthTokenMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token := c.GetHeader("X-Auth-Token")
		if token == "" {
			token = c.Query("x-auth-token")
		}
		if !strings.EqualFold(strings.TrimSpace(token), secret) {
			c.AbortWithStatusJSON(401, gin.H{"code": 401, "message": "X-Auth-Token is invalid"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *ws.Hub, store core.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessionStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TeleopSession", sessionStore))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", ClientTokenMiddleware(), func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/ws/:service_id", func(c *gin.Context) {
		hub.HandleSignal(ctx, c)
	})

	api := &ServiceAPI{Store: store}
	v1 := r.Group("/v1", AuthTokenMiddleware(cfg.Secret))
	{
		v1.GET("/service", api.ListServices)
		v1.POST("/service", api.CreateService)
		v1.GET("/service/:service_id", api.GetService)
		v1.DELETE("/service/:service_id", api.DeleteService)
		v1.GET("/service/:service_id/rooms", api.ListRooms)
		v1.POST("/service/:service_id/rooms", api.CreateRoom)
		v1.GET("/service/:service_id/rooms/:room_id", api.GetRoom)
		v1.DELETE("/service/:service_id/rooms/:room_id", api.DeleteRoom)
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
