package httpserver

import (
	"net/http"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/config"
	"github.com/TungSeven30/henrii-sub000/internal/handlers"
	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const requestTimeout = 30 * time.Second

type Handlers struct {
	Events    *handlers.EventHandler
	Mutations *handlers.MutationHandler
	Conflicts *handlers.ConflictHandler
}

func NewRouter(cfg config.ServerConfig, log *logging.Logger, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Timeout(requestTimeout))
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-User-ID", "X-Baby-ID"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.Auth(cfg)
	v1 := r.Group("/api/v1")
	v1.Use(auth)
	{
		v1.POST("/events", h.Events.Log)
		v1.GET("/events", h.Events.List)
		v1.POST("/mutations", h.Mutations.Apply)
		v1.GET("/conflicts", h.Conflicts.List)
	}

	forms := r.Group("/")
	forms.Use(auth)
	{
		forms.POST("/conflicts/resolve", h.Conflicts.ResolveEvent)
		forms.POST("/mutation-conflicts/resolve", h.Conflicts.ResolveMutation)
	}
	return r
}
