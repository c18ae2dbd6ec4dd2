package server

import (
	"net/http"
	"sync"
	"time"

	"sketchbook/internal/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg      config.Config
	store    Storage
	dir      *Directory
	gateway  *Gateway
	coord    *Coordinator
	upgrader websocket.Upgrader

	mu       sync.Mutex
	live     map[*Session]struct{}
	closing  bool
	sessions sync.WaitGroup
}

// New wires the room directory, gateway and coordinator over store. A nil
// store falls back to the in-memory implementation.
func New(store Storage, pipeline Pipeline, cfg config.Config) *Server {
	if store == nil {
		store = NewMemoryStore()
	}
	if pipeline == nil {
		pipeline = NewLocalPipeline(IdentityTranslator{}, PlaceholderGenerator{}, cfg.GenerationTimeout, cfg.GenerationRetries, cfg.GenerationRetryDelay)
	}
	dir := NewDirectory(store, cfg.MaxSeatsPerRoom)
	gateway := NewGateway()
	s := &Server{
		cfg:     cfg,
		store:   store,
		dir:     dir,
		gateway: gateway,
		coord:   NewCoordinator(dir, store, gateway, pipeline, cfg.RenderConcurrency),
		live:    make(map[*Session]struct{}),
	}
	s.upgrader = s.newUpgrader()
	return s
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	if len(s.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", s.handleHealth)
	api := router.Group("/api")
	api.POST("/rooms", s.handleCreateRoom)
	api.GET("/rooms/:id", s.handleGetRoom)
	api.GET("/rooms/:id/results/:playerId", s.handleResults)
	router.GET("/ws/rooms/:id", s.handleWebsocket)
	return router
}

// Close closes every open session with a normal closure, waits for their
// teardown and then stops in-flight renders. Sessions upgraded after Close
// are closed immediately.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	open := make([]*Session, 0, len(s.live))
	for session := range s.live {
		open = append(open, session)
	}
	s.mu.Unlock()

	for _, session := range open {
		session.Close()
	}
	s.sessions.Wait()
	s.coord.Close()
}

// track registers a session for Close. It reports false once the server is
// closing; the caller must not run the session then.
func (s *Server) track(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[session] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	delete(s.live, session)
	s.mu.Unlock()
	s.sessions.Done()
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("http request")
	}
}
