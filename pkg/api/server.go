// Package api provides the HTTP surface of the decision engine: the
// inbound feedback/creative webhooks and the query endpoints, plus a
// health check.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/adengine/pkg/database"
	"github.com/codeready-toolchain/adengine/pkg/services"
	"github.com/codeready-toolchain/adengine/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	dbClient *database.Client

	feedback *services.FeedbackService
	winners  *services.WinnerService
	query    *services.QueryService
}

// NewServer wires the application services behind gin routes. dbClient
// is used only for the health check; a nil dbClient skips the database
// check (used by tests that don't stand up Postgres).
func NewServer(dbClient *database.Client, feedback *services.FeedbackService, winners *services.WinnerService, query *services.QueryService) *Server {
	if feedback == nil || winners == nil || query == nil {
		panic("NewServer: feedback, winners, and query services are required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(securityHeaders())

	s := &Server{
		engine:   engine,
		dbClient: dbClient,
		feedback: feedback,
		winners:  winners,
		query:    query,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/feedback/stage-change", s.stageChangeHandler)
	v1.POST("/feedback/metric-update", s.metricUpdateHandler)
	v1.POST("/creative/register-winner", s.registerWinnerHandler)

	v1.GET("/recommendations", s.recommendationsHandler)
	v1.GET("/changes", s.changesHandler)
	v1.GET("/winners/similar", s.similarWinnersHandler)

	v1.POST("/scheduler/trigger", s.triggerCycleHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Engine exposes the underlying gin engine, used by tests that issue
// requests directly via httptest without binding a real listener.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) healthHandler(c *gin.Context) {
	resp := HealthResponse{Status: "healthy", Version: version.Full()}

	if s.dbClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := s.dbClient.Health(reqCtx)
		if err != nil {
			resp.Status = "unhealthy"
			resp.Database = &DatabaseHealth{Status: "unreachable", Error: err.Error()}
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = &DatabaseHealth{Status: dbHealth.Status}
	}

	c.JSON(http.StatusOK, resp)
}
