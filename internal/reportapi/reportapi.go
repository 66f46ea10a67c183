// Package reportapi serves a small opt-in HTTP surface over recent
// sorter runs, grounded on api/main.go's gin.Default/route-group
// wiring and api/middleware/middleware.go's CORS/error-handling
// middleware, repointed at runlog's run history instead of the
// teacher's user/mailbox/message REST resources.
package reportapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geoffreyhinton/mdsort/internal/mlog"
	"github.com/geoffreyhinton/mdsort/internal/runlog"
)

// Server exposes run history over HTTP.
type Server struct {
	router *gin.Engine
}

// New builds a Server reading from recorder, logging via log.
func New(recorder *runlog.Recorder, log mlog.Logger) *Server {
	router := gin.New()
	router.Use(corsMiddleware(), errorHandling(log), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	runs := router.Group("/runs")
	{
		runs.GET("", func(c *gin.Context) {
			n := int64(20)
			list, err := recorder.Recent(n)
			if err != nil {
				c.Error(err)
				return
			}
			c.JSON(http.StatusOK, list)
		})
	}

	return &Server{router: router}
}

// ListenAndServe blocks serving the report API on addr.
func (s *Server) ListenAndServe(addr string) error {
	return s.router.Run(addr)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func errorHandling(log mlog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			log.Error("reportapi: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}
