// Package report exposes a read-only HTTP view over the operation store:
// operations with their legs, anomalies, and decision traffic. Nothing
// here mutates state; lifecycle control stays with the engine.
package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tandem/internal/logger"
	"tandem/internal/store/model"
)

// Store is the slice of the persistence layer the report API reads from.
// Implemented by gormstore.Store.
type Store interface {
	ListOperations(ctx context.Context, instrument string, limit int) ([]*model.OperationModel, error)
	GetOperation(ctx context.Context, id int64) (*model.OperationModel, []*model.LegModel, error)
	Legs(ctx context.Context, operationID int64) ([]*model.LegModel, error)
	ListAnomalies(ctx context.Context, instrument string, limit int) ([]*model.AnomalyModel, error)
	ListDecisionLogs(ctx context.Context, instrument string, limit int) ([]*model.DecisionLogModel, error)
}

const defaultListLimit = 100

// Server serves the report API on one address.
type Server struct {
	addr   string
	router *gin.Engine
}

func NewServer(addr string, store Store) (*Server, error) {
	if store == nil {
		return nil, errors.New("report: store is required")
	}
	if addr == "" {
		addr = ":9981"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handler{store: store}
	api := router.Group("/api/report")
	api.GET("/operations", h.listOperations)
	api.GET("/operations/:id", h.getOperation)
	api.GET("/anomalies", h.listAnomalies)
	api.GET("/decisions", h.listDecisions)

	return &Server{addr: addr, router: router}, nil
}

func (s *Server) Addr() string { return s.addr }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then drains with a short timeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("report: listening on %s", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type handler struct {
	store Store
}

type operationView struct {
	*model.OperationModel
	Legs []*model.LegModel `json:"legs"`
}

func (h *handler) listOperations(c *gin.Context) {
	instrument := c.Query("instrument")
	limit := queryLimit(c)
	ops, err := h.store.ListOperations(c.Request.Context(), instrument, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops, "count": len(ops)})
}

func (h *handler) getOperation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad operation id"})
		return
	}
	op, legs, err := h.store.GetOperation(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, operationView{OperationModel: op, Legs: legs})
}

func (h *handler) listAnomalies(c *gin.Context) {
	recs, err := h.store.ListAnomalies(c.Request.Context(), c.Query("instrument"), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": recs, "count": len(recs)})
}

func (h *handler) listDecisions(c *gin.Context) {
	recs, err := h.store.ListDecisionLogs(c.Request.Context(), c.Query("instrument"), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs, "count": len(recs)})
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start).Truncate(time.Millisecond))
	}
}
