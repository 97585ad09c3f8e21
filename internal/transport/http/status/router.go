package statushttp

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/pkg/symbol"
	"tradeloop/internal/store/ledger"
	"tradeloop/internal/store/trace"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type LedgerReader interface {
	GetRecentRounds(ctx context.Context, limit int) ([]ledger.Round, error)
	GetMonitoringTargets(ctx context.Context) ([]ledger.MonitoringTarget, error)
	GetAlertState(ctx context.Context, sym string) (*ledger.AlertState, error)
}

type TraceReader interface {
	Latest(ctx context.Context) (*trace.Run, error)
}

// LoopState 是调度器对外可见的运行状态。
type LoopState interface {
	InFlight() bool
}

type Router struct {
	ledger LedgerReader
	traces TraceReader
	loop   LoopState
}

func NewRouter(l LedgerReader, t TraceReader, loop LoopState) *Router {
	return &Router{ledger: l, traces: t, loop: loop}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/rounds", r.handleRounds)
	group.GET("/targets", r.handleTargets)
	group.GET("/alerts/:symbol", r.handleAlert)
	group.GET("/traces/latest", r.handleLatestTrace)
}

func (r *Router) handleStatus(c *gin.Context) {
	inFlight := false
	if r.loop != nil {
		inFlight = r.loop.InFlight()
	}
	c.JSON(http.StatusOK, gin.H{"in_flight": inFlight})
}

func (r *Router) handleRounds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	rounds, err := r.ledger.GetRecentRounds(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds, "limit": limit})
}

func (r *Router) handleTargets(c *gin.Context) {
	targets, err := r.ledger.GetMonitoringTargets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"targets": targets})
}

func (r *Router) handleAlert(c *gin.Context) {
	sym := symbol.Normalize(c.Param("symbol"))
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 无效"})
		return
	}
	st, err := r.ledger.GetAlertState(c.Request.Context(), sym)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no alert recorded", "symbol": sym})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleLatestTrace(c *gin.Context) {
	if r.traces == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trace store 未启用"})
		return
	}
	run, err := r.traces.Latest(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trace yet"})
		return
	}
	c.JSON(http.StatusOK, run)
}
