package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradeloop/internal/decision"
	"tradeloop/internal/gateway/exchange"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/circuit"
	"tradeloop/internal/research"
	"tradeloop/internal/risk"
	"tradeloop/internal/scheduler"
	"tradeloop/internal/store/ledger"
	"tradeloop/internal/store/trace"
)

var (
	ErrInFlight    = errors.New("cycle already in flight")
	ErrBreakerOpen = errors.New("research circuit open")
)

// Ledger 是调度器用到的账本读写子集。
type Ledger interface {
	GetLastRoundTime(ctx context.Context) (time.Time, bool, error)
	GetMonitoringTargets(ctx context.Context) ([]ledger.MonitoringTarget, error)
	GetOpenEntry(ctx context.Context, asset string) (*ledger.Round, error)
	GetAlertState(ctx context.Context, sym string) (*ledger.AlertState, error)
	SetAlertState(ctx context.Context, st ledger.AlertState) error
	NextRoundID(ctx context.Context) (int64, error)
	AppendRound(ctx context.Context, r *ledger.Round) error
	UpsertMonitoringTarget(ctx context.Context, t ledger.MonitoringTarget) error
	PruneRecent(ctx context.Context, keep int) (int64, error)
}

type Executor interface {
	Execute(ctx context.Context, plan decision.Plan) (risk.CycleResult, error)
}

type TraceRecorder interface {
	Save(ctx context.Context, run trace.Run, payload any) (trace.Run, error)
}

type Publisher interface {
	PublishAll(recs []risk.CloseRecord)
}

// Options 是研究请求与账本保留的静态参数。
type Options struct {
	Symbols     []string
	Capital     float64
	MinLeverage int
	MaxLeverage int
	Keep        int
}

type Deps struct {
	Ledger    Ledger
	Prices    exchange.MarkPricer
	Research  research.Source
	Executor  Executor
	Traces    TraceRecorder
	Publisher Publisher
	Breaker   *circuit.CircuitBreaker
}

// Report 是一次已触发周期的结果。
type Report struct {
	CycleID string           `json:"cycle_id"`
	Trigger Decision         `json:"trigger"`
	PlanID  string           `json:"plan_id"`
	RoundID int64            `json:"round_id"`
	Result  risk.CycleResult `json:"result"`
	Rounds  []ledger.Round   `json:"rounds"`
}

type Scheduler struct {
	deps Deps

	mu   sync.RWMutex
	th   Thresholds
	opts Options

	inFlight atomic.Bool
	nowFn    func() time.Time
}

func New(deps Deps, th Thresholds, opts Options) *Scheduler {
	if opts.Keep <= 0 {
		opts.Keep = ledger.DefaultKeep
	}
	return &Scheduler{deps: deps, th: th, opts: opts, nowFn: time.Now}
}

// SetThresholds 热更新冷却、接近阈值与超时，从下一个 tick 生效。
func (s *Scheduler) SetThresholds(th Thresholds) {
	s.mu.Lock()
	s.th = th
	s.mu.Unlock()
	logger.Infof("trigger: thresholds updated cooldown=%s max_age=%s proximity=%g", th.Cooldown, th.MaxCycleAge, th.Proximity)
}

func (s *Scheduler) SetOptions(opts Options) {
	if opts.Keep <= 0 {
		opts.Keep = ledger.DefaultKeep
	}
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

func (s *Scheduler) thresholds() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.th
}

func (s *Scheduler) options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// InFlight 供状态接口展示。
func (s *Scheduler) InFlight() bool { return s.inFlight.Load() }

// TryAcquire 占用周期标志位，让对账等账本写入方与周期互斥。
// 返回 false 表示已有周期（或另一方）在执行；成功时调用方负责 Release。
func (s *Scheduler) TryAcquire() bool { return s.inFlight.CompareAndSwap(false, true) }

// Release 释放 TryAcquire 占用的标志位。
func (s *Scheduler) Release() { s.inFlight.Store(false) }

// Run 按 tick 间隔循环，直到 ctx 结束。
func (s *Scheduler) Run(ctx context.Context) error {
	tick := s.thresholds().Tick
	if tick <= 0 {
		tick = time.Minute
	}
	loop := scheduler.NewAlignedScheduler("trigger", tick, 0)
	loop.RunImmediately = true
	return loop.Run(ctx, func(ctx context.Context) {
		if _, err := s.Tick(ctx); err != nil {
			logger.Errorf("trigger: tick failed: %v", err)
		}
	})
}

// Tick 评估一次；需要触发时同步执行整个周期。返回本次评估结论。
func (s *Scheduler) Tick(ctx context.Context) (Decision, error) {
	if s.inFlight.Load() {
		logger.Infof("trigger: cycle in flight, skip tick")
		return Decision{Reason: "in_flight"}, nil
	}
	d, err := s.evaluate(ctx)
	if err != nil {
		return d, err
	}
	if !d.Fire {
		logger.Debugf("trigger: no fire (%s)", d.Reason)
		return d, nil
	}
	_, err = s.Fire(ctx, d)
	if errors.Is(err, ErrInFlight) {
		return d, nil
	}
	return d, err
}

func (s *Scheduler) evaluate(ctx context.Context) (Decision, error) {
	th := s.thresholds()
	now := s.nowFn().UTC()
	last, has, err := s.deps.Ledger.GetLastRoundTime(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("read last round time: %w", err)
	}
	if d, done := evaluateTime(th, now, last, has); done {
		return d, nil
	}
	targets, err := s.deps.Ledger.GetMonitoringTargets(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("read monitoring targets: %w", err)
	}
	st := State{Now: now, LastRound: last, HasRound: has, Targets: targets,
		Prices: map[string]float64{}, Alerts: map[string]ledger.AlertState{}}
	for _, t := range targets {
		if !watchable(t) {
			continue
		}
		price, err := s.deps.Prices.GetMarkPrice(ctx, t.Symbol)
		if err != nil {
			logger.Warnf("trigger: mark price %s unavailable: %v", t.Symbol, err)
			continue
		}
		st.Prices[t.Symbol] = price
		alert, err := s.deps.Ledger.GetAlertState(ctx, t.Symbol)
		if err != nil {
			logger.Warnf("trigger: alert state %s: %v", t.Symbol, err)
		} else if alert != nil {
			st.Alerts[t.Symbol] = *alert
		}
	}
	return evaluatePrices(th, st), nil
}

func watchable(t ledger.MonitoringTarget) bool {
	switch t.Decision {
	case decision.KindLong, decision.KindShort:
		return t.StopLoss != nil || t.TakeProfit != nil
	case decision.KindWait:
		return len(t.MonitoringPrices) > 0
	}
	return false
}

// Fire 无视冷却直接执行一个周期；同一时刻最多一个周期在执行。
// 任何失败只影响本周期，标志位在所有路径上都会释放。
func (s *Scheduler) Fire(ctx context.Context, trig Decision) (rep *Report, err error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		logger.Infof("trigger: %s ignored, cycle already in flight", trig.Reason)
		return nil, ErrInFlight
	}
	defer s.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			logger.Errorf("trigger: %v", err)
		}
	}()

	rep = &Report{CycleID: trace.NewID(), Trigger: trig}
	log := logger.With("cycle", rep.CycleID, "reason", trig.Reason)
	log.Info("cycle fired", "symbol", trig.Symbol, "price", trig.Price)
	if trig.PriceTriggered() {
		defer s.recordAlert(ctx, trig)
	}

	if b := s.deps.Breaker; b != nil && !b.Allow() {
		log.Warn("research circuit open, cycle skipped")
		return rep, ErrBreakerOpen
	}
	opts := s.options()
	res, err := s.deps.Research.Fetch(ctx, research.Request{
		Symbols:     opts.Symbols,
		Capital:     opts.Capital,
		MinLeverage: opts.MinLeverage,
		MaxLeverage: opts.MaxLeverage,
		Reason:      trig.Reason,
		Symbol:      trig.Symbol,
	})
	if err != nil {
		s.researchFailed()
		return rep, fmt.Errorf("research: %w", err)
	}
	plan, err := decision.ParsePlan(res.PlanID, res.Text)
	if err != nil {
		s.researchFailed()
		return rep, err
	}
	if b := s.deps.Breaker; b != nil {
		b.RecordSuccess()
	}
	rep.PlanID = plan.ID

	result, err := s.deps.Executor.Execute(ctx, plan)
	rep.Result = result
	if err != nil {
		return rep, fmt.Errorf("execute plan %s: %w", plan.ID, err)
	}
	for _, line := range result.Execution {
		log.Info("execution", "line", line.String())
	}

	if err := s.persist(ctx, plan, rep, opts.Keep); err != nil {
		return rep, err
	}
	s.saveTrace(ctx, rep, res.Text)
	if s.deps.Publisher != nil {
		s.deps.Publisher.PublishAll(result.Closes)
	}
	log.Info("cycle done", "plan", plan.ID, "rounds", len(rep.Rounds),
		"adjustments", len(result.Adjustments), "warnings", len(result.Warnings))
	return rep, nil
}

func (s *Scheduler) researchFailed() {
	if b := s.deps.Breaker; b != nil {
		b.RecordFailure()
	}
}

// persist 在所有交易所调用之后写账本：逐资产追加、更新监控目标，最后裁剪。
func (s *Scheduler) persist(ctx context.Context, plan decision.Plan, rep *Report, keep int) error {
	roundID, err := s.deps.Ledger.NextRoundID(ctx)
	if err != nil {
		return err
	}
	rep.RoundID = roundID
	byAsset := make(map[string]decision.TradingDecision, len(plan.Decisions))
	for _, d := range rep.Result.Decisions {
		byAsset[d.Asset] = d
	}
	rounds := buildRounds(plan, rep.Result, roundID, s.nowFn().UTC(), rep.Trigger)
	var errs []error
	for i := range rounds {
		r := &rounds[i]
		if err := s.deps.Ledger.AppendRound(ctx, r); err != nil {
			errs = append(errs, err)
			continue
		}
		rep.Rounds = append(rep.Rounds, *r)
		d, ok := byAsset[r.Asset]
		if !ok {
			for _, p := range plan.Decisions {
				if p.Asset == r.Asset {
					d = p
				}
			}
		}
		target := buildTarget(*r, d)
		if r.Decision == decision.KindWait {
			// 账本仍有未平仓记录时继续盯它的止损/止盈
			open, err := s.deps.Ledger.GetOpenEntry(ctx, r.Asset)
			if err != nil {
				errs = append(errs, err)
			} else if open != nil {
				target = targetFromEntry(*open)
			}
		}
		if err := s.deps.Ledger.UpsertMonitoringTarget(ctx, target); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.deps.Ledger.PruneRecent(ctx, keep); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) saveTrace(ctx context.Context, rep *Report, planText string) {
	if s.deps.Traces == nil {
		return
	}
	payload := map[string]any{
		"trigger":   rep.Trigger,
		"plan_text": planText,
		"round_id":  rep.RoundID,
		"result":    rep.Result,
	}
	_, err := s.deps.Traces.Save(ctx, trace.Run{
		ID:     rep.CycleID,
		Reason: rep.Trigger.Reason,
		Symbol: rep.Trigger.Symbol,
		PlanID: rep.PlanID,
	}, payload)
	if err != nil {
		logger.Warnf("trigger: save trace %s failed: %v", rep.CycleID, err)
	}
}

// recordAlert 无论周期成败都会写入，避免同一价位在失败后反复触发。
func (s *Scheduler) recordAlert(ctx context.Context, trig Decision) {
	err := s.deps.Ledger.SetAlertState(ctx, ledger.AlertState{
		Symbol:        trig.Symbol,
		LastTriggerAt: s.nowFn().UTC(),
		LastReason:    trig.Reason,
		LastPrice:     trig.Price,
	})
	if err != nil {
		logger.Errorf("trigger: set alert state %s: %v", trig.Symbol, err)
	}
}
