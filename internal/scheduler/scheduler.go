// Package scheduler runs periodic tasks on wall-clock aligned boundaries.
package scheduler

import (
	"context"
	"time"

	"tradeloop/internal/logger"
)

// AlignedScheduler 在 Interval 的整数倍时刻（再加 Offset）执行任务。
// 任务同步执行；任务耗时超过一个周期时，错过的时刻不会补跑。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{Name: name, Interval: interval, Offset: offset, nowFn: time.Now}
}

// Run 阻塞到 ctx 结束。task 内的 panic 会被恢复并记日志，循环继续。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil || s.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid task or interval=%s, exit", s.Name, s.Interval)
		return nil
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("scheduler %s: started interval=%s offset=%s run_immediately=%v",
		s.Name, s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		s.runSafe(ctx, task)
	}
	for {
		wakeAt, wait := s.nextWake(s.nowFn())
		logger.Debugf("scheduler %s: next run at %s (in %s)", s.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("scheduler %s: ctx done, exit", s.Name)
			return ctx.Err()
		case <-timer.C:
		}
		s.runSafe(ctx, task)
	}
}

func (s *AlignedScheduler) runSafe(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("scheduler %s: task panic: %v", s.Name, r)
		}
	}()
	task(ctx)
}

func (s *AlignedScheduler) nextWake(now time.Time) (time.Time, time.Duration) {
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Offset)
	if !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
