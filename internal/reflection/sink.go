// Package reflection hands completed closes to the post-trade review channel.
package reflection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/logger"
	"tradeloop/internal/risk"
)

type Sink interface {
	Publish(ctx context.Context, rec risk.CloseRecord) error
}

// LogSink 在未配置 Telegram 时把平仓记录写入日志。
type LogSink struct{}

func (LogSink) Publish(_ context.Context, rec risk.CloseRecord) error {
	logger.Infof("[reflection] %s", Summary(rec))
	return nil
}

// NotifierSink 把平仓渲染成结构化消息推送出去。
type NotifierSink struct {
	n notifier.TextNotifier
}

func NewNotifierSink(n notifier.TextNotifier) *NotifierSink {
	return &NotifierSink{n: n}
}

func (s *NotifierSink) Publish(ctx context.Context, rec risk.CloseRecord) error {
	return s.n.SendText(ctx, Render(rec).Markdown())
}

// Summary 单行描述，用于日志与账本备注。
func Summary(rec risk.CloseRecord) string {
	pnl := "n/a"
	if rec.PnL != nil {
		pnl = fmt.Sprintf("%+.2f%%", *rec.PnL*100)
	}
	return fmt.Sprintf("%s %s closed entry=%g exit=%g lev=%dx pnl=%s (%s)",
		rec.Symbol, rec.Side, rec.EntryPrice, rec.ExitPrice, rec.Leverage, pnl, rec.Notes)
}

func Render(rec risk.CloseRecord) notifier.Message {
	icon := "📕"
	if rec.PnL != nil && *rec.PnL > 0 {
		icon = "📗"
	}
	prices := []string{
		fmt.Sprintf("entry %g", rec.EntryPrice),
		fmt.Sprintf("exit %g", rec.ExitPrice),
	}
	if rec.StopLoss != nil {
		prices = append(prices, fmt.Sprintf("stop %g", *rec.StopLoss))
	}
	if rec.TakeProfit != nil {
		prices = append(prices, fmt.Sprintf("target %g", *rec.TakeProfit))
	}
	timing := []string{}
	if !rec.EntryTime.IsZero() {
		timing = append(timing, "opened "+rec.EntryTime.UTC().Format(time.RFC3339))
		timing = append(timing, "held "+rec.ExitTime.Sub(rec.EntryTime).Round(time.Minute).String())
	}
	footer := "pnl n/a"
	if rec.PnL != nil {
		footer = fmt.Sprintf("pnl %+.2f%% (x%d = %+.2f%%)", *rec.PnL*100, rec.Leverage, *rec.PnL*100*float64(max(rec.Leverage, 1)))
	}
	return notifier.Message{
		Icon:      icon,
		Title:     strings.TrimSpace(fmt.Sprintf("%s %s closed", rec.Symbol, rec.Side)),
		Sections:  []notifier.Section{{Title: "价格", Lines: prices}, {Title: "时间", Lines: timing}, {Title: "备注", Lines: []string{rec.Notes}}},
		Footer:    footer,
		Timestamp: rec.ExitTime,
	}
}

// Async 在后台发布，失败只记日志；调用方不等待结果。
type Async struct {
	sink    Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(sink Sink, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{sink: sink, timeout: timeout}
}

func (a *Async) PublishAll(recs []risk.CloseRecord) {
	if a == nil || a.sink == nil || len(recs) == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[reflection] publish panic: %v", r)
			}
		}()
		for _, rec := range recs {
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			if err := a.sink.Publish(ctx, rec); err != nil {
				logger.Warnf("[reflection] publish %s failed: %v", rec.Symbol, err)
			}
			cancel()
		}
	}()
}

// Wait 等待已发出的推送结束，供一次性命令退出前调用。
func (a *Async) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}
