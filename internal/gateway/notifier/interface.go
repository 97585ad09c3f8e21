// Package notifier delivers operator-facing text messages.
package notifier

import "context"

// TextNotifier 只暴露发送文本，调用方不依赖具体通道。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
