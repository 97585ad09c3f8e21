package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"tradeloop/internal/logger"
)

// Watch 监听主配置文件，变更后重新 Load 并回调；解析失败时保留旧配置。
// 阻塞直到 ctx 结束。
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if onChange == nil {
		return fmt.Errorf("config watch requires a callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config watch read failed (%s): %w", abs, err)
	}
	var mu sync.Mutex
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		cfg, err := Load(abs)
		if err != nil {
			logger.Warnf("config reload rejected (%s): %v", e.Name, err)
			return
		}
		logger.Infof("config reloaded from %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	<-ctx.Done()
	return nil
}
