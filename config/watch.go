package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"exchange-sim/infrastructure/logger"
)

// Watcher 监听配置文件变化，冷却期内的重复事件合并为一次重载。
type Watcher struct {
	Path     string
	Cooldown time.Duration
	Log      *logger.Logger
}

// Subscription 是已建立的目录监听，由 Run 消费事件。
type Subscription struct {
	w      Watcher
	fw     *fsnotify.Watcher
	target string
	log    *logger.Logger
}

// Watch 同步建立监听；返回后对配置文件的写入都会被 Run 观察到。
func (w Watcher) Watch() (*Subscription, error) {
	log := w.Log
	if log == nil {
		log = logger.Nop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	target := filepath.Clean(w.Path)
	// 监听目录以覆盖编辑器的 rename 写入
	if err := fw.Add(filepath.Dir(target)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}
	return &Subscription{w: w, fw: fw, target: target, log: log}, nil
}

// Close 释放监听，未调用 Run 时使用。
func (s *Subscription) Close() error { return s.fw.Close() }

// Run 阻塞直到 ctx 取消；每次成功重载后调用 onUpdate，加载失败只记录日志。
// 返回时关闭监听。
func (s *Subscription) Run(ctx context.Context, onUpdate func(AppConfig)) error {
	defer s.fw.Close()
	var lastReload time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastReload) < s.w.Cooldown {
				continue
			}
			cfg, err := Load(s.target)
			if err != nil {
				s.log.Warn("config reload rejected", zap.String("path", s.target), zap.Error(err))
				continue
			}
			lastReload = time.Now()
			s.log.Info("config reloaded", zap.String("path", s.target))
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case err, ok := <-s.fw.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("config watcher error", zap.Error(err))
		}
	}
}
