// 配置文件变更监听。
//
// 轮询文件的修改时间，变化稳定后触发回调。Reloader 在此基础上重新加载配置，
// 目前只有日志级别支持热更新，其余字段需要重启进程。
package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// --- 文件监听器 ---

// FileOp 文件变化类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 一次文件变化
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileWatcher polls a single file for changes.
type FileWatcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	callbacks []func(FileEvent)
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// WatcherOption 监听器选项
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔，默认 1s
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.interval = d }
}

// WithDebounceDelay 连续写入在该时间内合并为一次事件，默认 100ms
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounce = d }
}

func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) { w.logger = logger }
}

// NewFileWatcher 创建监听器，文件可以暂时不存在
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, errors.New("watch path is required")
	}
	w := &FileWatcher{
		path:     path,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.interval <= 0 {
		w.interval = time.Second
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"), zap.String("path", path))
	return w, nil
}

// OnChange registers a callback. Callbacks run on the polling goroutine.
func (w *FileWatcher) OnChange(cb func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start 开始轮询，直到 ctx 取消或调用 Stop
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	// 基线在 Start 返回前取得，之后的任何写入都会被发现
	go w.loop(ctx, w.stat(), w.done)
	return nil
}

// Stop 停止轮询并等待后台 goroutine 退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()
	<-done
}

// IsRunning reports whether the poll loop is active.
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

func (w *FileWatcher) stat() fileState {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

func (w *FileWatcher) loop(ctx context.Context, last fileState, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var (
		pending   *FileEvent
		pendingAt time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur := w.stat()
			if cur != last {
				op := FileOpWrite
				switch {
				case !last.exists && cur.exists:
					op = FileOpCreate
				case last.exists && !cur.exists:
					op = FileOpRemove
				}
				pending = &FileEvent{Path: w.path, Op: op, Timestamp: now}
				pendingAt = now
				last = cur
				if w.debounce > 0 {
					continue
				}
			}
			if pending != nil && now.Sub(pendingAt) >= w.debounce {
				w.dispatch(*pending)
				pending = nil
			}
		}
	}
}

func (w *FileWatcher) dispatch(ev FileEvent) {
	w.mu.Lock()
	cbs := append([]func(FileEvent){}, w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("config file changed", zap.String("op", ev.Op.String()))
	for _, cb := range cbs {
		cb(ev)
	}
}

// --- 配置重载 ---

// Reloader reloads the config file on change and applies the hot-reloadable fields.
type Reloader struct {
	loader  *Loader
	level   zap.AtomicLevel
	watcher *FileWatcher
	logger  *zap.Logger

	mu        sync.RWMutex
	current   *Config
	listeners []func(*Config)
}

// NewReloader 基于 loader 的配置路径创建重载器，level 与进程 logger 共享
func NewReloader(loader *Loader, current *Config, level zap.AtomicLevel, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := NewFileWatcher(loader.configPath, append([]WatcherOption{WithWatcherLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	r := &Reloader{
		loader:  loader,
		level:   level,
		watcher: w,
		logger:  logger.With(zap.String("component", "config_reloader")),
		current: current,
	}
	w.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove {
			return
		}
		r.Reload()
	})
	return r, nil
}

// OnReload 注册成功重载后的回调
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Current 返回最近一次成功加载的配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Reload 重新加载配置；失败时保留旧配置
func (r *Reloader) Reload() error {
	cfg, err := r.loader.Load()
	if err != nil {
		r.logger.Error("config reload failed, keeping previous config", zap.Error(err))
		return err
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err == nil && lvl != r.level.Level() {
		r.logger.Info("log level changed",
			zap.String("from", r.level.Level().String()),
			zap.String("to", lvl.String()))
		r.level.SetLevel(lvl)
	}

	r.mu.Lock()
	r.current = cfg
	listeners := append([]func(*Config){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Start 开始监听配置文件
func (r *Reloader) Start(ctx context.Context) error { return r.watcher.Start(ctx) }

// Stop 停止监听
func (r *Reloader) Stop() { r.watcher.Stop() }
