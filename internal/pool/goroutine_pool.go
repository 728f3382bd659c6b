// Package pool runs background tasks on a bounded set of goroutines.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Config 协程池配置
type Config struct {
	// Workers 同时运行的任务上限
	Workers int `yaml:"workers" json:"workers"`
	// QueueSize 等待中的任务上限，满时 Submit 返回 ErrPoolFull；非正数使用默认值
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// IdleTimeout 空闲 worker 的退出时间，至少保留一个
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig 4 个 worker，队列 64
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 64, IdleTimeout: time.Minute}
}

// Pool 按需启动 worker，最多 Workers 个
type Pool struct {
	cfg    Config
	logger *zap.Logger

	// mu 保护 queue 的关闭，Submit 持读锁发送
	mu     sync.RWMutex
	queue  chan job
	closed bool
	wg     sync.WaitGroup

	workers atomic.Int32
	active  atomic.Int32

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panicked  atomic.Int64
}

type job struct {
	ctx  context.Context
	name string
	task Task
}

// New creates a pool. Non-positive fields fall back to DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Pool {
	d := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = d.IdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "pool")),
		queue:  make(chan job, cfg.QueueSize),
	}
}

// Submit enqueues task without blocking. ctx is handed to the task unchanged, so
// callers that outlive a request should pass a detached context.
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	j := job{ctx: ctx, name: name, task: task}
	p.spawn()
	select {
	case p.queue <- j:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// spawn 在未达到上限时启动一个 worker
func (p *Pool) spawn() {
	for {
		n := p.workers.Load()
		if n >= int32(p.cfg.Workers) || int(n) > len(p.queue)+int(p.active.Load()) {
			return
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				p.workers.Add(-1)
				return
			}
			p.active.Add(1)
			err := p.run(j)
			p.active.Add(-1)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.IdleTimeout)

		case <-idle.C:
			if p.retire() {
				return
			}
			idle.Reset(p.cfg.IdleTimeout)
		}
	}
}

// retire 空闲退出，始终保留最后一个 worker 以免排队任务无人处理
func (p *Pool) retire() bool {
	for {
		n := p.workers.Load()
		if n <= 1 {
			return false
		}
		if p.workers.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (p *Pool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("task panicked", zap.String("task", j.name), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
		}
	}()
	if err := j.task(j.ctx); err != nil {
		p.logger.Warn("task failed", zap.String("task", j.name), zap.Error(err))
		return err
	}
	return nil
}

// Close stops accepting tasks and waits for queued ones to finish or ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Stats 协程池统计
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	Panicked  int64 `json:"panicked"`
}
