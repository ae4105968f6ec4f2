package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/bot"
	"github.com/suPer8Hu/relay-bot/internal/catalog"
	"github.com/suPer8Hu/relay-bot/internal/config"
	"github.com/suPer8Hu/relay-bot/internal/usage"
)

// EventHandler is the bot core as seen by the inbound transport.
type EventHandler interface {
	HandleText(ctx context.Context, ev bot.Text)
	HandlePhoto(ctx context.Context, ev bot.Photo)
	HandleCallback(ctx context.Context, ev bot.Callback)
	HandleCancel(ctx context.Context, ev bot.Cancel)
	HandleCommand(ctx context.Context, ev bot.Command)
}

type Handler struct {
	Bot     EventHandler
	Catalog *catalog.Service
	Usage   *usage.Recorder
	Cfg     config.Config
	Log     *zap.Logger

	pool *Pool
}

func NewHandler(b EventHandler, cat *catalog.Service, rec *usage.Recorder, cfg config.Config, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Bot:     b,
		Catalog: cat,
		Usage:   rec,
		Cfg:     cfg,
		Log:     log,
		pool:    NewPool(cfg.WorkerConcurrency*4, 2*time.Minute),
	}
}

// Wait blocks until every accepted event has been handled.
func (h *Handler) Wait() { h.pool.Wait() }

// Pool runs accepted events in the background with bounded concurrency.
// Go blocks while the pool is full, which pushes back on the transport.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewPool(size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 8
	}
	return &Pool{sem: make(chan struct{}, size), timeout: timeout}
}

// Go runs fn detached from parent's cancellation but keeping its values.
func (p *Pool) Go(parent context.Context, fn func(ctx context.Context)) {
	p.sem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (p *Pool) Wait() { p.wg.Wait() }
