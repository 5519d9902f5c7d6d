package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"DatasetApp/dataset"
	"DatasetApp/logger"
	"DatasetApp/monitor"
	"DatasetApp/render"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is a running viewer server bound to one dataset.
type Session struct {
	id      string
	ds      *dataset.Dataset
	cfg     Config
	url     string
	srv     *http.Server
	hub     *hub
	mon     *monitor.Monitor
	palette *render.Palette
	thumbs  *thumbCache

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	cancelMon context.CancelFunc

	errMu    sync.Mutex
	serveErr error

	selMu    sync.RWMutex
	selected []string
}

// LaunchApp serves ds on cfg.Address:cfg.Port and returns once the server
// answers its ping route.
func LaunchApp(ds *dataset.Dataset, cfg Config) (*Session, error) {
	if ds == nil {
		return nil, errors.New("launch app: nil dataset")
	}
	cfg = cfg.withDefaults()
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return serve(ds, cfg, ln)
}

// serve runs the viewer on ln, which it owns from here on.
func serve(ds *dataset.Dataset, cfg Config, ln net.Listener) (*Session, error) {
	s := newSession(ds, cfg)
	port := ln.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://%s", net.JoinHostPort(s.cfg.Address, strconv.Itoa(port)))

	monCtx, cancel := context.WithCancel(context.Background())
	s.cancelMon = cancel
	if s.cfg.Metrics {
		go s.mon.StartMon(monCtx, time.Second)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("App server stopped", zap.Error(err))
			s.errMu.Lock()
			s.serveErr = err
			s.errMu.Unlock()
			_ = s.Close()
		}
	}()

	readyCtx, readyCancel := context.WithTimeout(context.Background(), s.cfg.ReadyTimeout)
	defer readyCancel()
	if err := waitReady(readyCtx, s.url, s.id); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("app did not become ready: %w", err)
	}

	logger.Log().Info("App launched",
		zap.String("session", s.id),
		zap.String("url", s.url),
		zap.String("dataset", ds.Name()),
		zap.Int("samples", ds.Len()),
	)
	if s.cfg.AutoOpen {
		if err := openBrowser(s.url); err != nil {
			logger.Log().Warn("Cannot open browser, visit the URL manually", zap.String("url", s.url), zap.Error(err))
		}
	}
	return s, nil
}

func newSession(ds *dataset.Dataset, cfg Config) *Session {
	s := &Session{
		id:      uuid.NewString(),
		ds:      ds,
		cfg:     cfg,
		mon:     monitor.New(),
		palette: render.NewPalette(ds.Classes()),
		thumbs:  newThumbCache(thumbCacheSize),
		done:    make(chan struct{}),
	}
	s.mon.Samples.Set(float64(ds.Len()))
	s.hub = newHub(func(n int) { s.mon.ViewerClients.Set(float64(n)) })
	s.srv = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Session) ID() string               { return s.id }
func (s *Session) URL() string              { return s.url }
func (s *Session) Dataset() *dataset.Dataset { return s.ds }

// Wait blocks until the viewer is closed, ctx is done, Close is called or
// the server fails. Closing the viewer means at least one viewer connected
// and none stayed connected for cfg.Wait.
func (s *Session) Wait(ctx context.Context) error {
	for {
		n, seen, changed := s.hub.state()
		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if s.cfg.Wait >= 0 && seen && n == 0 {
			timer = time.NewTimer(s.cfg.Wait)
			timeout = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-s.done:
			stopTimer(timer)
			return s.err()
		case <-changed:
			stopTimer(timer)
		case <-timeout:
			logger.Log().Info("All viewers closed", zap.String("session", s.id))
			return nil
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (s *Session) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.serveErr
}

// Close disconnects every viewer and shuts the server down. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.hub.closeAll("session closed")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeErr = s.srv.Shutdown(ctx)
		if s.cancelMon != nil {
			s.cancelMon()
		}
		close(s.done)
		logger.Log().Info("App session closed", zap.String("session", s.id))
	})
	return s.closeErr
}

// Selected returns the sample ids currently selected in the viewer.
func (s *Session) Selected() []string {
	s.selMu.RLock()
	defer s.selMu.RUnlock()
	return slices.Clone(s.selected)
}

// Select replaces the selection and pushes it to every viewer. Unknown ids
// are rejected.
func (s *Session) Select(ids []string) error {
	for _, id := range ids {
		if _, ok := s.ds.Sample(id); !ok {
			return fmt.Errorf("%w: sample %s", dataset.ErrNotFound, id)
		}
	}
	s.selMu.Lock()
	s.selected = slices.Clone(ids)
	s.selMu.Unlock()
	s.hub.broadcast(message{Type: "selected", IDs: ids})
	return nil
}

// Refresh asks every viewer to reload its data.
func (s *Session) Refresh() {
	s.hub.broadcast(message{Type: "refresh"})
}
