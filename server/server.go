package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/pipeline"
	"github.com/cyclopcam/roadscan/pkg/storage"
	"github.com/cyclopcam/roadscan/server/notify"
	"github.com/cyclopcam/roadscan/server/registry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// ErrCancelledBeforeStart is the error of a run that was cancelled while it waited for a free run slot
var ErrCancelledBeforeStart = errors.New("Run was cancelled before it started")

type Server struct {
	Log      logs.Log
	Config   *Config
	Registry *registry.Registry

	// Options is the template for every run. Listeners and OnProgress are filled in per run.
	Options pipeline.Options

	// Closed when Shutdown has finished
	ShutdownComplete chan struct{}

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
	storage    storage.Storage
	publisher  *notify.Publisher
	progress   *progressHub
	runSlots   chan struct{}
	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
	closeOnce  sync.Once
}

func NewServer(log logs.Log, cfg *Config) (*Server, error) {
	newDetector, err := cfg.Detector.Factory(log)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Open(log, cfg.DB)
	if err != nil {
		return nil, err
	}

	// Open blob store
	var store storage.Storage
	if cfg.Storage.GCS != nil {
		// Google Cloud Storage
		store, err = storage.NewStorageGCS(log, cfg.Storage.GCS.Bucket, cfg.Storage.GCS.Prefix, cfg.Storage.GCS.Public)
	} else if cfg.Storage.Filesystem != nil {
		// Filesystem
		store, err = storage.NewStorageFS(log, cfg.Storage.Filesystem.Root)
	} else {
		err = fmt.Errorf("One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')")
	}
	if err != nil {
		reg.Close()
		return nil, err
	}

	var publisher *notify.Publisher
	if cfg.Kafka.Brokers != "" {
		publisher, err = notify.NewPublisher(log, cfg.Kafka)
		if err != nil {
			reg.Close()
			return nil, err
		}
	}

	opt := pipeline.DefaultOptions(store)
	opt.NewDetector = newDetector
	cfg.Outputs.apply(&opt)

	runCtx, cancelRuns := context.WithCancel(context.Background())
	s := &Server{
		Log:              log,
		Config:           cfg,
		Registry:         reg,
		Options:          opt,
		storage:          store,
		ShutdownComplete: make(chan struct{}),
		publisher:        publisher,
		progress:         newProgressHub(),
		runSlots:         make(chan struct{}, cfg.MaxConcurrentRuns),
		runCtx:           runCtx,
		cancelRuns:       cancelRuns,
	}
	s.setupHttpRoutes()
	return s, nil
}

// Handler is the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops active runs early (they still store their partial summaries), and then closes everything
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		s.Log.Infof("Shutdown")
		if s.signalIn != nil {
			signal.Stop(s.signalIn)
			close(s.signalIn)
		}
		if s.httpServer != nil {
			s.Log.Infof("Closing HTTP server")
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.Log.Warnf("HTTP server shutdown: %v", err)
			}
			cancel()
		}
		s.cancelRuns()
		s.runs.Wait()
		if s.publisher != nil {
			s.publisher.Close(10 * time.Second)
		}
		if closer, ok := s.storage.(interface{ Close() error }); ok {
			closer.Close()
		}
		if err := s.Registry.Close(); err != nil {
			s.Log.Warnf("Closing registry: %v", err)
		}
		s.Log.Infof("Shutdown complete")
		s.Log.Close()
		close(s.ShutdownComplete)
	})
}

// StartRun queues a run in the background, and returns its id immediately
func (s *Server) StartRun(req *pipeline.Request) string {
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(s.runCtx)
	s.progress.start(runID, cancel)
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.execute(ctx, cancel, runID, req)
	}()
	return runID
}

// RunSync runs a request to completion
func (s *Server) RunSync(req *pipeline.Request) (string, *pipeline.RunSummary) {
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(s.runCtx)
	s.progress.start(runID, cancel)
	s.runs.Add(1)
	defer s.runs.Done()
	return runID, s.execute(ctx, cancel, runID, req)
}

func (s *Server) execute(ctx context.Context, cancel context.CancelFunc, runID string, req *pipeline.Request) *pipeline.RunSummary {
	defer cancel()
	defer s.progress.finish(runID)

	select {
	case s.runSlots <- struct{}{}:
		defer func() { <-s.runSlots }()
	case <-ctx.Done():
	}
	// select picks at random when both cases are ready
	if ctx.Err() != nil {
		s.Log.Infof("Run %v was cancelled before it started", runID)
		summary := pipeline.NewErrorSummary(req, ErrCancelledBeforeStart)
		if _, err := s.Registry.SaveSummary(runID, summary); err != nil {
			s.Log.Errorf("Failed to save summary of run %v: %v", runID, err)
		}
		return summary
	}

	opt := s.Options
	opt.Listeners = append([]pipeline.DefectListener{s.Registry}, opt.Listeners...)
	if s.publisher != nil {
		opt.Listeners = append(opt.Listeners, s.publisher)
	}
	opt.OnProgress = s.progress.publish

	o := pipeline.NewOrchestrator(s.Log, opt, req, runID)
	o.Run(ctx)
	summary := o.Summary()
	if _, err := s.Registry.SaveSummary(runID, summary); err != nil {
		s.Log.Errorf("Failed to save summary of run %v: %v", runID, err)
	}
	return summary
}
