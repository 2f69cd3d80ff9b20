package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trackd/internal/client"
	"trackd/internal/config"
	"trackd/internal/events"
	"trackd/internal/model"
	"trackd/internal/server"
	"trackd/internal/store"
	"trackd/internal/tracking"
)

// TrackdApp is the application layer between the CLI and TrackingService.
// It constructs all dependencies from config, exposes high-level operations,
// and manages resource lifecycles on Close.
type TrackdApp struct {
	cfg       *config.Config
	store     tracking.RecordStore
	transport events.Transport
	service   *tracking.TrackingService
	consumer  *tracking.Consumer
	server    *server.Server
	logFile   *os.File
}

// NewTrackdApp creates a fully wired TrackdApp from the given config.
// operation identifies the CLI command being run (e.g. "Serve", "Seal").
// The caller must call Close when done.
func NewTrackdApp(cfg *config.Config, operation string) (*TrackdApp, error) {
	ctx := context.Background()

	st, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating record store: %w", err)
	}

	transport, err := events.NewTransportFromConfig(ctx, cfg.Events)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating event transport: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z") + "-" + operation
	logger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		transport.Close()
		st.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	maintenance := client.NewMaintenanceFromConfig(cfg.Maintenance)
	promote := client.NewPromoteFromConfig(cfg.Promote)

	adapted := &slogAdapter{l: logger}
	svc := tracking.NewTrackingService(st, maintenance, promote, adapted,
		tracking.RealClock{}, tracking.UUIDGenerator{},
		cfg.TrackGroupContentEnabled(), cfg.DeletionGuardCheck)

	consumer := tracking.NewConsumer(transport.FileEvents(), transport.Promotions(), svc, adapted)
	srv := server.NewServer(svc, adapted, cfg.Server.ListenAddr, cfg.ContentBaseURL)

	return &TrackdApp{
		cfg:       cfg,
		store:     st,
		transport: transport,
		service:   svc,
		consumer:  consumer,
		server:    srv,
		logFile:   logFile,
	}, nil
}

// Serve runs the event consumer and the admin API until SIGINT or SIGTERM.
func (a *TrackdApp) Serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.ListenAndServe()
	}()

	consumerDone := make(chan struct{})
	go func() {
		a.consumer.Run(ctx)
		close(consumerDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("admin API server: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutting down admin API: %w", err)
	}
	<-consumerDone

	return runErr
}

// Seal seals the record and returns its report projection.
func (a *TrackdApp) Seal(id string) (*model.TrackedContentDTO, error) {
	record, err := a.service.Seal(id)
	if err != nil {
		return nil, err
	}
	return a.service.ProjectRecord(record, a.cfg.ContentBaseURL), nil
}

// Report returns the report projection for the given id.
func (a *TrackdApp) Report(id string) (*model.TrackedContentDTO, error) {
	return a.service.GetRecord(id, a.cfg.ContentBaseURL)
}

// Ids lists tracking ids of the given kind.
func (a *TrackdApp) Ids(kind string) (*model.TrackingIdsDTO, error) {
	return a.service.ListIds(kind)
}

// Clear deletes the record for the given id.
func (a *TrackdApp) Clear(id string) error {
	return a.service.ClearRecord(id)
}

// Export writes a ZIP archive of all sealed records to w.
func (a *TrackdApp) Export(w io.Writer) error {
	return a.service.ExportSealed(w)
}

// ExportToFile writes a ZIP archive of all sealed records to path.
func (a *TrackdApp) ExportToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer f.Close()

	if err := a.service.ExportSealed(f); err != nil {
		return err
	}
	return f.Close()
}

// ImportFromFile reads a ZIP archive from path and imports the contained
// records as sealed. Returns the number of imported records.
func (a *TrackdApp) ImportFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening archive file: %w", err)
	}
	defer f.Close()

	return a.service.ImportArchive(f)
}

// Close releases the transport, the store and the log file.
func (a *TrackdApp) Close() error {
	var firstErr error

	if err := a.transport.Close(); err != nil {
		firstErr = fmt.Errorf("closing event transport: %w", err)
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing record store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
