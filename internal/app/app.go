// Package app is the application layer between the CLI and the
// orchestrator core: it constructs all dependencies from config and a job
// locator URL, exposes high-level operations the CLI calls directly, and
// records every invocation in the run-history database.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"sxbackup-go/internal/config"
	"sxbackup-go/internal/endpoint"
	"sxbackup-go/internal/history"
	"sxbackup-go/internal/metadatastore"
	"sxbackup-go/internal/pipeline"
	"sxbackup-go/internal/snapshotstore"
	"sxbackup-go/internal/sx"
)

// App wires configuration, history, and logging; BuildOrchestrator then
// resolves a single job locator URL (either side of the job) into a fully
// formed sx.Orchestrator, bootstrapping both locations from whichever
// side's descriptor is read first.
type App struct {
	cfg     *config.Config
	history *history.Store
	logger  sx.Logger
	logFile io.Closer
}

// New constructs an App from cfg. The caller must call Close when done.
func New(cfg *config.Config, jobUUID string) (*App, error) {
	hist, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	logger, logFile, err := newLogger(cfg.LogDir, jobUUID)
	if err != nil {
		hist.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &App{
		cfg:     cfg,
		history: hist,
		logger:  &slogAdapter{l: logger},
		logFile: logFile,
	}, nil
}

func (a *App) Close() error {
	var firstErr error
	if err := a.history.Close(); err != nil {
		firstErr = fmt.Errorf("closing history database: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}

// BuildOrchestrator resolves locationURL (either the source subvolume or
// the destination container) to a fully wired sx.Orchestrator by reading
// whichever descriptor is reachable from it first, then reconstructing the
// other side from the fields recorded there.
func (a *App) BuildOrchestrator(locationURL string) (*sx.Orchestrator, *sx.JobDescriptor, error) {
	ep, containerPath, err := endpoint.Parse(locationURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing location %q: %w", locationURL, err)
	}

	meta := metadatastore.New(ep, containerPath)
	desc, err := meta.Load()
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		// locationURL may name a source subvolume root rather than its
		// container subdirectory; retry one level down at the default name.
		containerPath = path.Join(containerPath, sx.DefaultContainerRelPath)
		meta = metadatastore.New(ep, containerPath)
		desc, err = meta.Load()
		if err != nil {
			return nil, nil, err
		}
	}
	if desc == nil {
		return nil, nil, &sx.ConfigError{Path: locationURL, Reason: "job is not initialised; run init first"}
	}

	sourceEP, sourceSubvolumePath, err := endpoint.Parse(desc.SourceEndpointURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing source endpoint %q: %w", desc.SourceEndpointURL, err)
	}
	destEP, _, err := endpoint.Parse(desc.DestinationEndpointURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing destination endpoint %q: %w", desc.DestinationEndpointURL, err)
	}

	orch := &sx.Orchestrator{
		Source: sx.Side{
			Endpoint:  sourceEP,
			Snapshots: snapshotstore.New(sourceEP, desc.SourceContainerPath, sourceSubvolumePath),
			Metadata:  metadatastore.New(sourceEP, desc.SourceContainerPath),
		},
		Destination: sx.Side{
			Endpoint:  destEP,
			Snapshots: snapshotstore.New(destEP, desc.DestinationContainerPath, ""),
			Metadata:  metadatastore.New(destEP, desc.DestinationContainerPath),
		},
		Pipeline: pipeline.New(a.logger),
		Clock:    sx.RealClock{},
		Logger:   a.logger,
	}
	return orch, desc, nil
}

// recordRun wraps fn with a run-history entry, recording its outcome.
func (a *App) recordRun(jobUUID, operation string, fn func() (snapshotName string, fullTransfer bool, err error)) error {
	startedAt := time.Now().UTC()
	id, err := a.history.Start(jobUUID, operation, startedAt)
	if err != nil {
		a.logger.Warn("failed to record run start", "error", err)
	}

	snapshotName, fullTransfer, runErr := fn()

	status := "success"
	detail := ""
	if runErr != nil {
		status = "error"
		var interrupted *sx.Interrupted
		if errors.As(runErr, &interrupted) {
			status = "interrupted"
		}
		detail = runErr.Error()
	}

	if id != 0 {
		if err := a.history.Finish(id, time.Now().UTC(), status, snapshotName, fullTransfer, detail); err != nil {
			a.logger.Warn("failed to record run finish", "error", err)
		}
	}

	return runErr
}

// Init creates a new job binding a source subvolume to a destination
// container.
func (a *App) Init(opts sx.InitOptions) error {
	sourceEP, sourceSubvolumePath, err := endpoint.Parse(opts.SourceEndpointURL)
	if err != nil {
		return fmt.Errorf("parsing source endpoint: %w", err)
	}
	destEP, destContainerPath, err := endpoint.Parse(opts.DestinationEndpointURL)
	if err != nil {
		return fmt.Errorf("parsing destination endpoint: %w", err)
	}

	if opts.SourceContainerPath == "" {
		opts.SourceContainerPath = path.Join(sourceSubvolumePath, sx.DefaultContainerRelPath)
	}
	if opts.DestinationContainerPath == "" {
		opts.DestinationContainerPath = destContainerPath
	}
	if opts.SourceRetention == "" {
		opts.SourceRetention = a.cfg.DefaultSourceRetention
	}
	if opts.DestinationRetention == "" {
		opts.DestinationRetention = a.cfg.DefaultDestinationRetention
	}

	orch := &sx.Orchestrator{
		Source: sx.Side{
			Endpoint:  sourceEP,
			Snapshots: snapshotstore.New(sourceEP, opts.SourceContainerPath, sourceSubvolumePath),
			Metadata:  metadatastore.New(sourceEP, opts.SourceContainerPath),
		},
		Destination: sx.Side{
			Endpoint:  destEP,
			Snapshots: snapshotstore.New(destEP, opts.DestinationContainerPath, ""),
			Metadata:  metadatastore.New(destEP, opts.DestinationContainerPath),
		},
		Pipeline: pipeline.New(a.logger),
		Clock:    sx.RealClock{},
		Logger:   a.logger,
	}
	return orch.Init(sx.UUIDGenerator{}, opts)
}

// Run drives one full job cycle for the job reachable from locationURL.
func (a *App) Run(ctx context.Context, locationURL string) (sx.RunResult, error) {
	orch, desc, err := a.BuildOrchestrator(locationURL)
	if err != nil {
		return sx.RunResult{}, err
	}

	var result sx.RunResult
	err = a.recordRun(desc.UUID, "run", func() (string, bool, error) {
		r, err := orch.Run(ctx)
		result = r
		if err != nil {
			return "", false, err
		}
		return r.NewSnapshot.Name(), r.FullTransfer, nil
	})
	return result, err
}

// Update rewrites retention/compression fields for the job reachable from
// locationURL.
func (a *App) Update(locationURL string, opts sx.UpdateOptions) error {
	orch, desc, err := a.BuildOrchestrator(locationURL)
	if err != nil {
		return err
	}
	return a.recordRun(desc.UUID, "update", func() (string, bool, error) {
		return "", false, orch.Update(opts)
	})
}

// Info returns a read-only view of the job reachable from locationURL.
func (a *App) Info(locationURL string) (sx.JobInfo, error) {
	orch, _, err := a.BuildOrchestrator(locationURL)
	if err != nil {
		return sx.JobInfo{}, err
	}
	return orch.Info()
}

// Purge runs retention only for the job reachable from locationURL.
func (a *App) Purge(locationURL string, opts sx.PurgeOptions) (sourceDropped, destDropped []sx.Snapshot, err error) {
	orch, desc, err := a.BuildOrchestrator(locationURL)
	if err != nil {
		return nil, nil, err
	}
	runErr := a.recordRun(desc.UUID, "purge", func() (string, bool, error) {
		sourceDropped, destDropped, err = orch.Purge(opts)
		return "", false, err
	})
	return sourceDropped, destDropped, runErr
}

// History returns recent recorded runs for jobUUID.
func (a *App) History(jobUUID string, limit int) ([]history.Run, error) {
	return a.history.Recent(jobUUID, limit)
}

// Destroy removes the job reachable from locationURL, optionally purging
// every managed snapshot.
func (a *App) Destroy(locationURL string, purge bool) (destinationSkipped bool, err error) {
	orch, desc, err := a.BuildOrchestrator(locationURL)
	if err != nil {
		return false, err
	}
	runErr := a.recordRun(desc.UUID, "destroy", func() (string, bool, error) {
		destinationSkipped, err = orch.Destroy(purge)
		return "", false, err
	})
	return destinationSkipped, runErr
}
