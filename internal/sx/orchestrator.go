package sx

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// nameCollisionRetries is the maximum number of retries for a snapshot name
// collision before giving up.
const nameCollisionRetries = 3

// nameCollisionInitialInterval is the starting wait of the exponential
// back-off between name-collision retries.
const nameCollisionInitialInterval = time.Second

// Side bundles the three things the orchestrator needs at one endpoint of
// a job: where to run commands, where snapshots live, and where the
// descriptor is persisted.
type Side struct {
	Endpoint  Endpoint
	Snapshots SnapshotStore
	Metadata  MetadataStore
}

// Orchestrator drives one job's state machine across a (source,
// destination) pair.
type Orchestrator struct {
	Source      Side
	Destination Side
	Pipeline    PipelineRunner
	Clock       Clock
	Logger      Logger
}

func (o *Orchestrator) logger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return NewNopLogger()
}

// InitOptions configures a fresh job descriptor.
type InitOptions struct {
	SourceEndpointURL        string
	DestinationEndpointURL   string
	SourceContainerPath      string
	DestinationContainerPath string
	SourceRetention          string
	DestinationRetention     string
	Compress                 bool
}

// Init validates that both endpoints' container subvolumes can be listed
// through their SnapshotStores and writes descriptors on both sides. It
// does not create a missing container, and it creates no snapshots.
func (o *Orchestrator) Init(id IDGenerator, opts InitOptions) error {
	if _, err := o.Source.Snapshots.List(); err != nil {
		return fmt.Errorf("validating source container: %w", err)
	}
	if _, err := o.Destination.Snapshots.List(); err != nil {
		return fmt.Errorf("validating destination container: %w", err)
	}

	jobID := id.New()
	desc := &JobDescriptor{
		UUID:                     jobID,
		SourceEndpointURL:        opts.SourceEndpointURL,
		DestinationEndpointURL:   opts.DestinationEndpointURL,
		SourceContainerPath:      opts.SourceContainerPath,
		DestinationContainerPath: opts.DestinationContainerPath,
		SourceRetention:          opts.SourceRetention,
		DestinationRetention:     opts.DestinationRetention,
		Compress:                 opts.Compress,
		FormatVersion:            CurrentFormatVersion,
	}

	if err := o.Source.Metadata.Save(desc); err != nil {
		return fmt.Errorf("writing source descriptor: %w", err)
	}
	if err := o.Destination.Metadata.Save(desc); err != nil {
		return fmt.Errorf("writing destination descriptor: %w", err)
	}

	o.logger().Info("job initialised", "uuid", jobID)
	return nil
}

// UpdateOptions describes a change to a job's descriptor fields. A nil
// pointer leaves the corresponding field untouched on both sides, so a
// caller can flip compression off without forcing it on for every update.
type UpdateOptions struct {
	SourceRetention      *string
	DestinationRetention *string
	Compress             *bool
}

// Update rewrites the retention and compression fields in both
// descriptors, leaving absent fields untouched.
func (o *Orchestrator) Update(opts UpdateOptions) error {
	srcDesc, destDesc, err := o.loadAndValidateDescriptors()
	if err != nil {
		return err
	}

	apply := func(d *JobDescriptor) {
		if opts.SourceRetention != nil {
			d.SourceRetention = *opts.SourceRetention
		}
		if opts.DestinationRetention != nil {
			d.DestinationRetention = *opts.DestinationRetention
		}
		if opts.Compress != nil {
			d.Compress = *opts.Compress
		}
	}
	apply(srcDesc)
	apply(destDesc)

	if err := o.Source.Metadata.Save(srcDesc); err != nil {
		return fmt.Errorf("writing source descriptor: %w", err)
	}
	if err := o.Destination.Metadata.Save(destDesc); err != nil {
		return fmt.Errorf("writing destination descriptor: %w", err)
	}

	o.logger().Info("job updated", "uuid", srcDesc.UUID)
	return nil
}

// loadAndValidateDescriptors loads both sides' descriptors and confirms
// they're present, version-compatible, and agree on the job identity.
func (o *Orchestrator) loadAndValidateDescriptors() (src, dest *JobDescriptor, err error) {
	src, err = o.Source.Metadata.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading source descriptor: %w", err)
	}
	dest, err = o.Destination.Metadata.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading destination descriptor: %w", err)
	}
	if src == nil || dest == nil {
		return nil, nil, &ConfigError{Reason: "job is not initialised on one or both sides; run init first"}
	}
	if src.UUID != dest.UUID {
		return nil, nil, &ConfigError{Reason: fmt.Sprintf("source and destination descriptors disagree: %s vs %s", src.UUID, dest.UUID)}
	}
	if src.FormatVersion != CurrentFormatVersion || dest.FormatVersion != CurrentFormatVersion {
		return nil, nil, &ConfigError{Reason: fmt.Sprintf("unsupported descriptor format version (source %d, destination %d, want %d)", src.FormatVersion, dest.FormatVersion, CurrentFormatVersion)}
	}
	return src, dest, nil
}

// RunResult reports the outcome of a successful Run.
type RunResult struct {
	NewSnapshot   Snapshot
	FullTransfer  bool
	SourceDropped []Snapshot
	DestDropped   []Snapshot
}

// Run drives one full job cycle: snapshot, transfer, retention, metadata
// sync. `transfer` is the same state machine invoked outside its schedule.
func (o *Orchestrator) Run(ctx context.Context) (RunResult, error) {
	// START
	srcDesc, destDesc, err := o.loadAndValidateDescriptors()
	if err != nil {
		return RunResult{}, err
	}

	// READY
	sourceSnaps, err := o.Source.Snapshots.List()
	if err != nil {
		return RunResult{}, fmt.Errorf("listing source snapshots: %w", err)
	}
	destSnaps, err := o.Destination.Snapshots.List()
	if err != nil {
		return RunResult{}, fmt.Errorf("listing destination snapshots: %w", err)
	}

	// PARENT_SELECTED
	var parent Snapshot
	fullTransfer := true
	if p, ok := LatestCommon(sourceSnaps, destSnaps); ok {
		parent = p
		fullTransfer = false
	} else if len(destSnaps) > 0 {
		o.logger().Warn("no common snapshot between source and destination; falling back to full transfer",
			"source_endpoint", o.Source.Endpoint.String(), "destination_endpoint", o.Destination.Endpoint.String())
	}

	// SNAPSHOT_TAKEN
	newSnap, err := o.createSnapshotWithRetry()
	if err != nil {
		return RunResult{}, err
	}

	// TRANSFERRED
	if err := o.transfer(ctx, parent, newSnap, fullTransfer, srcDesc.Compress); err != nil {
		if delErr := o.Source.Snapshots.Delete(newSnap); delErr != nil {
			o.logger().Error("failed to clean up orphan snapshot after failed transfer", "snapshot", newSnap.Name(), "error", delErr)
		}
		return RunResult{}, err
	}

	// RETAINED_SOURCE
	sourceDropped, err := o.applyRetention(o.Source.Snapshots, srcDesc.SourceRetention, append(sourceSnaps, newSnap))
	if err != nil {
		return RunResult{}, fmt.Errorf("applying source retention: %w", err)
	}

	// RETAINED_DEST
	destDropped, err := o.applyRetention(o.Destination.Snapshots, destDesc.DestinationRetention, append(destSnaps, newSnap))
	if err != nil {
		return RunResult{}, fmt.Errorf("applying destination retention: %w", err)
	}

	// METADATA_SYNCED
	srcDesc.LastSyncName = newSnap.Name()
	destDesc.LastSyncName = newSnap.Name()
	if err := o.Source.Metadata.Save(srcDesc); err != nil {
		return RunResult{}, fmt.Errorf("writing source descriptor: %w", err)
	}
	if err := o.Destination.Metadata.Save(destDesc); err != nil {
		return RunResult{}, fmt.Errorf("writing destination descriptor: %w", err)
	}

	o.logger().Info("run complete", "snapshot", newSnap.Name(), "full_transfer", fullTransfer)

	// DONE
	return RunResult{
		NewSnapshot:   newSnap,
		FullTransfer:  fullTransfer,
		SourceDropped: sourceDropped,
		DestDropped:   destDropped,
	}, nil
}

// createSnapshotWithRetry retries on *NameCollision using a bounded
// exponential back-off starting at nameCollisionInitialInterval and capped
// at nameCollisionRetries retries after the first attempt.
func (o *Orchestrator) createSnapshotWithRetry() (Snapshot, error) {
	var snap Snapshot
	var collisions int

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = nameCollisionInitialInterval

	op := func() error {
		s, err := o.Source.Snapshots.Create(o.Clock.Now())
		if err == nil {
			snap = s
			return nil
		}
		var collision *NameCollision
		if !asNameCollision(err, &collision) {
			return backoff.Permanent(fmt.Errorf("creating source snapshot: %w", err))
		}
		collisions++
		o.logger().Warn("snapshot name collision, retrying", "name", collision.Name, "attempt", collisions)
		return err
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(eb, nameCollisionRetries)); err != nil {
		if collisions > 0 {
			return Snapshot{}, fmt.Errorf("creating source snapshot after %d retries: %w", collisions, err)
		}
		return Snapshot{}, err
	}
	return snap, nil
}

func asNameCollision(err error, target **NameCollision) bool {
	nc, ok := err.(*NameCollision)
	if ok {
		*target = nc
	}
	return ok
}

// transfer runs the send | [compress] | ssh | [decompress] | receive
// pipeline for newSnap, using parent as the incremental base unless
// fullTransfer forces a full send.
func (o *Orchestrator) transfer(ctx context.Context, parent, newSnap Snapshot, fullTransfer bool, compress bool) error {
	producer := []string{"btrfs", "send"}
	if !fullTransfer {
		producer = append(producer, "-p", parent.ContainerPath)
	}
	producer = append(producer, newSnap.ContainerPath)

	consumer := []string{"btrfs", "receive", o.Destination.Snapshots.ContainerPath()}

	spec := PipelineSpec{
		SourceEndpoint:      o.Source.Endpoint,
		DestinationEndpoint: o.Destination.Endpoint,
		Producer:            producer,
		Consumer:            consumer,
		Compress:            compress,
		ProgressCommand:     []string{"pv"},
	}

	if _, err := o.Pipeline.Run(ctx, spec); err != nil {
		return fmt.Errorf("transferring %s: %w", newSnap.Name(), err)
	}
	return nil
}

// applyRetention parses and evaluates a retention expression over the
// store's snapshot population and deletes the snapshots it drops. Run calls
// it only after the transfer has succeeded, so the transfer's parent is no
// longer in use and is subject to retention like any other snapshot.
func (o *Orchestrator) applyRetention(store SnapshotStore, expression string, population []Snapshot) ([]Snapshot, error) {
	expr, err := ParseRetention(expression)
	if err != nil {
		return nil, err
	}

	now := o.Clock.Now()
	_, drop := expr.Evaluate(population, now)

	var dropped []Snapshot
	for _, s := range drop {
		if err := store.Delete(s); err != nil {
			return dropped, fmt.Errorf("deleting %s: %w", s.Name(), err)
		}
		dropped = append(dropped, s)
	}
	return dropped, nil
}

// PurgeOptions allows ad hoc overrides of the persisted retention
// expressions without writing them back.
type PurgeOptions struct {
	SourceRetentionOverride      string
	DestinationRetentionOverride string
}

// Purge runs retention evaluation and deletion only, without creating or
// transferring a snapshot.
func (o *Orchestrator) Purge(opts PurgeOptions) (sourceDropped, destDropped []Snapshot, err error) {
	srcDesc, destDesc, err := o.loadAndValidateDescriptors()
	if err != nil {
		return nil, nil, err
	}

	sourceRetention := srcDesc.SourceRetention
	if opts.SourceRetentionOverride != "" {
		sourceRetention = opts.SourceRetentionOverride
	}
	destRetention := destDesc.DestinationRetention
	if opts.DestinationRetentionOverride != "" {
		destRetention = opts.DestinationRetentionOverride
	}

	sourceSnaps, err := o.Source.Snapshots.List()
	if err != nil {
		return nil, nil, fmt.Errorf("listing source snapshots: %w", err)
	}
	destSnaps, err := o.Destination.Snapshots.List()
	if err != nil {
		return nil, nil, fmt.Errorf("listing destination snapshots: %w", err)
	}

	sourceDropped, err = o.applyRetention(o.Source.Snapshots, sourceRetention, sourceSnaps)
	if err != nil {
		return sourceDropped, nil, fmt.Errorf("applying source retention: %w", err)
	}
	destDropped, err = o.applyRetention(o.Destination.Snapshots, destRetention, destSnaps)
	if err != nil {
		return sourceDropped, destDropped, fmt.Errorf("applying destination retention: %w", err)
	}

	o.logger().Info("purge complete", "source_dropped", len(sourceDropped), "destination_dropped", len(destDropped))
	return sourceDropped, destDropped, nil
}

// JobInfo is the read-only rendering of a job's current state.
type JobInfo struct {
	Descriptor          *JobDescriptor
	SourceSnapshots     []Snapshot
	DestSnapshots       []Snapshot
	SourceEndpointName  string
	DestEndpointName    string
	SourceToolVersions  string
	DestToolVersions    string
}

// Info loads descriptors and lists snapshots on both sides without
// mutating anything.
func (o *Orchestrator) Info() (JobInfo, error) {
	srcDesc, _, err := o.loadAndValidateDescriptors()
	if err != nil {
		return JobInfo{}, err
	}
	sourceSnaps, err := o.Source.Snapshots.List()
	if err != nil {
		return JobInfo{}, fmt.Errorf("listing source snapshots: %w", err)
	}
	destSnaps, err := o.Destination.Snapshots.List()
	if err != nil {
		return JobInfo{}, fmt.Errorf("listing destination snapshots: %w", err)
	}
	return JobInfo{
		Descriptor:         srcDesc,
		SourceSnapshots:    sourceSnaps,
		DestSnapshots:      destSnaps,
		SourceEndpointName: o.Source.Endpoint.String(),
		DestEndpointName:   o.Destination.Endpoint.String(),
		SourceToolVersions: toolVersions(o.Source.Endpoint),
		DestToolVersions:   toolVersions(o.Destination.Endpoint),
	}, nil
}

// toolVersions reports the endpoint's kernel and btrfs-progs version strings
// for display in `info`. Best-effort: an unreachable endpoint or a failing
// `uname` yields an empty string, and a failing `btrfs version` yields the
// kernel line alone, rather than failing the whole command, since this is
// purely informational.
func toolVersions(ep Endpoint) string {
	kernel, err := ep.Exec([]string{"uname", "-srvo"})
	if err != nil {
		return ""
	}
	btrfs, err := ep.Exec([]string{"btrfs", "version"})
	if err != nil {
		return firstLine(string(kernel))
	}
	return firstLine(string(kernel)) + " / " + firstLine(string(btrfs))
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// Destroy deletes descriptors on both sides; with purge it additionally
// deletes every managed snapshot on both sides. An unreachable destination
// is tolerated: local state is still removed and the remote cleanup is
// reported as skipped, not an error.
func (o *Orchestrator) Destroy(purge bool) (destinationSkipped bool, err error) {
	if purge {
		if snaps, listErr := o.Source.Snapshots.List(); listErr == nil {
			for _, s := range snaps {
				if delErr := o.Source.Snapshots.Delete(s); delErr != nil {
					return false, fmt.Errorf("deleting source snapshot %s: %w", s.Name(), delErr)
				}
			}
		} else {
			return false, fmt.Errorf("listing source snapshots: %w", listErr)
		}
	}

	if err := o.Source.Metadata.Remove(); err != nil {
		return false, fmt.Errorf("removing source descriptor: %w", err)
	}

	destErr := o.destroyDestination(purge)
	if destErr != nil {
		o.logger().Warn("destination unreachable, skipping remote cleanup", "error", destErr)
		return true, nil
	}

	o.logger().Info("job destroyed", "purge", purge)
	return false, nil
}

func (o *Orchestrator) destroyDestination(purge bool) error {
	if purge {
		snaps, err := o.Destination.Snapshots.List()
		if err != nil {
			return fmt.Errorf("listing destination snapshots: %w", err)
		}
		for _, s := range snaps {
			if err := o.Destination.Snapshots.Delete(s); err != nil {
				return fmt.Errorf("deleting destination snapshot %s: %w", s.Name(), err)
			}
		}
	}
	return o.Destination.Metadata.Remove()
}
