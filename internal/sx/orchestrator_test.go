package sx_test

import (
	"context"
	"testing"
	"time"

	"sxbackup-go/internal/sx"
	"sxbackup-go/internal/testutil"
)

// fakeTransferRunner stands in for the real send|receive pipeline: on
// success it materializes the transferred snapshot into the destination
// store, so later runs can find it as a common parent.
type fakeTransferRunner struct {
	destSnaps *testutil.MockSnapshotStore
	Specs     []sx.PipelineSpec
	Err       error
}

func (r *fakeTransferRunner) Run(ctx context.Context, spec sx.PipelineSpec) (sx.PipelineResult, error) {
	r.Specs = append(r.Specs, spec)
	if r.Err != nil {
		return sx.PipelineResult{}, r.Err
	}
	newSnapPath := spec.Producer[len(spec.Producer)-1]
	ts, ok := sx.DecodeSnapshotName(pathBase(newSnapPath))
	if ok {
		r.destSnaps.Seed(ts)
	}
	return sx.PipelineResult{}, nil
}

func pathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

type harness struct {
	orch        *sx.Orchestrator
	sourceEP    *testutil.MockEndpoint
	destEP      *testutil.MockEndpoint
	sourceSnaps *testutil.MockSnapshotStore
	destSnaps   *testutil.MockSnapshotStore
	sourceMeta  *testutil.MockMetadataStore
	destMeta    *testutil.MockMetadataStore
	pipeline    *fakeTransferRunner
	clock       *testutil.StubClock
}

func newHarness() *harness {
	sourceEP := testutil.NewMockEndpoint("source")
	destEP := testutil.NewMockEndpoint("dest")
	destSnaps := testutil.NewMockSnapshotStore(destEP, "/dest")
	h := &harness{
		orch:        &sx.Orchestrator{},
		sourceEP:    sourceEP,
		destEP:      destEP,
		sourceSnaps: testutil.NewMockSnapshotStore(sourceEP, "/src/.sxbackup"),
		destSnaps:   destSnaps,
		sourceMeta:  testutil.NewMockMetadataStore(),
		destMeta:    testutil.NewMockMetadataStore(),
		pipeline:    &fakeTransferRunner{destSnaps: destSnaps},
		clock:       testutil.FixedClock(),
	}
	h.orch.Source = sx.Side{Endpoint: sourceEP, Snapshots: h.sourceSnaps, Metadata: h.sourceMeta}
	h.orch.Destination = sx.Side{Endpoint: destEP, Snapshots: h.destSnaps, Metadata: h.destMeta}
	h.orch.Pipeline = h.pipeline
	h.orch.Clock = h.clock
	return h
}

func (h *harness) init(t *testing.T, sourceRetention, destRetention string) {
	t.Helper()
	err := h.orch.Init(testutil.NewStubIDGenerator(), sx.InitOptions{
		SourceEndpointURL:        "local:/src",
		DestinationEndpointURL:   "ssh://backup@remote/dest",
		SourceContainerPath:      "/src/.sxbackup",
		DestinationContainerPath: "/dest",
		SourceRetention:          sourceRetention,
		DestinationRetention:     destRetention,
	})
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
}

// Scenario 1: cold init + first run produces a full transfer.
func TestOrchestrator_ColdInitFirstRun(t *testing.T) {
	h := newHarness()
	h.init(t, "0h:all", "0h:all")

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.FullTransfer {
		t.Fatal("expected first run to be a full transfer")
	}
	if len(h.pipeline.Specs) != 1 {
		t.Fatalf("expected exactly one pipeline invocation, got %d", len(h.pipeline.Specs))
	}
	if h.pipeline.Specs[0].Compress {
		t.Fatal("expected compress off by default")
	}

	desc, err := h.sourceMeta.Load()
	if err != nil {
		t.Fatalf("loading source descriptor: %v", err)
	}
	if desc.LastSyncName != result.NewSnapshot.Name() {
		t.Fatalf("descriptor not synced: got %q, want %q", desc.LastSyncName, result.NewSnapshot.Name())
	}
}

// Scenario 2: a later run with a common snapshot is incremental.
func TestOrchestrator_IncrementalRun(t *testing.T) {
	h := newHarness()
	h.init(t, "0h:all", "0h:all")

	if _, err := h.orch.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	h.clock.Advance(24 * time.Hour)
	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.FullTransfer {
		t.Fatal("expected second run to be incremental")
	}

	spec := h.pipeline.Specs[len(h.pipeline.Specs)-1]
	if len(spec.Producer) < 2 || spec.Producer[len(spec.Producer)-3] != "-p" {
		t.Fatalf("expected producer to reference a parent snapshot: %v", spec.Producer)
	}
}

// Scenario 3: destination has unrelated snapshots, no common parent: falls
// back to a full transfer instead of erroring.
func TestOrchestrator_FullTransferFallback(t *testing.T) {
	h := newHarness()
	h.init(t, "0h:all", "0h:all")

	h.destSnaps.Seed(h.clock.Now().Add(-72 * time.Hour))

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !result.FullTransfer {
		t.Fatal("expected fallback to full transfer when no common snapshot exists")
	}
}

// Scenario 4: retention cardinality after a run leaves exactly the expected count.
func TestOrchestrator_RetentionCardinality(t *testing.T) {
	h := newHarness()
	h.init(t, "0h:none", "0h:none")

	base := h.clock.Now()
	for i := 1; i <= 5; i++ {
		h.sourceSnaps.Seed(base.Add(-time.Duration(i) * 48 * time.Hour))
		h.destSnaps.Seed(base.Add(-time.Duration(i) * 48 * time.Hour))
	}

	result, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	remaining, err := h.sourceSnaps.List()
	if err != nil {
		t.Fatalf("listing source snapshots: %v", err)
	}
	// "0h:none" places every snapshot in the none tier, so only the global
	// floor survives: the newest snapshot, which is the one just created.
	if len(remaining) != 1 {
		t.Fatalf("expected exactly 1 source snapshot to remain, got %d", len(remaining))
	}
	if remaining[0].Name() != result.NewSnapshot.Name() {
		t.Fatalf("expected the new snapshot to survive retention, got %v", remaining)
	}
}

// Scenario 5: a failed transfer deletes the orphan source snapshot and
// leaves the destination and descriptors untouched.
func TestOrchestrator_FailedTransferCleansUpOrphan(t *testing.T) {
	h := newHarness()
	h.init(t, "0h:all", "0h:all")

	h.pipeline.Err = &sx.TransferError{Stage: "consumer", ExitCode: 1}

	_, err := h.orch.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail")
	}

	sourceList, err := h.sourceSnaps.List()
	if err != nil {
		t.Fatalf("listing source snapshots: %v", err)
	}
	if len(sourceList) != 0 {
		t.Fatalf("expected orphan snapshot to be cleaned up, found %d", len(sourceList))
	}

	destList, err := h.destSnaps.List()
	if err != nil {
		t.Fatalf("listing destination snapshots: %v", err)
	}
	if len(destList) != 0 {
		t.Fatalf("expected destination untouched, found %d", len(destList))
	}

	desc, err := h.sourceMeta.Load()
	if err != nil {
		t.Fatalf("loading source descriptor: %v", err)
	}
	if desc.LastSyncName != "" {
		t.Fatalf("expected descriptor unchanged after failed transfer, got LastSyncName=%q", desc.LastSyncName)
	}
}

// Scenario 6: destroying a job whose destination is unreachable still
// removes local state and reports the remote cleanup as skipped.
func TestOrchestrator_DestroyUnreachableDestination(t *testing.T) {
	h := newHarness()
	h.init(t, "0h:all", "0h:all")

	// Simulate an unreachable destination: its metadata store errors on Remove.
	h.orch.Destination.Metadata = &erroringMetadataStore{MockMetadataStore: h.destMeta}

	skipped, err := h.orch.Destroy(false)
	if err != nil {
		t.Fatalf("expected destroy to tolerate an unreachable destination, got error: %v", err)
	}
	if !skipped {
		t.Fatal("expected destination cleanup to be reported as skipped")
	}

	exists, err := h.sourceMeta.Exists()
	if err != nil {
		t.Fatalf("checking source descriptor: %v", err)
	}
	if exists {
		t.Fatal("expected local descriptor to be removed regardless of destination reachability")
	}
}

// Scenario 7: info reports both sides' snapshot inventories and best-effort
// tool version strings without mutating anything.
func TestOrchestrator_InfoReportsInventoryAndToolVersions(t *testing.T) {
	h := newHarness()
	h.init(t, "0h:all", "0h:all")

	h.sourceSnaps.Seed(h.clock.Now().Add(-24 * time.Hour))
	h.destSnaps.Seed(h.clock.Now().Add(-24 * time.Hour))

	h.sourceEP.QueueExec([]byte("Linux 6.1.0 x86_64 GNU/Linux\n"), nil)
	h.sourceEP.QueueExec([]byte("btrfs-progs v6.1\n"), nil)
	h.destEP.QueueExec(nil, &sx.EndpointError{ExitCode: 127}) // uname missing on destination

	info, err := h.orch.Info()
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if len(info.SourceSnapshots) != 1 || len(info.DestSnapshots) != 1 {
		t.Fatalf("expected one snapshot per side, got source=%d dest=%d", len(info.SourceSnapshots), len(info.DestSnapshots))
	}
	if info.SourceToolVersions != "Linux 6.1.0 x86_64 GNU/Linux / btrfs-progs v6.1" {
		t.Fatalf("unexpected source tool versions: %q", info.SourceToolVersions)
	}
	if info.DestToolVersions != "" {
		t.Fatalf("expected empty tool versions when unreachable, got %q", info.DestToolVersions)
	}
}

type erroringMetadataStore struct {
	*testutil.MockMetadataStore
}

func (e *erroringMetadataStore) Remove() error {
	return &sx.EndpointError{Endpoint: "ssh://backup@remote/dest", ExitCode: 255, Stderr: "connection timed out"}
}
