package app

import (
	"os"
	"path/filepath"
	"testing"

	"sxbackup-go/internal/config"
	"sxbackup-go/internal/endpoint"
	"sxbackup-go/internal/metadatastore"
	"sxbackup-go/internal/sx"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig(dir)

	a, err := New(cfg, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// writeDescriptor saves desc directly through a metadatastore.Store against
// a real Local endpoint, the same path App.BuildOrchestrator reads through.
func writeDescriptor(t *testing.T, containerPath string, desc *sx.JobDescriptor) {
	t.Helper()
	if err := os.MkdirAll(containerPath, 0755); err != nil {
		t.Fatalf("creating container dir: %v", err)
	}
	store := metadatastore.New(endpoint.NewLocal(), containerPath)
	if err := store.Save(desc); err != nil {
		t.Fatalf("saving descriptor: %v", err)
	}
}

func TestApp_BuildOrchestratorResolvesDirectContainerPath(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()
	sourceDir := filepath.Join(dir, "source")
	destDir := filepath.Join(dir, "dest")
	containerPath := filepath.Join(destDir, ".sxbackup")

	desc := &sx.JobDescriptor{
		UUID:                     "11111111-1111-1111-1111-111111111111",
		SourceEndpointURL:        sourceDir,
		DestinationEndpointURL:   destDir,
		SourceContainerPath:      filepath.Join(sourceDir, ".sxbackup"),
		DestinationContainerPath: containerPath,
		SourceRetention:          "1d:7",
		DestinationRetention:     "1w:4",
		FormatVersion:            sx.CurrentFormatVersion,
	}
	writeDescriptor(t, containerPath, desc)

	orch, got, err := a.BuildOrchestrator(containerPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UUID != desc.UUID {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
	if orch.Source.Endpoint.String() == "" || orch.Destination.Endpoint.String() == "" {
		t.Fatal("expected both sides to be wired")
	}
}

func TestApp_BuildOrchestratorRetriesDefaultContainerRelPath(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()
	sourceDir := filepath.Join(dir, "source")
	destDir := filepath.Join(dir, "dest")
	containerPath := filepath.Join(sourceDir, sx.DefaultContainerRelPath)

	desc := &sx.JobDescriptor{
		UUID:                     "22222222-2222-2222-2222-222222222222",
		SourceEndpointURL:        sourceDir,
		DestinationEndpointURL:   destDir,
		SourceContainerPath:      containerPath,
		DestinationContainerPath: filepath.Join(destDir, sx.DefaultContainerRelPath),
		FormatVersion:            sx.CurrentFormatVersion,
	}
	writeDescriptor(t, containerPath, desc)

	// Pointing at the bare source root (not its .sxbackup subdirectory)
	// must still resolve via the one-level-down retry.
	_, got, err := a.BuildOrchestrator(sourceDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UUID != desc.UUID {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
}

func TestApp_BuildOrchestratorErrorsWhenUninitialised(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()

	if _, _, err := a.BuildOrchestrator(dir); err == nil {
		t.Fatal("expected an error for an uninitialised job")
	}
}

func TestApp_HistoryDelegatesToStore(t *testing.T) {
	a := newTestApp(t)
	runs, err := a.History("nonexistent-job", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}
