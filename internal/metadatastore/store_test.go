package metadatastore

import (
	"strings"
	"testing"

	"sxbackup-go/internal/sx"
	"sxbackup-go/internal/testutil"
)

func TestStore_LoadReturnsNilWhenMissing(t *testing.T) {
	ep := testutil.NewMockEndpoint("dest")
	ep.QueueExec(nil, &sx.EndpointError{ExitCode: 1}) // test -f fails

	store := New(ep, "/dest/.sxbackup")
	desc, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc != nil {
		t.Fatalf("expected nil descriptor, got %+v", desc)
	}
}

func TestStore_SaveThenLoadRoundTrip(t *testing.T) {
	ep := testutil.NewMockEndpoint("dest")
	store := New(ep, "/dest/.sxbackup")

	desc := &sx.JobDescriptor{
		UUID:                     "11111111-1111-1111-1111-111111111111",
		SourceEndpointURL:        "/src",
		DestinationEndpointURL:   "ssh://backup@host.example.com/dest",
		SourceContainerPath:      "/src/.sxbackup",
		DestinationContainerPath: "/dest/.sxbackup",
		SourceRetention:          "1d:7/2d:none",
		DestinationRetention:     "1w:4",
		Compress:                 true,
		FormatVersion:            sx.CurrentFormatVersion,
		LastSyncName:             "sx-20240101-000000-utc",
	}

	ep.QueueExec(nil, &sx.EndpointError{ExitCode: 1}) // Save: cat fails, no existing file
	if err := store.Save(desc); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	written := ep.LastSpawnStdin

	ep.QueueExec(nil, nil)      // Load: test -f succeeds
	ep.QueueExec(written, nil) // Load: cat returns what was written

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil descriptor")
	}
	if got.UUID != desc.UUID || got.SourceEndpointURL != desc.SourceEndpointURL ||
		got.DestinationEndpointURL != desc.DestinationEndpointURL ||
		got.SourceRetention != desc.SourceRetention || got.DestinationRetention != desc.DestinationRetention ||
		got.Compress != desc.Compress || got.LastSyncName != desc.LastSyncName {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, desc)
	}
}

func TestStore_LoadRejectsNewerFormatVersion(t *testing.T) {
	ep := testutil.NewMockEndpoint("dest")
	store := New(ep, "/dest/.sxbackup")

	raw := "[Job]\nformat-version = 99\nuuid = x\n"
	ep.QueueExec(nil, nil)                 // test -f succeeds
	ep.QueueExec([]byte(raw), nil) // cat

	_, err := store.Load()
	if err == nil {
		t.Fatal("expected error for future format version")
	}
	if _, ok := err.(*sx.ConfigError); !ok {
		t.Fatalf("expected *sx.ConfigError, got %T", err)
	}
}

func TestStore_Remove(t *testing.T) {
	ep := testutil.NewMockEndpoint("dest")
	ep.QueueExec(nil, nil)

	store := New(ep, "/dest/.sxbackup")
	if err := store.Remove(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ep.Calls) != 1 || !strings.Contains(ep.Calls[0], "rm") {
		t.Fatalf("expected an rm call, got %v", ep.Calls)
	}
}
