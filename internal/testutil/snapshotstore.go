package testutil

import (
	"path"
	"sort"
	"time"

	"sxbackup-go/internal/sx"
)

// MockSnapshotStore is an in-memory sx.SnapshotStore.
type MockSnapshotStore struct {
	Endpoint      sx.Endpoint
	containerPath string
	snapshots     map[string]sx.Snapshot

	// FailNextCreate, if non-nil, is returned once from the next Create
	// call (and then cleared) instead of creating a snapshot.
	FailNextCreate error
}

func NewMockSnapshotStore(ep sx.Endpoint, containerPath string) *MockSnapshotStore {
	return &MockSnapshotStore{
		Endpoint:      ep,
		containerPath: containerPath,
		snapshots:     make(map[string]sx.Snapshot),
	}
}

// Seed pre-populates the store with a snapshot at the given timestamp,
// returning it for convenience in test setup.
func (s *MockSnapshotStore) Seed(ts time.Time) sx.Snapshot {
	snap := sx.Snapshot{Timestamp: ts, Endpoint: s.Endpoint, ContainerPath: path.Join(s.containerPath, sx.EncodeSnapshotName(ts))}
	s.snapshots[snap.Name()] = snap
	return snap
}

func (s *MockSnapshotStore) List() ([]sx.Snapshot, error) {
	out := make([]sx.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MockSnapshotStore) Create(now time.Time) (sx.Snapshot, error) {
	if s.FailNextCreate != nil {
		err := s.FailNextCreate
		s.FailNextCreate = nil
		return sx.Snapshot{}, err
	}

	snap := sx.Snapshot{Timestamp: now, Endpoint: s.Endpoint, ContainerPath: path.Join(s.containerPath, sx.EncodeSnapshotName(now))}
	if _, exists := s.snapshots[snap.Name()]; exists {
		return sx.Snapshot{}, &sx.NameCollision{Name: snap.Name()}
	}
	s.snapshots[snap.Name()] = snap
	return snap, nil
}

func (s *MockSnapshotStore) Delete(snap sx.Snapshot) error {
	delete(s.snapshots, snap.Name())
	return nil
}

func (s *MockSnapshotStore) ContainerPath() string { return s.containerPath }

var _ sx.SnapshotStore = (*MockSnapshotStore)(nil)
