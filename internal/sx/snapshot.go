package sx

import "time"

// Snapshot is a timestamped, read-only copy of the source subvolume living
// in a container subvolume on some endpoint.
type Snapshot struct {
	Timestamp     time.Time
	Endpoint      Endpoint
	ContainerPath string
}

// Name returns the snapshot's canonical on-disk name.
func (s Snapshot) Name() string {
	return EncodeSnapshotName(s.Timestamp)
}

// SnapshotStore enumerates, names, creates, and deletes timestamped
// snapshots under a container subvolume at a given endpoint.
type SnapshotStore interface {
	// List returns managed snapshots in the container, ascending by timestamp.
	// Entries whose names don't parse as snapshot names are ignored, never deleted.
	List() ([]Snapshot, error)

	// Create atomically snapshots the source subvolume into the container,
	// using EncodeSnapshotName(now) as the name. Returns a *NameCollision
	// if the name already exists.
	Create(now time.Time) (Snapshot, error)

	// Delete removes the snapshot's subvolume. Deleting a snapshot that no
	// longer exists is a no-op.
	Delete(snap Snapshot) error

	// ContainerPath returns the path this store manages.
	ContainerPath() string
}

// LatestCommon returns the highest-timestamp snapshot present, under an
// identical name, in both a and b. Equality is by encoded name (UTC
// timestamp), never by content.
func LatestCommon(a, b []Snapshot) (Snapshot, bool) {
	names := make(map[string]struct{}, len(b))
	for _, s := range b {
		names[s.Name()] = struct{}{}
	}
	for i := len(a) - 1; i >= 0; i-- {
		if _, ok := names[a[i].Name()]; ok {
			return a[i], true
		}
	}
	return Snapshot{}, false
}
