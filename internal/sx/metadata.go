package sx

// CurrentFormatVersion is the descriptor format version written by this
// build. MetadataStore implementations reject unknown major versions on read.
const CurrentFormatVersion = 1

// DefaultContainerRelPath is the container subvolume name a fresh `init`
// creates immediately below the source subvolume. Older jobs may use the
// historical `sxbackup` name instead; that's transparent, since the
// container path is just data stored in the descriptor.
const DefaultContainerRelPath = ".sxbackup"

// JobDescriptor is the persisted configuration for one backup job,
// stored on both the source and destination sides.
type JobDescriptor struct {
	UUID string

	SourceEndpointURL      string
	DestinationEndpointURL string

	SourceContainerPath      string
	DestinationContainerPath string

	SourceRetention      string
	DestinationRetention string

	Compress bool

	FormatVersion int

	// LastSyncName is the name of the most recently successfully
	// transferred snapshot. It is advisory only: the authoritative sync
	// point is always recomputed from SnapshotStore.List() via LatestCommon.
	LastSyncName string
}

// MetadataStore persists and reloads a JobDescriptor at one endpoint.
// The descriptor lives at <container>/.btrfs-sxbackup.
type MetadataStore interface {
	// Load reads the descriptor. Returns (nil, nil) if no descriptor file
	// exists yet; that's a normal, expected state for an unconfigured
	// location, not an error.
	Load() (*JobDescriptor, error)

	// Save writes the descriptor, preserving unknown keys already present
	// in the file.
	Save(desc *JobDescriptor) error

	// Exists reports whether a descriptor file is present.
	Exists() (bool, error)

	// Remove deletes the descriptor file. Idempotent.
	Remove() error
}
