// Package snapshotstore implements sx.SnapshotStore over the btrfs-progs
// command vocabulary: `btrfs sub list`, `btrfs sub show`, `btrfs sub snap`,
// and `btrfs sub delete`, mirroring how btrfs-sxbackup enumerates and
// manages its own snapshot subvolumes.
package snapshotstore

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"time"

	"sxbackup-go/internal/sx"
)

var subvolumeLine = regexp.MustCompile(`(?i)^ID ([0-9]+).*gen ([0-9]+).*top level ([0-9]+).*path (.+)$`)

// Store is the concrete sx.SnapshotStore backed by an sx.Endpoint running
// btrfs-progs commands.
type Store struct {
	Endpoint      sx.Endpoint
	SourcePath    string // the subvolume snapshotted by Create; unused by List/Delete
	containerPath string
}

// New returns a Store managing snapshots under containerPath at ep.
// sourcePath is the subvolume Create takes snapshots of.
func New(ep sx.Endpoint, containerPath, sourcePath string) *Store {
	return &Store{Endpoint: ep, SourcePath: sourcePath, containerPath: containerPath}
}

func (s *Store) ContainerPath() string { return s.containerPath }

// List enumerates the container's subvolumes and keeps only those whose
// basename parses as a snapshot name, ascending by timestamp.
func (s *Store) List() ([]sx.Snapshot, error) {
	out, err := s.Endpoint.Exec([]string{"btrfs", "sub", "list", "-o", s.containerPath})
	if err != nil {
		return nil, &sx.FilesystemError{Op: "list", Path: s.containerPath, Err: err}
	}

	var snapshots []sx.Snapshot
	for _, line := range splitLines(string(out)) {
		m := subvolumeLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := path.Base(m[4])
		ts, ok := sx.DecodeSnapshotName(name)
		if !ok {
			// Not one of ours; ignore rather than delete.
			continue
		}
		snapshots = append(snapshots, sx.Snapshot{
			Timestamp:     ts,
			Endpoint:      s.Endpoint,
			ContainerPath: path.Join(s.containerPath, name),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Timestamp.Before(snapshots[j].Timestamp) })
	return snapshots, nil
}

// Create atomically snapshots SourcePath into the container under
// EncodeSnapshotName(now). Returns *sx.NameCollision if that name is
// already in use.
func (s *Store) Create(now time.Time) (sx.Snapshot, error) {
	name := sx.EncodeSnapshotName(now)
	destPath := path.Join(s.containerPath, name)

	existing, err := s.Endpoint.Exec([]string{"btrfs", "sub", "show", destPath})
	if err == nil && len(existing) > 0 {
		return sx.Snapshot{}, &sx.NameCollision{Name: name}
	}

	if _, err := s.Endpoint.Exec([]string{"touch", s.SourcePath}); err != nil {
		return sx.Snapshot{}, &sx.FilesystemError{Op: "touch", Path: s.SourcePath, Err: err}
	}

	if _, err := s.Endpoint.Exec([]string{"btrfs", "sub", "snap", "-r", s.SourcePath, destPath}); err != nil {
		return sx.Snapshot{}, &sx.FilesystemError{Op: "create", Path: destPath, Err: err}
	}
	if _, err := s.Endpoint.Exec([]string{"sync"}); err != nil {
		return sx.Snapshot{}, &sx.FilesystemError{Op: "sync", Path: destPath, Err: err}
	}

	return sx.Snapshot{Timestamp: now, Endpoint: s.Endpoint, ContainerPath: destPath}, nil
}

// Delete removes snap's subvolume. A snapshot that no longer exists is a no-op.
func (s *Store) Delete(snap sx.Snapshot) error {
	cmd := fmt.Sprintf("if [ -d %s ]; then btrfs sub del %s; fi",
		s.Endpoint.ShellQuote([]string{snap.ContainerPath}), s.Endpoint.ShellQuote([]string{snap.ContainerPath}))
	if _, err := s.Endpoint.Exec([]string{"bash", "-c", cmd}); err != nil {
		return &sx.FilesystemError{Op: "delete", Path: snap.ContainerPath, Err: err}
	}
	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
