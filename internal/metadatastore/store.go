// Package metadatastore implements sx.MetadataStore as an INI-style
// document at <container>/.btrfs-sxbackup, read and written through an
// sx.Endpoint so it works identically for local and remote containers.
// The format mirrors btrfs-sxbackup's own job configuration file, decoded
// here with gopkg.in/ini.v1.
package metadatastore

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"

	"sxbackup-go/internal/sx"
)

const descriptorFileName = ".btrfs-sxbackup"

const (
	sectionJob               = "Job"
	keyUUID                  = "uuid"
	keySource                = "source"
	keyDestination           = "destination"
	keySourceContainer       = "source-container"
	keyDestinationContainer  = "destination-container"
	keySourceRetention       = "source-retention"
	keyDestinationRetention  = "destination-retention"
	keyCompress              = "compress"
	keyFormatVersion         = "format-version"
	keyLastSync              = "last-sync"
)

// Store is the concrete sx.MetadataStore.
type Store struct {
	Endpoint      sx.Endpoint
	ContainerPath string
}

// New returns a Store for the descriptor file under containerPath at ep.
func New(ep sx.Endpoint, containerPath string) *Store {
	return &Store{Endpoint: ep, ContainerPath: containerPath}
}

func (s *Store) path() string {
	return s.ContainerPath + "/" + descriptorFileName
}

func (s *Store) Exists() (bool, error) {
	_, err := s.Endpoint.Exec([]string{"test", "-f", s.path()})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Load reads the descriptor. It returns (nil, nil) if no descriptor file
// exists yet; that's a normal, expected state for an unconfigured location.
func (s *Store) Load() (*sx.JobDescriptor, error) {
	exists, err := s.Exists()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	raw, err := s.Endpoint.Exec([]string{"cat", s.path()})
	if err != nil {
		return nil, &sx.ConfigError{Path: s.path(), Reason: "reading descriptor", Err: err}
	}

	cfg, err := ini.Load(raw)
	if err != nil {
		return nil, &sx.ConfigError{Path: s.path(), Reason: "parsing descriptor", Err: err}
	}

	sec := cfg.Section(sectionJob)
	formatVersion, err := sec.Key(keyFormatVersion).Int()
	if err != nil {
		return nil, &sx.ConfigError{Path: s.path(), Reason: "invalid format-version", Err: err}
	}
	if formatVersion > sx.CurrentFormatVersion {
		return nil, &sx.ConfigError{Path: s.path(), Reason: fmt.Sprintf("descriptor format-version %d is newer than this build supports (%d)", formatVersion, sx.CurrentFormatVersion)}
	}

	desc := &sx.JobDescriptor{
		UUID:                     sec.Key(keyUUID).String(),
		SourceEndpointURL:        sec.Key(keySource).String(),
		DestinationEndpointURL:   sec.Key(keyDestination).String(),
		SourceContainerPath:      sec.Key(keySourceContainer).String(),
		DestinationContainerPath: sec.Key(keyDestinationContainer).String(),
		SourceRetention:          sec.Key(keySourceRetention).String(),
		DestinationRetention:     sec.Key(keyDestinationRetention).String(),
		Compress:                 sec.Key(keyCompress).MustBool(false),
		FormatVersion:            formatVersion,
		LastSyncName:             sec.Key(keyLastSync).String(),
	}
	return desc, nil
}

// Save writes desc, preserving any unknown keys already present in the
// file.
func (s *Store) Save(desc *sx.JobDescriptor) error {
	var cfg *ini.File
	if raw, err := s.Endpoint.Exec([]string{"cat", s.path()}); err == nil {
		cfg, err = ini.Load(raw)
		if err != nil {
			return &sx.ConfigError{Path: s.path(), Reason: "parsing existing descriptor", Err: err}
		}
	} else {
		cfg = ini.Empty()
	}

	sec := cfg.Section(sectionJob)
	sec.Key(keyUUID).SetValue(desc.UUID)
	sec.Key(keySource).SetValue(desc.SourceEndpointURL)
	sec.Key(keyDestination).SetValue(desc.DestinationEndpointURL)
	sec.Key(keySourceContainer).SetValue(desc.SourceContainerPath)
	sec.Key(keyDestinationContainer).SetValue(desc.DestinationContainerPath)
	sec.Key(keySourceRetention).SetValue(desc.SourceRetention)
	sec.Key(keyDestinationRetention).SetValue(desc.DestinationRetention)
	sec.Key(keyCompress).SetValue(strconv.FormatBool(desc.Compress))
	sec.Key(keyFormatVersion).SetValue(strconv.Itoa(desc.FormatVersion))
	sec.Key(keyLastSync).SetValue(desc.LastSyncName)

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return &sx.ConfigError{Path: s.path(), Reason: "rendering descriptor", Err: err}
	}

	handle, err := s.Endpoint.Spawn([]string{"tee", s.path()}, sx.SpawnOptions{Stdin: &buf})
	if err != nil {
		return &sx.ConfigError{Path: s.path(), Reason: "writing descriptor", Err: err}
	}
	code, err := handle.Wait()
	if err != nil {
		return &sx.ConfigError{Path: s.path(), Reason: "writing descriptor", Err: err}
	}
	if code != 0 {
		return &sx.ConfigError{Path: s.path(), Reason: fmt.Sprintf("tee exited %d", code)}
	}
	return nil
}

// Remove deletes the descriptor file. Idempotent.
func (s *Store) Remove() error {
	if _, err := s.Endpoint.Exec([]string{"rm", "-f", s.path()}); err != nil {
		return &sx.ConfigError{Path: s.path(), Reason: "removing descriptor", Err: err}
	}
	return nil
}
