package testutil

import "sxbackup-go/internal/sx"

// MockMetadataStore is an in-memory sx.MetadataStore.
type MockMetadataStore struct {
	desc *sx.JobDescriptor
}

func NewMockMetadataStore() *MockMetadataStore {
	return &MockMetadataStore{}
}

func (s *MockMetadataStore) Load() (*sx.JobDescriptor, error) {
	if s.desc == nil {
		return nil, nil
	}
	cp := *s.desc
	return &cp, nil
}

func (s *MockMetadataStore) Save(desc *sx.JobDescriptor) error {
	cp := *desc
	s.desc = &cp
	return nil
}

func (s *MockMetadataStore) Exists() (bool, error) {
	return s.desc != nil, nil
}

func (s *MockMetadataStore) Remove() error {
	s.desc = nil
	return nil
}

var _ sx.MetadataStore = (*MockMetadataStore)(nil)
