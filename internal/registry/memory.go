package registry

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/stackdrive/stackdrive/internal/files"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]*files.File
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*files.File)}
}

// Create inserts a new file record.
func (s *MemoryStore) Create(_ context.Context, f *files.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return ErrDuplicate
	}
	s.files[f.ID] = f.Clone()
	return nil
}

// Get returns a copy of the file with its grants.
func (s *MemoryStore) Get(_ context.Context, id string) (*files.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

// Rename changes a file's display name.
func (s *MemoryStore) Rename(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return ErrNotFound
	}
	f.Name = name
	return nil
}

// Delete removes a file, returning its owner and size.
func (s *MemoryStore) Delete(_ context.Context, id string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return "", 0, ErrNotFound
	}
	delete(s.files, id)
	return f.OwnerID, f.Size, nil
}

// UpsertGrant creates or replaces the grant for an email on a file.
func (s *MemoryStore) UpsertGrant(_ context.Context, fileID string, g files.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return ErrNotFound
	}
	email := strings.ToLower(g.Email)
	for i := range f.Grants {
		if strings.EqualFold(f.Grants[i].Email, email) {
			f.Grants[i].Permissions = append([]files.Permission(nil), g.Permissions...)
			return nil
		}
	}
	f.Grants = append(f.Grants, files.Grant{
		Email:       email,
		Permissions: append([]files.Permission(nil), g.Permissions...),
	})
	return nil
}

// RemoveGrant deletes the grant for an email on a file. Like the SQL
// impl, removing from a missing file deletes nothing and is not an error.
func (s *MemoryStore) RemoveGrant(_ context.Context, fileID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil
	}
	for i := range f.Grants {
		if strings.EqualFold(f.Grants[i].Email, email) {
			f.Grants = append(f.Grants[:i], f.Grants[i+1:]...)
			return nil
		}
	}
	return nil
}

// List returns one page of the account's files, newest first.
func (s *MemoryStore) List(_ context.Context, p ListParams) (*Listing, error) {
	if p.Page < 1 {
		p.Page = 1
	}

	var matches []*files.File
	for _, f := range s.sortedFiles() {
		if p.SharedOnly {
			if f.OwnerID == p.AccountID || f.GrantFor(p.Email) == nil {
				continue
			}
		} else if f.OwnerID != p.AccountID {
			continue
		}
		if p.Category != "" && f.Category != p.Category {
			continue
		}
		matches = append(matches, f)
	}

	total := int64(len(matches))
	start := (p.Page - 1) * PageSize
	end := start + PageSize
	if start > len(matches) {
		start = len(matches)
	}
	if end > len(matches) {
		end = len(matches)
	}

	return &Listing{
		Files:       matches[start:end],
		Total:       total,
		CurrentPage: p.Page,
		TotalPages:  TotalPages(total),
	}, nil
}

// Search returns the account's files whose name contains the term.
func (s *MemoryStore) Search(_ context.Context, accountID, term string) ([]*files.File, error) {
	term = strings.ToLower(term)
	var matches []*files.File
	for _, f := range s.sortedFiles() {
		if f.OwnerID != accountID {
			continue
		}
		if strings.Contains(strings.ToLower(f.Name), term) {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// SumSizesByOwner returns total stored bytes per owner account.
func (s *MemoryStore) SumSizesByOwner(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := make(map[string]int64)
	for _, f := range s.files {
		sums[f.OwnerID] += f.Size
	}
	return sums, nil
}

// CountCID returns how many file records reference a content ID.
func (s *MemoryStore) CountCID(_ context.Context, cid string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, f := range s.files {
		if f.CID == cid {
			count++
		}
	}
	return count, nil
}

// sortedFiles returns copies of all records, newest first.
func (s *MemoryStore) sortedFiles() []*files.File {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*files.File, 0, len(s.files))
	for _, f := range s.files {
		all = append(all, f.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return all
}
