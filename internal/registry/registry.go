// Package registry is the metadata store for files and their grants.
package registry

import (
	"context"
	"errors"

	"github.com/stackdrive/stackdrive/internal/files"
)

// PageSize is the number of files per listing page.
const PageSize = 9

var (
	// ErrNotFound is returned when no file matches the given ID.
	ErrNotFound = errors.New("file not found")
	// ErrDuplicate is returned when a file with the same ID already exists.
	ErrDuplicate = errors.New("file already exists")
)

// ListParams selects a page of an account's files.
type ListParams struct {
	// AccountID scopes the listing to files the account owns, except in
	// the shared view. Email is the viewer's address, used only for the
	// shared view's grant match.
	AccountID string
	Email     string
	// Category filters by derived category; empty means all categories.
	Category files.Category
	// SharedOnly switches to the shared view: files the viewer holds a
	// grant on, excluding files they own.
	SharedOnly bool
	// Page is 1-indexed. Values below 1 are treated as 1.
	Page int
}

// Listing is one page of files plus pagination totals.
type Listing struct {
	Files       []*files.File `json:"files"`
	Total       int64         `json:"total"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
}

// Store persists file metadata and sharing grants.
type Store interface {
	// Create inserts a new file record.
	Create(ctx context.Context, f *files.File) error

	// Get returns a file with its grants, or ErrNotFound.
	Get(ctx context.Context, id string) (*files.File, error)

	// Rename changes a file's display name.
	Rename(ctx context.Context, id, name string) error

	// Delete removes a file and its grants, returning the owner and size
	// of the removed record so the caller can release quota.
	Delete(ctx context.Context, id string) (ownerID string, size int64, err error)

	// UpsertGrant creates or replaces the grant for an email on a file.
	UpsertGrant(ctx context.Context, fileID string, g files.Grant) error

	// RemoveGrant deletes the grant for an email on a file. Removing a
	// grant that does not exist is not an error.
	RemoveGrant(ctx context.Context, fileID, email string) error

	// List returns one page of the account's files, newest first.
	List(ctx context.Context, p ListParams) (*Listing, error)

	// Search returns the account's files whose name contains the term,
	// case-insensitive, newest first. Matching is literal.
	Search(ctx context.Context, accountID, term string) ([]*files.File, error)

	// SumSizesByOwner returns total stored bytes per owner account.
	SumSizesByOwner(ctx context.Context) (map[string]int64, error)

	// CountCID returns how many file records reference a content ID.
	CountCID(ctx context.Context, cid string) (int64, error)
}

// TotalPages computes the page count for a listing total.
func TotalPages(total int64) int {
	return int((total + PageSize - 1) / PageSize)
}
