// Package files defines the file domain model: records, categories,
// permissions, and the pure access evaluator used by the lifecycle service.
package files

import (
	"fmt"
	"strings"
	"time"
)

// Category is the coarse file-type classification derived from the mime
// type at creation. It never changes afterwards (renaming keeps it).
type Category string

const (
	CategoryDocument Category = "document"
	CategoryVideo    Category = "video"
	CategoryImage    Category = "image"
	CategoryAudio    Category = "audio"
	CategoryOther    Category = "other"
)

// Categories lists every derivable category, in display order.
var Categories = []Category{
	CategoryDocument,
	CategoryVideo,
	CategoryImage,
	CategoryAudio,
	CategoryOther,
}

// CategoryFromMimeType derives the category for a mime type.
// Exact match for PDFs, prefix match for media, everything else is "other".
func CategoryFromMimeType(mimeType string) Category {
	switch {
	case mimeType == "application/pdf":
		return CategoryDocument
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mimeType, "audio/"):
		return CategoryAudio
	default:
		return CategoryOther
	}
}

// ValidCategory reports whether s names a derivable category.
func ValidCategory(s string) bool {
	for _, c := range Categories {
		if string(c) == s {
			return true
		}
	}
	return false
}

// Permission is a single grantable action on a file.
type Permission string

const (
	PermissionRead   Permission = "file:read"
	PermissionUpdate Permission = "file:update"
	PermissionDelete Permission = "file:delete"
)

// ParsePermission validates a permission name.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionRead, PermissionUpdate, PermissionDelete:
		return Permission(s), nil
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

// ParsePermissions validates and normalizes a permission set.
// Duplicates are collapsed; any unknown member rejects the whole set.
// An empty input returns an empty (nil) set, which callers treat as revoke.
func ParsePermissions(ss []string) ([]Permission, error) {
	seen := make(map[Permission]bool, len(ss))
	var perms []Permission
	for _, s := range ss {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		perms = append(perms, p)
	}
	return perms, nil
}

// Grant attaches a permission set to a recipient email. A grant with an
// empty permission set is never stored; it is equivalent to no grant.
type Grant struct {
	Email       string       `json:"email"`
	Permissions []Permission `json:"permissions"`
}

// Has reports whether the grant contains the permission.
func (g *Grant) Has(p Permission) bool {
	for _, have := range g.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// File is a single stored file's metadata record.
type File struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	OwnerName  string    `json:"ownerName"`
	OwnerEmail string    `json:"ownerEmail"`
	Name       string    `json:"name"`
	CID        string    `json:"cid"`
	MimeType   string    `json:"mimeType"`
	Category   Category  `json:"category"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	Grants     []Grant   `json:"sharedWith"`
}

// GrantFor returns the grant for a recipient email, or nil if none exists.
// Matching is case-insensitive on the email.
func (f *File) GrantFor(email string) *Grant {
	for i := range f.Grants {
		if strings.EqualFold(f.Grants[i].Email, email) {
			return &f.Grants[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the file record.
func (f *File) Clone() *File {
	cp := *f
	cp.Grants = make([]Grant, len(f.Grants))
	for i, g := range f.Grants {
		cp.Grants[i] = Grant{Email: g.Email, Permissions: append([]Permission(nil), g.Permissions...)}
	}
	return &cp
}
