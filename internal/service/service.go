// Package service orchestrates file lifecycle operations across the
// registry, the quota ledger and the blob store.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackdrive/stackdrive/internal/blob"
	"github.com/stackdrive/stackdrive/internal/events"
	"github.com/stackdrive/stackdrive/internal/files"
	"github.com/stackdrive/stackdrive/internal/logging"
	"github.com/stackdrive/stackdrive/internal/metrics"
	"github.com/stackdrive/stackdrive/internal/quota"
	"github.com/stackdrive/stackdrive/internal/registry"
)

// Actor identifies the authenticated account performing an operation.
type Actor struct {
	ID    string
	Email string
	Name  string
}

// Service wires the stores together and enforces permissions.
type Service struct {
	registry    registry.Store
	ledger      quota.Ledger
	blobs       blob.Store
	broadcaster *events.Broadcaster

	// defaultAllotment is the plan size for accounts seen for the first
	// time.
	defaultAllotment int64
}

// New creates a service.
func New(reg registry.Store, ledger quota.Ledger, blobs blob.Store, b *events.Broadcaster, defaultAllotment int64) *Service {
	return &Service{
		registry:         reg,
		ledger:           ledger,
		blobs:            blobs,
		broadcaster:      b,
		defaultAllotment: defaultAllotment,
	}
}

// Upload records an uploaded blob as a new file owned by the actor. The
// blob must already be stored; a failure after the quota reservation
// releases the reservation and removes the blob again.
func (s *Service) Upload(ctx context.Context, actor *Actor, obj *blob.Object) (*files.File, error) {
	if actor == nil {
		return nil, unauthenticated("login required")
	}
	if obj == nil || obj.Name == "" {
		return nil, validation("missing file")
	}

	if err := s.ledger.EnsurePlan(ctx, actor.ID, s.defaultAllotment); err != nil {
		return nil, upstream("quota ledger unavailable", err)
	}

	if err := s.ledger.Reserve(ctx, actor.ID, obj.Size); err != nil {
		s.removeBlobIfUnreferenced(ctx, obj.CID)
		switch {
		case errors.Is(err, quota.ErrQuotaExceeded):
			metrics.RecordUpload(obj.Size, false)
			return nil, quotaExceeded("not enough storage left on your plan")
		case errors.Is(err, quota.ErrPlanInactive), errors.Is(err, quota.ErrPlanNotFound):
			return nil, unauthenticated("no active storage plan")
		default:
			return nil, upstream("quota ledger unavailable", err)
		}
	}

	f := &files.File{
		ID:         uuid.NewString(),
		OwnerID:    actor.ID,
		OwnerName:  actor.Name,
		OwnerEmail: strings.ToLower(actor.Email),
		Name:       obj.Name,
		CID:        obj.CID,
		MimeType:   obj.MimeType,
		Category:   files.CategoryFromMimeType(obj.MimeType),
		Size:       obj.Size,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.registry.Create(ctx, f); err != nil {
		// Compensate: the reservation must not outlive the failed record.
		if relErr := s.ledger.Release(ctx, actor.ID, obj.Size); relErr != nil {
			logging.Error("orphaned quota reservation",
				zap.String("account_id", actor.ID),
				zap.Int64("size", obj.Size),
				zap.Error(relErr))
		}
		s.removeBlobIfUnreferenced(ctx, obj.CID)
		metrics.RecordUpload(obj.Size, false)
		return nil, upstream("store file record", err)
	}

	metrics.RecordUpload(obj.Size, true)
	logging.Info("file uploaded",
		zap.String("file_id", f.ID),
		zap.String("account_id", actor.ID),
		zap.String("category", string(f.Category)),
		zap.Int64("size", f.Size))

	s.publish(events.Event{
		Type:     events.EventUpload,
		FileID:   f.ID,
		Name:     f.Name,
		Category: string(f.Category),
		OwnerID:  f.OwnerID,
	})
	return f, nil
}

// Delete removes a file the actor may delete and releases its quota.
func (s *Service) Delete(ctx context.Context, actor *Actor, fileID string) error {
	f, err := s.authorize(ctx, actor, fileID, files.PermissionDelete)
	if err != nil {
		return err
	}

	ownerID, size, err := s.registry.Delete(ctx, fileID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return notFound("file not found")
		}
		metrics.RecordDelete(false)
		return upstream("delete file record", err)
	}

	// The record is gone, so the owner gets the space back even if the
	// blob cleanup below fails. The reconciler repairs a crash between
	// the two steps.
	if err := s.ledger.Release(ctx, ownerID, size); err != nil {
		logging.Error("release after delete failed",
			zap.String("account_id", ownerID),
			zap.Int64("size", size),
			zap.Error(err))
	}
	s.removeBlobIfUnreferenced(ctx, f.CID)

	metrics.RecordDelete(true)
	logging.Info("file deleted",
		zap.String("file_id", fileID),
		zap.String("account_id", ownerID),
		zap.Int64("size", size))

	s.publish(events.Event{
		Type:     events.EventDelete,
		FileID:   fileID,
		Category: string(f.Category),
		OwnerID:  ownerID,
	})
	return nil
}

// Rename changes a file's display name.
func (s *Service) Rename(ctx context.Context, actor *Actor, fileID, newName string) (*files.File, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, validation("name must not be blank")
	}

	f, err := s.authorize(ctx, actor, fileID, files.PermissionUpdate)
	if err != nil {
		return nil, err
	}

	if err := s.registry.Rename(ctx, fileID, newName); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, notFound("file not found")
		}
		return nil, upstream("rename file", err)
	}
	f.Name = newName

	s.publish(events.Event{
		Type:     events.EventRename,
		FileID:   fileID,
		Name:     newName,
		Category: string(f.Category),
		OwnerID:  f.OwnerID,
	})
	return f, nil
}

// Share sets the recipient's permissions on a file. Only the owner may
// share. An empty permission set revokes the recipient's grant.
func (s *Service) Share(ctx context.Context, actor *Actor, fileID, email string, permissions []string) (*files.File, error) {
	if actor == nil {
		return nil, unauthenticated("login required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, validation("recipient email required")
	}

	perms, err := files.ParsePermissions(permissions)
	if err != nil {
		return nil, validation(err.Error())
	}

	f, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != actor.ID {
		return nil, permissionDenied("only the owner can share a file")
	}
	if email == strings.ToLower(f.OwnerEmail) {
		return nil, validation("cannot share a file with its owner")
	}

	if len(perms) == 0 {
		if err := s.registry.RemoveGrant(ctx, fileID, email); err != nil {
			return nil, upstream("revoke grant", err)
		}
	} else {
		g := files.Grant{Email: email, Permissions: perms}
		if err := s.registry.UpsertGrant(ctx, fileID, g); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return nil, notFound("file not found")
			}
			return nil, upstream("store grant", err)
		}
	}

	f, err = s.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	logging.Info("file shared",
		zap.String("file_id", fileID),
		zap.String("account_id", actor.ID),
		zap.String("recipient", email),
		zap.Int("permissions", len(perms)))

	s.publish(events.Event{
		Type:     events.EventShare,
		FileID:   fileID,
		Category: string(f.Category),
		OwnerID:  f.OwnerID,
	})
	return f, nil
}

// DownloadURL mints a time-limited download link for a file the actor may
// read.
func (s *Service) DownloadURL(ctx context.Context, actor *Actor, fileID string) (string, error) {
	f, err := s.authorize(ctx, actor, fileID, files.PermissionRead)
	if err != nil {
		return "", err
	}

	url, err := s.blobs.AccessURL(ctx, f.CID, f.Name, blob.DefaultURLTTL)
	if err != nil {
		return "", upstream("mint download link", err)
	}

	metrics.RecordDownloadURL()
	return url, nil
}

// List returns one page of the actor's files. The "shared" category is a
// view of files others granted to the actor.
func (s *Service) List(ctx context.Context, actor *Actor, category string, page int) (*registry.Listing, error) {
	if actor == nil {
		return nil, unauthenticated("login required")
	}

	var cat files.Category
	sharedOnly := false
	switch category {
	case "", "all":
	case "shared":
		sharedOnly = true
	default:
		if !files.ValidCategory(category) {
			return nil, validation("unknown category: " + category)
		}
		cat = files.Category(category)
	}

	listing, err := s.registry.List(ctx, registry.ListParams{
		AccountID:  actor.ID,
		Email:      strings.ToLower(actor.Email),
		Category:   cat,
		SharedOnly: sharedOnly,
		Page:       page,
	})
	if err != nil {
		return nil, upstream("list files", err)
	}
	return listing, nil
}

// Search returns the actor's own files whose name contains the term.
func (s *Service) Search(ctx context.Context, actor *Actor, term string) ([]*files.File, error) {
	if actor == nil {
		return nil, unauthenticated("login required")
	}
	if strings.TrimSpace(term) == "" {
		return nil, validation("search term must not be blank")
	}

	matches, err := s.registry.Search(ctx, actor.ID, term)
	if err != nil {
		return nil, upstream("search files", err)
	}
	return matches, nil
}

// Usage returns the actor's plan and current consumption.
func (s *Service) Usage(ctx context.Context, actor *Actor) (*quota.Plan, error) {
	if actor == nil {
		return nil, unauthenticated("login required")
	}
	if err := s.ledger.EnsurePlan(ctx, actor.ID, s.defaultAllotment); err != nil {
		return nil, upstream("quota ledger unavailable", err)
	}
	p, err := s.ledger.Plan(ctx, actor.ID)
	if err != nil {
		return nil, upstream("quota ledger unavailable", err)
	}
	return p, nil
}

// authorize loads a file and checks the actor's permission on it.
func (s *Service) authorize(ctx context.Context, actor *Actor, fileID string, p files.Permission) (*files.File, error) {
	if actor == nil {
		return nil, unauthenticated("login required")
	}
	f, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	allowed := files.CanPerform(actor.ID, strings.ToLower(actor.Email), f, p)
	metrics.RecordPermissionCheck(allowed)
	if !allowed {
		return nil, permissionDenied("you do not have permission to " + string(p))
	}
	return f, nil
}

func (s *Service) getFile(ctx context.Context, fileID string) (*files.File, error) {
	f, err := s.registry.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, notFound("file not found")
		}
		return nil, upstream("load file", err)
	}
	return f, nil
}

// removeBlobIfUnreferenced deletes stored content once no file record
// points at it. Blobs are content addressed, so identical uploads share
// one object. Failures are logged, not surfaced.
func (s *Service) removeBlobIfUnreferenced(ctx context.Context, cid string) {
	refs, err := s.registry.CountCID(ctx, cid)
	if err != nil {
		logging.Warn("count blob refs failed", zap.String("cid", cid), zap.Error(err))
		return
	}
	if refs > 0 {
		return
	}
	if err := s.blobs.Remove(ctx, cid); err != nil {
		logging.Warn("remove blob failed", zap.String("cid", cid), zap.Error(err))
	}
}

func (s *Service) publish(e events.Event) {
	if s.broadcaster != nil {
		s.broadcaster.Publish(e)
	}
}
