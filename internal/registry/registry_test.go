package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stackdrive/stackdrive/internal/files"
)

func newTestFile(owner, name string, category files.Category, createdAt time.Time) *files.File {
	return &files.File{
		ID:         uuid.NewString(),
		OwnerID:    owner,
		OwnerName:  "Owner " + owner,
		OwnerEmail: owner + "@example.com",
		Name:       name,
		CID:        "cid-" + name,
		MimeType:   "application/octet-stream",
		Category:   category,
		Size:       100,
		CreatedAt:  createdAt,
	}
}

func TestCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := newTestFile("acct-1", "report.pdf", files.CategoryDocument, time.Now())

	if err := s.Create(ctx, f); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, f); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate Create = %v, want ErrDuplicate", err)
	}

	got, err := s.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "report.pdf" || got.Category != files.CategoryDocument {
		t.Errorf("Get = %q/%q, want report.pdf/document", got.Name, got.Category)
	}

	owner, size, err := s.Delete(ctx, f.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if owner != "acct-1" || size != 100 {
		t.Errorf("Delete = %q/%d, want acct-1/100", owner, size)
	}
	if _, err := s.Get(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestRenameAfterDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := newTestFile("acct-1", "a.txt", files.CategoryOther, time.Now())
	s.Create(ctx, f)
	s.Delete(ctx, f.ID)

	if err := s.Rename(ctx, f.ID, "b.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Rename after delete = %v, want ErrNotFound", err)
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		f := newTestFile("acct-1", fmt.Sprintf("file-%02d", i), files.CategoryOther, base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, f); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page1, err := s.List(ctx, ListParams{AccountID: "acct-1", Page: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page1.Files) != PageSize {
		t.Errorf("page 1 size = %d, want %d", len(page1.Files), PageSize)
	}
	if page1.Total != 20 || page1.TotalPages != 3 || page1.CurrentPage != 1 {
		t.Errorf("page 1 = total %d pages %d current %d, want 20/3/1",
			page1.Total, page1.TotalPages, page1.CurrentPage)
	}
	// Newest first.
	if page1.Files[0].Name != "file-19" {
		t.Errorf("first file = %q, want file-19", page1.Files[0].Name)
	}

	page3, _ := s.List(ctx, ListParams{AccountID: "acct-1", Page: 3})
	if len(page3.Files) != 2 {
		t.Errorf("page 3 size = %d, want 2", len(page3.Files))
	}

	page4, _ := s.List(ctx, ListParams{AccountID: "acct-1", Page: 4})
	if len(page4.Files) != 0 {
		t.Errorf("page past end size = %d, want 0", len(page4.Files))
	}
	if page4.Total != 20 {
		t.Errorf("page past end total = %d, want 20", page4.Total)
	}

	// Page 0 is treated as page 1.
	page0, _ := s.List(ctx, ListParams{AccountID: "acct-1", Page: 0})
	if page0.CurrentPage != 1 || len(page0.Files) != PageSize {
		t.Errorf("page 0 = current %d size %d, want 1/%d", page0.CurrentPage, len(page0.Files), PageSize)
	}
}

func TestListCategoryFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.Create(ctx, newTestFile("acct-1", "a.pdf", files.CategoryDocument, now))
	s.Create(ctx, newTestFile("acct-1", "b.mp4", files.CategoryVideo, now.Add(time.Second)))
	s.Create(ctx, newTestFile("acct-1", "c.png", files.CategoryImage, now.Add(2*time.Second)))

	docs, err := s.List(ctx, ListParams{AccountID: "acct-1", Category: files.CategoryDocument, Page: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if docs.Total != 1 || docs.Files[0].Name != "a.pdf" {
		t.Errorf("document listing = total %d, want the single pdf", docs.Total)
	}

	all, _ := s.List(ctx, ListParams{AccountID: "acct-1", Page: 1})
	if all.Total != 3 {
		t.Errorf("unfiltered total = %d, want 3", all.Total)
	}
}

func TestListScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := newTestFile("acct-1", "shared.pdf", files.CategoryDocument, time.Now())
	s.Create(ctx, f)
	s.UpsertGrant(ctx, f.ID, files.Grant{
		Email:       "bob@example.com",
		Permissions: []files.Permission{files.PermissionRead},
	})

	// A grant does not pull the file into the recipient's own listings.
	got, err := s.List(ctx, ListParams{AccountID: "acct-2", Email: "bob@example.com", Page: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got.Total != 0 {
		t.Fatalf("non-owner listing total = %d, want 0", got.Total)
	}
	docs, _ := s.List(ctx, ListParams{AccountID: "acct-2", Email: "bob@example.com", Category: files.CategoryDocument, Page: 1})
	if docs.Total != 0 {
		t.Errorf("non-owner category listing total = %d, want 0", docs.Total)
	}

	// The owner still sees it.
	own, _ := s.List(ctx, ListParams{AccountID: "acct-1", Page: 1})
	if own.Total != 1 {
		t.Errorf("owner listing total = %d, want 1", own.Total)
	}
}

func TestListSharedOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	own := newTestFile("acct-2", "mine.txt", files.CategoryOther, now)
	granted := newTestFile("acct-1", "theirs.pdf", files.CategoryDocument, now)
	s.Create(ctx, own)
	s.Create(ctx, granted)
	s.UpsertGrant(ctx, granted.ID, files.Grant{
		Email:       "bob@example.com",
		Permissions: []files.Permission{files.PermissionRead},
	})

	// The shared view holds only granted files, not owned ones.
	got, err := s.List(ctx, ListParams{AccountID: "acct-2", Email: "bob@example.com", SharedOnly: true, Page: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got.Total != 1 || got.Files[0].ID != granted.ID {
		t.Fatalf("shared listing = total %d, want only the granted file", got.Total)
	}
	grant := got.Files[0].GrantFor("bob@example.com")
	if grant == nil || !grant.Has(files.PermissionRead) {
		t.Errorf("shared listing dropped bob's read grant")
	}

	// The owner's shared view is empty.
	ownerView, _ := s.List(ctx, ListParams{AccountID: "acct-1", Email: "alice@example.com", SharedOnly: true, Page: 1})
	if ownerView.Total != 0 {
		t.Errorf("owner's shared listing total = %d, want 0", ownerView.Total)
	}
}

func TestUpsertGrantReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := newTestFile("acct-1", "a.txt", files.CategoryOther, time.Now())
	s.Create(ctx, f)

	s.UpsertGrant(ctx, f.ID, files.Grant{
		Email:       "Bob@Example.com",
		Permissions: []files.Permission{files.PermissionRead, files.PermissionUpdate},
	})
	s.UpsertGrant(ctx, f.ID, files.Grant{
		Email:       "bob@example.com",
		Permissions: []files.Permission{files.PermissionRead},
	})

	got, _ := s.Get(ctx, f.ID)
	if len(got.Grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(got.Grants))
	}
	g := got.GrantFor("bob@example.com")
	if g == nil || len(g.Permissions) != 1 || !g.Has(files.PermissionRead) {
		t.Errorf("grant not replaced: %+v", got.Grants)
	}
}

func TestRemoveGrant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := newTestFile("acct-1", "a.txt", files.CategoryOther, time.Now())
	s.Create(ctx, f)
	s.UpsertGrant(ctx, f.ID, files.Grant{
		Email:       "bob@example.com",
		Permissions: []files.Permission{files.PermissionRead},
	})

	if err := s.RemoveGrant(ctx, f.ID, "BOB@example.com"); err != nil {
		t.Fatalf("RemoveGrant: %v", err)
	}
	got, _ := s.Get(ctx, f.ID)
	if len(got.Grants) != 0 {
		t.Errorf("grants after removal = %d, want 0", len(got.Grants))
	}

	// Removing a grant that does not exist is not an error, and neither
	// is removing from a file that does not exist.
	if err := s.RemoveGrant(ctx, f.ID, "nobody@example.com"); err != nil {
		t.Errorf("RemoveGrant on missing grant = %v, want nil", err)
	}
	if err := s.RemoveGrant(ctx, "missing-file", "bob@example.com"); err != nil {
		t.Errorf("RemoveGrant on missing file = %v, want nil", err)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.Create(ctx, newTestFile("acct-1", "Quarterly Report.pdf", files.CategoryDocument, now))
	s.Create(ctx, newTestFile("acct-1", "holiday.png", files.CategoryImage, now.Add(time.Second)))
	s.Create(ctx, newTestFile("acct-2", "other report.txt", files.CategoryOther, now))

	got, err := s.Search(ctx, "acct-1", "report")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Quarterly Report.pdf" {
		t.Errorf("Search = %d results, want only acct-1's report", len(got))
	}

	none, _ := s.Search(ctx, "acct-1", "missing")
	if len(none) != 0 {
		t.Errorf("Search miss = %d results, want 0", len(none))
	}
}

func TestSearchScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	f := newTestFile("acct-1", "granted notes.txt", files.CategoryOther, time.Now())
	s.Create(ctx, f)
	s.UpsertGrant(ctx, f.ID, files.Grant{
		Email:       "bob@example.com",
		Permissions: []files.Permission{files.PermissionRead},
	})

	// A grant does not make the file searchable for the recipient.
	got, err := s.Search(ctx, "acct-2", "notes")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("non-owner search = %d results, want 0", len(got))
	}
}

func TestSearchTermIsLiteral(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.Create(ctx, newTestFile("acct-1", "progress 100%.txt", files.CategoryOther, now))
	s.Create(ctx, newTestFile("acct-1", "plain.txt", files.CategoryOther, now))

	got, err := s.Search(ctx, "acct-1", "100%")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "progress 100%.txt" {
		t.Errorf("Search(100%%) = %d results, want the literal match only", len(got))
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSumSizesByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.Create(ctx, newTestFile("acct-1", "a", files.CategoryOther, now))
	s.Create(ctx, newTestFile("acct-1", "b", files.CategoryOther, now))
	s.Create(ctx, newTestFile("acct-2", "c", files.CategoryOther, now))

	sums, err := s.SumSizesByOwner(ctx)
	if err != nil {
		t.Fatalf("SumSizesByOwner: %v", err)
	}
	if sums["acct-1"] != 200 || sums["acct-2"] != 100 {
		t.Errorf("sums = %v, want acct-1:200 acct-2:100", sums)
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		total int64
		want  int
	}{
		{0, 0},
		{1, 1},
		{9, 1},
		{10, 2},
		{18, 2},
		{19, 3},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.total); got != tt.want {
			t.Errorf("TotalPages(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}
