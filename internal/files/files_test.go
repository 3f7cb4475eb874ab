package files

import "testing"

func TestCategoryFromMimeType(t *testing.T) {
	tests := []struct {
		mime string
		want Category
	}{
		{"application/pdf", CategoryDocument},
		{"video/mp4", CategoryVideo},
		{"video/webm", CategoryVideo},
		{"image/png", CategoryImage},
		{"image/jpeg", CategoryImage},
		{"audio/mpeg", CategoryAudio},
		{"text/plain", CategoryOther},
		{"application/zip", CategoryOther},
		{"application/msword", CategoryOther},
		{"", CategoryOther},
		// Prefix rules only apply to the type, not a substring.
		{"application/x-video", CategoryOther},
	}
	for _, tt := range tests {
		if got := CategoryFromMimeType(tt.mime); got != tt.want {
			t.Errorf("CategoryFromMimeType(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestValidCategory(t *testing.T) {
	for _, c := range Categories {
		if !ValidCategory(string(c)) {
			t.Errorf("ValidCategory(%q) = false", c)
		}
	}
	for _, s := range []string{"", "archive", "Documents", "all"} {
		if ValidCategory(s) {
			t.Errorf("ValidCategory(%q) = true", s)
		}
	}
}

func TestParsePermissions(t *testing.T) {
	perms, err := ParsePermissions([]string{"file:read", "file:update", "file:read"})
	if err != nil {
		t.Fatalf("ParsePermissions: %v", err)
	}
	if len(perms) != 2 {
		t.Errorf("duplicates not collapsed: %v", perms)
	}

	if _, err := ParsePermissions([]string{"file:read", "file:own"}); err == nil {
		t.Error("unknown permission accepted")
	}

	empty, err := ParsePermissions(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty set = %v, %v", empty, err)
	}
}

func TestCanPerform(t *testing.T) {
	shared := &File{
		ID:         "f1",
		OwnerID:    "alice",
		OwnerEmail: "alice@example.com",
		Grants: []Grant{
			{Email: "bob@example.com", Permissions: []Permission{PermissionRead, PermissionUpdate}},
		},
	}

	tests := []struct {
		name  string
		id    string
		email string
		perm  Permission
		want  bool
	}{
		{"owner read", "alice", "alice@example.com", PermissionRead, true},
		{"owner delete", "alice", "alice@example.com", PermissionDelete, true},
		{"grantee granted perm", "bob", "bob@example.com", PermissionRead, true},
		{"grantee granted update", "bob", "bob@example.com", PermissionUpdate, true},
		{"grantee missing perm", "bob", "bob@example.com", PermissionDelete, false},
		{"grantee email case-insensitive", "bob", "Bob@Example.COM", PermissionRead, true},
		{"stranger", "eve", "eve@example.com", PermissionRead, false},
		{"anonymous", "", "", PermissionRead, false},
		{"grantee without email claim", "bob", "", PermissionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanPerform(tt.id, tt.email, shared, tt.perm); got != tt.want {
				t.Errorf("CanPerform(%q, %q, %q) = %v, want %v", tt.id, tt.email, tt.perm, got, tt.want)
			}
		})
	}

	if CanPerform("alice", "alice@example.com", nil, PermissionRead) {
		t.Error("nil file allowed")
	}

	// A grant that somehow carries no permissions allows nothing.
	emptyGrant := &File{
		OwnerID: "alice",
		Grants:  []Grant{{Email: "bob@example.com"}},
	}
	if CanPerform("bob", "bob@example.com", emptyGrant, PermissionRead) {
		t.Error("empty grant allowed read")
	}
}
