package auth

import (
	"context"
	"testing"
	"time"

	"github.com/toolbridge/toolbridge/internal/domain/catalog"
)

// fakeGrantStore serves grants from a map keyed by serverID+"/"+userID.
type fakeGrantStore struct {
	grants map[string]*AccessGrant
}

func (f *fakeGrantStore) GetGrant(_ context.Context, serverID, userID string) (*AccessGrant, error) {
	g, ok := f.grants[serverID+"/"+userID]
	if !ok {
		return nil, ErrGrantNotFound
	}
	return g, nil
}

func (f *fakeGrantStore) UpsertGrant(_ context.Context, g *AccessGrant) error {
	f.grants[g.ServerID+"/"+g.UserID] = g
	return nil
}

func (f *fakeGrantStore) RevokeGrant(_ context.Context, serverID, userID string, revokedAt time.Time) error {
	g, ok := f.grants[serverID+"/"+userID]
	if !ok {
		return ErrGrantNotFound
	}
	g.RevokedAt = &revokedAt
	return nil
}

func testServer(visibility catalog.Visibility, enabled bool) *catalog.ToolServer {
	return &catalog.ToolServer{
		ID:         "srv-1",
		Slug:       "weather",
		Visibility: visibility,
		Enabled:    enabled,
		OwnerID:    "owner-1",
	}
}

func TestCheckAccessPublic(t *testing.T) {
	gate := NewGate(&fakeGrantStore{grants: map[string]*AccessGrant{}})
	server := testServer(catalog.VisibilityPublic, true)

	d, err := gate.CheckAccess(context.Background(), server, "")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if !d.Allowed {
		t.Error("anonymous access to a public server should be allowed")
	}
	if d.IsOwner {
		t.Error("anonymous caller is not the owner")
	}

	d, _ = gate.CheckAccess(context.Background(), server, "owner-1")
	if !d.Allowed || !d.IsOwner {
		t.Errorf("owner on public server: %+v", d)
	}
}

func TestCheckAccessDisabled(t *testing.T) {
	gate := NewGate(&fakeGrantStore{grants: map[string]*AccessGrant{}})
	server := testServer(catalog.VisibilityPublic, false)

	d, err := gate.CheckAccess(context.Background(), server, "owner-1")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if d.Allowed {
		t.Error("disabled server must deny everyone, owner included")
	}
	if d.Reason == "" {
		t.Error("denial needs a reason")
	}
}

func TestCheckAccessPrivate(t *testing.T) {
	now := time.Now().UTC()
	expired := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	store := &fakeGrantStore{grants: map[string]*AccessGrant{
		"srv-1/granted":      {ServerID: "srv-1", UserID: "granted"},
		"srv-1/timed":        {ServerID: "srv-1", UserID: "timed", ExpiresAt: &future},
		"srv-1/expired-user": {ServerID: "srv-1", UserID: "expired-user", ExpiresAt: &expired},
		"srv-1/revoked-user": {ServerID: "srv-1", UserID: "revoked-user", RevokedAt: &now},
	}}
	gate := NewGate(store)
	server := testServer(catalog.VisibilityPrivate, true)

	tests := []struct {
		name    string
		userID  string
		allowed bool
		isOwner bool
	}{
		{"anonymous denied", "", false, false},
		{"owner allowed", "owner-1", true, true},
		{"granted user allowed", "granted", true, false},
		{"unexpired grant allowed", "timed", true, false},
		{"no grant denied", "stranger", false, false},
		{"expired grant denied", "expired-user", false, false},
		{"revoked grant denied", "revoked-user", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := gate.CheckAccess(context.Background(), server, tt.userID)
			if err != nil {
				t.Fatalf("CheckAccess: %v", err)
			}
			if d.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v (reason %q)", d.Allowed, tt.allowed, d.Reason)
			}
			if d.IsOwner != tt.isOwner {
				t.Errorf("IsOwner = %v, want %v", d.IsOwner, tt.isOwner)
			}
			if !tt.allowed && d.Reason == "" {
				t.Error("denial needs a reason")
			}
		})
	}
}
