package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"accantona/internal/store/memory"
	"accantona/internal/store/storetest"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(testSecret, "accantona")
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	return a
}

func TestNewAuthenticator_ShortSecret(t *testing.T) {
	if _, err := NewAuthenticator("short", ""); err == nil {
		t.Fatal("NewAuthenticator() should reject short secrets")
	}
}

func TestAuthenticator_IssueVerify(t *testing.T) {
	a := newAuthenticator(t)
	token, err := a.Issue(User{ID: "alice", Email: "alice@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	u, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if u.ID != "alice" || u.Email != "alice@example.com" {
		t.Errorf("Verify() = %+v", u)
	}
}

func TestAuthenticator_VerifyRejects(t *testing.T) {
	a := newAuthenticator(t)
	other, _ := NewAuthenticator("ffffffffffffffffffffffffffffffff", "accantona")
	foreignIssuer, _ := NewAuthenticator(testSecret, "someone-else")

	expired, _ := a.Issue(User{ID: "alice"}, -time.Minute)
	wrongKey, _ := other.Issue(User{ID: "alice"}, time.Hour)
	wrongIssuer, _ := foreignIssuer.Issue(User{ID: "alice"}, time.Hour)
	noSubject, _ := a.Issue(User{}, time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "accantona"},
	}).SignedString([]byte(testSecret))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "alice", Issuer: "accantona",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"wrong alg":    wrongAlg,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAuthenticator_Authenticate(t *testing.T) {
	a := newAuthenticator(t)
	token, _ := a.Issue(User{ID: "alice"}, time.Hour)

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"valid", "Bearer " + token, nil},
		{"lowercase scheme", "bearer " + token, nil},
		{"missing header", "", ErrMissingToken},
		{"basic auth", "Basic abc", ErrMissingToken},
		{"empty token", "Bearer ", ErrMissingToken},
		{"bad token", "Bearer nope", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			u, err := a.Authenticate(r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || u.ID != "alice" {
				t.Errorf("Authenticate() = %+v, %v", u, err)
			}
		})
	}
}

func TestUserContext(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("empty context should carry no user")
	}
	ctx := WithUser(context.Background(), User{ID: "alice"})
	if u, ok := UserFromContext(ctx); !ok || u.ID != "alice" {
		t.Errorf("UserFromContext() = %+v, %v", u, ok)
	}
}

func TestPermissionChecker(t *testing.T) {
	st := memory.New()
	if err := storetest.Seed().Apply(context.Background(), st); err != nil {
		t.Fatalf("seed: %v", err)
	}
	p := NewPermissionChecker(st)

	tests := []struct {
		name       string
		user       string
		workspace  string
		wantManage bool
		wantView   bool
	}{
		{"owner", storetest.OwnerID, storetest.WorkspaceID, true, true},
		{"viewer", storetest.ViewerID, storetest.WorkspaceID, false, true},
		{"owner of another workspace", "carol", storetest.WorkspaceID, false, false},
		{"stranger", "mallory", storetest.WorkspaceID, false, false},
		{"anonymous", "", storetest.WorkspaceID, false, false},
		{"unknown workspace", storetest.OwnerID, "ws-missing", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			manage, err := p.CanManageWorkspace(ctx, tt.user, tt.workspace)
			if err != nil {
				t.Fatalf("CanManageWorkspace() error = %v", err)
			}
			view, err := p.CanViewWorkspace(ctx, tt.user, tt.workspace)
			if err != nil {
				t.Fatalf("CanViewWorkspace() error = %v", err)
			}
			if manage != tt.wantManage || view != tt.wantView {
				t.Errorf("manage, view = %v, %v; want %v, %v", manage, view, tt.wantManage, tt.wantView)
			}
		})
	}
}
