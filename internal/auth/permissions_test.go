package auth

import (
	"errors"
	"testing"
)

func TestHasPermission_Matrix(t *testing.T) {
	all := []Permission{
		PermUserCreate, PermUserRead, PermUserUpdate, PermUserDelete,
		PermLinkCreate, PermLinkRead, PermLinkUpdate, PermLinkDelete,
		PermPaymentCreate,
	}

	granted := map[Role]map[Permission]bool{
		RoleAdmin: {
			PermUserCreate: true, PermUserRead: true, PermUserUpdate: true, PermUserDelete: true,
			PermLinkCreate: true, PermLinkRead: true, PermLinkUpdate: true, PermLinkDelete: true,
			PermPaymentCreate: true,
		},
		RoleDeveloper: {
			PermLinkRead: true, PermPaymentCreate: true, PermLinkCreate: true, PermLinkDelete: true,
		},
		RoleViewer: {
			PermLinkRead: true, PermUserRead: true, PermPaymentCreate: true, PermLinkCreate: true, PermLinkDelete: true,
		},
	}

	for role, perms := range granted {
		for _, perm := range all {
			if got := HasPermission(role, perm); got != perms[perm] {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", role, perm, got, perms[perm])
			}
		}
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission("superuser", PermLinkRead) {
		t.Error("unknown role should have no permissions")
	}
	if PermissionsForRole("superuser") != nil {
		t.Error("PermissionsForRole(unknown) should be nil")
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleViewer)
	perms[0] = PermUserDelete

	if HasPermission(RoleViewer, PermUserDelete) {
		t.Error("mutating the returned slice changed the role map")
	}
}

func TestAuthorize(t *testing.T) {
	viewer := &Identity{ID: "u1", Role: RoleViewer}
	admin := &Identity{ID: "u2", Role: RoleAdmin}

	tests := []struct {
		name     string
		identity *Identity
		perm     Permission
		want     error
	}{
		{"no identity", nil, PermLinkRead, ErrUnauthenticated},
		{"viewer cannot delete users", viewer, PermUserDelete, ErrForbidden},
		{"admin can delete users", admin, PermUserDelete, nil},
		{"viewer can create links", viewer, PermLinkCreate, nil},
		{"viewer cannot update links", viewer, PermLinkUpdate, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.identity, tt.perm)
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Errorf("Authorize() = %v, want %v", err, tt.want)
			}
		})
	}
}
