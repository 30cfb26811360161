package permissions

import "testing"

func TestForRole(t *testing.T) {
	if !ForRole(RoleModerator).Has(PermPinMessages) {
		t.Error("moderator should be able to pin")
	}
	if ForRole(RoleMember).Has(PermPinMessages) {
		t.Error("member should not be able to pin")
	}
	if !ForRole(RoleMember).Has(PermSendMessages) {
		t.Error("member should be able to send")
	}
	if ForRole(Role("unknown")).Has(PermDeleteAnyMessage) {
		t.Error("unknown role should default to member permissions")
	}
}

func TestAdministratorBypass(t *testing.T) {
	p := ForRole(RoleAdmin)
	for _, perm := range []Permission{PermSendMessages, PermPinMessages, PermDeleteAnyMessage, PermManageDirectory, PermConfigureAutoMode} {
		if !p.Has(perm) {
			t.Errorf("admin should have %v", perm)
		}
	}
}

func TestAddRemove(t *testing.T) {
	p := Permission(0).Add(PermSendMessages).Add(PermPinMessages)
	if !p.Has(PermSendMessages | PermPinMessages) {
		t.Fatal("expected both bits set")
	}
	p = p.Remove(PermPinMessages)
	if p.Has(PermPinMessages) {
		t.Fatal("expected pin bit cleared")
	}
	if !p.Has(PermSendMessages) {
		t.Fatal("send bit should survive removal of pin bit")
	}
}
