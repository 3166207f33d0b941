package kerberos

import "testing"

func TestStaticMapperMapsKnownPrincipal(t *testing.T) {
	m := NewStaticMapper(&IdentityMappingConfig{
		StaticMap: map[string]StaticIdentity{
			"alice@EXAMPLE.COM": {UID: 1001, GID: 1001, SID: "S-1-5-21-100-200-300-1000"},
		},
		DefaultUID: 65534,
		DefaultGID: 65534,
	})

	id, err := m.MapPrincipal("alice", "EXAMPLE.COM")
	if err != nil {
		t.Fatalf("MapPrincipal: %v", err)
	}
	if id.UID != 1001 || id.GID != 1001 {
		t.Fatalf("expected mapped UID/GID, got %+v", id)
	}
	if id.SID != "S-1-5-21-100-200-300-1000" {
		t.Fatalf("expected mapped SID, got %q", id.SID)
	}
}

func TestStaticMapperFallsBackToDefault(t *testing.T) {
	m := NewStaticMapper(&IdentityMappingConfig{
		DefaultUID: 65534,
		DefaultGID: 65534,
	})

	id, err := m.MapPrincipal("bob", "EXAMPLE.COM")
	if err != nil {
		t.Fatalf("MapPrincipal: %v", err)
	}
	if id.UID != 65534 || id.GID != 65534 {
		t.Fatalf("expected default UID/GID, got %+v", id)
	}
	if id.Principal != "bob" {
		t.Fatalf("expected principal to be preserved, got %q", id.Principal)
	}
}

func TestNewStaticMapperHandlesNilMap(t *testing.T) {
	m := NewStaticMapper(&IdentityMappingConfig{DefaultUID: 1, DefaultGID: 1})
	if _, err := m.MapPrincipal("anyone", "REALM"); err != nil {
		t.Fatalf("MapPrincipal with nil static map: %v", err)
	}
}
