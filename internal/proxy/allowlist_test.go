package proxy

import "testing"

func TestAllowList_ExactAndGlob(t *testing.T) {
	al := NewAllowList([]string{
		"/contacts/*",
		"/calendars/*",
		"/oauth/userinfo",
		"opportunities/*", // missing leading slash gets normalized
	})

	allowed := []string{
		"/contacts/",
		"/contacts/abc123",
		"/contacts/abc123/notes",
		"/calendars/events",
		"/oauth/userinfo",
		"/opportunities/pipeline",
		"/contacts/abc?include=tags", // query string is not part of the match
		"contacts/abc",               // normalized to /contacts/abc
	}
	for _, e := range allowed {
		if !al.Allowed(e) {
			t.Fatalf("expected allowed: %q", e)
		}
	}

	denied := []string{
		"/users/me",
		"/oauth/token",
		"/oauth/userinfo/extra",
		"/",
		"",
		"/contactsx/abc",
	}
	for _, e := range denied {
		if al.Allowed(e) {
			t.Fatalf("expected denied: %q", e)
		}
	}
}

func TestAllowList_TraversalNeutralized(t *testing.T) {
	al := NewAllowList([]string{"/contacts/*"})

	// path.Clean resolves the dot segments before matching
	if al.Allowed("/contacts/../oauth/token") {
		t.Fatal("traversal escaped the allow-list")
	}
	if !al.Allowed("/contacts/a/../b") {
		t.Fatal("/contacts/a/../b cleans to /contacts/b and should pass")
	}
}

func TestAllowList_EmptyDeniesEverything(t *testing.T) {
	al := NewAllowList(nil)
	if al.Allowed("/contacts/abc") {
		t.Fatal("empty allow-list must deny by default")
	}
}
