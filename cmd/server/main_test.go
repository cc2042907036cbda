package main

import "testing"

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version must not be empty")
	}
}

func TestParseQdrantURL_HostPort(t *testing.T) {
	host, port, tls, err := parseQdrantURL("http://qdrant:6334")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "qdrant" || port != 6334 || tls {
		t.Errorf("got (%q, %d, %v), want (%q, %d, %v)", host, port, tls, "qdrant", 6334, false)
	}
}

func TestParseQdrantURL_DefaultsPortWhenMissing(t *testing.T) {
	host, port, _, err := parseQdrantURL("http://qdrant.internal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "qdrant.internal" || port != 6334 {
		t.Errorf("got (%q, %d), want (%q, %d)", host, port, "qdrant.internal", 6334)
	}
}

func TestParseQdrantURL_DetectsTLS(t *testing.T) {
	_, _, tls, err := parseQdrantURL("https://qdrant.example.com:6334")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tls {
		t.Error("expected useTLS=true for https scheme")
	}
}

func TestParseQdrantURL_RejectsInvalid(t *testing.T) {
	if _, _, _, err := parseQdrantURL("::not a url::"); err == nil {
		t.Error("expected an error for a malformed URL")
	}
}

func TestParseQdrantURL_RejectsBadPort(t *testing.T) {
	if _, _, _, err := parseQdrantURL("http://qdrant:notaport"); err == nil {
		t.Error("expected an error for a non-numeric port")
	}
}
