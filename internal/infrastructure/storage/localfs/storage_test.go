package localfs

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestSaveCreatesNestedDirectories(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := "customers/c1/doc-1/contract.pdf"
	if err := s.Save(context.Background(), key, strings.NewReader("payload")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("data = %q", data)
	}
}

func TestSaveRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, key := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		if err := s.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Errorf("Save(%q) accepted an escaping key", key)
		}
	}
}
