package audio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvidlabs/attune/pkg/types"
)

func TestFetch_ReadsFileAndSetsMetadata(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "rec.wav"), []byte("RIFFdata"), 0o600); err != nil {
		t.Fatal(err)
	}

	d := NewDir(root)
	req, err := d.Fetch(context.Background(), &types.Session{
		ID:       "s1",
		AudioRef: "rec.wav",
		Duration: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if req.MIMEType != "audio/wav" {
		t.Errorf("MIMEType = %q, want audio/wav", req.MIMEType)
	}
	if req.ExpectedDuration != 5*time.Minute {
		t.Errorf("ExpectedDuration = %v, want 5m", req.ExpectedDuration)
	}
	data, err := io.ReadAll(req.Audio)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "RIFFdata" {
		t.Errorf("payload = %q", data)
	}
}

func TestFetch_RejectsEscapingReferences(t *testing.T) {
	d := NewDir(t.TempDir())

	for _, ref := range []string{"", "../secret.wav", "/etc/passwd"} {
		if _, err := d.Fetch(context.Background(), &types.Session{ID: "s1", AudioRef: ref}); err == nil {
			t.Errorf("Fetch(%q): want error, got nil", ref)
		}
	}
}

func TestTypeByName(t *testing.T) {
	cases := map[string]string{
		"a.wav":     "audio/wav",
		"b.M4A":     "audio/m4a",
		"c.mp3":     "audio/mpeg",
		"d.unknown": "application/octet-stream",
	}
	for name, want := range cases {
		if got := TypeByName(name); got != want {
			t.Errorf("TypeByName(%q) = %q, want %q", name, got, want)
		}
	}
}
