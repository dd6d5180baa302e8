package snapshot

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFileDestination_WriteRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "snapshot.jsonl")
	d := NewFileDestination(path)

	for _, payload := range []string{"first\n", "second\n"} {
		if err := d.Write(ctx, []byte(payload)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		rc, err := d.Read(ctx)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if string(got) != payload {
			t.Errorf("Read() = %q, want %q", got, payload)
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the snapshot file, found %d entries", len(entries))
	}
}

func TestFileDestination_ReadMissing(t *testing.T) {
	d := NewFileDestination(filepath.Join(t.TempDir(), "absent.jsonl"))
	if _, err := d.Read(context.Background()); err == nil {
		t.Fatal("expected error for missing snapshot")
	}
}

func TestParseLocation(t *testing.T) {
	ctx := context.Background()

	d, err := ParseLocation(ctx, "/var/lib/consentd/snap.jsonl", "us-east-1", "")
	if err != nil {
		t.Fatalf("ParseLocation(file): %v", err)
	}
	if _, ok := d.(*FileDestination); !ok {
		t.Errorf("got %T, want *FileDestination", d)
	}

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "s3:///key"} {
		if _, err := ParseLocation(ctx, bad, "us-east-1", ""); err == nil {
			t.Errorf("ParseLocation(%q) should fail", bad)
		}
	}

	d, err = ParseLocation(ctx, "s3://bucket/path/snap.jsonl", "us-east-1", "http://127.0.0.1:9000")
	if err != nil {
		t.Fatalf("ParseLocation(s3): %v", err)
	}
	if d.Name() != "s3://bucket/path/snap.jsonl" {
		t.Errorf("Name() = %q", d.Name())
	}
}
