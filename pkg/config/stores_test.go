package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/blockfs/pkg/fs"
	"github.com/marmos91/blockfs/pkg/store/device/file"
	"github.com/marmos91/blockfs/pkg/store/device/memory"
)

func TestCreateDevice_Memory(t *testing.T) {
	dev, err := CreateDevice(context.Background(), &StoreConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}
	defer dev.Close()

	if _, ok := dev.(*memory.MemoryDevice); !ok {
		t.Errorf("Expected *memory.MemoryDevice, got %T", dev)
	}
}

func TestCreateDevice_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol", "volume.img")

	dev, err := CreateDevice(context.Background(), &StoreConfig{
		Type: "file",
		File: map[string]any{"path": path, "sync": "true"},
	})
	if err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}
	defer dev.Close()

	fileDev, ok := dev.(*file.FileDevice)
	if !ok {
		t.Fatalf("Expected *file.FileDevice, got %T", dev)
	}
	if fileDev.Path() != path {
		t.Errorf("Expected path %q, got %q", path, fileDev.Path())
	}
}

func TestCreateDevice_FileRequiresPath(t *testing.T) {
	_, err := CreateDevice(context.Background(), &StoreConfig{Type: "file", File: map[string]any{}})
	if err == nil || !strings.Contains(err.Error(), "path is required") {
		t.Fatalf("Expected 'path is required' error, got %v", err)
	}
}

func TestCreateDevice_BadgerInMemory(t *testing.T) {
	dev, err := CreateDevice(context.Background(), &StoreConfig{
		Type:   "badger",
		Badger: map[string]any{"in_memory": true, "page_size": 256},
	})
	if err != nil {
		t.Fatalf("CreateDevice failed: %v", err)
	}
	defer dev.Close()
}

func TestCreateDevice_S3RequiresBucketAndRegion(t *testing.T) {
	_, err := CreateDevice(context.Background(), &StoreConfig{
		Type: "s3",
		S3:   map[string]any{"region": "us-east-1"},
	})
	if err == nil || !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Expected 'bucket is required' error, got %v", err)
	}

	_, err = CreateDevice(context.Background(), &StoreConfig{
		Type: "s3",
		S3:   map[string]any{"bucket": "volumes"},
	})
	if err == nil || !strings.Contains(err.Error(), "region is required") {
		t.Errorf("Expected 'region is required' error, got %v", err)
	}
}

func TestCreateDevice_UnknownType(t *testing.T) {
	if _, err := CreateDevice(context.Background(), &StoreConfig{Type: "tape"}); err == nil {
		t.Fatal("Expected error for unknown store type")
	}
}

func TestCreateDevice_InvalidOptions(t *testing.T) {
	_, err := CreateDevice(context.Background(), &StoreConfig{
		Type:   "badger",
		Badger: map[string]any{"page_size": "huge"},
	})
	if err == nil {
		t.Fatal("Expected decode error for non-numeric page_size")
	}
}

func TestOpenVolume_FormatsAndReopens(t *testing.T) {
	ctx := context.Background()
	cfg := &StoreConfig{
		Type:      "file",
		TotalSize: 4096,
		File:      map[string]any{"path": filepath.Join(t.TempDir(), "volume.img")},
	}

	volume, err := OpenVolume(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenVolume failed: %v", err)
	}
	if err := volume.CreateFile(ctx, "kept"); err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if err := volume.WriteFile(ctx, "kept", []byte("across restarts")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := volume.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	volume, err = OpenVolume(ctx, cfg)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer volume.Close()

	data, err := volume.ReadFile(ctx, "kept")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "across restarts" {
		t.Errorf("Expected persisted contents, got %q", data)
	}

	stats := volume.Statistics(ctx)
	if stats.FilesTotal != fs.MaxFiles || stats.FilesUsed != 1 {
		t.Errorf("Unexpected statistics after reopen: %+v", stats)
	}
}
