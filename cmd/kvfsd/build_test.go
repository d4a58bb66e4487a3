package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"kvfs/pkg/config"
	"kvfs/pkg/vfs"
)

func TestBuild(t *testing.T) {
	host := t.TempDir()
	if err := os.WriteFile(filepath.Join(host, "motd"), []byte("welcome\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg := config.Default()
	cfg.RAMDisks = []config.RAMDisk{{Name: "ram0", Size: 4096}}
	cfg.Mounts = []config.Mount{{Path: "/mnt/host", HostDir: host, ReadOnly: true}}

	sys, err := build(cfg)
	if err != nil {
		t.Fatalf("build() failed: %v", err)
	}

	for _, path := range []string{"/tmp", "/dev/null", "/dev/ram0", "/mnt/host/motd"} {
		if _, err := sys.ns.ResolvePath(path, nil, true); err != nil {
			t.Errorf("ResolvePath(%s) failed: %v", path, err)
		}
	}
	if n := len(sys.ns.Volumes()); n != 3 {
		t.Errorf("Volumes() = %d, want 3", n)
	}

	var visited int
	sys.ns.Walk("/", func(path string, node vfs.Node, err error) error {
		visited++
		return nil
	})
	if visited < 6 {
		t.Errorf("Walk() visited %d nodes", visited)
	}

	h, err := sys.ns.Open(context.Background(), "/mnt/host/motd", vfs.O_WRONLY, nil)
	if err == nil {
		h.Close()
		t.Error("writing through a read-only host mount succeeded")
	}

	if fd := sys.init.Open("/dev/ram0", vfs.O_RDWR); fd < 0 {
		t.Errorf("init Open(/dev/ram0) = %d", fd)
	}
}

func TestBuildRejectsBadHostDir(t *testing.T) {
	cfg := config.Default()
	cfg.Mounts = []config.Mount{{Path: "/host", HostDir: filepath.Join(t.TempDir(), "missing")}}
	if _, err := build(cfg); err == nil {
		t.Error("build() with a missing host directory succeeded")
	}
}
