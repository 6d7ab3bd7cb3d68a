package builder

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/containerd/containerd/v2/pkg/testutil"
	"github.com/containerd/errdefs"

	"github.com/mmorawiec/create-fat32-image/internal/loop"
	"github.com/mmorawiec/create-fat32-image/internal/mountfs"
)

func requiresBuildEnv(t *testing.T) {
	t.Helper()
	testutil.RequiresRoot(t)
	for _, tool := range []string{"sfdisk", "mkfs.fat"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not found: %v", tool, err)
		}
	}
}

// mountImage attaches and mounts a built image's partition for inspection.
func mountImage(t *testing.T, imagePath string, sizeBytes int64) string {
	t.Helper()
	offset := int64(PartitionStartSector * SectorSize)
	dev, err := loop.Attach(imagePath, uint64(offset), uint64(sizeBytes-offset))
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	t.Cleanup(func() { dev.Detach() })

	s, err := mountfs.Mount(context.Background(), dev.Path)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	t.Cleanup(func() { s.Unmount(context.Background()) })
	return s.Target
}

func TestBuildEndToEndDirectory(t *testing.T) {
	requiresBuildEnv(t)

	src := t.TempDir()
	payload := bytes.Repeat([]byte{0xA5}, 2_000_000)
	if err := os.WriteFile(filepath.Join(src, "payload.bin"), payload, 0644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	req, err := NewRequest("", src, outDir)
	if err != nil {
		t.Fatal(err)
	}
	res, err := New().Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// ceil(2000000 / 1MiB) + 33 = 35 MB exactly
	if res.SizeBytes != 35*mib {
		t.Errorf("SizeBytes = %d, want %d", res.SizeBytes, 35*mib)
	}
	fi, err := os.Stat(res.ImagePath)
	if err != nil {
		t.Fatalf("stat image: %v", err)
	}
	if fi.Size() != 35*mib {
		t.Errorf("image file size = %d, want %d", fi.Size(), 35*mib)
	}

	root := mountImage(t, res.ImagePath, res.SizeBytes)
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one root entry, got %d", len(entries))
	}
	info, err := entries[0].Info()
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Name() != "payload.bin" || info.Size() != 2_000_000 {
		t.Errorf("root entry %s size %d, want payload.bin size 2000000", entries[0].Name(), info.Size())
	}
}

func TestBuildEndToEndArchive(t *testing.T) {
	requiresBuildEnv(t)

	files := map[string]int{
		"boot/kernel.bin": 500_000,
		"config.txt":      120,
	}

	archivePath := filepath.Join(t.TempDir(), "payload.tar.gz")
	af, err := os.Create(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(af)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{Name: "boot", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatal(err)
	}
	for name, size := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(size)}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(bytes.Repeat([]byte{'t'}, size)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gw.Close()
	af.Close()

	outDir := t.TempDir()
	req, err := NewRequest(archivePath, "", outDir)
	if err != nil {
		t.Fatal(err)
	}
	res, err := New().Build(context.Background(), req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if want := filepath.Join(outDir, "payload.tar.gz.img"); res.ImagePath != want {
		t.Errorf("ImagePath = %s, want %s", res.ImagePath, want)
	}

	// Round-trip fidelity: the populated filesystem lists the same
	// relative paths and sizes as the archive.
	root := mountImage(t, res.ImagePath, res.SizeBytes)
	for name, size := range files {
		fi, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if fi.Size() != int64(size) {
			t.Errorf("%s size = %d, want %d", name, fi.Size(), size)
		}
	}
}

func TestBuildRejectsExistingImage(t *testing.T) {
	requiresBuildEnv(t)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "f.bin"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	req, err := NewRequest("", src, outDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New().Build(context.Background(), req); err != nil {
		t.Fatalf("first build failed: %v", err)
	}

	if _, err := New().Build(context.Background(), req); !errdefs.IsAlreadyExists(err) {
		t.Errorf("second build should be rejected, got %v", err)
	}

	req.Overwrite = true
	if _, err := New().Build(context.Background(), req); err != nil {
		t.Errorf("overwrite build failed: %v", err)
	}
}
