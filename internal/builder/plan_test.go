package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"

	"github.com/mmorawiec/create-fat32-image/internal/source"
)

func TestImageSizeBytes(t *testing.T) {
	tests := []struct {
		name         string
		contentBytes int64
		wantMB       int64
	}{
		{"empty source", 0, 33},
		{"one byte", 1, 34},
		{"exactly one MiB", 1 << 20, 34},
		{"one MiB plus one", 1<<20 + 1, 35},
		{"two million bytes", 2_000_000, 35},
		{"one GiB", 1 << 30, 1024 + 33},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := imageSizeBytes(tc.contentBytes)
			if want := tc.wantMB * mib; got != want {
				t.Errorf("imageSizeBytes(%d) = %d, want %d (%d MB)", tc.contentBytes, got, want, tc.wantMB)
			}
		})
	}
}

func TestPlanGeometry(t *testing.T) {
	req := Request{SourceKind: source.KindDirectory, SourcePath: "/src/boot", OutputDir: "/out"}
	plan := NewPlan(req, 2_000_000)

	if plan.ImagePath != filepath.Join("/out", "boot.img") {
		t.Errorf("ImagePath = %s, want /out/boot.img", plan.ImagePath)
	}
	if plan.PartitionOffsetBytes() != 1048576 {
		t.Errorf("PartitionOffsetBytes = %d, want 1048576", plan.PartitionOffsetBytes())
	}
	if plan.SizeBytes != 35*mib {
		t.Errorf("SizeBytes = %d, want %d", plan.SizeBytes, 35*mib)
	}
	if got := plan.PartitionSizeBytes(); got != plan.SizeBytes-1048576 {
		t.Errorf("PartitionSizeBytes = %d, want %d", got, plan.SizeBytes-1048576)
	}
}

func TestImagePathKeepsArchiveExtension(t *testing.T) {
	req := Request{SourceKind: source.KindArchive, SourcePath: "/in/rootfs.tar.gz", OutputDir: "/out"}
	if got := req.ImagePath(); got != filepath.Join("/out", "rootfs.tar.gz.img") {
		t.Errorf("ImagePath = %s, want /out/rootfs.tar.gz.img", got)
	}
}

func TestNewRequest(t *testing.T) {
	t.Run("both sources rejected", func(t *testing.T) {
		_, err := NewRequest("/in/a.zip", "/in/dir", "/out")
		if !errdefs.IsInvalidArgument(err) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})
	t.Run("no source rejected", func(t *testing.T) {
		_, err := NewRequest("", "", "/out")
		if !errdefs.IsInvalidArgument(err) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})
	t.Run("archive source", func(t *testing.T) {
		req, err := NewRequest("/in/a.zip", "", "/out")
		if err != nil {
			t.Fatal(err)
		}
		if req.SourceKind != source.KindArchive || req.SourcePath != "/in/a.zip" {
			t.Errorf("unexpected request: %+v", req)
		}
	})
	t.Run("directory source", func(t *testing.T) {
		req, err := NewRequest("", "/in/dir", "/out")
		if err != nil {
			t.Fatal(err)
		}
		if req.SourceKind != source.KindDirectory || req.SourcePath != "/in/dir" {
			t.Errorf("unexpected request: %+v", req)
		}
	})
}

func TestValidate(t *testing.T) {
	srcDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "content.tar")
	if err := os.WriteFile(srcFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()

	t.Run("valid directory request", func(t *testing.T) {
		req := Request{SourceKind: source.KindDirectory, SourcePath: srcDir, OutputDir: outDir}
		if err := req.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("valid archive request", func(t *testing.T) {
		req := Request{SourceKind: source.KindArchive, SourcePath: srcFile, OutputDir: outDir}
		if err := req.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		req := Request{SourceKind: source.KindDirectory, SourcePath: filepath.Join(srcDir, "gone"), OutputDir: outDir}
		if err := req.Validate(); !errdefs.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("kind mismatch archive is directory", func(t *testing.T) {
		req := Request{SourceKind: source.KindArchive, SourcePath: srcDir, OutputDir: outDir}
		if err := req.Validate(); !errdefs.IsInvalidArgument(err) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("kind mismatch directory is file", func(t *testing.T) {
		req := Request{SourceKind: source.KindDirectory, SourcePath: srcFile, OutputDir: outDir}
		if err := req.Validate(); !errdefs.IsInvalidArgument(err) {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("existing output rejected by default", func(t *testing.T) {
		out := t.TempDir()
		req := Request{SourceKind: source.KindDirectory, SourcePath: srcDir, OutputDir: out}
		if err := os.WriteFile(req.ImagePath(), []byte("old"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := req.Validate(); !errdefs.IsAlreadyExists(err) {
			t.Errorf("expected already exists, got %v", err)
		}

		req.Overwrite = true
		if err := req.Validate(); err != nil {
			t.Errorf("overwrite should permit existing output, got %v", err)
		}
	})
}
