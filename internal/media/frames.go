package media

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// PackFrames zips every .jpg in dir, in name order, into dst.
func PackFrames(dir, dst string) (int, error) {
	names, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return 0, fmt.Errorf("list frames: %w", err)
	}
	sort.Strings(names)

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create frame archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range names {
		if err := addFile(zw, name); err != nil {
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finish frame archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("sync frame archive: %w", err)
	}
	return len(names), nil
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	// JPEG does not compress further; store it.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: filepath.Base(path), Method: zip.Store})
	if err != nil {
		return fmt.Errorf("add frame: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy frame: %w", err)
	}
	return nil
}

// UnpackFrames reads a frame archive. When limit > 0 it returns at most limit
// frames spread evenly across the lesson.
func UnpackFrames(data []byte, limit int) ([]models.Frame, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: frame archive: %v", ErrMalformedInput, err)
	}

	var files []*zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".jpg") {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	files = spread(files, limit)

	frames := make([]models.Frame, 0, len(files))
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrMalformedInput, f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrMalformedInput, f.Name, err)
		}
		frames = append(frames, models.Frame{Name: f.Name, Data: b})
	}
	return frames, nil
}

func spread[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	out := make([]T, 0, n)
	step := float64(len(items)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, items[int(float64(i)*step)])
	}
	return out
}
