// Package unpack turns an uploaded file into an ordered list of
// single-page raster images in a batch-scoped temporary directory.
package unpack

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/edumark/sheetscan/internal/config"
)

// ErrUnsupportedType is returned for uploads that are neither an archive,
// a PDF, nor an image.
var ErrUnsupportedType = errors.New("unsupported file type")

// Unpacker expands uploads into per-page images. A zero batch directory is
// created per call to Unpack via NewBatchDir.
type Unpacker struct {
	convert config.ConvertConfig
	logger  *slog.Logger
}

func New(convert config.ConvertConfig, logger *slog.Logger) *Unpacker {
	return &Unpacker{convert: convert, logger: logger}
}

// NewBatchDir creates a unique temporary directory for one upload batch
// under the configured temp root.
func NewBatchDir(tempRoot string) (string, error) {
	if err := os.MkdirAll(tempRoot, 0o755); err != nil {
		return "", fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(tempRoot, "batch-*")
	if err != nil {
		return "", fmt.Errorf("create batch dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes a batch directory and everything in it.
func Cleanup(batchDir string) error {
	if batchDir == "" {
		return nil
	}
	return os.RemoveAll(batchDir)
}

// Unpack dispatches on the detected MIME type of the file at path and
// returns the ordered single-page image paths inside batchDir. Zip entries
// are recursively unpacked, so a zip of PDFs works. The source file is
// removed once its pages have been extracted.
func (u *Unpacker) Unpack(ctx context.Context, batchDir, path string) ([]string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect type of %s: %w", path, err)
	}

	switch {
	case mtype.Is("application/zip"):
		return u.unpackZip(ctx, batchDir, path)
	case mtype.Is("application/pdf"):
		return u.rasterizePDF(ctx, batchDir, path)
	case mtype.Is("image/tiff"):
		return u.splitTIFF(ctx, batchDir, path)
	case strings.HasPrefix(mtype.String(), "image/"):
		return []string{path}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
	}
}

// unpackZip extracts all regular entries and unpacks each in turn. A broken
// archive yields an empty sequence and an error the caller reports to the
// operator without failing the whole job.
func (u *Unpacker) unpackZip(ctx context.Context, batchDir, path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	extractDir, err := os.MkdirTemp(batchDir, "zip-*")
	if err != nil {
		return nil, fmt.Errorf("create zip dir: %w", err)
	}

	// Entries sorted by name so page order is deterministic whatever the
	// archive's internal ordering.
	entries := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(filepath.Base(f.Name), ".") {
			continue
		}
		entries = append(entries, f)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var pages []string
	for _, f := range entries {
		extracted, err := extractZipEntry(extractDir, f)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		sub, err := u.Unpack(ctx, batchDir, extracted)
		if errors.Is(err, ErrUnsupportedType) {
			u.logger.Warn("skipping unsupported zip entry", "entry", f.Name)
			os.Remove(extracted)
			continue
		}
		if err != nil {
			return nil, err
		}
		pages = append(pages, sub...)
	}

	if err := os.Remove(path); err != nil {
		u.logger.Warn("could not remove source archive", "path", path, "error", err)
	}
	return pages, nil
}

func extractZipEntry(dir string, f *zip.File) (string, error) {
	// Flatten entry paths; nested directories inside the archive carry no
	// meaning for page order and could otherwise escape the batch dir.
	dest := filepath.Join(dir, filepath.Base(f.Name))

	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return "", err
	}
	return dest, out.Close()
}

// rasterizePDF shells out to ImageMagick to render each PDF page as a
// grayscale TIFF at the configured DPI. The subprocess is bounded by the
// configured timeout; on failure the PDF is reported as a per-file error.
func (u *Unpacker) rasterizePDF(ctx context.Context, batchDir, path string) ([]string, error) {
	outDir, err := os.MkdirTemp(batchDir, "pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create pdf dir: %w", err)
	}
	pattern := filepath.Join(outDir, "page-%04d.tif")

	cctx, cancel := context.WithTimeout(ctx, u.convert.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, u.convert.Binary,
		"-density", fmt.Sprintf("%d", u.convert.DPI),
		path,
		"-type", "grayscale",
		pattern)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("rasterize %s: %w: %s", filepath.Base(path), err, strings.TrimSpace(string(out)))
	}

	pages, err := filepath.Glob(filepath.Join(outDir, "page-*.tif"))
	if err != nil {
		return nil, fmt.Errorf("collect rasterized pages: %w", err)
	}
	sort.Strings(pages)
	if len(pages) == 0 {
		return nil, fmt.Errorf("rasterize %s: no pages produced", filepath.Base(path))
	}

	if err := os.Remove(path); err != nil {
		u.logger.Warn("could not remove source pdf", "path", path, "error", err)
	}
	return pages, nil
}

// splitTIFF writes each subfile of a multi-page TIFF to its own file via
// the conversion tool. A single-page TIFF passes through unchanged.
func (u *Unpacker) splitTIFF(ctx context.Context, batchDir, path string) ([]string, error) {
	n, err := CountTIFFPages(path)
	if err != nil {
		return nil, fmt.Errorf("inspect tiff %s: %w", filepath.Base(path), err)
	}
	if n <= 1 {
		return []string{path}, nil
	}

	outDir, err := os.MkdirTemp(batchDir, "tiff-*")
	if err != nil {
		return nil, fmt.Errorf("create tiff dir: %w", err)
	}
	pattern := filepath.Join(outDir, "page-%04d.tif")

	cctx, cancel := context.WithTimeout(ctx, u.convert.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, u.convert.Binary, path, pattern)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("split tiff %s: %w: %s", filepath.Base(path), err, strings.TrimSpace(string(out)))
	}

	pages, err := filepath.Glob(filepath.Join(outDir, "page-*.tif"))
	if err != nil {
		return nil, fmt.Errorf("collect tiff pages: %w", err)
	}
	sort.Strings(pages)
	if len(pages) != n {
		return nil, fmt.Errorf("split tiff %s: expected %d pages, got %d", filepath.Base(path), n, len(pages))
	}

	if err := os.Remove(path); err != nil {
		u.logger.Warn("could not remove source tiff", "path", path, "error", err)
	}
	return pages, nil
}

// CountTIFFPages walks the image file directory chain of a TIFF and
// returns the number of subfiles without decoding pixel data.
func CountTIFFPages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("not a tiff file")
	}
	if order.Uint16(header[2:4]) != 42 {
		return 0, fmt.Errorf("bad tiff magic")
	}

	offset := int64(order.Uint32(header[4:8]))
	count := 0
	for offset != 0 {
		count++
		if count > maxTIFFPages {
			return 0, fmt.Errorf("directory chain too long")
		}
		var nEntries [2]byte
		if _, err := f.ReadAt(nEntries[:], offset); err != nil {
			return 0, fmt.Errorf("read directory at %d: %w", offset, err)
		}
		entries := int64(order.Uint16(nEntries[:]))
		var next [4]byte
		if _, err := f.ReadAt(next[:], offset+2+entries*12); err != nil {
			return 0, fmt.Errorf("read next pointer: %w", err)
		}
		offset = int64(order.Uint32(next[:]))
	}
	return count, nil
}

const maxTIFFPages = 10000
