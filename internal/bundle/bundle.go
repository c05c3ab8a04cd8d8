// Package bundle packs highlight stills into a single zip archive whose
// entries are Zstandard-compressed (zip method 93).
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// Method is the zip compression method id for Zstandard (APPNOTE 6.3.7).
const Method = zstd.ZipMethodWinZip

// ContentType is the MIME type of a bundle.
const ContentType = "application/zip"

// Write streams files into a zip on w. Entries are named after the file's
// base name and keep its modification time.
func Write(w io.Writer, files []string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(Method, zstd.ZipCompressor(zstd.WithEncoderLevel(zstd.SpeedDefault)))

	for _, path := range files {
		if err := addFile(zw, path); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	modTime := time.Now()
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}

	header := &zip.FileHeader{
		Name:   filepath.Base(path),
		Method: Method,
	}
	header.SetModTime(modTime)

	entry, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create zip entry for %s: %w", header.Name, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("write zip entry for %s: %w", header.Name, err)
	}
	return nil
}

// WriteFile writes the bundle to path and returns its size.
func WriteFile(path string, files []string) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create bundle: %w", err)
	}
	if err := Write(out, files); err != nil {
		out.Close()
		os.Remove(path)
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close bundle: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat bundle: %w", err)
	}
	log.Debug().Str("path", path).Int("files", len(files)).Int64("bytes", info.Size()).Msg("Bundle written")
	return info.Size(), nil
}

// Open opens a bundle for reading with the Zstandard decompressor
// registered.
func Open(path string) (*zip.ReadCloser, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	rc.RegisterDecompressor(Method, zstd.ZipDecompressor())
	return rc, nil
}
