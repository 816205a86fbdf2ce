// Package stage manages the scoped temporary working directory used while
// loading an acquisition: archive extraction, sidecar discovery and
// guaranteed cleanup on every exit path.
package stage

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Dir is a scoped temporary directory. Create one with New, defer Close;
// everything extracted or produced under it is removed on Close.
type Dir struct {
	path string
}

// New creates a fresh temporary directory under base (or the system
// default when base is empty).
func New(base string) (*Dir, error) {
	path, err := os.MkdirTemp(base, "mrparse-")
	if err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory's absolute path.
func (d *Dir) Path() string { return d.path }

// Join returns a path inside the staging directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Close removes the directory and everything under it.
func (d *Dir) Close() error {
	log.Debugf("removing staging dir %s", d.path)
	return os.RemoveAll(d.path)
}

// ExtractTar unpacks a tar stream (gzipped or plain, sniffed from the
// first two bytes) into the staging directory and returns the extracted
// regular-file paths in archive order.
func (d *Dir) ExtractTar(r io.Reader) ([]string, error) {
	br, err := maybeGunzip(r)
	if err != nil {
		return nil, err
	}
	var files []string
	tr := tar.NewReader(br)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		dest, err := d.securePath(hdr.Name)
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(dest, tr); err != nil {
				return nil, fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			files = append(files, dest)
		default:
			// Symlinks and specials are never part of scanner output.
			log.Debugf("skipping tar entry %s (type %c)", hdr.Name, hdr.Typeflag)
		}
	}
	return files, nil
}

// ExtractZip unpacks a zip archive into the staging directory and returns
// the extracted regular-file paths in archive order.
func (d *Dir) ExtractZip(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()

	var files []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dest, err := d.securePath(f.Name)
		if err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		err = writeFile(dest, rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		files = append(files, dest)
	}
	return files, nil
}

// securePath resolves an archive member name inside the staging dir,
// rejecting absolute names and parent traversal.
func (d *Dir) securePath(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member %q escapes extraction dir", name)
	}
	return filepath.Join(d.path, clean), nil
}

func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err == nil && head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("reading gzip: %w", err)
		}
		return gz, nil
	}
	return br, nil
}
