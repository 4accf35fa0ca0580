package config

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/maruel/natural"
	"go.uber.org/multierr"

	"sdst/misc"
)

type ReporterConfig struct {
	Destination string `yaml:"destination" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
}

// Prepare creates empty debug report.
func (conf *ReporterConfig) Prepare() (*Report, error) {
	f, err := os.Create(conf.Destination)
	if err != nil {
		if f, err = os.CreateTemp("", misc.GetAppName()+"-report.*.zip"); err != nil {
			return nil, fmt.Errorf("unable to create report: %w", err)
		}
	}
	return &Report{entries: make(map[string]entry), file: f}, nil
}

type entry struct {
	original string
	actual   string
	stamp    time.Time
	data     []byte
}

// Report collects files and data for debug archive. Nil *Report is valid and
// ignores everything, so callers do not need to check whether report was
// requested. Not safe for concurrent use.
type Report struct {
	entries map[string]entry
	// temporary copies made by StoreCopy, removed on Close
	scratch []string
	file    *os.File
}

// Close writes the archive and removes temporary copies.
func (r *Report) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.finalize()
	err = multierr.Append(err, r.file.Close())
	for _, dir := range r.scratch {
		err = multierr.Append(err, os.RemoveAll(dir))
	}
	return err
}

// Name returns absolute name of the archive.
func (r *Report) Name() string {
	if r == nil || r.file == nil {
		return ""
	}
	if n, err := filepath.Abs(r.file.Name()); err == nil {
		return n
	}
	return r.file.Name()
}

// Store remembers file or directory to be archived as it is on Close.
func (r *Report) Store(name, path string) {
	if r == nil {
		return
	}
	if old, ok := r.entries[name]; ok && old.original != path {
		panic(fmt.Sprintf("report entry [%s] stored twice: was %s, now %s", name, old.original, path))
	}
	e := entry{original: path, actual: path}
	if p, err := filepath.Abs(path); err == nil {
		e.actual = p
	}
	r.entries[name] = e
}

// StoreData adds data to be archived under name.
func (r *Report) StoreData(name string, data []byte) {
	if r == nil {
		return
	}
	if _, ok := r.entries[name]; ok {
		panic(fmt.Sprintf("report data [%s] stored twice", name))
	}
	r.entries[name] = entry{data: data, stamp: time.Now()}
}

// StoreCopy copies file or directory now, so later changes are not archived.
// Repeated names get timestamp suffix.
func (r *Report) StoreCopy(name, path string) error {
	if r == nil {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	e := entry{original: path, stamp: time.Now()}
	if _, ok := r.entries[name]; ok {
		name = fmt.Sprintf("%s-%d", name, e.stamp.UnixNano())
	}

	dir, err := os.MkdirTemp("", misc.GetAppName()+"-r-")
	if err != nil {
		return err
	}
	r.scratch = append(r.scratch, dir)

	switch {
	case info.Mode().IsRegular():
		if e.actual, err = copyFile(dir, abs, info.ModTime()); err != nil {
			return err
		}
	case info.IsDir():
		if err := walkFiles(abs, func(rel string, fi fs.FileInfo) error {
			_, err := copyFile(filepath.Join(dir, filepath.Dir(rel)), filepath.Join(abs, rel), fi.ModTime())
			return err
		}); err != nil {
			return err
		}
		e.actual = dir
	default:
		return fmt.Errorf("unable to copy %s: not a file or directory", path)
	}
	r.entries[name] = e
	return nil
}

// walkFiles calls fn for every regular file under root with path relative
// to root.
func walkFiles(root string, fn func(rel string, fi fs.FileInfo) error) error {
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(rel, info)
	})
}

func copyFile(dir, src string, modTime time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, os.Chtimes(dst, modTime, modTime)
}

func (r *Report) finalize() (err error) {
	arc := zip.NewWriter(r.file)
	defer func() { err = multierr.Append(err, arc.Close()) }()

	names, manifest := prepareManifest(r.entries)
	if err := saveFile(arc, "MANIFEST", time.Now(), manifest); err != nil {
		return err
	}

	for _, name := range names {
		e := r.entries[name]
		if len(e.data) > 0 {
			if err := saveFile(arc, name, e.stamp, bytes.NewReader(e.data)); err != nil {
				return err
			}
			continue
		}

		info, err := os.Stat(e.actual)
		if err != nil {
			// absent files are ignored
			continue
		}
		if info.IsDir() {
			err = walkFiles(e.actual, func(rel string, fi fs.FileInfo) error {
				return saveFromDisk(arc, filepath.ToSlash(filepath.Join(name, rel)), filepath.Join(e.actual, rel), fi.ModTime())
			})
		} else if info.Mode().IsRegular() {
			err = saveFromDisk(arc, name, e.actual, info.ModTime())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// prepareManifest returns entry names in natural order and manifest listing
// them.
func prepareManifest(entries map[string]entry) ([]string, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	if len(entries) == 0 {
		return nil, buf
	}

	names := make([]string, 0, len(entries))
	for k := range entries {
		names = append(names, k)
	}
	sort.Sort(natural.StringSlice(names))

	now := time.Now()
	for _, k := range names {
		e := entries[k]
		if e.stamp.IsZero() {
			e.stamp = now
		}
		fmt.Fprintf(buf, "%s\t%s\t%s : %s\n", e.stamp.UTC().Format(time.UnixDate), k, e.original, e.actual)
	}
	return names, buf
}

func saveFromDisk(dst *zip.Writer, name, path string, t time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return saveFile(dst, name, t, f)
}

func saveFile(dst *zip.Writer, name string, t time.Time, src io.Reader) error {
	w, err := dst.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: t})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
