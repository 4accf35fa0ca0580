package pack

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsCleartext reports whether pack resources are stored unencrypted. Pack is
// cleartext when it has marker file. With repair set, pack missing marker but
// with image index starting with known cleartext prefix is treated as
// cleartext too and marker is created, so next time the check is cheap.
// Failure to create marker is only logged.
func (r *Reader) IsCleartext(folder string, repair bool) (bool, error) {
	marker := filepath.Join(folder, CleartextName)
	if exists(marker) {
		return true, nil
	}
	if !repair {
		return false, nil
	}

	prefix, err := readPrefix(filepath.Join(folder, ImageIndexName), len(cleartextPrefix))
	if err != nil {
		return false, resourceError(ImageIndexName, err)
	}
	if !bytes.Equal(prefix, cleartextPrefix) {
		return false, nil
	}

	r.log.Info("Pack contains cleartext data but has no marker, fixing", zap.String("pack", folder))
	if f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0644); err != nil {
		r.log.Warn("Unable to create cleartext marker", zap.String("pack", folder), zap.Error(err))
	} else if err := f.Close(); err != nil {
		r.log.Warn("Unable to create cleartext marker", zap.String("pack", folder), zap.Error(err))
	}
	return true, nil
}

// readPrefix returns up to n first bytes of the file.
func readPrefix(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	got, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:got], nil
}

// IsCleartext checks pack with default reader.
func IsCleartext(folder string, repair bool) (bool, error) {
	return NewReader().IsCleartext(folder, repair)
}
