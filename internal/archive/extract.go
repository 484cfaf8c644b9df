// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plugify Contributors

// Package archive validates and unpacks zip-format package bundles.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// ErrMissingDescriptor is returned when a bundle contains no descriptor file
// of the expected extension.
var ErrMissingDescriptor = errors.New("package descriptor missing")

// Extract unpacks a zip bundle into destination. The bundle must contain at
// least one file whose extension equals descriptorExt. Entries resolving
// outside destination are rejected. The first per-entry failure aborts
// extraction and is reported verbatim; whatever was already written is left
// in place for inspection.
func Extract(data []byte, destination, descriptorExt string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return oops.Code("ARCHIVE_INVALID").Wrapf(err, "open archive")
	}

	var foundDescriptor bool
	for _, file := range reader.File {
		if filepath.Ext(file.Name) == descriptorExt {
			foundDescriptor = true
			break
		}
	}
	if !foundDescriptor {
		return oops.Code("ARCHIVE_MISSING_DESCRIPTOR").
			With("extension", descriptorExt).
			Wrapf(ErrMissingDescriptor, "no *%s entry in archive", descriptorExt)
	}

	for _, file := range reader.File {
		if err := extractEntry(file, destination); err != nil {
			return err
		}
	}
	return nil
}

// extractEntry writes one archive entry under destination.
func extractEntry(file *zip.File, destination string) error {
	target, err := sanitizePath(destination, file.Name)
	if err != nil {
		return err
	}

	if file.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o750); err != nil {
			return oops.Code("ARCHIVE_EXTRACT_FAILED").Wrapf(err, "create directory %q", file.Name)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return oops.Code("ARCHIVE_EXTRACT_FAILED").Wrapf(err, "create parent directory for %q", file.Name)
	}

	src, err := file.Open()
	if err != nil {
		return oops.Code("ARCHIVE_EXTRACT_FAILED").Wrapf(err, "open archive entry %q", file.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return oops.Code("ARCHIVE_EXTRACT_FAILED").Wrapf(err, "create destination file %q", file.Name)
	}
	defer dst.Close()

	// Entry sizes come from the archive directory and are not trusted;
	// copy is bounded by the decompressed stream itself.
	if _, err := io.Copy(dst, src); err != nil { //nolint:gosec
		return oops.Code("ARCHIVE_EXTRACT_FAILED").Wrapf(err, "extract file %q", file.Name)
	}
	return nil
}

// sanitizePath resolves an entry name under destination, rejecting absolute
// names and traversal outside the destination root.
func sanitizePath(destination, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", oops.Code("ARCHIVE_PATH_TRAVERSAL").Errorf("absolute entry path %q", name)
	}
	target := filepath.Join(destination, filepath.Clean(name))
	root := filepath.Clean(destination) + string(os.PathSeparator)
	if target != filepath.Clean(destination) && !strings.HasPrefix(target, root) {
		return "", oops.Code("ARCHIVE_PATH_TRAVERSAL").Errorf("entry %q escapes destination", name)
	}
	return target, nil
}
