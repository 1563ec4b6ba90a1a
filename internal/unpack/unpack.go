// Package unpack extracts CSV payloads from downloaded archive containers.
// Dispatch is by content signature, so a mislabeled extension never crashes
// the pipeline.
package unpack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/sirupsen/logrus"

	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/procerror"
)

var log = logrus.New()

// SetLogger sets a custom logger for this package.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Unpacker extracts archives into a destination directory.
type Unpacker struct{}

// New creates an Unpacker.
func New() *Unpacker {
	return &Unpacker{}
}

// Identify classifies a file's container format by its content signature.
func Identify(ctx context.Context, path string) (models.ArchiveFormat, error) {
	file, err := os.Open(path) // #nosec G304 -- paths come from the cycle's own scratch dir
	if err != nil {
		return models.FormatUnknown, fmt.Errorf("error opening archive: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file")
		}
	}()

	format, _, err := archives.Identify(ctx, filepath.Base(path), file)
	if err != nil {
		if errors.Is(err, archives.NoMatch) {
			return models.FormatUnknown, &procerror.UnsupportedFormatError{Path: path}
		}
		return models.FormatUnknown, fmt.Errorf("error identifying archive: %w", err)
	}
	return formatName(format), nil
}

func formatName(format archives.Format) models.ArchiveFormat {
	switch strings.ToLower(format.Extension()) {
	case ".zip":
		return models.FormatZip
	case ".rar":
		return models.FormatRar
	case ".7z":
		return models.Format7z
	default:
		return models.FormatUnknown
	}
}

// Extract unpacks the archive into destDir and returns the paths of all CSV
// files it contained, in archive order. Unidentifiable content yields an
// UnsupportedFormatError; a corrupt container yields an ExtractionError so
// the caller can retry from the download stage.
func (u *Unpacker) Extract(ctx context.Context, archive models.DownloadedArchive, destDir string) ([]string, error) {
	file, err := os.Open(archive.LocalPath) // #nosec G304 -- paths come from the cycle's own scratch dir
	if err != nil {
		return nil, fmt.Errorf("error opening archive: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file")
		}
	}()

	format, input, err := archives.Identify(ctx, filepath.Base(archive.LocalPath), file)
	if err != nil {
		if errors.Is(err, archives.NoMatch) {
			return nil, &procerror.UnsupportedFormatError{Path: archive.LocalPath}
		}
		return nil, &procerror.ExtractionError{Archive: archive.LocalPath, Err: err}
	}

	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, &procerror.UnsupportedFormatError{Path: archive.LocalPath}
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("error creating extraction directory: %w", err)
	}

	var csvPaths []string
	err = extractor.Extract(ctx, input, func(ctx context.Context, f archives.FileInfo) error {
		target, err := securePath(destDir, f.NameInArchive)
		if err != nil {
			return err
		}
		if f.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}

		src, err := f.Open()
		if err != nil {
			return err
		}
		defer func() {
			if err := src.Close(); err != nil {
				log.WithError(err).Warn("Failed to close archive entry")
			}
		}()

		dst, err := os.Create(target) // #nosec G304 -- target is confined to destDir
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = dst.Close()
			return err
		}
		if err := dst.Close(); err != nil {
			return err
		}

		if strings.EqualFold(filepath.Ext(target), ".csv") {
			csvPaths = append(csvPaths, target)
		}
		return nil
	})
	if err != nil {
		return nil, &procerror.ExtractionError{Archive: archive.LocalPath, Err: err}
	}

	log.WithFields(logrus.Fields{
		"archive": filepath.Base(archive.LocalPath),
		"source":  archive.SourceMessageID,
		"format":  formatName(format),
		"csv":     len(csvPaths),
	}).Info("Extracted archive")
	return csvPaths, nil
}

// securePath joins name under dir, rejecting entries that would escape it.
func securePath(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.Clean("/"+name))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes extraction directory: %s", name)
	}
	return target, nil
}
