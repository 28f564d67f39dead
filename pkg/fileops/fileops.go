// Package fileops provides the hashing copier used to move upload files into the archive.
package fileops

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 is the archive's content checksum, not a security primitive
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/joe/upload-files/pkg/filesystem"
)

// Exported constants.
const (
	// BufferSize is the size of each chunk read from the source (64KB)
	BufferSize = 64 * 1024
	// DefaultDirPermissions is the default permission mode for created directories
	DefaultDirPermissions = 0o750
	// SideFilePrefix is the prefix of AppleDouble metadata files written next to copies on macOS
	SideFilePrefix = "._"
)

// ProgressCallback receives the cumulative number of bytes copied for one file.
type ProgressCallback func(bytesCopied int64)

// Copier streams a source file into a destination directory and returns its MD5.
type Copier struct {
	SourceFS filesystem.FileSystem
	DestFS   filesystem.FileSystem

	// Platform selects how destination paths are rendered (see TranslatePath).
	Platform string

	// CleanSideFiles removes the "._<name>" file some filesystems create beside a copy.
	CleanSideFiles bool

	Logger zerolog.Logger
}

// NewCopier creates a copier with the defaults for the running platform.
func NewCopier(sourceFS, destFS filesystem.FileSystem, logger zerolog.Logger) *Copier {
	return &Copier{
		SourceFS:       sourceFS,
		DestFS:         destFS,
		Platform:       runtime.GOOS,
		CleanSideFiles: runtime.GOOS == "darwin",
		Logger:         logger,
	}
}

// DestinationPath returns where Copy writes src when given destDir.
func (c *Copier) DestinationPath(src, destDir string) string {
	return TranslatePath(path.Join(filepath.ToSlash(destDir), filepath.Base(src)), c.Platform)
}

// Copy copies src into destDir, hashing every chunk before it is written.
// onProgress is called after each chunk and once more with the final total.
// On failure the partial destination is removed and a *CopyError is returned.
func (c *Copier) Copy(ctx context.Context, src, destDir string, onProgress ProgressCallback) (string, error) {
	sourceFile, err := c.SourceFS.Open(src)
	if err != nil {
		return "", newCopyError(src, KindSourceUnreadable, err)
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return "", newCopyError(src, KindSourceUnreadable, err)
	}

	if !sourceInfo.Mode().IsRegular() {
		return "", newCopyError(src, KindSourceUnreadable, errors.New("not a regular file"))
	}

	dstDir := TranslatePath(filepath.ToSlash(destDir), c.Platform)

	err = c.DestFS.MkdirAll(dstDir, DefaultDirPermissions)
	if err != nil {
		return "", newDestinationError(dstDir, err)
	}

	dst := c.DestinationPath(src, destDir)

	destFile, err := c.DestFS.Create(dst)
	if err != nil {
		return "", newDestinationError(dst, err)
	}

	// Track whether copy completed successfully
	copyCompleted := false

	defer func() {
		if !copyCompleted {
			_ = destFile.Close()
			_ = c.DestFS.Remove(dst)
		}
	}()

	digest := md5.New() //nolint:gosec // see import

	written, err := copyLoop(ctx, sourceFile, destFile, digest, src, dst, onProgress)
	if err != nil {
		return "", err
	}

	if written < sourceInfo.Size() {
		return "", newCopyError(src, KindInterrupted,
			fmt.Errorf("source ended after %d of %d bytes: %w", written, sourceInfo.Size(), io.ErrUnexpectedEOF))
	}

	err = destFile.Close()
	if err != nil {
		return "", newDestinationError(dst, err)
	}

	copyCompleted = true

	if onProgress != nil {
		onProgress(written)
	}

	if c.CleanSideFiles {
		c.removeSideFile(dstDir, filepath.Base(src))
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// removeSideFile deletes an AppleDouble file left beside a copy. Failures are only logged.
func (c *Copier) removeSideFile(dstDir, name string) {
	sidePath := TranslatePath(path.Join(filepath.ToSlash(dstDir), SideFilePrefix+name), c.Platform)

	_, err := c.DestFS.Stat(sidePath)
	if err != nil {
		if !isNotExist(err) {
			c.Logger.Debug().Err(err).Str("path", sidePath).Msg("cannot stat side file")
		}

		return
	}

	err = c.DestFS.Remove(sidePath)
	if err != nil {
		c.Logger.Warn().Err(err).Str("path", sidePath).Msg("failed to remove side file")
	}
}

// ComputeFileHash computes the MD5 of a file on fs.
func ComputeFileHash(fs filesystem.FileSystem, filePath string) (string, error) {
	file, err := fs.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	defer func() {
		_ = file.Close()
	}()

	digest := md5.New() //nolint:gosec // see import

	_, err = io.Copy(digest, file)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s for hashing: %w", filePath, err)
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}

// copyLoop performs the chunked copy, checking ctx before every read.
//
//nolint:lll // Long function signature with many parameters
func copyLoop(ctx context.Context, sourceFile io.Reader, destFile io.Writer, digest hash.Hash, srcPath, dstPath string, progress ProgressCallback) (int64, error) {
	var written int64

	buf := make([]byte, BufferSize)

	for {
		if ctx.Err() != nil {
			return written, newCopyError(srcPath, KindCancelled, fmt.Errorf("%w: %w", ErrCopyCancelled, ctx.Err()))
		}

		nr, err := sourceFile.Read(buf) //nolint:varnamelen // nr is idiomatic for bytes read
		if nr > 0 {
			_, _ = digest.Write(buf[0:nr])

			nw, werr := destFile.Write(buf[0:nr]) //nolint:varnamelen // nw is idiomatic for bytes written
			if werr != nil {
				return written, newDestinationError(dstPath, werr)
			}

			if nr != nw {
				return written, newCopyError(dstPath, KindInterrupted, fmt.Errorf("short write: %w", io.ErrShortWrite))
			}

			written += int64(nw)

			if progress != nil {
				progress(written)
			}
		}

		if errors.Is(err, io.EOF) {
			return written, nil
		}

		if err != nil {
			return written, newCopyError(srcPath, KindSourceUnreadable, fmt.Errorf("failed to read from source: %w", err))
		}
	}
}

// isNotExist reports whether err means a path is missing on any backend.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
