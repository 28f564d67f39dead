package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/joe/upload-files/internal/jobs"
	"github.com/joe/upload-files/internal/payload"
	"github.com/joe/upload-files/pkg/fileops"
)

// MetadataSuffix names the document written beside an upload's directory.
const MetadataSuffix = ".metadata.json"

// Metadata is the document the add-metadata step writes to the archive.
type Metadata struct {
	UploadJobID string         `json:"uploadJobId"`
	JobName     string         `json:"jobName"`
	Written     time.Time      `json:"written"`
	Files       []MetadataFile `json:"files"`
}

// MetadataFile describes one archived file and the rows that reference it.
type MetadataFile struct {
	Source      string           `json:"source"`
	Destination string           `json:"destination"`
	MD5         string           `json:"md5"`
	Rows        []payload.Record `json:"rows"`
}

// MetadataPath returns where the metadata for uploadID is written under destRoot.
func MetadataPath(destRoot, uploadID string) string {
	return path.Join(filepath.ToSlash(destRoot), uploadID+MetadataSuffix)
}

// BuildMetadata groups the payload rows by file and attaches each file's hash.
func BuildMetadata(upload jobs.Job, destRoot string, hashes map[string]string, now time.Time) Metadata {
	p := upload.ServiceFields.Payload
	destDir := path.Join(filepath.ToSlash(destRoot), upload.JobID)

	rows := make(map[string][]payload.Record)
	for _, key := range p.Keys() {
		record := p[key]
		rows[record.File] = append(rows[record.File], record)
	}

	doc := Metadata{
		UploadJobID: upload.JobID,
		JobName:     upload.JobName,
		Written:     now.UTC(),
		Files:       make([]MetadataFile, 0, len(rows)),
	}

	for _, file := range p.Files() {
		doc.Files = append(doc.Files, MetadataFile{
			Source:      file,
			Destination: path.Join(destDir, filepath.Base(file)),
			MD5:         hashes[file],
			Rows:        rows[file],
		})
	}

	return doc
}

// writeMetadata writes the metadata document and returns its path.
func (u *Uploader) writeMetadata(upload jobs.Job, hashes map[string]string) (string, error) {
	doc := BuildMetadata(upload, u.opts.DestRoot, hashes, time.Now())

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata for %s: %w", upload.JobID, err)
	}

	root := fileops.TranslatePath(filepath.ToSlash(u.opts.DestRoot), u.copier.Platform)
	if err := u.copier.DestFS.MkdirAll(root, fileops.DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("failed to create destination %s: %w", root, err)
	}

	target := u.copier.DestinationPath(upload.JobID+MetadataSuffix, u.opts.DestRoot)

	file, err := u.copier.DestFS.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create metadata file %s: %w", target, err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		_ = u.copier.DestFS.Remove(target)

		return "", fmt.Errorf("failed to write metadata file %s: %w", target, err)
	}

	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close metadata file %s: %w", target, err)
	}

	return target, nil
}
