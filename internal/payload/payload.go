// Package payload defines the file-to-metadata mapping submitted as one upload.
package payload

import (
	"fmt"
	"sort"
	"strings"
)

// RowKey identifies one row of an upload: a file plus optional sub-image and channel.
type RowKey struct {
	File     string
	SubImage string
	Channel  string
}

// String renders the key as it is stored in a Payload.
func (k RowKey) String() string {
	var b strings.Builder

	b.WriteString(k.File)

	if k.SubImage != "" {
		b.WriteString("#subimage=")
		b.WriteString(k.SubImage)
	}

	if k.Channel != "" {
		b.WriteString("#channel=")
		b.WriteString(k.Channel)
	}

	return b.String()
}

// Record is the metadata attached to one row.
type Record struct {
	File              string              `json:"file"`
	SubImage          string              `json:"subImage,omitempty"`
	Channel           string              `json:"channel,omitempty"`
	ShouldBeInArchive bool                `json:"shouldBeInArchive"`
	ShouldBeInLocal   bool                `json:"shouldBeInLocal"`
	WellIDs           []int               `json:"wellIds,omitempty"`
	Workflows         []string            `json:"workflows,omitempty"`
	Annotations       map[string][]string `json:"annotations,omitempty"`
}

// Key returns the row key the record belongs under.
func (r Record) Key() RowKey {
	return RowKey{File: r.File, SubImage: r.SubImage, Channel: r.Channel}
}

// Payload maps rendered row keys to records.
type Payload map[string]Record

// DuplicateRowError is returned when a row key is added twice.
type DuplicateRowError struct {
	Key string
}

func (e *DuplicateRowError) Error() string {
	return fmt.Sprintf("duplicate row %s", e.Key)
}

// Add inserts a record under its row key.
func (p Payload) Add(record Record) error {
	key := record.Key().String()
	if _, exists := p[key]; exists {
		return &DuplicateRowError{Key: key}
	}

	p[key] = record

	return nil
}

// Keys returns the row keys in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// Files returns the distinct source files in sorted order.
// Several rows (sub-images, channels) may name the same file; it is copied once.
func (p Payload) Files() []string {
	seen := make(map[string]struct{}, len(p))

	var files []string

	for _, record := range p {
		if _, ok := seen[record.File]; ok {
			continue
		}

		seen[record.File] = struct{}{}
		files = append(files, record.File)
	}

	sort.Strings(files)

	return files
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}

	out := make(Payload, len(p))

	for key, record := range p {
		copied := record
		copied.WellIDs = append([]int(nil), record.WellIDs...)
		copied.Workflows = append([]string(nil), record.Workflows...)

		if record.Annotations != nil {
			copied.Annotations = make(map[string][]string, len(record.Annotations))
			for name, values := range record.Annotations {
				copied.Annotations[name] = append([]string(nil), values...)
			}
		}

		out[key] = copied
	}

	return out
}
