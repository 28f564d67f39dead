// Package recovery persists the names of uploads that were in flight so an
// interrupted run can offer to resume them on the next launch.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"
)

// List is an ordered set of job names stored as a JSON array.
// Every mutation holds an exclusive lock on <path>.lock.
type List struct {
	path string
	lock *flock.Flock
}

// Open returns the list stored at path. The file is created on first write.
func Open(path string) *List {
	return &List{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the file backing the list.
func (l *List) Path() string {
	return l.path
}

// Names returns the recorded job names in insertion order.
func (l *List) Names() ([]string, error) {
	if err := l.acquire(); err != nil {
		return nil, err
	}

	defer func() {
		_ = l.lock.Unlock()
	}()

	return l.read()
}

// Add appends name unless it is already present.
func (l *List) Add(name string) error {
	return l.mutate(func(names []string) []string {
		if slices.Contains(names, name) {
			return names
		}

		return append(names, name)
	})
}

// Remove drops name if present.
func (l *List) Remove(name string) error {
	return l.mutate(func(names []string) []string {
		return slices.DeleteFunc(names, func(existing string) bool { return existing == name })
	})
}

func (l *List) mutate(change func([]string) []string) error {
	if err := l.acquire(); err != nil {
		return err
	}

	defer func() {
		_ = l.lock.Unlock()
	}()

	names, err := l.read()
	if err != nil {
		return err
	}

	return l.write(change(names))
}

func (l *List) acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", l.path, err)
	}

	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}

	return nil
}

func (l *List) read() ([]string, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", l.path, err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse JSON %s: %w", l.path, err)
	}

	if names == nil {
		names = []string{}
	}

	return names, nil
}

func (l *List) write(names []string) error {
	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", l.path, err)
	}

	data = append(data, '\n')

	dir := filepath.Dir(l.path)

	tmp, err := os.CreateTemp(dir, ".recovery-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", l.path, err)
	}

	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()

		return fmt.Errorf("write temp file for %s: %w", l.path, err)
	}

	if err := tmp.Close(); err != nil {
		cleanup()

		return fmt.Errorf("close temp file for %s: %w", l.path, err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		cleanup()

		return fmt.Errorf("atomic rename for %s: %w", l.path, err)
	}

	return nil
}
