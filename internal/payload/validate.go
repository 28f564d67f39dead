package payload

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joe/upload-files/pkg/filesystem"
)

// AnnotationType is the value type an annotation must parse as.
type AnnotationType string

// Annotation types.
const (
	TypeText    AnnotationType = "text"
	TypeNumber  AnnotationType = "number"
	TypeBoolean AnnotationType = "boolean"
	TypeDate    AnnotationType = "date"
)

// DateLayout is the accepted format for date annotations.
const DateLayout = "2006-01-02"

// Validator checks a payload before anything is copied.
type Validator interface {
	Validate(p Payload) error
}

// Problem is one reason a payload was rejected.
type Problem struct {
	Key     string
	Field   string
	Message string
}

func (p Problem) String() string {
	if p.Field == "" {
		return fmt.Sprintf("%s: %s", p.Key, p.Message)
	}

	return fmt.Sprintf("%s: %s: %s", p.Key, p.Field, p.Message)
}

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid upload: " + e.Problems[0].String()
	}

	parts := make([]string, 0, len(e.Problems))
	for _, problem := range e.Problems {
		parts = append(parts, problem.String())
	}

	return fmt.Sprintf("invalid upload (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

// SchemaValidator enforces readable files, a destination, required annotations and value types.
type SchemaValidator struct {
	FS       filesystem.FileSystem
	Required []string
	Types    map[string]AnnotationType
}

// Validate returns a *ValidationError describing every problem, or nil.
func (v *SchemaValidator) Validate(p Payload) error {
	var problems []Problem

	if len(p) == 0 {
		problems = append(problems, Problem{Key: "upload", Message: "no files selected"})
	}

	// Files land side by side in the upload's directory, so two sources with the
	// same base name would overwrite each other.
	byName := make(map[string]string)

	for _, key := range p.Keys() {
		record := p[key]
		problems = append(problems, v.checkRecord(key, record)...)

		if record.File == "" {
			continue
		}

		name := filepath.Base(record.File)

		first, seen := byName[name]
		if !seen {
			byName[name] = record.File

			continue
		}

		if first != record.File {
			problems = append(problems, Problem{
				Key:     key,
				Field:   "file",
				Message: fmt.Sprintf("has the same name as %s; the archive would keep only one", first),
			})
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	return nil
}

func (v *SchemaValidator) checkRecord(key string, record Record) []Problem {
	var problems []Problem

	if problem, ok := v.checkReadable(key, record.File); !ok {
		problems = append(problems, problem)
	}

	if !record.ShouldBeInArchive && !record.ShouldBeInLocal {
		problems = append(problems, Problem{Key: key, Field: "destination", Message: "must be archived, kept local, or both"})
	}

	for _, name := range v.Required {
		if len(record.Annotations[name]) == 0 {
			problems = append(problems, Problem{Key: key, Field: name, Message: "is required"})
		}
	}

	names := make([]string, 0, len(record.Annotations))
	for name := range record.Annotations {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		kind, ok := v.Types[name]
		if !ok {
			continue
		}

		for _, value := range record.Annotations[name] {
			if !valueMatches(kind, value) {
				problems = append(problems, Problem{
					Key:     key,
					Field:   name,
					Message: fmt.Sprintf("%q is not a valid %s", value, kind),
				})
			}
		}
	}

	return problems
}

func (v *SchemaValidator) checkReadable(key, path string) (Problem, bool) {
	if path == "" {
		return Problem{Key: key, Field: "file", Message: "is empty"}, false
	}

	info, err := v.FS.Stat(path)
	if err != nil {
		return Problem{Key: key, Field: "file", Message: err.Error()}, false
	}

	if !info.Mode().IsRegular() {
		return Problem{Key: key, Field: "file", Message: "is not a regular file"}, false
	}

	file, err := v.FS.Open(path)
	if err != nil {
		return Problem{Key: key, Field: "file", Message: err.Error()}, false
	}

	_ = file.Close()

	return Problem{}, true
}

func valueMatches(kind AnnotationType, value string) bool {
	switch kind {
	case TypeText:
		return true
	case TypeNumber:
		_, err := strconv.ParseFloat(value, 64)

		return err == nil
	case TypeBoolean:
		_, err := strconv.ParseBool(value)

		return err == nil
	case TypeDate:
		_, err := time.Parse(DateLayout, value)

		return err == nil
	}

	return true
}
