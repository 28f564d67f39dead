// Package config handles application configuration and command-line argument parsing.
//
// Settings come from three layers: built-in defaults, an optional TOML file and
// command-line flags, each overriding the one before.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/pelletier/go-toml/v2"

	"github.com/joe/upload-files/internal/payload"
	"github.com/joe/upload-files/pkg/filesystem"
)

// Command names the subcommand to run.
type Command string

// Subcommands.
const (
	CommandUpload Command = "upload"
	CommandStatus Command = "status"
	CommandRetry  Command = "retry"
	CommandCancel Command = "cancel"
	CommandResume Command = "resume"
)

// Exported constants.
const (
	DefaultStateDir         = "~/.upload-files"
	DefaultWorkers          = 4
	DefaultProgressInterval = 2 * time.Second
	ConfigFileName          = "config.toml"
)

// Exported variables.
var (
	ErrNoCommand = errors.New("a command is required: upload, status, retry, cancel or resume")
)

// UploadCmd submits files or directories as one upload.
type UploadCmd struct {
	Paths       []string `arg:"positional,required" help:"files or directories to upload"`
	Name        string   `arg:"-n,--name" help:"job name (default: name of the first path)"`
	Include     string   `arg:"--include" help:"glob of files to take from directories, e.g. **/*.czi"`
	Local       bool     `arg:"--local" help:"also keep a copy in local storage"`
	NoArchive   bool     `arg:"--no-archive" help:"do not mark files for the archive"`
	Workflows   []string `arg:"--workflow,separate" help:"workflow to attach (repeatable)"`
	Annotations []string `arg:"-a,--annotation,separate" help:"annotation as name=value (repeatable)"`
}

// StatusCmd prints the tracked jobs.
type StatusCmd struct {
	All bool `arg:"--all" help:"include finished uploads"`
}

// RetryCmd retries a failed upload.
type RetryCmd struct {
	JobID string `arg:"positional,required" help:"job id to retry"`
}

// CancelCmd cancels an unfinished upload.
type CancelCmd struct {
	JobID string `arg:"positional,required" help:"job id to cancel"`
}

// ResumeCmd restarts uploads interrupted by an earlier run.
type ResumeCmd struct{}

// Args holds the raw command line.
type Args struct {
	Config           string `arg:"--config" help:"config file (default: <state-dir>/config.toml)"`
	StateDir         string `arg:"--state-dir" help:"directory for the job database, recovery list and logs"`
	Dest             string `arg:"-d,--dest" help:"archive destination: a path or sftp://user@host[:port]/path"`
	Platform         string `arg:"--platform" help:"destination path style: linux, darwin or windows"`
	Workers          *int   `arg:"-w,--workers" help:"files copied at once per upload (0 = all)"`
	ProgressInterval *int   `arg:"--progress-interval" help:"seconds between progress reports per file"`
	JobService       string `arg:"--job-service,env:UPLOAD_FILES_JOB_SERVICE" help:"job service URL (default: local database)"`
	LogLevel         string `arg:"--log-level" help:"debug, info, warn or error"`
	LogFormat        string `arg:"--log-format" help:"console or json"`
	LogFile          string `arg:"--log-file" help:"also write logs to this file, rotated by size"`
	NoTUI            bool   `arg:"--no-tui" help:"log progress instead of drawing the terminal UI"`

	Upload *UploadCmd `arg:"subcommand:upload" help:"upload files to the archive"`
	Status *StatusCmd `arg:"subcommand:status" help:"show jobs and whether it is safe to exit"`
	Retry  *RetryCmd  `arg:"subcommand:retry" help:"retry a failed upload"`
	Cancel *CancelCmd `arg:"subcommand:cancel" help:"cancel an unfinished upload"`
	Resume *ResumeCmd `arg:"subcommand:resume" help:"resume uploads interrupted by an earlier run"`
}

// Description returns the program description for go-arg
func (Args) Description() string {
	return "Upload microscopy files to the archive and track their jobs"
}

// Version returns the version string for go-arg
func (Args) Version() string {
	return "upload-files 1.0.0"
}

// File is the TOML configuration file.
type File struct {
	DestRoot                string            `toml:"dest_root"`
	TargetPlatform          string            `toml:"target_platform"`
	Workers                 *int              `toml:"workers"`
	ProgressIntervalSeconds *int              `toml:"progress_interval_seconds"`
	JobServiceURL           string            `toml:"job_service_url"`
	RequiredAnnotations     []string          `toml:"required_annotations"`
	AnnotationTypes         map[string]string `toml:"annotation_types"`
	IncludePattern          string            `toml:"include_pattern"`
	LogLevel                string            `toml:"log_level"`
	LogFormat               string            `toml:"log_format"`
	LogFile                 string            `toml:"log_file"`
}

// Settings is the merged configuration the program runs with.
type Settings struct {
	Command    Command
	ConfigPath string
	// ConfigLoaded reports whether ConfigPath existed.
	ConfigLoaded bool
	StateDir     string

	DestRoot            string
	Platform            string
	Workers             int
	ProgressInterval    time.Duration
	JobServiceURL       string
	RequiredAnnotations []string
	AnnotationTypes     map[string]payload.AnnotationType
	IncludePattern      string

	LogLevel  string
	LogFormat string
	LogFile   string
	NoTUI     bool

	Upload *UploadCmd
	Status *StatusCmd
	Retry  *RetryCmd
	Cancel *CancelCmd
	Resume *ResumeCmd
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		StateDir:         DefaultStateDir,
		Platform:         runtime.GOOS,
		Workers:          DefaultWorkers,
		ProgressInterval: DefaultProgressInterval,
		AnnotationTypes:  map[string]payload.AnnotationType{},
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// NewParser builds the go-arg parser for args.
func NewParser(args *Args) (*arg.Parser, error) {
	parser, err := arg.NewParser(arg.Config{Program: "upload-files"}, args)
	if err != nil {
		return nil, fmt.Errorf("build argument parser: %w", err)
	}

	return parser, nil
}

// ParseArgs parses argv (without the program name). go-arg's ErrHelp and
// ErrVersion are returned unwrapped so callers can print and exit.
func ParseArgs(argv []string) (*Args, *arg.Parser, error) {
	args := &Args{}

	parser, err := NewParser(args)
	if err != nil {
		return nil, nil, err
	}

	if err := parser.Parse(argv); err != nil {
		return nil, parser, err //nolint:wrapcheck // ErrHelp and ErrVersion are compared by identity
	}

	return args, parser, nil
}

// Resolve merges defaults, the config file and args, then validates the result.
func Resolve(args *Args) (*Settings, error) {
	settings := Defaults()

	if args.StateDir != "" {
		settings.StateDir = args.StateDir
	}

	stateDir, err := ExpandPath(settings.StateDir)
	if err != nil {
		return nil, err
	}

	settings.StateDir = stateDir

	settings.ConfigPath = filepath.Join(stateDir, ConfigFileName)
	if args.Config != "" {
		settings.ConfigPath, err = ExpandPath(args.Config)
		if err != nil {
			return nil, err
		}
	}

	file, loaded, err := LoadFile(settings.ConfigPath)
	if err != nil {
		return nil, err
	}

	settings.ConfigLoaded = loaded

	if err := settings.applyFile(file); err != nil {
		return nil, err
	}

	settings.applyArgs(args)

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

// LoadFile reads a TOML config file. A missing file is not an error.
func LoadFile(path string) (File, bool, error) {
	var file File

	handle, err := os.Open(path) // #nosec G304 - config path is chosen by the user
	if errors.Is(err, fs.ErrNotExist) {
		return file, false, nil
	}

	if err != nil {
		return file, false, fmt.Errorf("open config: %w", err)
	}

	defer func() {
		_ = handle.Close()
	}()

	decoder := toml.NewDecoder(handle)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&file); err != nil {
		return file, false, fmt.Errorf("parse config %s: %w", path, err)
	}

	return file, true, nil
}

func (s *Settings) applyFile(file File) error {
	setString(&s.DestRoot, file.DestRoot)
	setString(&s.Platform, file.TargetPlatform)
	setString(&s.JobServiceURL, file.JobServiceURL)
	setString(&s.IncludePattern, file.IncludePattern)
	setString(&s.LogLevel, file.LogLevel)
	setString(&s.LogFormat, file.LogFormat)
	setString(&s.LogFile, file.LogFile)

	if file.Workers != nil {
		s.Workers = *file.Workers
	}

	if file.ProgressIntervalSeconds != nil {
		s.ProgressInterval = time.Duration(*file.ProgressIntervalSeconds) * time.Second
	}

	if len(file.RequiredAnnotations) > 0 {
		s.RequiredAnnotations = append([]string(nil), file.RequiredAnnotations...)
	}

	for name, kind := range file.AnnotationTypes {
		parsed, err := ParseAnnotationType(kind)
		if err != nil {
			return fmt.Errorf("annotation %s: %w", name, err)
		}

		s.AnnotationTypes[name] = parsed
	}

	return nil
}

func (s *Settings) applyArgs(args *Args) {
	setString(&s.DestRoot, args.Dest)
	setString(&s.Platform, args.Platform)
	setString(&s.JobServiceURL, args.JobService)
	setString(&s.LogLevel, args.LogLevel)
	setString(&s.LogFormat, args.LogFormat)
	setString(&s.LogFile, args.LogFile)

	if args.Workers != nil {
		s.Workers = *args.Workers
	}

	if args.ProgressInterval != nil {
		s.ProgressInterval = time.Duration(*args.ProgressInterval) * time.Second
	}

	s.NoTUI = args.NoTUI
	s.Upload = args.Upload
	s.Status = args.Status
	s.Retry = args.Retry
	s.Cancel = args.Cancel
	s.Resume = args.Resume

	switch {
	case args.Upload != nil:
		s.Command = CommandUpload

		setString(&s.IncludePattern, args.Upload.Include)
	case args.Status != nil:
		s.Command = CommandStatus
	case args.Retry != nil:
		s.Command = CommandRetry
	case args.Cancel != nil:
		s.Command = CommandCancel
	case args.Resume != nil:
		s.Command = CommandResume
	}
}

// Validate checks the merged settings.
func (s *Settings) Validate() error {
	if s.Command == "" {
		return ErrNoCommand
	}

	if s.Command == CommandUpload || s.Command == CommandResume || s.Command == CommandRetry {
		if s.DestRoot == "" {
			return fmt.Errorf("%s: destination is required (--dest or dest_root)", s.Command)
		}
	}

	if s.DestRoot != "" {
		if _, err := filesystem.ParsePath(s.DestRoot); err != nil {
			return fmt.Errorf("invalid destination %q: %w", s.DestRoot, err)
		}
	}

	if !slices.Contains([]string{"linux", "darwin", "windows"}, s.Platform) {
		return fmt.Errorf("unknown platform %q (valid: linux, darwin, windows)", s.Platform)
	}

	if s.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", s.Workers)
	}

	if s.ProgressInterval <= 0 {
		return fmt.Errorf("progress interval must be positive, got %s", s.ProgressInterval)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, s.LogLevel) {
		return fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s.LogLevel)
	}

	if s.LogFormat != "console" && s.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q (valid: console, json)", s.LogFormat)
	}

	if s.IncludePattern != "" && !payload.NewGlobFilter(s.IncludePattern).Valid() {
		return fmt.Errorf("invalid include pattern %q", s.IncludePattern)
	}

	if s.Upload != nil {
		if _, err := ParseAnnotations(s.Upload.Annotations); err != nil {
			return err
		}
	}

	return nil
}

// DatabasePath is the local job database inside the state directory.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.StateDir, "jobs.db")
}

// RecoveryPath is the recovery list inside the state directory.
func (s *Settings) RecoveryPath() string {
	return filepath.Join(s.StateDir, "recovery.json")
}

// ParseAnnotationType parses a TOML annotation type name.
func ParseAnnotationType(s string) (payload.AnnotationType, error) {
	kind := payload.AnnotationType(strings.ToLower(strings.TrimSpace(s)))

	switch kind {
	case payload.TypeText, payload.TypeNumber, payload.TypeBoolean, payload.TypeDate:
		return kind, nil
	}

	return "", fmt.Errorf("invalid annotation type: %s (valid: text, number, boolean, date)", s)
}

// ParseAnnotations turns name=value flags into an annotation map. Repeated names
// collect several values.
func ParseAnnotations(values []string) (map[string][]string, error) {
	out := make(map[string][]string, len(values))

	for _, value := range values {
		name, v, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)

		if !ok || name == "" {
			return nil, fmt.Errorf("invalid annotation %q (want name=value)", value)
		}

		out[name] = append(out[name], strings.TrimSpace(v))
	}

	return out, nil
}

// ExpandPath resolves a leading ~ and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}

	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}

		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}

	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}

	return absolute, nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
