//nolint:varnamelen // Test files use idiomatic short variable names (t, tt, etc.)
package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexflint/go-arg"
	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/upload-files/internal/config"
	"github.com/joe/upload-files/internal/payload"
)

func TestArgsDescriptionAndVersion(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	g.Expect(config.Args{}.Description()).ShouldNot(BeEmpty())
	g.Expect(config.Args{}.Version()).Should(HavePrefix("upload-files"))
}

func TestParseArgs_Upload(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	args, _, err := config.ParseArgs([]string{
		"--dest", "/archive", "-w", "2",
		"upload", "-n", "plate-7", "--include", "**/*.czi",
		"-a", "Program=Cell Atlas", "-a", "Well=A1", "--workflow", "segmentation",
		"/data/plate-7",
	})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(args.Upload).ShouldNot(BeNil())
	g.Expect(args.Upload.Paths).Should(Equal([]string{"/data/plate-7"}))
	g.Expect(args.Upload.Name).Should(Equal("plate-7"))
	g.Expect(args.Upload.Annotations).Should(Equal([]string{"Program=Cell Atlas", "Well=A1"}))
	g.Expect(args.Upload.Workflows).Should(Equal([]string{"segmentation"}))
	g.Expect(*args.Workers).Should(Equal(2))
	g.Expect(args.ProgressInterval).Should(BeNil())
}

func TestParseArgs_RetryNeedsJobID(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, _, err := config.ParseArgs([]string{"retry"})
	g.Expect(err).Should(HaveOccurred())

	args, _, err := config.ParseArgs([]string{"retry", "u1"})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(args.Retry.JobID).Should(Equal("u1"))
}

func TestParseArgs_Help(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, parser, err := config.ParseArgs([]string{"--help"})
	g.Expect(errors.Is(err, arg.ErrHelp)).Should(BeTrue())
	g.Expect(parser).ShouldNot(BeNil())
}

func TestResolve_Precedence(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	stateDir := t.TempDir()
	writeConfig(g, filepath.Join(stateDir, config.ConfigFileName), `
dest_root = "/from/file"
target_platform = "windows"
workers = 8
progress_interval_seconds = 5
required_annotations = ["Program"]
include_pattern = "*.tiff"
log_format = "json"

[annotation_types]
Well = "text"
Date = "DATE"
`)

	args, _, err := config.ParseArgs([]string{"--state-dir", stateDir, "-w", "1", "upload", "/data/a.czi"})
	g.Expect(err).ShouldNot(HaveOccurred())

	settings, err := config.Resolve(args)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(settings.ConfigLoaded).Should(BeTrue())
	g.Expect(settings.Command).Should(Equal(config.CommandUpload))

	// file over defaults
	g.Expect(settings.DestRoot).Should(Equal("/from/file"))
	g.Expect(settings.Platform).Should(Equal("windows"))
	g.Expect(settings.ProgressInterval).Should(Equal(5 * time.Second))
	g.Expect(settings.RequiredAnnotations).Should(Equal([]string{"Program"}))
	g.Expect(settings.IncludePattern).Should(Equal("*.tiff"))
	g.Expect(settings.LogFormat).Should(Equal("json"))
	g.Expect(settings.AnnotationTypes).Should(HaveKeyWithValue("Date", payload.TypeDate))

	// flags over file
	g.Expect(settings.Workers).Should(Equal(1))

	// defaults remain
	g.Expect(settings.LogLevel).Should(Equal("info"))
	g.Expect(settings.DatabasePath()).Should(Equal(filepath.Join(stateDir, "jobs.db")))
	g.Expect(settings.RecoveryPath()).Should(Equal(filepath.Join(stateDir, "recovery.json")))
}

func TestResolve_MissingConfigUsesDefaults(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	stateDir := t.TempDir()

	args, _, err := config.ParseArgs([]string{"--state-dir", stateDir, "status"})
	g.Expect(err).ShouldNot(HaveOccurred())

	settings, err := config.Resolve(args)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(settings.ConfigLoaded).Should(BeFalse())
	g.Expect(settings.Workers).Should(Equal(config.DefaultWorkers))
	g.Expect(settings.ProgressInterval).Should(Equal(config.DefaultProgressInterval))
	g.Expect(settings.Command).Should(Equal(config.CommandStatus))
}

func TestResolve_RejectsUnknownKeysAndTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{name: "unknown key", content: `destination = "/x"`, errMsg: "parse config"},
		{name: "bad annotation type", content: "[annotation_types]\nWell = \"colour\"", errMsg: "invalid annotation type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			stateDir := t.TempDir()
			writeConfig(g, filepath.Join(stateDir, config.ConfigFileName), tt.content)

			args, _, err := config.ParseArgs([]string{"--state-dir", stateDir, "status"})
			g.Expect(err).ShouldNot(HaveOccurred())

			_, err = config.Resolve(args)
			g.Expect(err).Should(MatchError(ContainSubstring(tt.errMsg)))
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	valid := func() config.Settings {
		s := config.Defaults()
		s.Command = config.CommandUpload
		s.DestRoot = "/archive"
		s.Platform = "linux"

		return s
	}

	tests := []struct {
		name   string
		mutate func(*config.Settings)
		errMsg string
	}{
		{name: "valid", mutate: func(*config.Settings) {}},
		{name: "valid sftp destination", mutate: func(s *config.Settings) { s.DestRoot = "sftp://svc@archive:2222//data" }},
		{name: "no command", mutate: func(s *config.Settings) { s.Command = "" }, errMsg: "command is required"},
		{name: "upload without destination", mutate: func(s *config.Settings) { s.DestRoot = "" }, errMsg: "destination is required"},
		{
			name:   "status without destination",
			mutate: func(s *config.Settings) { s.Command = config.CommandStatus; s.DestRoot = "" },
		},
		{name: "sftp without user", mutate: func(s *config.Settings) { s.DestRoot = "sftp://archive/data" }, errMsg: "must include username"},
		{name: "sftp bad port", mutate: func(s *config.Settings) { s.DestRoot = "sftp://svc@archive:x/data" }, errMsg: "invalid port"},
		{name: "unknown platform", mutate: func(s *config.Settings) { s.Platform = "plan9" }, errMsg: "unknown platform"},
		{name: "negative workers", mutate: func(s *config.Settings) { s.Workers = -1 }, errMsg: "workers"},
		{name: "zero interval", mutate: func(s *config.Settings) { s.ProgressInterval = 0 }, errMsg: "progress interval"},
		{name: "bad log level", mutate: func(s *config.Settings) { s.LogLevel = "loud" }, errMsg: "log level"},
		{name: "bad log format", mutate: func(s *config.Settings) { s.LogFormat = "xml" }, errMsg: "log format"},
		{name: "bad include pattern", mutate: func(s *config.Settings) { s.IncludePattern = "[" }, errMsg: "include pattern"},
		{
			name: "bad annotation flag",
			mutate: func(s *config.Settings) {
				s.Upload = &config.UploadCmd{Annotations: []string{"novalue"}}
			},
			errMsg: "want name=value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			s := valid()
			tt.mutate(&s)

			err := s.Validate()
			if tt.errMsg == "" {
				g.Expect(err).ShouldNot(HaveOccurred())
			} else {
				g.Expect(err).Should(MatchError(ContainSubstring(tt.errMsg)))
			}
		})
	}
}

func TestParseAnnotations(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	got, err := config.ParseAnnotations([]string{"Well=A1", "Well = B2", "Program=Atlas"})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(got).Should(Equal(map[string][]string{"Well": {"A1", "B2"}, "Program": {"Atlas"}}))

	_, err = config.ParseAnnotations([]string{"=x"})
	g.Expect(err).Should(HaveOccurred())
}

func TestExpandPath(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	home, err := os.UserHomeDir()
	g.Expect(err).ShouldNot(HaveOccurred())

	got, err := config.ExpandPath("~/.upload-files")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(got).Should(Equal(filepath.Join(home, ".upload-files")))

	got, err = config.ExpandPath("")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(got).Should(BeEmpty())
}

func writeConfig(g *WithT, path, content string) {
	g.Expect(os.WriteFile(path, []byte(content), 0o600)).Should(Succeed())
}
