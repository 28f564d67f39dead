//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package payload_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/upload-files/internal/payload"
)

func TestFromPaths_WalksDirectoriesWithPattern(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	g.Expect(os.MkdirAll(filepath.Join(root, "day1"), 0o750)).Should(Succeed())
	g.Expect(os.WriteFile(filepath.Join(root, "day1", "plate.czi"), []byte("a"), 0o600)).Should(Succeed())
	g.Expect(os.WriteFile(filepath.Join(root, "day1", "notes.txt"), []byte("b"), 0o600)).Should(Succeed())
	g.Expect(os.WriteFile(filepath.Join(root, "top.czi"), []byte("c"), 0o600)).Should(Succeed())

	p, err := payload.FromPaths([]string{root}, payload.Options{
		Pattern:     "**/*.czi",
		Archive:     true,
		Annotations: map[string][]string{"Program": {"EMT"}},
	})
	g.Expect(err).ShouldNot(HaveOccurred())

	g.Expect(p.Files()).Should(Equal([]string{
		filepath.Join(root, "day1", "plate.czi"),
		filepath.Join(root, "top.czi"),
	}))

	record := p[filepath.Join(root, "top.czi")]
	g.Expect(record.ShouldBeInArchive).Should(BeTrue())
	g.Expect(record.ShouldBeInLocal).Should(BeFalse())
	g.Expect(record.Annotations).Should(HaveKeyWithValue("Program", []string{"EMT"}))
}

func TestFromPaths_ExplicitFileIgnoresPattern(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	file := filepath.Join(root, "notes.txt")
	g.Expect(os.WriteFile(file, []byte("b"), 0o600)).Should(Succeed())

	p, err := payload.FromPaths([]string{file}, payload.Options{Pattern: "*.czi", Local: true})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(p.Files()).Should(Equal([]string{file}))
}

func TestFromPaths_DuplicateFileIsRejected(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	root := t.TempDir()
	file := filepath.Join(root, "a.czi")
	g.Expect(os.WriteFile(file, []byte("a"), 0o600)).Should(Succeed())

	_, err := payload.FromPaths([]string{root, file}, payload.Options{})
	g.Expect(err).Should(HaveOccurred())
	g.Expect(err.Error()).Should(ContainSubstring("duplicate row"))
}

func TestFromPaths_Errors(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	_, err := payload.FromPaths([]string{filepath.Join(t.TempDir(), "missing")}, payload.Options{})
	g.Expect(err).Should(HaveOccurred())

	_, err = payload.FromPaths([]string{t.TempDir()}, payload.Options{Pattern: "[bad"})
	g.Expect(err).Should(MatchError(ContainSubstring("invalid include pattern")))
}
