//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package filesystem_test

import (
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/upload-files/pkg/filesystem"
)

func TestAferoFileSystem_CreateAndOpen(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := filesystem.NewMemFileSystem()
	g.Expect(fs.MkdirAll("/dest/sub", 0o750)).Should(Succeed())

	file, err := fs.Create("/dest/sub/test.txt")
	g.Expect(err).ShouldNot(HaveOccurred())

	_, err = file.Write([]byte("test content"))
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(file.Close()).Should(Succeed())

	file, err = fs.Open("/dest/sub/test.txt")
	g.Expect(err).ShouldNot(HaveOccurred())

	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(file)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(data)).Should(Equal("test content"))

	info, err := fs.Stat("/dest/sub/test.txt")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(info.Size()).Should(Equal(int64(len("test content"))))
}

func TestAferoFileSystem_ErrorsWrapNotExist(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	fs := filesystem.NewMemFileSystem()

	_, err := fs.Open("/missing.txt")
	g.Expect(err).Should(HaveOccurred())
	g.Expect(errors.Is(err, iofs.ErrNotExist)).Should(BeTrue())
	g.Expect(err.Error()).Should(ContainSubstring("/missing.txt"))

	err = fs.Remove("/missing.txt")
	g.Expect(errors.Is(err, iofs.ErrNotExist)).Should(BeTrue())
}

func TestRealFileSystem_RoundTrip(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	dir := t.TempDir()
	fs := filesystem.NewRealFileSystem()
	target := filepath.Join(dir, "a", "b", "file.bin")

	g.Expect(fs.MkdirAll(filepath.Dir(target), 0o750)).Should(Succeed())

	file, err := fs.Create(target)
	g.Expect(err).ShouldNot(HaveOccurred())
	_, err = file.Write([]byte{1, 2, 3})
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(file.Close()).Should(Succeed())

	info, err := fs.Stat(target)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(info.Size()).Should(Equal(int64(3)))

	g.Expect(fs.Remove(target)).Should(Succeed())

	_, err = os.Stat(target)
	g.Expect(os.IsNotExist(err)).Should(BeTrue())
}
