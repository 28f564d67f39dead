//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package recovery_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/upload-files/internal/recovery"
)

func TestList_EmptyWhenMissing(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	list := recovery.Open(filepath.Join(t.TempDir(), "state", "recovery.json"))

	names, err := list.Names()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(names).Should(BeEmpty())
}

func TestList_AddIsOrderedAndUnique(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "recovery.json")
	list := recovery.Open(path)

	g.Expect(list.Add("plate-7")).Should(Succeed())
	g.Expect(list.Add("plate-8")).Should(Succeed())
	g.Expect(list.Add("plate-7")).Should(Succeed())

	names, err := list.Names()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(names).Should(Equal([]string{"plate-7", "plate-8"}))

	// A second handle on the same file sees the same data.
	names, err = recovery.Open(path).Names()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(names).Should(Equal([]string{"plate-7", "plate-8"}))
}

func TestList_Remove(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	list := recovery.Open(filepath.Join(t.TempDir(), "recovery.json"))

	g.Expect(list.Add("plate-7")).Should(Succeed())
	g.Expect(list.Add("plate-8")).Should(Succeed())
	g.Expect(list.Remove("plate-7")).Should(Succeed())
	g.Expect(list.Remove("never-added")).Should(Succeed())

	names, err := list.Names()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(names).Should(Equal([]string{"plate-8"}))
}

func TestList_ConcurrentWritersDoNotLoseNames(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "recovery.json")

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = recovery.Open(path).Add(fmt.Sprintf("batch-%d", i))
		}()
	}

	wg.Wait()

	names, err := recovery.Open(path).Names()
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(names).Should(HaveLen(10))
}

func TestList_CorruptFileIsAnError(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "recovery.json")
	g.Expect(os.WriteFile(path, []byte("{not json"), 0o600)).Should(Succeed())

	_, err := recovery.Open(path).Names()
	g.Expect(err).Should(MatchError(ContainSubstring("parse JSON")))
}
