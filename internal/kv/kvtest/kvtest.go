// Package kvtest holds a conformance suite every kv.Backend driver runs.
package kvtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/promptshelf/internal/kv"
)

// Factory opens an empty backend enforcing limits. Drivers register cleanup
// through the suite's T().
type Factory func(s *Suite, limits kv.Limits) kv.Backend

// Suite exercises the kv.Backend contract.
type Suite struct {
	suite.Suite
	Open    Factory
	ctx     context.Context
	backend kv.Backend
}

// New returns a Suite bound to open.
func New(open Factory) *Suite {
	return &Suite{Open: open}
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.backend = s.Open(s, kv.DefaultLimits())
}

// jsonString returns a JSON string value whose encoding is exactly n bytes.
func jsonString(n int) []byte {
	return []byte(`"` + strings.Repeat("x", n-2) + `"`)
}

// TestSetGet tests round-trips and partial reads.
func (s *Suite) TestSetGet() {
	items := map[string][]byte{
		"templates":       []byte(`[{"id":"1"}]`),
		"templates_count": []byte(`"3"`),
		"metadata":        []byte(`{"version":"1.0.0"}`),
	}
	s.Require().NoError(s.backend.Set(s.ctx, items))

	all, err := s.backend.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(items, all)

	some, err := s.backend.Get(s.ctx, []string{"metadata", "missing"})
	s.Require().NoError(err)
	s.Equal(map[string][]byte{"metadata": items["metadata"]}, some)

	none, err := s.backend.Get(s.ctx, []string{})
	s.Require().NoError(err)
	s.Empty(none)
}

// TestSet_Overwrites tests that a key is replaced in place.
func (s *Suite) TestSet_Overwrites() {
	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"k": []byte(`1`)}))
	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"k": []byte(`[2]`)}))

	got, err := s.backend.Get(s.ctx, []string{"k"})
	s.Require().NoError(err)
	s.Equal([]byte(`[2]`), got["k"])
}

// TestSet_ItemTooLargeWritesNothing tests batch atomicity on the item ceiling.
func (s *Suite) TestSet_ItemTooLargeWritesNothing() {
	err := s.backend.Set(s.ctx, map[string][]byte{
		"ok":  []byte(`1`),
		"big": jsonString(kv.DefaultItemMaxBytes),
	})
	s.ErrorIs(err, kv.ErrItemTooLarge)

	got, err := s.backend.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(got)
}

// TestSet_Quota tests total quota accounting, including replacements.
func (s *Suite) TestSet_Quota() {
	// 12 items of 8003 bytes fit in 102400; a 13th does not.
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("k%02d", i)
		s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{key: jsonString(8000)}))
	}

	err := s.backend.Set(s.ctx, map[string][]byte{"k12": jsonString(8000)})
	s.ErrorIs(err, kv.ErrQuotaExceeded)

	// Replacing an existing key does not double count.
	s.NoError(s.backend.Set(s.ctx, map[string][]byte{"k00": jsonString(8000)}))

	got, err := s.backend.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(got, 12)
}

// TestRemoveClear tests deletion.
func (s *Suite) TestRemoveClear() {
	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"a": []byte(`1`), "b": []byte(`2`), "c": []byte(`3`)}))

	s.Require().NoError(s.backend.Remove(s.ctx, []string{"a", "missing"}))
	got, err := s.backend.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(map[string][]byte{"b": []byte(`2`), "c": []byte(`3`)}, got)

	s.Require().NoError(s.backend.Remove(s.ctx, nil))

	s.Require().NoError(s.backend.Clear(s.ctx))
	got, err = s.backend.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(got)
}

// TestNotifier tests change notifications from backends that support them.
func (s *Suite) TestNotifier() {
	n, ok := s.backend.(kv.Notifier)
	if !ok {
		s.T().Skip("backend does not notify")
	}

	var (
		mu     sync.Mutex
		events [][]string
	)
	n.OnChange(func(keys []string) {
		mu.Lock()
		events = append(events, keys)
		mu.Unlock()
	})

	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"b": []byte(`1`), "a": []byte(`2`)}))
	s.Require().NoError(s.backend.Remove(s.ctx, []string{"a", "zzz"}))

	mu.Lock()
	defer mu.Unlock()
	s.Equal([][]string{{"a", "b"}, {"a"}}, events)
}

// TestCanceledContext tests that a canceled context fails fast.
func (s *Suite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	s.Error(s.backend.Set(ctx, map[string][]byte{"a": []byte(`1`)}))
	_, err := s.backend.Get(ctx, nil)
	s.Error(err)
}

// TestConcurrentWriters tests that concurrent disjoint writes all land.
func (s *Suite) TestConcurrentWriters() {
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.backend.Set(s.ctx, map[string][]byte{fmt.Sprintf("w%d", i): []byte(fmt.Sprint(i))})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	got, err := s.backend.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(got, 8)
}
