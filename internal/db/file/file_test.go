package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/promptshelf/internal/kv"
	"github.com/thebtf/promptshelf/internal/kv/kvtest"
)

// FileSuite is a test suite for the JSON-file backend.
type FileSuite struct {
	suite.Suite
	path    string
	backend *Backend
	ctx     context.Context
}

func (s *FileSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "data", "storage.json")

	var err error
	s.backend, err = Open(s.path, kv.DefaultLimits())
	s.Require().NoError(err)
}

func TestFileSuite(t *testing.T) {
	suite.Run(t, new(FileSuite))
}

func (s *FileSuite) reopen() *Backend {
	b, err := Open(s.path, kv.DefaultLimits())
	s.Require().NoError(err)
	return b
}

// TestSetGet_Persists tests values survive a reopen byte for byte.
func (s *FileSuite) TestSetGet_Persists() {
	items := map[string][]byte{
		"templates":       []byte(`[{"id":"1","title":"a <b>"}]`),
		"templates_count": []byte(`"2"`),
		"settings":        []byte(`{"theme":"dark"}`),
	}
	s.Require().NoError(s.backend.Set(s.ctx, items))

	got, err := s.reopen().Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(items, got)

	got, err = s.backend.Get(s.ctx, []string{"settings", "missing"})
	s.Require().NoError(err)
	s.Equal(map[string][]byte{"settings": items["settings"]}, got)
}

// TestSet_RejectsNonJSON tests value validation.
func (s *FileSuite) TestSet_RejectsNonJSON() {
	err := s.backend.Set(s.ctx, map[string][]byte{"k": []byte("not json")})
	s.ErrorIs(err, ErrNotJSON)

	_, statErr := os.Stat(s.path)
	s.True(os.IsNotExist(statErr), "nothing written")
}

// TestSet_EnforcesLimits tests quota enforcement leaves the file untouched.
func (s *FileSuite) TestSet_EnforcesLimits() {
	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"a": []byte(`1`)}))
	before, err := os.ReadFile(s.path)
	s.Require().NoError(err)

	big := []byte(`"` + strings.Repeat("x", kv.DefaultItemMaxBytes) + `"`)
	s.ErrorIs(s.backend.Set(s.ctx, map[string][]byte{"b": big}), kv.ErrItemTooLarge)

	after, err := os.ReadFile(s.path)
	s.Require().NoError(err)
	s.Equal(before, after)
}

// TestRemoveClear tests deletions persist and notify.
func (s *FileSuite) TestRemoveClear() {
	var events [][]string
	s.backend.OnChange(func(keys []string) { events = append(events, keys) })

	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"a": []byte(`1`), "b": []byte(`2`), "c": []byte(`3`)}))
	s.Require().NoError(s.backend.Remove(s.ctx, []string{"a", "zzz"}))
	s.Require().NoError(s.backend.Remove(s.ctx, []string{"zzz"}))

	got, err := s.reopen().Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(got, 2)

	s.Require().NoError(s.backend.Clear(s.ctx))
	got, err = s.reopen().Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(got)

	s.Equal([][]string{{"a", "b", "c"}, {"a"}, {"b", "c"}}, events)
}

// TestReload_NotifiesExternalChanges tests disk edits reach listeners.
func (s *FileSuite) TestReload_NotifiesExternalChanges() {
	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"a": []byte(`1`), "b": []byte(`2`)}))

	var events [][]string
	s.backend.OnChange(func(keys []string) { events = append(events, keys) })

	// Own write reloads to no change
	s.Require().NoError(s.backend.Reload())
	s.Empty(events)

	s.Require().NoError(os.WriteFile(s.path, []byte(`{"a": 1, "b": 3, "c": true}`), 0600))
	s.Require().NoError(s.backend.Reload())
	s.Equal([][]string{{"b", "c"}}, events)

	got, err := s.backend.Get(s.ctx, []string{"c"})
	s.Require().NoError(err)
	s.Equal([]byte(`true`), got["c"])

	s.Require().NoError(os.Remove(s.path))
	s.Require().NoError(s.backend.Reload())
	s.Equal([]string{"a", "b", "c"}, events[1])
}

// TestReload_CorruptFileKeepsState tests an unreadable document is an error.
func (s *FileSuite) TestReload_CorruptFileKeepsState() {
	s.Require().NoError(s.backend.Set(s.ctx, map[string][]byte{"a": []byte(`1`)}))
	s.Require().NoError(os.WriteFile(s.path, []byte(`{broken`), 0600))

	s.Error(s.backend.Reload())
	got, err := s.backend.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(got, 1)
}

// TestCanceledContext tests that canceled calls do nothing.
func (s *FileSuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.ErrorIs(s.backend.Set(ctx, map[string][]byte{"a": []byte(`1`)}), context.Canceled)
	_, err := s.backend.Get(ctx, nil)
	s.ErrorIs(err, context.Canceled)
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2"), 0600))

	_, err := Open(path, kv.DefaultLimits())
	assert.Error(t, err)
}

func TestOpen_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	b, err := Open(path, kv.DefaultLimits())
	require.NoError(t, err)
	got, err := b.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileConformance(t *testing.T) {
	suite.Run(t, kvtest.New(func(s *kvtest.Suite, limits kv.Limits) kv.Backend {
		b, err := Open(filepath.Join(s.T().TempDir(), "storage.json"), limits)
		s.Require().NoError(err)
		return b
	}))
}
