package kv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestItemSize(t *testing.T) {
	assert.Equal(t, 4+7, ItemSize("abcd", []byte(`"hello"`)))
	assert.Equal(t, 3, ItemSize("abc", nil))
}

func TestLimitsCheck_TableDriven(t *testing.T) {
	limits := Limits{QuotaBytes: 100, ItemMaxBytes: 40}

	tests := []struct {
		name    string
		current map[string]int
		items   map[string][]byte
		wantErr error
	}{
		{
			name:  "fits",
			items: map[string][]byte{"a": []byte(strings.Repeat("x", 39))},
		},
		{
			name:    "item over ceiling",
			items:   map[string][]byte{"a": []byte(strings.Repeat("x", 40))},
			wantErr: ErrItemTooLarge,
		},
		{
			name:    "quota exceeded by new items",
			current: map[string]int{"old": 80},
			items:   map[string][]byte{"a": []byte(strings.Repeat("x", 30))},
			wantErr: ErrQuotaExceeded,
		},
		{
			name:    "replaced item does not count twice",
			current: map[string]int{"a": 40, "b": 40},
			items:   map[string][]byte{"a": []byte(strings.Repeat("x", 30))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := limits.Check(tt.current, tt.items)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestLimitsCheck_ZeroDisables(t *testing.T) {
	big := map[string][]byte{"a": []byte(strings.Repeat("x", 1<<20))}
	assert.NoError(t, Limits{}.Check(nil, big))
}

// MemorySuite is a test suite for the in-memory backend.
type MemorySuite struct {
	suite.Suite
	ctx context.Context
	mem *Memory
}

func (s *MemorySuite) SetupTest() {
	s.ctx = context.Background()
	s.mem = NewMemory(DefaultLimits())
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

// TestSetGet tests basic writes and reads.
func (s *MemorySuite) TestSetGet() {
	err := s.mem.Set(s.ctx, map[string][]byte{
		"a": []byte(`1`),
		"b": []byte(`"two"`),
	})
	s.Require().NoError(err)

	got, err := s.mem.Get(s.ctx, []string{"a", "missing"})
	s.Require().NoError(err)
	s.Equal(map[string][]byte{"a": []byte(`1`)}, got)

	all, err := s.mem.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(all, 2)
	s.Equal([]string{"a", "b"}, Keys(all))
}

// TestGetReturnsCopies tests that callers cannot mutate stored values.
func (s *MemorySuite) TestGetReturnsCopies() {
	s.Require().NoError(s.mem.Set(s.ctx, map[string][]byte{"a": []byte(`"abc"`)}))

	got, err := s.mem.Get(s.ctx, []string{"a"})
	s.Require().NoError(err)
	got["a"][1] = 'z'

	again, err := s.mem.Get(s.ctx, []string{"a"})
	s.Require().NoError(err)
	s.Equal(`"abc"`, string(again["a"]))
}

// TestSetRejectsWholeBatch tests that a failing batch writes nothing.
func (s *MemorySuite) TestSetRejectsWholeBatch() {
	err := s.mem.Set(s.ctx, map[string][]byte{
		"small": []byte(`1`),
		"big":   []byte(strings.Repeat("x", DefaultItemMaxBytes)),
	})
	s.ErrorIs(err, ErrItemTooLarge)

	all, err := s.mem.Get(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(all)
}

// TestQuota tests total quota enforcement.
func (s *MemorySuite) TestQuota() {
	chunk := []byte(strings.Repeat("x", 8000))
	items := make(map[string][]byte)
	for i := 0; i < 12; i++ {
		items[string(rune('a'+i))] = chunk
	}
	s.Require().NoError(s.mem.Set(s.ctx, items))
	s.LessOrEqual(s.mem.BytesInUse(), DefaultQuotaBytes)

	err := s.mem.Set(s.ctx, map[string][]byte{"overflow": chunk})
	s.ErrorIs(err, ErrQuotaExceeded)
}

// TestRemoveAndClear tests deletion.
func (s *MemorySuite) TestRemoveAndClear() {
	s.Require().NoError(s.mem.Set(s.ctx, map[string][]byte{"a": []byte(`1`), "b": []byte(`2`)}))

	s.Require().NoError(s.mem.Remove(s.ctx, []string{"a", "missing"}))
	all, _ := s.mem.Get(s.ctx, nil)
	s.Equal([]string{"b"}, Keys(all))

	s.Require().NoError(s.mem.Clear(s.ctx))
	all, _ = s.mem.Get(s.ctx, nil)
	s.Empty(all)
	s.Zero(s.mem.BytesInUse())
}

// TestOnChange tests change notification.
func (s *MemorySuite) TestOnChange() {
	var mu sync.Mutex
	var seen [][]string
	s.mem.OnChange(func(keys []string) {
		mu.Lock()
		seen = append(seen, keys)
		mu.Unlock()
	})

	s.Require().NoError(s.mem.Set(s.ctx, map[string][]byte{"b": []byte(`1`), "a": []byte(`2`)}))
	s.Require().NoError(s.mem.Remove(s.ctx, []string{"missing"}))
	s.Require().NoError(s.mem.Remove(s.ctx, []string{"a"}))

	mu.Lock()
	defer mu.Unlock()
	s.Require().Len(seen, 2, "removing a missing key is not a change")
	s.Equal([]string{"a", "b"}, seen[0])
	s.Equal([]string{"a"}, seen[1])
}

// TestCanceledContext tests that canceled contexts are rejected.
func (s *MemorySuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.mem.Get(ctx, nil)
	s.ErrorIs(err, context.Canceled)
	s.ErrorIs(s.mem.Set(ctx, map[string][]byte{"a": []byte(`1`)}), context.Canceled)
}

func TestMemory_ImplementsInterfaces(t *testing.T) {
	var backend Backend = NewMemory(DefaultLimits())
	_, ok := backend.(Notifier)
	require.True(t, ok)
}
