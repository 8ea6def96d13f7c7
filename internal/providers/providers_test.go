package providers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
}

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Search(_ context.Context, _ string, _ int, _ *Scratch) ([]Record, error) {
	return []Record{}, nil
}

func TestRecord_Validate(t *testing.T) {
	valid := Record{Title: "Clip", URL: "https://example.com/v/1"}
	assert.NoError(t, valid.Validate())

	cases := map[string]Record{
		"empty title":  {URL: "https://example.com/v/1"},
		"empty url":    {Title: "Clip"},
		"relative url": {Title: "Clip", URL: "/v/1"},
		"no host":      {Title: "Clip", URL: "https:///v/1"},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			err := rec.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRecord))
		})
	}
}

func TestScratch_SetGetDelete(t *testing.T) {
	s := NewScratch()
	key := Key{Provider: "dinotube", Name: "resolved_url"}

	_, ok := s.Get(key)
	assert.False(t, ok)

	s.Set(key, "https://example.com/videos/cats")
	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/videos/cats", v)
	assert.Equal(t, 1, s.Len())

	s.Delete(key)
	assert.Equal(t, 0, s.Len())
}

func TestScratch_KeysAreNamespacedByProvider(t *testing.T) {
	s := NewScratch()
	s.Set(Key{Provider: "a", Name: "token"}, "from-a")
	s.Set(Key{Provider: "b", Name: "token"}, "from-b")

	a, _ := Lookup[string](s, Key{Provider: "a", Name: "token"})
	b, _ := Lookup[string](s, Key{Provider: "b", Name: "token"})
	assert.Equal(t, "from-a", a)
	assert.Equal(t, "from-b", b)
}

func TestLookup_WrongTypeIsAbsent(t *testing.T) {
	s := NewScratch()
	key := Key{Provider: "yt", Name: "page_tokens"}
	s.Set(key, 42)

	_, ok := Lookup[map[int]string](s, key)
	assert.False(t, ok)

	n, ok := Lookup[int](s, key)
	assert.True(t, ok)
	assert.Equal(t, 42, n)
}

func TestScratch_ConcurrentWriters(t *testing.T) {
	s := NewScratch()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set(Key{Provider: "p", Name: string(rune('a' + i%26))}, i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 26, s.Len())
}

func TestRegistry_PreservesOrder(t *testing.T) {
	r, err := NewRegistry(stubProvider{"c"}, stubProvider{"a"}, stubProvider{"b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, r.Names())
	assert.Equal(t, 3, r.Len())

	p, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", p.Name())
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r, err := NewRegistry(stubProvider{"yt"})
	require.NoError(t, err)

	err = r.Register(stubProvider{"yt"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateProvider))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, r.Register(stubProvider{""}))
	assert.Panics(t, func() { r.MustRegister(stubProvider{""}) })
}

func TestRegistry_ProvidersIsSnapshot(t *testing.T) {
	r, err := NewRegistry(stubProvider{"a"})
	require.NoError(t, err)

	snap := r.Providers()
	r.MustRegister(stubProvider{"b"})
	assert.Len(t, snap, 1)
	assert.Len(t, r.Providers(), 2)
}

func TestScratch_UpdateIsAtomic(t *testing.T) {
	s := NewScratch()
	key := Key{Provider: "p", Name: "counter"}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(key, func(old any, ok bool) any {
				n, _ := old.(int)
				return n + 1
			})
		}()
	}
	wg.Wait()

	n, ok := Lookup[int](s, key)
	require.True(t, ok)
	assert.Equal(t, 100, n)
}
