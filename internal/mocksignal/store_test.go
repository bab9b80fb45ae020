package mocksignal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensandbox/kitsync/internal/databroker"
	"github.com/opensandbox/kitsync/pkg/types"
)

type fakeCatalog struct {
	known map[string]bool
	fail  map[string]error
}

func (f *fakeCatalog) Metadata(_ context.Context, path string) (*databroker.Metadata, error) {
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	if !f.known[path] {
		return nil, fmt.Errorf("%s: %w", path, databroker.ErrNotFound)
	}
	return &databroker.Metadata{Path: path, EntryType: databroker.EntryTypeSensor}, nil
}

type countingRestarter struct {
	mu    sync.Mutex
	count int
}

func (c *countingRestarter) Restart(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func newSync(t *testing.T, known ...string) (*Synchronizer, *countingRestarter) {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "signals.json"), filepath.Join(dir, "default_signals.json"))
	cat := &fakeCatalog{known: map[string]bool{}}
	for _, k := range known {
		cat.known[k] = true
	}
	r := &countingRestarter{}
	return NewSynchronizer(store, cat, r), r
}

func TestLoadMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "signals.json"), "")

	entries, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, os.WriteFile(s.Path(), []byte("  \n"), 0644))
	entries, err = s.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadAcceptsNumericValues(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "signals.json"), "")
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[{"signal":"Vehicle.Speed","value":12.5},{"signal":"Vehicle.IsMoving","value":true}]`), 0644))

	entries, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []types.MockSignal{
		{Signal: "Vehicle.Speed", Value: "12.5"},
		{Signal: "Vehicle.IsMoving", Value: "true"},
	}, entries)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "signals.json"), "")
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0644))
	_, err := s.Load()
	assert.Error(t, err)
}

func TestOfferNoopWhenAllPresent(t *testing.T) {
	syncer, restarts := newSync(t, "Vehicle.Speed")
	require.NoError(t, syncer.Store().Replace([]types.MockSignal{{Signal: "Vehicle.Speed", Value: "5"}}))
	before, err := os.ReadFile(syncer.Store().Path())
	require.NoError(t, err)
	stat, err := os.Stat(syncer.Store().Path())
	require.NoError(t, err)

	out, err := syncer.Offer(context.Background(), []string{"Vehicle.Speed"})
	require.NoError(t, err)
	assert.False(t, out.Changed())
	assert.False(t, out.Restarted)
	assert.Equal(t, []Skip{{Path: "Vehicle.Speed", Reason: ReasonPresent}}, out.Skipped)
	assert.Equal(t, 0, restarts.count)

	after, err := os.ReadFile(syncer.Store().Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	stat2, err := os.Stat(syncer.Store().Path())
	require.NoError(t, err)
	assert.Equal(t, stat.ModTime(), stat2.ModTime())
}

func TestOfferAddsKnownSignals(t *testing.T) {
	syncer, restarts := newSync(t, "Vehicle.Speed", "Vehicle.Cabin.Seat.Row1.Height")

	out, err := syncer.Offer(context.Background(), []string{"Vehicle.Speed", "Vehicle.Unknown", "Vehicle.Cabin.Seat.Row1.Height", "Vehicle.Speed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Vehicle.Speed", "Vehicle.Cabin.Seat.Row1.Height"}, out.Added)
	assert.True(t, out.Restarted)
	assert.Equal(t, 1, restarts.count)
	assert.Contains(t, out.Skipped, Skip{Path: "Vehicle.Unknown", Reason: ReasonUnknown})

	entries, err := syncer.Store().Load()
	require.NoError(t, err)
	assert.Equal(t, []types.MockSignal{
		{Signal: "Vehicle.Speed", Value: "0"},
		{Signal: "Vehicle.Cabin.Seat.Row1.Height", Value: "0"},
	}, entries)
}

func TestOfferReportsMetadataErrors(t *testing.T) {
	syncer, restarts := newSync(t)
	syncer.catalog.(*fakeCatalog).fail = map[string]error{"Vehicle.Speed": errors.New("unavailable")}

	out, err := syncer.Offer(context.Background(), []string{"Vehicle.Speed"})
	require.NoError(t, err)
	require.Len(t, out.Skipped, 1)
	assert.Contains(t, out.Skipped[0].Reason, ReasonMetadata)
	assert.Equal(t, 0, restarts.count)
}

func TestReplaceAlwaysRestarts(t *testing.T) {
	syncer, restarts := newSync(t, "Vehicle.Speed")
	entries := []types.MockSignal{{Signal: "Vehicle.Speed", Value: "10"}}

	for i := 1; i <= 2; i++ {
		got, out, err := syncer.Replace(context.Background(), entries)
		require.NoError(t, err)
		assert.Equal(t, entries, got)
		assert.True(t, out.Restarted)
		assert.Equal(t, i, restarts.count)
	}
}

func TestReplaceFiltersInvalidAndRoundTrips(t *testing.T) {
	syncer, _ := newSync(t, "Vehicle.Speed", "Vehicle.Body.Horn.IsActive")
	in := []types.MockSignal{
		{Signal: "Vehicle.Speed", Value: "10"},
		{Signal: "Vehicle.Bogus", Value: "1"},
		{Signal: "Vehicle.Body.Horn.IsActive", Value: "true"},
		{Signal: "Vehicle.Speed", Value: "20"},
	}

	got, out, err := syncer.Replace(context.Background(), in)
	require.NoError(t, err)
	want := []types.MockSignal{
		{Signal: "Vehicle.Speed", Value: "10"},
		{Signal: "Vehicle.Body.Horn.IsActive", Value: "true"},
	}
	assert.Equal(t, want, got)
	assert.Len(t, out.Skipped, 2)

	loaded, err := syncer.Store().Load()
	require.NoError(t, err)
	assert.Equal(t, want, loaded)
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "default_signals.json")
	require.NoError(t, os.WriteFile(def, []byte(`[{"signal":"Vehicle.Speed","value":"0"}]`), 0644))

	s := NewStore(filepath.Join(dir, "signals.json"), def)
	entries, err := s.Defaults()
	require.NoError(t, err)
	assert.Equal(t, []types.MockSignal{{Signal: "Vehicle.Speed", Value: "0"}}, entries)
}

func TestConcurrentOffersDoNotLoseEntries(t *testing.T) {
	paths := []string{"A", "B", "C", "D", "E", "F"}
	syncer, _ := newSync(t, paths...)

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := syncer.Offer(context.Background(), []string{p})
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	entries, err := syncer.Store().Load()
	require.NoError(t, err)
	assert.Len(t, entries, len(paths))
}
