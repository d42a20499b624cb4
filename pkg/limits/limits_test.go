package limits

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/model"
)

type fakeFetcher struct {
	cfg model.ShaperConfig
	err error
}

func (f *fakeFetcher) FetchShaperConfig(context.Context) (model.ShaperConfig, error) {
	return f.cfg, f.err
}

func TestLookupCaps(t *testing.T) {
	l := NewLookup(model.ShaperConfig{
		Sites:        []model.SiteLimit{{ID: "s1", Download: 40, Upload: 8}, {ID: "s2", Download: 0, Upload: 3}},
		AccessPoints: []model.APLimit{{ID: "ap1", Download: 200, Upload: 50}},
	})
	down, up := l.SiteCaps("s1", 100, 20)
	assert.Equal(t, [2]uint32{40, 8}, [2]uint32{down, up})
	down, up = l.SiteCaps("s2", 100, 20)
	assert.Equal(t, [2]uint32{100, 3}, [2]uint32{down, up}, "zero override falls back")
	down, up = l.SiteCaps("missing", 100, 20)
	assert.Equal(t, [2]uint32{100, 20}, [2]uint32{down, up})
	down, up = l.APCaps("ap1", 1, 1)
	assert.Equal(t, [2]uint32{200, 50}, [2]uint32{down, up})
	assert.True(t, l.HasSite("s2"))
	assert.Equal(t, 3, l.Len())
}

func TestHashOrderIndependent(t *testing.T) {
	a := NewLookup(model.ShaperConfig{Sites: []model.SiteLimit{{ID: "a", Download: 1, Upload: 1}, {ID: "b", Download: 2, Upload: 2}}})
	b := NewLookup(model.ShaperConfig{Sites: []model.SiteLimit{{ID: "b", Download: 2, Upload: 2}, {ID: "a", Download: 1, Upload: 1}}})
	assert.Equal(t, a.Hash(), b.Hash())

	c := NewLookup(model.ShaperConfig{Sites: []model.SiteLimit{{ID: "a", Download: 1, Upload: 1}, {ID: "b", Download: 2, Upload: 3}}})
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.NotEqual(t, Empty().Hash(), a.Hash())
}

func TestCacheRefresh(t *testing.T) {
	f := &fakeFetcher{cfg: model.ShaperConfig{Sites: []model.SiteLimit{{ID: "s1", Download: 10, Upload: 2}}}}
	c := NewCache(f)
	assert.Equal(t, Empty().Hash(), c.Snapshot().Hash())

	require.NoError(t, c.Refresh(context.Background()))
	first := c.Snapshot()
	assert.True(t, first.HasSite("s1"))

	f.err = errors.New("manager down")
	assert.Error(t, c.Refresh(context.Background()))
	assert.Equal(t, first.Hash(), c.Snapshot().Hash(), "failed refresh keeps previous overrides")

	f.err = nil
	f.cfg = model.ShaperConfig{}
	require.NoError(t, c.Refresh(context.Background()))
	assert.False(t, c.Snapshot().HasSite("s1"))
}

func TestNilFetcher(t *testing.T) {
	c := NewCache(nil)
	assert.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 0, c.Snapshot().Len())
}
