package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/limits"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/queuetree"
)

type recordingReporter struct {
	trees []model.TreeReport
	dupes []model.DuplicateIPReport
	lost  []model.UnmappedReport
}

func (r *recordingReporter) ReportTree(_ context.Context, rep model.TreeReport) error {
	r.trees = append(r.trees, rep)
	return nil
}

func (r *recordingReporter) ReportDuplicates(_ context.Context, rep model.DuplicateIPReport) error {
	r.dupes = append(r.dupes, rep)
	return nil
}

func (r *recordingReporter) ReportUnmapped(_ context.Context, rep model.UnmappedReport) error {
	r.lost = append(r.lost, rep)
	return nil
}

func strp(s string) *string { return &s }

func site(id, name, typ, parent string) model.Site {
	s := model.Site{ID: id, Identification: &model.SiteIdentification{Name: strp(name), Type: strp(typ)}}
	if parent != "" {
		s.Identification.Parent = &model.SiteParent{ID: strp(parent)}
	}
	return s
}

func dev(id, siteID, ip string) model.Device {
	return model.Device{Identification: model.DeviceIdentification{ID: id, Site: &model.DeviceSite{ID: siteID}}, IPAddress: strp(ip)}
}

func testConfig(s config.Strategy) config.Config {
	cfg := config.Default()
	cfg.Strategy = s
	cfg.IncludeIPRanges = []string{"10.0.0.0/8"}
	cfg.InternetDownloadMbps, cfg.InternetUploadMbps = 100, 20
	cfg.DefaultDownloadMbps, cfg.DefaultUploadMbps = 500, 50
	return cfg
}

func TestBuildDuplicatesReported(t *testing.T) {
	rep := &recordingReporter{}
	p, err := New(testConfig(config.StrategyFlat), queuetree.LaneCount{ToISP: 4, ToInternet: 2}, rep, nil)
	require.NoError(t, err)
	topo := model.Topology{
		Sites:   []model.Site{site("a", "A", model.SiteTypeClient, ""), site("b", "B", model.SiteTypeClient, "")},
		Devices: []model.Device{dev("d1", "a", "10.0.0.5"), dev("d2", "b", "10.0.0.5/24")},
	}
	plan, err := p.Build(context.Background(), topo, limits.Empty())
	require.NoError(t, err)

	assert.Equal(t, 2, plan.Tree.LaneTotal())
	assert.Equal(t, []string{"10.0.0.5"}, plan.Duplicates)
	require.Len(t, rep.dupes, 1)
	assert.Equal(t, []string{"10.0.0.5"}, rep.dupes[0].Dupes)
	assert.NotEmpty(t, rep.dupes[0].ID)
	assert.Len(t, rep.trees, 1)
	assert.Empty(t, rep.lost, "no unmapped report without unmapped clients")

	for _, q := range plan.Tree.Queues {
		for _, c := range q.Children {
			assert.Equal(t, uint32(100), c.DownMbps, "client default is clamped to lane capacity")
			assert.Equal(t, uint32(20), c.UpMbps)
		}
	}
}

func TestBuildNoReportsWhenClean(t *testing.T) {
	rep := &recordingReporter{}
	p, err := New(testConfig(config.StrategyFlat), queuetree.LaneCount{ToISP: 1, ToInternet: 1}, rep, nil)
	require.NoError(t, err)
	topo := model.Topology{
		Sites:   []model.Site{site("a", "A", model.SiteTypeClient, "")},
		Devices: []model.Device{dev("d1", "a", "10.0.0.5")},
	}
	_, err = p.Build(context.Background(), topo, limits.Empty())
	require.NoError(t, err)
	assert.Empty(t, rep.dupes)
	assert.Empty(t, rep.lost)
	assert.Len(t, rep.trees, 1)
}

func TestBuildHashStable(t *testing.T) {
	p, err := New(testConfig(config.StrategyFull), queuetree.LaneCount{ToISP: 2, ToInternet: 2}, nil, nil)
	require.NoError(t, err)
	topo := model.Topology{
		Sites: []model.Site{
			site("t", "Tower", model.SiteTypeTower, ""),
			site("a", "A", model.SiteTypeClient, "t"),
			site("x", "X", model.SiteTypeClient, "missing"),
		},
		Devices: []model.Device{dev("d1", "a", "10.0.0.1"), dev("d2", "x", "10.0.0.2")},
	}
	first, err := p.Build(context.Background(), topo, limits.Empty())
	require.NoError(t, err)
	second, err := p.Build(context.Background(), topo, limits.Empty())
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, []string{"X"}, first.Unmapped)

	changed, err := p.Build(context.Background(), topo, limits.NewLookup(model.ShaperConfig{Sites: []model.SiteLimit{{ID: "a", Download: 5, Upload: 1}}}))
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, changed.Hash)
}

func TestBuildNoLanes(t *testing.T) {
	p, err := New(testConfig(config.StrategySite), queuetree.LaneCount{ToISP: 0, ToInternet: 4}, nil, nil)
	require.NoError(t, err)
	_, err = p.Build(context.Background(), model.Topology{}, limits.Empty())
	assert.ErrorIs(t, err, queuetree.ErrNoLanes)
}
