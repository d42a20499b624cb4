package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/queuetree"
)

func TestFlatRoundRobin(t *testing.T) {
	topo := model.Topology{
		Sites: []model.Site{client("c1", "A", ""), client("c2", "B", ""), client("c3", "C", ""), client("c4", "NoIP", "")},
		Devices: []model.Device{
			device("d1", "cpe-a", "c1", "10.0.0.1"),
			device("d2", "cpe-b", "c2", "10.0.0.2"),
			device("d3", "cpe-c", "c3", "10.0.0.3"),
			device("d4", "cpe-d", "c4", "192.168.0.4"),
		},
	}
	tree, res := build(t, testConfig(config.StrategyFlat), topo, model.ShaperConfig{}, 2)
	assert.Empty(t, res.Unmapped)
	require.Len(t, tree.Queues, 2)
	assert.Equal(t, []string{"c1", "c3"}, siteIDs(tree.Queues[0].Children))
	assert.Equal(t, []string{"c2"}, siteIDs(tree.Queues[1].Children))
	assert.Equal(t, map[string]string{"10.0.0.1": "c1", "10.0.0.2": "c2", "10.0.0.3": "c3"}, tree.IPToSite)
	for _, q := range tree.Queues {
		for _, n := range q.Children {
			assert.Equal(t, queuetree.KindClient, n.Kind)
		}
	}
}

func TestFlatCaps(t *testing.T) {
	topo := model.Topology{
		Sites: []model.Site{
			withQoS(client("c1", "A", ""), 25, 5),
			client("c2", "B", ""),
			tower("t1", "Tower", ""),
			withQoS(client("c3", "C", ""), 25, 5),
		},
		Devices: []model.Device{
			device("d1", "a", "c1", "10.0.0.1"),
			device("d2", "b", "c2", "10.0.0.2"),
			device("d3", "t", "t1", "10.0.0.3"),
			device("d4", "c", "c3", "10.0.0.4"),
		},
	}
	lim := model.ShaperConfig{Sites: []model.SiteLimit{{ID: "c3", Download: 100, Upload: 0}}}
	tree, _ := build(t, testConfig(config.StrategyFlat), topo, lim, 1)
	caps := func(id string) [2]uint32 {
		n := find(tree, id)
		require.NotNil(t, n, id)
		return [2]uint32{n.DownMbps, n.UpMbps}
	}
	assert.Equal(t, [2]uint32{25, 5}, caps("c1"))
	assert.Equal(t, [2]uint32{50, 10}, caps("c2"))
	assert.Equal(t, [2]uint32{1000, 500}, caps("t1"))
	assert.Equal(t, [2]uint32{100, 5}, caps("c3"), "zero upload override falls back to QoS")
}

func TestNoLanes(t *testing.T) {
	tree := queuetree.New(queuetree.LaneCount{})
	_, err := Flat{}.Build(Input{Config: testConfig(config.StrategyFlat)}, tree)
	assert.ErrorIs(t, err, queuetree.ErrNoLanes)
}

func TestForName(t *testing.T) {
	for _, s := range []config.Strategy{config.StrategyFlat, config.StrategySite, config.StrategyFull} {
		b, err := ForName(s)
		require.NoError(t, err)
		assert.Equal(t, s, b.Name())
	}
	_, err := ForName("mesh")
	assert.Error(t, err)
}
