package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/limits"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/queuetree"
)

func fullTopology() model.Topology {
	return model.Topology{
		Sites: []model.Site{
			tower("core", "Core", "upstream"),
			tower("t1", "North", "core"),
			tower("t2", "Backhaul", "core"),
			tower("t3", "Hilltop", "t2"),
			tower("t4", "Empty", "core"),
			tower("t5", "Lost", "ghost-tower"),
			client("c1", "Alice", "t1"),
			client("c2", "Bob", "t1"),
			client("c5", "Relay", "t1"),
			client("c4", "Dave", "c5"),
			client("c6", "Ghost", "nowhere"),
			client("c7", "Orphan", "t5"),
			client("c3", "Carol", "t3"),
		},
		Devices: []model.Device{
			device("r0", "core-router", "core", "10.9.0.1"),
			device("ap1", "ap-north", "t1", "10.1.1.1"),
			device("cpe1", "cpe-alice", "c1", "10.0.0.1"),
			device("cpe2", "cpe-bob", "c2", "10.0.0.2"),
			device("cpe5", "cpe-relay", "c5", "10.0.0.5"),
			device("cpe4", "cpe-dave", "c4", "10.0.0.4"),
			device("cpe6", "cpe-ghost", "c6", "10.0.0.6"),
			device("cpe7", "cpe-orphan", "c7", "10.0.0.7"),
			device("cpe3", "cpe-carol", "c3", "10.0.0.3"),
		},
		DataLinks: []model.DataLink{
			link("c1", "cpe1", "t1", "ap1"),
		},
	}
}

func TestFullHierarchy(t *testing.T) {
	lim := model.ShaperConfig{
		Sites:        []model.SiteLimit{{ID: "t1", Download: 300, Upload: 100}},
		AccessPoints: []model.APLimit{{ID: "ap1", Download: 200, Upload: 40}},
	}
	tree, res := build(t, testConfig(config.StrategyFull), fullTopology(), lim, 2)

	assert.Equal(t, []string{"Ghost", "Orphan"}, res.Unmapped)
	assert.Equal(t, []string{"core.1", "t2"}, siteIDs(tree.Queues[0].Children))
	assert.Equal(t, []string{"t1", "666.2"}, siteIDs(tree.Queues[1].Children))

	north := tree.Queues[1].Children[0]
	assert.Equal(t, queuetree.KindTower, north.Kind)
	assert.Equal(t, []string{"t1.1", "ap1", "t1.2"}, siteIDs(north.Children))

	ap := north.Children[1]
	assert.Equal(t, queuetree.KindAccessPoint, ap.Kind)
	assert.Equal(t, "ap-north", ap.Name)
	assert.Equal(t, [2]uint32{200, 40}, [2]uint32{ap.DownMbps, ap.UpMbps})
	assert.Equal(t, []string{"c1"}, siteIDs(ap.Children))

	noAP := north.Children[2]
	assert.Equal(t, "No AP", noAP.Name)
	assert.Equal(t, [2]uint32{300, 100}, [2]uint32{noAP.DownMbps, noAP.UpMbps})
	assert.Equal(t, []string{"c2", "c5", "c4"}, siteIDs(noAP.Children), "c4 is promoted past its client parent")

	backhaul := tree.Queues[0].Children[1]
	require.Len(t, backhaul.Children, 1, "backhaul tower without IPs is kept for its descendants")
	assert.Equal(t, "t3", backhaul.Children[0].SiteID)
	assert.Equal(t, []string{"t3.2"}, siteIDs(backhaul.Children[0].Children))

	assert.Nil(t, find(tree, "t4"), "empty tower is pruned")
	assert.Nil(t, find(tree, "t5"), "unreachable tower is skipped")

	fake := tree.Queues[1].Children[1]
	assert.Equal(t, "No AP", fake.Name)
	assert.Equal(t, []string{"c6", "c7"}, siteIDs(fake.Children))

	assert.Equal(t, "c4", tree.IPToSite["10.0.0.4"])
	assert.Equal(t, "core.1", tree.IPToSite["10.9.0.1"])
}

func TestFullUnmappedReportedOnce(t *testing.T) {
	topo := model.Topology{
		Sites: []model.Site{
			tower("t1", "Core", ""),
			client("c1", "Alice", "t1"),
			client("c2", "Stray", "gone"),
		},
		Devices: []model.Device{
			device("d1", "a", "c1", "10.0.0.1"),
			device("d2", "s", "c2", "10.0.0.2"),
		},
	}
	tree, res := build(t, testConfig(config.StrategyFull), topo, model.ShaperConfig{}, 1)
	assert.Equal(t, []string{"Stray"}, res.Unmapped)

	var parentName string
	entries, err := tree.MonitorTree(1000, 500)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == "c2" {
			parentName = entries[*e.Parent].Name
			assert.Equal(t, "666.2", entries[*e.Parent].ID)
		}
	}
	assert.Equal(t, "No AP", parentName)
	c := find(tree, "c2")
	require.NotNil(t, c)
}

func TestFullNoUnmapped(t *testing.T) {
	topo := model.Topology{
		Sites:   []model.Site{tower("t1", "Core", ""), client("c1", "Alice", "t1")},
		Devices: []model.Device{device("d1", "a", "c1", "10.0.0.1")},
	}
	tree, res := build(t, testConfig(config.StrategyFull), topo, model.ShaperConfig{}, 1)
	assert.Empty(t, res.Unmapped)
	assert.Nil(t, find(tree, "666.2"))
}

func TestReconstructCycleSafe(t *testing.T) {
	topo := model.Topology{
		Sites: []model.Site{
			tower("a", "A", "b"),
			tower("b", "B", "a"),
			client("c1", "Alice", "a"),
		},
		Devices: []model.Device{device("d1", "a", "c1", "10.0.0.1")},
	}
	cfg := testConfig(config.StrategyFull)
	in := Input{Config: cfg, Topology: topo, Limits: limits.Empty()}
	h := reconstruct(in, in.addressIndex())
	assert.Len(t, h.skipped, 2)
	require.Len(t, h.roots, 1)
	assert.Equal(t, noParentSiteID, h.roots[0].id)
	assert.Equal(t, []string{"Alice"}, h.unmappedNames())
}

func TestRootAnchorByID(t *testing.T) {
	topo := model.Topology{
		Sites: []model.Site{
			tower("root-1", "Head End", "some-parent"),
			client("c1", "Alice", "root-1"),
		},
		Devices: []model.Device{device("d1", "a", "c1", "10.0.0.1")},
	}
	cfg := testConfig(config.StrategyFull)
	cfg.RootSite = "root-1"
	tree, res := build(t, cfg, topo, model.ShaperConfig{}, 1)
	assert.Empty(t, res.Unmapped)
	assert.Equal(t, []string{"root-1.2"}, siteIDs(tree.Queues[0].Children))
}

func TestFindAccessPoint(t *testing.T) {
	devices := map[string]model.Device{
		"ap1": device("ap1", "ap-one", "t1"),
		"ap2": device("ap2", "ap-two", "t1"),
		"cpe": device("cpe", "cpe", "c1"),
	}
	links := []model.DataLink{
		link("c9", "x", "t1", "ap2"),
		link("t1", "ap1", "c1", "cpe"),
		link("c1", "cpe", "t1", "ap2"),
	}
	name, id := findAccessPoint(links, devices, "c1", "t1")
	assert.Equal(t, "ap-one", name)
	assert.Equal(t, "ap1", id)

	name, id = findAccessPoint(links, devices, "c1", "")
	assert.Empty(t, name)
	assert.Empty(t, id)
}
