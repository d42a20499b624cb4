package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/config"
	"bracket-qos/pkg/ipmatch"
	"bracket-qos/pkg/limits"
	"bracket-qos/pkg/model"
	"bracket-qos/pkg/queuetree"
)

func strp(s string) *string { return &s }

func mbps(v uint64) *uint64 {
	bits := v * 1_000_000
	return &bits
}

func tower(id, name, parent string) model.Site {
	s := model.Site{ID: id, Identification: &model.SiteIdentification{Name: strp(name), Type: strp(model.SiteTypeTower)}}
	if parent != "" {
		s.Identification.Parent = &model.SiteParent{ID: strp(parent)}
	}
	return s
}

func client(id, name, parent string) model.Site {
	s := tower(id, name, parent)
	s.Identification.Type = strp(model.SiteTypeClient)
	return s
}

func withQoS(s model.Site, down, up uint64) model.Site {
	s.QoS = &model.SiteQoS{Enabled: true, DownloadSpeed: mbps(down), UploadSpeed: mbps(up)}
	return s
}

func device(id, name, site string, addrs ...string) model.Device {
	d := model.Device{Identification: model.DeviceIdentification{ID: id, Hostname: strp(name), Site: &model.DeviceSite{ID: site}}}
	var iface model.DeviceInterface
	for _, a := range addrs {
		iface.Addresses = append(iface.Addresses, model.DeviceAddress{CIDR: strp(a + "/24")})
	}
	d.Interfaces = []model.DeviceInterface{iface}
	return d
}

func link(fromSite, fromDev, toSite, toDev string) model.DataLink {
	end := func(site, dev string) model.LinkEndpoint {
		var e model.LinkEndpoint
		if site != "" {
			e.Site = &model.LinkRef{}
			e.Site.Identification.ID = site
		}
		if dev != "" {
			e.Device = &model.LinkRef{}
			e.Device.Identification.ID = dev
		}
		return e
	}
	return model.DataLink{ID: fromSite + "-" + toSite, From: end(fromSite, fromDev), To: end(toSite, toDev)}
}

func testConfig(s config.Strategy) config.Config {
	cfg := config.Default()
	cfg.Strategy = s
	cfg.InternetDownloadMbps = 1000
	cfg.InternetUploadMbps = 500
	cfg.DefaultDownloadMbps = 50
	cfg.DefaultUploadMbps = 10
	cfg.IncludeIPRanges = []string{"10.0.0.0/8"}
	cfg.RootSite = "Core"
	return cfg
}

func build(t *testing.T, cfg config.Config, topo model.Topology, lim model.ShaperConfig, lanes uint32) (*queuetree.QueueTree, Result) {
	t.Helper()
	b, err := ForName(cfg.Strategy)
	require.NoError(t, err)
	tree := queuetree.New(queuetree.LaneCount{ToISP: lanes, ToInternet: lanes})
	in := Input{
		Config:   cfg,
		Topology: topo,
		Limits:   limits.NewLookup(lim),
		Matcher:  ipmatch.New(cfg.IncludeIPRanges, cfg.IgnoreIPRanges),
	}
	res, err := b.Build(in, tree)
	require.NoError(t, err)
	require.NoError(t, tree.Validate())
	return tree, res
}

func siteIDs(nodes []*queuetree.Node) []string {
	out := []string{}
	for _, n := range nodes {
		out = append(out, n.SiteID)
	}
	return out
}

func find(tree *queuetree.QueueTree, siteID string) *queuetree.Node {
	var found *queuetree.Node
	_ = tree.Walk(func(_ uint32, _, n *queuetree.Node) error {
		if n.SiteID == siteID && found == nil {
			found = n
		}
		return nil
	})
	return found
}
