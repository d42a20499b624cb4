package strategy

import (
	"k8s.io/klog/v2"

	"bracket-qos/pkg/model"
)

const (
	noParentSiteID   = "666"
	noParentSiteName = "No Site Parent"
	noAPName         = "No AP"
)

type vClient struct {
	name     string
	id       string
	parent   string
	ips      []string
	down, up uint32
	apName   string
	apID     string
}

type apKey struct {
	name string
	id   string
}

type apGroup struct {
	key     apKey
	clients []vClient
}

type vSite struct {
	name     string
	id       string
	parent   string
	children []*vSite
	infraIPs []string
	aps      []*apGroup
	apIndex  map[apKey]*apGroup
	down, up uint32
}

// addClient files c under its access point; groups keep first-seen order.
func (s *vSite) addClient(c vClient) {
	key := apKey{name: c.apName, id: c.apID}
	if key.name == "" {
		key.name = noAPName
	}
	if key.id == "" {
		key.id = s.id + ".2"
	}
	if s.apIndex == nil {
		s.apIndex = map[apKey]*apGroup{}
	}
	g, ok := s.apIndex[key]
	if !ok {
		g = &apGroup{key: key}
		s.apIndex[key] = g
		s.aps = append(s.aps, g)
	}
	g.clients = append(g.clients, c)
}

// contributes reports whether the site or any descendant shapes anything.
func (s *vSite) contributes() bool {
	if len(s.infraIPs) > 0 || len(s.aps) > 0 {
		return true
	}
	for _, ch := range s.children {
		if ch.contributes() {
			return true
		}
	}
	return false
}

func (s *vSite) prune() {
	kept := s.children[:0]
	for _, ch := range s.children {
		ch.prune()
		if ch.contributes() {
			kept = append(kept, ch)
		}
	}
	s.children = kept
}

type hierarchy struct {
	roots    []*vSite
	unmapped []vClient
	skipped  []*vSite
}

func (h hierarchy) unmappedNames() []string {
	if len(h.unmapped) == 0 {
		return nil
	}
	out := make([]string, 0, len(h.unmapped))
	for _, c := range h.unmapped {
		out = append(out, c.name)
	}
	return out
}

// resolveParent returns the site's declared parent, skipping one level when
// that parent is itself a client endpoint.
func resolveParent(s model.Site, byID map[string]model.Site) string {
	p := s.ParentID()
	if p == "" {
		return ""
	}
	if ps, ok := byID[p]; ok && ps.IsClient() {
		return ps.ParentID()
	}
	return p
}

func (in Input) isRootAnchor(s model.Site) bool {
	r := in.Config.RootSite
	return r != "" && (s.ID == r || s.Name() == r)
}

// reconstruct rebuilds a tower forest from flat parent references.
func reconstruct(in Input, ips map[string][]string) hierarchy {
	sites := in.Topology.Sites
	byID := make(map[string]model.Site, len(sites))
	for _, s := range sites {
		byID[s.ID] = s
	}
	devices := make(map[string]model.Device, len(in.Topology.Devices))
	for _, d := range in.Topology.Devices {
		devices[d.ID()] = d
	}

	var clients []vClient
	for _, s := range sites {
		if s.IsTower() {
			continue
		}
		addrs := ips[s.ID]
		if len(addrs) == 0 {
			continue
		}
		parent := resolveParent(s, byID)
		down, up := in.clientCaps(s)
		c := vClient{name: displayName(s), id: s.ID, parent: parent, ips: addrs, down: down, up: up}
		c.apName, c.apID = findAccessPoint(in.Topology.DataLinks, devices, s.ID, parent)
		clients = append(clients, c)
	}

	var towers []*vSite
	towerByID := map[string]*vSite{}
	for _, s := range sites {
		if !s.IsTower() {
			continue
		}
		parent := ""
		if !in.isRootAnchor(s) {
			parent = resolveParent(s, byID)
		}
		down, up := in.towerCaps(s.ID)
		t := &vSite{name: displayName(s), id: s.ID, parent: parent, infraIPs: ips[s.ID], down: down, up: up}
		towers = append(towers, t)
		towerByID[t.id] = t
	}

	var h hierarchy
	byParent := map[string][]*vSite{}
	for _, t := range towers {
		if t.parent == "" {
			h.roots = append(h.roots, t)
			continue
		}
		byParent[t.parent] = append(byParent[t.parent], t)
	}
	included := map[string]bool{}
	var attach func(s *vSite)
	attach = func(s *vSite) {
		included[s.id] = true
		for _, ch := range byParent[s.id] {
			if included[ch.id] {
				continue
			}
			s.children = append(s.children, ch)
			attach(ch)
		}
	}
	for _, r := range h.roots {
		attach(r)
	}
	for _, t := range towers {
		if !included[t.id] {
			h.skipped = append(h.skipped, t)
			klog.Warningf("strategy full: tower %q (%s) with parent %s is not reachable from a root, skipped", t.name, t.id, t.parent)
		}
	}

	for _, c := range clients {
		if t, ok := towerByID[c.parent]; ok && included[t.id] {
			t.addClient(c)
			continue
		}
		h.unmapped = append(h.unmapped, c)
	}

	kept := h.roots[:0]
	for _, r := range h.roots {
		r.prune()
		if r.contributes() {
			kept = append(kept, r)
		}
	}
	h.roots = kept

	if len(h.unmapped) > 0 {
		klog.Warningf("strategy full: %d clients have no tower parent, placing them under %q", len(h.unmapped), noParentSiteName)
		down, up := in.internetCaps()
		fake := &vSite{name: noParentSiteName, id: noParentSiteID, down: down, up: up}
		for _, c := range h.unmapped {
			c.apName, c.apID = noAPName, noParentSiteID+".2"
			fake.addClient(c)
		}
		h.roots = append(h.roots, fake)
	}
	return h
}

// findAccessPoint returns the device on the tower side of the first
// data-link joining the client site to its parent tower.
func findAccessPoint(links []model.DataLink, devices map[string]model.Device, clientID, parentID string) (string, string) {
	if parentID == "" {
		return "", ""
	}
	for _, l := range links {
		from, to := l.From.SiteID(), l.To.SiteID()
		if from == "" || to == "" {
			continue
		}
		if !((from == clientID && to == parentID) || (from == parentID && to == clientID)) {
			continue
		}
		devID := l.To.DeviceID()
		if from == parentID {
			devID = l.From.DeviceID()
		}
		d, ok := devices[devID]
		if !ok || d.Name() == "" {
			continue
		}
		return d.Name(), d.ID()
	}
	return "", ""
}
