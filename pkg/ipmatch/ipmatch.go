// Package ipmatch filters device addresses against configured include and
// ignore ranges.
package ipmatch

import (
	"net/netip"
	"slices"
	"strings"

	"k8s.io/klog/v2"

	"bracket-qos/pkg/model"
)

// Matcher decides whether an address is in scope for shaping.
type Matcher struct {
	include []netip.Prefix
	ignore  []netip.Prefix
}

// New builds a Matcher. Malformed ranges are logged and skipped.
func New(include, ignore []string) *Matcher {
	return &Matcher{include: parseRanges("include", include), ignore: parseRanges("ignore", ignore)}
}

func parseRanges(kind string, ranges []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(ranges))
	for _, r := range ranges {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !strings.Contains(r, "/") {
			addr, err := netip.ParseAddr(r)
			if err != nil {
				klog.Warningf("ipmatch: skip %s range %q: %v", kind, r, err)
				continue
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(r)
		if err != nil {
			klog.Warningf("ipmatch: skip %s range %q: %v", kind, r, err)
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}

func contains(ranges []netip.Prefix, addr netip.Addr) bool {
	for _, p := range ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Relevant reports whether ip falls in an include range and in no ignore
// range. Unparseable addresses are never relevant.
func (m *Matcher) Relevant(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return contains(m.include, addr) && !contains(m.ignore, addr)
}

// AddressesInSite returns the sorted, de-duplicated relevant addresses of all
// devices installed at siteID.
func (m *Matcher) AddressesInSite(siteID string, devices []model.Device) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, d := range devices {
		if d.SiteID() != siteID {
			continue
		}
		for _, ip := range d.Addresses() {
			addr, err := netip.ParseAddr(ip)
			if err != nil {
				klog.Warningf("ipmatch: device %s at site %s has malformed address %q", d.ID(), siteID, ip)
				continue
			}
			norm := addr.Unmap().String()
			if !m.Relevant(norm) {
				continue
			}
			if _, ok := seen[norm]; ok {
				continue
			}
			seen[norm] = struct{}{}
			out = append(out, norm)
		}
	}
	slices.Sort(out)
	return out
}

// BySite indexes relevant addresses for every site that owns at least one.
func (m *Matcher) BySite(devices []model.Device) map[string][]string {
	ids := map[string]struct{}{}
	for _, d := range devices {
		if id := d.SiteID(); id != "" {
			ids[id] = struct{}{}
		}
	}
	out := make(map[string][]string, len(ids))
	for id := range ids {
		if ips := m.AddressesInSite(id, devices); len(ips) > 0 {
			out[id] = ips
		}
	}
	return out
}
