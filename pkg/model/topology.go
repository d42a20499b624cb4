package model

import "strings"

// SiteParent references a site's parent, if one is declared.
type SiteParent struct {
	ID *string `json:"id"`
}

// SiteIdentification is the identification section of an NMS site.
type SiteIdentification struct {
	Name      *string     `json:"name"`
	Type      *string     `json:"type"` // "site" for towers, "endpoint" for clients
	Parent    *SiteParent `json:"parent"`
	Status    *string     `json:"status,omitempty"`
	Suspended bool        `json:"suspended"`
}

// SiteQoS is the advertised speed of a site, in bits per second.
type SiteQoS struct {
	Enabled       bool    `json:"enabled"`
	DownloadSpeed *uint64 `json:"downloadSpeed"`
	UploadSpeed   *uint64 `json:"uploadSpeed"`
}

// Site is a tower or a client endpoint.
type Site struct {
	ID             string              `json:"id"`
	Identification *SiteIdentification `json:"identification"`
	QoS            *SiteQoS            `json:"qos"`
}

const (
	SiteTypeTower  = "site"
	SiteTypeClient = "endpoint"
)

// Name returns the site name, or "" if it has none.
func (s Site) Name() string {
	if s.Identification == nil || s.Identification.Name == nil {
		return ""
	}
	return *s.Identification.Name
}

func (s Site) siteType() string {
	if s.Identification == nil || s.Identification.Type == nil {
		return ""
	}
	return *s.Identification.Type
}

// IsTower reports whether the site is an aggregation site.
func (s Site) IsTower() bool { return s.siteType() == SiteTypeTower }

// IsClient reports whether the site is a client endpoint.
func (s Site) IsClient() bool { return s.siteType() == SiteTypeClient }

// ParentID returns the declared parent id, or "" when there is none.
func (s Site) ParentID() string {
	if s.Identification == nil || s.Identification.Parent == nil || s.Identification.Parent.ID == nil {
		return ""
	}
	return *s.Identification.Parent.ID
}

// IsChildOf reports whether the site declares parentID as its parent.
func (s Site) IsChildOf(parentID string) bool {
	p := s.ParentID()
	return p != "" && p == parentID
}

// QoSMbps converts the advertised speed to whole Mbps. Missing or zero values fall
// back to the supplied defaults.
func (s Site) QoSMbps(defDown, defUp uint32) (uint32, uint32) {
	down, up := defDown, defUp
	if s.QoS != nil {
		if s.QoS.DownloadSpeed != nil {
			down = uint32(*s.QoS.DownloadSpeed / 1_000_000)
		}
		if s.QoS.UploadSpeed != nil {
			up = uint32(*s.QoS.UploadSpeed / 1_000_000)
		}
	}
	if down == 0 {
		down = defDown
	}
	if up == 0 {
		up = defUp
	}
	return down, up
}

// DeviceSite links a device to the site it is installed at.
type DeviceSite struct {
	ID string `json:"id"`
}

// DeviceIdentification is the identification section of an NMS device.
type DeviceIdentification struct {
	ID       string      `json:"id"`
	Hostname *string     `json:"hostname"`
	Model    *string     `json:"model,omitempty"`
	Role     *string     `json:"role,omitempty"`
	Site     *DeviceSite `json:"site"`
}

// DeviceAddress is one address assigned to an interface.
type DeviceAddress struct {
	CIDR *string `json:"cidr"`
}

// DeviceInterface is a device port with zero or more addresses.
type DeviceInterface struct {
	Addresses []DeviceAddress `json:"addresses"`
}

// Device is a piece of network equipment (radio, router, CPE).
type Device struct {
	Identification DeviceIdentification `json:"identification"`
	IPAddress      *string              `json:"ipAddress"`
	Interfaces     []DeviceInterface    `json:"interfaces"`
}

// Name returns the device hostname, or "" if unknown.
func (d Device) Name() string {
	if d.Identification.Hostname == nil {
		return ""
	}
	return *d.Identification.Hostname
}

// ID returns the device id.
func (d Device) ID() string { return d.Identification.ID }

// SiteID returns the id of the site the device belongs to, or "".
func (d Device) SiteID() string {
	if d.Identification.Site == nil {
		return ""
	}
	return d.Identification.Site.ID
}

func stripPrefix(ip string) string {
	if i := strings.Index(ip, "/"); i >= 0 {
		return ip[:i]
	}
	return ip
}

// Addresses returns every address on the device with the prefix length
// removed, de-duplicated in first-seen order.
func (d Device) Addresses() []string {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(raw string) {
		ip := strings.TrimSpace(stripPrefix(raw))
		if ip == "" {
			return
		}
		if _, ok := seen[ip]; ok {
			return
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	if d.IPAddress != nil {
		add(*d.IPAddress)
	}
	for _, iface := range d.Interfaces {
		for _, a := range iface.Addresses {
			if a.CIDR != nil {
				add(*a.CIDR)
			}
		}
	}
	return out
}

// LinkRef identifies a site or device at a data-link endpoint.
type LinkRef struct {
	Identification struct {
		ID string `json:"id"`
	} `json:"identification"`
}

// LinkEndpoint is one side of a data-link.
type LinkEndpoint struct {
	Site   *LinkRef `json:"site"`
	Device *LinkRef `json:"device"`
}

// SiteID returns the endpoint's site id, or "".
func (e LinkEndpoint) SiteID() string {
	if e.Site == nil {
		return ""
	}
	return e.Site.Identification.ID
}

// DeviceID returns the endpoint's device id, or "".
func (e LinkEndpoint) DeviceID() string {
	if e.Device == nil {
		return ""
	}
	return e.Device.Identification.ID
}

// DataLink connects two (site, device) endpoints.
type DataLink struct {
	ID   string       `json:"id"`
	From LinkEndpoint `json:"from"`
	To   LinkEndpoint `json:"to"`
}

// Topology is the snapshot of the network consumed by one build cycle.
type Topology struct {
	Sites     []Site     `json:"sites"`
	Devices   []Device   `json:"devices"`
	DataLinks []DataLink `json:"data_links"`
}
