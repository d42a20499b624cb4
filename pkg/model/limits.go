package model

// SiteLimit is an explicit bandwidth override for a site.
type SiteLimit struct {
	ID       string `json:"id" gorm:"primaryKey;size:64"`
	Download uint32 `json:"download"`
	Upload   uint32 `json:"upload"`
}

// APLimit is an explicit bandwidth override for an access point device.
type APLimit struct {
	ID       string `json:"id" gorm:"primaryKey;size:64"`
	Download uint32 `json:"download"`
	Upload   uint32 `json:"upload"`
}

// ShaperConfig carries the site and access point overrides that are not
// taken from the NMS.
type ShaperConfig struct {
	Sites        []SiteLimit `json:"sites"`
	AccessPoints []APLimit   `json:"access_points"`
}
