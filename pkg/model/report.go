package model

import "time"

// Level types used in the monitor tree export.
const (
	LevelRoot   = "root"
	LevelTower  = "tower"
	LevelAP     = "ap"
	LevelClient = "client"
)

// MonitorTreeEntry is one row of the flattened queue tree. Parent is an index
// into the same slice; nil only for the root at index 0.
type MonitorTreeEntry struct {
	Name        string   `json:"name"`
	ID          string   `json:"id"`
	LevelType   string   `json:"level_type"`
	Parent      *int     `json:"parent"`
	DownMbps    uint32   `json:"down_mbps"`
	UpMbps      uint32   `json:"up_mbps"`
	IPAddresses []string `json:"ip_addresses"`
}

// TreeReport wraps a monitor tree export.
type TreeReport struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Entries   []MonitorTreeEntry `json:"entries"`
}

// DuplicateIPReport lists addresses claimed by more than one client.
type DuplicateIPReport struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Dupes     []string  `json:"dupes"`
}

// UnmappedReport lists clients that could not be placed under a tower.
type UnmappedReport struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Clients   []string  `json:"clients"`
}

// BusReports is the latest report of each kind held by the manager.
type BusReports struct {
	Tree       *TreeReport        `json:"tree,omitempty"`
	Duplicates *DuplicateIPReport `json:"duplicates,omitempty"`
	Unmapped   *UnmappedReport    `json:"unmapped,omitempty"`
}
