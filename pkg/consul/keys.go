// Package consul keeps manager state in Consul KV under the bracket-qos/
// prefix.
package consul

const (
	sitePrefix   = "bracket-qos/limits/sites/"
	apPrefix     = "bracket-qos/limits/aps/"
	reportPrefix = "bracket-qos/reports/"

	// LimitsVersionKey holds a decimal counter bumped on each override change.
	LimitsVersionKey = "bracket-qos/limits/version"
)
