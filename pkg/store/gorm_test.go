package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/model"
)

// Runs only against a live MySQL, e.g. MYSQL_DSN=root:pw@tcp(127.0.0.1:3306)/bracket_qos_test?parseTime=True
func TestGormStoreRoundTrip(t *testing.T) {
	if os.Getenv("MYSQL_DSN") == "" {
		t.Skip("MYSQL_DSN not set")
	}
	s, err := NewMySQLStore()
	require.NoError(t, err)
	require.NoError(t, s.Ping())

	before, err := s.LimitsVersion()
	require.NoError(t, err)
	require.NoError(t, s.UpsertSiteLimit(model.SiteLimit{ID: "gorm-test-site", Download: 10, Upload: 2}))
	require.NoError(t, s.UpsertSiteLimit(model.SiteLimit{ID: "gorm-test-site", Download: 12, Upload: 3}))
	after, err := s.LimitsVersion()
	require.NoError(t, err)
	assert.Equal(t, before+2, after)

	cfg, err := s.ShaperConfig()
	require.NoError(t, err)
	assert.Contains(t, cfg.Sites, model.SiteLimit{ID: "gorm-test-site", Download: 12, Upload: 3})

	require.NoError(t, s.SaveUnmapped(model.UnmappedReport{ID: "u1", Clients: []string{"x"}}))
	r, err := s.Reports()
	require.NoError(t, err)
	require.NotNil(t, r.Unmapped)
	assert.Equal(t, "u1", r.Unmapped.ID)
}
