package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/model"
)

func TestJournalRecentAndLastApplied(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	defer j.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, outcome := range []string{model.OutcomeApplied, model.OutcomeFallback, model.OutcomeFailed} {
		require.NoError(t, j.Record(ctx, model.ApplyRecord{
			TreeHash: "t" + outcome, LimitsHash: "l", Outcome: outcome, Time: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.OutcomeFailed, recs[0].Outcome)
	assert.Equal(t, base.Add(2*time.Minute), recs[0].Time)
	assert.Equal(t, model.OutcomeFallback, recs[1].Outcome)

	last, ok, err := j.LastApplied(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tfallback", last.TreeHash)
}

func TestJournalEmptyAndNil(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer j.Close()
	_, ok, err := j.LastApplied(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	var none *Journal
	assert.NoError(t, none.Record(context.Background(), model.ApplyRecord{}))
	recs, err := none.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Nil(t, recs)
	assert.NoError(t, none.Close())
}
