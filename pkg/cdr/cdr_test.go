package cdr_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/arzzra/h323ep/pkg/cdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(token string, connected bool) cdr.Record {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := cdr.Record{
		Token:       token,
		CallID:      "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		Direction:   "outgoing",
		Remote:      "203.0.113.9:1720",
		Destination: "200",
		Created:     created,
		Ended:       created.Add(95 * time.Second),
		EndReason:   "LOCAL_CLEARED",
	}
	if connected {
		r.Connected = created.Add(5 * time.Second)
	}
	return r
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, sample("a", true).Duration())
	assert.Zero(t, sample("b", false).Duration())
}

func TestSQLiteRecorder(t *testing.T) {
	ctx := context.Background()
	db, err := cdr.OpenSQLite(ctx, filepath.Join(t.TempDir(), "cdr.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Record(ctx, sample("h323_o_1", true)))
	require.NoError(t, db.Record(ctx, sample("h323_o_2", false)))

	recent, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "h323_o_2", recent[0].Token)
	assert.True(t, recent[0].Connected.IsZero())
	assert.Equal(t, "h323_o_1", recent[1].Token)
	assert.Equal(t, 90*time.Second, recent[1].Duration())
	assert.Equal(t, "LOCAL_CLEARED", recent[1].EndReason)
}

func TestMemoryRecorder(t *testing.T) {
	var m cdr.Memory
	require.NoError(t, m.Record(context.Background(), sample("h323_i_1", true)))
	require.Len(t, m.Records(), 1)
	assert.NoError(t, cdr.Nop{}.Record(context.Background(), sample("x", false)))
}
