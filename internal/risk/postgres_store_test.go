package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securebank/internal/testutil"
)

func TestPostgresStore_RecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	s := NewPostgresStore(db)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, &Assessment{
			ID: fmt.Sprintf("risk_%d", i), AccountID: "acct_1", Purpose: PurposeTransfer,
			SubjectID: fmt.Sprintf("trf_%d", i), Score: 0.25, Reason: "ok",
			Alerts: []string{"new recipient"}, Source: SourceScorer,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.Record(ctx, &Assessment{
		ID: "risk_dev", AccountID: "acct_1", Purpose: PurposeDevice, Score: 0.6,
		Reason: FallbackReason, Alerts: []string{}, Source: SourceFallback, CreatedAt: base.Add(time.Hour),
	}))

	list, err := s.ListByAccount(ctx, "acct_1", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "risk_dev", list[0].ID)
	assert.Equal(t, "", list[0].SubjectID)
	assert.Equal(t, []string{}, list[0].Alerts)
	assert.Equal(t, "trf_2", list[1].SubjectID)
	assert.Equal(t, []string{"new recipient"}, list[1].Alerts)
	assert.Equal(t, SourceScorer, list[1].Source)

	none, err := s.ListByAccount(ctx, "acct_2", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
