package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_DryRunDoesNotPanicWithoutPool(t *testing.T) {
	sources := Sources{
		ResumeState: func() ([]ConnectionResume, map[string]string) {
			return []ConnectionResume{{ConnectionID: "c1", Slot: 42, BreakerState: "closed"}}, map[string]string{"high": "c1"}
		},
		Pending:   func() []string { return []string{"mint-a"} },
		Mappings:  func() map[string]string { return map[string]string{"bc-1": "mint-a"} },
		Graduated: func() map[string]bool { return map[string]bool{} },
	}
	w := NewWriter(nil, 10*time.Millisecond, sources)
	w.snapshotOnce(context.Background())
}

func TestLoad_NilPoolReportsColdStart(t *testing.T) {
	snap, ok, err := Load(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Snapshot{}, snap)
}

func TestSnapshot_LatestSlot(t *testing.T) {
	snap := Snapshot{Connections: []ConnectionResume{
		{ConnectionID: "a", Slot: 10},
		{ConnectionID: "b", Slot: 99},
		{ConnectionID: "c", Slot: 55},
	}}
	assert.Equal(t, uint64(99), snap.LatestSlot())
}
