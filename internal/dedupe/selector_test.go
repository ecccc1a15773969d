package dedupe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhartz/replicaudit/internal/did"
)

func testDID(run int) did.DID {
	return did.DID{Prefix: "xnt", Run: run, DataType: "raw_records", Hash: "abcdef"}
}

func TestSelectForDeletion_KeepsMaxCapacity(t *testing.T) {
	capacity := NewCapacityDirectory(map[string]int64{
		"A": 500,
		"B": 2000,
		"C": 1000,
	})
	d := testDID(1)

	sel := SelectForDeletion([]DatasetLocations{{DID: d, RSEs: []string{"A", "B", "C"}}}, capacity)

	assert.Equal(t, "B", sel.Keep[d])
	assert.ElementsMatch(t, []Candidate{{DID: d, RSE: "A"}, {DID: d, RSE: "C"}}, sel.Delete)
	assert.Empty(t, sel.Skipped)
	assert.Empty(t, sel.MissingCapacity)
}

func TestSelectForDeletion_FirstMaxWinsTies(t *testing.T) {
	// Capacities {A: 500, B: 1000, C: 1000}: B and C tie; B comes first
	// in input order, so B is kept and A and C are deleted.
	capacity := NewCapacityDirectory(map[string]int64{
		"A": 500,
		"B": 1000,
		"C": 1000,
	})
	d := testDID(2)

	sel := SelectForDeletion([]DatasetLocations{{DID: d, RSEs: []string{"A", "B", "C"}}}, capacity)

	assert.Equal(t, "B", sel.Keep[d])
	assert.Equal(t, []Candidate{{DID: d, RSE: "A"}, {DID: d, RSE: "C"}}, sel.Delete)
}

func TestSelectForDeletion_SingleLocationUntouched(t *testing.T) {
	capacity := NewCapacityDirectory(map[string]int64{"A": 500})
	d := testDID(3)

	sel := SelectForDeletion([]DatasetLocations{{DID: d, RSEs: []string{"A"}}}, capacity)

	assert.Equal(t, "A", sel.Keep[d])
	assert.Empty(t, sel.Delete)
}

func TestSelectForDeletion_DuplicateKeptLocationNeverDeleted(t *testing.T) {
	// A repeated location is one copy, not two. With only "A" listed
	// twice, A is kept and nothing may be deleted: a candidate for the
	// kept location would destroy the dataset's only copy.
	capacity := NewCapacityDirectory(map[string]int64{"A": 100})
	d := testDID(7)

	sel := SelectForDeletion([]DatasetLocations{{DID: d, RSEs: []string{"A", "A"}}}, capacity)

	assert.Equal(t, "A", sel.Keep[d])
	assert.Empty(t, sel.Delete)
	for _, c := range sel.Delete {
		assert.NotEqual(t, sel.Keep[c.DID], c.RSE)
	}
}

func TestSelectForDeletion_DuplicateRedundantLocationQueuedOnce(t *testing.T) {
	capacity := NewCapacityDirectory(map[string]int64{"A": 100, "B": 1})
	d := testDID(8)

	sel := SelectForDeletion([]DatasetLocations{{DID: d, RSEs: []string{"A", "B", "B"}}}, capacity)

	assert.Equal(t, "A", sel.Keep[d])
	assert.Equal(t, []Candidate{{DID: d, RSE: "B"}}, sel.Delete)
}

func TestSelectForDeletion_NoLocations(t *testing.T) {
	d := testDID(4)

	sel := SelectForDeletion([]DatasetLocations{{DID: d}}, NewCapacityDirectory(nil))

	assert.Empty(t, sel.Delete)
	assert.NotContains(t, sel.Keep, d)
	require.Len(t, sel.Skipped, 1)

	var nle *NoLocationError
	require.True(t, errors.As(sel.Skipped[0], &nle))
	assert.Equal(t, d, nle.DID)
}

func TestSelectForDeletion_MissingCapacityRanksAsZero(t *testing.T) {
	// X has no reading: it ranks as zero bytes remaining, so it is never
	// kept over a location with a reading, and it is flagged once.
	capacity := NewCapacityDirectory(map[string]int64{"A": 1})
	d1, d2 := testDID(5), testDID(6)

	sel := SelectForDeletion([]DatasetLocations{
		{DID: d1, RSEs: []string{"X", "A"}},
		{DID: d2, RSEs: []string{"A", "X"}},
	}, capacity)

	assert.Equal(t, "A", sel.Keep[d1])
	assert.Equal(t, "A", sel.Keep[d2])
	assert.Equal(t, []string{"X"}, sel.MissingCapacity, "flagged once despite two appearances")
}

func TestSelectForDeletion_PartitionProperty(t *testing.T) {
	// For every dataset with N >= 2 locations and strictly distinct
	// capacities: exactly the max-capacity location is kept and
	// |keep| + |delete| == N.
	capacity := NewCapacityDirectory(map[string]int64{
		"A": 10, "B": 20, "C": 30, "D": 40, "E": 50,
	})

	datasets := []DatasetLocations{
		{DID: testDID(10), RSEs: []string{"A", "B"}},
		{DID: testDID(11), RSEs: []string{"E", "C", "A"}},
		{DID: testDID(12), RSEs: []string{"D", "B", "C", "A"}},
	}
	wantKeep := map[int]string{10: "B", 11: "E", 12: "D"}

	sel := SelectForDeletion(datasets, capacity)

	deletesPerDID := make(map[did.DID]int)
	for _, c := range sel.Delete {
		deletesPerDID[c.DID]++
	}

	for _, ds := range datasets {
		assert.Equal(t, wantKeep[ds.DID.Run], sel.Keep[ds.DID])
		assert.Equal(t, len(ds.RSEs)-1, deletesPerDID[ds.DID],
			"keep + delete must cover all locations for %s", ds.DID)
	}
}

func TestSelectForDeletion_DeleteOrderFollowsScanOrder(t *testing.T) {
	capacity := NewCapacityDirectory(map[string]int64{"A": 1, "B": 2, "C": 3})
	d := testDID(20)

	sel := SelectForDeletion([]DatasetLocations{{DID: d, RSEs: []string{"A", "B", "C"}}}, capacity)

	assert.Equal(t, []Candidate{{DID: d, RSE: "A"}, {DID: d, RSE: "B"}}, sel.Delete)
}
