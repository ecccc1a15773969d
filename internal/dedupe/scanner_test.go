package dedupe

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhartz/replicaudit/internal/did"
	"github.com/mhartz/replicaudit/internal/policy"
	"github.com/mhartz/replicaudit/internal/rundb"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		ExperimentPrefix: "xnt",
		UploadTarget:     "LNGS_USERDISK",
		ExcludedRSEs:     []string{"UC_DALI_USERDISK"},
		RawDataTypes:     []string{"raw_records"},
	}
}

func openScanStore(t *testing.T) *rundb.Store {
	t.Helper()

	store, err := rundb.Open(filepath.Join(t.TempDir(), "rundb.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFindTagged_CollectsPairsAcrossRuns(t *testing.T) {
	store := openScanStore(t)
	ctx := context.Background()

	seedTaggedRun(t, store, 100,
		rundb.Datum{DID: "xnt_000100:raw_records-aaa", DataType: "raw_records", Location: "NIKHEF2_USERDISK"},
		rundb.Datum{DID: "xnt_000100:raw_records-aaa", DataType: "raw_records", Location: "CCIN2P3_USERDISK"},
	)
	seedTaggedRun(t, store, 101,
		rundb.Datum{DID: "xnt_000101:raw_records-bbb", DataType: "raw_records", Location: "NIKHEF2_USERDISK"},
	)
	// Untagged runs are not scanned.
	require.NoError(t, store.UpsertRun(ctx, 102, ""))
	require.NoError(t, store.InsertDatum(ctx, 102, rundb.Datum{
		DID: "xnt_000102:raw_records-ccc", DataType: "raw_records", Location: "NIKHEF2_USERDISK",
	}))

	datasets, stats, err := NewScanner(store, testPolicy()).FindTagged(ctx, ScanOptions{})
	require.NoError(t, err)

	require.Len(t, datasets, 2)
	assert.Equal(t, did.DID{Prefix: "xnt", Run: 100, DataType: "raw_records", Hash: "aaa"}, datasets[0].DID)
	assert.Equal(t, []string{"NIKHEF2_USERDISK", "CCIN2P3_USERDISK"}, datasets[0].RSEs)
	assert.Equal(t, []string{"NIKHEF2_USERDISK"}, datasets[1].RSEs)

	assert.Equal(t, 2, stats.RunsScanned)
	assert.Equal(t, 3, stats.PairsFound)
}

func TestFindTagged_JunkEntriesAreCountedNotFatal(t *testing.T) {
	store := openScanStore(t)

	seedTaggedRun(t, store, 200,
		rundb.Datum{DID: "xnt_000200:raw_records-aaa", DataType: "raw_records", Location: "NIKHEF2_USERDISK"},
		// Junk the run database accumulates: no DID, no location,
		// unparseable DID.
		rundb.Datum{DataType: "veto_regions", Location: "UC_OSG_USERDISK"},
		rundb.Datum{DID: "xnt_000200:raw_records-bbb", DataType: "raw_records"},
		rundb.Datum{DID: "not-a-did", DataType: "raw_records", Location: "NIKHEF2_USERDISK"},
	)

	datasets, stats, err := NewScanner(store, testPolicy()).FindTagged(context.Background(), ScanOptions{})
	require.NoError(t, err)

	require.Len(t, datasets, 1)
	assert.Equal(t, 2, stats.MissingFields)
	assert.Equal(t, 1, stats.MalformedDIDs)
	assert.Equal(t, 1, stats.PairsFound)
}

func TestFindTagged_CollapsesDuplicatePairs(t *testing.T) {
	store := openScanStore(t)

	// The run database can list the same (dataset, location) pair more
	// than once; the selector must see each location once or it would
	// count one copy as two.
	seedTaggedRun(t, store, 400,
		rundb.Datum{DID: "xnt_000400:raw_records-aaa", DataType: "raw_records", Location: "NIKHEF2_USERDISK"},
		rundb.Datum{DID: "xnt_000400:raw_records-aaa", DataType: "raw_records", Location: "NIKHEF2_USERDISK"},
		rundb.Datum{DID: "xnt_000400:raw_records-aaa", DataType: "raw_records", Location: "CCIN2P3_USERDISK"},
	)

	datasets, stats, err := NewScanner(store, testPolicy()).FindTagged(context.Background(), ScanOptions{})
	require.NoError(t, err)

	require.Len(t, datasets, 1)
	assert.Equal(t, []string{"NIKHEF2_USERDISK", "CCIN2P3_USERDISK"}, datasets[0].RSEs)
	assert.Equal(t, 2, stats.PairsFound)
	assert.Equal(t, 1, stats.DuplicatePairs)
}

func TestFindTagged_FiltersTypeAndExcludedRSEs(t *testing.T) {
	store := openScanStore(t)

	seedTaggedRun(t, store, 300,
		rundb.Datum{DID: "xnt_000300:raw_records-aaa", DataType: "raw_records", Location: "NIKHEF2_USERDISK"},
		rundb.Datum{DID: "xnt_000300:peaklets-aaa", DataType: "peaklets", Location: "NIKHEF2_USERDISK"},
		rundb.Datum{DID: "xnt_000300:raw_records-aaa", DataType: "raw_records", Location: "UC_DALI_USERDISK"},
	)

	datasets, stats, err := NewScanner(store, testPolicy()).FindTagged(context.Background(), ScanOptions{})
	require.NoError(t, err)

	require.Len(t, datasets, 1)
	assert.Equal(t, []string{"NIKHEF2_USERDISK"}, datasets[0].RSEs)
	assert.Equal(t, 1, stats.FilteredType)
	assert.Equal(t, 1, stats.ExcludedRSEs)

	// AllTypes lifts the raw-type restriction but never the RSE exclusion.
	datasets, stats, err = NewScanner(store, testPolicy()).FindTagged(context.Background(), ScanOptions{AllTypes: true})
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Zero(t, stats.FilteredType)
	assert.Equal(t, 1, stats.ExcludedRSEs)
}

func TestRSESet(t *testing.T) {
	datasets := []DatasetLocations{
		{DID: testDID(1), RSEs: []string{"B", "A"}},
		{DID: testDID(2), RSEs: []string{"A", "C"}},
	}

	assert.Equal(t, []string{"B", "A", "C"}, RSESet(datasets))
}

func seedTaggedRun(t *testing.T, store *rundb.Store, number int64, data ...rundb.Datum) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.UpsertRun(ctx, number, ""))
	require.NoError(t, store.TagRun(ctx, number, SingleCopyTag))
	for _, d := range data {
		require.NoError(t, store.InsertDatum(ctx, number, d))
	}
}
