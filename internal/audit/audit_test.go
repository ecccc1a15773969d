package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhartz/replicaudit/internal/classify"
	"github.com/mhartz/replicaudit/internal/disk"
	"github.com/mhartz/replicaudit/internal/policy"
	"github.com/mhartz/replicaudit/internal/registry"
	"github.com/mhartz/replicaudit/internal/rundb"
)

const (
	target  = "LNGS_USERDISK"
	offSite = "NIKHEF2_USERDISK"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		ExperimentPrefix: "xnt",
		UploadTarget:     target,
		RawDataTypes:     []string{"raw_records"},
	}
}

func newStore(t *testing.T) *rundb.Store {
	t.Helper()
	s, err := rundb.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedHealthy registers a dataset that is consistent everywhere: files,
// rules and transferred database entries at the target and one off-site
// location, with the event builder done.
func seedHealthy(t *testing.T, ctx context.Context, s *rundb.Store, reg *registry.Fake, didStr string, files int) {
	t.Helper()
	require.NoError(t, s.InsertDatum(ctx, 100, rundb.Datum{
		DID: didStr, DataType: "raw_records", Host: EventBuilderHost,
		Status: "transferred", FileCount: int64(files),
	}))
	for _, rse := range []string{target, offSite} {
		require.NoError(t, s.InsertDatum(ctx, 100, rundb.Datum{
			DID: didStr, DataType: "raw_records", Host: "rucio-catalogue",
			Location: rse, Status: "transferred", FileCount: int64(files),
		}))
		reg.AddRule(didStr, rse)
		reg.AddReplicas(didStr, rse, files, 1<<20)
	}
}

func TestAuditor_Run(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	reg := registry.NewFake()
	inv := disk.NewInventory(t.TempDir())

	require.NoError(t, s.UpsertRun(ctx, 100, "run_100"))

	// Healthy dataset: no findings anywhere.
	seedHealthy(t, ctx, s, reg, "xnt_000100:raw_records-aaaa00", 10)

	// Files landed at the target but rule and database entry are missing.
	broken := "xnt_000100:peaklets-bbbb11"
	require.NoError(t, s.InsertDatum(ctx, 100, rundb.Datum{
		DID: broken, DataType: "peaklets", Host: EventBuilderHost,
		Status: "transferring", FileCount: 5,
	}))
	reg.AddReplicas(broken, target, 5, 1<<20)

	// Junk entries are counted and skipped, never fatal.
	require.NoError(t, s.InsertDatum(ctx, 100, rundb.Datum{
		DID: "not a did", Host: "rucio-catalogue", Location: offSite,
	}))
	require.NoError(t, s.InsertDatum(ctx, 100, rundb.Datum{
		Host: "rucio-catalogue", Location: offSite,
	}))

	a := New(s, reg, inv, testPolicy())
	findings, stats, err := a.Run(ctx, []int64{100}, "pass-abc")
	require.NoError(t, err)

	require.Len(t, findings, 1)
	assert.Equal(t, classify.KindRuleMissing, findings[0].Kind)
	assert.Equal(t, broken, findings[0].DID.String())
	assert.Equal(t, target, findings[0].Location)

	assert.Equal(t, 1, stats.RunsAudited)
	assert.Equal(t, 2, stats.Datasets)
	assert.Equal(t, 1, stats.MalformedDIDs)
	assert.Equal(t, 1, stats.MissingFields)

	rows, err := s.ListFindings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pass-abc", rows[0].PassToken)
	assert.Equal(t, broken, rows[0].DID)
	assert.Equal(t, "rule-missing", rows[0].Kind)
	assert.Len(t, rows[0].PayloadHash, 64)
	assert.Contains(t, rows[0].Payload, `"kind":"rule-missing"`)
}

func TestAuditor_Run_OffSiteInconsistency(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	reg := registry.NewFake()
	inv := disk.NewInventory(t.TempDir())

	require.NoError(t, s.UpsertRun(ctx, 200, "run_200"))

	// Off-site rule exists but the database never recorded the transfer.
	didStr := "xnt_000200:raw_records-cccc22"
	require.NoError(t, s.InsertDatum(ctx, 200, rundb.Datum{
		DID: didStr, DataType: "raw_records", Host: EventBuilderHost,
		Status: "transferred", FileCount: 4,
	}))
	require.NoError(t, s.InsertDatum(ctx, 200, rundb.Datum{
		DID: didStr, DataType: "raw_records", Host: "rucio-catalogue",
		Location: target, Status: "transferred", FileCount: 4,
	}))
	reg.AddRule(didStr, target)
	reg.AddReplicas(didStr, target, 4, 1<<20)
	reg.AddRule(didStr, offSite)
	reg.AddReplicas(didStr, offSite, 2, 1<<20)

	a := New(s, reg, inv, testPolicy())
	findings, _, err := a.Run(ctx, []int64{200}, "pass-def")
	require.NoError(t, err)

	require.Len(t, findings, 1)
	assert.Equal(t, classify.KindInconsistentReplica, findings[0].Kind)
	assert.Equal(t, offSite, findings[0].Location)
}

func TestAuditor_Run_UnknownRun(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := New(s, registry.NewFake(), disk.NewInventory(t.TempDir()), testPolicy())

	_, _, err := a.Run(ctx, []int64{999}, "pass-x")
	require.Error(t, err)
	assert.ErrorIs(t, err, rundb.ErrRunNotFound)
}

func TestAuditor_Run_Cancelled(t *testing.T) {
	s := newStore(t)
	a := New(s, registry.NewFake(), disk.NewInventory(t.TempDir()), testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := a.Run(ctx, []int64{1}, "pass-y")
	assert.ErrorIs(t, err, context.Canceled)
}
