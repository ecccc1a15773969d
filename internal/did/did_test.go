package did

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Canonical(t *testing.T) {
	d, err := Parse("xnt_007330:raw_records-rfzvpzj4mf")
	require.NoError(t, err)

	assert.Equal(t, "xnt", d.Prefix)
	assert.Equal(t, 7330, d.Run)
	assert.Equal(t, "raw_records", d.DataType)
	assert.Equal(t, "rfzvpzj4mf", d.Hash)
}

func TestParse_DataTypeWithUnderscores(t *testing.T) {
	d, err := Parse("xnt_051234:raw_records_he-a1b2c3d4e5")
	require.NoError(t, err)

	assert.Equal(t, "raw_records_he", d.DataType)
	assert.Equal(t, "a1b2c3d4e5", d.Hash)
}

func TestParse_Malformed(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"no prefix separator", "xnt007330:raw_records-abc"},
		{"empty prefix", "_007330:raw_records-abc"},
		{"no run separator", "xnt_007330raw_records-abc"},
		{"empty run", "xnt_:raw_records-abc"},
		{"non-numeric run", "xnt_abc:raw_records-def"},
		{"negative run", "xnt_-12:raw_records-def"},
		// Non-canonical run renderings parse to a number but re-render
		// differently, so accepting them would break the round trip.
		{"unpadded run", "xnt_7330:raw_records-abc"},
		{"overlong zero-padded run", "xnt_0007330:raw_records-abc"},
		{"signed run", "xnt_+123:raw_records-abc"},
		{"no hash separator", "xnt_007330:rawrecords"},
		{"empty hash", "xnt_007330:raw_records-"},
		{"empty data type", "xnt_007330:-abc"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			require.Error(t, err)

			var merr *MalformedDidError
			require.True(t, errors.As(err, &merr), "expected MalformedDidError, got %T", err)
			assert.Equal(t, tc.input, merr.Input)
			assert.NotEmpty(t, merr.Reason)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	// format(parse(s)) == s for every canonical DID string.
	inputs := []string{
		"xnt_007330:raw_records-rfzvpzj4mf",
		"xnt_000001:peaklets-aaaaaaaaaa",
		"xnt_051234:raw_records_he-a1b2c3d4e5",
		"xnt_1007330:veto_regions-zzz999",
		"demo_000042:records-deadbeef",
	}

	for _, s := range inputs {
		d, err := Parse(s)
		require.NoError(t, err, "input %q", s)
		assert.Equal(t, s, d.String(), "round trip for %q", s)
	}
}

func TestString_ZeroPadsRunNumber(t *testing.T) {
	d := DID{Prefix: "xnt", Run: 42, DataType: "raw_records", Hash: "abc"}
	assert.Equal(t, "xnt_000042:raw_records-abc", d.String())
}

func TestIsZero(t *testing.T) {
	assert.True(t, DID{}.IsZero())
	assert.False(t, DID{Prefix: "xnt"}.IsZero())
}
