package accnt

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"
)

func TestWriteProfileRoundTripsThroughProfileParse(t *testing.T) {
	one := &Accnt_t{}
	one.Utadd(100)
	one.Systadd(7)
	two := &Accnt_t{}
	two.Utadd(3)

	var buf bytes.Buffer
	err := WriteProfile(&buf, []ThreadSample{
		{Pid: 1, Tid: 0, Acct: one},
		{Pid: 1, Tid: 1, Acct: two},
	}, 1234)
	require.NoError(t, err)

	got, err := profile.Parse(&buf)
	require.NoError(t, err)
	require.NoError(t, got.CheckValid())
	require.Len(t, got.Sample, 2)
	require.Equal(t, []int64{100, 7}, got.Sample[0].Value)
	require.Equal(t, []int64{3, 0}, got.Sample[1].Value)
	require.Equal(t, int64(1234), got.TimeNanos)
}

func TestWriteProfileWithNoSamplesIsStillValid(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteProfile(&buf, nil, 0))

	got, err := profile.Parse(&buf)
	require.NoError(t, err)
	require.NoError(t, got.CheckValid())
	require.Empty(t, got.Sample)
}
