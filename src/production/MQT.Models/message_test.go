package mqtmodels

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadingMessageEncoding(t *testing.T) {
	r := Reading{
		DeviceCode: "CL-123",
		Timestamp:  time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC),
		Measurements: map[string]interface{}{
			"PM25":     12.35,
			"humidity": 55.1,
			"temp":     19.0,
		},
	}

	b, err := json.Marshal(r.Message())
	require.NoError(t, err)
	assert.Equal(t, `{"dev":"CL-123","humidity":55.1,"PM25":12.35,"temp":19.0,"timestamp":"2021-01-01T10:00:00Z"}`, string(b))
}

func TestReadingMessageWithLocation(t *testing.T) {
	alt := 12.0
	r := Reading{
		DeviceCode:   "UKA00450",
		Timestamp:    time.Date(2021, 3, 1, 9, 0, 0, 0, time.FixedZone("BST", 3600)),
		Measurements: map[string]interface{}{"gtw_id": "eui-b827", "NO2": 21.0},
		Location:     &Location{Latitude: 53.748781234, Longitude: -0.341222, Altitude: &alt},
	}

	b, err := json.Marshal(r.Message())
	require.NoError(t, err)
	assert.Equal(t,
		`{"altitude":12.0,"dev":"UKA00450","gtw_id":"eui-b827","latitude":53.748781234,"longitude":-0.341222,"NO2":21.0,"timestamp":"2021-03-01T08:00:00Z"}`,
		string(b))
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{19, "19.0"},
		{0, "0.0"},
		{-3, "-3.0"},
		{55.1, "55.1"},
		{12.35, "12.35"},
		{1e16, "1e+16"},
		{0.00001, "1e-05"},
		{0.0001, "0.0001"},
	}
	for _, tt := range tests {
		got, err := FormatFloat(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "FormatFloat(%v)", tt.in)
	}

	_, err := FormatFloat(math.NaN())
	assert.Error(t, err)
	_, err = FormatFloat(math.Inf(1))
	assert.Error(t, err)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 12.35, Round2(12.3456))
	assert.Equal(t, 12.35, Round2(12.345))
	assert.Equal(t, 12.34, Round2(12.344))
	assert.Equal(t, 19.0, Round2(19))
	assert.Equal(t, -0.5, Round2(-0.499))
}

func TestMessageKeyOrderIsCaseInsensitive(t *testing.T) {
	b, err := json.Marshal(Message{"b": 1, "A": 2, "a": 3, "C": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"A":2,"a":3,"b":1,"C":"x"}`, string(b))
}

func TestCanonicalRecordLastSeen(t *testing.T) {
	stored := time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := CanonicalRecord{StoredAt: stored}
	assert.Equal(t, stored, rec.LastSeen())

	recorded := stored.Add(-time.Hour)
	rec.RecordedAt = &recorded
	assert.Equal(t, recorded, rec.LastSeen())
}
