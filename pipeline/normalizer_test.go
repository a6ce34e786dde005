package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/peakcat/models"
)

func TestNormalize_OrdersSchema(t *testing.T) {
	rows := []models.RawRow{
		{"id_compra": "1", "fecha_creacion": "2025-10-01 12:05:00", "total_cop": "15000"},
		{"id_compra": "2", "fecha_creacion": "2025-10-01T12:50:00-05:00", "total_cop": 22000.5},
		{"id_compra": "3", "fecha_creacion": "2025-10-01 19:10:00"},
		{"id_compra": "4", "fecha_creacion": "not a date", "total_cop": "1"},
		{"id_compra": "5", "total_cop": "1"},
		{"id_compra": "6", "fecha_creacion": "2025-10-01 20:00:00", "total_cop": "abc"},
	}

	records, rejected := Normalize(rows, ordersSchema())
	assert.Equal(t, 2, rejected)
	require.Len(t, records, 4)

	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, time.Date(2025, 10, 1, 12, 5, 0, 0, time.UTC), records[0].Timestamp)
	assert.Equal(t, 15000.0, records[0].Values["amount"])

	assert.Equal(t, time.Date(2025, 10, 1, 17, 50, 0, 0, time.UTC), records[1].Timestamp, "zoned timestamps are converted to UTC")
	assert.Equal(t, time.UTC, records[1].Timestamp.Location())

	_, ok := records[2].Value("amount")
	assert.False(t, ok, "missing optional measure stays missing")
	_, ok = records[3].Value("amount")
	assert.False(t, ok, "malformed optional measure is dropped, not zero-filled")
}

func TestNormalize_RejectsNonFiniteRequired(t *testing.T) {
	schema := eventsSchema(eventAppLaunch, latencyFields(false)...)
	rows := []models.RawRow{
		{"timestamp": "2025-10-01T10:00:00Z", "event_name": "app_launch_to_menu", "duration_ms": math.NaN()},
		{"timestamp": "2025-10-01T10:00:00Z", "event_name": "app_launch_to_menu", "duration_ms": "Inf"},
		{"timestamp": "2025-10-01T10:00:00Z", "event_name": "app_launch_to_menu", "duration_ms": "1200", "device_tier": "low"},
	}
	records, rejected := Normalize(rows, schema)
	assert.Equal(t, 2, rejected)
	require.Len(t, records, 1)
	assert.Equal(t, 1200.0, records[0].Values["duration_ms"])
	assert.Equal(t, "low", records[0].Dims["device_tier"])
}

func TestNormalize_FilteredRowsAreNotRejected(t *testing.T) {
	schema := eventsSchema(eventPaymentCompleted, latencyFields(true)...)
	rows := []models.RawRow{
		{"timestamp": "2025-10-01T10:00:00Z", "event_name": "app_launch_to_menu", "duration_ms": "100"},
		{"timestamp": "2025-10-01T10:00:00Z", "event_name": "PAYMENT_COMPLETED", "duration_ms": "900", "success": "1"},
		{"timestamp": "2025-10-01T10:00:00Z", "event_name": "payment_completed", "duration_ms": "700", "success": "maybe"},
		{"timestamp": "2025-10-01T10:00:00Z", "duration_ms": "700"},
	}
	records, rejected := Normalize(rows, schema)
	assert.Equal(t, 0, rejected)
	require.Len(t, records, 2)

	ok, present := records[0].Flag("success")
	assert.True(t, present)
	assert.True(t, ok)
	_, present = records[1].Flag("success")
	assert.False(t, present)
}

func TestNormalize_IntFieldRejectsFractions(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "ts", Type: FieldTime, Required: true},
		{Name: "n", Type: FieldInt, Required: true},
	}}
	records, rejected := Normalize([]models.RawRow{
		{"ts": "2025-01-01", "n": "3"},
		{"ts": "2025-01-01", "n": 3.5},
	}, schema)
	assert.Equal(t, 1, rejected)
	require.Len(t, records, 1)
	assert.Equal(t, 3.0, records[0].Values["n"])
}

func TestCoerceTime(t *testing.T) {
	want := time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC)
	inputs := []any{
		"2025-01-11T12:00:00Z",
		"2025-01-11T12:00:00.000Z",
		"2025-01-11T07:00:00-05:00",
		"2025-01-11 12:00:00",
		"2025-01-11T12:00:00",
		"2025-01-11 12:00",
		float64(want.Unix()),
		"1736596800",
		float64(want.UnixMilli()),
		want.In(time.FixedZone("x", 3600)),
	}
	for _, in := range inputs {
		got, ok := CoerceTime(in)
		require.True(t, ok, "%v", in)
		assert.True(t, want.Equal(got), "%v parsed as %v", in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, bad := range []any{"", "yesterday", float64(42), true, nil, time.Time{}} {
		_, ok := CoerceTime(bad)
		assert.False(t, ok, "%v", bad)
	}
}

func TestSchemaValidate(t *testing.T) {
	assert.NoError(t, ordersSchema().Validate())
	assert.Error(t, Schema{}.Validate(), "no time field")
	assert.Error(t, Schema{Fields: []Field{{Name: "a", Type: FieldTime}, {Name: "a", Type: FieldTime}}}.Validate())
	assert.Error(t, Schema{Fields: []Field{{Name: "a", Type: "blob"}}}.Validate())
	assert.Error(t, Schema{IDField: "id", Fields: []Field{{Name: "a", Type: FieldTime}}}.Validate())
}

func TestNormalize_DefaultFillsAbsentColumn(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "ts", Type: FieldTime, Required: true},
		{Name: "qty", Type: FieldFloat, Required: true, Default: 1.0},
	}}
	records, rejected := Normalize([]models.RawRow{
		{"ts": "2025-01-01"},
		{"ts": "2025-01-01", "qty": ""},
		{"ts": "2025-01-01", "qty": "4"},
		{"ts": "2025-01-01", "qty": "many"},
	}, schema)
	assert.Equal(t, 1, rejected, "a present but malformed value does not fall back to the default")
	require.Len(t, records, 3)
	assert.Equal(t, 1.0, records[0].Values["qty"])
	assert.Equal(t, 1.0, records[1].Values["qty"], "blank counts as absent")
	assert.Equal(t, 4.0, records[2].Values["qty"])
}
