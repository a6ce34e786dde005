package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/models"
)

var (
	rangeStart = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC)
)

func params() Params {
	return Params{Start: rangeStart, End: rangeEnd, Workers: 2}
}

func mustLookup(t *testing.T, id string) *Definition {
	t.Helper()
	def, ok := Lookup(id)
	require.True(t, ok, id)
	return def
}

func orderRow(id int, ts string, total string) models.RawRow {
	return models.RawRow{"id_compra": fmt.Sprint(id), "fecha_creacion": ts, "total_cop": total}
}

func TestRegistry(t *testing.T) {
	ids := QuestionIDs()
	assert.Equal(t, []string{
		QuestionAppLoadP95,
		QuestionTopCategories,
		QuestionOrderPeakHours,
		QuestionPaymentP95,
		QuestionPickupWait,
		QuestionSearchPeakHours,
		QuestionProductsAtRisk,
		QuestionRechargesWeekly,
		QuestionReordersCategory,
	}, ids)

	_, ok := Lookup("nope")
	assert.False(t, ok)
}

func TestFromRows_OrderPeakHours(t *testing.T) {
	rows := []models.RawRow{
		orderRow(1, "2025-10-01 12:05:00", "10000"),
		orderRow(2, "2025-10-01 12:50:00", "30000"),
		orderRow(3, "2025-10-02 19:10:00", "20000"),
		orderRow(4, "2025-10-02 19:40:00", "20000"),
		orderRow(5, "2025-10-03 08:00:00", "5000"),
		orderRow(6, "2025-09-30 12:00:00", "99999"), // before range
		orderRow(7, "2025-10-08 00:00:00", "99999"), // end is exclusive
		{"id_compra": "8", "fecha_creacion": "garbage"},
	}

	res, err := FromRows(context.Background(), mustLookup(t, QuestionOrderPeakHours), rows, params())
	require.NoError(t, err)

	hourly := res.PrimaryTable()
	require.Len(t, hourly, 24)
	assert.Equal(t, "hourly", res.Primary)
	assert.Equal(t, 5, res.Summary.TotalCount)
	assert.Equal(t, 1, res.Summary.RejectedRows)

	assert.Equal(t, 2, hourly[12].Count)
	assert.Equal(t, 40000.0, hourly[12].Sum)
	assert.Equal(t, 20000.0, hourly[12].Mean)
	assert.InDelta(t, 0.4, hourly[12].Share, 1e-9)

	// non-empty counts {8:1, 12:2, 19:2}: P75 = 2
	assert.Equal(t, []string{"12", "19"}, res.Summary.PeakKeys)
	assert.Equal(t, 2.0, res.Summary.PeakThreshold)
	assert.InDelta(t, 80.0, res.Summary.PeakCoveragePct, 1e-9)
	assert.Equal(t, "12", res.Summary.BusiestKey)
	assert.Equal(t, "08", res.Summary.QuietestKey)

	v, _ := res.Summary.Metric("peak_hour_range")
	assert.Equal(t, "12:00 - 19:00", v)
	v, _ = res.Summary.Metric("peak_hours")
	assert.Equal(t, "12:00, 19:00", v)
	v, _ = res.Summary.Metric("revenue_total")
	assert.Equal(t, "85000.00", v)
}

func TestFromRows_TimezoneOffsetShiftsHours(t *testing.T) {
	rows := []models.RawRow{orderRow(1, "2025-10-02 03:30:00", "1")}
	p := params()
	p.OffsetMinutes = -300

	res, err := FromRows(context.Background(), mustLookup(t, QuestionOrderPeakHours), rows, p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PrimaryTable()[22].Count)
	assert.Equal(t, []string{"22"}, res.Summary.PeakKeys)
}

func TestFromRows_EmptyIsNotAnError(t *testing.T) {
	res, err := FromRows(context.Background(), mustLookup(t, QuestionOrderPeakHours), nil, params())
	require.NoError(t, err)
	assert.Len(t, res.PrimaryTable(), 24)
	assert.Zero(t, res.Summary.TotalCount)
	assert.Empty(t, res.Summary.PeakKeys)
	assert.Zero(t, res.Summary.PeakCoverage)
	assert.Empty(t, res.Summary.BusiestKey)
}

func TestFromRows_StrictRejectsAllInvalid(t *testing.T) {
	rows := []models.RawRow{{"id_compra": "1"}, {"fecha_creacion": "bad"}}
	p := params()
	p.Strict = true

	_, err := FromRows(context.Background(), mustLookup(t, QuestionOrderPeakHours), rows, p)
	require.Error(t, err)
	assert.True(t, errors.IsSchemaViolation(err))
	assert.True(t, errors.IsFatal(err))

	p.Strict = false
	res, err := FromRows(context.Background(), mustLookup(t, QuestionOrderPeakHours), rows, p)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.RejectedRows)
}

func itemRow(cat, name string, units, total string) models.RawRow {
	return models.RawRow{
		"id_compra": "1", "fecha_creacion": "2025-10-02 12:00:00",
		"categoria_id": cat, "categoria_nombre": name, "cantidad": units, "total_cop": total,
	}
}

func TestFromRows_CategoriesLimitAfterShares(t *testing.T) {
	var rows []models.RawRow
	counts := map[string]int{"1": 6, "2": 3, "3": 2, "4": 1}
	names := map[string]string{"1": "Almuerzos", "2": "Bebidas", "3": "Snacks", "4": "Postres"}
	for cat, n := range counts {
		for i := 0; i < n; i++ {
			rows = append(rows, itemRow(cat, names[cat], "2", "1000"))
		}
	}

	p := params()
	p.Limit = 2
	res, err := FromRows(context.Background(), mustLookup(t, QuestionTopCategories), rows, p)
	require.NoError(t, err)

	table := res.PrimaryTable()
	require.Len(t, table, 2)
	assert.Equal(t, "Almuerzos", table[0].Label)
	assert.Equal(t, "Bebidas", table[1].Label)
	assert.InDelta(t, 0.5, table[0].Share, 1e-9, "share is over all categories, not the truncated list")
	assert.Equal(t, 12.0, table[0].Extras["units"])
	assert.Equal(t, 12, res.Summary.TotalCount)

	v, _ := res.Summary.Metric("top_category_name")
	assert.Equal(t, "Almuerzos", v)
	v, _ = res.Summary.Metric("units_total")
	assert.Equal(t, "24.00", v)
}

func TestFromRows_ReordersFilter(t *testing.T) {
	rows := []models.RawRow{
		{"fecha_creacion": "2025-10-02 12:00:00", "categoria_id": "1", "is_reorder": "true"},
		{"fecha_creacion": "2025-10-02 13:00:00", "categoria_id": "1", "is_reorder": "false"},
		{"fecha_creacion": "2025-10-02 13:00:00", "categoria_id": "2", "is_reorder": "1"},
	}
	res, err := FromRows(context.Background(), mustLookup(t, QuestionReordersCategory), rows, params())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.TotalCount)
	assert.Len(t, res.Tables["hourly"], 24)
	assert.Equal(t, []string{"categories", "hourly"}, res.TableOrder)
}

func launchRow(ts, tier, network string, ms float64) models.RawRow {
	return models.RawRow{
		"timestamp": ts, "event_name": "app_launch_to_menu",
		"device_tier": tier, "network_type": network, "duration_ms": ms,
	}
}

func TestFromRows_AppLoadWithCutoff(t *testing.T) {
	rows := []models.RawRow{
		launchRow("2025-10-01T10:00:00Z", "low", "3g", 3000),
		launchRow("2025-10-02T10:00:00Z", "low", "3g", 3000),
		launchRow("2025-10-05T10:00:00Z", "low", "3g", 1500),
		launchRow("2025-10-06T10:00:00Z", "high", "wifi", 1500),
		{"timestamp": "2025-10-06T10:00:00Z", "event_name": "product_search"},
	}
	p := params()
	p.Cutoff = time.Date(2025, 10, 5, 0, 0, 0, 0, time.UTC)

	res, err := FromRows(context.Background(), mustLookup(t, QuestionAppLoadP95), rows, p)
	require.NoError(t, err)

	segments := res.PrimaryTable()
	require.Len(t, segments, 2)
	assert.Equal(t, "high|wifi", segments[0].Key)
	assert.Equal(t, "low|3g", segments[1].Key)
	require.NotNil(t, segments[1].Percentiles)
	assert.InDelta(t, 3000, segments[1].Percentiles.P95, 1e-9)

	assert.Equal(t, []string{"segments", "by_tier", "by_network", "segments_before", "segments_after"}, res.TableOrder)
	assert.Len(t, res.Tables["by_tier"], 2)

	v, _ := res.Summary.Metric("p95_overall_before")
	assert.Equal(t, "3000.00", v)
	v, _ = res.Summary.Metric("p95_overall_after")
	assert.Equal(t, "1500.00", v)
	v, _ = res.Summary.Metric("p95_improvement_pct")
	assert.Equal(t, "50.00", v)
}

func TestFromRows_PaymentSuccessRate(t *testing.T) {
	row := func(success string) models.RawRow {
		return models.RawRow{
			"timestamp": "2025-10-02T10:00:00Z", "event_name": "payment_completed",
			"device_tier": "mid", "network_type": "4g", "duration_ms": "800", "success": success,
		}
	}
	res, err := FromRows(context.Background(), mustLookup(t, QuestionPaymentP95),
		[]models.RawRow{row("true"), row("true"), row("false"), row("1")}, params())
	require.NoError(t, err)

	seg := res.PrimaryTable()
	require.Len(t, seg, 1)
	assert.Equal(t, "4g|mid", seg[0].Key)
	require.NotNil(t, seg[0].SuccessRate)
	assert.InDelta(t, 0.75, *seg[0].SuccessRate, 1e-9)
	v, _ := res.Summary.Metric("success_rate_pct")
	assert.Equal(t, "75.00", v)
}

func TestFromRows_PickupWaitFixedWindows(t *testing.T) {
	row := func(ts string, wait string) models.RawRow {
		return models.RawRow{"id_compra": "x", "fecha_listo": ts, "tiempo_espera_entrega_seg": wait}
	}
	rows := []models.RawRow{
		row("2025-10-02 12:05:00", "600"),
		row("2025-10-02 12:50:00", "800"),
		row("2025-10-02 19:10:00", "700"),
	}

	res, err := FromRows(context.Background(), mustLookup(t, QuestionPickupWait), rows, params())
	require.NoError(t, err)

	periods := res.PrimaryTable()
	require.Len(t, periods, 3)
	assert.Equal(t, "lunch", periods[0].Key)
	assert.Equal(t, "dinner", periods[1].Key)
	assert.Equal(t, "off-peak", periods[2].Key)
	assert.Equal(t, []string{"dinner", "lunch"}, res.Summary.PeakKeys)
	assert.Equal(t, 1.0, res.Summary.PeakCoverage)
	assert.InDelta(t, 700, periods[0].Percentiles.P50, 1e-9)

	hourly := res.Tables["hourly"]
	require.Len(t, hourly, 24)
	for h, b := range hourly {
		want := h == 12 || h == 13 || h == 19 || h == 20
		assert.Equal(t, want, b.IsPeak, "hour %d", h)
	}

	v, ok := res.Summary.Metric("peak_median_seconds")
	require.True(t, ok)
	assert.Equal(t, "700.00", v)
	_, ok = res.Summary.Metric("offpeak_median_seconds")
	assert.False(t, ok)
}

func TestFromRows_PickupCustomWindows(t *testing.T) {
	ps, err := calculations.NewPeriodSet([]calculations.Window{{Name: "breakfast", Start: 7, End: 9}}, "")
	require.NoError(t, err)
	p := params()
	p.Periods = ps

	rows := []models.RawRow{{"fecha_listo": "2025-10-02 07:30:00", "tiempo_espera_entrega_seg": "60"}}
	res, err := FromRows(context.Background(), mustLookup(t, QuestionPickupWait), rows, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"breakfast"}, res.Summary.PeakKeys)
	assert.Len(t, res.PrimaryTable(), 2)
}

func productRow(ts, name string, qty any) models.RawRow {
	row := models.RawRow{"fecha_creacion": ts, "producto": name}
	if qty != nil {
		row["cantidad"] = qty
	}
	return row
}

func TestFromRows_ProductsRankedByUnits(t *testing.T) {
	rows := []models.RawRow{
		productRow("2025-10-02 12:00:00", "Empanada", "1"),
		productRow("2025-10-02 12:10:00", "Empanada", "1"),
		productRow("2025-10-02 12:20:00", "Empanada", "1"),
		productRow("2025-10-02 13:00:00", "Jugo de mora", "6"),
		productRow("2025-10-02 13:30:00", "Arepa", "2"),
		productRow("2025-10-02 14:00:00", "Arepa", "0"),      // dropped, not rejected
		productRow("2025-10-02 14:10:00", "Pandebono", "n/a"), // no usable quantity
		productRow("2025-10-02 14:20:00", "", "4"),            // no product name
		productRow("2025-09-20 12:00:00", "Empanada", "9"),    // before range
	}

	p := params()
	p.Limit = 2
	res, err := FromRows(context.Background(), mustLookup(t, QuestionProductsAtRisk), rows, p)
	require.NoError(t, err)

	table := res.PrimaryTable()
	require.Len(t, table, 2)
	assert.Equal(t, "Jugo de mora", table[0].Key)
	assert.Equal(t, 6.0, table[0].Extras["units"])
	assert.Equal(t, 1, table[0].Count)
	assert.Equal(t, "Empanada", table[1].Key)
	assert.Equal(t, 3.0, table[1].Extras["units"])
	assert.Equal(t, 54.55, table[0].Extras["units_share_pct"])
	assert.Equal(t, 1, res.Summary.RejectedRows)
	assert.Equal(t, 5, res.Summary.TotalCount)

	v, _ := res.Summary.Metric("top_product")
	assert.Equal(t, "Jugo de mora", v)
	v, _ = res.Summary.Metric("units_total")
	assert.Equal(t, "11.00", v)
	v, _ = res.Summary.Metric("top_units_share_pct")
	assert.Equal(t, "81.82", v)
}

func TestFromRows_ProductsWithoutQuantityCountRows(t *testing.T) {
	rows := []models.RawRow{
		productRow("2025-10-02 12:00:00", "Tinto", nil),
		productRow("2025-10-02 12:10:00", "Tinto", nil),
		productRow("2025-10-02 12:20:00", "Buñuelo", nil),
	}
	res, err := FromRows(context.Background(), mustLookup(t, QuestionProductsAtRisk), rows, params())
	require.NoError(t, err)

	table := res.PrimaryTable()
	require.Len(t, table, 2)
	assert.Equal(t, "Tinto", table[0].Key)
	assert.Equal(t, 2.0, table[0].Extras["units"])
	assert.Equal(t, "Buñuelo", table[1].Key)
	assert.Equal(t, 1.0, table[1].Extras["units"])
}

func TestFromRows_RechargesWeekly(t *testing.T) {
	rows := []models.RawRow{
		{"id": "1", "usuario_id": 7, "monto": 10000, "fecha_hora": "2025-10-01T08:00:00Z"},
		{"id": "2", "usuario_id": 7, "monto": 5000, "fecha_hora": "2025-10-03T08:00:00Z"},
		{"id": "3", "usuario_id": 9, "monto": 2000, "fecha_hora": "2025-10-05T23:00:00Z"},
		{"id": "4", "usuario_id": 9, "monto": 1000, "fecha_hora": "2025-10-06T01:00:00Z"},
		{"id": "5", "monto": 1000, "fecha_hora": "2025-10-06T02:00:00Z"}, // no user
	}

	res, err := FromRows(context.Background(), mustLookup(t, QuestionRechargesWeekly), rows, params())
	require.NoError(t, err)

	weekly := res.PrimaryTable()
	require.Len(t, weekly, 2)
	// 2025-09-29 and 2025-10-06 are Mondays.
	assert.Equal(t, "2025-09-29", weekly[0].Key)
	assert.Equal(t, 3, weekly[0].Count)
	assert.Equal(t, 2.0, weekly[0].Extras["unique_users"])
	assert.Equal(t, 17000.0, weekly[0].Sum)
	assert.Equal(t, "2025-10-06", weekly[1].Key)
	assert.Equal(t, 1, weekly[1].Count)
	assert.Equal(t, 1.0, weekly[1].Extras["unique_users"])
	assert.Equal(t, 1, res.Summary.RejectedRows)

	v, _ := res.Summary.Metric("unique_users_total")
	assert.Equal(t, "2", v)
	v, _ = res.Summary.Metric("recharge_amount_total")
	assert.Equal(t, "18000.00", v)
}
