package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/models"
)

// Local source names, resolved to files by configuration.
const (
	SourceOrders     = "orders"
	SourceOrderItems = "order_items"
	SourceEvents     = "events"
	SourceRecharges  = "recharges"
)

// Question ids.
const (
	QuestionOrderPeakHours   = "order-peak-hours"
	QuestionSearchPeakHours  = "product-search-peak-hours"
	QuestionTopCategories    = "most-requested-categories"
	QuestionReordersCategory = "reorders-by-category"
	QuestionAppLoadP95       = "app-load-p95"
	QuestionPaymentP95       = "payment-p95"
	QuestionPickupWait       = "pickup-wait"
	QuestionProductsAtRisk   = "products-at-risk"
	QuestionRechargesWeekly  = "recharges-weekly"
)

const (
	DefaultCategoryLimit = 5
	MaxCategoryLimit     = 50
)

const (
	tableHourly         = "hourly"
	tableCategories     = "categories"
	tableSegments       = "segments"
	tablePeriods        = "periods"
	tableByTier         = "by_tier"
	tableByNetwork      = "by_network"
	tableSegmentsBefore = "segments_before"
	tableSegmentsAfter  = "segments_after"
	tableProducts       = "products"
	tableWeekly         = "weekly"
)

const (
	fieldTimestamp    = "timestamp"
	fieldAmount       = "amount"
	fieldUnits        = "units"
	fieldDuration     = "duration_ms"
	fieldWait         = "wait_seconds"
	fieldSuccess      = "success"
	fieldCategoryID   = "categoria_id"
	fieldCategoryName = "categoria_nombre"
	fieldDeviceTier   = "device_tier"
	fieldNetworkType  = "network_type"
	fieldEventName    = "event_name"
	fieldReorder      = "is_reorder"
	fieldProduct      = "product_name"
	fieldCategory     = "category"
	fieldUserID       = "user_id"
	extraUniqueUsers  = "unique_users"
	extraUnitsShare   = "units_share_pct"

	eventProductSearch    = "product_search"
	eventAppLaunch        = "app_launch_to_menu"
	eventPaymentCompleted = "payment_completed"
)

// RemoteMapping says where a question's bucket rows live in the remote JSON
// payload. Every field list is tried in order; the first present wins.
type RemoteMapping struct {
	// Rows marks a paginated endpoint that returns raw rows rather than
	// buckets; they go through the schema like local rows.
	Rows bool

	BucketsPath string
	TotalPaths  []string
	SummaryPath string

	// Exactly one of HourField, PeriodField or KeyFields identifies a bucket.
	HourField   []string
	PeriodField []string
	KeyFields   []string

	LabelField  []string
	CountFields []string
	SumFields   []string
	MeanFields  []string
	P25Fields   []string
	P50Fields   []string
	P75Fields   []string
	P95Fields   []string
	MaxFields   []string
	SuccessRate []string
	Extras      map[string][]string
	PeakField   string
}

// Definition is one business question: where its data comes from, how it is
// bucketed and how peaks are chosen.
type Definition struct {
	ID          string
	Title       string
	Endpoint    string
	Source      string
	Schema      Schema
	Primary     string
	Aggregate   calculations.AggregateOptions
	PeakMode    calculations.PeakMode
	Remote      RemoteMapping
	UsesLimit   bool
	UsesCutoff  bool
	UsesPeriods bool

	// keep drops normalized records before aggregation without counting
	// them as rejected.
	keep   func(r models.Record) bool
	extend func(ctx context.Context, in extendInput, res *models.Result) error
}

// LocalOnly reports whether the remote backend has no endpoint for d.
func (d *Definition) LocalOnly() bool {
	return d.Endpoint == ""
}

type extendInput struct {
	records []models.Record
	params  Params
	opts    calculations.AggregateOptions
}

// AggregateOptions returns the definition's options bound to run parameters.
func (d *Definition) AggregateOptions(p Params) calculations.AggregateOptions {
	opts := d.Aggregate
	opts.OffsetMinutes = p.OffsetMinutes
	opts.Workers = p.Workers
	if opts.GroupBy == calculations.GroupByPeriod || d.UsesPeriods {
		opts.Periods = p.Periods
	}
	return opts
}

var registry = map[string]*Definition{}

func register(d *Definition) {
	if err := d.Schema.Validate(); err != nil {
		panic(fmt.Sprintf("question %s: %v", d.ID, err))
	}
	registry[d.ID] = d
}

// Lookup returns a question definition by id.
func Lookup(id string) (*Definition, bool) {
	d, ok := registry[id]
	return d, ok
}

// Questions lists every definition ordered by id.
func Questions() []*Definition {
	out := make([]*Definition, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QuestionIDs lists every question id in order.
func QuestionIDs() []string {
	qs := Questions()
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}

var (
	timestampAliases = []string{"fecha_creacion", "created_at", "fecha", "time"}
	hourRemote       = RemoteMapping{
		BucketsPath: "hourly_distribution",
		SummaryPath: "summary",
		HourField:   []string{"hour", "hora"},
		PeakField:   "is_peak",
	}
)

func ordersSchema() Schema {
	return Schema{
		IDField: "id",
		Fields: []Field{
			{Name: "id", Type: FieldString, Aliases: []string{"id_compra", "order_id"}},
			{Name: fieldTimestamp, Type: FieldTime, Required: true, Aliases: timestampAliases},
			{Name: fieldAmount, Type: FieldFloat, Aliases: []string{"total_cop", "total"}},
		},
	}
}

func orderItemsSchema(filters ...Filter) Schema {
	return Schema{
		IDField: "id",
		Fields: []Field{
			{Name: "id", Type: FieldString, Aliases: []string{"id_compra", "order_id"}},
			{Name: fieldTimestamp, Type: FieldTime, Required: true, Aliases: timestampAliases},
			{Name: fieldCategoryID, Type: FieldString, Required: true, Aliases: []string{"category_id"}},
			{Name: fieldCategoryName, Type: FieldString, Aliases: []string{"category_name"}},
			{Name: fieldUnits, Type: FieldFloat, Aliases: []string{"cantidad", "quantity"}},
			{Name: fieldAmount, Type: FieldFloat, Aliases: []string{"total_cop", "subtotal", "total"}},
			{Name: fieldReorder, Type: FieldBool, Aliases: []string{"reorder"}},
		},
		Filters: filters,
	}
}

func eventsSchema(event string, extra ...Field) Schema {
	fields := []Field{
		{Name: "id", Type: FieldString, Aliases: []string{"event_id"}},
		{Name: fieldTimestamp, Type: FieldTime, Required: true, Aliases: timestampAliases},
		{Name: fieldEventName, Type: FieldString, Required: true, Aliases: []string{"event", "name"}},
	}
	return Schema{
		IDField: "id",
		Fields:  append(fields, extra...),
		Filters: []Filter{{Field: fieldEventName, Aliases: []string{"event", "name"}, Values: []string{event}}},
	}
}

func latencyFields(success bool) []Field {
	fields := []Field{
		{Name: fieldDuration, Type: FieldFloat, Required: true, Aliases: []string{"duration", "latency_ms"}},
		{Name: fieldDeviceTier, Type: FieldString, Aliases: []string{"tier"}},
		{Name: fieldNetworkType, Type: FieldString, Aliases: []string{"network"}},
	}
	if success {
		fields = append(fields, Field{Name: fieldSuccess, Type: FieldBool, Aliases: []string{"ok"}})
	}
	return fields
}

func segmentRemote(keys ...string) RemoteMapping {
	return RemoteMapping{
		BucketsPath: "segments",
		TotalPaths:  []string{"total_events", "total", "summary.total_events"},
		SummaryPath: "summary",
		KeyFields:   keys,
		CountFields: []string{"count", "n"},
		MeanFields:  []string{"mean", "avg"},
		P25Fields:   []string{"p25"},
		P50Fields:   []string{"median", "p50"},
		P75Fields:   []string{"p75"},
		P95Fields:   []string{"p95"},
		MaxFields:   []string{"max"},
		SuccessRate: []string{"success_rate", "rate"},
		PeakField:   "is_peak",
	}
}

func withHourCounts(m RemoteMapping, counts []string, totals []string) RemoteMapping {
	m.CountFields = counts
	m.TotalPaths = totals
	return m
}

func init() {
	orderRemote := withHourCounts(hourRemote,
		[]string{"order_count", "count"},
		[]string{"total_orders", "summary.total_orders"})
	orderRemote.SumFields = []string{"total_revenue"}
	orderRemote.MeanFields = []string{"avg_order_value"}

	register(&Definition{
		ID:       QuestionOrderPeakHours,
		Title:    "Order volume by hour of day",
		Endpoint: "/analytics/order-peak-hours",
		Source:   SourceOrders,
		Schema:   ordersSchema(),
		Primary:  tableHourly,
		Aggregate: calculations.AggregateOptions{
			GroupBy:      calculations.GroupByHour,
			Dense:        true,
			MeasureField: fieldAmount,
			MeasureKind:  calculations.MeasureAmount,
			Order:        calculations.SortKeyAscending,
		},
		PeakMode: calculations.PeakRelativeQuartile,
		Remote:   orderRemote,
		extend:   extendRevenue,
	})

	register(&Definition{
		ID:       QuestionSearchPeakHours,
		Title:    "Product searches by hour of day",
		Endpoint: "/analytics/product-search-peak-hours",
		Source:   SourceEvents,
		Schema:   eventsSchema(eventProductSearch),
		Primary:  tableHourly,
		Aggregate: calculations.AggregateOptions{
			GroupBy: calculations.GroupByHour,
			Dense:   true,
			Order:   calculations.SortKeyAscending,
		},
		PeakMode: calculations.PeakRelativeQuartile,
		Remote: withHourCounts(hourRemote,
			[]string{"search_count", "count"},
			[]string{"total_searches", "summary.total_searches"}),
	})

	register(&Definition{
		ID:       QuestionTopCategories,
		Title:    "Most requested product categories",
		Endpoint: "/analytics/most-requested-categories",
		Source:   SourceOrderItems,
		Schema:   orderItemsSchema(),
		Primary:  tableCategories,
		Aggregate: calculations.AggregateOptions{
			GroupBy:      calculations.GroupByDimensions,
			Dimensions:   []string{fieldCategoryID},
			LabelField:   fieldCategoryName,
			MeasureField: fieldAmount,
			MeasureKind:  calculations.MeasureAmount,
			ExtraSums:    []string{fieldUnits},
			TieBreak:     fieldUnits,
			Order:        calculations.SortCountDescending,
		},
		PeakMode: calculations.PeakRelativeQuartile,
		Remote: RemoteMapping{
			BucketsPath: "categories",
			TotalPaths:  []string{"total_orders", "summary.total_orders"},
			SummaryPath: "summary",
			KeyFields:   []string{fieldCategoryID},
			LabelField:  []string{fieldCategoryName},
			CountFields: []string{"total_orders", "order_count"},
			SumFields:   []string{"total_revenue"},
			Extras:      map[string][]string{fieldUnits: {"total_units"}},
			PeakField:   "is_peak",
		},
		UsesLimit: true,
		extend:    extendCategories,
	})

	register(&Definition{
		ID:       QuestionReordersCategory,
		Title:    "Reorders by product category",
		Endpoint: "/analytics/reorders-by-category",
		Source:   SourceOrderItems,
		Schema: orderItemsSchema(Filter{
			Field:   fieldReorder,
			Aliases: []string{"reorder"},
			Values:  []string{"true", "1", "yes"},
		}),
		Primary: tableCategories,
		Aggregate: calculations.AggregateOptions{
			GroupBy:    calculations.GroupByDimensions,
			Dimensions: []string{fieldCategoryID},
			LabelField: fieldCategoryName,
			Order:      calculations.SortCountDescending,
		},
		PeakMode: calculations.PeakRelativeQuartile,
		Remote: RemoteMapping{
			BucketsPath: "categories",
			TotalPaths:  []string{"total_reorders", "summary.total_reorders"},
			SummaryPath: "summary",
			KeyFields:   []string{fieldCategoryID},
			LabelField:  []string{fieldCategoryName},
			CountFields: []string{"reorder_count", "count"},
			PeakField:   "is_peak",
		},
		extend: extendReorderHours,
	})

	register(&Definition{
		ID:       QuestionAppLoadP95,
		Title:    "App launch to menu latency by device tier and network",
		Endpoint: "/analytics/app-load-p95",
		Source:   SourceEvents,
		Schema:   eventsSchema(eventAppLaunch, latencyFields(false)...),
		Primary:  tableSegments,
		Aggregate: calculations.AggregateOptions{
			GroupBy:      calculations.GroupByDimensions,
			Dimensions:   []string{fieldDeviceTier, fieldNetworkType},
			MeasureField: fieldDuration,
			MeasureKind:  calculations.MeasureDuration,
			Order:        calculations.SortKeyAscending,
		},
		PeakMode:   calculations.PeakRelativeQuartile,
		Remote:     segmentRemote(fieldDeviceTier, fieldNetworkType),
		UsesCutoff: true,
		extend:     extendLatency(fieldDeviceTier, fieldNetworkType),
	})

	register(&Definition{
		ID:       QuestionPaymentP95,
		Title:    "Payment completion latency and success by network and device tier",
		Endpoint: "/analytics/payment-p95",
		Source:   SourceEvents,
		Schema:   eventsSchema(eventPaymentCompleted, latencyFields(true)...),
		Primary:  tableSegments,
		Aggregate: calculations.AggregateOptions{
			GroupBy:      calculations.GroupByDimensions,
			Dimensions:   []string{fieldNetworkType, fieldDeviceTier},
			MeasureField: fieldDuration,
			MeasureKind:  calculations.MeasureDuration,
			SuccessField: fieldSuccess,
			Order:        calculations.SortKeyAscending,
		},
		PeakMode: calculations.PeakRelativeQuartile,
		Remote:   segmentRemote(fieldNetworkType, fieldDeviceTier),
		extend:   extendLatency(fieldDeviceTier, fieldNetworkType),
	})

	register(&Definition{
		ID:       QuestionPickupWait,
		Title:    "Pickup wait after order ready, peak vs off-peak",
		Endpoint: "/analytics/pickup-wait",
		Source:   SourceOrders,
		Schema: Schema{
			IDField: "id",
			Fields: []Field{
				{Name: "id", Type: FieldString, Aliases: []string{"id_compra", "order_id"}},
				{Name: fieldTimestamp, Type: FieldTime, Required: true, Aliases: []string{"fecha_listo", "ready_at"}},
				{Name: fieldWait, Type: FieldFloat, Required: true, Aliases: []string{"tiempo_espera_entrega_seg", "wait_seg"}},
			},
		},
		Primary: tablePeriods,
		Aggregate: calculations.AggregateOptions{
			GroupBy:      calculations.GroupByPeriod,
			Dense:        true,
			MeasureField: fieldWait,
			MeasureKind:  calculations.MeasureDuration,
			Order:        calculations.SortKeyAscending,
		},
		PeakMode: calculations.PeakFixedWindow,
		Remote: RemoteMapping{
			BucketsPath: "periods",
			TotalPaths:  []string{"total_orders", "summary.total_orders"},
			SummaryPath: "summary",
			PeriodField: []string{"period", "periodo"},
			CountFields: []string{"count"},
			MeanFields:  []string{"mean"},
			P25Fields:   []string{"p25"},
			P50Fields:   []string{"median", "p50"},
			P75Fields:   []string{"p75"},
			P95Fields:   []string{"p95"},
			MaxFields:   []string{"max"},
			PeakField:   "is_peak",
		},
		UsesPeriods: true,
		extend:      extendPickup,
	})
}

var (
	productAliases  = []string{"producto", "producto_nombre", "nombre_producto", "item_name", "item", "item_nombre"}
	quantityAliases = []string{
		"quantity", "qty", "cantidad", "unit_count", "order_quantity", "order_count",
		"cantidad_unidades", "total_units", "units_sold", "orders", "total_orders",
	}
	categoryAliases = []string{"categoria", "categoria_nombre", "product_category", "categoria_producto"}
)

func init() {
	register(&Definition{
		ID:      QuestionProductsAtRisk,
		Title:   "Most ordered products by units, stock-out risk",
		Source:  SourceOrderItems,
		Primary: tableProducts,
		Schema: Schema{
			IDField: "id",
			Fields: []Field{
				{Name: "id", Type: FieldString, Aliases: []string{"id_compra", "order_id"}},
				{Name: fieldTimestamp, Type: FieldTime, Required: true, Aliases: timestampAliases},
				{Name: fieldProduct, Type: FieldString, Required: true, Aliases: productAliases},
				// Without a quantity column every row is one unit.
				{Name: fieldUnits, Type: FieldFloat, Aliases: quantityAliases, Default: 1.0},
				{Name: fieldCategory, Type: FieldString, Aliases: categoryAliases},
			},
		},
		Aggregate: calculations.AggregateOptions{
			GroupBy:    calculations.GroupByDimensions,
			Dimensions: []string{fieldProduct},
			ExtraSums:  []string{fieldUnits},
			TieBreak:   fieldUnits,
			Order:      calculations.SortExtraDescending,
		},
		PeakMode:  calculations.PeakRelativeQuartile,
		UsesLimit: true,
		keep: func(r models.Record) bool {
			units, ok := r.Value(fieldUnits)
			return ok && units > 0
		},
		extend: extendProducts,
	})

	register(&Definition{
		ID:       QuestionRechargesWeekly,
		Title:    "Weekly recharges and unique recharging users",
		Endpoint: "/analytics/recharges",
		Source:   SourceRecharges,
		Primary:  tableWeekly,
		Schema: Schema{
			IDField: "id",
			Fields: []Field{
				{Name: "id", Type: FieldString, Aliases: []string{"recharge_id"}},
				{Name: fieldTimestamp, Type: FieldTime, Required: true, Aliases: append([]string{"fecha_hora"}, timestampAliases...)},
				{Name: fieldUserID, Type: FieldString, Required: true, Aliases: []string{"usuario_id"}},
				{Name: fieldAmount, Type: FieldFloat, Aliases: []string{"monto"}},
			},
		},
		Aggregate: calculations.AggregateOptions{
			GroupBy:      calculations.GroupByWeek,
			MeasureField: fieldAmount,
			MeasureKind:  calculations.MeasureAmount,
			Distinct:     map[string]string{extraUniqueUsers: fieldUserID},
			Order:        calculations.SortKeyAscending,
		},
		PeakMode: calculations.PeakRelativeQuartile,
		Remote:   RemoteMapping{Rows: true},
		extend:   extendRecharges,
	})
}

func extendProducts(_ context.Context, in extendInput, res *models.Result) error {
	table := res.PrimaryTable()
	if len(table) == 0 {
		return nil
	}
	total := 0.0
	for _, b := range table {
		total += b.Extras[fieldUnits]
	}
	if total == 0 {
		return nil
	}
	for i := range table {
		if table[i].Extras == nil {
			table[i].Extras = make(map[string]float64, 1)
		}
		table[i].Extras[extraUnitsShare] = math.Round(table[i].Extras[fieldUnits]/total*10000) / 100
	}

	top := table[0]
	res.Summary.AddMetric("top_product", top.DisplayName())
	res.Summary.AddMetric("top_product_units", formatFloat(top.Extras[fieldUnits]))
	res.Summary.AddMetric("units_total", formatFloat(total))
	if n := in.params.Limit; n > 0 {
		if n > len(table) {
			n = len(table)
		}
		shown := 0.0
		for _, b := range table[:n] {
			shown += b.Extras[fieldUnits]
		}
		res.Summary.AddMetric("top_units_share_pct", formatFloat(math.Round(shown/total*10000)/100))
	}
	return nil
}

func extendRecharges(_ context.Context, in extendInput, res *models.Result) error {
	users := make(map[string]bool)
	amount := 0.0
	for _, r := range in.records {
		users[r.Dim(fieldUserID)] = true
		if v, ok := r.Value(fieldAmount); ok {
			amount += v
		}
	}
	res.Summary.AddMetric("unique_users_total", strconv.Itoa(len(users)))
	res.Summary.AddMetric("recharge_amount_total", formatFloat(amount))
	if weeks := len(res.PrimaryTable()); weeks > 0 {
		res.Summary.AddMetric("weeks", strconv.Itoa(weeks))
	}
	return nil
}

func extendRevenue(_ context.Context, in extendInput, res *models.Result) error {
	values := calculations.MeasureValues(in.records, fieldAmount)
	if len(values) == 0 {
		return nil
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	res.Summary.AddMetric("revenue_total", formatFloat(total))
	res.Summary.AddMetric("avg_order_value", formatFloat(total/float64(len(values))))
	return nil
}

func extendCategories(_ context.Context, _ extendInput, res *models.Result) error {
	table := res.PrimaryTable()
	if len(table) == 0 {
		return nil
	}
	top := table[0]
	res.Summary.AddMetric("top_category_id", top.Key)
	res.Summary.AddMetric("top_category_name", top.DisplayName())
	units, revenue := 0.0, 0.0
	for _, b := range table {
		units += b.Extras[fieldUnits]
		revenue += b.Sum
	}
	res.Summary.AddMetric("units_total", formatFloat(units))
	res.Summary.AddMetric("revenue_total", formatFloat(revenue))
	return nil
}

func extendReorderHours(ctx context.Context, in extendInput, res *models.Result) error {
	opts := in.opts
	opts.GroupBy = calculations.GroupByHour
	opts.Dense = true
	opts.Order = calculations.SortKeyAscending
	opts.LabelField = ""
	hourly, err := calculations.Aggregate(ctx, in.records, opts)
	if err != nil {
		return err
	}
	res.SetTable(tableHourly, hourly)
	return nil
}

func extendLatency(tier, network string) func(context.Context, extendInput, *models.Result) error {
	return func(ctx context.Context, in extendInput, res *models.Result) error {
		for _, split := range []struct {
			table string
			dim   string
		}{{tableByTier, tier}, {tableByNetwork, network}} {
			opts := in.opts
			opts.Dimensions = []string{split.dim}
			buckets, err := calculations.Aggregate(ctx, in.records, opts)
			if err != nil {
				return err
			}
			res.SetTable(split.table, buckets)
		}

		if p95, ok := calculations.Percentile(calculations.MeasureValues(in.records, in.opts.MeasureField), 95); ok {
			res.Summary.AddMetric("p95_overall", formatFloat(p95))
		}
		if in.opts.SuccessField != "" {
			if rate, ok := successRate(in.records, in.opts.SuccessField); ok {
				res.Summary.AddMetric("success_rate_pct", formatFloat(rate*100))
			}
		}

		if in.params.Cutoff.IsZero() {
			return nil
		}
		cmp, err := calculations.CompareAround(ctx, in.records, in.params.Cutoff, in.opts)
		if err != nil {
			return err
		}
		res.SetTable(tableSegmentsBefore, cmp.Before)
		res.SetTable(tableSegmentsAfter, cmp.After)
		res.Summary.AddMetric("cutoff", cmp.Cutoff.Format("2006-01-02T15:04:05Z07:00"))
		res.Summary.AddMetric("events_before", fmt.Sprintf("%d", cmp.BeforeCount))
		res.Summary.AddMetric("events_after", fmt.Sprintf("%d", cmp.AfterCount))
		if cmp.Comparable {
			res.Summary.AddMetric("p95_overall_before", formatFloat(cmp.OverallBefore))
			res.Summary.AddMetric("p95_overall_after", formatFloat(cmp.OverallAfter))
			res.Summary.AddMetric("p95_improvement_pct", formatFloat(cmp.ImprovementPct))
		}
		return nil
	}
}

func extendPickup(ctx context.Context, in extendInput, res *models.Result) error {
	opts := in.opts
	opts.GroupBy = calculations.GroupByHour
	opts.Dense = true
	hourly, err := calculations.Aggregate(ctx, in.records, opts)
	if err != nil {
		return err
	}
	peaks, err := calculations.ClassifyPeaks(hourly, calculations.PeakFixedWindow, calculations.PeakParams{Periods: in.params.Periods})
	if err != nil {
		return err
	}
	res.SetTable(tableHourly, peaks.Buckets)

	var peak, offPeak []float64
	for _, r := range in.records {
		v, ok := r.Value(fieldWait)
		if !ok {
			continue
		}
		if in.params.Periods.InWindow(calculations.BucketHour(r.Timestamp, in.params.OffsetMinutes)) {
			peak = append(peak, v)
		} else {
			offPeak = append(offPeak, v)
		}
	}
	peakMedian, okPeak := calculations.Median(peak)
	offMedian, okOff := calculations.Median(offPeak)
	if okPeak {
		res.Summary.AddMetric("peak_median_seconds", formatFloat(peakMedian))
	}
	if okOff {
		res.Summary.AddMetric("offpeak_median_seconds", formatFloat(offMedian))
	}
	if okPeak && okOff {
		res.Summary.AddMetric("median_diff_seconds", formatFloat(peakMedian-offMedian))
		res.Summary.AddMetric("median_diff_pct", formatFloat(calculations.PercentageChange(offMedian, peakMedian)))
	}
	res.Summary.AddMetric("peak_windows", in.params.Periods.Describe())
	return nil
}

func successRate(records []models.Record, field string) (float64, bool) {
	ok, total := 0, 0
	for _, r := range records {
		if v, present := r.Flag(field); present {
			total++
			if v {
				ok++
			}
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(ok) / float64(total), true
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
