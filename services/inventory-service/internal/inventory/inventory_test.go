package inventory

import (
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func day(d int) time.Time { return time.Date(2025, 7, d, 0, 0, 0, 0, dates.Location()) }

func TestOverlapsTreatsNilAsUnbounded(t *testing.T) {
	closed := PriceTable{EffectiveFrom: ptr(day(10)), EffectiveTo: ptr(day(20))}
	cases := []struct {
		name  string
		other PriceTable
		want  bool
	}{
		{"before", PriceTable{EffectiveFrom: ptr(day(1)), EffectiveTo: ptr(day(9))}, false},
		{"touching end", PriceTable{EffectiveFrom: ptr(day(20)), EffectiveTo: ptr(day(25))}, true},
		{"after", PriceTable{EffectiveFrom: ptr(day(21))}, false},
		{"open start reaching in", PriceTable{EffectiveTo: ptr(day(10))}, true},
		{"open start ending before", PriceTable{EffectiveTo: ptr(day(9))}, false},
		{"fully open", PriceTable{}, true},
		{"open end starting inside", PriceTable{EffectiveFrom: ptr(day(15))}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, closed.Overlaps(tc.other))
			assert.Equal(t, tc.want, tc.other.Overlaps(closed))
		})
	}
}

func TestFindOverlapIgnoresSelfAndInactive(t *testing.T) {
	t1 := PriceTable{ID: "a", IsActive: true}
	others := []PriceTable{t1, {ID: "b", IsActive: false}}
	_, found := FindOverlap(t1, others)
	assert.False(t, found)

	others = append(others, PriceTable{ID: "c", IsActive: true, EffectiveFrom: ptr(day(3))})
	o, found := FindOverlap(t1, others)
	require.True(t, found)
	assert.Equal(t, "c", o.ID)
}

func TestEffectivePrice(t *testing.T) {
	sale := decimal.NewFromInt(20000)
	happyHour := PriceTable{
		ID:         "hh",
		IsActive:   true,
		TimeRanges: []TimeRange{{Start: dates.NewClock(14, 0, 0), End: dates.NewClock(16, 0, 0)}},
		Products:   []TablePrice{{ProductID: "water", Price: decimal.NewFromInt(15000)}},
	}
	summer := PriceTable{
		ID:            "summer",
		IsActive:      true,
		EffectiveFrom: ptr(day(1)),
		EffectiveTo:   ptr(day(31)),
		Products:      []TablePrice{{ProductID: "water", Price: decimal.NewFromInt(18000)}},
	}
	tables := []PriceTable{happyHour, summer}

	at := func(d, h int) time.Time { return time.Date(2025, 7, d, h, 0, 0, 0, dates.Location()) }
	assert.Equal(t, "15000", EffectivePrice("water", sale, tables, at(5, 15)).String())
	assert.Equal(t, "18000", EffectivePrice("water", sale, tables, at(5, 18)).String())
	assert.Equal(t, "20000", EffectivePrice("water", sale, tables[1:], time.Date(2025, 8, 2, 9, 0, 0, 0, dates.Location())).String())
	assert.Equal(t, "20000", EffectivePrice("towel", sale, tables, at(5, 15)).String())

	summer.IsActive = false
	assert.Equal(t, "20000", EffectivePrice("water", sale, []PriceTable{summer}, at(5, 18)).String())
}

func TestPriceTableValidate(t *testing.T) {
	ok := PriceTable{Name: "Summer", EffectiveFrom: ptr(day(1)), EffectiveTo: ptr(day(2))}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.EffectiveTo = ptr(day(0))
	assert.Error(t, bad.Validate())

	bad = ok
	bad.TimeRanges = []TimeRange{{Start: dates.NewClock(10, 0, 0), End: dates.NewClock(9, 0, 0)}}
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Products = []TablePrice{{ProductID: "p", Price: decimal.NewFromInt(1)}, {ProductID: "p", Price: decimal.NewFromInt(2)}}
	assert.Error(t, bad.Validate())
}

func TestDocumentNormalize(t *testing.T) {
	d := Document{
		Kind:       KindReceipt,
		SupplierID: ptr("s1"),
		PaidAmount: decimal.NewFromInt(100000),
		Lines: []Line{
			{ProductID: "p1", Quantity: 24, UnitPrice: decimal.NewFromInt(7500)},
			{ProductID: "p2", Quantity: 3, UnitPrice: decimal.RequireFromString("12500.50")},
		},
	}
	require.NoError(t, d.Normalize())
	assert.Equal(t, "180000", d.Lines[0].Total.String())
	assert.Equal(t, "217501.5", d.TotalAmount.String())

	d.PaidAmount = decimal.NewFromInt(300000)
	assert.Error(t, d.Normalize(), "paid beyond total")

	noSupplier := Document{Kind: KindReturn, Lines: d.Lines}
	assert.Error(t, noSupplier.Normalize())

	stockOut := Document{Kind: KindStockOut, Lines: []Line{{ProductID: "p1", Quantity: 1}}}
	assert.NoError(t, stockOut.Normalize())

	dup := Document{Kind: KindStockOut, Lines: []Line{{ProductID: "p1", Quantity: 1}, {ProductID: "p1", Quantity: 2}}}
	assert.Error(t, dup.Normalize())
}

func TestStockMovements(t *testing.T) {
	next, err := ApplyStock(10, 4, Direction(KindReceipt), "Water")
	require.NoError(t, err)
	assert.Equal(t, 14, next)

	next, err = ApplyStock(10, 10, Direction(KindReturn), "Water")
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	_, err = ApplyStock(3, 4, Direction(KindStockOut), "Water")
	assert.Error(t, err)

	next, short := SaleStock(3, 5)
	assert.Equal(t, 0, next)
	assert.Equal(t, 2, short)
}

func TestCheckTotalsAndMerge(t *testing.T) {
	c := Check{Lines: []CheckLine{
		{ProductID: "a", SystemQuantity: 10, ActualQuantity: 12},
		{ProductID: "b", SystemQuantity: 5, ActualQuantity: 1},
		{ProductID: "c", SystemQuantity: 7, ActualQuantity: 7},
	}}
	assert.Equal(t, CheckTotals{Increase: 2, Decrease: 4, Net: -2, ProductsCount: 3}, c.Totals())

	merged := MergeLines([]Check{
		{Lines: []CheckLine{{ProductID: "a", ProductName: "Shuttle", SystemQuantity: 10, ActualQuantity: 4}}},
		{Lines: []CheckLine{
			{ProductID: "a", ProductName: "Shuttle", SystemQuantity: 10, ActualQuantity: 5},
			{ProductID: "b", ProductName: "Grip", SystemQuantity: 2, ActualQuantity: 2},
		}},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, "Grip", merged[0].ProductName)
	assert.Equal(t, 9, merged[1].ActualQuantity)
	assert.Equal(t, 10, merged[1].SystemQuantity)
}
