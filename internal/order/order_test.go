package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowAbsorbedIDs(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want []string
	}{
		{
			name: "plain merge",
			row:  Row{OrderID: "A100", MergedIDs: []string{"A101", "A102"}},
			want: []string{"A101", "A102"},
		},
		{
			name: "self reference stripped once",
			row:  Row{OrderID: "A100", MergedIDs: []string{"A100", "A101"}},
			want: []string{"A101"},
		},
		{
			name: "second self reference kept",
			row:  Row{OrderID: "A100", MergedIDs: []string{"A100", "A100"}},
			want: []string{"A100"},
		},
		{
			name: "empty entries dropped",
			row:  Row{OrderID: "A100", MergedIDs: []string{"", "A101", ""}},
			want: []string{"A101"},
		},
		{
			name: "no merged ids",
			row:  Row{OrderID: "A100"},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.row.AbsorbedIDs())
		})
	}
}

func TestRowInvalid(t *testing.T) {
	valid := Row{OrderID: "A1", SKUs: []string{"s"}, Quantities: []int{1}, Status: "已发货"}
	assert.False(t, valid.Invalid())

	voided := valid
	voided.Status = StatusVoided
	assert.True(t, voided.Invalid())

	noSKU := valid
	noSKU.SKUs = nil
	assert.True(t, noSKU.Invalid())

	noQty := valid
	noQty.Quantities = nil
	assert.True(t, noQty.Invalid())
}

func TestRowShippingIncomplete(t *testing.T) {
	row := Row{Carrier: "顺丰", TrackingNo: "SF1"}
	assert.False(t, row.ShippingIncomplete())

	noCarrier := Row{TrackingNo: "SF1"}
	assert.True(t, noCarrier.ShippingIncomplete())

	noTracking := Row{Carrier: "顺丰"}
	assert.True(t, noTracking.ShippingIncomplete())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a;b"))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ; b ;"))
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(";;"))
}
