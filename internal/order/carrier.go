package order

import "strings"

// CarrierMapping pairs a vendor carrier display-name fragment with the
// downstream marketplace's carrier code.
type CarrierMapping struct {
	Name string
	Code string
}

// CarrierTable normalizes the vendor's Chinese carrier names into carrier
// codes by substring match, in table order.
type CarrierTable []CarrierMapping

// DefaultCarrierTable returns the carrier mappings for the marketplace
// channels the vendor ships through.
func DefaultCarrierTable() CarrierTable {
	return CarrierTable{
		{Name: "国际电商专递", Code: "sfb2c"},
		{Name: "顺丰", Code: "sfb2c"},
		{Name: "E邮宝", Code: "china-ems"},
		{Name: "燕文", Code: "yanwen"},
	}
}

// Resolve returns the code of the first mapping whose name occurs in the
// given display name.
func (t CarrierTable) Resolve(name string) (string, bool) {
	for _, m := range t {
		if strings.Contains(name, m.Name) {
			return m.Code, true
		}
	}
	return "", false
}
