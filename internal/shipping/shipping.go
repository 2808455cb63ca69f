// Package shipping implements shipping-fee quotations against the freight
// calculator of the order backend and the custom-rule calculator.
package shipping

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
	"github.com/erp/mabang/internal/mabang/extract"
)

// offlineEMSChannel is the channel row the offline fee lookup reads.
const offlineEMSChannel = "线下E邮宝"

// API is the slice of the dispatcher the shipping services need.
type API interface {
	Send(ctx context.Context, endpoint, method string, payload url.Values) (*mabang.Envelope, error)
}

// Quoter calculates shipping fees.
type Quoter struct {
	api API
	log *zap.Logger
}

// NewQuoter creates the fee service.
func NewQuoter(api API, log *zap.Logger) *Quoter {
	return &Quoter{api: api, log: log.Named("shipping")}
}

// OfflineEMSFee quotes the offline EMS channel for a destination country and
// a weight in grams. The calculator answers with an HTML table of channel
// quotes; the fee is the trailing amount of the EMS row.
func (q *Quoter) OfflineEMSFee(ctx context.Context, countryCode string, weightGrams int) (decimal.Decimal, error) {
	payload := url.Values{}
	payload.Set("countryCode", countryCode)
	payload.Set("orderweiht", fmt.Sprintf("%d", weightGrams))
	env, err := q.api.Send(ctx, mabang.EndpointFreightCalc, "post", payload)
	if err != nil {
		return decimal.Zero, err
	}
	cells, _, ok, err := extract.RowContaining(env.Message, offlineEMSChannel)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: freight table: %v", mabang.ErrProtocol, err)
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: freight table has no %s row for %s",
			mabang.ErrBusiness, offlineEMSChannel, countryCode)
	}
	// The fee is the last numeric cell of the channel row.
	for i := len(cells) - 1; i >= 0; i-- {
		fee, err := decimal.NewFromString(strings.TrimSpace(cells[i]))
		if err != nil {
			continue
		}
		q.log.Debug("quoted offline ems fee",
			zap.String("country", countryCode),
			zap.Int("grams", weightGrams),
			zap.String("fee", fee.String()))
		return fee, nil
	}
	return decimal.Zero, fmt.Errorf("%w: freight row for %s carries no fee",
		mabang.ErrProtocol, offlineEMSChannel)
}

// CustomFee quotes a custom shipping rule for a destination country, a
// weight in grams, and a postal code.
func (q *Quoter) CustomFee(ctx context.Context, ruleID, countryCode string, weightGrams int, postalCode string) (decimal.Decimal, error) {
	payload := url.Values{}
	payload.Set("data", fmt.Sprintf("%s||%d||%s", countryCode, weightGrams, postalCode))
	payload.Set("ruleId", ruleID)
	payload.Set("type", "1")
	env, err := q.api.Send(ctx, mabang.EndpointBiaojuCalc, "post", payload)
	if err != nil {
		return decimal.Zero, err
	}
	var fragment string
	if err := env.Field("calculationRetHtml", &fragment); err != nil {
		return decimal.Zero, err
	}
	cell, err := extract.TableCellSpan(fragment, 1, 4)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: rule %s gave no fee for %dg to %s: %v",
			mabang.ErrBusiness, ruleID, weightGrams, countryCode, err)
	}
	fee, err := decimal.NewFromString(strings.TrimSpace(cell))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: rule %s fee cell %q is not a number",
			mabang.ErrProtocol, ruleID, cell)
	}
	return fee, nil
}
