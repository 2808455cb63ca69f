package order

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
)

// Ops bundles the batch order operations that take no per-order input:
// auto-merge and shipping-channel matching.
type Ops struct {
	api API
	log *zap.Logger
}

// NewOps creates the batch operations service.
func NewOps(api API, log *zap.Logger) *Ops {
	return &Ops{api: api, log: log.Named("ops")}
}

// AutoMerge asks the order backend to merge the shop's pending orders that
// share a recipient. The form mirrors what the web UI submits, including the
// duplicated type key.
func (o *Ops) AutoMerge(ctx context.Context, shopID string) error {
	payload := url.Values{}
	payload.Set("isWishEpc", "")
	payload.Set("FramePage", "")
	payload["type"] = []string{"NEUB", "FEUB"}
	payload.Set("platform", "")
	payload.Set("Order.shops[]", shopID)
	for _, cond := range []string{"0", "1", "10", "2", "4", "5"} {
		payload.Add("mergeCondition[]", cond)
	}
	payload.Set("buyersAccount", "")
	payload.Set("mergeRemark", "同姓名,同客户ID,同邮寄地址,订单重量超过2kg不合并,拆分订单不合并")
	payload.Set("tableBase", "1")
	payload.Set("checkOrderSecLog", "1")
	payload.Set("remarkflag", "1")
	payload.Set("changeprint", "")
	if _, err := o.api.Send(ctx, mabang.EndpointAutoMerge, "post", payload); err != nil {
		return err
	}
	o.log.Info("auto-merge started", zap.String("shop", shopID))
	return nil
}

// StartShipMatch kicks off the shipping-channel matching job for pending
// orders.
func (o *Ops) StartShipMatch(ctx context.Context) error {
	payload := url.Values{}
	payload.Set("type", "2")
	if _, err := o.api.Send(ctx, mabang.EndpointShipMatch, "post", payload); err != nil {
		return err
	}
	o.log.Info("shipping-channel match started")
	return nil
}
