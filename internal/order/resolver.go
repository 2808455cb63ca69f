package order

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
	"github.com/erp/mabang/internal/mabang/extract"
)

var internalIDRe = regexp.MustCompile(`&orderId=(\d+)`)

// Resolver answers where a merged order went: it walks the operation log of
// an order and reports the surviving order it was folded into.
type Resolver struct {
	api API
	log *zap.Logger
}

// NewResolver creates a resolver on top of the dispatcher.
func NewResolver(api API, log *zap.Logger) *Resolver {
	return &Resolver{api: api, log: log.Named("resolver")}
}

// InternalOrderID translates a platform order id into the vendor's internal
// numeric order id, scraped from the order detail page.
func (r *Resolver) InternalOrderID(ctx context.Context, platformOrderID string) (string, error) {
	query := url.Values{}
	query.Set("mod", "order.detail")
	query.Set("platformOrderId", platformOrderID)
	query.Set("orderStatus", "2")
	query.Set("orderTable", "2")
	query.Set("tableBase", "2")
	query.Set("lang", "cn")
	body, err := r.api.Get(ctx, mabang.EndpointAuxAPI, query)
	if err != nil {
		return "", err
	}
	m := internalIDRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: order %s: detail page has no internal order id",
			mabang.ErrProtocol, platformOrderID)
	}
	return string(m[1]), nil
}

// OperationLog fetches and parses the operation log of an order. The id is
// the vendor's internal order id, not the platform order id.
func (r *Resolver) OperationLog(ctx context.Context, internalID string) ([]extract.OpLogEntry, error) {
	payload := url.Values{}
	payload.Set("htmltype", "tr")
	payload.Set("orderId", internalID)
	payload.Set("page", "")
	payload.Set("rowsPerPage", "")
	env, err := r.api.Send(ctx, mabang.EndpointOrderOpLog, "post", payload)
	if err != nil {
		return nil, err
	}
	entries, err := extract.OpLog(env.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: order %s: %v", mabang.ErrProtocol, internalID, err)
	}
	return entries, nil
}

// ResolveCanonical returns the platform order id of the order that absorbed
// the given order. ErrNotMergedOrder when the operation log records no merge.
func (r *Resolver) ResolveCanonical(ctx context.Context, platformOrderID string) (string, error) {
	internalID, err := r.InternalOrderID(ctx, platformOrderID)
	if err != nil {
		return "", err
	}
	entries, err := r.OperationLog(ctx, internalID)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.OpType != extract.OpTypeMerge || entry.MergedInto == "" {
			continue
		}
		r.log.Debug("resolved merged order",
			zap.String("order", platformOrderID),
			zap.String("canonical", entry.MergedInto))
		return entry.MergedInto, nil
	}
	return "", fmt.Errorf("%w: order %s", ErrNotMergedOrder, platformOrderID)
}
