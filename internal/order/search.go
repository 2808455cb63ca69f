package order

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
	"github.com/erp/mabang/internal/mabang/extract"
)

// Labels and markers the order list page puts on a row.
const (
	labelMerged      = "合并订单"
	markerNoCarrier  = `title="物流渠道未选择"`
	markerNoTracking = `title="无运单号"`
)

// Summary is one row of an order search result.
type Summary struct {
	PlatformOrderID string `json:"platformOrderId"`
	TrackNumber     string `json:"trackNumber"`
	StatusText      string `json:"showOrderStatusText"`
	Label           string `json:"order_label"`
	LogisticsHTML   string `json:"cansend1logisticsHtml"`
}

// Merged reports whether the row was absorbed into another order.
func (s *Summary) Merged() bool {
	return s.StatusText == StatusVoided && strings.Contains(s.Label, labelMerged)
}

// ShippingIncomplete reports whether the row shows a missing carrier or
// tracking number badge.
func (s *Summary) ShippingIncomplete() bool {
	return strings.Contains(s.LogisticsHTML, markerNoCarrier) ||
		strings.Contains(s.LogisticsHTML, markerNoTracking)
}

// CarrierName returns the carrier display name from the row's logistics
// fragment, or "" when no carrier is assigned.
func (s *Summary) CarrierName() string {
	if s.ShippingIncomplete() {
		return ""
	}
	if texts := extract.InnerTexts(s.LogisticsHTML); len(texts) > 0 {
		return texts[0]
	}
	return ""
}

// Searcher runs order-list searches against the order backend.
type Searcher struct {
	api      API
	resolver CanonicalResolver
	log      *zap.Logger
}

// NewSearcher creates a searcher. The resolver is used to chase merged rows
// to their surviving order; a nil resolver leaves merged rows as-is.
func NewSearcher(api API, resolver CanonicalResolver, log *zap.Logger) *Searcher {
	return &Searcher{api: api, resolver: resolver, log: log.Named("search")}
}

// Search looks up exactly one order by platform order id using the list
// page's fuzzy-search form.
func (s *Searcher) Search(ctx context.Context, platformOrderID string) (*Summary, error) {
	rows, err := s.search(ctx, url.Values{
		"OrderSearch.fuzzySearchKey":   {"Order.platformOrderId"},
		"OrderSearchFuSKey":            {"a.platformOrderId"},
		"daysOperator":                 {"="},
		"OrderSearch.fuzzySearchValue": {platformOrderID},
		"orderPageKey":                 {strings.ReplaceAll(uuid.NewString(), "-", "")},
		"a":                            {"orderalllist"},
		"post_tableBase":               {"1"},
	})
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, platformOrderID)
	case 1:
		return &rows[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matched %d orders",
			ErrMultipleOrders, platformOrderID, len(rows))
	}
}

// SearchByIDs looks up a batch of orders in one call.
func (s *Searcher) SearchByIDs(ctx context.Context, ids []string) ([]Summary, error) {
	return s.search(ctx, url.Values{
		"platformTracknumberSearchInput":    {"platformOrderId"},
		"platformTracknumberSearchtextarea": {strings.Join(ids, "\n")},
	})
}

// ShippingInfo is an order's carrier and tracking assignment as shown on the
// order list.
type ShippingInfo struct {
	OrderID     string
	Carrier     string
	TrackNumber string
	Incomplete  bool
}

// ShippingInfoByIDs returns the shipping assignment of every requested
// order. Merged-away rows are chased to their surviving order. Orders the
// search does not return at all fail the call.
func (s *Searcher) ShippingInfoByIDs(ctx context.Context, ids []string) ([]ShippingInfo, error) {
	rows, err := s.SearchByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Summary, len(rows))
	for _, row := range rows {
		byID[row.PlatformOrderID] = row
	}
	infos := make([]ShippingInfo, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		if row.Merged() {
			if s.resolver == nil {
				return nil, fmt.Errorf("%w: %s was merged and no resolver is configured",
					ErrOrderNotFound, id)
			}
			canonical, err := s.resolver.ResolveCanonical(ctx, id)
			if err != nil {
				return nil, err
			}
			s.log.Debug("chasing merged order",
				zap.String("order", id),
				zap.String("canonical", canonical))
			sub, err := s.Search(ctx, canonical)
			if err != nil {
				return nil, err
			}
			row = *sub
		}
		infos = append(infos, ShippingInfo{
			OrderID:     id,
			Carrier:     row.CarrierName(),
			TrackNumber: row.TrackNumber,
			Incomplete:  row.ShippingIncomplete(),
		})
	}
	return infos, nil
}

// search runs one order-list query and decodes the row list.
func (s *Searcher) search(ctx context.Context, payload url.Values) ([]Summary, error) {
	env, err := s.api.Send(ctx, mabang.EndpointOrderSearch, "post", payload)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := env.Field("orderDataList", &raw); err != nil {
		return nil, err
	}
	rows := make([]Summary, 0, len(raw))
	for _, item := range raw {
		var row Summary
		if err := json.Unmarshal(item, &row); err != nil {
			return nil, fmt.Errorf("%w: order search row: %v", mabang.ErrProtocol, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
