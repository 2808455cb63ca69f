// Package product implements product-catalog lookups and virtual SKU
// management against the stock backend.
package product

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
)

// API is the slice of the dispatcher the product services need.
type API interface {
	Send(ctx context.Context, endpoint, method string, payload url.Values) (*mabang.Envelope, error)
	SendMultipart(ctx context.Context, endpoint string, fields url.Values, file mabang.FormFile) (*mabang.Envelope, error)
}

var (
	// ErrProductNotFound reports a lookup with zero hits.
	ErrProductNotFound = errors.New("product: product not found")
	// ErrProductAmbiguous reports a lookup whose hits span more than one
	// main SKU.
	ErrProductAmbiguous = errors.New("product: multiple products matched")
)

// SearchKey selects the catalog field a lookup matches against.
type SearchKey string

const (
	// SearchBySKU matches the stock SKU itself.
	SearchBySKU SearchKey = "Stock_stockSku"
	// SearchByVirtualSKU matches the virtual SKUs bound to a stock SKU.
	SearchByVirtualSKU SearchKey = "StockVirtualSku_virtualSku"
)

// displayName is the human label the web UI pairs with each search key.
var displayName = map[SearchKey]string{
	SearchBySKU:        "库存sku编号",
	SearchByVirtualSKU: "虚拟sku编号",
}

// Operate selects how the lookup value is matched.
type Operate string

const (
	OperateExact    Operate = "="
	OperatePrefix   Operate = "likeStart"
	OperateContains Operate = "like"
	OperateSuffix   Operate = "likeEnd"
)

// mainSKURe captures the letter-digit stem of a SKU, e.g. "AB12" out of
// "AB12-red". Variants of one product share the stem.
var mainSKURe = regexp.MustCompile(`^\D+\d+`)

var virtualSKURe = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

// MainSKU returns the shared stem of a variant SKU, or the SKU unchanged
// when it has no recognizable stem.
func MainSKU(sku string) string {
	if m := mainSKURe.FindString(sku); m != "" {
		return m
	}
	return sku
}

// Product is one catalog entry.
type Product struct {
	SKU         string
	Cost        decimal.Decimal
	Weight      decimal.Decimal
	Stock       int
	PictureURL  string
	DeclareName string
	HasBattery  bool
}

// stockRow mirrors the stock-list payload of the catalog endpoint. The cost
// lives on the per-warehouse entries; the first warehouse is authoritative.
type stockRow struct {
	StockSKU      string           `json:"stockSku"`
	Weight        string           `json:"weight"`
	StockQuantity json.Number      `json:"stockQuantity"`
	StockPicture  string           `json:"stockPicture"`
	DeclareName   string           `json:"declareName"`
	HasBattery    string           `json:"hasBattery"`
	Warehouses    []stockWarehouse `json:"stockWarehouseData"`
}

type stockWarehouse struct {
	StockCost string `json:"stockCost"`
}

// Catalog runs product lookups and manages virtual SKUs.
type Catalog struct {
	api API
	log *zap.Logger
}

// NewCatalog creates the catalog service.
func NewCatalog(api API, log *zap.Logger) *Catalog {
	return &Catalog{api: api, log: log.Named("product")}
}

// Find looks up one product. All hits must share a main SKU or the lookup
// is ambiguous; the first hit wins within one product's variants.
func (c *Catalog) Find(ctx context.Context, key SearchKey, value string, op Operate) (*Product, error) {
	rows, err := c.search(ctx, key, value, op)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrProductNotFound, key, value)
	}
	main := MainSKU(rows[0].StockSKU)
	for _, row := range rows[1:] {
		if MainSKU(row.StockSKU) != main {
			return nil, fmt.Errorf("%w: %s %q matched %s and %s",
				ErrProductAmbiguous, key, value, rows[0].StockSKU, row.StockSKU)
		}
	}
	return productFromRow(rows[0])
}

// VirtualSKUExists reports whether any product already binds the virtual SKU.
func (c *Catalog) VirtualSKUExists(ctx context.Context, virtualSKU string) (bool, error) {
	rows, err := c.search(ctx, SearchByVirtualSKU, virtualSKU, OperateExact)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// NextFreeVirtualSKU counts up from the given virtual SKU until an unbound
// one is found, preserving the digit width of the seed.
func (c *Catalog) NextFreeVirtualSKU(ctx context.Context, seed string) (string, error) {
	m := virtualSKURe.FindStringSubmatch(seed)
	if m == nil {
		return "", fmt.Errorf("%w: virtual sku %q has no trailing number",
			mabang.ErrBusiness, seed)
	}
	prefix, digits := m[1], m[2]
	n := 0
	fmt.Sscanf(digits, "%d", &n)
	for candidate := seed; ; {
		exists, err := c.VirtualSKUExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		n++
		candidate = fmt.Sprintf("%s%0*d", prefix, len(digits), n)
	}
}

func (c *Catalog) search(ctx context.Context, key SearchKey, value string, op Operate) ([]stockRow, error) {
	payload := url.Values{}
	payload.Set("searchKey", string(key))
	payload.Set("search-content", displayName[key])
	payload.Set("searchValue", value)
	payload.Set("operate", string(op))
	payload.Set("status", "3")
	env, err := c.api.Send(ctx, mabang.EndpointStockList, "post", payload)
	if err != nil {
		return nil, err
	}
	var rows []stockRow
	if err := env.Field("stockData", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func productFromRow(row stockRow) (*Product, error) {
	if len(row.Warehouses) == 0 {
		return nil, fmt.Errorf("%w: sku %s: no warehouse data", mabang.ErrProtocol, row.StockSKU)
	}
	cost, err := decimal.NewFromString(row.Warehouses[0].StockCost)
	if err != nil {
		return nil, fmt.Errorf("%w: sku %s: cost %q", mabang.ErrProtocol, row.StockSKU, row.Warehouses[0].StockCost)
	}
	weight, err := decimal.NewFromString(row.Weight)
	if err != nil {
		return nil, fmt.Errorf("%w: sku %s: weight %q", mabang.ErrProtocol, row.StockSKU, row.Weight)
	}
	qty, err := row.StockQuantity.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: sku %s: quantity %q", mabang.ErrProtocol, row.StockSKU, row.StockQuantity)
	}
	return &Product{
		SKU:         row.StockSKU,
		Cost:        cost,
		Weight:      weight,
		Stock:       int(qty),
		PictureURL:  row.StockPicture,
		DeclareName: row.DeclareName,
		HasBattery:  row.HasBattery == "1",
	}, nil
}
