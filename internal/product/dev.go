package product

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/erp/mabang/internal/mabang"
)

// DevProduct is a development-stage product record from the product-dev
// backend.
type DevProduct struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	SKU         string      `json:"sku"`
	Status      string      `json:"status"`
	DeclareName string      `json:"declare_name"`
}

// DevProductDetail fetches a development-stage product by id from the
// product-dev backend.
func (c *Catalog) DevProductDetail(ctx context.Context, productID string) (*DevProduct, error) {
	payload := url.Values{}
	payload.Set("mod", "productApi.getProductDetail")
	payload.Set("product_id", productID)
	env, err := c.api.Send(ctx, mabang.EndpointVotoboAPI, "post", payload)
	if err != nil {
		return nil, err
	}
	var detail DevProduct
	if err := env.Field("data", &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}
