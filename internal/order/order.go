// Package order implements the order-side operations of the Mabang client:
// spreadsheet export, merged-order resolution, search, file upload, and the
// reconciliation algorithm that turns a requested order-id set into a flat,
// carrier-normalized record set.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/erp/mabang/internal/mabang"
)

// API is the slice of the dispatcher the order services need.
type API interface {
	Send(ctx context.Context, endpoint, method string, payload url.Values) (*mabang.Envelope, error)
	Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
	FetchURL(ctx context.Context, rawURL string) ([]byte, error)
	PostMultipartRaw(ctx context.Context, endpoint string, fields url.Values, file mabang.FormFile) ([]byte, error)
}

var (
	// ErrNotMergedOrder reports that a canonical-order resolution was asked
	// for an order that was never merged away. The resolver must only be
	// invoked on rows already known to be voided by a merge.
	ErrNotMergedOrder = errors.New("order: not a merged order")
	// ErrOrderNotFound reports a lookup with zero hits.
	ErrOrderNotFound = errors.New("order: order not found")
	// ErrMultipleOrders reports an ambiguous single-order lookup.
	ErrMultipleOrders = errors.New("order: multiple orders matched")
	// ErrUploadNotTracked reports that the import job list has no row for
	// the asked filename.
	ErrUploadNotTracked = errors.New("order: upload not found in running results")
)

// ReconciliationError reports a post-condition violation of Reconcile. No
// partial result accompanies it.
type ReconciliationError struct {
	Reason     string
	MissingIDs []string
	ExtraIDs   []string
}

func (e *ReconciliationError) Error() string {
	msg := "order: reconciliation failed: " + e.Reason
	if len(e.MissingIDs) > 0 || len(e.ExtraIDs) > 0 {
		msg += fmt.Sprintf(" (missing %v, extra %v)", e.MissingIDs, e.ExtraIDs)
	}
	return msg
}

// StatusVoided is the export status of an order voided by a merge.
const StatusVoided = "已作废"

// Row is one exported order record. MergedIDs holds the raw merged-id
// columns and may still include a self-reference for resend-suffixed orders.
type Row struct {
	OrderID    string
	SKUs       []string
	Quantities []int
	Carrier    string
	TrackingNo string
	ShipError  string
	Status     string
	MergedIDs  []string
}

// AbsorbedIDs returns the ids merged into this row, with at most one
// self-reference stripped. Resent or reactivated orders carry an "_<n>"
// suffix that the export drops from the id column while repeating the bare
// id in the merged-order columns, so the row appears to contain itself.
func (r *Row) AbsorbedIDs() []string {
	var ids []string
	selfStripped := false
	for _, id := range r.MergedIDs {
		if id == "" {
			continue
		}
		if !selfStripped && id == r.OrderID {
			selfStripped = true
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Invalid reports whether the row was voided or exported without SKU or
// quantity data.
func (r *Row) Invalid() bool {
	return r.Status == StatusVoided || len(r.SKUs) == 0 || len(r.Quantities) == 0
}

// ShippingIncomplete reports whether the row lacks a carrier or tracking
// number.
func (r *Row) ShippingIncomplete() bool {
	return r.Carrier == "" || r.TrackingNo == ""
}

// splitList splits a semicolon-joined export cell, dropping empty segments.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
