package order

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// baseIDRe strips the split suffix a platform appends to partial shipments,
// e.g. "PO123_2" covers the purchase line "PO123".
var baseIDRe = regexp.MustCompile(`_\d+$`)

// RowExporter downloads order rows for a set of platform order ids.
type RowExporter interface {
	Export(ctx context.Context, ids []string) ([]Row, error)
}

// CanonicalResolver maps a merged-away order id to its surviving order id.
type CanonicalResolver interface {
	ResolveCanonical(ctx context.Context, platformOrderID string) (string, error)
}

// Line is one shipped item after merged rows are unfolded: the original
// order id it belongs to together with the item and its carrier code.
type Line struct {
	OrderID     string
	SKU         string
	Quantity    int
	CarrierCode string
	TrackingNo  string
}

// Reconciler turns an exported batch of orders into per-order shipment lines
// and checks the batch against the caller's expected order ids.
type Reconciler struct {
	exporter RowExporter
	resolver CanonicalResolver
	carriers CarrierTable
	log      *zap.Logger
}

// NewReconciler creates a reconciler. A nil carrier table falls back to the
// built-in one.
func NewReconciler(exporter RowExporter, resolver CanonicalResolver, carriers CarrierTable, log *zap.Logger) *Reconciler {
	if carriers == nil {
		carriers = DefaultCarrierTable()
	}
	return &Reconciler{
		exporter: exporter,
		resolver: resolver,
		carriers: carriers,
		log:      log.Named("reconciler"),
	}
}

// BaseID strips the split-shipment suffix from a platform order id.
func BaseID(id string) string {
	return baseIDRe.ReplaceAllString(id, "")
}

// Reconcile exports the given order ids and unfolds the result into shipment
// lines. Orders that were merged away are chased to their surviving order and
// re-exported. The returned lines cover every requested id or the call fails
// with a ReconciliationError.
func (r *Reconciler) Reconcile(ctx context.Context, ids []string) ([]Line, error) {
	rows, err := r.exporter.Export(ctx, ids)
	if err != nil {
		return nil, err
	}
	rows, absorbed := dropAbsorbed(rows)
	if err := r.checkShipping(rows); err != nil {
		return nil, err
	}
	rows, err = r.substituteInvalid(ctx, rows, absorbed)
	if err != nil {
		return nil, err
	}
	// Substituted canonical rows must be ready to ship too.
	if err := r.checkShipping(rows); err != nil {
		return nil, err
	}
	lines, err := r.unfold(rows)
	if err != nil {
		return nil, err
	}
	if err := checkCoverage(ids, lines); err != nil {
		return nil, err
	}
	r.log.Info("reconciled orders",
		zap.Int("requested", len(ids)),
		zap.Int("lines", len(lines)))
	return lines, nil
}

// dropAbsorbed removes every row whose own order id another row reports as
// absorbed. When several requested ids were merged into one order the export
// echoes a row for each of them, and the surviving row already carries the
// absorbed orders' items. The absorbed set is built from all rows, valid or
// not, so a stale-looking duplicate of an absorbed order cannot slip through.
func dropAbsorbed(rows []Row) ([]Row, map[string]bool) {
	absorbed := make(map[string]bool)
	for _, row := range rows {
		for _, id := range row.AbsorbedIDs() {
			absorbed[id] = true
		}
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if absorbed[row.OrderID] {
			continue
		}
		out = append(out, row)
	}
	return out, absorbed
}

// substituteInvalid replaces voided or empty rows with a fresh export of the
// order they were merged into. Rows absorbed by a row substituted earlier in
// the same pass are simply dropped.
func (r *Reconciler) substituteInvalid(ctx context.Context, rows []Row, absorbed map[string]bool) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if !row.Invalid() {
			out = append(out, row)
			continue
		}
		if absorbed[row.OrderID] {
			continue
		}
		canonical, err := r.resolver.ResolveCanonical(ctx, row.OrderID)
		if err != nil {
			return nil, err
		}
		r.log.Info("substituting merged order",
			zap.String("order", row.OrderID),
			zap.String("canonical", canonical))
		sub, err := r.exporter.Export(ctx, []string{canonical})
		if err != nil {
			return nil, err
		}
		for _, s := range sub {
			if s.Invalid() {
				return nil, &ReconciliationError{
					Reason: fmt.Sprintf("canonical order %s of merged order %s is itself invalid",
						canonical, row.OrderID),
				}
			}
			out = append(out, s)
			for _, id := range s.AbsorbedIDs() {
				absorbed[id] = true
			}
		}
	}
	return out, nil
}

// checkShipping aborts the batch when any surviving row lacks a carrier or a
// tracking number. All offenders are reported at once.
func (r *Reconciler) checkShipping(rows []Row) error {
	var problems []string
	for _, row := range rows {
		if row.Invalid() || !row.ShippingIncomplete() {
			continue
		}
		problems = append(problems, fmt.Sprintf(
			"order %s: carrier %q, tracking %q, reason %q",
			row.OrderID, row.Carrier, row.TrackingNo, row.ShipError))
	}
	if len(problems) == 0 {
		return nil
	}
	return &ReconciliationError{
		Reason: "orders not ready to ship:\n" + strings.Join(problems, "\n"),
	}
}

// unfold expands each row into one line per covered order. A merged row's
// own id plus its absorbed ids must line up one to one with its SKU and
// quantity lists.
func (r *Reconciler) unfold(rows []Row) ([]Line, error) {
	var lines []Line
	for _, row := range rows {
		orderIDs := append([]string{row.OrderID}, row.AbsorbedIDs()...)
		if len(orderIDs) != len(row.SKUs) || len(orderIDs) != len(row.Quantities) {
			return nil, &ReconciliationError{
				Reason: fmt.Sprintf(
					"order %s: %d covered orders but %d skus and %d quantities",
					row.OrderID, len(orderIDs), len(row.SKUs), len(row.Quantities)),
			}
		}
		code, ok := r.carriers.Resolve(row.Carrier)
		if !ok {
			return nil, &ReconciliationError{
				Reason: fmt.Sprintf("order %s: unknown carrier %q", row.OrderID, row.Carrier),
			}
		}
		for i, id := range orderIDs {
			lines = append(lines, Line{
				OrderID:     id,
				SKU:         row.SKUs[i],
				Quantity:    row.Quantities[i],
				CarrierCode: code,
				TrackingNo:  row.TrackingNo,
			})
		}
	}
	return lines, nil
}

// checkCoverage verifies the lines cover every requested id. Comparison is
// on base ids so split shipments count toward their purchase line. Extra
// covered orders are reported but only missing ones fail the batch.
func checkCoverage(ids []string, lines []Line) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[BaseID(id)] = true
	}
	got := make(map[string]bool, len(lines))
	for _, line := range lines {
		got[BaseID(line.OrderID)] = true
	}
	var missing, extra []string
	for id := range want {
		if !got[id] {
			missing = append(missing, id)
		}
	}
	for id := range got {
		if !want[id] {
			extra = append(extra, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &ReconciliationError{
		Reason:     "export does not cover all requested orders",
		MissingIDs: missing,
		ExtraIDs:   extra,
	}
}
