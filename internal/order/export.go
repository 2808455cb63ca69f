package order

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
)

// exportSchema is the fixed column schema of the reconciliation export, in
// column order. The last column fans out into one column per merged order.
var exportSchema = []struct {
	label string
	field string
}{
	{"交易编号", "platformOrderId"},
	{"平台SKU", "platformSku"},
	{"物流渠道", "logisticsChannelName"},
	{"商品数量", "quantityTotal"},
	{"货运单号", "trackNumber"},
	{"交运异常原因", "shipErrorReason"},
	{"状态", "orderStatus"},
	{"被合并订单", "mergeOrderIds"},
}

// Column indexes of the schema above.
const (
	colOrderID = iota
	colSKU
	colCarrier
	colQuantity
	colTrackingNo
	colShipError
	colStatus
	colMergedFirst
)

// Exporter downloads order rows through the vendor's template export: the
// export call answers with a spreadsheet URL whose tabular rows become Row
// values.
type Exporter struct {
	api API
	log *zap.Logger
}

// NewExporter creates an exporter on top of the dispatcher.
func NewExporter(api API, log *zap.Logger) *Exporter {
	return &Exporter{api: api, log: log.Named("export")}
}

// Export downloads the rows for the given order ids.
func (e *Exporter) Export(ctx context.Context, ids []string) ([]Row, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: export of zero order ids", mabang.ErrBusiness)
	}
	payload := url.Values{}
	payload.Set("backUrl", "")
	payload.Set("orderIds", strings.Join(ids, "\n"))
	for _, col := range exportSchema {
		payload.Add("fieldlabel", col.field)
	}
	for _, col := range exportSchema {
		payload.Add("map-name[]", col.label)
		payload.Add("map-uq[]", col.field)
		payload.Add("map-text[]", "")
	}
	payload.Set("templateName", "")
	payload.Set("templateId", "0")
	payload.Set("standardVersion", "1")
	payload.Set("orderItemOrderBy", "")
	payload.Set("pageSave", "1")
	payload.Set("tableBase", "")
	// Fold merged-order details into their surviving row.
	payload.Set("mergeShow", "1")
	payload.Set("hbddgyxx", "2")

	env, err := e.api.Send(ctx, mabang.EndpointExportOrders, "post", payload)
	if err != nil {
		return nil, err
	}
	var downloadURL string
	if err := env.Field("gourl", &downloadURL); err != nil {
		return nil, err
	}
	content, err := e.api.FetchURL(ctx, downloadURL)
	if err != nil {
		return nil, err
	}
	rows, err := parseWorkbook(content)
	if err != nil {
		return nil, err
	}
	e.log.Info("exported order rows",
		zap.Int("requested", len(ids)),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// parseWorkbook reads the export spreadsheet into rows, skipping the header.
func parseWorkbook(content []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: export workbook: %v", mabang.ErrProtocol, err)
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: export workbook: %v", mabang.ErrProtocol, err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: export workbook has no header row", mabang.ErrProtocol)
	}
	rows := make([]Row, 0, len(cells)-1)
	for _, rowCells := range cells[1:] {
		row, err := rowFromCells(rowCells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rowFromCells maps one spreadsheet row onto the fixed schema.
func rowFromCells(cells []string) (Row, error) {
	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	row := Row{
		OrderID:    cell(colOrderID),
		SKUs:       splitList(cell(colSKU)),
		Carrier:    cell(colCarrier),
		TrackingNo: cell(colTrackingNo),
		ShipError:  cell(colShipError),
		Status:     cell(colStatus),
	}
	for _, q := range splitList(cell(colQuantity)) {
		n, err := strconv.Atoi(q)
		if err != nil {
			return Row{}, fmt.Errorf("%w: order %s: quantity %q is not a number",
				mabang.ErrProtocol, row.OrderID, q)
		}
		row.Quantities = append(row.Quantities, n)
	}
	for i := colMergedFirst; i < len(cells); i++ {
		if v := strings.TrimSpace(cells[i]); v != "" {
			row.MergedIDs = append(row.MergedIDs, v)
		}
	}
	return row, nil
}
