package product

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
)

// Binding is one stock-SKU to virtual-SKU pairing.
type Binding struct {
	StockSKU   string
	VirtualSKU string
}

// UploadVirtualSKUs binds virtual SKUs to stock SKUs via the stock backend's
// spreadsheet import.
func (c *Catalog) UploadVirtualSKUs(ctx context.Context, bindings []Binding) error {
	if len(bindings) == 0 {
		return fmt.Errorf("%w: no virtual sku bindings to upload", mabang.ErrBusiness)
	}
	content, err := virtualSKUWorkbook(bindings)
	if err != nil {
		return err
	}
	fields := url.Values{}
	fields.Set("UpLoadFileType", "addVirtualSKU")
	fields.Set("stockVirtualType", "1")
	env, err := c.api.SendMultipart(ctx, mabang.EndpointUploadStock, fields, mabang.FormFile{
		Field:       "templetfile",
		Name:        "virtual_sku.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Content:     content,
	})
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("%w: virtual sku upload rejected: %s", mabang.ErrBusiness, env.Message)
	}
	c.log.Info("uploaded virtual sku bindings", zap.Int("count", len(bindings)))
	return nil
}

// virtualSKUWorkbook renders bindings into the import template the stock
// backend expects.
func virtualSKUWorkbook(bindings []Binding) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	if err := f.SetCellValue(sheet, "A1", "*库存sku编号"); err != nil {
		return nil, err
	}
	if err := f.SetCellValue(sheet, "B1", "*虚拟sku1"); err != nil {
		return nil, err
	}
	for i, b := range bindings {
		row := i + 2
		if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", row), b.StockSKU); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, fmt.Sprintf("B%d", row), b.VirtualSKU); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
