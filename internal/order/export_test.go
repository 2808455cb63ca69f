package order

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/erp/mabang/internal/mabang"
)

// exportWorkbook renders rows into the spreadsheet shape the export
// endpoint serves.
func exportWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	header := []any{}
	for _, col := range exportSchema {
		header = append(header, col.label)
	}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+2)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestExportDownloadsAndParsesRows(t *testing.T) {
	workbook := exportWorkbook(t, [][]any{
		{"A100", "sku-a;sku-b", "顺丰速运", "1;2", "SF001", "", "已发货", "A101"},
		{"A101", "", "", "", "", "", StatusVoided},
	})
	var sentPayload url.Values
	api := &fakeAPI{
		sendFn: func(endpoint, method string, payload url.Values) (*mabang.Envelope, error) {
			assert.Equal(t, mabang.EndpointExportOrders, endpoint)
			sentPayload = payload
			return envelope(t, map[string]any{
				"success": true,
				"gourl":   "https://files.example.com/export.xlsx",
			}), nil
		},
		fetchFn: func(rawURL string) ([]byte, error) {
			assert.Equal(t, "https://files.example.com/export.xlsx", rawURL)
			return workbook, nil
		},
	}
	e := NewExporter(api, zap.NewNop())

	rows, err := e.Export(context.Background(), []string{"A100", "A101"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "A100", rows[0].OrderID)
	assert.Equal(t, []string{"sku-a", "sku-b"}, rows[0].SKUs)
	assert.Equal(t, []int{1, 2}, rows[0].Quantities)
	assert.Equal(t, "顺丰速运", rows[0].Carrier)
	assert.Equal(t, "SF001", rows[0].TrackingNo)
	assert.Equal(t, []string{"A101"}, rows[0].MergedIDs)

	assert.Equal(t, "A101", rows[1].OrderID)
	assert.True(t, rows[1].Invalid())

	assert.Equal(t, "A100\nA101", sentPayload.Get("orderIds"))
	assert.Len(t, sentPayload["fieldlabel"], len(exportSchema))
	assert.Len(t, sentPayload["map-uq[]"], len(exportSchema))
	assert.Equal(t, "1", sentPayload.Get("mergeShow"))
	assert.Equal(t, "2", sentPayload.Get("hbddgyxx"))
}

func TestExportRejectsEmptyBatch(t *testing.T) {
	e := NewExporter(&fakeAPI{}, zap.NewNop())
	_, err := e.Export(context.Background(), nil)
	assert.ErrorIs(t, err, mabang.ErrBusiness)
}

func TestExportFailsOnBadQuantity(t *testing.T) {
	workbook := exportWorkbook(t, [][]any{
		{"A100", "sku-a", "顺丰", "many", "SF001", "", "已发货"},
	})
	api := &fakeAPI{
		sendFn: func(endpoint, method string, payload url.Values) (*mabang.Envelope, error) {
			return envelope(t, map[string]any{"success": true, "gourl": "u"}), nil
		},
		fetchFn: func(rawURL string) ([]byte, error) { return workbook, nil },
	}
	e := NewExporter(api, zap.NewNop())

	_, err := e.Export(context.Background(), []string{"A100"})
	require.Error(t, err)
	assert.ErrorIs(t, err, mabang.ErrProtocol)
	assert.Contains(t, err.Error(), "A100")
}

func TestExportFailsOnNonWorkbookBody(t *testing.T) {
	api := &fakeAPI{
		sendFn: func(endpoint, method string, payload url.Values) (*mabang.Envelope, error) {
			return envelope(t, map[string]any{"success": true, "gourl": "u"}), nil
		},
		fetchFn: func(rawURL string) ([]byte, error) { return []byte("<html>error</html>"), nil },
	}
	e := NewExporter(api, zap.NewNop())

	_, err := e.Export(context.Background(), []string{"A100"})
	assert.ErrorIs(t, err, mabang.ErrProtocol)
}
