package mabang

import "fmt"

// Endpoint names resolvable through an Endpoints table.
const (
	EndpointLogin        = "login"
	EndpointIndex        = "index"
	EndpointAuxAPI       = "aux_api"
	EndpointStockList    = "stock_list"
	EndpointUploadStock  = "upload_stock_file"
	EndpointFreightCalc  = "freight_calc"
	EndpointUploadImage  = "upload_image"
	EndpointOrderOpLog   = "order_op_log"
	EndpointOrderSearch  = "order_search"
	EndpointAutoMerge    = "auto_merge_order"
	EndpointImportOrders = "import_orders"
	EndpointExportOrders = "export_orders"
	EndpointImportStatus = "import_status"
	EndpointShipMatch    = "ship_match"
	EndpointOrderDecl    = "order_declaration"
	EndpointVotoboLogin  = "votobo_login"
	EndpointVotoboCheck  = "votobo_check"
	EndpointVotoboAPI    = "votobo_api"
	EndpointBiaojuCalc   = "biaoju_calc"
)

// Endpoints maps logical endpoint names to absolute URLs. The table is built
// once at construction and never mutated afterwards; tests inject their own
// table pointing at a fake backend.
type Endpoints struct {
	urls map[string]string
}

// DefaultEndpoints builds the endpoint table for the configured base URLs.
func DefaultEndpoints(cfg *Config) *Endpoints {
	mb, aamz, votobo, biaoju := cfg.PrimaryBaseURL, cfg.AuxBaseURL, cfg.VotoboBaseURL, cfg.BiaojuBaseURL
	return &Endpoints{urls: map[string]string{
		EndpointLogin:        mb + "/index.php?mod=main.doLogin",
		EndpointIndex:        mb + "/",
		EndpointAuxAPI:       aamz + "/index.php",
		EndpointStockList:    aamz + "/index.php?mod=stock.getStockList",
		EndpointUploadStock:  aamz + "/index.php?mod=uploadfile.doUploadFileForStock",
		EndpointFreightCalc:  mb + "/index.php?mod=order.freightcalculated",
		EndpointUploadImage:  "https://publish.mabangerp.com/index.php?m=image&a=doUpload",
		EndpointOrderOpLog:   aamz + "/index.php?mod=order.getOrderLog",
		EndpointOrderSearch:  mb + "/index.php?mod=order.orderSearch",
		EndpointAutoMerge:    mb + "/index.php?mod=order.doAutomationMergeOrder",
		EndpointImportOrders: mb + "/index.php?mod=order.doImportByTemplateData",
		EndpointExportOrders: aamz + "/index.php?mod=order.doExportByTemplateData",
		EndpointImportStatus: aamz + "/index.php?mod=importSystem.getRunningResult",
		EndpointShipMatch:    mb + "/index.php?mod=ordera.addLogisticsSearch",
		EndpointOrderDecl:    aamz + "/index.php?mod=order.getOrderDeclarationInfo",
		EndpointVotoboLogin:  votobo + "/api/index.php?mod=vmain.mbLogin",
		EndpointVotoboCheck:  votobo + "/api/index.php?mod=messageNotice.messageList&type=1",
		EndpointVotoboAPI:    votobo + "/api/index.php",
		EndpointBiaojuCalc:   biaoju + "/index.php?m=customshippingfee&a=doCalculate",
	}}
}

// Resolve returns the URL for a logical endpoint name.
func (e *Endpoints) Resolve(name string) (string, error) {
	u, ok := e.urls[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown endpoint %q", ErrProtocol, name)
	}
	return u, nil
}
