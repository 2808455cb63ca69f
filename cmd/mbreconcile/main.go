package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/erp/mabang/internal/infrastructure/config"
	"github.com/erp/mabang/internal/infrastructure/logger"
	"github.com/erp/mabang/internal/mabang"
	"github.com/erp/mabang/internal/order"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: mbreconcile <platform-order-id>... | mbreconcile upload <file.xlsx>")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientCfg := cfg.ClientConfig()
	client, err := mabang.New(&clientCfg, log)
	if err != nil {
		log.Fatal("Failed to build client", zap.Error(err))
	}

	if args[0] == "upload" {
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: mbreconcile upload <file.xlsx>")
			os.Exit(2)
		}
		upload(ctx, client, cfg, log, args[1])
		return
	}

	exporter := order.NewExporter(client, log)
	resolver := order.NewResolver(client, log)
	reconciler := order.NewReconciler(exporter, resolver, nil, log)

	lines, err := reconciler.Reconcile(ctx, args)
	if err != nil {
		log.Fatal("Reconciliation failed", zap.Error(err))
	}
	for _, line := range lines {
		fmt.Printf("%s\t%s\t%d\t%s\t%s\n",
			line.OrderID, line.SKU, line.Quantity, line.CarrierCode, line.TrackingNo)
	}
}

// upload pushes an order-import spreadsheet using the configured template
// and shop, then reports its job status.
func upload(ctx context.Context, client *mabang.Client, cfg *config.Config, log *zap.Logger, path string) {
	if cfg.Templates.OrderTemplateID == "" || cfg.Templates.ShopID == "" {
		log.Fatal("templates.order_template_id and templates.shop_id must be configured for uploads")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatal("Failed to read order file", zap.Error(err))
	}
	uploader := order.NewUploader(client, log)
	filename := filepath.Base(path)
	if err := uploader.UploadOrderFile(ctx, filename, content,
		cfg.Templates.OrderTemplateID, cfg.Templates.ShopID); err != nil {
		log.Fatal("Upload failed", zap.Error(err))
	}
	status, err := uploader.Status(ctx, filename)
	if err != nil {
		log.Fatal("Failed to fetch import status", zap.Error(err))
	}
	fmt.Printf("%s\t%s\ttotal=%d succeeded=%d failed=%d\n",
		status.Filename, status.State, status.Total, status.Succeeded, status.Failed)
}
