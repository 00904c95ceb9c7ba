package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/username/kryptofolio/src/config"
	"github.com/username/kryptofolio/src/database"
	"github.com/username/kryptofolio/src/gateway"
	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/pricing"
	"github.com/username/kryptofolio/src/processors"
	"github.com/username/kryptofolio/src/services"
	"github.com/username/kryptofolio/src/store"
)

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("kryptofolio starting", "taxYear", config.Cfg.TaxYear)

	database.InitDB(config.Cfg.DatabasePath)

	client, err := gateway.NewClient(gateway.Config{
		APIKey:     config.Cfg.KrakenAPIKey,
		APISecret:  config.Cfg.KrakenAPISecret,
		BaseURL:    config.Cfg.KrakenAPIURL,
		RateLimit:  config.Cfg.APIRateLimit,
		RateBurst:  config.Cfg.APIRateBurst,
		Timeout:    config.Cfg.HTTPTimeout,
		MaxRetries: config.Cfg.MaxRetries,
	})
	if err != nil {
		logger.L.Error("failed to initialise exchange client", "error", err)
		os.Exit(1)
	}

	yahoo, err := pricing.NewYahooProvider(config.Cfg.HTTPTimeout)
	if err != nil {
		logger.L.Error("failed to initialise price provider", "error", err)
		os.Exit(1)
	}
	resolver := pricing.NewResolver([]pricing.Provider{
		pricing.NewKrakenProvider(client),
		pricing.NewCoinGeckoProvider(nil, config.Cfg.CoinGeckoDayWindow),
		yahoo,
	}, config.Cfg.PriceCacheExpiry)

	history := services.NewHistoryService(client, store.New(database.DB), config.Cfg.HistoryFloor)
	reporter := services.NewReportService(history, processors.NewNormalizer(resolver), config.Cfg.HistoryFloor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := reporter.GenerateReport(ctx, config.Cfg.TaxYear)
	if err != nil {
		logger.L.Error("report generation failed", "error", err)
		os.Exit(1)
	}

	printReport(report)
}

func printReport(report *services.TaxReport) {
	s := report.Summary
	fmt.Printf("Tax report %d (run %s)\n\n", report.Year, report.RunID)

	fmt.Printf("Private sales (§23 EStG)\n")
	fmt.Printf("  Gains:       %12s EUR\n", s.TotalPrivateSaleGains.StringFixed(2))
	fmt.Printf("  Losses:      %12s EUR\n", s.TotalPrivateSaleLosses.StringFixed(2))
	fmt.Printf("  Net:         %12s EUR (Freigrenze %s EUR)\n", s.NetPrivateSales.StringFixed(2), s.FreigrenzePrivateSales.StringFixed(0))
	fmt.Printf("  Taxable:     %v\n\n", s.PrivateSalesTaxable)

	fmt.Printf("Other income (§22 Nr. 3 EStG)\n")
	fmt.Printf("  Total:       %12s EUR (Freigrenze %s EUR)\n", s.TotalOtherIncome.StringFixed(2), s.FreigrenzeOtherIncome.StringFixed(0))
	fmt.Printf("  Taxable:     %v\n\n", s.OtherIncomeTaxable)

	fmt.Printf("Entries: %d, unresolved disposals: %d, skipped records: %d\n",
		len(report.Entries), len(report.Unresolved), len(report.Skipped))

	if len(s.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range s.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
}
