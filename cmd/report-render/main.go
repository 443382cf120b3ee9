package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/mmdatafocus/fieldreport_backend/reporting"
)

// report-render writes one report's PDF (and optionally its temperature log) to local files.
func main() {
	reportID := flag.String("report-id", "", "Report id (uuid) to render.")
	out := flag.String("out", "", "Output PDF path. Defaults to report-<id>.pdf.")
	xlsx := flag.String("temperatures", "", "Optional: also write the temperature log to this .xlsx path.")
	flag.Parse()

	id := strings.TrimSpace(*reportID)
	if id == "" {
		fmt.Fprintln(os.Stderr, "-report-id is required")
		os.Exit(2)
	}
	if *out == "" {
		*out = "report-" + id + ".pdf"
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	settings := config.LoadSettings()
	equipment := models.NewEquipmentDirectory(db, settings.EquipmentCacheTTL)
	renderer := reporting.NewPDFRenderer(equipment)
	// Read-only: no object storage is needed to load the report.
	store := models.NewReportStore(db, nil, renderer)

	report, err := store.GetReport(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load report %s: %v\n", id, err)
		os.Exit(1)
	}
	data, _, err := renderer.Render(ctx, report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render report %s: %v\n", id, err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("report %s (%s, %s) -> %s (%d bytes)\n", id, report.Kind, report.LifecycleState, *out, len(data))

	if path := strings.TrimSpace(*xlsx); path != "" {
		f, err := os.Create(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", path, err)
			os.Exit(1)
		}
		defer f.Close()
		if err := reporting.NewTemperatureLogExporter(equipment).Export(ctx, report, f); err != nil {
			fmt.Fprintf(os.Stderr, "export temperatures: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("temperature log (%d readings) -> %s\n", len(report.TemperatureReadings), path)
	}
}
