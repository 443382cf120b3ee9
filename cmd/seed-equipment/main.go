package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/shopspring/decimal"
)

// parseEquipment reads "id:min:max" (Celsius). Either bound may be empty to leave the band unset.
func parseEquipment(arg string) (*models.Equipment, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%q: want id:min:max", arg)
	}
	id := strings.TrimSpace(parts[0])
	if id == "" {
		return nil, fmt.Errorf("%q: empty equipment id", arg)
	}
	e := &models.Equipment{ID: id, Name: id}
	bounds := []*decimal.NullDecimal{&e.MinCelsius, &e.MaxCelsius}
	for i, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: bad bound %q: %w", arg, raw, err)
		}
		*bounds[i] = decimal.NewNullDecimal(d)
	}
	if e.MinCelsius.Valid && e.MaxCelsius.Valid && e.MinCelsius.Decimal.GreaterThan(e.MaxCelsius.Decimal) {
		return nil, fmt.Errorf("%q: min is above max", arg)
	}
	return e, nil
}

func main() {
	name := flag.String("name", "", "Optional display name, applied to every equipment given.")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: seed-equipment [-name NAME] id:min:max [id:min:max ...]")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	equipment := make([]*models.Equipment, 0, flag.NArg())
	for _, arg := range flag.Args() {
		e, err := parseEquipment(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		if n := strings.TrimSpace(*name); n != "" {
			e.Name = n
		}
		equipment = append(equipment, e)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		// cached bands must be dropped, or lookups keep the old band until the TTL runs out
		config.ConnectRedisWithRetry()
	}

	failed := 0
	for _, e := range equipment {
		if err := models.UpsertEquipment(ctx, db, e); err != nil {
			fmt.Fprintf(os.Stderr, "equipment %s: %v\n", e.ID, err)
			failed++
			continue
		}
		band := "no band"
		if b := e.Band(); b != nil {
			band = fmt.Sprintf("[%s, %s] C", b.Min, b.Max)
		}
		fmt.Printf("equipment %s: %s\n", e.ID, band)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
