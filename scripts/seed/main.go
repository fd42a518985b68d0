package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

const seedActor = 1

func main() {
	year := flag.Int("year", time.Now().Year(), "fiscal year to create periods for")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()

	fmt.Println("→ Seeding chart of accounts...")
	if err := seedAccounts(ctx, rt.Services.Accounts); err != nil {
		log.Fatalf("seed accounts: %v", err)
	}
	fmt.Println("→ Seeding account mappings...")
	if err := seedMappings(ctx, rt.Services.Mappings); err != nil {
		log.Fatalf("seed mappings: %v", err)
	}
	fmt.Println("→ Seeding fiscal periods...")
	if err := seedPeriods(ctx, rt.Services.Periods, *year); err != nil {
		log.Fatalf("seed periods: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedAccounts(ctx context.Context, svc *accounts.Service) error {
	chart := []accounts.CreateAccountInput{
		{Code: "1000", Name: "Cash and equivalents", Type: accounts.AccountTypeAsset},
		{Code: "1200", Name: "Student receivables", Type: accounts.AccountTypeAsset, IsControl: true, ControlOwner: shared.OwnerAR},
		{Code: "2100", Name: "Vendor payables", Type: accounts.AccountTypeLiability, IsControl: true, ControlOwner: shared.OwnerAP},
		{Code: "3000", Name: "Net assets", Type: accounts.AccountTypeEquity},
		{Code: "4000", Name: "Tuition and fees", Type: accounts.AccountTypeIncome},
		{Code: "5000", Name: "Supplies", Type: accounts.AccountTypeExpense},
		{Code: "5100", Name: "Facilities", Type: accounts.AccountTypeExpense},
	}
	for _, in := range chart {
		in.ActorID = seedActor
		_, err := svc.CreateAccount(ctx, in)
		if errors.Is(err, shared.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return fmt.Errorf("account %s: %w", in.Code, err)
		}
	}
	return nil
}

func seedMappings(ctx context.Context, svc *mappings.Service) error {
	for _, m := range []struct{ module, key, code string }{
		{mappings.ModuleAR, mappings.KeyARControl, "1200"},
		{mappings.ModuleAR, mappings.KeyARCash, "1000"},
		{mappings.ModuleAR, mappings.KeyARIncome, "4000"},
		{mappings.ModuleAP, mappings.KeyAPControl, "2100"},
		{mappings.ModuleAP, mappings.KeyAPCash, "1000"},
		{mappings.ModuleAP, mappings.KeyAPExpense, "5000"},
	} {
		if _, err := svc.SetMapping(ctx, m.module, m.key, m.code, seedActor); err != nil {
			return fmt.Errorf("mapping %s/%s: %w", m.module, m.key, err)
		}
	}
	return nil
}

// seedPeriods creates Spring (Jan-Apr), Summer (May-Aug) and Fall (Sep-Dec)
// periods, skipping any whose name already exists.
func seedPeriods(ctx context.Context, svc *periods.Service, year int) error {
	existing, err := svc.ListPeriods(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, p := range existing {
		names[p.Name] = true
	}
	for _, term := range []struct {
		name       string
		start, end time.Month
	}{
		{"Spring", time.January, time.April},
		{"Summer", time.May, time.August},
		{"Fall", time.September, time.December},
	} {
		name := fmt.Sprintf("%s-%d", term.name, year)
		if names[name] {
			continue
		}
		start := time.Date(year, term.start, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(year, term.end+1, 0, 0, 0, 0, 0, time.UTC)
		if _, err := svc.CreatePeriod(ctx, periods.CreateInput{Name: name, StartDate: start, EndDate: end, ActorID: seedActor}); err != nil {
			return fmt.Errorf("period %s: %w", name, err)
		}
	}
	return nil
}
