package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	orderHeader       = []string{"id", "created_at", "financial_status", "total_price", "currency"}
	transactionHeader = []string{"id", "order_id", "kind", "status", "amount", "currency", "gateway", "created_at", "processed_at"}
)

// Scenario is one pair of order and transaction exports
type Scenario struct {
	Name         string
	Description  string
	Orders       [][]string
	Transactions [][]string
}

// ScenarioGenerator writes scenario exports for the file source
type ScenarioGenerator struct {
	Seed      int64
	OutputDir string
}

func main() {
	var (
		outputDir = flag.String("output-dir", "../scenarios", "Output directory for scenario files")
		seed      = flag.Int64("seed", 42, "Random seed for the volume scenario")
		scenario  = flag.String("scenario", "all", "Scenario to generate: all, pending_payment, duplicate_charge, cross_day, volume")
		count     = flag.Int("count", 500, "Number of orders in the volume scenario")
	)
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &ScenarioGenerator{Seed: *seed, OutputDir: *outputDir}

	scenarios := map[string]func() Scenario{
		"pending_payment":  PendingPaymentScenario,
		"duplicate_charge": DuplicateChargeScenario,
		"cross_day":        CrossDayScenario,
		"volume":           func() Scenario { return generator.VolumeScenario(*count) },
	}

	var names []string
	if *scenario == "all" {
		for name := range scenarios {
			names = append(names, name)
		}
		sort.Strings(names)
	} else {
		if _, ok := scenarios[*scenario]; !ok {
			log.Fatalf("Unknown scenario: %s", *scenario)
		}
		names = []string{*scenario}
	}

	for _, name := range names {
		s := scenarios[name]()
		if err := generator.Write(s); err != nil {
			log.Fatalf("Failed to write %s: %v", name, err)
		}
		fmt.Printf("%-18s %s\n", s.Name, s.Description)
	}
	fmt.Printf("Generated scenarios in %s\n", *outputDir)
}

// PendingPaymentScenario has one settled and one pending sale on 2025-07-29
func PendingPaymentScenario() Scenario {
	return Scenario{
		Name:        "pending_payment",
		Description: "one sale still pending at cut-off",
		Orders: [][]string{
			{"1001", "2025-07-29T10:00:00Z", "paid", "50.00", "USD"},
			{"1002", "2025-07-29T11:00:00Z", "pending", "30.00", "USD"},
		},
		Transactions: [][]string{
			{"t1", "1001", "sale", "success", "50.00", "USD", "shopify_payments", "2025-07-29T10:05:00Z", "2025-07-29T10:05:00Z"},
			{"t2", "1002", "sale", "pending", "30.00", "USD", "shopify_payments", "2025-07-29T11:05:00Z", "2025-07-29T11:05:00Z"},
		},
	}
}

// DuplicateChargeScenario has two equal card charges three minutes apart
func DuplicateChargeScenario() Scenario {
	return Scenario{
		Name:        "duplicate_charge",
		Description: "same amount and gateway charged twice within minutes",
		Orders: [][]string{
			{"2001", "2025-07-29T09:58:00Z", "paid", "49.99", "USD"},
			{"2002", "2025-07-29T10:02:00Z", "paid", "49.99", "USD"},
		},
		Transactions: [][]string{
			{"d1", "2001", "sale", "success", "49.99", "USD", "shopify_payments", "2025-07-29T10:00:00Z", "2025-07-29T10:00:00Z"},
			{"d2", "2002", "sale", "success", "49.99", "USD", "shopify_payments", "2025-07-29T10:03:00Z", "2025-07-29T10:03:00Z"},
		},
	}
}

// CrossDayScenario has an order created before midnight and paid after it
func CrossDayScenario() Scenario {
	return Scenario{
		Name:        "cross_day",
		Description: "order created on the 28th, payment processed on the 29th",
		Orders: [][]string{
			{"3001", "2025-07-28T23:30:00Z", "paid", "80.00", "USD"},
			{"3002", "2025-07-29T12:00:00Z", "paid", "20.00", "USD"},
		},
		Transactions: [][]string{
			{"c1", "3001", "sale", "success", "80.00", "USD", "shopify_payments", "2025-07-29T00:10:00Z", "2025-07-29T00:10:00Z"},
			{"c2", "3002", "sale", "success", "20.00", "USD", "paypal", "2025-07-29T12:05:00Z", "2025-07-29T12:05:00Z"},
		},
	}
}

// VolumeScenario spreads count paid orders over 2025-07-29 with one sale each.
// About one in twenty sales is left pending and one in fifty goes through PayPal.
func (sg *ScenarioGenerator) VolumeScenario(count int) Scenario {
	rng := rand.New(rand.NewSource(sg.Seed))
	day := time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)

	s := Scenario{
		Name:        "volume",
		Description: fmt.Sprintf("%d orders with random amounts (seed %d)", count, sg.Seed),
	}
	for i := 0; i < count; i++ {
		created := day.Add(time.Duration(rng.Int63n(int64(24 * time.Hour))))
		processed := created.Add(time.Duration(rng.Intn(600)) * time.Second)
		amount := decimal.NewFromInt(int64(500 + rng.Intn(60000))).Shift(-2)

		status, gateway := "success", "shopify_payments"
		if rng.Intn(20) == 0 {
			status = "pending"
		}
		if rng.Intn(50) == 0 {
			gateway = "paypal"
		}

		orderID := fmt.Sprintf("%d", 10000+i)
		s.Orders = append(s.Orders, []string{
			orderID, created.Format(time.RFC3339), "paid", amount.StringFixed(2), "USD",
		})
		s.Transactions = append(s.Transactions, []string{
			fmt.Sprintf("v%05d", i), orderID, "sale", status, amount.StringFixed(2), "USD", gateway,
			processed.Format(time.RFC3339), processed.Format(time.RFC3339),
		})
	}
	return s
}

// Write stores the scenario as <name>_orders.csv and <name>_transactions.csv
func (sg *ScenarioGenerator) Write(s Scenario) error {
	if err := sg.writeCSV(s.Name+"_orders.csv", orderHeader, s.Orders); err != nil {
		return err
	}
	return sg.writeCSV(s.Name+"_transactions.csv", transactionHeader, s.Transactions)
}

func (sg *ScenarioGenerator) writeCSV(filename string, header []string, rows [][]string) error {
	file, err := os.Create(filepath.Join(sg.OutputDir, filename))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return file.Close()
}
