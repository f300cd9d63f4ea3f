// Command seed writes a sample products CSV for local imports.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
	ucli "github.com/urfave/cli/v2"

	"github.com/odyssey-erp/catalog-sync/internal/products"
)

var (
	colors    = []string{"Red", "Blue", "Black", "أحمر", "أزرق"}
	materials = []string{"Cotton", "Leather", "Steel", "خشب"}
	statuses  = []string{products.StatusSale, products.StatusOut, ""}
	currency  = []string{"SAR", "USD", "EUR", "sar", ""}
)

var header = []string{"id", "name", "sku", "price", "currency", "variations", "quantity", "status"}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Default().Error("seed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newApp() *ucli.App {
	return &ucli.App{
		Name:  "seed",
		Usage: "write a sample products CSV",
		Flags: []ucli.Flag{
			&ucli.StringFlag{Name: "out", Value: "public/CSVFiles/products.csv", Usage: "file to write"},
			&ucli.IntFlag{Name: "rows", Value: 1000, Usage: "number of products"},
			&ucli.Uint64Flag{Name: "seed", Value: 1, Usage: "random seed"},
		},
		Action: func(c *ucli.Context) error {
			out, rows := c.String("out"), c.Int("rows")
			if rows < 0 {
				return fmt.Errorf("rows must be >= 0, got %d", rows)
			}
			if err := writeCSV(out, rows, c.Uint64("seed")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "→ wrote %d products to %s\n", rows, out)
			return nil
		},
	}
}

func writeCSV(path string, rows int, seed uint64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	rng := rand.New(rand.NewPCG(seed, seed))
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 1; i <= rows; i++ {
		if err := w.Write(record(rng, i)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return f.Close()
}

func record(rng *rand.Rand, id int) []string {
	price := decimal.New(int64(rng.IntN(100000)), -2)
	variations := []products.VariationInput{
		{Name: "color", Value: colors[rng.IntN(len(colors))]},
		{Name: "material", Value: materials[rng.IntN(len(materials))]},
	}
	encoded, _ := json.Marshal(variations)
	return []string{
		strconv.Itoa(id),
		fmt.Sprintf("Product %d", id),
		fmt.Sprintf("SKU-%05d", id),
		price.StringFixed(2),
		currency[rng.IntN(len(currency))],
		string(encoded),
		strconv.Itoa(rng.IntN(50)),
		statuses[rng.IntN(len(statuses))],
	}
}
