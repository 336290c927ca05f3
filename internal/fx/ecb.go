package fx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// DefaultECBURL serves the daily euro foreign exchange reference rates.
const DefaultECBURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-daily.xml"

// ECBClient fetches the European Central Bank daily reference rates.
// Every call hits the network; wrap it in Cached.
type ECBClient struct {
	url    string
	client *http.Client
}

func NewECBClient(url string) *ECBClient {
	if url == "" {
		url = DefaultECBURL
	}
	return &ECBClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Rate fetches the current table and derives the cross rate.
func (c *ECBClient) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	table, err := c.Fetch(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return table.Cross(from, to)
}

// Fetch downloads and parses the reference rate table.
func (c *ECBClient) Fetch(ctx context.Context) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Table{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return Table{}, fmt.Errorf("fetch ECB rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Table{}, fmt.Errorf("fetch ECB rates: unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Table{}, fmt.Errorf("read ECB response: %w", err)
	}

	table, err := parseECB(body)
	if err != nil {
		return Table{}, err
	}
	slog.DebugContext(ctx, "Fetched ECB reference rates",
		"as_of", table.AsOf.Format(time.DateOnly),
		"currencies", len(table.Rates))
	return table, nil
}

// parseECB reads the gesmes envelope:
//
//	<Cube><Cube time="2025-01-15"><Cube currency="USD" rate="1.0305"/>...</Cube></Cube>
func parseECB(raw []byte) (Table, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return Table{}, fmt.Errorf("parse ECB XML: %w", err)
	}

	day := doc.FindElement("//Cube[@time]")
	if day == nil {
		return Table{}, fmt.Errorf("no dated rate block found in ECB XML")
	}
	asOf, err := time.Parse(time.DateOnly, day.SelectAttrValue("time", ""))
	if err != nil {
		return Table{}, fmt.Errorf("parse ECB date: %w", err)
	}

	table := Table{Base: "EUR", AsOf: asOf, Rates: map[string]decimal.Decimal{}}
	for _, el := range day.FindElements("./Cube[@currency]") {
		code := el.SelectAttrValue("currency", "")
		rate, err := decimal.NewFromString(el.SelectAttrValue("rate", ""))
		if err != nil {
			return Table{}, fmt.Errorf("parse rate for %s: %w", code, err)
		}
		table.Rates[code] = rate
	}
	if len(table.Rates) == 0 {
		return Table{}, fmt.Errorf("no rates found in ECB XML")
	}
	return table, nil
}
