package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketsync/models"

	"github.com/shopspring/decimal"
)

// VNDirect finfo endpoints
const (
	DefaultVNDirectBaseURL = "https://api-finfo.vndirect.com.vn/v4"
	vndirectStockQuery     = "type:stock~status:listed~floor:HOSE,HNX,UPCOM"
	vndirectUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// VNDirectStocksResponse represents the stocks listing response
type VNDirectStocksResponse struct {
	Data []VNDirectStock `json:"data"`
}

// VNDirectStock represents one listed stock from VNDirect
type VNDirectStock struct {
	Code         string `json:"code"`
	Type         string `json:"type"`
	Floor        string `json:"floor"`
	Status       string `json:"status"`
	CompanyName  string `json:"companyName"`
	ShortName    string `json:"shortName"`
	IndustryName string `json:"industryName"`
	ListedDate   string `json:"listedDate"`
	DelistedDate string `json:"delistedDate"`
}

// VNDirectPriceResponse represents the stock_prices response
type VNDirectPriceResponse struct {
	Data          []VNDirectPrice `json:"data"`
	CurrentPage   int             `json:"currentPage"`
	Size          int             `json:"size"`
	TotalElements int             `json:"totalElements"`
	TotalPages    int             `json:"totalPages"`
}

// VNDirectPrice represents one daily price row from VNDirect
type VNDirectPrice struct {
	Code      string  `json:"code"`
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	NmVolume  float64 `json:"nmVolume"`
	NmValue   float64 `json:"nmValue"`
	Change    float64 `json:"change"`
	PctChange float64 `json:"pctChange"`
}

// VNDirectClient fetches Vietnamese market data from the VNDirect finfo API
type VNDirectClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*VNDirectClient)(nil)

// NewVNDirectClient creates a new VNDirect client. An empty baseURL uses the
// public endpoint.
func NewVNDirectClient(baseURL string, timeout time.Duration) *VNDirectClient {
	if baseURL == "" {
		baseURL = DefaultVNDirectBaseURL
	}
	return &VNDirectClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchSymbolUniverse fetches every listed stock on HOSE, HNX and UPCOM
func (c *VNDirectClient) FetchSymbolUniverse(ctx context.Context) ([]SymbolInfo, error) {
	q := url.Values{}
	q.Set("q", vndirectStockQuery)
	q.Set("size", "9999")

	var resp VNDirectStocksResponse
	if err := c.get(ctx, "/stocks", q, &resp); err != nil {
		return nil, err
	}

	symbols := make([]SymbolInfo, 0, len(resp.Data))
	for _, s := range resp.Data {
		if s.Code == "" {
			continue
		}
		name := s.CompanyName
		if name == "" {
			name = s.ShortName
		}
		info := SymbolInfo{
			Symbol:     strings.ToUpper(s.Code),
			Name:       name,
			Exchange:   s.Floor,
			Industry:   s.IndustryName,
			IsDelisted: s.DelistedDate != "" || (s.Status != "" && s.Status != "listed"),
		}
		if d, err := time.Parse(time.DateOnly, s.ListedDate); err == nil {
			info.ListingDate = &d
		}
		symbols = append(symbols, info)
	}
	return symbols, nil
}

// FetchDailyBars fetches daily prices of symbol between from and to inclusive
func (c *VNDirectClient) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	q := url.Values{}
	q.Set("sort", "date:desc")
	q.Set("q", fmt.Sprintf("code:%s~date:gte:%s~date:lte:%s",
		symbol, from.Format(time.DateOnly), to.Format(time.DateOnly)))
	q.Set("size", "9999")

	var resp VNDirectPriceResponse
	if err := c.get(ctx, "/stock_prices", q, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(resp.Data))
	for _, p := range resp.Data {
		date, err := time.Parse(time.DateOnly, p.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q for %s: %w", p.Date, symbol, err)
		}
		bars = append(bars, models.PriceBar{
			Symbol:        symbol,
			TradeDate:     models.TradeDate(date),
			Open:          decimal.NewFromFloat(p.Open),
			High:          decimal.NewFromFloat(p.High),
			Low:           decimal.NewFromFloat(p.Low),
			Close:         decimal.NewFromFloat(p.Close),
			Volume:        int64(p.NmVolume),
			Amount:        decimal.NewFromFloat(p.NmValue),
			ChangeAmount:  decimal.NewFromFloat(p.Change),
			ChangePercent: decimal.NewFromFloat(p.PctChange),
		})
	}
	return bars, nil
}

func (c *VNDirectClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", vndirectUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.vndirect.com.vn/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// StatusError is a non-200 provider response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
