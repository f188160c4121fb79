// Package polymarket talks to the venue: Gamma API for market metadata, the
// data API for wallet trade feeds, and the CLOB for order submission.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/polycopy/copybot/pkg/models"
)

const (
	// DefaultGammaURL is the Polymarket Gamma API endpoint for market data.
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	// DefaultClobURL is the Polymarket CLOB API endpoint.
	DefaultClobURL = "https://clob.polymarket.com"
	// DefaultDataAPIURL is the Polymarket data API endpoint for wallet
	// activity.
	DefaultDataAPIURL = "https://data-api.polymarket.com"

	// SlugPrefix addresses the 5-minute BTC up/down market series. The
	// market's 5-minute epoch key is the suffix.
	SlugPrefix = "btc-up-or-down-5m-"
)

// ClientConfig configures the REST client.
type ClientConfig struct {
	GammaURL   string
	ClobURL    string
	DataAPIURL string
	// RateLimit is requests per second across all endpoints.
	RateLimit float64
	// Auth is required for order submission, nil for read-only use.
	Auth *Auth
}

// Client is the venue REST client. All calls go through a shared rate
// limiter.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *logrus.Logger
}

// NewClient creates a venue client.
func NewClient(cfg ClientConfig, log *logrus.Logger) *Client {
	if cfg.GammaURL == "" {
		cfg.GammaURL = DefaultGammaURL
	}
	if cfg.ClobURL == "" {
		cfg.ClobURL = DefaultClobURL
	}
	if cfg.DataAPIURL == "" {
		cfg.DataAPIURL = DefaultDataAPIURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		log:     log,
	}
}

// CanTrade reports whether the client holds order-submission credentials.
func (c *Client) CanTrade() bool {
	return c.cfg.Auth != nil
}

// MarketSlug returns the slug for a 5-minute market epoch key.
func MarketSlug(ts int64) string {
	return SlugPrefix + strconv.FormatInt(ts, 10)
}

// gammaMarket mirrors the Gamma API market shape. The token id and outcome
// arrays arrive as JSON-encoded strings.
type gammaMarket struct {
	ID              string `json:"id"`
	Question        string `json:"question"`
	Slug            string `json:"slug"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"acceptingOrders"`
	Outcomes        string `json:"outcomes"`
	OutcomePrices   string `json:"outcomePrices"`
	ClobTokenIDs    string `json:"clobTokenIds"`
}

// GetMarket resolves the 5-minute market for an epoch key. Returns
// (nil, nil) when the venue has no market for that key.
func (c *Client) GetMarket(ctx context.Context, ts int64) (*models.Market, error) {
	url := fmt.Sprintf("%s/markets?slug=%s", c.cfg.GammaURL, MarketSlug(ts))

	var raw []gammaMarket
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("fetch market: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return convertMarket(ts, raw[0]), nil
}

// convertMarket maps a Gamma record to the domain Market. Outcome names are
// matched by label rather than position so a reordered response cannot flip
// up and down.
func convertMarket(ts int64, g gammaMarket) *models.Market {
	m := &models.Market{
		Timestamp:       ts,
		Slug:            g.Slug,
		Title:           g.Question,
		Closed:          g.Closed,
		AcceptingOrders: g.AcceptingOrders,
	}

	var names, prices, tokens []string
	_ = json.Unmarshal([]byte(g.Outcomes), &names)
	_ = json.Unmarshal([]byte(g.OutcomePrices), &prices)
	_ = json.Unmarshal([]byte(g.ClobTokenIDs), &tokens)

	for i, name := range names {
		var price float64
		if i < len(prices) {
			price, _ = strconv.ParseFloat(prices[i], 64)
		}
		var token string
		if i < len(tokens) {
			token = tokens[i]
		}
		switch strings.ToLower(name) {
		case "up":
			m.UpPrice = price
			m.UpTokenID = token
		case "down":
			m.DownPrice = price
			m.DownTokenID = token
		}
	}

	// A resolved binary market reports the winner at 1 and the loser at 0.
	if g.Closed {
		if m.UpPrice >= 0.5 && m.DownPrice < 0.5 {
			out := models.DirectionUp
			m.Outcome = &out
		} else if m.DownPrice >= 0.5 && m.UpPrice < 0.5 {
			out := models.DirectionDown
			m.Outcome = &out
		}
	}
	return m
}

// WalletTrade is one entry from a wallet's trade feed on the data API.
type WalletTrade struct {
	Wallet     string
	TraderName string
	Side       string
	Outcome    string
	Price      float64
	SizeShares float64
	USDCAmount float64
	Timestamp  int64 // unix seconds
	Slug       string
	Title      string
}

type dataAPITrade struct {
	ProxyWallet string  `json:"proxyWallet"`
	Side        string  `json:"side"`
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	Timestamp   int64   `json:"timestamp"`
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Outcome     string  `json:"outcome"`
	Name        string  `json:"name"`
	Pseudonym   string  `json:"pseudonym"`
}

// RecentTrades fetches a wallet's most recent trades, newest first.
func (c *Client) RecentTrades(ctx context.Context, wallet string, limit int) ([]WalletTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	url := fmt.Sprintf("%s/trades?user=%s&limit=%d", c.cfg.DataAPIURL, wallet, limit)

	var raw []dataAPITrade
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("fetch wallet trades: %w", err)
	}

	trades := make([]WalletTrade, 0, len(raw))
	for _, t := range raw {
		name := t.Name
		if name == "" {
			name = t.Pseudonym
		}
		trades = append(trades, WalletTrade{
			Wallet:     t.ProxyWallet,
			TraderName: name,
			Side:       t.Side,
			Outcome:    t.Outcome,
			Price:      t.Price,
			SizeShares: t.Size,
			USDCAmount: t.Price * t.Size,
			Timestamp:  t.Timestamp,
			Slug:       t.Slug,
			Title:      t.Title,
		})
	}
	return trades, nil
}

type orderRequest struct {
	TokenID string  `json:"token_id"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Side    string  `json:"side"`
}

type orderResponse struct {
	OrderID string `json:"orderID"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

// PostOrder submits a buy order to the CLOB and returns the venue's order
// identifier. Requires credentials.
func (c *Client) PostOrder(ctx context.Context, tokenID string, price, size float64) (string, error) {
	if c.cfg.Auth == nil {
		return "", fmt.Errorf("order submission requires API credentials")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(orderRequest{
		TokenID: tokenID,
		Price:   price,
		Size:    size,
		Side:    models.SideBuy,
	})
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	const path = "/order"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ClobURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.cfg.Auth.AddHeaders(req, http.MethodPost, path, string(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post order: %w", err)
	}
	defer resp.Body.Close()

	var result orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return "", fmt.Errorf("order rejected (%d): %s", resp.StatusCode, result.Error)
		}
		return "", fmt.Errorf("order rejected: status %d", resp.StatusCode)
	}

	orderID := result.OrderID
	if orderID == "" {
		orderID = result.ID
	}
	if orderID == "" {
		orderID = "unknown"
	}
	return orderID, nil
}

// getJSON performs a rate-limited GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
