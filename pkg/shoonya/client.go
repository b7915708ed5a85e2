// Package shoonya is a compact client for the Finvasia Shoonya (Noren)
// trading API: TOTP login, order placement/cancellation, GTT rules and the
// order book. It mirrors the request/response handling of the original
// Python session object while staying a plain net/http client.
//
// Every request posts a form body of "jData=<json>&jKey=<session token>";
// responses carry {"stat":"Ok"} on success or {"stat":"Not_Ok","emsg":...}.
package shoonya

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

const defaultBaseURL = "https://api.shoonya.com/NorenWClientTP"

var routes = map[string]string{
	"login":        "/QuickAuth",
	"logout":       "/Logout",
	"order.place":  "/PlaceOrder",
	"order.cancel": "/CancelOrder",
	"order.book":   "/OrderBook",
	"trade.book":   "/TradeBook",
	"positions":    "/PositionBook",
	"gtt.place":    "/PlaceGTTOrder",
	"gtt.cancel":   "/CancelGTTOrder",
	"quote":        "/GetQuotes",
}

// Config holds broker credentials. TOTPSecret is the base32 seed; the
// 6-digit code is generated at login time, never stored.
type Config struct {
	UserID     string
	Password   string
	APIKey     string
	VendorCode string
	IMEI       string
	TOTPSecret string

	BaseURL string        // default: Shoonya production
	Timeout time.Duration // default: 7s
}

// Client is an authenticated Shoonya session.
type Client struct {
	cfg   Config
	base  string
	http  *http.Client
	token string // susertoken from login

	// SessionExpiryHook, if set, is called when the broker rejects the
	// session token; callers typically re-login and retry.
	SessionExpiryHook func()
}

// New creates an unauthenticated client; call Login before trading calls.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 7 * time.Second
	}
	if cfg.IMEI == "" {
		cfg.IMEI = "abc1234"
	}
	return &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

// apiError is a broker-side rejection ({"stat":"Not_Ok"}).
type apiError struct {
	Route string
	Emsg  string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("shoonya: %s: %s", e.Route, e.Emsg)
}

func sha256hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Login authenticates with password + TOTP and stores the session token.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("shoonya: totp: %w", err)
	}

	payload := map[string]string{
		"source":     "API",
		"apkversion": "1.0.0",
		"uid":        c.cfg.UserID,
		"pwd":        sha256hex(c.cfg.Password),
		"factor2":    code,
		"vc":         c.cfg.VendorCode,
		"appkey":     sha256hex(c.cfg.UserID + "|" + c.cfg.APIKey),
		"imei":       c.cfg.IMEI,
	}

	var resp struct {
		Stat       string `json:"stat"`
		SUserToken string `json:"susertoken"`
		Emsg       string `json:"emsg"`
	}
	if err := c.post(ctx, "login", payload, "", &resp); err != nil {
		return err
	}
	if resp.Stat != "Ok" || resp.SUserToken == "" {
		return &apiError{Route: "login", Emsg: resp.Emsg}
	}
	c.token = resp.SUserToken
	return nil
}

// OrderRequest describes a regular order. Quantity is in units (already
// multiplied by lot size). Price is in paise; zero with PriceType MKT.
type OrderRequest struct {
	Exchange      string // NSE, NFO
	TradingSymbol string
	BuyOrSell     string // "B" or "S"
	Quantity      int64
	ProductType   string // I, M, C
	PriceType     string // MKT, LMT, SL-MKT
	Price         int64  // paise
	Remarks       string
}

// PlaceOrder places an order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	payload := map[string]string{
		"uid":      c.cfg.UserID,
		"actid":    c.cfg.UserID,
		"exch":     req.Exchange,
		"tsym":     req.TradingSymbol,
		"qty":      strconv.FormatInt(req.Quantity, 10),
		"dscqty":   "0",
		"prd":      req.ProductType,
		"trantype": req.BuyOrSell,
		"prctyp":   req.PriceType,
		"prc":      paiseToRupees(req.Price),
		"ret":      "DAY",
		"remarks":  req.Remarks,
	}

	var resp struct {
		Stat    string `json:"stat"`
		OrderNo string `json:"norenordno"`
		Emsg    string `json:"emsg"`
	}
	if err := c.post(ctx, "order.place", payload, c.token, &resp); err != nil {
		return "", err
	}
	if resp.Stat != "Ok" || resp.OrderNo == "" {
		return "", &apiError{Route: "order.place", Emsg: resp.Emsg}
	}
	return resp.OrderNo, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	payload := map[string]string{
		"uid":        c.cfg.UserID,
		"norenordno": orderID,
	}
	var resp struct {
		Stat string `json:"stat"`
		Emsg string `json:"emsg"`
	}
	if err := c.post(ctx, "order.cancel", payload, c.token, &resp); err != nil {
		return err
	}
	if resp.Stat != "Ok" {
		return &apiError{Route: "order.cancel", Emsg: resp.Emsg}
	}
	return nil
}

// GTTRequest describes a good-till-triggered rule.
type GTTRequest struct {
	Exchange      string
	TradingSymbol string
	BuyOrSell     string
	Quantity      int64
	ProductType   string
	AlertType     string // LTP_ABOVE, LTP_BELOW
	TriggerPrice  int64  // paise
	Remarks       string
}

// PlaceGTT rests a GTT rule at the broker and returns the rule id.
func (c *Client) PlaceGTT(ctx context.Context, req GTTRequest) (string, error) {
	payload := map[string]string{
		"uid":      c.cfg.UserID,
		"actid":    c.cfg.UserID,
		"exch":     req.Exchange,
		"tsym":     req.TradingSymbol,
		"ai_t":     req.AlertType,
		"validity": "GTT",
		"d":        paiseToRupees(req.TriggerPrice),
		"trantype": req.BuyOrSell,
		"prctyp":   "MKT",
		"prd":      req.ProductType,
		"qty":      strconv.FormatInt(req.Quantity, 10),
		"prc":      "0",
		"remarks":  req.Remarks,
	}
	var resp struct {
		Stat   string `json:"stat"`
		RuleID string `json:"al_id"`
		Emsg   string `json:"emsg"`
	}
	if err := c.post(ctx, "gtt.place", payload, c.token, &resp); err != nil {
		return "", err
	}
	if resp.RuleID == "" {
		return "", &apiError{Route: "gtt.place", Emsg: resp.Emsg}
	}
	return resp.RuleID, nil
}

// BookEntry is one row of the broker order book.
type BookEntry struct {
	OrderNo       string `json:"norenordno"`
	TradingSymbol string `json:"tsym"`
	Status        string `json:"status"`
	TranType      string `json:"trantype"`
	Quantity      string `json:"qty"`
	AvgPrice      string `json:"avgprc"`
}

// OrderBook fetches the day's orders.
func (c *Client) OrderBook(ctx context.Context) ([]BookEntry, error) {
	payload := map[string]string{"uid": c.cfg.UserID}

	body, err := c.postRaw(ctx, "order.book", payload, c.token)
	if err != nil {
		return nil, err
	}
	// The book endpoint returns a bare JSON array on success and an
	// object {"stat":"Not_Ok"} when empty or rejected.
	if strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		var e struct {
			Emsg string `json:"emsg"`
		}
		json.Unmarshal(body, &e)
		return nil, &apiError{Route: "order.book", Emsg: e.Emsg}
	}
	var entries []BookEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("shoonya: order book decode: %w", err)
	}
	return entries, nil
}

func (c *Client) post(ctx context.Context, route string, payload map[string]string, jKey string, out any) error {
	body, err := c.postRaw(ctx, route, payload, jKey)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("shoonya: %s decode: %w", route, err)
	}
	return nil
}

func (c *Client) postRaw(ctx context.Context, route string, payload map[string]string, jKey string) ([]byte, error) {
	jData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("shoonya: %s encode: %w", route, err)
	}

	form := "jData=" + url.QueryEscape(string(jData))
	if jKey != "" {
		form += "&jKey=" + url.QueryEscape(jKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+routes[route], strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("shoonya: %s request: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shoonya: %s: %w", route, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("shoonya: %s read: %w", route, err)
	}
	if resp.StatusCode == http.StatusForbidden && c.SessionExpiryHook != nil {
		c.SessionExpiryHook()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shoonya: %s: http %d: %s", route, resp.StatusCode, truncate(body))
	}
	return body, nil
}

// paiseToRupees formats paise as a decimal rupee string for the wire.
func paiseToRupees(p int64) string {
	return fmt.Sprintf("%d.%02d", p/100, p%100)
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
