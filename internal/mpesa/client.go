package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	SandboxURL    = "https://sandbox.safaricom.co.ke"
	ProductionURL = "https://api.safaricom.co.ke"

	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	stkPath   = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	// tokenExpiryBuffer retires a token this long before the provider does.
	tokenExpiryBuffer = 60 * time.Second
	maxBodyBytes      = 1 << 20
)

var eat = time.FixedZone("EAT", 3*60*60)

// BaseURLFor maps MPESA_ENVIRONMENT onto the Daraja host.
func BaseURLFor(environment string) string {
	if strings.EqualFold(strings.TrimSpace(environment), "production") {
		return ProductionURL
	}
	return SandboxURL
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	HTTPClient     *http.Client
	Now            func() time.Time
}

// Client talks to the Daraja API. The access token is cached per Client and
// does not survive a restart; concurrent refreshes share one request.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	h := cfg.HTTPClient
	if h == nil {
		h = &http.Client{Timeout: 30 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{cfg: cfg, http: h, now: now}
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	// The refresh is shared, so one caller going away must not fail the rest.
	v, err, _ := c.refresh.Do("token", func() (any, error) {
		return c.fetchToken(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", APIError{Status: resp.StatusCode, Message: "failed to get access token"}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("mpesa token decode: %w", err)
	}
	if tr.AccessToken == "" {
		return "", APIError{Status: resp.StatusCode, Message: "empty access token"}
	}
	expiresIn, err := strconv.Atoi(tr.ExpiresIn.String())
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(expiresIn)*time.Second - tokenExpiryBuffer)
	c.mu.Unlock()
	log.Printf("[MPESA] access token refreshed expires_in=%ds", expiresIn)
	return tr.AccessToken, nil
}

func (c *Client) invalidateToken(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}

type reply struct {
	status int
	header http.Header
	body   []byte
}

// postJSON sends an authorized request and retries once with a fresh token
// when the provider answers 401.
func (c *Client) postJSON(ctx context.Context, path string, payload any) (reply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return reply{}, err
	}
	r, token, err := c.send(ctx, path, body)
	if err != nil {
		return reply{}, err
	}
	if r.status == http.StatusUnauthorized {
		c.invalidateToken(token)
		r, _, err = c.send(ctx, path, body)
		if err != nil {
			return reply{}, err
		}
	}
	return r, nil
}

func (c *Client) send(ctx context.Context, path string, body []byte) (reply, string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return reply{}, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return reply{}, token, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return reply{}, token, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return reply{}, token, err
	}
	return reply{status: resp.StatusCode, header: resp.Header, body: data}, token, nil
}

func (c *Client) timestamp() string {
	return c.now().In(eat).Format("20060102150405")
}

func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

type STKRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
}

type STKResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// STKPush prompts the payer's phone. On success the CheckoutRequestID
// identifies the transaction in callbacks and queries.
func (c *Client) STKPush(ctx context.Context, in STKRequest) (STKResponse, error) {
	phone := FormatMSISDN(in.Phone)
	if phone == "" {
		return STKResponse{}, errors.New("mpesa: phone number required")
	}
	if in.Amount <= 0 {
		return STKResponse{}, errors.New("mpesa: amount must be positive")
	}
	ts := c.timestamp()
	r, err := c.postJSON(ctx, stkPath, stkPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            in.Amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  in.AccountReference,
		TransactionDesc:   in.Description,
	})
	if err != nil {
		return STKResponse{}, err
	}
	if r.status == http.StatusTooManyRequests {
		return STKResponse{}, RateLimitError{RetryAfter: retryAfter(r.header)}
	}
	if r.status != http.StatusOK {
		return STKResponse{}, apiError(r)
	}

	var out STKResponse
	if err := json.Unmarshal(r.body, &out); err != nil {
		return STKResponse{}, fmt.Errorf("mpesa stk decode: %w", err)
	}
	if out.ResponseCode != "0" {
		msg := out.ResponseDescription
		if msg == "" {
			msg = "STK push failed"
		}
		return STKResponse{}, APIError{Status: r.status, Code: out.ResponseCode, Message: msg}
	}
	return out, nil
}

// QueryResult is the provider's view of one STK transaction. Pending is set
// while the payer has not yet answered the prompt.
type QueryResult struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Pending           bool
}

type queryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryResponse struct {
	ResponseCode        string     `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          ResultCode `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
}

func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	ts := c.timestamp()
	r, err := c.postJSON(ctx, queryPath, queryPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	})
	if err != nil {
		return QueryResult{}, err
	}
	if r.status == http.StatusTooManyRequests {
		return QueryResult{}, RateLimitError{RetryAfter: retryAfter(r.header)}
	}
	if r.status != http.StatusOK {
		var eb errorBody
		if json.Unmarshal(r.body, &eb) == nil && eb.ErrorCode == errorCodeStillProcessing {
			return QueryResult{CheckoutRequestID: checkoutRequestID, Pending: true, ResultDesc: eb.ErrorMessage}, nil
		}
		return QueryResult{}, apiError(r)
	}

	var qr queryResponse
	if err := json.Unmarshal(r.body, &qr); err != nil {
		return QueryResult{}, fmt.Errorf("mpesa query decode: %w", err)
	}
	out := QueryResult{CheckoutRequestID: checkoutRequestID, ResultDesc: qr.ResultDesc}
	if !qr.ResultCode.Valid || qr.ResultCode.Code == ResultStillProcessing {
		out.Pending = true
		return out, nil
	}
	out.ResultCode = qr.ResultCode.Code
	return out, nil
}

func apiError(r reply) APIError {
	var eb errorBody
	if err := json.Unmarshal(r.body, &eb); err == nil && (eb.ErrorCode != "" || eb.ErrorMessage != "") {
		return APIError{Status: r.status, Code: eb.ErrorCode, Message: eb.ErrorMessage}
	}
	return APIError{Status: r.status, Message: http.StatusText(r.status)}
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
