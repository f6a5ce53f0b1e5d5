package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitName        = "bybit"
	bybitBaseURL     = "https://api.bybit.com"
	bybitRecvWindow  = "5000"
	bybitMaxBodySize = 1 << 20
)

// Коды ответа Bybit v5, влияющие на классификацию ошибок
const (
	bybitRetOK                   = 0
	bybitRetServerTimeout        = 10000
	bybitRetRateLimit            = 10006
	bybitRetIPRateLimit          = 10018
	bybitRetServerError          = 10016
	bybitRetInsufficientBalance  = 110007
	bybitRetInsufficientAvail    = 110012
	bybitRetLeverageNotModified  = 110043
	bybitRetDuplicateOrderLinkID = 110072
	bybitRetSymbolNotExist       = 10029
)

// BybitCredentials - API ключи аккаунта
type BybitCredentials struct {
	APIKey    string
	APISecret string
}

// BybitOptions - параметры адаптера (нулевые значения = значения по умолчанию)
type BybitOptions struct {
	BaseURL  string      // https://api.bybit.com или testnet
	Category string      // linear (USDT perpetual) по умолчанию
	Client   *HTTPClient // общий пул соединений
}

// Bybit - REST-адаптер аккаунта Bybit (API v5, unified account).
//
// Ордер - рыночный, orderLinkId = ClientOrderID: повтор того же запроса
// биржа отклоняет кодом 110072, и адаптер возвращает уже созданный ордер.
type Bybit struct {
	creds    BybitCredentials
	baseURL  string
	category string
	client   *HTTPClient
	now      func() time.Time
}

// NewBybit создаёт адаптер аккаунта
func NewBybit(creds BybitCredentials, opts BybitOptions) *Bybit {
	if opts.BaseURL == "" {
		opts.BaseURL = bybitBaseURL
	}
	if opts.Category == "" {
		opts.Category = "linear"
	}
	if opts.Client == nil {
		opts.Client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	return &Bybit{
		creds:    creds,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		category: opts.Category,
		client:   opts.Client,
		now:      time.Now,
	}
}

// Name возвращает имя биржи
func (b *Bybit) Name() string {
	return bybitName
}

// bybitResponse - общая обёртка ответа v5
type bybitResponse struct {
	RetCode int                 `json:"retCode"`
	RetMsg  string              `json:"retMsg"`
	Result  jsoniter.RawMessage `json:"result"`
}

// sign - подпись v5: HMAC_SHA256(timestamp + apiKey + recvWindow + payload)
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.creds.APISecret))
	h.Write([]byte(timestamp + b.creds.APIKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// call выполняет запрос и декодирует result в out.
// GET-параметры идут в query, POST - JSON-телом; подписывается ровно то, что отправлено.
func (b *Bybit) call(ctx context.Context, method, endpoint string, params map[string]string, signed bool, out interface{}) error {
	var payload, reqURL string
	var body io.Reader

	if method == http.MethodGet {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		payload = q.Encode()
		reqURL = b.baseURL + endpoint
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = string(raw)
		reqURL = b.baseURL + endpoint
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return NewPermanentError(bybitName, CodeOrderRejected, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		ts := strconv.FormatInt(b.now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.creds.APIKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(ts, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return b.transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, bybitMaxBodySize))
	if err != nil {
		return b.transportError(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewTransientError(bybitName, KindRateLimit, "http 429")
	case resp.StatusCode >= 500:
		return NewTransientError(bybitName, KindServer, fmt.Sprintf("http %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return NewPermanentError(bybitName, CodeOrderRejected, fmt.Sprintf("http %d", resp.StatusCode))
	}

	var base bybitResponse
	if err := json.Unmarshal(raw, &base); err != nil {
		return NewTransientError(bybitName, KindServer, "malformed response: "+err.Error())
	}
	if base.RetCode != bybitRetOK {
		return bybitError(base.RetCode, base.RetMsg)
	}
	if out == nil || len(base.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(base.Result, out); err != nil {
		return NewTransientError(bybitName, KindServer, "malformed result: "+err.Error())
	}
	return nil
}

// transportError классифицирует сетевую ошибку.
// Отмена контекста вызывающим остаётся как есть и не ретраится.
func (b *Bybit) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ExchangeError{Exchange: bybitName, Kind: KindTimeout, Message: "request timeout", Original: err}
	}
	return &ExchangeError{Exchange: bybitName, Kind: KindServer, Message: "transport error", Original: err}
}

// bybitError сопоставляет retCode с классом ошибки
func bybitError(code int, msg string) *ExchangeError {
	codeStr := strconv.Itoa(code)
	switch code {
	case bybitRetRateLimit, bybitRetIPRateLimit:
		return &ExchangeError{Exchange: bybitName, Kind: KindRateLimit, Code: codeStr, Message: msg}
	case bybitRetServerTimeout, bybitRetServerError:
		return &ExchangeError{Exchange: bybitName, Kind: KindServer, Code: codeStr, Message: msg}
	case bybitRetInsufficientBalance, bybitRetInsufficientAvail:
		return NewPermanentError(bybitName, CodeInsufficientBalance, msg)
	case bybitRetSymbolNotExist:
		return NewPermanentError(bybitName, CodeInvalidSymbol, msg)
	default:
		return &ExchangeError{Exchange: bybitName, Kind: KindPermanent, Code: codeStr, Message: msg}
	}
}

func isBybitCode(err error, code int) bool {
	var exErr *ExchangeError
	return errors.As(err, &exErr) && exErr.Code == strconv.Itoa(code)
}

// ============================================================
// Ордера
// ============================================================

type bybitOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	OrderStatus string `json:"orderStatus"`
	CreatedTime string `json:"createdTime"`
}

// PlaceOrder выставляет плечо и рыночный ордер с SL/TP
func (b *Bybit) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Size <= 0 {
		return nil, NewPermanentError(bybitName, CodeOrderRejected, "order size must be positive")
	}
	if req.ClientOrderID == "" {
		return nil, NewPermanentError(bybitName, CodeOrderRejected, "client order id is required")
	}

	if req.Leverage > 0 {
		if err := b.setLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			return nil, err
		}
	}

	params := map[string]string{
		"category":    b.category,
		"symbol":      req.Symbol,
		"side":        bybitSide(req.Side),
		"orderType":   "Market",
		"qty":         decimal.NewFromFloat(req.Size).String(),
		"orderLinkId": req.ClientOrderID,
	}
	if req.StopLoss > 0 || req.TakeProfit > 0 {
		params["tpslMode"] = "Full"
	}
	if req.StopLoss > 0 {
		params["stopLoss"] = decimal.NewFromFloat(req.StopLoss).String()
	}
	if req.TakeProfit > 0 {
		params["takeProfit"] = decimal.NewFromFloat(req.TakeProfit).String()
	}

	var created struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	err := b.call(ctx, http.MethodPost, "/v5/order/create", params, true, &created)
	if err != nil && !isBybitCode(err, bybitRetDuplicateOrderLinkID) {
		return nil, err
	}

	// ордер создан (сейчас или предыдущей попыткой) - читаем состояние исполнения
	order, qerr := b.queryOrder(ctx, req.Symbol, req.ClientOrderID)
	if qerr != nil {
		if err != nil {
			// дубликат, а прочитать исходный ордер не удалось
			return nil, qerr
		}
		return &Order{
			ID:            created.OrderID,
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Quantity:      req.Size,
			Status:        OrderStatusNew,
			CreatedAt:     b.now(),
		}, nil
	}
	if order.Quantity == 0 {
		order.Quantity = req.Size
	}
	return order, nil
}

func (b *Bybit) setLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	err := b.call(ctx, http.MethodPost, "/v5/position/set-leverage", map[string]string{
		"category":     b.category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, true, nil)
	if isBybitCode(err, bybitRetLeverageNotModified) {
		return nil
	}
	return err
}

// queryOrder читает ордер по orderLinkId
func (b *Bybit) queryOrder(ctx context.Context, symbol, orderLinkID string) (*Order, error) {
	var res struct {
		List []bybitOrder `json:"list"`
	}
	err := b.call(ctx, http.MethodGet, "/v5/order/realtime", map[string]string{
		"category":    b.category,
		"symbol":      symbol,
		"orderLinkId": orderLinkID,
	}, true, &res)
	if err != nil {
		return nil, err
	}
	if len(res.List) == 0 {
		return nil, NewTransientError(bybitName, KindServer, "order "+orderLinkID+" not visible yet")
	}

	o := res.List[0]
	created := b.now()
	if ms, err := strconv.ParseInt(o.CreatedTime, 10, 64); err == nil && ms > 0 {
		created = time.UnixMilli(ms)
	}
	return &Order{
		ID:            o.OrderID,
		ClientOrderID: o.OrderLinkID,
		Symbol:        o.Symbol,
		Side:          strings.ToLower(o.Side),
		Quantity:      parseNumber(o.Qty),
		FilledQty:     parseNumber(o.CumExecQty),
		AvgFillPrice:  parseNumber(o.AvgPrice),
		Status:        bybitOrderStatus(o.OrderStatus),
		CreatedAt:     created,
	}, nil
}

// CancelOrder отменяет ордер по ID биржи
func (b *Bybit) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return b.call(ctx, http.MethodPost, "/v5/order/cancel", map[string]string{
		"category": b.category,
		"symbol":   symbol,
		"orderId":  orderID,
	}, true, nil)
}

// ============================================================
// Аккаунт и рынок
// ============================================================

// GetBalance возвращает USDT баланс unified аккаунта
func (b *Bybit) GetBalance(ctx context.Context) (*Balance, error) {
	var res struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				Equity              string `json:"equity"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	}
	err := b.call(ctx, http.MethodGet, "/v5/account/wallet-balance", map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}, true, &res)
	if err != nil {
		return nil, err
	}

	bal := &Balance{Currency: "USDT"}
	for _, acc := range res.List {
		for _, c := range acc.Coin {
			if c.Coin != "USDT" {
				continue
			}
			bal.Total = parseNumber(c.Equity)
			if bal.Total == 0 {
				bal.Total = parseNumber(c.WalletBalance)
			}
			bal.Available = parseNumber(c.AvailableToWithdraw)
		}
	}
	return bal, nil
}

// GetTicker возвращает лучшие цены и последнюю сделку
func (b *Bybit) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	err := b.call(ctx, http.MethodGet, "/v5/market/tickers", map[string]string{
		"category": b.category,
		"symbol":   symbol,
	}, false, &res)
	if err != nil {
		return nil, err
	}
	if len(res.List) == 0 {
		return nil, NewPermanentError(bybitName, CodeInvalidSymbol, "ticker not found for "+symbol)
	}

	t := res.List[0]
	return &Ticker{
		Symbol:    t.Symbol,
		BidPrice:  parseNumber(t.Bid1Price),
		AskPrice:  parseNumber(t.Ask1Price),
		LastPrice: parseNumber(t.LastPrice),
		Timestamp: b.now(),
	}, nil
}

// GetPositions возвращает ненулевые позиции по USDT контрактам
func (b *Bybit) GetPositions(ctx context.Context) ([]*Position, error) {
	var res struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
	}
	err := b.call(ctx, http.MethodGet, "/v5/position/list", map[string]string{
		"category":   b.category,
		"settleCoin": "USDT",
	}, true, &res)
	if err != nil {
		return nil, err
	}

	positions := make([]*Position, 0, len(res.List))
	for _, p := range res.List {
		size := parseNumber(p.Size)
		if size == 0 {
			continue
		}
		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}
		updated, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)
		leverage := int(parseNumber(p.Leverage))

		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    parseNumber(p.AvgPrice),
			MarkPrice:     parseNumber(p.MarkPrice),
			Leverage:      leverage,
			UnrealizedPnl: parseNumber(p.UnrealisedPnl),
			UpdatedAt:     time.UnixMilli(updated),
		})
	}
	return positions, nil
}

// Close освобождает соединения пула
func (b *Bybit) Close() {
	b.client.Close()
}

func bybitSide(side string) string {
	if side == SideSell || side == SideShort {
		return "Sell"
	}
	return "Buy"
}

func bybitOrderStatus(s string) string {
	switch s {
	case "Filled":
		return OrderStatusFilled
	case "PartiallyFilled", "PartiallyFilledCanceled":
		return OrderStatusPartial
	case "Cancelled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusNew
	}
}

// parseNumber разбирает числовую строку API; пустая или некорректная = 0
func parseNumber(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
