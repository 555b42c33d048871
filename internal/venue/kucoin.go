package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/numeric"
)

// KuCoin speaks the kucoin REST dialect: base64 HMAC-SHA256 signatures over
// timestamp+method+path+body, a signed passphrase header, symbols as
// "ETH-USDT", and a {code, data} envelope on every response.
type KuCoin struct {
	transport  *Transport
	baseURL    string
	key        string
	secret     []byte
	passphrase string
	log        zerolog.Logger
}

// NewKuCoin builds the kucoin adapter.
func NewKuCoin(transport *Transport, baseURL string, creds Credentials, log zerolog.Logger) *KuCoin {
	return &KuCoin{
		transport:  transport,
		baseURL:    baseURL,
		key:        creds.Key,
		secret:     []byte(creds.Secret),
		passphrase: creds.Password,
		log:        log.With().Str("component", "adapter").Str("venue", "kucoin").Logger(),
	}
}

func (k *KuCoin) Name() string { return "kucoin" }

func kucoinSymbol(s market.Symbol) string {
	return string(s.Base) + "-" + string(s.Quote)
}

func (k *KuCoin) sign(payload string) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// headers signs one request. endpoint includes the query string; body is
// empty for GET and DELETE.
func (k *KuCoin) headers(method, endpoint, body string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return map[string]string{
		"Content-Type":       "application/json",
		"KC-API-KEY":         k.key,
		"KC-API-SIGN":        k.sign(ts + method + endpoint + body),
		"KC-API-TIMESTAMP":   ts,
		"KC-API-PASSPHRASE":  k.sign(k.passphrase),
		"KC-API-KEY-VERSION": "2",
	}
}

// envelope unwraps kucoin's {code, msg, data} wrapper. A non-success code is
// a venue-level failure even under HTTP 200.
func (k *KuCoin) envelope(op string, body []byte, data any) error {
	var env struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return NewError("kucoin", op, KindDecode, err)
	}
	if env.Code != "200000" {
		return Errorf("kucoin", op, KindVenue, "code %s: %s", env.Code, env.Msg)
	}
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return NewError("kucoin", op, KindDecode, err)
	}
	return nil
}

func (k *KuCoin) FetchMarkets(ctx context.Context) ([]market.Meta, error) {
	body, err := k.transport.Get(ctx, k.baseURL+"/api/v1/symbols", nil)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		BaseCurrency   string `json:"baseCurrency"`
		QuoteCurrency  string `json:"quoteCurrency"`
		BaseMinSize    string `json:"baseMinSize"`
		MinFunds       string `json:"minFunds"`
		BaseIncrement  string `json:"baseIncrement"`
		QuoteIncrement string `json:"quoteIncrement"`
		PriceIncrement string `json:"priceIncrement"`
	}
	if err := k.envelope("fetch_markets", body, &rows); err != nil {
		return nil, err
	}

	metas := make([]market.Meta, 0, len(rows))
	for _, r := range rows {
		minBase, _ := strconv.ParseFloat(r.BaseMinSize, 64)
		minQuote, _ := strconv.ParseFloat(r.MinFunds, 64)
		metas = append(metas, market.Meta{
			Venue:          "kucoin",
			Symbol:         market.Symbol{Base: market.Asset(r.BaseCurrency), Quote: market.Asset(r.QuoteCurrency)},
			MinBaseQty:     minBase,
			MinQuoteQty:    minQuote,
			BasePrecision:  incrementPrecision(r.BaseIncrement),
			QuotePrecision: incrementPrecision(r.QuoteIncrement),
			PricePrecision: incrementPrecision(r.PriceIncrement),
		})
	}
	return metas, nil
}

// incrementPrecision converts a step like "0.0001" to its decimal places.
func incrementPrecision(step string) int {
	f, err := strconv.ParseFloat(step, 64)
	if err != nil || f <= 0 || f >= 1 {
		return 0
	}
	places := 0
	for f < 1 {
		f *= 10
		places++
	}
	return places
}

func (k *KuCoin) FetchBalance(ctx context.Context) (map[market.Asset]float64, error) {
	endpoint := "/api/v1/accounts"
	body, err := k.transport.Get(ctx, k.baseURL+endpoint, k.headers("GET", endpoint, ""))
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Currency  string `json:"currency"`
		Type      string `json:"type"`
		Available string `json:"available"`
	}
	if err := k.envelope("fetch_balance", body, &rows); err != nil {
		return nil, err
	}

	out := make(map[market.Asset]float64, len(rows))
	for _, r := range rows {
		if r.Type != "" && r.Type != "trade" {
			continue
		}
		available, _ := strconv.ParseFloat(r.Available, 64)
		out[market.Asset(r.Currency)] += available
	}
	return out, nil
}

func (k *KuCoin) FetchOrderBook(ctx context.Context, symbol market.Symbol, depth int) (*market.Snapshot, error) {
	size := 20
	if depth > 20 {
		size = 100
	}
	endpoint := fmt.Sprintf("/api/v1/market/orderbook/level2_%d?symbol=%s", size, kucoinSymbol(symbol))
	body, err := k.transport.Get(ctx, k.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		Asks [][2]json.Number `json:"asks"`
		Bids [][2]json.Number `json:"bids"`
	}
	if err := k.envelope("fetch_order_book", body, &data); err != nil {
		return nil, err
	}

	snap := &market.Snapshot{
		Venue:    "kucoin",
		Symbol:   symbol,
		Asks:     clampLevels(parseLevels(data.Asks), depth),
		Bids:     clampLevels(parseLevels(data.Bids), depth),
		Observed: time.Now(),
	}
	return snap, nil
}

func clampLevels(levels []market.Level, depth int) []market.Level {
	if len(levels) > depth {
		return levels[:depth]
	}
	return levels
}

func (k *KuCoin) FetchFees(ctx context.Context, symbol market.Symbol) (market.FeeSchedule, error) {
	endpoint := "/api/v1/trade-fees?symbols=" + kucoinSymbol(symbol)
	body, err := k.transport.Get(ctx, k.baseURL+endpoint, k.headers("GET", endpoint, ""))
	if err != nil {
		return market.FeeSchedule{}, err
	}

	var rows []struct {
		MakerFeeRate string `json:"makerFeeRate"`
		TakerFeeRate string `json:"takerFeeRate"`
	}
	if err := k.envelope("fetch_fees", body, &rows); err != nil {
		return market.FeeSchedule{}, err
	}
	if len(rows) == 0 {
		return market.FeeSchedule{}, Errorf("kucoin", "fetch_fees", KindVenue, "no fee row for %s", symbol)
	}

	maker, _ := strconv.ParseFloat(rows[0].MakerFeeRate, 64)
	taker, _ := strconv.ParseFloat(rows[0].TakerFeeRate, 64)
	return market.FeeSchedule{Maker: maker, Taker: taker}, nil
}

func (k *KuCoin) PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	endpoint := "/api/v1/orders"
	payload, err := json.Marshal(map[string]any{
		"clientOid":   req.ClientOrderID,
		"side":        map[Side]string{Buy: "buy", Sell: "sell"}[req.Side],
		"symbol":      kucoinSymbol(req.Symbol),
		"type":        "limit",
		"size":        numeric.Render(req.BaseQty, req.QtyPrecision),
		"price":       numeric.Render(req.Price, req.PricePrecision),
		"timeInForce": "IOC",
	})
	if err != nil {
		return Ack{}, NewError("kucoin", "place_order", KindDecode, err)
	}

	body, err := k.transport.Post(ctx, k.baseURL+endpoint, k.headers("POST", endpoint, string(payload)), payload)
	if err != nil {
		if KindOf(err) == KindVenue {
			k.log.Warn().Err(err).Str("side", req.Side.String()).Msg("order rejected")
			return Ack{}, nil
		}
		return Ack{}, err
	}

	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := k.envelope("place_order", body, &data); err != nil {
		if KindOf(err) == KindVenue {
			k.log.Warn().Err(err).Str("side", req.Side.String()).Msg("order rejected")
			return Ack{}, nil
		}
		return Ack{}, err
	}
	// Cancels and polls key on the client order id we chose.
	return Ack{Accepted: true, VenueOrderID: req.ClientOrderID}, nil
}

func (k *KuCoin) CancelOrder(ctx context.Context, venueOrderID string, symbol market.Symbol) (bool, error) {
	endpoint := "/api/v1/order/client-order/" + venueOrderID
	body, err := k.transport.Delete(ctx, k.baseURL+endpoint, k.headers("DELETE", endpoint, ""), nil)
	if err != nil {
		if KindOf(err) == KindVenue {
			return false, nil
		}
		return false, err
	}
	if err := k.envelope("cancel_order", body, nil); err != nil {
		return false, nil
	}
	return true, nil
}

func (k *KuCoin) FetchOrderStatus(ctx context.Context, venueOrderID string, symbol market.Symbol) (*OrderStatus, error) {
	endpoint := "/api/v1/order/client-order/" + venueOrderID
	body, err := k.transport.Get(ctx, k.baseURL+endpoint, k.headers("GET", endpoint, ""))
	if err != nil {
		if KindOf(err) == KindVenue {
			return nil, nil
		}
		return nil, err
	}

	var data struct {
		Price       string `json:"price"`
		Size        string `json:"size"`
		Fee         string `json:"fee"`
		IsActive    bool   `json:"isActive"`
		CancelExist bool   `json:"cancelExist"`
		CreatedAt   int64  `json:"createdAt"`
	}
	if err := k.envelope("fetch_order_status", body, &data); err != nil {
		if KindOf(err) == KindVenue {
			return nil, nil
		}
		return nil, err
	}

	price, _ := strconv.ParseFloat(data.Price, 64)
	size, _ := strconv.ParseFloat(data.Size, 64)
	st := &OrderStatus{
		Price:     price,
		BaseQty:   size,
		Filled:    !data.IsActive && !data.CancelExist,
		Timestamp: time.UnixMilli(data.CreatedAt),
	}
	if fee, err := strconv.ParseFloat(data.Fee, 64); err == nil && fee > 0 {
		st.FeeQuote = &fee
	}
	return st, nil
}

var _ Adapter = (*KuCoin)(nil)
