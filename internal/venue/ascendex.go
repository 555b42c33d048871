package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/numeric"
)

// Ascendex speaks the ascendex dialect: base64 HMAC-SHA256 signatures over
// "timestamp+endpoint", an account-group path prefix on private calls, and a
// websocket depth channel for streaming books. Symbols ride as "ETH/USDT".
type Ascendex struct {
	transport *Transport
	baseURL   string
	streamURL string
	key       string
	secret    []byte
	fallback  market.FeeSchedule
	log       zerolog.Logger

	mu    sync.Mutex
	group string
}

// NewAscendex builds the ascendex adapter. fallback is the fee schedule used
// when the venue offers no fee endpoint for the symbol.
func NewAscendex(transport *Transport, baseURL, streamURL string, creds Credentials, fallback market.FeeSchedule, log zerolog.Logger) *Ascendex {
	return &Ascendex{
		transport: transport,
		baseURL:   baseURL,
		streamURL: streamURL,
		key:       creds.Key,
		secret:    []byte(creds.Secret),
		fallback:  fallback,
		log:       log.With().Str("component", "adapter").Str("venue", "ascendex").Logger(),
	}
}

func (a *Ascendex) Name() string { return "ascendex" }

func ascendexSymbol(s market.Symbol) string {
	return s.String()
}

// headers signs one private call. endpoint is the short name the venue
// expects in the signature ("info", "balance", "order").
func (a *Ascendex) headers(endpoint string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(ts + "+" + endpoint))
	return map[string]string{
		"Content-Type":     "application/json",
		"x-auth-key":       a.key,
		"x-auth-signature": base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		"x-auth-timestamp": ts,
	}
}

// accountGroup resolves and caches the numeric group prefixing private
// endpoints.
func (a *Ascendex) accountGroup(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != "" {
		return a.group, nil
	}

	body, err := a.transport.Get(ctx, a.baseURL+"/api/pro/v1/info", a.headers("info"))
	if err != nil {
		return "", err
	}
	var resp struct {
		Data struct {
			AccountGroup json.Number `json:"accountGroup"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", NewError("ascendex", "account_info", KindDecode, err)
	}
	a.group = resp.Data.AccountGroup.String()
	return a.group, nil
}

func (a *Ascendex) FetchMarkets(ctx context.Context) ([]market.Meta, error) {
	body, err := a.transport.Get(ctx, a.baseURL+"/api/pro/v1/products", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			BaseAsset   string `json:"baseAsset"`
			QuoteAsset  string `json:"quoteAsset"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
			TickSize    string `json:"tickSize"`
			LotSize     string `json:"lotSize"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("ascendex", "fetch_markets", KindDecode, err)
	}

	metas := make([]market.Meta, 0, len(resp.Data))
	for _, r := range resp.Data {
		minBase, _ := strconv.ParseFloat(r.MinQty, 64)
		minQuote, _ := strconv.ParseFloat(r.MinNotional, 64)
		metas = append(metas, market.Meta{
			Venue:          "ascendex",
			Symbol:         market.Symbol{Base: market.Asset(r.BaseAsset), Quote: market.Asset(r.QuoteAsset)},
			MinBaseQty:     minBase,
			MinQuoteQty:    minQuote,
			BasePrecision:  incrementPrecision(r.LotSize),
			QuotePrecision: incrementPrecision(r.TickSize),
			PricePrecision: incrementPrecision(r.TickSize),
		})
	}
	return metas, nil
}

func (a *Ascendex) FetchBalance(ctx context.Context) (map[market.Asset]float64, error) {
	group, err := a.accountGroup(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/%s/api/pro/v1/cash/balance", a.baseURL, group)
	body, err := a.transport.Get(ctx, u, a.headers("balance"))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Asset            string `json:"asset"`
			AvailableBalance string `json:"availableBalance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("ascendex", "fetch_balance", KindDecode, err)
	}

	out := make(map[market.Asset]float64, len(resp.Data))
	for _, r := range resp.Data {
		available, _ := strconv.ParseFloat(r.AvailableBalance, 64)
		out[market.Asset(r.Asset)] = available
	}
	return out, nil
}

func (a *Ascendex) FetchOrderBook(ctx context.Context, symbol market.Symbol, depth int) (*market.Snapshot, error) {
	u := a.baseURL + "/api/pro/v1/depth?symbol=" + ascendexSymbol(symbol)
	body, err := a.transport.Get(ctx, u, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Data struct {
				Asks [][2]json.Number `json:"asks"`
				Bids [][2]json.Number `json:"bids"`
			} `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("ascendex", "fetch_order_book", KindDecode, err)
	}

	return &market.Snapshot{
		Venue:    "ascendex",
		Symbol:   symbol,
		Asks:     clampLevels(parseLevels(resp.Data.Data.Asks), depth),
		Bids:     clampLevels(parseLevels(resp.Data.Data.Bids), depth),
		Observed: time.Now(),
	}, nil
}

// FetchFees returns the configured fallback; the venue exposes no per-symbol
// fee endpoint on this API surface.
func (a *Ascendex) FetchFees(ctx context.Context, symbol market.Symbol) (market.FeeSchedule, error) {
	return a.fallback, nil
}

func (a *Ascendex) PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	group, err := a.accountGroup(ctx)
	if err != nil {
		return Ack{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"id":          clampID(req.ClientOrderID),
		"time":        time.Now().UnixMilli(),
		"symbol":      ascendexSymbol(req.Symbol),
		"orderPrice":  numeric.Render(req.Price, req.PricePrecision),
		"orderQty":    numeric.Render(req.BaseQty, req.QtyPrecision),
		"orderType":   "limit",
		"side":        map[Side]string{Buy: "buy", Sell: "sell"}[req.Side],
		"timeInForce": "IOC",
		"respInst":    "ACK",
	})
	if err != nil {
		return Ack{}, NewError("ascendex", "place_order", KindDecode, err)
	}

	u := fmt.Sprintf("%s/%s/api/pro/v1/cash/order", a.baseURL, group)
	body, err := a.transport.Post(ctx, u, a.headers("order"), payload)
	if err != nil {
		if KindOf(err) == KindVenue {
			a.log.Warn().Err(err).Str("side", req.Side.String()).Msg("order rejected")
			return Ack{}, nil
		}
		return Ack{}, err
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			Info struct {
				OrderID string `json:"orderId"`
			} `json:"info"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Ack{}, NewError("ascendex", "place_order", KindDecode, err)
	}
	if resp.Code != 0 {
		a.log.Warn().Int("code", resp.Code).Str("side", req.Side.String()).Msg("order rejected")
		return Ack{}, nil
	}
	return Ack{Accepted: true, VenueOrderID: resp.Data.Info.OrderID}, nil
}

// clampID keeps client order ids inside the venue's 32-character limit.
func clampID(id string) string {
	if len(id) > 32 {
		return id[:32]
	}
	return id
}

func (a *Ascendex) CancelOrder(ctx context.Context, venueOrderID string, symbol market.Symbol) (bool, error) {
	group, err := a.accountGroup(ctx)
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(map[string]any{
		"orderId": venueOrderID,
		"symbol":  ascendexSymbol(symbol),
		"time":    time.Now().UnixMilli(),
	})
	if err != nil {
		return false, NewError("ascendex", "cancel_order", KindDecode, err)
	}

	u := fmt.Sprintf("%s/%s/api/pro/v1/cash/order", a.baseURL, group)
	if _, err := a.transport.Delete(ctx, u, a.headers("order"), payload); err != nil {
		if KindOf(err) == KindVenue {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Ascendex) FetchOrderStatus(ctx context.Context, venueOrderID string, symbol market.Symbol) (*OrderStatus, error) {
	group, err := a.accountGroup(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/%s/api/pro/v1/cash/order/status?orderId=%s", a.baseURL, group, venueOrderID)
	body, err := a.transport.Get(ctx, u, a.headers("order/status"))
	if err != nil {
		if KindOf(err) == KindVenue {
			return nil, nil
		}
		return nil, err
	}

	var resp struct {
		Data struct {
			Price        string `json:"price"`
			OrderQty     string `json:"orderQty"`
			CumFee       string `json:"cumFee"`
			Status       string `json:"status"`
			LastExecTime int64  `json:"lastExecTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("ascendex", "fetch_order_status", KindDecode, err)
	}

	price, _ := strconv.ParseFloat(resp.Data.Price, 64)
	qty, _ := strconv.ParseFloat(resp.Data.OrderQty, 64)
	st := &OrderStatus{
		Price:     price,
		BaseQty:   qty,
		Filled:    resp.Data.Status == "Filled",
		Timestamp: time.UnixMilli(resp.Data.LastExecTime),
	}
	if fee, err := strconv.ParseFloat(resp.Data.CumFee, 64); err == nil && fee > 0 {
		st.FeeQuote = &fee
	}
	return st, nil
}

// StreamURL implements Streamer.
func (a *Ascendex) StreamURL() string {
	return a.streamURL
}

// SubscribeFrame implements Streamer: one depth channel per symbol.
func (a *Ascendex) SubscribeFrame(symbol market.Symbol) []byte {
	return []byte(fmt.Sprintf(`{"op":"sub","id":"crypton","ch":"depth:%s"}`, ascendexSymbol(symbol)))
}

// PongFrame implements Streamer.
func (a *Ascendex) PongFrame() []byte {
	return []byte(`{"op":"pong"}`)
}

// ParseFrame implements Streamer. Frames route on the "m" field before any
// typed decode: "ping" asks for a pong, "depth" carries [price, size] string
// pairs where size zero removes the level.
func (a *Ascendex) ParseFrame(raw []byte) (StreamEvent, error) {
	m, err := jsonparser.GetString(raw, "m")
	if err != nil {
		return StreamEvent{}, NewError("ascendex", "stream", KindDecode, err)
	}

	switch m {
	case "ping":
		return StreamEvent{Kind: StreamPing}, nil
	case "depth":
		ev := StreamEvent{Kind: StreamDepth}
		for _, side := range []struct {
			key  string
			dest *[]market.Level
		}{
			{"asks", &ev.Asks},
			{"bids", &ev.Bids},
		} {
			_, err := jsonparser.ArrayEach(raw, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
				price, perr := jsonparser.GetString(value, "[0]")
				qty, qerr := jsonparser.GetString(value, "[1]")
				if perr != nil || qerr != nil {
					return
				}
				p, perr2 := strconv.ParseFloat(price, 64)
				q, qerr2 := strconv.ParseFloat(qty, 64)
				if perr2 != nil || qerr2 != nil {
					return
				}
				*side.dest = append(*side.dest, market.Level{Price: p, Qty: q})
			}, "data", side.key)
			if err != nil && err != jsonparser.KeyPathNotFoundError {
				return StreamEvent{}, NewError("ascendex", "stream", KindDecode, err)
			}
		}
		return ev, nil
	default:
		return StreamEvent{Kind: StreamIgnore}, nil
	}
}

var (
	_ Adapter  = (*Ascendex)(nil)
	_ Streamer = (*Ascendex)(nil)
)
