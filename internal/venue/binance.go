package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexmulier/crypton/internal/market"
	"github.com/lexmulier/crypton/internal/numeric"
)

// Binance speaks the binance REST dialect: HMAC-SHA256 hex signatures over
// the query string, X-MBX-APIKEY header, symbols as "ETHUSDT".
type Binance struct {
	transport *Transport
	baseURL   string
	key       string
	secret    []byte
	log       zerolog.Logger
}

// NewBinance builds the binance adapter.
func NewBinance(transport *Transport, baseURL string, creds Credentials, log zerolog.Logger) *Binance {
	return &Binance{
		transport: transport,
		baseURL:   baseURL,
		key:       creds.Key,
		secret:    []byte(creds.Secret),
		log:       log.With().Str("component", "adapter").Str("venue", "binance").Logger(),
	}
}

func (b *Binance) Name() string { return "binance" }

func binanceSymbol(s market.Symbol) string {
	return string(s.Base) + string(s.Quote)
}

func (b *Binance) headers() map[string]string {
	return map[string]string{
		"Content-Type": "application/json;charset=utf-8",
		"X-MBX-APIKEY": b.key,
	}
}

// signedURL appends a timestamp and an HMAC-SHA256 signature over the full
// query string.
func (b *Binance) signedURL(endpoint string, params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	qs := params.Encode()

	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(qs))
	return b.baseURL + endpoint + "?" + qs + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (b *Binance) FetchMarkets(ctx context.Context) ([]market.Meta, error) {
	body, err := b.transport.Get(ctx, b.baseURL+"/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Symbols []struct {
			BaseAsset          string `json:"baseAsset"`
			QuoteAsset         string `json:"quoteAsset"`
			BaseAssetPrecision int    `json:"baseAssetPrecision"`
			QuotePrecision     int    `json:"quotePrecision"`
			Filters            []struct {
				FilterType  string `json:"filterType"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("binance", "fetch_markets", KindDecode, err)
	}

	metas := make([]market.Meta, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		m := market.Meta{
			Venue:          "binance",
			Symbol:         market.Symbol{Base: market.Asset(s.BaseAsset), Quote: market.Asset(s.QuoteAsset)},
			BasePrecision:  s.BaseAssetPrecision,
			QuotePrecision: s.QuotePrecision,
			PricePrecision: s.QuotePrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				m.MinBaseQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "MIN_NOTIONAL", "NOTIONAL":
				m.MinQuoteQty, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		metas = append(metas, m)
	}
	return metas, nil
}

func (b *Binance) FetchBalance(ctx context.Context) (map[market.Asset]float64, error) {
	body, err := b.transport.Get(ctx, b.signedURL("/api/v3/account", url.Values{}), b.headers())
	if err != nil {
		return nil, err
	}

	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("binance", "fetch_balance", KindDecode, err)
	}

	out := make(map[market.Asset]float64, len(resp.Balances))
	for _, row := range resp.Balances {
		free, _ := strconv.ParseFloat(row.Free, 64)
		out[market.Asset(row.Asset)] = free
	}
	return out, nil
}

func (b *Binance) FetchOrderBook(ctx context.Context, symbol market.Symbol, depth int) (*market.Snapshot, error) {
	u := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", b.baseURL, binanceSymbol(symbol), depth)
	body, err := b.transport.Get(ctx, u, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Asks [][2]json.Number `json:"asks"`
		Bids [][2]json.Number `json:"bids"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("binance", "fetch_order_book", KindDecode, err)
	}

	snap := &market.Snapshot{
		Venue:    "binance",
		Symbol:   symbol,
		Asks:     parseLevels(resp.Asks),
		Bids:     parseLevels(resp.Bids),
		Observed: time.Now(),
	}
	return snap, nil
}

func parseLevels(rows [][2]json.Number) []market.Level {
	levels := make([]market.Level, 0, len(rows))
	for _, r := range rows {
		price, _ := r[0].Float64()
		qty, _ := r[1].Float64()
		levels = append(levels, market.Level{Price: price, Qty: qty})
	}
	return levels
}

func (b *Binance) FetchFees(ctx context.Context, symbol market.Symbol) (market.FeeSchedule, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	body, err := b.transport.Get(ctx, b.signedURL("/sapi/v1/asset/tradeFee", params), b.headers())
	if err != nil {
		return market.FeeSchedule{}, err
	}

	var resp []struct {
		MakerCommission string `json:"makerCommission"`
		TakerCommission string `json:"takerCommission"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp) == 0 {
		return market.FeeSchedule{}, NewError("binance", "fetch_fees", KindDecode, err)
	}

	maker, _ := strconv.ParseFloat(resp[0].MakerCommission, 64)
	taker, _ := strconv.ParseFloat(resp[0].TakerCommission, 64)
	return market.FeeSchedule{Maker: maker, Taker: taker}, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(req.Symbol))
	params.Set("side", req.Side.String())
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "IOC")
	params.Set("quantity", numeric.Render(req.BaseQty, req.QtyPrecision))
	params.Set("price", numeric.Render(req.Price, req.PricePrecision))
	params.Set("newClientOrderId", req.ClientOrderID)

	body, err := b.transport.Post(ctx, b.signedURL("/api/v3/order", params), b.headers(), nil)
	if err != nil {
		if KindOf(err) == KindVenue {
			b.log.Warn().Err(err).Str("side", req.Side.String()).Msg("order rejected")
			return Ack{}, nil
		}
		return Ack{}, err
	}

	var resp struct {
		OrderID json.Number `json:"orderId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Ack{}, NewError("binance", "place_order", KindDecode, err)
	}
	// Cancels and polls key on the client order id we chose.
	return Ack{Accepted: true, VenueOrderID: req.ClientOrderID}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, venueOrderID string, symbol market.Symbol) (bool, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("origClientOrderId", venueOrderID)

	_, err := b.transport.Delete(ctx, b.signedURL("/api/v3/order", params), b.headers(), nil)
	if err != nil {
		if KindOf(err) == KindVenue {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *Binance) FetchOrderStatus(ctx context.Context, venueOrderID string, symbol market.Symbol) (*OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("origClientOrderId", venueOrderID)

	body, err := b.transport.Get(ctx, b.signedURL("/api/v3/order", params), b.headers())
	if err != nil {
		if KindOf(err) == KindVenue {
			return nil, nil
		}
		return nil, err
	}

	var resp struct {
		Status      string      `json:"status"`
		Price       json.Number `json:"price"`
		OrigQty     json.Number `json:"origQty"`
		ExecutedQty json.Number `json:"executedQty"`
		Time        int64       `json:"time"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError("binance", "fetch_order_status", KindDecode, err)
	}

	price, _ := resp.Price.Float64()
	qty, _ := resp.OrigQty.Float64()
	filled := resp.Status == "FILLED"
	if executed, err := resp.ExecutedQty.Float64(); err == nil && filled && executed > 0 {
		qty = executed
	}

	return &OrderStatus{
		Price:     price,
		BaseQty:   qty,
		Filled:    filled,
		Timestamp: time.UnixMilli(resp.Time),
	}, nil
}

var _ Adapter = (*Binance)(nil)
