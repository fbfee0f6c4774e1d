// Package binance adapts Binance USDT-margined futures to venue.Connector.
// One logical order maps onto up to three venue orders: the entry order
// plus close-position stop and take-profit orders. The adapter tracks that
// mapping in memory keyed by ticket.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tandem/internal/logger"
	"tandem/internal/venue"
)

const maxHistoryLimit = 1500

// Config carries connection settings for the futures REST API.
type Config struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	HTTPTimeout time.Duration
	ProxyURL    string
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

type orderRecord struct {
	symbol     string
	direction  venue.Direction
	size       float64
	entryID    int64
	stopID     int64
	targetID   int64
	tag        uint32
	openedAt   time.Time
	entryPrice float64
}

// Venue implements venue.Connector on a futures.Client.
type Venue struct {
	cfg    Config
	client *futures.Client

	mu     sync.Mutex
	orders map[venue.Ticket]*orderRecord

	specMu sync.Mutex
	specs  map[string]venue.InstrumentSpec
}

var _ venue.Connector = (*Venue)(nil)

func New(cfg Config) (*Venue, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	if final.BaseURL != "" {
		client.BaseURL = strings.TrimSpace(final.BaseURL)
	}
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("binance: invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("binance: http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Venue{
		cfg:    final,
		client: client,
		orders: make(map[venue.Ticket]*orderRecord),
		specs:  make(map[string]venue.InstrumentSpec),
	}, nil
}

func (v *Venue) Name() string { return "binance-futures" }

func (v *Venue) GetClosedBars(ctx context.Context, instrument, timeframe string, count int) ([]venue.Bar, error) {
	if count <= 0 {
		count = 100
	}
	if count > maxHistoryLimit {
		count = maxHistoryLimit
	}
	symbol := toSymbol(instrument)
	// Ask for one extra so the still-forming bar can be dropped.
	kls, err := v.client.NewKlinesService().
		Symbol(symbol).
		Interval(strings.ToLower(timeframe)).
		Limit(count + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, timeframe, err)
	}
	nowMs := time.Now().UnixMilli()
	out := make([]venue.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil || kl.CloseTime >= nowMs {
			continue
		}
		out = append(out, venue.Bar{
			Time:   time.UnixMilli(kl.OpenTime),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		})
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

func (v *Venue) GetOpenPositions(ctx context.Context, filter venue.PositionFilter) ([]venue.Position, error) {
	v.mu.Lock()
	records := make(map[venue.Ticket]*orderRecord, len(v.orders))
	for t, r := range v.orders {
		records[t] = r
	}
	v.mu.Unlock()

	var out []venue.Position
	for ticket, rec := range records {
		if filter.Instrument != "" && toSymbol(filter.Instrument) != rec.symbol {
			continue
		}
		if filter.Tag != 0 && rec.tag != filter.Tag {
			continue
		}
		order, err := v.client.NewGetOrderService().
			Symbol(rec.symbol).
			OrderID(rec.entryID).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance: get order %d: %w", rec.entryID, err)
		}
		switch order.Status {
		case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
			continue
		}
		out = append(out, venue.Position{
			Ticket:     ticket,
			Instrument: rec.symbol,
			Direction:  rec.direction,
			Size:       rec.size,
			OpenPrice:  rec.entryPrice,
			Tag:        rec.tag,
			OpenedAt:   rec.openedAt,
			Filled:     order.Status == futures.OrderStatusTypeFilled,
		})
	}
	return out, nil
}

func (v *Venue) SubmitOrder(ctx context.Context, req venue.SubmitRequest) (venue.Ticket, error) {
	if !req.Direction.Valid() {
		return "", fmt.Errorf("binance: bad direction %q", req.Direction)
	}
	if req.Size <= 0 {
		return "", fmt.Errorf("binance: bad size %v", req.Size)
	}
	symbol := toSymbol(req.Instrument)
	side := futures.SideTypeBuy
	if req.Direction == venue.DirectionShort {
		side = futures.SideTypeSell
	}

	svc := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Quantity(formatFloat(req.Size)).
		NewClientOrderID(clientOrderID(req.Tag))
	if req.Type == venue.OrderPending {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatFloat(req.Price))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("binance: create order %s: %w", symbol, err)
	}

	rec := &orderRecord{
		symbol:     symbol,
		direction:  req.Direction,
		size:       req.Size,
		entryID:    resp.OrderID,
		tag:        req.Tag,
		openedAt:   time.Now(),
		entryPrice: req.Price,
	}
	if req.StopLoss > 0 {
		id, perr := v.placeProtective(ctx, symbol, side, futures.OrderTypeStopMarket, req.StopLoss)
		if perr != nil {
			logger.Errorf("binance: stop placement failed order=%d: %v", resp.OrderID, perr)
		} else {
			rec.stopID = id
		}
	}
	if req.TakeProfit > 0 {
		id, perr := v.placeProtective(ctx, symbol, side, futures.OrderTypeTakeProfitMarket, req.TakeProfit)
		if perr != nil {
			logger.Errorf("binance: take-profit placement failed order=%d: %v", resp.OrderID, perr)
		} else {
			rec.targetID = id
		}
	}

	ticket := venue.Ticket(strconv.FormatInt(resp.OrderID, 10))
	v.mu.Lock()
	v.orders[ticket] = rec
	v.mu.Unlock()
	return ticket, nil
}

// placeProtective submits a close-position order on the opposite side.
func (v *Venue) placeProtective(ctx context.Context, symbol string, entrySide futures.SideType, orderType futures.OrderType, price float64) (int64, error) {
	side := futures.SideTypeSell
	if entrySide == futures.SideTypeSell {
		side = futures.SideTypeBuy
	}
	resp, err := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(orderType).
		StopPrice(formatFloat(price)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	return resp.OrderID, nil
}

func (v *Venue) ModifyOrder(ctx context.Context, ticket venue.Ticket, mod venue.Modify) error {
	rec, err := v.record(ticket)
	if err != nil {
		return err
	}
	entrySide := futures.SideTypeBuy
	if rec.direction == venue.DirectionShort {
		entrySide = futures.SideTypeSell
	}
	if mod.StopLoss != nil {
		if rec.stopID != 0 {
			if _, cerr := v.client.NewCancelOrderService().Symbol(rec.symbol).OrderID(rec.stopID).Do(ctx); cerr != nil {
				logger.Warnf("binance: cancel old stop %d: %v", rec.stopID, cerr)
			}
		}
		id, perr := v.placeProtective(ctx, rec.symbol, entrySide, futures.OrderTypeStopMarket, *mod.StopLoss)
		if perr != nil {
			return fmt.Errorf("binance: replace stop: %w", perr)
		}
		v.mu.Lock()
		rec.stopID = id
		v.mu.Unlock()
	}
	if mod.TakeProfit != nil {
		if rec.targetID != 0 {
			if _, cerr := v.client.NewCancelOrderService().Symbol(rec.symbol).OrderID(rec.targetID).Do(ctx); cerr != nil {
				logger.Warnf("binance: cancel old take-profit %d: %v", rec.targetID, cerr)
			}
		}
		id, perr := v.placeProtective(ctx, rec.symbol, entrySide, futures.OrderTypeTakeProfitMarket, *mod.TakeProfit)
		if perr != nil {
			return fmt.Errorf("binance: replace take-profit: %w", perr)
		}
		v.mu.Lock()
		rec.targetID = id
		v.mu.Unlock()
	}
	return nil
}

func (v *Venue) CloseOrder(ctx context.Context, ticket venue.Ticket) error {
	rec, err := v.record(ticket)
	if err != nil {
		return err
	}
	order, err := v.client.NewGetOrderService().Symbol(rec.symbol).OrderID(rec.entryID).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: get order %d: %w", rec.entryID, err)
	}

	switch order.Status {
	case futures.OrderStatusTypeNew, futures.OrderStatusTypePartiallyFilled:
		if _, cerr := v.client.NewCancelOrderService().Symbol(rec.symbol).OrderID(rec.entryID).Do(ctx); cerr != nil {
			return fmt.Errorf("binance: cancel order %d: %w", rec.entryID, cerr)
		}
	case futures.OrderStatusTypeFilled:
		side := futures.SideTypeSell
		if rec.direction == venue.DirectionShort {
			side = futures.SideTypeBuy
		}
		_, cerr := v.client.NewCreateOrderService().
			Symbol(rec.symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(formatFloat(rec.size)).
			ReduceOnly(true).
			Do(ctx)
		if cerr != nil {
			return fmt.Errorf("binance: close position %s: %w", rec.symbol, cerr)
		}
	}

	for _, id := range []int64{rec.stopID, rec.targetID} {
		if id == 0 {
			continue
		}
		if _, cerr := v.client.NewCancelOrderService().Symbol(rec.symbol).OrderID(id).Do(ctx); cerr != nil {
			logger.Warnf("binance: cancel protective %d: %v", id, cerr)
		}
	}

	v.mu.Lock()
	delete(v.orders, ticket)
	v.mu.Unlock()
	return nil
}

func (v *Venue) GetInstrumentSpec(ctx context.Context, instrument string) (venue.InstrumentSpec, error) {
	symbol := toSymbol(instrument)
	v.specMu.Lock()
	cached, ok := v.specs[symbol]
	v.specMu.Unlock()
	if ok {
		return cached, nil
	}

	info, err := v.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return venue.InstrumentSpec{}, fmt.Errorf("binance: exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		spec := venue.InstrumentSpec{Instrument: symbol}
		if pf := s.PriceFilter(); pf != nil {
			spec.TickSize = parseFloat(pf.TickSize)
			// Linear contract: one tick on one unit moves one tick of quote.
			spec.TickValue = spec.TickSize
		}
		if lf := s.LotSizeFilter(); lf != nil {
			spec.SizeStep = parseFloat(lf.StepSize)
			spec.SizeMin = parseFloat(lf.MinQuantity)
			spec.SizeMax = parseFloat(lf.MaxQuantity)
		}
		v.specMu.Lock()
		v.specs[symbol] = spec
		v.specMu.Unlock()
		return spec, nil
	}
	return venue.InstrumentSpec{}, fmt.Errorf("binance: unknown symbol %s", symbol)
}

func (v *Venue) GetBalance(ctx context.Context) (venue.Balance, error) {
	balances, err := v.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return venue.Balance{}, fmt.Errorf("binance: balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		return venue.Balance{
			Currency:  b.Asset,
			Total:     parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
			UpdatedAt: time.Now(),
		}, nil
	}
	return venue.Balance{}, fmt.Errorf("binance: no USDT balance")
}

func (v *Venue) GetPrice(ctx context.Context, instrument string) (venue.Quote, error) {
	symbol := toSymbol(instrument)
	tickers, err := v.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return venue.Quote{}, fmt.Errorf("binance: book ticker %s: %w", symbol, err)
	}
	if len(tickers) == 0 || tickers[0] == nil {
		return venue.Quote{}, fmt.Errorf("binance: no ticker for %s", symbol)
	}
	t := tickers[0]
	return venue.Quote{
		Instrument: symbol,
		Bid:        parseFloat(t.BidPrice),
		Ask:        parseFloat(t.AskPrice),
		UpdatedAt:  time.Now(),
	}, nil
}

func (v *Venue) record(ticket venue.Ticket) (*orderRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.orders[ticket]
	if !ok {
		return nil, fmt.Errorf("binance: unknown ticket %s", ticket)
	}
	return rec, nil
}

// toSymbol strips separators so "ETH/USDT" and "ETHUSDT" address the same
// contract.
func toSymbol(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}

func clientOrderID(tag uint32) string {
	return fmt.Sprintf("tandem-%d-%d", tag, time.Now().UnixNano())
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
