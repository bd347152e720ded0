package downstream

import (
	"encoding/json"
	"strconv"

	"brokergateway/internal/codec"
)

// ClientFrame is the shape of every message a downstream websocket client
// sends: a command name and a command-specific payload.
type ClientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerFrame is the shape of every message this gateway sends back.
type ServerFrame struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Command names recognized in ClientFrame.Type.
const (
	CommandAuthenticate   = "authenticate"
	CommandConnect        = "connect"
	CommandDisconnect     = "disconnect"
	CommandSubscribe      = "subscribe"
	CommandUnsubscribe    = "unsubscribe"
	CommandOrder          = "order"
	CommandClosePosition  = "closePosition"
	CommandPing           = "ping"
)

// Server frame type names.
const (
	FrameAuthenticated  = "authenticated"
	FrameConnected      = "connected"
	FrameDisconnected   = "disconnected"
	FrameSubscribed     = "subscribed"
	FrameUnsubscribed   = "unsubscribed"
	FrameAccountUpdate  = "accountUpdate"
	FramePositionUpdate = "positionUpdate"
	FrameExecution      = "execution"
	FrameSpot           = "spot"
	FramePong           = "pong"
	FrameError          = "error"
)

type authenticatePayload struct {
	Token string `json:"token"`
}

type connectPayload struct {
	CtidTraderAccountID int64 `json:"ctidTraderAccountId"`
}

type subscribePayload struct {
	SymbolID int64 `json:"symbolId"`
}

type orderPayload struct {
	SymbolID   int64   `json:"symbolId"`
	OrderType  int32   `json:"orderType"`
	TradeSide  int32   `json:"tradeSide"`
	Volume     int64   `json:"volume"`
	StopLoss   *int64  `json:"stopLoss,omitempty"`
	TakeProfit *int64  `json:"takeProfit,omitempty"`
	Comment    *string `json:"comment,omitempty"`
}

type closePositionPayload struct {
	PositionID int64 `json:"positionId"`
	Volume     int64 `json:"volume"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AccountSnapshot is the accountUpdate payload: the reconciled trading
// account state, in client-friendly units (money ÷100, no broker-internal
// scaling left for the client to undo).
type AccountSnapshot struct {
	AccountID   string  `json:"accountId"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"freeMargin"`
	MarginLevel float64 `json:"marginLevel"`
	Currency    string  `json:"currency"`
	Leverage    float64 `json:"leverage"`
	Environment string  `json:"environment"`
}

// Position is one positionUpdate entry, in the same client-friendly units
// as AccountSnapshot. Prices are the wire value ÷100000.
type Position struct {
	PositionID   string   `json:"positionId"`
	SymbolID     int64    `json:"symbolId"`
	Side         string   `json:"side"`
	Volume       int64    `json:"volume"`
	EntryPrice   float64  `json:"entryPrice"`
	CurrentPrice float64  `json:"currentPrice"`
	UnrealizedPL float64  `json:"unrealizedProfit"`
	Swap         float64  `json:"swap"`
	Commission   float64  `json:"commission"`
	StopLoss     *float64 `json:"stopLoss,omitempty"`
	TakeProfit   *float64 `json:"takeProfit,omitempty"`
	OpenTime     int64    `json:"openTime"`
}

// cTrader reports trade side as 1=BUY, 2=SELL on the wire.
const (
	tradeSideBuy  int32 = 1
	tradeSideSell int32 = 2
)

func tradeSideName(side int32) string {
	if side == tradeSideSell {
		return "sell"
	}
	return "buy"
}

// newAccountSnapshot translates a broker TraderInfo into the client-facing
// AccountSnapshot. The broker does not report equity/margin directly on
// reconcile, so they are derived from balance and the open positions'
// unrealized P/L, matching how a cTrader-style terminal computes them.
func newAccountSnapshot(trader codec.TraderInfo, positions []codec.PositionWire) AccountSnapshot {
	balance := float64(trader.Balance) / 100
	var unrealized float64
	for _, p := range positions {
		unrealized += float64(p.UnrealizedProfit) / 100
	}
	equity := balance + unrealized

	environment := "demo"
	if trader.IsLive {
		environment = "live"
	}
	currency := trader.Currency
	if currency == "" {
		currency = "USD"
	}

	return AccountSnapshot{
		AccountID:   strconv.FormatInt(trader.CtidTraderAccountID, 10),
		Balance:     balance,
		Equity:      equity,
		Margin:      0,
		FreeMargin:  equity,
		MarginLevel: 0,
		Currency:    currency,
		Leverage:    float64(trader.LeverageInCents) / 100,
		Environment: environment,
	}
}

func newPosition(p codec.PositionWire) Position {
	pos := Position{
		PositionID:   strconv.FormatInt(p.PositionID, 10),
		SymbolID:     p.SymbolID,
		Side:         tradeSideName(p.TradeSide),
		Volume:       p.Volume,
		EntryPrice:   float64(p.EntryPrice) / 100000,
		CurrentPrice: float64(p.CurrentPrice) / 100000,
		UnrealizedPL: float64(p.UnrealizedProfit) / 100,
		Swap:         float64(p.Swap) / 100,
		Commission:   float64(p.Commission) / 100,
		OpenTime:     p.OpenTimestampUnix,
	}
	if p.StopLoss != nil {
		sl := float64(*p.StopLoss) / 100000
		pos.StopLoss = &sl
	}
	if p.TakeProfit != nil {
		tp := float64(*p.TakeProfit) / 100000
		pos.TakeProfit = &tp
	}
	return pos
}

func newPositions(wire []codec.PositionWire) []Position {
	out := make([]Position, len(wire))
	for i, p := range wire {
		out[i] = newPosition(p)
	}
	return out
}
