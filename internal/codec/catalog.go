package codec

// Message is implemented by every type in the fixed catalog. PayloadType
// reports the wire payloadType the envelope should carry for that value.
type Message interface {
	PayloadType() int32
}

// --- Requests ---

// VersionReq opens the handshake. It carries no fields on the wire.
type VersionReq struct{}

func (VersionReq) PayloadType() int32 { return PayloadTypeVersionReq }

// ApplicationAuthReq authenticates the gateway's own client credentials.
type ApplicationAuthReq struct {
	ClientID     string
	ClientSecret string
}

func (ApplicationAuthReq) PayloadType() int32 { return PayloadTypeApplicationAuthReq }

// AccountAuthReq authenticates a specific trading account within the
// already-application-authed connection.
type AccountAuthReq struct {
	AccessToken         string
	CtidTraderAccountID int64
}

func (AccountAuthReq) PayloadType() int32 { return PayloadTypeAccountAuthReq }

// ReconcileReq requests the account/position snapshot used to seed a
// session after AccountAuthRes.
type ReconcileReq struct {
	CtidTraderAccountID int64
}

func (ReconcileReq) PayloadType() int32 { return PayloadTypeReconcileReq }

// HeartbeatEvent has no fields and is sent in both directions.
type HeartbeatEvent struct{}

func (HeartbeatEvent) PayloadType() int32 { return PayloadTypeHeartbeatEvent }

// NewOrderReq places an order. StopLoss/TakeProfit/Comment are optional and
// nil means "not set", not zero.
type NewOrderReq struct {
	CtidTraderAccountID int64
	SymbolID            int64
	OrderType           int32
	TradeSide           int32
	Volume              int64
	StopLoss            *int64
	TakeProfit          *int64
	Comment             *string
}

func (NewOrderReq) PayloadType() int32 { return PayloadTypeNewOrderReq }

// ClosePositionReq closes (fully or partially) an open position.
type ClosePositionReq struct {
	CtidTraderAccountID int64
	PositionID          int64
	Volume              int64
}

func (ClosePositionReq) PayloadType() int32 { return PayloadTypeClosePositionReq }

// --- Responses / events ---

// VersionRes acknowledges VersionReq.
type VersionRes struct {
	Version string
}

func (VersionRes) PayloadType() int32 { return PayloadTypeVersionRes }

// ApplicationAuthRes acknowledges ApplicationAuthReq. No fields.
type ApplicationAuthRes struct{}

func (ApplicationAuthRes) PayloadType() int32 { return PayloadTypeApplicationAuthRes }

// AccountAuthRes acknowledges AccountAuthReq.
type AccountAuthRes struct {
	CtidTraderAccountID int64
}

func (AccountAuthRes) PayloadType() int32 { return PayloadTypeAccountAuthRes }

// TraderInfo is the account half of a ReconcileRes. Balance and
// LeverageInCents are broker-units (÷100); Currency is read from the
// payload when the broker sends it and otherwise defaults to "USD".
type TraderInfo struct {
	CtidTraderAccountID int64
	Balance             int64
	LeverageInCents     int64
	IsLive              bool
	Currency            string
}

// PositionWire is the wire shape of one reconciled or updated position.
// Prices are scaled ÷100000, money amounts ÷100.
type PositionWire struct {
	PositionID        int64
	SymbolID          int64
	TradeSide         int32
	Volume            int64
	EntryPrice        int64
	CurrentPrice      int64
	UnrealizedProfit  int64
	Swap              int64
	Commission        int64
	StopLoss          *int64
	TakeProfit        *int64
	OpenTimestampUnix int64
}

// ReconcileRes is the broker's snapshot used to seed a session.
type ReconcileRes struct {
	Trader    TraderInfo
	Positions []PositionWire
}

func (ReconcileRes) PayloadType() int32 { return PayloadTypeReconcileRes }

// ExecutionEvent reports an order lifecycle transition. Raw carries the
// broker's untouched wire bytes for the event-specific detail the gateway
// does not interpret further — it relays order state, it does not match orders.
type ExecutionEvent struct {
	CtidTraderAccountID int64
	ExecutionType       int32
	Position            *PositionWire
	Raw                 []byte
}

func (ExecutionEvent) PayloadType() int32 { return PayloadTypeExecutionEvent }

// SpotEvent reports a bid/ask update for a symbol. Prices ÷100000.
type SpotEvent struct {
	CtidTraderAccountID int64
	SymbolID            int64
	Bid                 int64
	Ask                 int64
}

func (SpotEvent) PayloadType() int32 { return PayloadTypeSpotEvent }

// ErrorRes is a connection-level (not account-scoped) broker error.
type ErrorRes struct {
	ErrorCode   string
	Description string
}

func (ErrorRes) PayloadType() int32 { return PayloadTypeErrorRes }

// AccountErrorRes is an account-scoped broker error, e.g. a rejected order.
type AccountErrorRes struct {
	CtidTraderAccountID int64
	ErrorCode           string
	Description         string
}

func (AccountErrorRes) PayloadType() int32 { return PayloadTypeAccountErrorRes }
