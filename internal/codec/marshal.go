package codec

import (
	"brokergateway/internal/gwerrors"

	"google.golang.org/protobuf/encoding/protowire"
)

// marshalPayload serializes a catalog message into its wire bytes. Field
// numbers below are the schema for this gateway's own catalog; they are not
// meant to mirror any particular broker's numbering, only to round-trip
// with decodePayloadByType.
func marshalPayload(m Message) ([]byte, error) {
	switch v := m.(type) {
	case VersionReq:
		return nil, nil
	case ApplicationAuthReq:
		var b []byte
		b = appendStringField(b, 1, v.ClientID)
		b = appendStringField(b, 2, v.ClientSecret)
		return b, nil
	case AccountAuthReq:
		var b []byte
		b = appendStringField(b, 1, v.AccessToken)
		b = appendInt64Field(b, 2, v.CtidTraderAccountID)
		return b, nil
	case ReconcileReq:
		var b []byte
		b = appendInt64Field(b, 1, v.CtidTraderAccountID)
		return b, nil
	case HeartbeatEvent:
		return nil, nil
	case NewOrderReq:
		var b []byte
		b = appendInt64Field(b, 1, v.CtidTraderAccountID)
		b = appendInt64Field(b, 2, v.SymbolID)
		b = appendInt32Field(b, 3, v.OrderType)
		b = appendInt32Field(b, 4, v.TradeSide)
		b = appendInt64Field(b, 5, v.Volume)
		if v.StopLoss != nil {
			b = appendInt64Field(b, 6, *v.StopLoss)
		}
		if v.TakeProfit != nil {
			b = appendInt64Field(b, 7, *v.TakeProfit)
		}
		if v.Comment != nil {
			b = appendStringField(b, 8, *v.Comment)
		}
		return b, nil
	case ClosePositionReq:
		var b []byte
		b = appendInt64Field(b, 1, v.CtidTraderAccountID)
		b = appendInt64Field(b, 2, v.PositionID)
		b = appendInt64Field(b, 3, v.Volume)
		return b, nil
	case VersionRes:
		var b []byte
		b = appendStringField(b, 1, v.Version)
		return b, nil
	case ApplicationAuthRes:
		return nil, nil
	case AccountAuthRes:
		var b []byte
		b = appendInt64Field(b, 1, v.CtidTraderAccountID)
		return b, nil
	case ReconcileRes:
		var b []byte
		b = appendMessageField(b, 1, marshalTraderInfo(v.Trader))
		for _, p := range v.Positions {
			b = appendMessageField(b, 2, marshalPositionWire(p))
		}
		return b, nil
	case ExecutionEvent:
		var b []byte
		b = appendInt64Field(b, 1, v.CtidTraderAccountID)
		b = appendInt32Field(b, 2, v.ExecutionType)
		if v.Position != nil {
			b = appendMessageField(b, 3, marshalPositionWire(*v.Position))
		}
		b = appendBytesField(b, 4, v.Raw)
		return b, nil
	case SpotEvent:
		var b []byte
		b = appendInt64Field(b, 1, v.CtidTraderAccountID)
		b = appendInt64Field(b, 2, v.SymbolID)
		b = appendInt64Field(b, 3, v.Bid)
		b = appendInt64Field(b, 4, v.Ask)
		return b, nil
	case ErrorRes:
		var b []byte
		b = appendStringField(b, 1, v.ErrorCode)
		b = appendStringField(b, 2, v.Description)
		return b, nil
	case AccountErrorRes:
		var b []byte
		b = appendInt64Field(b, 1, v.CtidTraderAccountID)
		b = appendStringField(b, 2, v.ErrorCode)
		b = appendStringField(b, 3, v.Description)
		return b, nil
	default:
		return nil, &gwerrors.EncodeError{Reason: "unregistered message type"}
	}
}

func marshalTraderInfo(t TraderInfo) []byte {
	var b []byte
	b = appendInt64Field(b, 1, t.CtidTraderAccountID)
	b = appendInt64Field(b, 2, t.Balance)
	b = appendInt64Field(b, 3, t.LeverageInCents)
	b = appendBoolField(b, 4, t.IsLive)
	b = appendStringField(b, 5, t.Currency)
	return b
}

func marshalPositionWire(p PositionWire) []byte {
	var b []byte
	b = appendInt64Field(b, 1, p.PositionID)
	b = appendInt64Field(b, 2, p.SymbolID)
	b = appendInt32Field(b, 3, p.TradeSide)
	b = appendInt64Field(b, 4, p.Volume)
	b = appendInt64Field(b, 5, p.EntryPrice)
	b = appendInt64Field(b, 6, p.CurrentPrice)
	b = appendInt64Field(b, 7, p.UnrealizedProfit)
	b = appendInt64Field(b, 8, p.Swap)
	b = appendInt64Field(b, 9, p.Commission)
	if p.StopLoss != nil {
		b = appendInt64Field(b, 10, *p.StopLoss)
	}
	if p.TakeProfit != nil {
		b = appendInt64Field(b, 11, *p.TakeProfit)
	}
	b = appendInt64Field(b, 12, p.OpenTimestampUnix)
	return b
}

func unmarshalTraderInfo(b []byte) (TraderInfo, error) {
	var t TraderInfo
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(rest)
			t.CtidTraderAccountID = int64(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(rest)
			t.Balance = int64(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(rest)
			t.LeverageInCents = int64(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(rest)
			t.IsLive = v != 0
			return n, err
		case 5:
			v, n, err := consumeBytes(rest)
			t.Currency = string(v)
			return n, err
		}
		return 0, nil
	})
	if t.Currency == "" {
		// Broker omitted currency; default to the account's implied base.
		t.Currency = "USD"
	}
	return t, err
}

func unmarshalPositionWire(b []byte) (PositionWire, error) {
	var p PositionWire
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(rest)
			p.PositionID = int64(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(rest)
			p.SymbolID = int64(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(rest)
			p.TradeSide = int32(v)
			return n, err
		case 4:
			v, n, err := consumeVarint(rest)
			p.Volume = int64(v)
			return n, err
		case 5:
			v, n, err := consumeVarint(rest)
			p.EntryPrice = int64(v)
			return n, err
		case 6:
			v, n, err := consumeVarint(rest)
			p.CurrentPrice = int64(v)
			return n, err
		case 7:
			v, n, err := consumeVarint(rest)
			p.UnrealizedProfit = int64(v)
			return n, err
		case 8:
			v, n, err := consumeVarint(rest)
			p.Swap = int64(v)
			return n, err
		case 9:
			v, n, err := consumeVarint(rest)
			p.Commission = int64(v)
			return n, err
		case 10:
			v, n, err := consumeVarint(rest)
			sl := int64(v)
			p.StopLoss = &sl
			return n, err
		case 11:
			v, n, err := consumeVarint(rest)
			tp := int64(v)
			p.TakeProfit = &tp
			return n, err
		case 12:
			v, n, err := consumeVarint(rest)
			p.OpenTimestampUnix = int64(v)
			return n, err
		}
		return 0, nil
	})
	return p, err
}

// decodePayloadByType dispatches on payloadType, returning a concrete
// catalog value. An unknown payloadType returns a nil value and a
// *gwerrors.UnknownType error; it is up to DecodePayload's caller to log
// and drop the frame rather than treat it as fatal.
func decodePayloadByType(payloadType int32, b []byte) (any, error) {
	switch payloadType {
	case PayloadTypeVersionReq:
		return VersionReq{}, nil
	case PayloadTypeVersionRes:
		var out VersionRes
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			if num == 1 {
				v, n, err := consumeBytes(rest)
				out.Version = string(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeApplicationAuthReq:
		var out ApplicationAuthReq
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeBytes(rest)
				out.ClientID = string(v)
				return n, err
			case 2:
				v, n, err := consumeBytes(rest)
				out.ClientSecret = string(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeApplicationAuthRes:
		return ApplicationAuthRes{}, nil
	case PayloadTypeAccountAuthReq:
		var out AccountAuthReq
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeBytes(rest)
				out.AccessToken = string(v)
				return n, err
			case 2:
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeAccountAuthRes:
		var out AccountAuthRes
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			if num == 1 {
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeReconcileReq:
		var out ReconcileReq
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			if num == 1 {
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeReconcileRes:
		var out ReconcileRes
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				raw, n, err := consumeBytes(rest)
				if err != nil {
					return n, err
				}
				trader, terr := unmarshalTraderInfo(raw)
				if terr != nil {
					return n, terr
				}
				out.Trader = trader
				return n, nil
			case 2:
				raw, n, err := consumeBytes(rest)
				if err != nil {
					return n, err
				}
				pos, perr := unmarshalPositionWire(raw)
				if perr != nil {
					return n, perr
				}
				out.Positions = append(out.Positions, pos)
				return n, nil
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeNewOrderReq:
		var out NewOrderReq
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			case 2:
				v, n, err := consumeVarint(rest)
				out.SymbolID = int64(v)
				return n, err
			case 3:
				v, n, err := consumeVarint(rest)
				out.OrderType = int32(v)
				return n, err
			case 4:
				v, n, err := consumeVarint(rest)
				out.TradeSide = int32(v)
				return n, err
			case 5:
				v, n, err := consumeVarint(rest)
				out.Volume = int64(v)
				return n, err
			case 6:
				v, n, err := consumeVarint(rest)
				sl := int64(v)
				out.StopLoss = &sl
				return n, err
			case 7:
				v, n, err := consumeVarint(rest)
				tp := int64(v)
				out.TakeProfit = &tp
				return n, err
			case 8:
				v, n, err := consumeBytes(rest)
				c := string(v)
				out.Comment = &c
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeClosePositionReq:
		var out ClosePositionReq
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			case 2:
				v, n, err := consumeVarint(rest)
				out.PositionID = int64(v)
				return n, err
			case 3:
				v, n, err := consumeVarint(rest)
				out.Volume = int64(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeExecutionEvent:
		var out ExecutionEvent
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			case 2:
				v, n, err := consumeVarint(rest)
				out.ExecutionType = int32(v)
				return n, err
			case 3:
				raw, n, err := consumeBytes(rest)
				if err != nil {
					return n, err
				}
				pos, perr := unmarshalPositionWire(raw)
				if perr != nil {
					return n, perr
				}
				out.Position = &pos
				return n, nil
			case 4:
				raw, n, err := consumeBytes(rest)
				out.Raw = raw
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeSpotEvent:
		var out SpotEvent
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			case 2:
				v, n, err := consumeVarint(rest)
				out.SymbolID = int64(v)
				return n, err
			case 3:
				v, n, err := consumeVarint(rest)
				out.Bid = int64(v)
				return n, err
			case 4:
				v, n, err := consumeVarint(rest)
				out.Ask = int64(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeHeartbeatEvent:
		return HeartbeatEvent{}, nil
	case PayloadTypeErrorRes:
		var out ErrorRes
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeBytes(rest)
				out.ErrorCode = string(v)
				return n, err
			case 2:
				v, n, err := consumeBytes(rest)
				out.Description = string(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	case PayloadTypeAccountErrorRes:
		var out AccountErrorRes
		err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeVarint(rest)
				out.CtidTraderAccountID = int64(v)
				return n, err
			case 2:
				v, n, err := consumeBytes(rest)
				out.ErrorCode = string(v)
				return n, err
			case 3:
				v, n, err := consumeBytes(rest)
				out.Description = string(v)
				return n, err
			}
			return 0, nil
		})
		return out, err
	default:
		return nil, &gwerrors.UnknownType{PayloadType: payloadType}
	}
}
