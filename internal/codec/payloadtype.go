package codec

// Two numeric namespaces exist on the broker wire: a small base-protocol
// enum (payload types below 100, shared by any cTrader-style OpenAPI
// transport) and a vendor-specific "OA" enum in the 2100-2200 range. The
// two ranges do not collide in practice, but nothing on the wire guarantees
// that — a given integer could in principle appear in both tables with
// different meanings. classify resolves that by checking the vendor table
// first; see Classify below and the two-enum tests in codec_test.go.
const (
	// Base protocol (low-numbered).
	PayloadTypeErrorRes      int32 = 50
	PayloadTypeHeartbeatEvent int32 = 51

	// Vendor-specific ("OA") range, 2100-2200.
	PayloadTypeVersionReq         int32 = 2100
	PayloadTypeVersionRes         int32 = 2101
	PayloadTypeApplicationAuthReq int32 = 2102
	PayloadTypeApplicationAuthRes int32 = 2103
	PayloadTypeAccountAuthReq     int32 = 2104
	PayloadTypeAccountAuthRes     int32 = 2105
	PayloadTypeReconcileReq       int32 = 2106
	PayloadTypeReconcileRes       int32 = 2107
	PayloadTypeNewOrderReq        int32 = 2108
	PayloadTypeClosePositionReq   int32 = 2109
	PayloadTypeExecutionEvent     int32 = 2110
	PayloadTypeSpotEvent          int32 = 2111
	PayloadTypeAccountErrorRes    int32 = 2142
)

// baseTable and vendorTable name every payloadType in the fixed catalog.
// They exist mainly so Classify and the test suite have something to walk;
// the actual decode dispatch lives in decodePayloadByType.
var (
	vendorTable = map[int32]string{
		PayloadTypeVersionReq:         "VersionReq",
		PayloadTypeVersionRes:         "VersionRes",
		PayloadTypeApplicationAuthReq: "ApplicationAuthReq",
		PayloadTypeApplicationAuthRes: "ApplicationAuthRes",
		PayloadTypeAccountAuthReq:     "AccountAuthReq",
		PayloadTypeAccountAuthRes:     "AccountAuthRes",
		PayloadTypeReconcileReq:       "ReconcileReq",
		PayloadTypeReconcileRes:       "ReconcileRes",
		PayloadTypeNewOrderReq:        "NewOrderReq",
		PayloadTypeClosePositionReq:   "ClosePositionReq",
		PayloadTypeExecutionEvent:     "ExecutionEvent",
		PayloadTypeSpotEvent:          "SpotEvent",
		PayloadTypeAccountErrorRes:    "AccountErrorRes",
	}

	baseTable = map[int32]string{
		PayloadTypeErrorRes:       "ErrorRes",
		PayloadTypeHeartbeatEvent: "HeartbeatEvent",
	}
)

// Classify names a payloadType, checking the vendor table before the base
// table: a value present in both resolves to its vendor name.
func Classify(payloadType int32) (name string, known bool) {
	return classify(vendorTable, baseTable, payloadType)
}

// classify is the table-driven core of Classify, split out so tests can
// exercise the ordering rule against tables with a deliberate collision
// without mutating the real catalog.
func classify(vendor, base map[int32]string, payloadType int32) (string, bool) {
	if name, ok := vendor[payloadType]; ok {
		return name, true
	}
	if name, ok := base[payloadType]; ok {
		return name, true
	}
	return "", false
}
