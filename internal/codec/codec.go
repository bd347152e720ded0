package codec

import (
	"brokergateway/internal/gwerrors"

	"google.golang.org/protobuf/encoding/protowire"
)

// Every frame on the wire carries one envelope: a payloadType tag plus the
// payload bytes for whatever catalog message that type names. Field 1 is
// the payloadType, field 2 the nested payload, mirroring the shape real
// OpenAPI-style gateways use for their outer ProtoMessage.
func marshalEnvelope(payloadType int32, payload []byte) []byte {
	var b []byte
	b = appendInt32Field(b, 1, payloadType)
	b = appendBytesField(b, 2, payload)
	return b
}

func unmarshalEnvelope(b []byte) (payloadType int32, payload []byte, err error) {
	err = walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(rest)
			payloadType = int32(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(rest)
			payload = v
			return n, err
		}
		return 0, nil
	})
	return payloadType, payload, err
}

// Encode builds a complete length-prefixed frame for msg: envelope it,
// marshal the payload, and prepend the 4-byte length header. It never
// writes a partial frame — on error it returns nil and the error, with
// nothing appended to any caller buffer.
func Encode(msg Message) ([]byte, error) {
	payload, err := marshalPayload(msg)
	if err != nil {
		return nil, err
	}
	envelope := marshalEnvelope(msg.PayloadType(), payload)
	return appendFrame(nil, envelope), nil
}

// DecodeFrame parses one frame body — the bytes Reassembler.Feed hands
// back, header already stripped — into its envelope fields, ready for
// DecodePayload.
func DecodeFrame(frameBody []byte) (payloadType int32, payload []byte, err error) {
	if len(frameBody) == 0 {
		return 0, nil, &gwerrors.FrameError{Reason: "empty frame body"}
	}
	return unmarshalEnvelope(frameBody)
}

// DecodePayload dispatches payload by payloadType into the matching
// catalog value. An unrecognized payloadType is reported via
// *gwerrors.UnknownType without treating the stream itself as broken —
// callers should log and continue rather than tear down the session.
func DecodePayload(payloadType int32, payload []byte) (any, error) {
	return decodePayloadByType(payloadType, payload)
}
