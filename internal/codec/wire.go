package codec

import (
	"brokergateway/internal/gwerrors"

	"google.golang.org/protobuf/encoding/protowire"
)

// wire.go implements the catalog's protobuf payloads by hand against
// google.golang.org/protobuf/encoding/protowire instead of against
// generated message types. There is a single encode/decode path here, not
// one per broker quirk, so field mapping can't drift between callers.

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	return protowire.AppendVarint(protowire.AppendTag(b, num, protowire.VarintType), v)
}

func appendInt64Field(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, uint64(v))
}

func appendInt32Field(b []byte, num protowire.Number, v int32) []byte {
	return appendVarintField(b, num, uint64(uint32(v)))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	u := uint64(0)
	if v {
		u = 1
	}
	return appendVarintField(b, num, u)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	return protowire.AppendBytes(protowire.AppendTag(b, num, protowire.BytesType), []byte(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	return protowire.AppendBytes(protowire.AppendTag(b, num, protowire.BytesType), v)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	return protowire.AppendBytes(protowire.AppendTag(b, num, protowire.BytesType), msg)
}

// fieldVisitor is called once per top-level field encountered while
// decoding a message. b starts just after the field's tag, and consumed is
// the number of bytes the field's value occupied (tag excluded), matching
// protowire.Consume* semantics.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) (consumed int, err error)

// walkFields drives a fieldVisitor across a flat protobuf message,
// skipping any field the visitor does not recognize (it returns 0
// consumed for unknown fields and walkFields falls back to
// ConsumeFieldValue).
func walkFields(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &gwerrors.DecodeError{Reason: "bad tag"}
		}
		rest := b[n:]

		consumed, err := visit(num, typ, rest)
		if err != nil {
			return err
		}
		if consumed == 0 {
			consumed = protowire.ConsumeFieldValue(num, typ, rest)
			if consumed < 0 {
				return &gwerrors.DecodeError{Reason: "bad field value"}
			}
		}
		b = rest[consumed:]
	}
	return nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, &gwerrors.DecodeError{Reason: "bad varint"}
	}
	return v, n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, &gwerrors.DecodeError{Reason: "bad length-delimited field"}
	}
	return v, n, nil
}
