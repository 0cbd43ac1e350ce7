package api

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// The wire format is standard protobuf encoding with fixed field numbers,
// written directly with protowire. Token fields: 1 version (int64),
// 2 name (string), 3 owner (string), 4 expirationTime (int64),
// 5 priority (double), 6 data (bytes). The authoritative message layout is
// documented in proto/master.proto.

type wireMessage interface {
	appendWire(b []byte) []byte
	unmarshalWire(b []byte) error
}

var (
	_ wireMessage = (*Token)(nil)
	_ wireMessage = (*GroupRequest)(nil)
	_ wireMessage = (*GroupResponse)(nil)
	_ wireMessage = (*QueryRequest)(nil)
	_ wireMessage = (*QueryResponse)(nil)
	_ wireMessage = (*ModifyRequest)(nil)
	_ wireMessage = (*ModifyResponse)(nil)
	_ wireMessage = (*QueryAndOwnRequest)(nil)
	_ wireMessage = (*QueryAndOwnResponse)(nil)
	_ wireMessage = (*ArchiveRequest)(nil)
	_ wireMessage = (*ArchiveResponse)(nil)
)

func appendMessage(b []byte, num protowire.Number, m wireMessage) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.appendWire(nil))
}

// consumeField reads one field tag and returns the remaining buffer together
// with the field number and type. A malformed tag is returned as an error.
func consumeField(b []byte) (protowire.Number, protowire.Type, []byte, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, 0, nil, protowire.ParseError(n)
	}
	return num, typ, b[n:], nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return b[n:], nil
}

func consumeVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func consumeFixed64(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return v, b[n:], nil
}

func (t *Token) appendWire(b []byte) []byte {
	if t.Version != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.Version))
	}
	if t.Name != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, t.Name)
	}
	if t.Owner != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, t.Owner)
	}
	if t.ExpirationTime != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.ExpirationTime))
	}
	if t.Priority != 0 {
		b = protowire.AppendTag(b, 5, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(t.Priority))
	}
	if len(t.Data) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Data)
	}
	return b
}

func (t *Token) unmarshalWire(b []byte) error {
	*t = Token{}
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		b = rest
		switch {
		case num == 1 && typ == protowire.VarintType:
			var v uint64
			v, b, err = consumeVarint(b)
			t.Version = int64(v)
		case num == 2 && typ == protowire.BytesType:
			var v []byte
			v, b, err = consumeBytes(b)
			t.Name = string(v)
		case num == 3 && typ == protowire.BytesType:
			var v []byte
			v, b, err = consumeBytes(b)
			t.Owner = string(v)
		case num == 4 && typ == protowire.VarintType:
			var v uint64
			v, b, err = consumeVarint(b)
			t.ExpirationTime = int64(v)
		case num == 5 && typ == protowire.Fixed64Type:
			var v uint64
			v, b, err = consumeFixed64(b)
			t.Priority = math.Float64frombits(v)
		case num == 6 && typ == protowire.BytesType:
			var v []byte
			v, b, err = consumeBytes(b)
			t.Data = append([]byte(nil), v...)
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Query) appendWire(b []byte) []byte {
	if q.NamePrefix != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, q.NamePrefix)
	}
	if q.MaxTokens != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(q.MaxTokens))
	}
	return b
}

func (q *Query) unmarshalWire(b []byte) error {
	*q = Query{}
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		b = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			var v []byte
			v, b, err = consumeBytes(b)
			q.NamePrefix = string(v)
		case num == 2 && typ == protowire.VarintType:
			var v uint64
			v, b, err = consumeVarint(b)
			q.MaxTokens = int32(v)
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *GroupRequest) appendWire(b []byte) []byte {
	if r.NamePrefix != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, r.NamePrefix)
	}
	if r.GroupSuffix != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, r.GroupSuffix)
	}
	return b
}

func (r *GroupRequest) unmarshalWire(b []byte) error {
	*r = GroupRequest{}
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		b = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			var v []byte
			v, b, err = consumeBytes(b)
			r.NamePrefix = string(v)
		case num == 2 && typ == protowire.BytesType:
			var v []byte
			v, b, err = consumeBytes(b)
			r.GroupSuffix = string(v)
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Group counts encode as map<string, int64>: repeated entries with field 1
// key and field 2 value.
func (r *GroupResponse) appendWire(b []byte) []byte {
	for group, count := range r.Counts {
		var entry []byte
		entry = protowire.AppendTag(entry, 1, protowire.BytesType)
		entry = protowire.AppendString(entry, group)
		entry = protowire.AppendTag(entry, 2, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(count))
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func (r *GroupResponse) unmarshalWire(b []byte) error {
	*r = GroupResponse{Counts: make(map[string]int64)}
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		b = rest
		if num != 1 || typ != protowire.BytesType {
			if b, err = skipField(num, typ, b); err != nil {
				return err
			}
			continue
		}
		var entry []byte
		entry, b, err = consumeBytes(b)
		if err != nil {
			return err
		}
		var group string
		var count int64
		for len(entry) > 0 {
			enum, etyp, erest, err := consumeField(entry)
			if err != nil {
				return err
			}
			entry = erest
			switch {
			case enum == 1 && etyp == protowire.BytesType:
				var v []byte
				v, entry, err = consumeBytes(entry)
				group = string(v)
			case enum == 2 && etyp == protowire.VarintType:
				var v uint64
				v, entry, err = consumeVarint(entry)
				count = int64(v)
			default:
				entry, err = skipField(enum, etyp, entry)
			}
			if err != nil {
				return err
			}
		}
		r.Counts[group] = count
	}
	return nil
}

func (r *QueryRequest) appendWire(b []byte) []byte {
	for _, q := range r.Queries {
		b = appendMessage(b, 1, q)
	}
	return b
}

func (r *QueryRequest) unmarshalWire(b []byte) error {
	*r = QueryRequest{}
	return consumeRepeated(b, 1, func(field []byte) error {
		q := &Query{}
		if err := q.unmarshalWire(field); err != nil {
			return err
		}
		r.Queries = append(r.Queries, q)
		return nil
	})
}

func (l *TokenList) appendWire(b []byte) []byte {
	for _, t := range l.Tokens {
		b = appendMessage(b, 1, t)
	}
	return b
}

func (l *TokenList) unmarshalWire(b []byte) error {
	*l = TokenList{}
	return consumeRepeated(b, 1, func(field []byte) error {
		t := &Token{}
		if err := t.unmarshalWire(field); err != nil {
			return err
		}
		l.Tokens = append(l.Tokens, t)
		return nil
	})
}

func (r *QueryResponse) appendWire(b []byte) []byte {
	for _, l := range r.Lists {
		b = appendMessage(b, 1, l)
	}
	return b
}

func (r *QueryResponse) unmarshalWire(b []byte) error {
	*r = QueryResponse{}
	return consumeRepeated(b, 1, func(field []byte) error {
		l := &TokenList{}
		if err := l.unmarshalWire(field); err != nil {
			return err
		}
		r.Lists = append(r.Lists, l)
		return nil
	})
}

func (r *ModifyRequest) appendWire(b []byte) []byte {
	for _, t := range r.Updates {
		b = appendMessage(b, 1, t)
	}
	for _, t := range r.Deletes {
		b = appendMessage(b, 2, t)
	}
	return b
}

func (r *ModifyRequest) unmarshalWire(b []byte) error {
	*r = ModifyRequest{}
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		b = rest
		if typ != protowire.BytesType || (num != 1 && num != 2) {
			if b, err = skipField(num, typ, b); err != nil {
				return err
			}
			continue
		}
		var field []byte
		field, b, err = consumeBytes(b)
		if err != nil {
			return err
		}
		t := &Token{}
		if err := t.unmarshalWire(field); err != nil {
			return err
		}
		if num == 1 {
			r.Updates = append(r.Updates, t)
		} else {
			r.Deletes = append(r.Deletes, t)
		}
	}
	return nil
}

func (r *ModifyResponse) appendWire(b []byte) []byte {
	for _, t := range r.Updates {
		b = appendMessage(b, 1, t)
	}
	return b
}

func (r *ModifyResponse) unmarshalWire(b []byte) error {
	*r = ModifyResponse{}
	return consumeRepeated(b, 1, func(field []byte) error {
		t := &Token{}
		if err := t.unmarshalWire(field); err != nil {
			return err
		}
		r.Updates = append(r.Updates, t)
		return nil
	})
}

func (r *QueryAndOwnRequest) appendWire(b []byte) []byte {
	if r.Owner != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, r.Owner)
	}
	if r.ExpirationTime != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.ExpirationTime))
	}
	if r.Query != nil {
		b = appendMessage(b, 3, r.Query)
	}
	return b
}

func (r *QueryAndOwnRequest) unmarshalWire(b []byte) error {
	*r = QueryAndOwnRequest{}
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		b = rest
		switch {
		case num == 1 && typ == protowire.BytesType:
			var v []byte
			v, b, err = consumeBytes(b)
			r.Owner = string(v)
		case num == 2 && typ == protowire.VarintType:
			var v uint64
			v, b, err = consumeVarint(b)
			r.ExpirationTime = int64(v)
		case num == 3 && typ == protowire.BytesType:
			var field []byte
			field, b, err = consumeBytes(b)
			if err != nil {
				return err
			}
			r.Query = &Query{}
			err = r.Query.unmarshalWire(field)
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *QueryAndOwnResponse) appendWire(b []byte) []byte {
	for _, t := range r.Tokens {
		b = appendMessage(b, 1, t)
	}
	return b
}

func (r *QueryAndOwnResponse) unmarshalWire(b []byte) error {
	*r = QueryAndOwnResponse{}
	return consumeRepeated(b, 1, func(field []byte) error {
		t := &Token{}
		if err := t.unmarshalWire(field); err != nil {
			return err
		}
		r.Tokens = append(r.Tokens, t)
		return nil
	})
}

func (r *ArchiveRequest) appendWire(b []byte) []byte {
	for _, t := range r.Tokens {
		b = appendMessage(b, 1, t)
	}
	return b
}

func (r *ArchiveRequest) unmarshalWire(b []byte) error {
	*r = ArchiveRequest{}
	return consumeRepeated(b, 1, func(field []byte) error {
		t := &Token{}
		if err := t.unmarshalWire(field); err != nil {
			return err
		}
		r.Tokens = append(r.Tokens, t)
		return nil
	})
}

func (r *ArchiveResponse) appendWire(b []byte) []byte { return b }

func (r *ArchiveResponse) unmarshalWire(b []byte) error {
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		if b, err = skipField(num, typ, rest); err != nil {
			return err
		}
	}
	return nil
}

// consumeRepeated decodes every occurrence of a repeated message field with
// the given number, skipping everything else.
func consumeRepeated(b []byte, want protowire.Number, decode func([]byte) error) error {
	for len(b) > 0 {
		num, typ, rest, err := consumeField(b)
		if err != nil {
			return err
		}
		b = rest
		if num != want || typ != protowire.BytesType {
			if b, err = skipField(num, typ, b); err != nil {
				return err
			}
			continue
		}
		var field []byte
		field, b, err = consumeBytes(b)
		if err != nil {
			return err
		}
		if err := decode(field); err != nil {
			return err
		}
	}
	return nil
}

// Codec is the gRPC codec used on both ends of the master connection.
type Codec struct{}

// CodecName identifies the codec in gRPC content subtype negotiation.
const CodecName = "pinball"

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("codec: cannot marshal %T", v)
	}
	return m.appendWire(nil), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("codec: cannot unmarshal into %T", v)
	}
	return m.unmarshalWire(data)
}

func (Codec) Name() string { return CodecName }
