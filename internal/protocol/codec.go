package protocol

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrDecode      = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
)

// Field numbers of the message body.
const (
	fieldKind      protowire.Number = 1
	fieldUsername  protowire.Number = 2
	fieldText      protowire.Number = 3
	fieldFilename  protowire.Number = 4
	fieldSize      protowire.Number = 5
	fieldOffset    protowire.Number = 6
	fieldData      protowire.Number = 7
	fieldVideoPort protowire.Number = 8
	fieldAudioPort protowire.Number = 9
	fieldUsers     protowire.Number = 10
	fieldMeta      protowire.Number = 11
)

// Field numbers of one metadata entry.
const (
	fieldMetaKey   protowire.Number = 1
	fieldMetaValue protowire.Number = 2
)

// Marshal encodes the message body (without the length prefix).
func Marshal(m *Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}
	if m.Size < 0 || m.Offset < 0 {
		return nil, fmt.Errorf("negative size or offset")
	}

	b := make([]byte, 0, 32+len(m.Username)+len(m.Text)+len(m.Filename)+len(m.Data))
	b = appendVarint(b, fieldKind, uint64(m.Kind))
	b = appendString(b, fieldUsername, m.Username)
	b = appendString(b, fieldText, m.Text)
	b = appendString(b, fieldFilename, m.Filename)
	b = appendVarint(b, fieldSize, uint64(m.Size))
	b = appendVarint(b, fieldOffset, uint64(m.Offset))
	if m.Data != nil {
		// Written even when empty so that an empty chunk survives the trip.
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	b = appendVarint(b, fieldVideoPort, uint64(m.VideoPort))
	b = appendVarint(b, fieldAudioPort, uint64(m.AudioPort))
	for _, u := range m.Users {
		b = protowire.AppendTag(b, fieldUsers, protowire.BytesType)
		b = protowire.AppendString(b, u)
	}
	if len(m.Meta) > 0 {
		keys := make([]string, 0, len(m.Meta))
		for k := range m.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var entry []byte
			entry = appendString(entry, fieldMetaKey, k)
			entry = appendString(entry, fieldMetaValue, m.Meta[k])
			b = protowire.AppendTag(b, fieldMeta, protowire.BytesType)
			b = protowire.AppendBytes(b, entry)
		}
	}
	return b, nil
}

// Unmarshal decodes a message body. Unknown field numbers are skipped; a
// missing or unknown kind is an error.
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := m.setVarint(num, v); err != nil {
				return nil, err
			}
		case typ == protowire.BytesType && isBytesField(num):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := m.setBytes(num, v); err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: %w: %d", ErrDecode, ErrUnknownKind, m.Kind)
	}
	return m, nil
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldKind, fieldSize, fieldOffset, fieldVideoPort, fieldAudioPort:
		return true
	}
	return false
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldUsername, fieldText, fieldFilename, fieldData, fieldUsers, fieldMeta:
		return true
	}
	return false
}

func (m *Message) setVarint(num protowire.Number, v uint64) error {
	switch num {
	case fieldKind:
		if v > math.MaxUint8 {
			return fmt.Errorf("%w: %w: %d", ErrDecode, ErrUnknownKind, v)
		}
		m.Kind = Kind(v)
	case fieldSize:
		if v > math.MaxInt64 {
			return fmt.Errorf("%w: size overflow", ErrDecode)
		}
		m.Size = int64(v)
	case fieldOffset:
		if v > math.MaxInt64 {
			return fmt.Errorf("%w: offset overflow", ErrDecode)
		}
		m.Offset = int64(v)
	case fieldVideoPort, fieldAudioPort:
		if v > math.MaxUint16 {
			return fmt.Errorf("%w: port %d out of range", ErrDecode, v)
		}
		if num == fieldVideoPort {
			m.VideoPort = int(v)
		} else {
			m.AudioPort = int(v)
		}
	}
	return nil
}

func (m *Message) setBytes(num protowire.Number, v []byte) error {
	switch num {
	case fieldUsername:
		m.Username = string(v)
	case fieldText:
		m.Text = string(v)
	case fieldFilename:
		m.Filename = string(v)
	case fieldData:
		// v aliases the frame buffer; the frame is owned by this message.
		m.Data = v
	case fieldUsers:
		m.Users = append(m.Users, string(v))
	case fieldMeta:
		k, val, err := consumeMetaEntry(v)
		if err != nil {
			return err
		}
		if m.Meta == nil {
			m.Meta = make(map[string]string)
		}
		m.Meta[k] = val
	}
	return nil
}

func consumeMetaEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("%w: meta: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != fieldMetaKey && num != fieldMetaValue) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", fmt.Errorf("%w: meta: %v", ErrDecode, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", "", fmt.Errorf("%w: meta: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldMetaKey {
			key = s
		} else {
			value = s
		}
	}
	return key, value, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
