package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrBadDatagram = errors.New("bad media datagram")

const (
	dgramUsername protowire.Number = 1
	dgramPayload  protowire.Number = 2
)

// Datagram is the media envelope sent over UDP. The relay reads only the
// username; the payload is opaque to it.
type Datagram struct {
	Username string
	Payload  []byte
}

func (d Datagram) Marshal() []byte {
	b := make([]byte, 0, len(d.Username)+len(d.Payload)+12)
	b = protowire.AppendTag(b, dgramUsername, protowire.BytesType)
	b = protowire.AppendString(b, d.Username)
	b = protowire.AppendTag(b, dgramPayload, protowire.BytesType)
	return protowire.AppendBytes(b, d.Payload)
}

// UnmarshalDatagram decodes a full datagram. Payload aliases b.
func UnmarshalDatagram(b []byte) (Datagram, error) {
	var d Datagram
	var seenUser bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Datagram{}, fmt.Errorf("%w: %v", ErrBadDatagram, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != dgramUsername && num != dgramPayload) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Datagram{}, fmt.Errorf("%w: %v", ErrBadDatagram, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Datagram{}, fmt.Errorf("%w: %v", ErrBadDatagram, protowire.ParseError(n))
		}
		b = b[n:]
		if num == dgramUsername {
			d.Username = string(v)
			seenUser = true
		} else {
			d.Payload = v
		}
	}
	if !seenUser || d.Username == "" {
		return Datagram{}, fmt.Errorf("%w: missing username", ErrBadDatagram)
	}
	return d, nil
}

// DatagramSender extracts only the username, stopping as soon as it is found.
func DatagramSender(b []byte) (string, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", fmt.Errorf("%w: %v", ErrBadDatagram, protowire.ParseError(n))
		}
		b = b[n:]
		if num == dgramUsername && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", fmt.Errorf("%w: %v", ErrBadDatagram, protowire.ParseError(n))
			}
			if v == "" {
				break
			}
			return v, nil
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return "", fmt.Errorf("%w: %v", ErrBadDatagram, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return "", fmt.Errorf("%w: missing username", ErrBadDatagram)
}
