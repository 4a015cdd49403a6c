package proto

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// RendezvousMessage is a oneof envelope whose variants are the message
// fields register_peer (6) through hc (26). Only the relay request variant
// matters to the relay; other top level fields are unknown and skipped.
const (
	fieldFirstVariant protowire.Number = 6
	fieldRequestRelay protowire.Number = 18
	fieldLastVariant  protowire.Number = 26
)

// RequestRelay field numbers.
const (
	relayID         protowire.Number = 1
	relayUUID       protowire.Number = 2
	relaySocketAddr protowire.Number = 3
	relayServer     protowire.Number = 4
	relaySecure     protowire.Number = 5
	relayLicenceKey protowire.Number = 6
	relayConnType   protowire.Number = 7
	relayToken      protowire.Number = 8
)

// ErrNotRequestRelay is returned for a well formed envelope carrying any
// other variant.
var ErrNotRequestRelay = errors.New("message is not a relay request")

// RequestRelay is sent by both peers as their first frame to the relay.
type RequestRelay struct {
	ID          string
	UUID        string
	SocketAddr  []byte
	RelayServer string
	Secure      bool
	LicenceKey  string
	ConnType    int32
	Token       string
}

// ParseRequestRelay decodes a RendezvousMessage envelope and returns its
// relay request. When several variants are present the last one wins.
func ParseRequestRelay(b []byte) (*RequestRelay, error) {
	var (
		variant protowire.Number
		body    []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("envelope tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.BytesType && num >= fieldFirstVariant && num <= fieldLastVariant {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("envelope field %d: %w", num, protowire.ParseError(m))
			}
			variant, body = num, v
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return nil, fmt.Errorf("envelope field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	if variant != fieldRequestRelay {
		return nil, ErrNotRequestRelay
	}
	return parseRelayBody(body)
}

func parseRelayBody(b []byte) (*RequestRelay, error) {
	rr := &RequestRelay{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("request_relay tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType && num != relayConnType && num != relaySecure:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, fmt.Errorf("request_relay field %d: %w", num, protowire.ParseError(m))
			}
			if num != relaySocketAddr && !utf8.Valid(v) {
				return nil, fmt.Errorf("request_relay field %d: invalid UTF-8", num)
			}
			switch num {
			case relayID:
				rr.ID = string(v)
			case relayUUID:
				rr.UUID = string(v)
			case relaySocketAddr:
				rr.SocketAddr = append([]byte(nil), v...)
			case relayServer:
				rr.RelayServer = string(v)
			case relayLicenceKey:
				rr.LicenceKey = string(v)
			case relayToken:
				rr.Token = string(v)
			}
			b = b[m:]
		case typ == protowire.VarintType && (num == relaySecure || num == relayConnType):
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, fmt.Errorf("request_relay field %d: %w", num, protowire.ParseError(m))
			}
			if num == relaySecure {
				rr.Secure = protowire.DecodeBool(v)
			} else {
				rr.ConnType = int32(v)
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("request_relay field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return rr, nil
}

// Marshal encodes rr wrapped in a RendezvousMessage envelope.
func (rr *RequestRelay) Marshal() []byte {
	var body []byte
	body = appendString(body, relayID, rr.ID)
	body = appendString(body, relayUUID, rr.UUID)
	if len(rr.SocketAddr) > 0 {
		body = protowire.AppendTag(body, relaySocketAddr, protowire.BytesType)
		body = protowire.AppendBytes(body, rr.SocketAddr)
	}
	body = appendString(body, relayServer, rr.RelayServer)
	if rr.Secure {
		body = protowire.AppendTag(body, relaySecure, protowire.VarintType)
		body = protowire.AppendVarint(body, protowire.EncodeBool(true))
	}
	body = appendString(body, relayLicenceKey, rr.LicenceKey)
	if rr.ConnType != 0 {
		body = protowire.AppendTag(body, relayConnType, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(rr.ConnType))
	}
	body = appendString(body, relayToken, rr.Token)

	out := protowire.AppendTag(nil, fieldRequestRelay, protowire.BytesType)
	return protowire.AppendBytes(out, body)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
