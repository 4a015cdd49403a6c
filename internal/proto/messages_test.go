package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestParseRequestRelay(t *testing.T) {
	in := &RequestRelay{
		ID:          "123456789",
		UUID:        "0b6c2d8e-session",
		SocketAddr:  []byte{10, 0, 0, 1},
		RelayServer: "relay.example.com",
		Secure:      true,
		LicenceKey:  "secret",
		ConnType:    1,
		Token:       "tok",
	}
	out, err := ParseRequestRelay(in.Marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseRequestRelayOtherVariant(t *testing.T) {
	// register_peer = 6
	b := protowire.AppendTag(nil, 6, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x0a, 0x01, 'x'})

	_, err := ParseRequestRelay(b)
	assert.ErrorIs(t, err, ErrNotRequestRelay)

	_, err = ParseRequestRelay(nil)
	assert.ErrorIs(t, err, ErrNotRequestRelay)
}

func TestParseRequestRelayLastVariantWins(t *testing.T) {
	relay := (&RequestRelay{UUID: "abc"}).Marshal()

	other := protowire.AppendTag(nil, 6, protowire.BytesType)
	other = protowire.AppendBytes(other, nil)

	_, err := ParseRequestRelay(append(append([]byte{}, relay...), other...))
	assert.ErrorIs(t, err, ErrNotRequestRelay)

	rr, err := ParseRequestRelay(append(other, relay...))
	require.NoError(t, err)
	assert.Equal(t, "abc", rr.UUID)
}

func TestParseRequestRelayMalformed(t *testing.T) {
	good := (&RequestRelay{UUID: "abc", LicenceKey: "k"}).Marshal()

	_, err := ParseRequestRelay(good[:len(good)-1])
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotRequestRelay)

	_, err = ParseRequestRelay([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestParseRequestRelaySkipsUnknownFields(t *testing.T) {
	body := protowire.AppendTag(nil, 42, protowire.VarintType)
	body = protowire.AppendVarint(body, 7)
	body = protowire.AppendTag(body, relayUUID, protowire.BytesType)
	body = protowire.AppendString(body, "abc")
	msg := protowire.AppendTag(nil, fieldRequestRelay, protowire.BytesType)
	msg = protowire.AppendBytes(msg, body)

	rr, err := ParseRequestRelay(msg)
	require.NoError(t, err)
	assert.Equal(t, "abc", rr.UUID)
}

func TestParseRequestRelaySkipsUnknownEnvelopeFields(t *testing.T) {
	msg := (&RequestRelay{UUID: "abc"}).Marshal()
	msg = protowire.AppendTag(msg, 999, protowire.VarintType)
	msg = protowire.AppendVarint(msg, 1)
	msg = protowire.AppendTag(msg, 500, protowire.BytesType)
	msg = protowire.AppendBytes(msg, []byte("ignored"))

	rr, err := ParseRequestRelay(msg)
	require.NoError(t, err)
	assert.Equal(t, "abc", rr.UUID)
}

func TestParseRequestRelayRejectsInvalidUTF8(t *testing.T) {
	for _, num := range []protowire.Number{relayUUID, relayLicenceKey} {
		body := protowire.AppendTag(nil, num, protowire.BytesType)
		body = protowire.AppendBytes(body, []byte{0xff, 0xfe, 'a'})
		msg := protowire.AppendTag(nil, fieldRequestRelay, protowire.BytesType)
		msg = protowire.AppendBytes(msg, body)

		_, err := ParseRequestRelay(msg)
		require.Error(t, err, "field %d", num)
		assert.NotErrorIs(t, err, ErrNotRequestRelay)
	}

	rr, err := ParseRequestRelay((&RequestRelay{UUID: "sessão", SocketAddr: []byte{0xff, 0xfe}}).Marshal())
	require.NoError(t, err)
	assert.Equal(t, "sessão", rr.UUID)
}
