package tedapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gatewatch/gatewatch/pkg/types"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		in := &Envelope{
			DeliveryChannel: 1,
			Sender:          Participant{Local: true},
			Recipient:       Participant{Din: "PART--SERIAL"},
			Query: &QueryPayload{
				Text: "query StatusQuery { }",
				Code: []byte{0x01, 0x02, 0x03},
			},
		}
		out, err := UnmarshalEnvelope(in.Marshal())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("config reply", func(t *testing.T) {
		in := &Envelope{
			DeliveryChannel: 1,
			Sender:          Participant{Din: "PART--SERIAL"},
			Recipient:       Participant{Local: true},
			Config:          &ConfigPayload{Name: "config.json", Text: `{"vin":"PART--SERIAL"}`},
		}
		out, err := UnmarshalEnvelope(in.Marshal())
		require.NoError(t, err)
		assert.Equal(t, in, out)

		text, ok := out.ConfigText()
		require.True(t, ok)
		assert.Equal(t, `{"vin":"PART--SERIAL"}`, text)
	})

	t.Run("file reply", func(t *testing.T) {
		in := &Envelope{
			DeliveryChannel: 1,
			Sender:          Participant{Din: "PART--SERIAL"},
			Recipient:       Participant{Local: true},
			File:            &FilePayload{Name: "config.json", Content: []byte(`{"vin":"X"}`)},
		}
		out, err := UnmarshalEnvelope(in.Marshal())
		require.NoError(t, err)

		text, ok := out.ConfigText()
		require.True(t, ok)
		assert.Equal(t, `{"vin":"X"}`, text)
	})

	t.Run("components", func(t *testing.T) {
		in := &Envelope{
			DeliveryChannel: 1,
			Sender:          Participant{Local: true},
			Recipient:       Participant{Din: "PART--SERIAL"},
			Query:           &QueryPayload{Text: componentsQuery},
			Components:      &ComponentsPayload{ScopeDin: "BAT--1", Reply: `{"components":{}}`},
		}
		out, err := UnmarshalEnvelope(in.Marshal())
		require.NoError(t, err)
		assert.Equal(t, types.DIN("BAT--1"), out.Components.ScopeDin)

		reply, ok := out.ComponentsReply()
		require.True(t, ok)
		assert.Equal(t, `{"components":{}}`, reply)
	})

	t.Run("firmware", func(t *testing.T) {
		in := &Envelope{
			DeliveryChannel: 1,
			Sender:          Participant{Din: "PART--SERIAL"},
			Recipient:       Participant{Local: true},
			Firmware: &FirmwarePayload{
				Version: "24.12.1",
				GitHash: "abc123",
				Gateway: DeviceID{PartNumber: "PART", SerialNumber: "SERIAL"},
				Wireless: []WirelessDevice{
					{Company: "Quectel", Model: "BG95-M1", FCCID: "XMR2019BG95M1"},
					{Company: "Silicon Labs", Model: "WF200", FCCID: "XF6-RS9116SB"},
				},
			},
		}
		out, err := UnmarshalEnvelope(in.Marshal())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}

func TestUnmarshalEnvelopeSkipsUnknownFields(t *testing.T) {
	in := &Envelope{
		DeliveryChannel: 1,
		Sender:          Participant{Local: true},
		Recipient:       Participant{Din: "PART--SERIAL"},
		Query:           &QueryPayload{Reply: `{"control":{}}`},
	}
	b := in.Marshal()
	// simulate a firmware-side schema addition with a high field number
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, 101, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	out, err := UnmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalEnvelopeMalformed(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte{0x0a})
	assert.Error(t, err)
}

func TestQueryReplyMissing(t *testing.T) {
	e := &Envelope{Query: &QueryPayload{Text: "query"}}
	_, ok := e.QueryReply()
	assert.False(t, ok)

	e = &Envelope{}
	_, ok = e.ConfigText()
	assert.False(t, ok)
}
