package tedapi

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gatewatch/gatewatch/pkg/types"
)

// Participant identifies one end of an envelope: either a device named by
// DIN or the local (unaddressed) client.
type Participant struct {
	Din   types.DIN
	Local bool
}

// QueryPayload carries a telemetry query. Text is the fixed query string,
// Code the opaque pre-captured authorization token bound to that exact
// string, Reply the JSON document returned by the gateway.
type QueryPayload struct {
	Text  string
	Code  []byte
	Reply string
}

// ConfigPayload requests a named configuration file over the access-point
// transport. The gateway answers with the file body in Text.
type ConfigPayload struct {
	Name string
	Text string
}

// ComponentsPayload requests component signal lists on newer hardware,
// optionally scoped to one battery's DIN.
type ComponentsPayload struct {
	ScopeDin types.DIN
	Reply    string
}

// FilePayload is the wired-LAN file-read shape; the same config file is
// requested through a different message than on the access point.
type FilePayload struct {
	Name    string
	Content []byte
}

// DeviceID is a part/serial pair as reported in firmware responses.
type DeviceID struct {
	PartNumber   string
	SerialNumber string
}

// WirelessDevice describes one wireless radio reported by the gateway.
type WirelessDevice struct {
	Company string
	Model   string
	FCCID   string
}

// FirmwarePayload requests (Requested) or carries (everything else) the
// gateway firmware identity. Response fields are typed on the wire, not
// JSON.
type FirmwarePayload struct {
	Requested bool
	Version   string
	GitHash   string
	Gateway   DeviceID
	Wireless  []WirelessDevice
}

// Envelope is the inner message exchanged with the gateway on both
// transports. Exactly one payload field is set per message.
type Envelope struct {
	DeliveryChannel int32
	Sender          Participant
	Recipient       Participant

	Query      *QueryPayload
	Config     *ConfigPayload
	Components *ComponentsPayload
	Firmware   *FirmwarePayload
	File       *FilePayload
}

func appendSubmessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func (p Participant) marshal() []byte {
	var b []byte
	if p.Din != "" {
		b = appendStringField(b, participantFieldDin, p.Din.String())
	}
	if p.Local {
		b = appendVarintField(b, participantFieldLocal, 1)
	}
	return b
}

func (q *QueryPayload) marshal() []byte {
	var b []byte
	if q.Text != "" {
		b = appendStringField(b, queryFieldText, q.Text)
	}
	if len(q.Code) > 0 {
		b = appendBytesField(b, queryFieldCode, q.Code)
	}
	if q.Reply != "" {
		b = appendStringField(b, queryFieldReply, q.Reply)
	}
	return b
}

func (c *ConfigPayload) marshal() []byte {
	var b []byte
	if c.Name != "" {
		b = appendStringField(b, configFieldName, c.Name)
	}
	if c.Text != "" {
		b = appendStringField(b, configFieldText, c.Text)
	}
	return b
}

func (c *ComponentsPayload) marshal() []byte {
	var b []byte
	if c.ScopeDin != "" {
		b = appendStringField(b, componentsFieldScopeDin, c.ScopeDin.String())
	}
	if c.Reply != "" {
		b = appendStringField(b, componentsFieldReply, c.Reply)
	}
	return b
}

func (f *FilePayload) marshal() []byte {
	var b []byte
	if f.Name != "" {
		b = appendStringField(b, fileFieldName, f.Name)
	}
	if len(f.Content) > 0 {
		b = appendBytesField(b, fileFieldContent, f.Content)
	}
	return b
}

func (f *FirmwarePayload) marshal() []byte {
	var b []byte
	if f.Requested {
		b = appendVarintField(b, firmwareFieldRequested, 1)
	}
	if f.Version != "" {
		b = appendStringField(b, firmwareFieldVersion, f.Version)
	}
	if f.GitHash != "" {
		b = appendStringField(b, firmwareFieldGitHash, f.GitHash)
	}
	if f.Gateway != (DeviceID{}) {
		var d []byte
		d = appendStringField(d, deviceFieldPartNumber, f.Gateway.PartNumber)
		d = appendStringField(d, deviceFieldSerialNumber, f.Gateway.SerialNumber)
		b = appendSubmessage(b, firmwareFieldGateway, d)
	}
	for _, w := range f.Wireless {
		var d []byte
		d = appendStringField(d, wirelessFieldCompany, w.Company)
		d = appendStringField(d, wirelessFieldModel, w.Model)
		d = appendStringField(d, wirelessFieldFCCID, w.FCCID)
		b = appendSubmessage(b, firmwareFieldWireless, d)
	}
	return b
}

// Marshal frames the envelope into its wire form.
func (e *Envelope) Marshal() []byte {
	var b []byte
	if e.DeliveryChannel != 0 {
		b = appendVarintField(b, envFieldDeliveryChannel, uint64(e.DeliveryChannel))
	}
	b = appendSubmessage(b, envFieldSender, e.Sender.marshal())
	b = appendSubmessage(b, envFieldRecipient, e.Recipient.marshal())
	if e.Query != nil {
		b = appendSubmessage(b, envFieldQuery, e.Query.marshal())
	}
	if e.Config != nil {
		b = appendSubmessage(b, envFieldConfig, e.Config.marshal())
	}
	if e.Firmware != nil {
		b = appendSubmessage(b, envFieldFirmware, e.Firmware.marshal())
	}
	if e.Components != nil {
		b = appendSubmessage(b, envFieldComponents, e.Components.marshal())
	}
	if e.File != nil {
		b = appendSubmessage(b, envFieldFile, e.File.marshal())
	}
	return b
}

// fieldScanner walks the fields of one wire message, skipping anything it
// does not recognize so firmware-side schema additions never break parsing.
type fieldScanner struct {
	buf []byte
	err error
}

func (s *fieldScanner) next() (protowire.Number, protowire.Type, bool) {
	if s.err != nil || len(s.buf) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return 0, 0, false
	}
	s.buf = s.buf[n:]
	return num, typ, true
}

func (s *fieldScanner) varint() uint64 {
	v, n := protowire.ConsumeVarint(s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return 0
	}
	s.buf = s.buf[n:]
	return v
}

func (s *fieldScanner) bytes() []byte {
	v, n := protowire.ConsumeBytes(s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return nil
	}
	s.buf = s.buf[n:]
	return v
}

func (s *fieldScanner) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, s.buf)
	if n < 0 {
		s.err = protowire.ParseError(n)
		return
	}
	s.buf = s.buf[n:]
}

func parseParticipant(b []byte) (Participant, error) {
	var p Participant
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == participantFieldDin && typ == protowire.BytesType:
			p.Din = types.DIN(s.bytes())
		case num == participantFieldLocal && typ == protowire.VarintType:
			p.Local = s.varint() != 0
		default:
			s.skip(num, typ)
		}
	}
	return p, s.err
}

func parseQueryPayload(b []byte) (*QueryPayload, error) {
	q := &QueryPayload{}
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == queryFieldText && typ == protowire.BytesType:
			q.Text = string(s.bytes())
		case num == queryFieldCode && typ == protowire.BytesType:
			q.Code = append([]byte(nil), s.bytes()...)
		case num == queryFieldReply && typ == protowire.BytesType:
			q.Reply = string(s.bytes())
		default:
			s.skip(num, typ)
		}
	}
	return q, s.err
}

func parseConfigPayload(b []byte) (*ConfigPayload, error) {
	c := &ConfigPayload{}
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == configFieldName && typ == protowire.BytesType:
			c.Name = string(s.bytes())
		case num == configFieldText && typ == protowire.BytesType:
			c.Text = string(s.bytes())
		default:
			s.skip(num, typ)
		}
	}
	return c, s.err
}

func parseComponentsPayload(b []byte) (*ComponentsPayload, error) {
	c := &ComponentsPayload{}
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == componentsFieldScopeDin && typ == protowire.BytesType:
			c.ScopeDin = types.DIN(s.bytes())
		case num == componentsFieldReply && typ == protowire.BytesType:
			c.Reply = string(s.bytes())
		default:
			s.skip(num, typ)
		}
	}
	return c, s.err
}

func parseFilePayload(b []byte) (*FilePayload, error) {
	f := &FilePayload{}
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == fileFieldName && typ == protowire.BytesType:
			f.Name = string(s.bytes())
		case num == fileFieldContent && typ == protowire.BytesType:
			f.Content = append([]byte(nil), s.bytes()...)
		default:
			s.skip(num, typ)
		}
	}
	return f, s.err
}

func parseDeviceID(b []byte) (DeviceID, error) {
	var d DeviceID
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == deviceFieldPartNumber && typ == protowire.BytesType:
			d.PartNumber = string(s.bytes())
		case num == deviceFieldSerialNumber && typ == protowire.BytesType:
			d.SerialNumber = string(s.bytes())
		default:
			s.skip(num, typ)
		}
	}
	return d, s.err
}

func parseWirelessDevice(b []byte) (WirelessDevice, error) {
	var w WirelessDevice
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == wirelessFieldCompany && typ == protowire.BytesType:
			w.Company = string(s.bytes())
		case num == wirelessFieldModel && typ == protowire.BytesType:
			w.Model = string(s.bytes())
		case num == wirelessFieldFCCID && typ == protowire.BytesType:
			w.FCCID = string(s.bytes())
		default:
			s.skip(num, typ)
		}
	}
	return w, s.err
}

func parseFirmwarePayload(b []byte) (*FirmwarePayload, error) {
	f := &FirmwarePayload{}
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		switch {
		case num == firmwareFieldRequested && typ == protowire.VarintType:
			f.Requested = s.varint() != 0
		case num == firmwareFieldVersion && typ == protowire.BytesType:
			f.Version = string(s.bytes())
		case num == firmwareFieldGitHash && typ == protowire.BytesType:
			f.GitHash = string(s.bytes())
		case num == firmwareFieldGateway && typ == protowire.BytesType:
			d, err := parseDeviceID(s.bytes())
			if err != nil {
				return nil, err
			}
			f.Gateway = d
		case num == firmwareFieldWireless && typ == protowire.BytesType:
			w, err := parseWirelessDevice(s.bytes())
			if err != nil {
				return nil, err
			}
			f.Wireless = append(f.Wireless, w)
		default:
			s.skip(num, typ)
		}
	}
	return f, s.err
}

// UnmarshalEnvelope parses an envelope from its wire form.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	s := &fieldScanner{buf: b}
	for {
		num, typ, ok := s.next()
		if !ok {
			break
		}
		var err error
		switch {
		case num == envFieldDeliveryChannel && typ == protowire.VarintType:
			e.DeliveryChannel = int32(s.varint())
		case num == envFieldSender && typ == protowire.BytesType:
			e.Sender, err = parseParticipant(s.bytes())
		case num == envFieldRecipient && typ == protowire.BytesType:
			e.Recipient, err = parseParticipant(s.bytes())
		case num == envFieldQuery && typ == protowire.BytesType:
			e.Query, err = parseQueryPayload(s.bytes())
		case num == envFieldConfig && typ == protowire.BytesType:
			e.Config, err = parseConfigPayload(s.bytes())
		case num == envFieldComponents && typ == protowire.BytesType:
			e.Components, err = parseComponentsPayload(s.bytes())
		case num == envFieldFirmware && typ == protowire.BytesType:
			e.Firmware, err = parseFirmwarePayload(s.bytes())
		case num == envFieldFile && typ == protowire.BytesType:
			e.File, err = parseFilePayload(s.bytes())
		default:
			s.skip(num, typ)
		}
		if err != nil {
			return nil, fmt.Errorf("tedapi: malformed envelope: %w", err)
		}
	}
	if s.err != nil {
		return nil, fmt.Errorf("tedapi: malformed envelope: %w", s.err)
	}
	return e, nil
}

// ConfigText returns the config-file body from either transport's response
// shape.
func (e *Envelope) ConfigText() (string, bool) {
	if e.Config != nil && e.Config.Text != "" {
		return e.Config.Text, true
	}
	if e.File != nil && len(e.File.Content) > 0 {
		return string(e.File.Content), true
	}
	return "", false
}

// QueryReply returns the JSON document answering a query payload.
func (e *Envelope) QueryReply() (string, bool) {
	if e.Query == nil || e.Query.Reply == "" {
		return "", false
	}
	return e.Query.Reply, true
}

// ComponentsReply returns the JSON document answering a components payload.
func (e *Envelope) ComponentsReply() (string, bool) {
	if e.Components == nil || e.Components.Reply == "" {
		return "", false
	}
	return e.Components.Reply, true
}
