package tedapi

// Field numbers of the gateway's protobuf wire schema. The schema is
// proprietary and small, so messages are framed by hand with protowire
// instead of carrying generated bindings.

// envelope fields
const (
	envFieldDeliveryChannel = 1
	envFieldSender          = 2
	envFieldRecipient       = 3
	envFieldQuery           = 5
	envFieldConfig          = 6
	envFieldFirmware        = 7
	envFieldComponents      = 8
	envFieldFile            = 9
)

// participant fields
const (
	participantFieldDin   = 1
	participantFieldLocal = 2
)

// query payload fields
const (
	queryFieldText  = 1
	queryFieldCode  = 2
	queryFieldReply = 3
)

// config payload fields (access-point transport)
const (
	configFieldName = 1
	configFieldText = 2
)

// components payload fields
const (
	componentsFieldScopeDin = 1
	componentsFieldReply    = 2
)

// file payload fields (wired-LAN config read)
const (
	fileFieldName    = 1
	fileFieldContent = 2
)

// firmware payload fields
const (
	firmwareFieldRequested = 1
	firmwareFieldVersion   = 2
	firmwareFieldGitHash   = 3
	firmwareFieldGateway   = 4
	firmwareFieldWireless  = 5
)

// device id fields
const (
	deviceFieldPartNumber   = 1
	deviceFieldSerialNumber = 2
)

// wireless device fields
const (
	wirelessFieldCompany = 1
	wirelessFieldModel   = 2
	wirelessFieldFCCID   = 3
)

// outer routable message fields (wired-LAN transport)
const (
	outerFieldRequestID = 1
	outerFieldDomain    = 2
	outerFieldPayload   = 3
	outerFieldSignature = 4
	outerFieldFault     = 5
)

// signature block fields
const (
	sigFieldPublicKey = 1
	sigFieldSignature = 2
	sigFieldExpiresAt = 3
)

// Fault codes carried by the outer routable message on responses.
const (
	faultNone             = 0
	faultBusy             = 1
	faultTimeout          = 2
	faultUnknownKeyID     = 3
	faultInvalidSignature = 4
)

// TLV tags of the signed-payload preamble. The terminator closes the tag
// list; everything after it is the inner envelope.
const (
	tagSignatureType   = 0x00
	tagDomain          = 0x01
	tagPersonalization = 0x02
	tagExpiresAt       = 0x04
	tagTerminator      = 0xFF
)

const (
	signatureTypeRSA   = 7
	domainEnergyDevice = 7
)
