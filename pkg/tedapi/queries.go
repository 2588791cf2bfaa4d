package tedapi

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gatewatch/gatewatch/pkg/types"
)

// QueryKind enumerates the queries the gateway understands. Each kind fixes
// both the outbound envelope shape and the response shape.
type QueryKind int

const (
	// QueryDin asks for the gateway's DIN. Answered in plain text over a
	// dedicated endpoint, not through an envelope.
	QueryDin QueryKind = iota

	// QueryConfig fetches the site configuration file.
	QueryConfig

	// QueryStatus fetches the system status summary.
	QueryStatus

	// QueryDeviceController fetches the full device-controller tree:
	// system status, islanding state, meter aggregates, alerts, and the
	// per-family bus/components telemetry.
	QueryDeviceController

	// QueryComponents fetches component signal lists on newer hardware.
	QueryComponents

	// QueryFirmware fetches the firmware version and gateway identity.
	QueryFirmware

	// QueryBatteryComponents is QueryComponents scoped to one battery's
	// DIN.
	QueryBatteryComponents
)

func (k QueryKind) String() string {
	switch k {
	case QueryDin:
		return "din"
	case QueryConfig:
		return "config"
	case QueryStatus:
		return "status"
	case QueryDeviceController:
		return "device-controller"
	case QueryComponents:
		return "components"
	case QueryFirmware:
		return "firmware"
	case QueryBatteryComponents:
		return "battery-components"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// cacheKey names the cache/lock slot for one operation. Per-battery
// component queries get their own slot per DIN.
func (k QueryKind) cacheKey(scope types.DIN) string {
	if k == QueryBatteryComponents {
		return "battery-" + scope.String()
	}
	return k.String()
}

// Default cache TTL per operation. Identity barely changes; telemetry is
// near-live.
func (k QueryKind) ttl() time.Duration {
	switch k {
	case QueryDin, QueryFirmware:
		return 4 * time.Hour
	case QueryConfig:
		return 5 * time.Minute
	default:
		return 5 * time.Second
	}
}

const configFileName = "config.json"

// The query strings are replayed verbatim; the gateway matches them against
// the authorization token below, so reformatting them breaks the request.
const (
	statusQuery = `query StatusQuery {
 system_status { nominal_full_pack_energy, nominal_energy_remaining }
 island_status { island_state, grid_ok }
 meter_aggregates { location, real_power_w }
 alerts { active }
}`

	deviceControllerQuery = `query DeviceControllerQuery {
 control { systemStatus { nominalFullPackEnergyWh nominalEnergyRemainingWh }
  islanding { customerIslandMode gridOK }
  meterAggregates { location realPowerW }
  alerts { active } }
 esCan { bus { PVAC PVS PINV POD THC SYNC ISLANDER MSA } }
 neurio { readings }
 components { msa signals }
}`

	componentsQuery = `query ComponentsQuery {
 components { pch bms hvp baggr pws { partNumber serialNumber activeAlerts signals { name value textValue boolValue } } }
}`
)

// Static authorization tokens replayed byte-for-byte with the legacy
// transport's queries. They were captured from real traffic and are bound
// to the exact query strings above; the device will not answer a query
// whose token does not match. They are not computed at runtime.
var legacyQueryCode = map[QueryKind][]byte{
	QueryStatus:           mustCode("VR9LO1DNpycGKyUjkVxTbVtOJ1j2ahJmryrqnkZTYSo="),
	QueryDeviceController: mustCode("0dUjGTBUE6UElCZWXIe3rJJKoFSlxLPkPROoyfQMvJo="),
	QueryComponents:       mustCode("aXG1zBkcguAIbzSTxyFWUQo2HxpOQ5sEwU2HnpbJ6uE="),
}

func mustCode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(fmt.Errorf("tedapi: bad embedded query code: %w", err))
	}
	return b
}

// buildRequest assembles the outbound envelope for one query. fileWire
// selects the wired-LAN file-read shape for config requests; everything
// else is identical across transports.
func buildRequest(kind QueryKind, gateway, scope types.DIN, fileWire bool) (*Envelope, error) {
	e := &Envelope{
		DeliveryChannel: 1,
		Sender:          Participant{Local: true},
		Recipient:       Participant{Din: gateway},
	}
	switch kind {
	case QueryConfig:
		if fileWire {
			e.File = &FilePayload{Name: configFileName}
		} else {
			e.Config = &ConfigPayload{Name: configFileName}
		}
	case QueryStatus:
		e.Query = &QueryPayload{Text: statusQuery, Code: legacyQueryCode[QueryStatus]}
	case QueryDeviceController:
		e.Query = &QueryPayload{Text: deviceControllerQuery, Code: legacyQueryCode[QueryDeviceController]}
	case QueryComponents:
		e.Query = &QueryPayload{Text: componentsQuery, Code: legacyQueryCode[QueryComponents]}
		e.Components = &ComponentsPayload{}
	case QueryBatteryComponents:
		if !scope.Valid() {
			return nil, fmt.Errorf("tedapi: battery components query needs a battery DIN")
		}
		e.Query = &QueryPayload{Text: componentsQuery, Code: legacyQueryCode[QueryComponents]}
		e.Components = &ComponentsPayload{ScopeDin: scope}
	case QueryFirmware:
		e.Firmware = &FirmwarePayload{Requested: true}
	default:
		return nil, fmt.Errorf("tedapi: query %s is not envelope-based", kind)
	}
	return e, nil
}
