package vitals

import (
	"strings"

	"github.com/gatewatch/gatewatch/pkg/types"
)

// Config is the parsed site configuration file served by the gateway.
// Only the portions the translator consumes are modeled; unknown fields
// are ignored.
type Config struct {
	VIN           string         `json:"vin"`
	SiteName      string         `json:"site_name"`
	BatteryBlocks []BatteryBlock `json:"battery_blocks"`
	Meters        []MeterConfig  `json:"meters"`
	Solars        []SolarConfig  `json:"solars"`
}

// GatewayDIN returns the gateway's own DIN as recorded in the config.
func (c *Config) GatewayDIN() types.DIN {
	return types.DIN(c.VIN)
}

// BatteryBlock is one battery unit attached to the gateway.
type BatteryBlock struct {
	VIN  string `json:"vin"`
	Type string `json:"type"`
}

func (b BatteryBlock) DIN() types.DIN {
	return types.DIN(b.VIN)
}

// IsNamedSignal reports whether the block is newer-generation hardware
// whose telemetry arrives as named-signal component lists and must be
// queried one battery at a time.
func (b BatteryBlock) IsNamedSignal() bool {
	return strings.EqualFold(b.Type, "Powerwall3")
}

// MeterConfig describes one external revenue meter and its CT channels.
type MeterConfig struct {
	Type   string     `json:"type"`
	Serial string     `json:"serial"`
	CTs    []CTConfig `json:"cts"`
}

// IsNeurio reports whether the meter is a Neurio revenue meter, the only
// external meter type with live readings in the status tree.
func (m MeterConfig) IsNeurio() bool {
	return strings.HasPrefix(m.Type, "neurio")
}

// CTConfig configures one current-transformer channel of a meter. A CT
// that is not enabled carries no usable reading even if the hardware
// reports one.
type CTConfig struct {
	Enabled        bool     `json:"enabled"`
	Location       string   `json:"location"`
	RealPowerScale *float64 `json:"realPowerScale"`
}

func (c CTConfig) scale() float64 {
	if c.RealPowerScale == nil {
		return 1
	}
	return *c.RealPowerScale
}

// SolarConfig is one configured solar array branding record.
type SolarConfig struct {
	Brand        string   `json:"brand"`
	PowerRatingW *float64 `json:"power_rating_watts"`
}
