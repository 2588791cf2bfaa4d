package vitals

// ComponentsTree is the parsed reply of a components query on newer
// hardware.
type ComponentsTree struct {
	Components ComponentGroups `json:"components"`
}

// ComponentGroups holds the named-signal component lists by subsystem.
// Older hardware only populates msa (used for ambient temperatures);
// newer hardware reports everything here instead of the typed bus.
type ComponentGroups struct {
	MSA   []SignalComponent `json:"msa"`
	PCH   []SignalComponent `json:"pch"`
	BMS   []SignalComponent `json:"bms"`
	HVP   []SignalComponent `json:"hvp"`
	BAGGR []SignalComponent `json:"baggr"`
	PWS   []SignalComponent `json:"pws"`
}

// SignalComponent is one sub-device reporting a flat list of named
// signals.
type SignalComponent struct {
	PartNumber   string           `json:"partNumber"`
	SerialNumber string           `json:"serialNumber"`
	ActiveAlerts []ComponentAlert `json:"activeAlerts"`
	Signals      []Signal         `json:"signals"`
}

type ComponentAlert struct {
	Name string `json:"name"`
}

// Signal carries exactly one of a numeric, text, or boolean value.
type Signal struct {
	Name      string   `json:"name"`
	Value     *float64 `json:"value"`
	TextValue *string  `json:"textValue"`
	BoolValue *bool    `json:"boolValue"`
}

// Lookup finds a signal by name with a linear scan; component signal
// lists are short and unordered.
func (c SignalComponent) Lookup(name string) *Signal {
	for i := range c.Signals {
		if c.Signals[i].Name == name {
			return &c.Signals[i]
		}
	}
	return nil
}

// Number returns the named numeric signal, or 0 when absent.
func (c SignalComponent) Number(name string) float64 {
	if s := c.Lookup(name); s != nil && s.Value != nil {
		return *s.Value
	}
	return 0
}

// NumberIfPresent returns the named numeric signal, or nil when absent.
func (c SignalComponent) NumberIfPresent(name string) *float64 {
	if s := c.Lookup(name); s != nil {
		return s.Value
	}
	return nil
}

// Text returns the named text signal, or "Unknown" when absent.
func (c SignalComponent) Text(name string) string {
	if s := c.Lookup(name); s != nil && s.TextValue != nil {
		return *s.TextValue
	}
	return "Unknown"
}

// Bool returns the named boolean signal, or false when absent.
func (c SignalComponent) Bool(name string) bool {
	if s := c.Lookup(name); s != nil && s.BoolValue != nil {
		return *s.BoolValue
	}
	return false
}

// alerts never returns nil so downstream records always carry a list.
func (c SignalComponent) alerts() []string {
	out := make([]string, 0, len(c.ActiveAlerts))
	for _, a := range c.ActiveAlerts {
		out = append(out, a.Name)
	}
	return out
}
