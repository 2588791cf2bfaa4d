package vitals

import "github.com/gatewatch/gatewatch/pkg/types"

// Status is the parsed reply of the status and device-controller queries.
// The plain status query answers with the flat summary fields; the
// device-controller query answers with the control/esCan/neurio/components
// tree. Both unmarshal into this one type so callers can treat them
// uniformly.
type Status struct {
	Control    *Control         `json:"control"`
	ESCan      *ESCan           `json:"esCan"`
	Neurio     *Neurio          `json:"neurio"`
	Components *ComponentGroups `json:"components"`

	SystemStatus    *SystemStatusSummary    `json:"system_status"`
	IslandStatus    *IslandStatusSummary    `json:"island_status"`
	MeterAggregates []MeterAggregateSummary `json:"meter_aggregates"`
	Alerts          *AlertLog               `json:"alerts"`
}

// Control is the control branch of the device-controller tree.
type Control struct {
	SystemStatus    *SystemStatus    `json:"systemStatus"`
	Islanding       *Islanding       `json:"islanding"`
	MeterAggregates []MeterAggregate `json:"meterAggregates"`
	Alerts          *AlertLog        `json:"alerts"`
}

type SystemStatus struct {
	NominalFullPackEnergyWh  *float64 `json:"nominalFullPackEnergyWh"`
	NominalEnergyRemainingWh *float64 `json:"nominalEnergyRemainingWh"`
}

type Islanding struct {
	CustomerIslandMode string `json:"customerIslandMode"`
	ContactorClosed    *bool  `json:"contactorClosed"`
	MicroGridOK        *bool  `json:"microGridOK"`
	GridOK             *bool  `json:"gridOK"`
}

type MeterAggregate struct {
	Location   string   `json:"location"`
	RealPowerW *float64 `json:"realPowerW"`
}

// Flat summary shapes answered by the plain status query.
type (
	SystemStatusSummary struct {
		NominalFullPackEnergy  *float64 `json:"nominal_full_pack_energy"`
		NominalEnergyRemaining *float64 `json:"nominal_energy_remaining"`
	}
	IslandStatusSummary struct {
		IslandState string `json:"island_state"`
		GridOK      *bool  `json:"grid_ok"`
	}
	MeterAggregateSummary struct {
		Location   string   `json:"location"`
		RealPowerW *float64 `json:"real_power_w"`
	}
)

// AlertLog is an active-alert list; a nil log means no alerts.
type AlertLog struct {
	Active []string `json:"active"`
}

// active never returns nil so downstream records always carry a list.
func (a *AlertLog) active() []string {
	if a == nil || a.Active == nil {
		return []string{}
	}
	return a.Active
}

// ESCan is the older hardware's CAN-bus telemetry branch.
type ESCan struct {
	Bus *Bus `json:"bus"`
}

// Bus groups the typed per-family device entries. PVAC/PVS/PINV/POD/THC
// repeat per battery pack and are paired by index; SYNC, ISLANDER, and
// MSA exist at most once.
type Bus struct {
	PVAC     []PVACDevice    `json:"PVAC"`
	PVS      []PVSDevice     `json:"PVS"`
	PINV     []PINVDevice    `json:"PINV"`
	POD      []PODDevice     `json:"POD"`
	THC      []THCDevice     `json:"THC"`
	SYNC     *SYNCDevice     `json:"SYNC"`
	ISLANDER *IslanderDevice `json:"ISLANDER"`
	MSA      *MSADevice      `json:"MSA"`
}

// busDevice is the identity block shared by every bus entry.
type busDevice struct {
	PackagePartNumber   string    `json:"packagePartNumber"`
	PackageSerialNumber string    `json:"packageSerialNumber"`
	Alerts              *AlertLog `json:"alerts"`
}

func (d busDevice) din() types.DIN {
	return types.JoinDIN(d.PackagePartNumber, d.PackageSerialNumber)
}

func (d busDevice) present() bool {
	return d.PackageSerialNumber != ""
}

// PVACDevice is a solar inverter stage.
type PVACDevice struct {
	busDevice
	Status  *PVACStatus  `json:"PVAC_Status"`
	Logging *PVACLogging `json:"PVAC_Logging"`
}

type PVACStatus struct {
	State string   `json:"PVAC_State"`
	Vout  *float64 `json:"PVAC_Vout"`
	Fout  *float64 `json:"PVAC_Fout"`
	Pout  *float64 `json:"PVAC_Pout"`
}

type PVACLogging struct {
	MIA      bool     `json:"isMIA"`
	VoltageA *float64 `json:"PVAC_PVMeasuredVoltage_A"`
	VoltageB *float64 `json:"PVAC_PVMeasuredVoltage_B"`
	VoltageC *float64 `json:"PVAC_PVMeasuredVoltage_C"`
	VoltageD *float64 `json:"PVAC_PVMeasuredVoltage_D"`
	CurrentA *float64 `json:"PVAC_PVCurrent_A"`
	CurrentB *float64 `json:"PVAC_PVCurrent_B"`
	CurrentC *float64 `json:"PVAC_PVCurrent_C"`
	CurrentD *float64 `json:"PVAC_PVCurrent_D"`
}

// stringReadings returns the measured DC voltage and current for string
// slot i (0 = A). Missing readings count as 0.
func (d PVACDevice) stringReadings(i int) (float64, float64) {
	l := d.Logging
	if l == nil {
		return 0, 0
	}
	volts := [4]*float64{l.VoltageA, l.VoltageB, l.VoltageC, l.VoltageD}
	amps := [4]*float64{l.CurrentA, l.CurrentB, l.CurrentC, l.CurrentD}
	if i < 0 || i >= len(volts) {
		return 0, 0
	}
	return num(volts[i]), num(amps[i])
}

// PVSDevice is the string-combiner stage paired with a PVAC by bus index.
type PVSDevice struct {
	busDevice
	Status *PVSStatus `json:"PVS_Status"`
}

type PVSStatus struct {
	State            string   `json:"PVS_State"`
	SelfTestState    string   `json:"PVS_SelfTestState"`
	VLL              *float64 `json:"PVS_vLL"`
	EnableOutput     *bool    `json:"PVS_EnableOutput"`
	StringAConnected *bool    `json:"PVS_StringA_Connected"`
	StringBConnected *bool    `json:"PVS_StringB_Connected"`
	StringCConnected *bool    `json:"PVS_StringC_Connected"`
	StringDConnected *bool    `json:"PVS_StringD_Connected"`
}

func (s *PVSStatus) stringConnected(i int) *bool {
	if s == nil {
		return nil
	}
	flags := [4]*bool{s.StringAConnected, s.StringBConnected, s.StringCConnected, s.StringDConnected}
	if i < 0 || i >= len(flags) {
		return nil
	}
	return flags[i]
}

// PINVDevice is a battery inverter stage.
type PINVDevice struct {
	busDevice
	Status *PINVStatus `json:"PINV_Status"`
}

type PINVStatus struct {
	State              string   `json:"PINV_State"`
	GridState          string   `json:"PINV_GridState"`
	Fout               *float64 `json:"PINV_Fout"`
	Pout               *float64 `json:"PINV_Pout"`
	Vout               *float64 `json:"PINV_Vout"`
	VSplit1            *float64 `json:"PINV_VSplit1"`
	VSplit2            *float64 `json:"PINV_VSplit2"`
	HardwareEnableLine *bool    `json:"PINV_HardwareEnableLine"`
}

// PODDevice is a battery pack's energy-status unit.
type PODDevice struct {
	busDevice
	EnergyStatus *PODEnergyStatus `json:"POD_EnergyStatus"`
	Status       *PODStatus       `json:"POD_Status"`
}

type PODEnergyStatus struct {
	NomEnergyRemaining *float64 `json:"POD_nom_energy_remaining"`
	NomFullPackEnergy  *float64 `json:"POD_nom_full_pack_energy"`
}

type PODStatus struct {
	ActiveHeating           *bool    `json:"POD_ActiveHeating"`
	ChargeComplete          *bool    `json:"POD_ChargeComplete"`
	ChargeRequest           *bool    `json:"POD_ChargeRequest"`
	DischargeComplete       *bool    `json:"POD_DischargeComplete"`
	PermanentlyFaulted      *bool    `json:"POD_PermanentlyFaulted"`
	PersistentlyFaulted     *bool    `json:"POD_PersistentlyFaulted"`
	EnableLine              *bool    `json:"POD_enable_line"`
	AvailableChargePower    *float64 `json:"POD_available_charge_power"`
	AvailableDischargePower *float64 `json:"POD_available_dischg_power"`
}

// THCDevice is a battery pack's thermal controller; its ambient
// temperature lives in the separate msa component list, not here.
type THCDevice struct {
	busDevice
	Status *THCStatus `json:"THC_Status"`
}

type THCStatus struct {
	State string `json:"THC_State"`
}

// SYNCDevice is the grid synchronization unit carrying the X and Y meter
// CT triplets.
type SYNCDevice struct {
	busDevice
	Status *SYNCStatus         `json:"SYNC_Status"`
	MeterX *MeterXMeasurements `json:"METER_X_AcMeasurements"`
	MeterY *MeterYMeasurements `json:"METER_Y_AcMeasurements"`
}

type SYNCStatus struct {
	State string `json:"SYNC_State"`
}

type MeterXMeasurements struct {
	MIA          bool     `json:"isMIA"`
	CTARealPower *float64 `json:"METER_X_CTA_InstRealPower"`
	CTBRealPower *float64 `json:"METER_X_CTB_InstRealPower"`
	CTCRealPower *float64 `json:"METER_X_CTC_InstRealPower"`
	VL1N         *float64 `json:"METER_X_VL1N"`
	VL2N         *float64 `json:"METER_X_VL2N"`
	VL3N         *float64 `json:"METER_X_VL3N"`
}

type MeterYMeasurements struct {
	MIA          bool     `json:"isMIA"`
	CTARealPower *float64 `json:"METER_Y_CTA_InstRealPower"`
	CTBRealPower *float64 `json:"METER_Y_CTB_InstRealPower"`
	CTCRealPower *float64 `json:"METER_Y_CTC_InstRealPower"`
	VL1N         *float64 `json:"METER_Y_VL1N"`
	VL2N         *float64 `json:"METER_Y_VL2N"`
	VL3N         *float64 `json:"METER_Y_VL3N"`
}

// IslanderDevice carries grid- and load-side AC measurements; its signals
// are folded into the synchronization unit's vitals entry.
type IslanderDevice struct {
	busDevice
	AcMeasurements *IslandAcMeasurements `json:"ISLAND_AcMeasurements"`
	GridConnection *IslandGridConnection `json:"ISLAND_GridConnection"`
}

type IslandAcMeasurements struct {
	MIA        bool     `json:"isMIA"`
	VL1NMain   *float64 `json:"ISLAND_VL1N_Main"`
	VL2NMain   *float64 `json:"ISLAND_VL2N_Main"`
	VL3NMain   *float64 `json:"ISLAND_VL3N_Main"`
	FreqL1Main *float64 `json:"ISLAND_FreqL1_Main"`
	FreqL2Main *float64 `json:"ISLAND_FreqL2_Main"`
	FreqL3Main *float64 `json:"ISLAND_FreqL3_Main"`
	VL1NLoad   *float64 `json:"ISLAND_VL1N_Load"`
	VL2NLoad   *float64 `json:"ISLAND_VL2N_Load"`
	VL3NLoad   *float64 `json:"ISLAND_VL3N_Load"`
	FreqL1Load *float64 `json:"ISLAND_FreqL1_Load"`
	FreqL2Load *float64 `json:"ISLAND_FreqL2_Load"`
	FreqL3Load *float64 `json:"ISLAND_FreqL3_Load"`
}

// gridConnectedValue is the sentinel text the islander reports while
// synchronized to the grid.
const gridConnectedValue = "ISLAND_GridConnected"

type IslandGridConnection struct {
	GridConnected string `json:"ISLAND_GridConnected"`
	MicroGridOK   *bool  `json:"ISLAND_MicroGridOK"`
}

// MSADevice is the backup-switch meter adapter with the Z CT pair.
type MSADevice struct {
	busDevice
	MeterZ *MeterZMeasurements `json:"METER_Z_AcMeasurements"`
}

type MeterZMeasurements struct {
	MIA          bool     `json:"isMIA"`
	CTARealPower *float64 `json:"METER_Z_CTA_InstRealPower"`
	CTBRealPower *float64 `json:"METER_Z_CTB_InstRealPower"`
	VL1G         *float64 `json:"METER_Z_VL1G"`
	VL2G         *float64 `json:"METER_Z_VL2G"`
}

// Neurio is the external revenue-meter branch of the status tree.
type Neurio struct {
	Readings []NeurioReading `json:"readings"`
}

type NeurioReading struct {
	Serial    string     `json:"serial"`
	Timestamp *float64   `json:"timestamp"`
	DataRead  []NeurioCT `json:"dataRead"`
}

type NeurioCT struct {
	RealPowerW       *float64 `json:"realPowerW"`
	ReactivePowerVAR *float64 `json:"reactivePowerVAR"`
	VoltageV         *float64 `json:"voltageV"`
	CurrentA         *float64 `json:"currentA"`
}
