package vitals

import (
	"fmt"
	"time"

	"github.com/gatewatch/gatewatch/pkg/types"
)

// Record is the canonical flat vitals output: one entry per physical
// sub-device, keyed "{FAMILY}--{partNumber}--{serialNumber}", plus one
// informational header entry.
type Record map[string]Entry

// Entry is the signal map of one device. Every entry carries an "alerts"
// list, possibly empty.
type Entry map[string]any

// Meta stamps the header entry of a record.
type Meta struct {
	GeneratedAt time.Time
	Host        string
	Version     string
}

const headerKey = "__vitals"

// Device families of the canonical record.
const (
	familyGateway = "STSTSM"
	familyPVAC    = "PVAC"
	familyPVS     = "PVS"
	familyPINV    = "TEPINV"
	familyPOD     = "TEPOD"
	familyTHC     = "TETHC"
	familySync    = "TESYNC"
	familyMSA     = "TEMSA"
	familyNeurio  = "NEURIO"
	familyMeter   = "TESLA"
)

// ECU type codes reported per family.
const (
	ecuGateway = 207
	ecuTHC     = 224
	ecuPOD     = 226
	ecuPINV    = 253
	ecuPVAC    = 296
	ecuPVS     = 297
	ecuSync    = 259
	ecuMSA     = 300
)

// Internal meter locations reported in meterAttributes.
const (
	meterLocationSite  = 1
	meterLocationSolar = 2
)

var (
	stringSlots    = [...]string{"A", "B", "C", "D"}
	pw3StringSlots = [...]string{"A", "B", "C", "D", "E", "F"}
)

// Translate builds the canonical vitals record from the parsed site
// config, a device-controller status tree, and the per-battery component
// trees of any newer-generation batteries. It is a pure function: it
// reads nothing but its arguments and carries no state between calls.
// Families are disjoint by key prefix, so the per-family sub-maps merge
// in any order.
func Translate(cfg *Config, st *Status, batteries map[types.DIN]*ComponentsTree, meta Meta) Record {
	r := make(Record)
	if cfg == nil || st == nil {
		return r
	}
	gateway := cfg.GatewayDIN()
	gatewayKey := deviceKey(familyGateway, gateway)
	r[headerKey] = headerEntry(gateway, meta)
	r[gatewayKey] = gatewayEntry(gateway, st)

	if st.ESCan != nil && st.ESCan.Bus != nil {
		translateBus(r, gatewayKey, st.ESCan.Bus, st.Components)
	}
	translateNeurio(r, gatewayKey, cfg, st)
	translateMeterIdentity(r, gatewayKey, cfg, st)
	for battery, tree := range batteries {
		if tree == nil {
			continue
		}
		translateNamedSignals(r, gatewayKey, battery, &tree.Components)
	}
	return r
}

func deviceKey(family string, din types.DIN) string {
	return family + "--" + din.String()
}

func headerEntry(gateway types.DIN, meta Meta) Entry {
	return Entry{
		"timestamp": meta.GeneratedAt.Unix(),
		"gateway":   gateway.String(),
		"host":      meta.Host,
		"version":   meta.Version,
	}
}

func gatewayEntry(gateway types.DIN, st *Status) Entry {
	alerts := st.Alerts
	if st.Control != nil {
		alerts = st.Control.Alerts
	}
	return Entry{
		"STSTSM_Location":          "Gateway",
		"partNumber":               gateway.PartNumber(),
		"serialNumber":             gateway.SerialNumber(),
		"manufacturer":             "TESLA",
		"alerts":                   alerts.active(),
		"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecuGateway},
	}
}

// baseEntry builds the identity fields shared by every bus-device entry.
func baseEntry(d busDevice, parent string, ecu int) Entry {
	return Entry{
		"partNumber":               d.PackagePartNumber,
		"serialNumber":             d.PackageSerialNumber,
		"manufacturer":             "TESLA",
		"componentParentDin":       parent,
		"alerts":                   d.Alerts.active(),
		"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecu},
	}
}

func translateBus(r Record, gatewayKey string, bus *Bus, comps *ComponentGroups) {
	// thermal controllers come first: pack-level entries parent to them
	thcKeys := make([]string, len(bus.THC))
	for i, thc := range bus.THC {
		key := deviceKey(familyTHC, thc.din())
		thcKeys[i] = key
		e := baseEntry(thc.busDevice, gatewayKey, ecuTHC)
		if thc.Status != nil {
			e["THC_State"] = thc.Status.State
		}
		e.putNum("THC_AmbientTemp", ambientTemp(comps, thc.PackageSerialNumber))
		r[key] = e
	}
	parentFor := func(i int) string {
		if i < len(thcKeys) {
			return thcKeys[i]
		}
		return gatewayKey
	}

	for i, pod := range bus.POD {
		e := baseEntry(pod.busDevice, parentFor(i), ecuPOD)
		var remaining, fullPack *float64
		if pod.EnergyStatus != nil {
			remaining = pod.EnergyStatus.NomEnergyRemaining
			fullPack = pod.EnergyStatus.NomFullPackEnergy
		}
		addPackEnergy(e, remaining, fullPack)
		if s := pod.Status; s != nil {
			e.putBool("POD_ActiveHeating", s.ActiveHeating)
			e.putBool("POD_ChargeComplete", s.ChargeComplete)
			e.putBool("POD_ChargeRequest", s.ChargeRequest)
			e.putBool("POD_DischargeComplete", s.DischargeComplete)
			e.putBool("POD_PermanentlyFaulted", s.PermanentlyFaulted)
			e.putBool("POD_PersistentlyFaulted", s.PersistentlyFaulted)
			e.putBool("POD_enable_line", s.EnableLine)
			e.putNum("POD_available_charge_power", s.AvailableChargePower)
			e.putNum("POD_available_dischg_power", s.AvailableDischargePower)
		}
		r[deviceKey(familyPOD, pod.din())] = e
	}

	for i, pinv := range bus.PINV {
		e := baseEntry(pinv.busDevice, parentFor(i), ecuPINV)
		if s := pinv.Status; s != nil {
			e["PINV_State"] = s.State
			e["PINV_GridState"] = s.GridState
			e.putNum("PINV_Fout", s.Fout)
			e.putNum("PINV_Pout", s.Pout)
			e.putNum("PINV_Vout", s.Vout)
			e.putNum("PINV_VSplit1", s.VSplit1)
			e.putNum("PINV_VSplit2", s.VSplit2)
			e.putBool("PINV_HardwareEnableLine", s.HardwareEnableLine)
		}
		r[deviceKey(familyPINV, pinv.din())] = e
	}

	for i, pvac := range bus.PVAC {
		var pvs *PVSDevice
		if i < len(bus.PVS) {
			pvs = &bus.PVS[i]
		}
		e := baseEntry(pvac.busDevice, parentFor(i), ecuPVAC)
		if s := pvac.Status; s != nil {
			e["PVAC_State"] = s.State
			e.putNum("PVAC_Vout", s.Vout)
			e.putNum("PVAC_Fout", s.Fout)
			e.putNum("PVAC_Pout", s.Pout)
		}
		for slot, name := range stringSlots {
			volts, amps := pvac.stringReadings(slot)
			e["PVAC_PVMeasuredVoltage_"+name] = volts
			e["PVAC_PVCurrent_"+name] = amps
			e["PVAC_PVMeasuredPower_"+name] = volts * amps
			e["PVAC_PvState_"+name] = stringState(pvs, slot)
		}
		r[deviceKey(familyPVAC, pvac.din())] = e

		if pvs != nil && pvs.present() {
			pe := baseEntry(pvs.busDevice, parentFor(i), ecuPVS)
			if s := pvs.Status; s != nil {
				pe["PVS_State"] = s.State
				pe["PVS_SelfTestState"] = s.SelfTestState
				pe.putNum("PVS_vLL", s.VLL)
				pe.putBool("PVS_EnableOutput", s.EnableOutput)
				for slot, name := range stringSlots {
					pe.putBool("PVS_String"+name+"_Connected", s.stringConnected(slot))
				}
			}
			r[deviceKey(familyPVS, pvs.din())] = pe
		}
	}

	if sync := bus.SYNC; sync != nil && sync.present() {
		e := baseEntry(sync.busDevice, gatewayKey, ecuSync)
		if sync.Status != nil {
			e["SYNC_State"] = sync.Status.State
		}
		if m := sync.MeterX; m != nil {
			e.putNum("METER_X_CTA_InstRealPower", m.CTARealPower)
			e.putNum("METER_X_CTB_InstRealPower", m.CTBRealPower)
			e.putNum("METER_X_CTC_InstRealPower", m.CTCRealPower)
			e.putNum("METER_X_VL1N", m.VL1N)
			e.putNum("METER_X_VL2N", m.VL2N)
			e.putNum("METER_X_VL3N", m.VL3N)
			e["METER_X_VLL"] = LineToLineVoltage(num(m.VL1N), num(m.VL2N), num(m.VL3N))
		}
		if m := sync.MeterY; m != nil {
			e.putNum("METER_Y_CTA_InstRealPower", m.CTARealPower)
			e.putNum("METER_Y_CTB_InstRealPower", m.CTBRealPower)
			e.putNum("METER_Y_CTC_InstRealPower", m.CTCRealPower)
			e.putNum("METER_Y_VL1N", m.VL1N)
			e.putNum("METER_Y_VL2N", m.VL2N)
			e.putNum("METER_Y_VL3N", m.VL3N)
			e["METER_Y_VLL"] = LineToLineVoltage(num(m.VL1N), num(m.VL2N), num(m.VL3N))
		}
		if isl := bus.ISLANDER; isl != nil {
			if m := isl.AcMeasurements; m != nil {
				e.putNum("ISLAND_VL1N_Main", m.VL1NMain)
				e.putNum("ISLAND_VL2N_Main", m.VL2NMain)
				e.putNum("ISLAND_VL3N_Main", m.VL3NMain)
				e.putNum("ISLAND_FreqL1_Main", m.FreqL1Main)
				e.putNum("ISLAND_FreqL2_Main", m.FreqL2Main)
				e.putNum("ISLAND_FreqL3_Main", m.FreqL3Main)
				e.putNum("ISLAND_VL1N_Load", m.VL1NLoad)
				e.putNum("ISLAND_VL2N_Load", m.VL2NLoad)
				e.putNum("ISLAND_VL3N_Load", m.VL3NLoad)
				e.putNum("ISLAND_FreqL1_Load", m.FreqL1Load)
				e.putNum("ISLAND_FreqL2_Load", m.FreqL2Load)
				e.putNum("ISLAND_FreqL3_Load", m.FreqL3Load)
			}
			if gc := isl.GridConnection; gc != nil {
				e["ISLAND_GridConnected"] = gc.GridConnected == gridConnectedValue
				e.putBool("ISLAND_MicroGridOK", gc.MicroGridOK)
			}
		}
		r[deviceKey(familySync, sync.din())] = e
	}

	if msa := bus.MSA; msa != nil && msa.present() {
		e := baseEntry(msa.busDevice, gatewayKey, ecuMSA)
		if m := msa.MeterZ; m != nil {
			e.putNum("METER_Z_CTA_InstRealPower", m.CTARealPower)
			e.putNum("METER_Z_CTB_InstRealPower", m.CTBRealPower)
			e.putNum("METER_Z_VL1G", m.VL1G)
			e.putNum("METER_Z_VL2G", m.VL2G)
		}
		r[deviceKey(familyMSA, msa.din())] = e
	}
}

// stringState derives a solar string's state from the companion
// combiner's connected flag. No companion data means Unknown, never a
// failure.
func stringState(pvs *PVSDevice, slot int) string {
	if pvs == nil {
		return "Unknown"
	}
	connected := pvs.Status.stringConnected(slot)
	if connected == nil {
		return "Unknown"
	}
	if *connected {
		return "PV_Active"
	}
	return "PV_Disabled"
}

// ambientTemp looks up a pack's ambient temperature from the msa
// component list by serial number.
func ambientTemp(comps *ComponentGroups, serial string) *float64 {
	if comps == nil || serial == "" {
		return nil
	}
	for _, c := range comps.MSA {
		if c.SerialNumber != serial {
			continue
		}
		if s := c.Lookup("THC_AmbientTemp"); s != nil {
			return s.Value
		}
	}
	return nil
}

func translateNeurio(r Record, gatewayKey string, cfg *Config, st *Status) {
	if st.Neurio == nil {
		return
	}
	meters := make(map[string]MeterConfig)
	for _, m := range cfg.Meters {
		if m.IsNeurio() {
			meters[m.Serial] = m
		}
	}
	for _, reading := range st.Neurio.Readings {
		m, ok := meters[reading.Serial]
		if !ok {
			continue
		}
		e := Entry{
			"serialNumber":       reading.Serial,
			"manufacturer":       "NEURIO",
			"componentParentDin": gatewayKey,
			"alerts":             []string{},
		}
		for i, ct := range reading.DataRead {
			if i >= len(m.CTs) || !m.CTs[i].Enabled {
				continue
			}
			prefix := fmt.Sprintf("NEURIO_CT%d_", i)
			e[prefix+"Location"] = m.CTs[i].Location
			e[prefix+"InstRealPower"] = num(ct.RealPowerW) * m.CTs[i].scale()
			e.putNum(prefix+"InstReactivePower", ct.ReactivePowerVAR)
			e.putNum(prefix+"InstVoltage", ct.VoltageV)
			e.putNum(prefix+"InstCurrent", ct.CurrentA)
		}
		r[familyNeurio+"--"+reading.Serial] = e
	}
}

// translateMeterIdentity emits the internal-meter identity entries: the
// site meter rides on the synchronization unit, and each configured solar
// record is indexed against the battery-block list.
func translateMeterIdentity(r Record, gatewayKey string, cfg *Config, st *Status) {
	if st.ESCan != nil && st.ESCan.Bus != nil {
		if sync := st.ESCan.Bus.SYNC; sync != nil && sync.present() {
			din := sync.din()
			r[deviceKey(familyMeter, din)] = Entry{
				"partNumber":         din.PartNumber(),
				"serialNumber":       din.SerialNumber(),
				"manufacturer":       "TESLA",
				"componentParentDin": gatewayKey,
				"alerts":             []string{},
				"meterAttributes":    map[string]any{"meterLocation": []int{meterLocationSite}},
			}
		}
	}
	for i, solar := range cfg.Solars {
		if i >= len(cfg.BatteryBlocks) {
			break
		}
		din := cfg.BatteryBlocks[i].DIN()
		e := Entry{
			"partNumber":         din.PartNumber(),
			"serialNumber":       din.SerialNumber(),
			"manufacturer":       "TESLA",
			"componentParentDin": gatewayKey,
			"alerts":             []string{},
			"meterAttributes":    map[string]any{"meterLocation": []int{meterLocationSolar}},
			"brand":              solar.Brand,
		}
		e.putNum("nameplateRealPowerW", solar.PowerRatingW)
		r[deviceKey(familyMeter, din)] = e
	}
}

// translateNamedSignals emits the entries for one newer-generation
// battery from its component tree. Inverter strings come from the pch
// components, pack energy from bms; hvp, pws, and baggr contribute only
// alerts, folded into the pack entry.
func translateNamedSignals(r Record, gatewayKey string, battery types.DIN, groups *ComponentGroups) {
	for _, pch := range groups.PCH {
		e := componentEntry(pch, battery, gatewayKey, ecuPVAC)
		e["PVAC_State"] = pch.Text("PCH_State")
		for _, name := range pw3StringSlots {
			volts := pch.Number("PCH_PvVoltage_" + name)
			amps := pch.Number("PCH_PvCurrent_" + name)
			e["PVAC_PVMeasuredVoltage_"+name] = volts
			e["PVAC_PVCurrent_"+name] = amps
			e["PVAC_PVMeasuredPower_"+name] = volts * amps
			e["PVAC_PvState_"+name] = pch.Text("PCH_PvState_" + name)
		}
		r[deviceKey(familyPVAC, componentDIN(pch, battery))] = e
	}

	folded := foldedAlerts(groups)
	for _, bms := range groups.BMS {
		e := componentEntry(bms, battery, gatewayKey, ecuPOD)
		addPackEnergy(e,
			bms.NumberIfPresent("BMS_nominalEnergyRemainingWh"),
			bms.NumberIfPresent("BMS_nominalFullPackEnergyWh"))
		e["alerts"] = append(bms.alerts(), folded...)
		r[deviceKey(familyPOD, componentDIN(bms, battery))] = e
	}
}

func componentDIN(c SignalComponent, fallback types.DIN) types.DIN {
	din := types.JoinDIN(c.PartNumber, c.SerialNumber)
	if !din.Valid() {
		return fallback
	}
	return din
}

func componentEntry(c SignalComponent, battery types.DIN, parent string, ecu int) Entry {
	din := componentDIN(c, battery)
	return Entry{
		"partNumber":               din.PartNumber(),
		"serialNumber":             din.SerialNumber(),
		"manufacturer":             "TESLA",
		"componentParentDin":       parent,
		"alerts":                   c.alerts(),
		"teslaEnergyEcuAttributes": map[string]any{"ecuType": ecu},
	}
}

func foldedAlerts(groups *ComponentGroups) []string {
	var out []string
	for _, list := range [][]SignalComponent{groups.HVP, groups.PWS, groups.BAGGR} {
		for _, c := range list {
			out = append(out, c.alerts()...)
		}
	}
	return out
}

// addPackEnergy records a pack's energy counters plus the derived
// energy-to-be-charged, which is null unless both operands are present.
func addPackEnergy(e Entry, remaining, fullPack *float64) {
	e.putNum("POD_nom_energy_remaining", remaining)
	e.putNum("POD_nom_full_pack_energy", fullPack)
	if remaining != nil && fullPack != nil {
		e["POD_nom_energy_to_be_charged"] = *fullPack - *remaining
	} else {
		e["POD_nom_energy_to_be_charged"] = nil
	}
}

func (e Entry) putNum(name string, v *float64) {
	if v == nil {
		e[name] = nil
		return
	}
	e[name] = *v
}

func (e Entry) putBool(name string, v *bool) {
	if v == nil {
		e[name] = nil
		return
	}
	e[name] = *v
}

func num(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
