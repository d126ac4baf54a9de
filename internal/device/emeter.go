package device

import (
	"context"
	"encoding/json"

	"github.com/muurk/kasalink/internal/protocol"
)

// EmeterRealtime is an instantaneous energy reading. Older firmware
// reports floats in base units, newer firmware integers in milli-units;
// both sets are kept and the accessors below normalize.
type EmeterRealtime struct {
	// Newer firmware (HS110 hw 2.x, KL bulbs)
	VoltageMV int `json:"voltage_mv,omitempty"`
	CurrentMA int `json:"current_ma,omitempty"`
	PowerMW   int `json:"power_mw,omitempty"`
	TotalWH   int `json:"total_wh,omitempty"`

	// Older firmware (HS110 hw 1.x)
	Voltage float64 `json:"voltage,omitempty"`
	Current float64 `json:"current,omitempty"`
	Power   float64 `json:"power,omitempty"`
	Total   float64 `json:"total,omitempty"`
}

// PowerW returns instantaneous power draw in watts
func (e *EmeterRealtime) PowerW() float64 {
	if e.PowerMW != 0 {
		return float64(e.PowerMW) / 1000
	}
	return e.Power
}

// VoltageV returns supply voltage in volts
func (e *EmeterRealtime) VoltageV() float64 {
	if e.VoltageMV != 0 {
		return float64(e.VoltageMV) / 1000
	}
	return e.Voltage
}

// TotalKWH returns lifetime consumption in kilowatt hours
func (e *EmeterRealtime) TotalKWH() float64 {
	if e.TotalWH != 0 {
		return float64(e.TotalWH) / 1000
	}
	return e.Total
}

// emeterRealtime performs the realtime query against the given emeter
// module name
func emeterRealtime(ctx context.Context, d *Device, module string) (*EmeterRealtime, error) {
	member, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(module, "get_realtime", nil))
	if err != nil {
		return nil, err
	}
	var reading EmeterRealtime
	if err := json.Unmarshal(member, &reading); err != nil {
		return nil, protocol.NewDecodeError("emeter payload is not valid JSON", err)
	}
	return &reading, nil
}

// EmeterRealtime reads instantaneous power on a metering plug (HS110
// and friends). Non-metering models answer with a device error.
func (p *Plug) EmeterRealtime(ctx context.Context) (*EmeterRealtime, error) {
	return emeterRealtime(ctx, &p.Device, protocol.ModuleEmeter)
}

// EmeterRealtime reads instantaneous power on a metering bulb
func (b *Bulb) EmeterRealtime(ctx context.Context) (*EmeterRealtime, error) {
	return emeterRealtime(ctx, &b.Device, protocol.ModuleBulbEmeter)
}

// EmeterDayStat is one day's consumption from the meter's history
type EmeterDayStat struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`

	// Newer firmware reports energy_wh, older firmware energy (kWh)
	EnergyWH int     `json:"energy_wh,omitempty"`
	Energy   float64 `json:"energy,omitempty"`
}

// KWH returns the day's consumption in kilowatt hours
func (s *EmeterDayStat) KWH() float64 {
	if s.EnergyWH != 0 {
		return float64(s.EnergyWH) / 1000
	}
	return s.Energy
}

// emeterDayStats performs the per-day history query against the given
// emeter module name
func emeterDayStats(ctx context.Context, d *Device, module string, year, month int) ([]EmeterDayStat, error) {
	member, err := d.q.Submit(ctx, d.endpoint,
		protocol.NewRequest(module, "get_daystat", map[string]int{"year": year, "month": month}))
	if err != nil {
		return nil, err
	}
	var payload struct {
		DayList []EmeterDayStat `json:"day_list"`
	}
	if err := json.Unmarshal(member, &payload); err != nil {
		return nil, protocol.NewDecodeError("daystat payload is not valid JSON", err)
	}
	return payload.DayList, nil
}

// EmeterDayStats reads one month of per-day consumption history
func (p *Plug) EmeterDayStats(ctx context.Context, year, month int) ([]EmeterDayStat, error) {
	return emeterDayStats(ctx, &p.Device, protocol.ModuleEmeter, year, month)
}

// EmeterDayStats reads one month of per-day consumption history
func (b *Bulb) EmeterDayStats(ctx context.Context, year, month int) ([]EmeterDayStat, error) {
	return emeterDayStats(ctx, &b.Device, protocol.ModuleBulbEmeter, year, month)
}

// HasEmeter reports whether the device advertises the energy-metering
// feature flag in its status
func HasEmeter(info *protocol.SysInfo) bool {
	return info != nil && info.HasFeature("ENE")
}
