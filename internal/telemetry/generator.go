package telemetry

import (
	"math"
	"math/rand"
	"time"
)

const metersPerDegree = 111000

// Generator advances simulated vehicles and samples their telemetry.
type Generator struct {
	ClusterID string
	rand      *rand.Rand
}

// NewGenerator creates a new telemetry generator for a given cluster.
func NewGenerator(clusterID string, r *rand.Rand) *Generator {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{ClusterID: clusterID, rand: r}
}

// Step moves v by dt seconds of flight and drains its battery.
func (g *Generator) Step(v *Vehicle, dt float64) {
	if !v.Armed || v.Status == StatusFailure {
		return
	}
	switch {
	case v.Target != nil:
		v.Position = moveToward(v.Position, *v.Target, v.Speed*dt)
		if distance(v.Position, *v.Target) < 0.5 {
			v.Position = *v.Target
			v.Target = nil
		}
	case v.Position.Alt > 0:
		v.Position = hoverDrift(g.rand, v.Position, dt)
	}

	v.Battery -= batteryDrain(v.Model) * dt
	if v.Battery < 0 {
		v.Battery = 0
	}
	if v.Battery <= 5 {
		v.Status = StatusFailure
	} else if v.Battery <= 20 {
		v.Status = StatusLowBattery
	} else if v.Position.Alt <= 0 {
		v.Status = StatusLanded
	} else {
		v.Status = StatusOK
	}
}

// GenerateTelemetry samples v's current state.
func (g *Generator) GenerateTelemetry(v *Vehicle) TelemetryRow {
	now := time.Now().UTC()
	return TelemetryRow{
		ClusterID: g.ClusterID,
		VehicleID: v.ID,
		FlowID:    v.FlowID,
		Lat:       v.Position.Lat,
		Lon:       v.Position.Lon,
		Alt:       v.Position.Alt,
		Yaw:       v.Yaw,
		Battery:   v.Battery,
		Status:    v.Status,
		Armed:     v.Armed,
		SampledAt: now,
		Timestamp: now,
	}
}

// moveToward advances pos by at most step metres towards target.
func moveToward(pos, target Position, step float64) Position {
	d := distance(pos, target)
	if d <= step || d == 0 {
		return target
	}
	f := step / d
	return Position{
		Lat: pos.Lat + (target.Lat-pos.Lat)*f,
		Lon: pos.Lon + (target.Lon-pos.Lon)*f,
		Alt: pos.Alt + (target.Alt-pos.Alt)*f,
	}
}

// hoverDrift moves a hovering vehicle a little in a random direction.
func hoverDrift(r *rand.Rand, pos Position, dt float64) Position {
	heading := r.Float64() * 2 * math.Pi
	speed := r.Float64() * 0.5 // m/s

	deltaLat := (speed * dt * math.Cos(heading)) / metersPerDegree
	deltaLon := (speed * dt * math.Sin(heading)) / (metersPerDegree * math.Cos(pos.Lat*math.Pi/180))
	altDelta := (r.Float64()*2 - 1) * 0.2 * dt

	return Position{
		Lat: pos.Lat + deltaLat,
		Lon: pos.Lon + deltaLon,
		Alt: math.Max(0.1, pos.Alt+altDelta),
	}
}

// distance is the straight-line distance in metres on a local flat-earth
// approximation.
func distance(a, b Position) float64 {
	dLat := (b.Lat - a.Lat) * metersPerDegree
	dLon := (b.Lon - a.Lon) * metersPerDegree * math.Cos(a.Lat*math.Pi/180)
	dAlt := b.Alt - a.Alt
	return math.Sqrt(dLat*dLat + dLon*dLon + dAlt*dAlt)
}

// Distance exposes the flat-earth distance for callers checking arrival.
func Distance(a, b Position) float64 { return distance(a, b) }

// batteryDrain returns battery consumption per second of flight by model.
func batteryDrain(model string) float64 {
	switch model {
	case "small-fpv":
		return 0.5
	case "medium-uav":
		return 0.3
	case "large-uav":
		return 0.2
	default:
		return 0.4
	}
}
