// Per-flow impairment parameters fed by the network simulator
package flow

// BootstrapID is the flow used before any simulator is attached.
const BootstrapID = 1

// Descriptor holds the impairment parameters of one traffic flow.
// MeanDelay and MeanJitter are in microseconds.
type Descriptor struct {
	FlowID      int     `json:"flow_id"`
	Source      string  `json:"src"`
	Destination string  `json:"dst"`
	MeanDelay   float64 `json:"mean_delay_us"`
	MeanJitter  float64 `json:"mean_jitter_us"`
	PacketLoss  float64 `json:"packet_loss"`
	TxPackets   int64   `json:"tx_packets"`
	RxPackets   int64   `json:"rx_packets"`
	TxBytes     int64   `json:"tx_bytes"`
	RxBytes     int64   `json:"rx_bytes"`
}

// Default returns a zero-impairment descriptor for id.
func Default(id int) Descriptor {
	return Descriptor{
		FlowID:      id,
		Source:      "10.0.0.1",
		Destination: "10.0.0.2",
	}
}

// LossProbability is PacketLoss divided by max(TxPackets, 1), clamped to [0,1].
func (d Descriptor) LossProbability() float64 {
	tx := float64(d.TxPackets)
	if tx < 1 {
		tx = 1
	}
	p := d.PacketLoss / tx
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
