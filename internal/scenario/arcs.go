package scenario

import (
	"time"

	"uavnetsim/internal/config"
)

func secs(n int) config.Duration { return config.Duration(time.Duration(n) * time.Second) }

// BuiltIn returns predefined impairment arcs.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"degrading-link": {
			Name:        "Degrading link",
			Description: "The vehicle flies away from the ground station until the link drops, then returns.",
			Phases: []Phase{
				{Name: "nominal", Description: "Line of sight, short range.", Duration: secs(20), MeanDelay: 2000, MeanJitter: 500},
				{Name: "degraded", Description: "Range and obstructions raise delay and loss.", Duration: secs(20), MeanDelay: 40000, MeanJitter: 15000, PacketLoss: 0.05},
				{Name: "outage", Description: "The link is almost unusable.", Duration: secs(10), MeanDelay: 250000, MeanJitter: 100000, PacketLoss: 0.6},
				{Name: "recovery", Description: "The vehicle returns into coverage.", Duration: secs(20), MeanDelay: 5000, MeanJitter: 1000, PacketLoss: 0.01},
			},
		},
		"urban": {
			Name:        "Urban canyon",
			Description: "Multipath and blocked line of sight between buildings, repeating.",
			Loop:        true,
			Phases: []Phase{
				{Name: "street", Duration: secs(15), MeanDelay: 15000, MeanJitter: 8000, PacketLoss: 0.02},
				{Name: "blocked", Duration: secs(5), MeanDelay: 90000, MeanJitter: 40000, PacketLoss: 0.3},
			},
		},
		"handover": {
			Name:        "Cell handover",
			Description: "A cellular link with a short interruption during handover.",
			Loop:        true,
			Phases: []Phase{
				{Name: "serving", Duration: secs(30), MeanDelay: 30000, MeanJitter: 5000, PacketLoss: 0.005},
				{Name: "handover", Duration: secs(2), MeanDelay: 400000, MeanJitter: 50000, PacketLoss: 0.9},
			},
		},
	}
}
