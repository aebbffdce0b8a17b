package models

const (
	PolicyInterleave = "interleave"
	PolicyWeighted   = "weighted"
	PolicyAdaptive   = "adaptive_tolerance"
)

type PriorityConfig struct {
	Policy           string `json:"policy"`
	InterleaveCount  int    `json:"interleave_count"`
	WeightNormal     int    `json:"weight_normal"`
	WeightPriority   int    `json:"weight_priority"`
	ToleranceMinutes int    `json:"tolerance_minutes"`
}

func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		Policy:           PolicyInterleave,
		InterleaveCount:  2,
		WeightNormal:     1,
		WeightPriority:   3,
		ToleranceMinutes: 5,
	}
}

// Normalized returns the config with an unrecognized policy or zero values
// replaced by interleave defaults, so a corrupted row still calls tickets.
func (c PriorityConfig) Normalized() PriorityConfig {
	switch c.Policy {
	case PolicyInterleave, PolicyWeighted, PolicyAdaptive:
	default:
		c.Policy = PolicyInterleave
		c.InterleaveCount = 2
	}
	if c.InterleaveCount <= 0 {
		c.InterleaveCount = 2
	}
	if c.WeightNormal <= 0 {
		c.WeightNormal = 1
	}
	if c.WeightPriority <= 0 {
		c.WeightPriority = 3
	}
	if c.ToleranceMinutes <= 0 {
		c.ToleranceMinutes = 5
	}
	return c
}

type DisplaySettings struct {
	VoiceName     string `json:"voice_name"`
	WelcomePhrase string `json:"welcome_phrase"`
}

func DefaultDisplaySettings() DisplaySettings {
	return DisplaySettings{
		VoiceName:     "pt-BR-FranciscaNeural",
		WelcomePhrase: "BEM-VINDO AO IAAM",
	}
}
