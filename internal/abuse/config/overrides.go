package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vigil/internal/abuse/models"
	dErrors "vigil/pkg/domain-errors"
)

// Overrides is the YAML shape operators use to tune the default policy.
// Only the fields present in the file are applied; everything else keeps
// its default. Durations use Go syntax ("30m", "1h").
type Overrides struct {
	Actions map[string]struct {
		Requests int    `yaml:"requests"`
		Window   string `yaml:"window"`
		FailMode string `yaml:"fail_mode"`
	} `yaml:"actions"`
	Escalation []string `yaml:"escalation"`
	Pattern    struct {
		BurstThreshold  int    `yaml:"burst_threshold"`
		BurstWindow     string `yaml:"burst_window"`
		RepeatThreshold int    `yaml:"repeat_threshold"`
		RepeatWindow    string `yaml:"repeat_window"`
	} `yaml:"pattern"`
}

// LoadOverrides applies a YAML policy file on top of cfg and revalidates.
// A missing path is not an error; a malformed file or an invalid resulting
// policy is fatal at startup.
func LoadOverrides(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidConfig, "read policy file")
	}
	var o Overrides
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidConfig, "parse policy file")
	}

	for name, a := range o.Actions {
		action := models.Action(name)
		limit := cfg.GetLimit(action)
		if a.Requests != 0 {
			limit.Requests = a.Requests
		}
		if a.Window != "" {
			w, err := time.ParseDuration(a.Window)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvalidConfig, "action "+name+": bad window")
			}
			limit.Window = w
		}
		cfg.ActionLimits[action] = limit
		if a.FailMode != "" {
			cfg.FailModes[action] = FailMode(a.FailMode)
		}
	}

	if len(o.Escalation) > 0 {
		seq := make([]time.Duration, 0, len(o.Escalation))
		for _, s := range o.Escalation {
			d, err := time.ParseDuration(s)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInvalidConfig, "bad escalation duration "+s)
			}
			seq = append(seq, d)
		}
		cfg.Escalation = seq
	}

	if o.Pattern.BurstThreshold != 0 {
		cfg.Pattern.BurstThreshold = o.Pattern.BurstThreshold
	}
	if o.Pattern.BurstWindow != "" {
		d, err := time.ParseDuration(o.Pattern.BurstWindow)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidConfig, "bad burst window")
		}
		cfg.Pattern.BurstWindow = d
	}
	if o.Pattern.RepeatThreshold != 0 {
		cfg.Pattern.RepeatThreshold = o.Pattern.RepeatThreshold
	}
	if o.Pattern.RepeatWindow != "" {
		d, err := time.ParseDuration(o.Pattern.RepeatWindow)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidConfig, "bad repeat window")
		}
		cfg.Pattern.RepeatWindow = d
	}

	return cfg.Validate()
}
