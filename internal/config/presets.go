package config

import "sort"

// Presets are overlays applied on top of DefaultConfig.
var Presets = map[string]func(*Config){
	"quick": func(c *Config) {
		c.Methods = []string{"histogram", "kde"}
		c.MCMethods = nil
		c.PlotPoints = 300
	},
	"full": func(c *Config) {
		c.Methods = []string{"histogram", "kde", "kl", "sumkl", "weighted", "simple"}
		c.MCMethods = []string{"kl"}
	},
	"bayes": func(c *Config) {
		c.Methods = []string{"kde", "kl"}
		c.MCMethods = []string{"kl"}
		c.MC.Iterations = 20000
	},
	"bootstrap": func(c *Config) {
		c.Methods = []string{"histogram", "kde", "kl"}
		c.MCMethods = nil
		c.Bootstraps = 50
	},
}

func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
