package paper

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tandem/internal/venue"
)

type specEntry struct {
	TickSize  float64 `yaml:"tick_size"`
	TickValue float64 `yaml:"tick_value"`
	SizeStep  float64 `yaml:"size_step"`
	SizeMin   float64 `yaml:"size_min"`
	SizeMax   float64 `yaml:"size_max"`
}

type specFile struct {
	Instruments map[string]specEntry `yaml:"instruments"`
}

// LoadSpecs reads a contract-spec catalog for the paper venue. Missing
// numeric fields fall back to the defaults of DefaultSpec.
func LoadSpecs(path string) (map[string]venue.InstrumentSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("paper: read spec catalog: %w", err)
	}
	var file specFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("paper: parse spec catalog: %w", err)
	}
	specs := make(map[string]venue.InstrumentSpec, len(file.Instruments))
	for name, entry := range file.Instruments {
		instrument := strings.ToUpper(strings.TrimSpace(name))
		if instrument == "" {
			continue
		}
		spec := DefaultSpec(instrument)
		if entry.TickSize > 0 {
			spec.TickSize = entry.TickSize
		}
		if entry.TickValue > 0 {
			spec.TickValue = entry.TickValue
		}
		if entry.SizeStep > 0 {
			spec.SizeStep = entry.SizeStep
		}
		if entry.SizeMin > 0 {
			spec.SizeMin = entry.SizeMin
		}
		if entry.SizeMax > 0 {
			spec.SizeMax = entry.SizeMax
		}
		specs[instrument] = spec
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("paper: spec catalog %s defines no instruments", path)
	}
	return specs, nil
}

// DefaultSpec is the uniform linear contract used when the catalog does
// not pin one down.
func DefaultSpec(instrument string) venue.InstrumentSpec {
	return venue.InstrumentSpec{
		Instrument: instrument,
		TickSize:   0.01,
		TickValue:  0.01,
		SizeStep:   0.001,
		SizeMin:    0.001,
		SizeMax:    10000,
	}
}
