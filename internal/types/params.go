package types

import "github.com/rxtech-lab/stocksim/pkg/errors"

// ParameterKind distinguishes run-fixed parameters from engine-mutated ones.
type ParameterKind string

const (
	ParameterStatic  ParameterKind = "static"
	ParameterDynamic ParameterKind = "dynamic"
)

// ParameterChange is one entry in the dynamic-parameter history log.
type ParameterChange struct {
	BarIndex int     `yaml:"bar_index"`
	Name     string  `yaml:"name"`
	Old      float64 `yaml:"old"`
	New      float64 `yaml:"new"`
}

// StrategyParameters holds one run's parameter values. Static values are
// fixed for the run; dynamic values are mutated by the engine (holding-day
// counters and the like) with every mutation appended to History. One
// parameter set is exclusively owned by one run; concurrent runs each get an
// independent copy via Clone.
type StrategyParameters struct {
	Static   map[string]float64 `yaml:"static"`
	Dynamic  map[string]float64 `yaml:"dynamic"`
	Defaults map[string]float64 `yaml:"defaults"`
	History  []ParameterChange  `yaml:"history,omitempty"`
}

// NewStrategyParameters builds a parameter set. Each dynamic parameter starts
// at its declared default.
func NewStrategyParameters(static, dynamicDefaults map[string]float64) *StrategyParameters {
	p := &StrategyParameters{
		Static:   make(map[string]float64, len(static)),
		Dynamic:  make(map[string]float64, len(dynamicDefaults)),
		Defaults: make(map[string]float64, len(dynamicDefaults)),
	}

	for name, value := range static {
		p.Static[name] = value
	}

	for name, value := range dynamicDefaults {
		p.Dynamic[name] = value
		p.Defaults[name] = value
	}

	return p
}

// Get looks a parameter up, dynamic values first.
func (p *StrategyParameters) Get(name string) (float64, bool) {
	if value, ok := p.Dynamic[name]; ok {
		return value, true
	}

	value, ok := p.Static[name]

	return value, ok
}

// SetDynamic mutates a dynamic parameter and records the change against the
// given bar index.
func (p *StrategyParameters) SetDynamic(barIndex int, name string, value float64) error {
	old, ok := p.Dynamic[name]
	if !ok {
		return errors.Newf(errors.ErrCodePolicyParamMissing, "unknown dynamic parameter %q", name)
	}

	p.Dynamic[name] = value
	p.History = append(p.History, ParameterChange{
		BarIndex: barIndex,
		Name:     name,
		Old:      old,
		New:      value,
	})

	return nil
}

// IncrementDynamic adds one to a dynamic counter, recording the change.
func (p *StrategyParameters) IncrementDynamic(barIndex int, name string) error {
	value, ok := p.Dynamic[name]
	if !ok {
		return errors.Newf(errors.ErrCodePolicyParamMissing, "unknown dynamic parameter %q", name)
	}

	return p.SetDynamic(barIndex, name, value+1)
}

// ResetDynamic restores a dynamic parameter to its declared default,
// recording the change. No-op in the history when the value already equals
// the default.
func (p *StrategyParameters) ResetDynamic(barIndex int, name string) error {
	def, ok := p.Defaults[name]
	if !ok {
		return errors.Newf(errors.ErrCodePolicyParamMissing, "unknown dynamic parameter %q", name)
	}

	if p.Dynamic[name] == def {
		return nil
	}

	return p.SetDynamic(barIndex, name, def)
}

// Clone returns a deep copy. Runs must never share a parameter set.
func (p *StrategyParameters) Clone() *StrategyParameters {
	clone := &StrategyParameters{
		Static:   make(map[string]float64, len(p.Static)),
		Dynamic:  make(map[string]float64, len(p.Dynamic)),
		Defaults: make(map[string]float64, len(p.Defaults)),
	}

	for name, value := range p.Static {
		clone.Static[name] = value
	}

	for name, value := range p.Dynamic {
		clone.Dynamic[name] = value
	}

	for name, value := range p.Defaults {
		clone.Defaults[name] = value
	}

	if len(p.History) > 0 {
		clone.History = make([]ParameterChange, len(p.History))
		copy(clone.History, p.History)
	}

	return clone
}
