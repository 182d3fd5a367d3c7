package policy

import (
	"github.com/rxtech-lab/stocksim/internal/types"
	"github.com/rxtech-lab/stocksim/internal/version"
	"github.com/rxtech-lab/stocksim/pkg/errors"
)

// Validate checks a policy before any bar is processed. A failure here aborts
// the whole run.
func Validate(p Policy, engineVersion string) error {
	if p == nil {
		return errors.New(errors.ErrCodePolicyNotSet, "no policy configured")
	}

	if err := version.CheckPolicyCompatibility(engineVersion, p.APIVersion()); err != nil {
		return errors.Wrapf(errors.ErrCodePolicyVersion, err, "policy %q is not compatible with this engine", p.Name())
	}

	seen := make(map[string]struct{})

	for _, spec := range p.ParameterSpecs() {
		if spec.Name == "" {
			return errors.Newf(errors.ErrCodePolicyValidation, "policy %q declares an unnamed parameter", p.Name())
		}

		if _, ok := seen[spec.Name]; ok {
			return errors.Newf(errors.ErrCodePolicyValidation,
				"policy %q declares parameter %q twice", p.Name(), spec.Name)
		}

		seen[spec.Name] = struct{}{}

		if spec.Kind != types.ParameterStatic && spec.Kind != types.ParameterDynamic {
			return errors.Newf(errors.ErrCodePolicyValidation,
				"policy %q parameter %q has unknown kind %q", p.Name(), spec.Name, spec.Kind)
		}

		if err := checkBounds(spec, spec.Default); err != nil {
			return err
		}
	}

	return nil
}

// BuildParameters materializes a parameter set from the policy's specs plus
// caller overrides for static parameters. Overrides must name a declared
// static parameter and respect its bounds.
func BuildParameters(p Policy, overrides map[string]float64) (*types.StrategyParameters, error) {
	static := make(map[string]float64)
	dynamic := make(map[string]float64)
	specs := make(map[string]ParameterSpec)

	for _, spec := range p.ParameterSpecs() {
		specs[spec.Name] = spec

		switch spec.Kind {
		case types.ParameterStatic:
			static[spec.Name] = spec.Default
		case types.ParameterDynamic:
			dynamic[spec.Name] = spec.Default
		}
	}

	for name, value := range overrides {
		spec, ok := specs[name]
		if !ok {
			return nil, errors.Newf(errors.ErrCodePolicyParamMissing,
				"policy %q declares no parameter %q", p.Name(), name)
		}

		if spec.Kind != types.ParameterStatic {
			return nil, errors.Newf(errors.ErrCodePolicyValidation,
				"parameter %q is dynamic and cannot be overridden", name)
		}

		if err := checkBounds(spec, value); err != nil {
			return nil, err
		}

		static[name] = value
	}

	return types.NewStrategyParameters(static, dynamic), nil
}

func checkBounds(spec ParameterSpec, value float64) error {
	if spec.Min.IsSome() && value < spec.Min.Unwrap() {
		return errors.Newf(errors.ErrCodePolicyParamBounds,
			"parameter %q value %v is below minimum %v", spec.Name, value, spec.Min.Unwrap())
	}

	if spec.Max.IsSome() && value > spec.Max.Unwrap() {
		return errors.Newf(errors.ErrCodePolicyParamBounds,
			"parameter %q value %v is above maximum %v", spec.Name, value, spec.Max.Unwrap())
	}

	return nil
}
