package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckPolicyCompatibility checks if the engine version and a policy's
// declared API version are compatible. Returns nil if compatible, error with
// details if not.
//
// Compatibility Rules:
//   - If either version is "main" (development build), compatibility check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 is compatible with 1.2.5)
//
// Examples:
//   - Engine 1.2.0, Policy 1.2.0 -> OK (exact match)
//   - Engine 1.2.1, Policy 1.2.0 -> OK (patch differs)
//   - Engine 1.3.0, Policy 1.2.0 -> ERROR (minor differs)
//   - Engine 2.0.0, Policy 1.2.0 -> ERROR (major differs)
//   - Engine main, Policy 1.2.0 -> OK (dev build, skip check)
//   - Engine 1.2.0, Policy main -> OK (dev build, skip check)
func CheckPolicyCompatibility(engineVersion, policyVersion string) error {
	// Strip 'v' prefix if present for consistency
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	policyVersion = strings.TrimPrefix(policyVersion, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" || policyVersion == "main" {
		return nil
	}

	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	policySemver, err := semver.NewVersion(policyVersion)
	if err != nil {
		return fmt.Errorf("invalid policy version '%s': %w", policyVersion, err)
	}

	if engineSemver.Major() != policySemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but policy requires %d.x.x",
			engineSemver.Major(), policySemver.Major())
	}

	if engineSemver.Minor() != policySemver.Minor() {
		return fmt.Errorf("minor version mismatch: engine is %d.%d.x but policy requires %d.%d.x",
			engineSemver.Major(), engineSemver.Minor(),
			policySemver.Major(), policySemver.Minor())
	}

	// Patch versions can differ, so we're compatible
	return nil
}
