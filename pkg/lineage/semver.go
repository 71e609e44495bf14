package lineage

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/Northlight-Labs/keel/pkg/contracts"
)

// SuggestForkType maps a version bump to the fork type it most likely
// is: major bump → major, minor bump → extension, patch or prerelease
// movement → bugfix. Advisory only; the initiator declares the type and
// the registry prices it.
func SuggestForkType(parentVersion, childVersion string) (contracts.ForkType, error) {
	pv, err := semver.NewVersion(parentVersion)
	if err != nil {
		return "", fmt.Errorf("%w: parent version %q: %v", contracts.ErrValidation, parentVersion, err)
	}
	cv, err := semver.NewVersion(childVersion)
	if err != nil {
		return "", fmt.Errorf("%w: child version %q: %v", contracts.ErrValidation, childVersion, err)
	}
	if !cv.GreaterThan(pv) {
		return "", fmt.Errorf("%w: child version %s does not advance parent %s", contracts.ErrValidation, childVersion, parentVersion)
	}
	switch {
	case cv.Major() > pv.Major():
		return contracts.ForkTypeMajor, nil
	case cv.Minor() > pv.Minor():
		return contracts.ForkTypeExtension, nil
	default:
		return contracts.ForkTypeBugfix, nil
	}
}
