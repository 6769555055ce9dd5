package plugins

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// HostAPIVersion is the plugin API level this host implements.
const HostAPIVersion = 1

var supportedAPI = mustConstraint(fmt.Sprintf("<= %d", HostAPIVersion))

func mustConstraint(expr string) *semver.Constraints {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// CheckAPIVersion reports whether a plugin built against apiVersion can run
// on this host. Zero or negative values mean the plugin did not declare one.
func CheckAPIVersion(apiVersion int) error {
	if apiVersion <= 0 {
		return nil
	}
	v := semver.New(uint64(apiVersion), 0, 0, "", "")
	if !supportedAPI.Check(v) {
		return fmt.Errorf("%w: plugin requires API %d, host provides %d", ErrIncompatibleAPI, apiVersion, HostAPIVersion)
	}
	return nil
}
