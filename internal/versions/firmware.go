package versions

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseFirmware extracts a semantic version from a terminal firmware string
// such as "Ver 6.60 Apr 28 2017".
func ParseFirmware(raw string) (*semver.Version, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 4 && strings.EqualFold(s[:4], "ver ") {
		s = strings.TrimSpace(s[4:])
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("unrecognized firmware version %q: %w", raw, err)
	}
	return v, nil
}

// FirmwareOlderThan reports whether the reported firmware is strictly older than minimum.
// An empty minimum disables the check.
func FirmwareOlderThan(reported, minimum string) (bool, error) {
	if minimum == "" {
		return false, nil
	}
	minVersion, err := ParseFirmware(minimum)
	if err != nil {
		return false, err
	}
	v, err := ParseFirmware(reported)
	if err != nil {
		return false, err
	}
	return v.LessThan(minVersion), nil
}
