package validation

import (
	"regexp"
	"strings"
)

var plateRegex = regexp.MustCompile(`^[A-Z]{2}-\d{2}-[A-Z]{1,2}-\d{4}$`)

// ValidatePlate checks the registration format, e.g. OD-05-AB-1234.
func ValidatePlate(plate string) bool {
	return plateRegex.MatchString(plate)
}

func ValidateName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && len(name) <= 200
}

func ValidateCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// NormalizePriority accepts any non-empty free text; empty means normal.
func NormalizePriority(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "normal"
	}
	return p
}
