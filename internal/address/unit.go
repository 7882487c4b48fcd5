package address

import (
	"fmt"
	"regexp"
	"strings"
)

// unitPatterns are tried in order; the first match wins.
var unitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)#\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)apt\.?\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)unit\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)ste\.?\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)suite\s*([A-Za-z0-9]+)`),
}

// ExtractUnit returns the upper-cased unit designator of an address
// ("#11G", "Apt 11g", "Suite 200"), or "" when none is present.
func ExtractUnit(addr string) string {
	if addr == "" {
		return ""
	}
	for _, pattern := range unitPatterns {
		if match := pattern.FindStringSubmatch(addr); match != nil {
			return strings.ToUpper(match[1])
		}
	}
	return ""
}

// CompareUnits returns warnings when both addresses name a unit and the units
// differ. A mismatch is a hint for the user, not a failure.
func CompareUnits(requested, returned string) []string {
	if requested == "" || returned == "" {
		return nil
	}

	requestedUnit := ExtractUnit(requested)
	returnedUnit := ExtractUnit(returned)
	if requestedUnit == "" || returnedUnit == "" || requestedUnit == returnedUnit {
		return nil
	}

	return []string{fmt.Sprintf(
		"Address mismatch: Requested unit '%s' but the property data service returned unit '%s'. Please verify this is the correct property.",
		requestedUnit, returnedUnit,
	)}
}
