// Package phone normalizes customer phone numbers to E.164.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalid = errors.New("invalid_phone")

// Normalize parses raw against region (ISO 3166 alpha-2, e.g. "US") and
// formats it as E.164. An empty input yields an empty result.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = "US"
	}

	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", ErrInvalid
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
