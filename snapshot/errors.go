package snapshot

import (
	"errors"
	"fmt"
)

type invalidEntityError string

func (e invalidEntityError) Error() string { return string(e) }
func (e invalidEntityError) Code() string  { return string(e) }

var (
	errDuplicateID         = invalidEntityError("duplicate_id")
	errUnknownLocation     = invalidEntityError("unknown_location")
	errInvalidCache        = invalidEntityError("invalid_cache")
	errInvalidCoverageZone = invalidEntityError("invalid_coverage_zone")
	errInvalidSteering     = invalidEntityError("invalid_steering")
	errInvalidRegionalGeo  = invalidEntityError("invalid_regional_geo")
	errInvalidFederation   = invalidEntityError("invalid_federation")
)

// WrapInvalidEntityReason marks err with a reason code.
func WrapInvalidEntityReason(reason string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", invalidEntityError(reason), err)
}

// InvalidReason returns the reason code of an entity error, or "other".
func InvalidReason(err error) string {
	var e invalidEntityError
	if errors.As(err, &e) {
		return e.Code()
	}

	return "other"
}

func invalid(reason invalidEntityError, format string, args ...any) error {
	return fmt.Errorf("%w: %s", reason, fmt.Sprintf(format, args...))
}
