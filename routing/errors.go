package routing

import (
	"go.uber.org/multierr"

	"github.com/zalando/trafficrouter/logging"
	"github.com/zalando/trafficrouter/metrics"
	"github.com/zalando/trafficrouter/snapshot"
)

// handleInvalidEntities logs and counts the entities left out of a
// snapshot. It returns the number of invalid entities.
func handleInvalidEntities(l logging.Logger, mtr metrics.Metrics, generation uint64, err error) int {
	if err == nil {
		return 0
	}

	errs := multierr.Errors(err)
	for _, e := range errs {
		reason := snapshot.InvalidReason(e)
		mtr.IncInvalidEntity(reason)
		l.Errorf("Invalid entity in snapshot %d, %s: %v", generation, reason, e)
	}

	return len(errs)
}
