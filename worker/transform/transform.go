package transform

import (
	"context"

	"geoProcessor/worker/repository"
)

// Executor runs a geospatial transformation for a claimed job and
// returns the blob reference of the produced raster. Progress values
// in the 0-100 range are sent on the channel as work advances; the
// channel is never closed by the executor.
type Executor interface {
	Execute(ctx context.Context, job *repository.Job, progress chan<- int) (string, error)
}
