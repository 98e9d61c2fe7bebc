package port

import (
	"context"

	"github.com/pawhaus/kennelcam/internal/domain"
)

// ClipRenderer turns one claimed job into a delivered clip. The attempt
// is bounded by the job's timeout through ctx; any scratch space is gone
// by the time Render returns, whatever the outcome.
type ClipRenderer interface {
	Render(ctx context.Context, job *domain.ExportJob) (outputPath, manifestPath string, err error)
}
