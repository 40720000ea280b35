package scraper

import (
	"context"
	"fmt"

	"realestate-scraper/models"
	"realestate-scraper/utils"
)

// Step is one site run of a sequence. Run builds and runs its orchestrator
// so that nothing of a later site is set up before the earlier one finished.
type Step struct {
	Site string
	Run  func(ctx context.Context) (*models.RunSummary, error)
}

// RunSequence runs steps strictly in order. A step starts only when the
// previous one completed; a failed or interrupted step ends the sequence.
func RunSequence(ctx context.Context, steps []Step, logger *utils.Logger) *models.SequenceSummary {
	seq := &models.SequenceSummary{}

	for i, step := range steps {
		if ctx.Err() != nil {
			logger.Warn("[sequence] Interrupted before %s", step.Site)
			break
		}

		logger.Info("[sequence] Step %d/%d: %s", i+1, len(steps), step.Site)
		summary, err := step.Run(ctx)
		if err != nil {
			summary = &models.RunSummary{Site: step.Site, State: models.StateFailed, LastError: err.Error()}
		}
		seq.Runs = append(seq.Runs, summary)
		seq.TotalScraped += summary.TotalScraped
		seq.ErrorCount += summary.ErrorCount
		if summary.LastError != "" {
			seq.LastError = fmt.Sprintf("%s: %s", summary.Site, summary.LastError)
		}

		if summary.State != models.StateCompleted {
			seq.Failed = summary.State == models.StateFailed
			logger.Warn("[sequence] %s ended %s, skipping remaining sites", step.Site, summary.State)
			break
		}
	}
	return seq
}
