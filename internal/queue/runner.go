package queue

import (
	"context"

	"github.com/gurumnyang/dccon-exporter/internal/dccon"
	"github.com/gurumnyang/dccon-exporter/internal/domain"
)

// stageInitializing is set synchronously when a job is claimed, before the
// pipeline reports its first stage.
const stageInitializing = "initializing"

// Start launches the supervisor goroutine. It exits when ctx is cancelled;
// a job already executing finishes its current pipeline call first.
func (s *Service) Start(ctx context.Context) {
	go s.supervise(ctx)
}

func (s *Service) supervise(ctx context.Context) {
	s.logger.Debug().Msg("queue: supervisor started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("queue: supervisor stopped")
			return
		case <-s.kick:
			s.drain(ctx)
		}
	}
}

// drain claims and executes pending jobs one at a time until the FIFO is
// empty. Serialization comes from the claim itself: nothing is handed out
// while the running marker is set.
func (s *Service) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := s.claimNext()
		if !ok {
			return
		}
		s.run(ctx, job.id, job.packageID, job.resize)
	}
}

type claimedJob struct {
	id        string
	packageID string
	resize    int
}

// claimNext pops the next runnable entry and flips it to processing in the
// same critical section, so at most one job can ever hold the running marker.
// Entries whose record vanished or already left the queued state are skipped.
func (s *Service) claimNext() (claimedJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != "" {
		return claimedJob{}, false
	}
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]

		job, ok := s.jobs[id]
		if !ok || job.Status != domain.JobStatusQueued {
			s.logger.Debug().
				Str("job_id", id).
				Msg("queue: skipping stale queue entry")
			continue
		}

		now := s.now()
		job.Status = domain.JobStatusProcessing
		job.Stage = stageInitializing
		job.Progress = 0.01
		job.StartedAt = &now
		job.UpdatedAt = now
		s.running = id
		return claimedJob{id: id, packageID: job.PackageID, resize: job.Resize}, true
	}
	return claimedJob{}, false
}

// run invokes the pipeline for one claimed job and records the outcome.
func (s *Service) run(ctx context.Context, id, packageID string, resize int) {
	s.logger.Info().
		Str("job_id", id).
		Str("package_id", packageID).
		Msg("queue: job started")

	result, err := s.fetch(ctx, packageID, resize, func(stage string, progress float64, message string) {
		s.applyProgress(id, stage, progress, message)
	})
	if err != nil {
		s.finishFailure(id, err)
		return
	}
	s.finishSuccess(id, result)
}

// applyProgress copies a pipeline callback onto the job record. Progress is
// clamped to [0,1] and never moves backwards; stage and message are stored
// verbatim.
func (s *Service) applyProgress(id, stage string, progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	if progress < job.Progress {
		progress = job.Progress
	}
	job.Stage = stage
	job.Progress = progress
	job.Message = message
	job.UpdatedAt = s.now()
}

func (s *Service) finishSuccess(id string, result *dccon.Result) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.running = ""
		s.mu.Unlock()
		return
	}
	now := s.now()
	job.Status = domain.JobStatusCompleted
	job.Progress = 1
	job.PackageTitle = result.Title
	job.PackageInfo = result.Info
	job.Items = result.Items
	job.Previews = result.Previews
	job.Zip = result.Zip
	job.CompletedAt = &now
	job.UpdatedAt = now
	items := len(job.Items)
	started := job.StartedAt
	s.running = ""
	s.mu.Unlock()

	event := s.logger.Info().
		Str("job_id", id).
		Int("items", items)
	if started != nil {
		event = event.Dur("duration", now.Sub(*started))
	}
	event.Msg("queue: job completed")
}

func (s *Service) finishFailure(id string, err error) {
	message := "download failed"
	if err != nil && err.Error() != "" {
		message = err.Error()
	}

	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.running = ""
		s.mu.Unlock()
		return
	}
	job.Status = domain.JobStatusFailed
	job.Error = message
	job.Message = message
	job.UpdatedAt = s.now()
	s.running = ""
	s.mu.Unlock()

	s.logger.Error().
		Err(err).
		Str("job_id", id).
		Msg("queue: job failed")
}
