package queue

import (
	"context"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gurumnyang/dccon-exporter/internal/dccon"
	"github.com/gurumnyang/dccon-exporter/internal/domain"
	"github.com/gurumnyang/dccon-exporter/internal/infra"
)

const (
	defaultRetention  = 30 * time.Minute
	defaultSessionCap = 15

	minResize = 16
	maxResize = 512
)

// FetchFunc executes the download pipeline for one package. The service only
// reaches the pipeline through this hook, which keeps the dependency
// one-directional and lets tests substitute a fake.
type FetchFunc func(ctx context.Context, packageID string, resize int, report dccon.ProgressFunc) (*dccon.Result, error)

// CreateOptions carries the optional knobs of a job submission. Resize is a
// pointer so an absent field is distinguishable from zero.
type CreateOptions struct {
	Resize *float64
}

// Service owns every job record, the per-session creation order and the
// pending FIFO. All three live behind one mutex; jobs execute strictly one at
// a time under a single running marker. Finished jobs are evicted lazily
// whenever a public operation runs, never by a timer.
type Service struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	sessions map[string][]string
	pending  []string
	running  string

	kick       chan struct{}
	fetch      FetchFunc
	retention  time.Duration
	sessionCap int
	now        func() time.Time
	logger     *infra.Logger
}

// Option adjusts service construction, mainly for tests.
type Option func(*Service)

// WithRetention overrides how long terminal jobs are kept around.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSessionCap overrides the per-session job cap.
func WithSessionCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sessionCap = n
		}
	}
}

// WithNow injects the clock used for timestamps and TTL checks.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a queue service around a fetch pipeline.
func NewService(fetch FetchFunc, logger *infra.Logger, opts ...Option) *Service {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	s := &Service{
		jobs:       make(map[string]*domain.Job),
		sessions:   make(map[string][]string),
		kick:       make(chan struct{}, 1),
		fetch:      fetch,
		retention:  defaultRetention,
		sessionCap: defaultSessionCap,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and registers a new job, enqueues it and wakes the runner.
// The returned projection always has status queued; creation never waits for
// execution.
func (s *Service) Create(sessionID, rawURL string, opts CreateOptions) (*domain.PublicJob, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrSessionRequired
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, domain.ErrURLRequired
	}

	s.mu.Lock()
	s.cleanupExpiredLocked()

	packageID, ok := dccon.ExtractPackageID(rawURL)
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrInvalidPackageURL
	}

	now := s.now()
	job := &domain.Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		URL:       rawURL,
		PackageID: packageID,
		Resize:    normalizeResize(opts.Resize),
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	s.sessions[sessionID] = append(s.sessions[sessionID], job.ID)
	s.enforceSessionCapLocked(sessionID)
	s.pending = append(s.pending, job.ID)
	public := job.Public()
	s.mu.Unlock()

	s.wake()
	s.logger.Info().
		Str("job_id", job.ID).
		Str("package_id", packageID).
		Int("resize", job.Resize).
		Msg("queue: job created")
	return &public, nil
}

// List returns the session's jobs in creation order. Stale references left by
// evictions are pruned in passing; a session with nothing left disappears.
func (s *Service) List(sessionID string) ([]domain.PublicJob, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()

	order := s.sessions[sessionID]
	kept := order[:0:0]
	list := make([]domain.PublicJob, 0, len(order))
	for _, id := range order {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		kept = append(kept, id)
		list = append(list, job.Public())
	}
	switch {
	case len(kept) == 0:
		delete(s.sessions, sessionID)
	case len(kept) != len(order):
		s.sessions[sessionID] = kept
	}
	return list, nil
}

// Get returns one job. A job owned by another session is reported exactly
// like a missing one.
func (s *Service) Get(sessionID, jobID string) (*domain.PublicJob, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()

	job, ok := s.jobs[jobID]
	if !ok || job.SessionID != sessionID {
		return nil, domain.ErrJobNotFound
	}
	public := job.Public()
	return &public, nil
}

// DownloadData hands out the raw archive of a completed job. This is the only
// path that exposes the zip bytes.
func (s *Service) DownloadData(sessionID, jobID string) (*domain.ZipArchive, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()

	job, ok := s.jobs[jobID]
	if !ok || job.SessionID != sessionID {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusCompleted || job.Zip == nil {
		return nil, domain.ErrJobNotReady
	}
	archive := *job.Zip
	return &archive, nil
}

// Stats is a point-in-time aggregate of the registry. It carries counts
// only, never job data, so it needs no session.
type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Sessions   int `json:"sessions"`
	Pending    int `json:"pending"`
}

// Stats counts the jobs currently held, by status.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()

	var out Stats
	for _, job := range s.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			out.Queued++
		case domain.JobStatusProcessing:
			out.Processing++
		case domain.JobStatusCompleted:
			out.Completed++
		case domain.JobStatusFailed:
			out.Failed++
		}
	}
	out.Sessions = len(s.sessions)
	out.Pending = len(s.pending)
	return out
}

// Remove deletes a job unless it is currently executing. Reports whether a
// record was removed.
func (s *Service) Remove(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked()

	job, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	if job.Status == domain.JobStatusProcessing {
		return false
	}
	s.removeJobLocked(jobID)
	return true
}

// cleanupExpiredLocked drops terminal jobs whose last update is older than
// the retention window. Runs inline with API traffic; there is no sweeper.
func (s *Service) cleanupExpiredLocked() {
	now := s.now()
	var expired []string
	for id, job := range s.jobs {
		if !job.Status.Terminal() {
			continue
		}
		if now.Sub(job.UpdatedAt) > s.retention {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		s.removeJobLocked(id)
	}
	if len(expired) > 0 {
		s.logger.Debug().
			Int("count", len(expired)).
			Msg("queue: expired jobs cleaned up")
	}
}

// enforceSessionCapLocked evicts the session's oldest jobs while it is over
// cap. An oldest job that is still processing stops eviction; the session
// stays over cap until it finishes.
func (s *Service) enforceSessionCapLocked(sessionID string) {
	for len(s.sessions[sessionID]) > s.sessionCap {
		order := s.sessions[sessionID]
		oldest := order[0]
		job, ok := s.jobs[oldest]
		if !ok {
			s.sessions[sessionID] = order[1:]
			continue
		}
		if job.Status == domain.JobStatusProcessing {
			break
		}
		s.removeJobLocked(oldest)
		s.logger.Debug().
			Str("job_id", oldest).
			Msg("queue: evicted oldest job over session cap")
	}
}

// removeJobLocked erases a job from the record map, its session order and any
// pending entries. A job id should occur at most once in the FIFO, but the
// scrub removes every occurrence.
func (s *Service) removeJobLocked(jobID string) {
	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	delete(s.jobs, jobID)

	order := s.sessions[job.SessionID]
	kept := order[:0:0]
	for _, id := range order {
		if id != jobID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(s.sessions, job.SessionID)
	} else {
		s.sessions[job.SessionID] = kept
	}

	pending := s.pending[:0:0]
	for _, id := range s.pending {
		if id != jobID {
			pending = append(pending, id)
		}
	}
	s.pending = pending
}

// wake nudges the runner without ever blocking the caller.
func (s *Service) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// normalizeResize maps the submitted resize option to a target edge length.
// Zero means no resizing. Values are rounded half away from zero, then
// clamped to the supported range.
func normalizeResize(raw *float64) int {
	if raw == nil {
		return 0
	}
	v := *raw
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	n := int(math.Round(v))
	if n < minResize {
		return minResize
	}
	if n > maxResize {
		return maxResize
	}
	return n
}
