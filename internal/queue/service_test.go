package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurumnyang/dccon-exporter/internal/dccon"
	"github.com/gurumnyang/dccon-exporter/internal/domain"
)

const testURL = "https://dccon.dcinside.com/#123456"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func packResult(packageID string) *dccon.Result {
	data := []byte{1, 2, 3}
	return &dccon.Result{
		Title: "Pack " + packageID,
		Info:  &domain.PackageInfo{PackageIdx: packageID, Title: "Pack " + packageID},
		Items: []domain.Item{
			{Data: data, Ext: "png", MIME: "image/png", Size: len(data), Sort: 1, Title: "one"},
		},
		Previews: []string{domain.DataURI("image/png", data)},
		Zip:      &domain.ZipArchive{Data: []byte("PKarchive"), Filename: "Pack_" + packageID + ".zip", Size: 9},
	}
}

func instantFetch(ctx context.Context, packageID string, resize int, report dccon.ProgressFunc) (*dccon.Result, error) {
	if report != nil {
		report(dccon.StageComplete, 1, "Done")
	}
	return packResult(packageID), nil
}

func waitForStatus(t *testing.T, s *Service, session, id string, want domain.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := s.Get(session, id)
		return err == nil && job.Status == want
	}, time.Second, 5*time.Millisecond)
}

func TestCreateValidatesSession(t *testing.T) {
	s := NewService(instantFetch, nil)

	_, err := s.Create("", testURL, CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrSessionRequired)

	_, err = s.Create("   ", testURL, CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrSessionRequired)

	_, err = s.List(" ")
	assert.ErrorIs(t, err, domain.ErrSessionRequired)

	_, err = s.Get("", "whatever")
	assert.ErrorIs(t, err, domain.ErrSessionRequired)

	_, err = s.DownloadData("", "whatever")
	assert.ErrorIs(t, err, domain.ErrSessionRequired)
}

func TestCreateValidatesURL(t *testing.T) {
	s := NewService(instantFetch, nil)

	_, err := s.Create("session-a", "", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrURLRequired)

	_, err = s.Create("session-a", "no digits here", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidPackageURL)
}

func TestCreateReturnsQueuedSnapshot(t *testing.T) {
	s := NewService(instantFetch, nil)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, "123456", job.PackageID)
	assert.Zero(t, job.Progress)
	assert.Nil(t, job.StartedAt)
}

func TestCreateNormalizesResize(t *testing.T) {
	s := NewService(instantFetch, nil)

	ptr := func(v float64) *float64 { return &v }
	tests := []struct {
		name string
		raw  *float64
		want int
	}{
		{name: "absent keeps source size", raw: nil, want: 0},
		{name: "zero keeps source size", raw: ptr(0), want: 0},
		{name: "negative keeps source size", raw: ptr(-10), want: 0},
		{name: "small value clamps up", raw: ptr(5), want: 16},
		{name: "large value clamps down", raw: ptr(9999), want: 512},
		{name: "fraction rounds", raw: ptr(99.5), want: 100},
		{name: "in range passes through", raw: ptr(300), want: 300},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job, err := s.Create("session-resize", testURL, CreateOptions{Resize: tc.raw})
			require.NoError(t, err)
			if tc.want == 0 {
				assert.Nil(t, job.Options.Resize)
				return
			}
			require.NotNil(t, job.Options.Resize)
			assert.Equal(t, tc.want, *job.Options.Resize)
		})
	}
}

func TestListIsSessionScopedAndOrdered(t *testing.T) {
	s := NewService(instantFetch, nil)

	a1, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	b1, err := s.Create("session-b", testURL, CreateOptions{})
	require.NoError(t, err)
	a2, err := s.Create("session-a", "https://dccon.dcinside.com/#654321", CreateOptions{})
	require.NoError(t, err)

	listA, err := s.List("session-a")
	require.NoError(t, err)
	require.Len(t, listA, 2)
	assert.Equal(t, a1.ID, listA[0].ID)
	assert.Equal(t, a2.ID, listA[1].ID)

	listB, err := s.List("session-b")
	require.NoError(t, err)
	require.Len(t, listB, 1)
	assert.Equal(t, b1.ID, listB[0].ID)

	listC, err := s.List("session-c")
	require.NoError(t, err)
	assert.Empty(t, listC)
}

func TestGetHidesForeignJobs(t *testing.T) {
	s := NewService(instantFetch, nil)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)

	got, err := s.Get("session-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = s.Get("session-b", job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = s.Get("session-a", "missing-id")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestExecutionCompletesJob(t *testing.T) {
	s := NewService(instantFetch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	waitForStatus(t, s, "session-a", job.ID, domain.JobStatusCompleted)

	got, err := s.Get("session-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.Progress)
	assert.Equal(t, "Pack 123456", got.PackageTitle)
	assert.Equal(t, 1, got.ItemCount)
	require.NotNil(t, got.Zip)
	assert.Equal(t, "Pack_123456.zip", got.Zip.Filename)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.Previews, 1)
}

func TestExecutionRecordsFailure(t *testing.T) {
	fetch := func(ctx context.Context, packageID string, resize int, report dccon.ProgressFunc) (*dccon.Result, error) {
		return nil, errors.New("detail: boom")
	}
	s := NewService(fetch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	waitForStatus(t, s, "session-a", job.ID, domain.JobStatusFailed)

	got, err := s.Get("session-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "detail: boom", got.Error)
	assert.Equal(t, "detail: boom", got.Message)
	assert.Nil(t, got.CompletedAt)

	// A failed job is still visible until its TTL passes.
	list, err := s.List("session-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProgressIsClampedAndMonotonic(t *testing.T) {
	gate := make(chan struct{})
	fetch := func(ctx context.Context, packageID string, resize int, report dccon.ProgressFunc) (*dccon.Result, error) {
		report("session", 0.5, "halfway")
		report("session", -3, "going backwards")
		report("session", 0.2, "still backwards")
		<-gate
		report("image", 7, "over the top")
		return packResult(packageID), nil
	}
	s := NewService(fetch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := s.Get("session-a", job.ID)
		return err == nil && got.Stage == "session" && got.Message == "still backwards"
	}, time.Second, 5*time.Millisecond)

	got, err := s.Get("session-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Progress, "progress must never move backwards")

	close(gate)
	waitForStatus(t, s, "session-a", job.ID, domain.JobStatusCompleted)
	got, err = s.Get("session-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.Progress)
}

func TestSingleJobProcessingAtATime(t *testing.T) {
	started := make(chan string, 3)
	release := make(chan struct{})
	fetch := func(ctx context.Context, packageID string, resize int, report dccon.ProgressFunc) (*dccon.Result, error) {
		started <- packageID
		<-release
		return packResult(packageID), nil
	}
	s := NewService(fetch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := s.Create("session-a", fmt.Sprintf("https://dccon.dcinside.com/#%d", 100000+i), CreateOptions{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first job never started")
	}

	countProcessing := func() int {
		list, err := s.List("session-a")
		if err != nil {
			return -1
		}
		n := 0
		for _, job := range list {
			if job.Status == domain.JobStatusProcessing {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 1, countProcessing())
	first, err := s.Get("session-a", ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, first.Status)
	second, err := s.Get("session-a", ids[1])
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, second.Status)

	// Unblock all runs; jobs must finish strictly in submission order with
	// never more than one in flight.
	go func() {
		for i := 0; i < 3; i++ {
			release <- struct{}{}
		}
	}()

	var overlapped bool
	require.Eventually(t, func() bool {
		if countProcessing() > 1 {
			overlapped = true
		}
		done, err := s.Get("session-a", ids[2])
		return err == nil && done.Status == domain.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, overlapped, "observed more than one job in flight")

	order := []string{<-started, <-started}
	assert.Equal(t, []string{"100001", "100002"}, order)
}

func TestSessionCapEvictsOldest(t *testing.T) {
	s := NewService(instantFetch, nil, WithSessionCap(3))

	var ids []string
	for i := 0; i < 4; i++ {
		job, err := s.Create("session-a", fmt.Sprintf("https://dccon.dcinside.com/#%d", 200000+i), CreateOptions{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	list, err := s.List("session-a")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[1], list[0].ID, "oldest job must have been evicted")

	_, err = s.Get("session-a", ids[0])
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSessionCapSparesProcessingHead(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	fetch := func(ctx context.Context, packageID string, resize int, report dccon.ProgressFunc) (*dccon.Result, error) {
		started <- struct{}{}
		<-release
		return packResult(packageID), nil
	}
	s := NewService(fetch, nil, WithSessionCap(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	oldest, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	for i := 0; i < 2; i++ {
		_, err := s.Create("session-a", fmt.Sprintf("https://dccon.dcinside.com/#%d", 300000+i), CreateOptions{})
		require.NoError(t, err)
	}

	// The oldest entry is processing, so the session is allowed to stay
	// over cap until it finishes.
	list, err := s.List("session-a")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	got, err := s.Get("session-a", oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	close(release)
	waitForStatus(t, s, "session-a", oldest.ID, domain.JobStatusCompleted)
}

func TestCleanupRemovesExpiredTerminalJobs(t *testing.T) {
	clock := newFakeClock()
	s := NewService(instantFetch, nil, WithNow(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	done, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	waitForStatus(t, s, "session-a", done.ID, domain.JobStatusCompleted)

	// Queued work never expires, only terminal records do.
	s2 := NewService(instantFetch, nil, WithNow(clock.Now))
	queued, err := s2.Create("session-b", testURL, CreateOptions{})
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)

	list, err := s.List("session-a")
	require.NoError(t, err)
	assert.Empty(t, list, "expired job must disappear from listings")
	_, err = s.Get("session-a", done.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	listQueued, err := s2.List("session-b")
	require.NoError(t, err)
	require.Len(t, listQueued, 1)
	assert.Equal(t, queued.ID, listQueued[0].ID)
}

func TestCleanupHonorsCustomRetention(t *testing.T) {
	clock := newFakeClock()
	s := NewService(instantFetch, nil, WithNow(clock.Now), WithRetention(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	waitForStatus(t, s, "session-a", job.ID, domain.JobStatusCompleted)

	clock.Advance(59 * time.Second)
	list, err := s.List("session-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	clock.Advance(2 * time.Second)
	list, err = s.List("session-a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDownloadLifecycle(t *testing.T) {
	s := NewService(instantFetch, nil)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)

	// Still queued: not ready.
	_, err = s.DownloadData("session-a", job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotReady)

	// Unknown and foreign ids are indistinguishable.
	_, err = s.DownloadData("session-a", "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = s.DownloadData("session-b", job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	waitForStatus(t, s, "session-a", job.ID, domain.JobStatusCompleted)

	archive, err := s.DownloadData("session-a", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pack_123456.zip", archive.Filename)
	assert.Equal(t, []byte("PKarchive"), archive.Data)
	assert.Equal(t, 9, archive.Size)
}

func TestRemoveSkipsProcessing(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	fetch := func(ctx context.Context, packageID string, resize int, report dccon.ProgressFunc) (*dccon.Result, error) {
		started <- struct{}{}
		<-release
		return packResult(packageID), nil
	}
	s := NewService(fetch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	assert.False(t, s.Remove(job.ID), "processing jobs must not be removable")

	close(release)
	waitForStatus(t, s, "session-a", job.ID, domain.JobStatusCompleted)
	assert.True(t, s.Remove(job.ID))

	list, err := s.List("session-a")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.False(t, s.Remove(job.ID), "second removal finds nothing")
}

func TestStatsAggregatesRegistry(t *testing.T) {
	s := NewService(instantFetch, nil)

	for i := 0; i < 2; i++ {
		_, err := s.Create("session-a", fmt.Sprintf("https://dccon.dcinside.com/#%d", 400000+i), CreateOptions{})
		require.NoError(t, err)
	}
	_, err := s.Create("session-b", testURL, CreateOptions{})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 3, stats.Queued)
	assert.Equal(t, 0, stats.Processing)
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 3, stats.Pending)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		stats := s.Stats()
		return stats.Completed == 3 && stats.Pending == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.Stats().Sessions, "finished jobs keep their sessions alive until eviction")
}

func TestRemoveQueuedJobBeforeExecution(t *testing.T) {
	s := NewService(instantFetch, nil)

	job, err := s.Create("session-a", testURL, CreateOptions{})
	require.NoError(t, err)
	assert.True(t, s.Remove(job.ID))

	// Starting afterwards must not resurrect the removed entry.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	list, err := s.List("session-a")
	require.NoError(t, err)
	assert.Empty(t, list)
}
