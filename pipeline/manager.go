package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mediadrive/transcode-api/config"
	apierrors "github.com/mediadrive/transcode-api/errors"
	"github.com/mediadrive/transcode-api/ffmpeg"
	"github.com/mediadrive/transcode-api/hls"
	"github.com/mediadrive/transcode-api/log"
	"github.com/mediadrive/transcode-api/metrics"
	"github.com/mediadrive/transcode-api/video"
)

const (
	monitorInterval           = 1 * time.Second
	segmentPollInterval       = 100 * time.Millisecond
	defaultSegmentWaitTimeout = 120 * time.Second
	probedDurationCacheExpiry = 24 * time.Hour
)

// URLRefresher re-acquires a short-lived upstream URL for a content key.
// Refresh failures are swallowed by the manager; the existing credentials are
// kept on a best-effort basis.
type URLRefresher interface {
	RefreshURL(contentKey string) (url string, headers string, err error)
}

// CreateTaskParams is everything a caller supplies when first asking for a
// content key.
type CreateTaskParams struct {
	ContentKey      string
	FileName        string
	SourceURL       string
	RequestHeaders  string
	StartTimeSec    float64
	HintDurationSec float64
}

// Manager owns the task table and drives workers. All task state is guarded
// by one lock; the probing call and segment waits happen outside it.
type Manager struct {
	cfg       config.Cli
	probe     video.Prober
	driver    *ffmpeg.Driver
	refresher URLRefresher

	// URIPrefix is prepended to segment URIs in synthesized playlists.
	URIPrefix string

	mu    sync.Mutex
	tasks map[string]*Task

	// Probed durations outlive task eviction so a re-created task for the
	// same content key can emit a closed playlist even when re-probing fails.
	durations *gocache.Cache

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	nowFunc func() time.Time
}

func NewManager(cfg config.Cli, probe video.Prober, driver *ffmpeg.Driver, refresher URLRefresher) *Manager {
	m := &Manager{
		cfg:       cfg,
		probe:     probe,
		driver:    driver,
		refresher: refresher,
		URIPrefix: "/hls",
		tasks:     make(map[string]*Task),
		durations: gocache.New(probedDurationCacheExpiry, 1*time.Hour),
		quit:      make(chan struct{}),
		nowFunc:   time.Now,
	}
	m.wg.Add(1)
	go m.cleanupLoop()
	return m
}

// Shutdown stops the cleanup loop and tears down every worker. It blocks
// until all child processes have been reaped.
func (m *Manager) Shutdown() {
	m.quitOnce.Do(func() { close(m.quit) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		m.stopWorkerLocked(task)
		if task.IsActive() {
			task.Status = StatusStopped
		}
	}
	m.refreshActiveGaugeLocked()
}

// GetOrCreateTask resolves the task for a content key, creating it (probe
// plus worker start) when absent. An existing active task is reused when the
// requested start time is inside its seek window; otherwise it is replaced,
// reusing the cached segments already on disk.
func (m *Manager) GetOrCreateTask(p CreateTaskParams) (TaskSummary, error) {
	id := TaskID(p.ContentKey)

	m.mu.Lock()
	if task, ok := m.reusableTaskLocked(id, p); ok {
		task.touch(m.now())
		summary := m.summaryLocked(task)
		m.mu.Unlock()
		return summary, nil
	}
	if err := m.checkCapacityLocked(id); err != nil {
		m.mu.Unlock()
		return TaskSummary{}, err
	}
	m.mu.Unlock()

	outputDir := filepath.Join(m.cfg.WorkDir, p.ContentKey)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return TaskSummary{}, fmt.Errorf("failed to create output dir %s: %w", outputDir, err)
	}

	// Probing happens outside the lock; it can take up to the probe timeout.
	probedDuration, mediaInfo, probeErr := m.probe.ProbeSource(id, p.SourceURL, p.RequestHeaders)
	if probeErr != nil {
		metrics.Metrics.ProbeFailureCount.Inc()
		log.LogError(id, "probe failed, playlist may be open-ended", probeErr, "content_key", p.ContentKey)
		probedDuration = 0
		if cached, found := m.durations.Get(p.ContentKey); found {
			probedDuration = cached.(float64)
		}
	} else if probedDuration > 0 {
		m.durations.Set(p.ContentKey, probedDuration, gocache.DefaultExpiration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another request may have created the task while we were probing.
	if task, ok := m.reusableTaskLocked(id, p); ok {
		task.touch(m.now())
		return m.summaryLocked(task), nil
	}
	if err := m.checkCapacityLocked(id); err != nil {
		return TaskSummary{}, err
	}

	// Replacing an existing record: its worker goes away, its cached
	// segments stay.
	if old, ok := m.tasks[id]; ok {
		m.stopWorkerLocked(old)
		if old.IsActive() {
			old.Status = StatusStopped
		}
	}

	now := m.now()
	task := &Task{
		ID:                 id,
		ContentKey:         p.ContentKey,
		FileName:           p.FileName,
		SourceURL:          p.SourceURL,
		RequestHeaders:     p.RequestHeaders,
		ProbedDuration:     probedDuration,
		HintDuration:       p.HintDurationSec,
		MediaInfo:          mediaInfo,
		OutputDir:          outputDir,
		SegmentDurationSec: m.cfg.SegmentDurationSec,
		Status:             StatusStarting,
		CreatedAt:          now,
		LastAccessAt:       now,
		AccessCount:        1,
	}
	task.CurrentEncodeOffset = task.FloorToSegment(p.StartTimeSec)
	m.tasks[id] = task
	metrics.Metrics.TasksCreatedCount.Inc()
	log.AddContext(id, "content_key", p.ContentKey, "file_name", p.FileName)
	log.Log(id, "task created",
		"duration", task.Duration(),
		"encode_offset", task.CurrentEncodeOffset,
		"transcode_reasons", fmt.Sprintf("%v", video.TranscodeReasons(mediaInfo, p.FileName)),
	)

	// Spawn failures are recorded on the task rather than failing the
	// request: the playlist is still servable against cached segments.
	if err := m.startWorkerLocked(task); err != nil {
		log.LogError(id, "initial worker start failed", err)
	}
	m.refreshActiveGaugeLocked()
	return m.summaryLocked(task), nil
}

// reusableTaskLocked finds an active task for the same content that can
// absorb the requested start time without a restart.
func (m *Manager) reusableTaskLocked(id string, p CreateTaskParams) (*Task, bool) {
	task, ok := m.tasks[id]
	if !ok || !task.IsActive() || task.FileName != p.FileName {
		return nil, false
	}
	if !task.CanSeekDirectly(p.StartTimeSec, float64(m.cfg.SeekToleranceSec)) {
		return nil, false
	}
	return task, true
}

// checkCapacityLocked enforces the global bound on active tasks, not
// counting the task with the given id (which is about to be reused or
// replaced).
func (m *Manager) checkCapacityLocked(id string) error {
	active := 0
	for tid, t := range m.tasks {
		if tid != id && t.IsActive() {
			active++
		}
	}
	if active >= m.cfg.MaxConcurrentTasks {
		return apierrors.ErrCapacityReached
	}
	return nil
}

// Seek translates a client seek into the cheapest worker action: nothing,
// resume after a cached run, or a restart at the target boundary. It returns
// the resulting encode offset and whether a restart happened.
func (m *Manager) Seek(taskID string, targetSec float64) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return 0, false, apierrors.ErrNotFound
	}
	task.touch(m.now())

	if targetSec < 0 {
		targetSec = 0
	}
	if d := task.Duration(); d > 0 && targetSec >= d {
		targetSec = d - 1
		if targetSec < 0 {
			targetSec = 0
		}
	}

	// Within the tolerance window the client seeks locally inside its HLS
	// buffer; the running worker will get there.
	if task.CanSeekDirectly(targetSec, float64(m.cfg.SeekToleranceSec)) {
		return task.CurrentEncodeOffset, false, nil
	}

	targetSeg := task.SegmentOf(targetSec)
	segDur := float64(task.SegmentDurationSec)

	if segmentExists(task.OutputDir, targetSeg) {
		// Cached segment: serve it without disturbing a worker that is busy
		// encoding elsewhere. With no live worker, resume encoding at the
		// first gap after the cached run.
		if task.hasLiveWorker() {
			return task.CurrentEncodeOffset, false, nil
		}
		resume := firstMissingAfter(task.OutputDir, targetSeg)
		if expected := task.ExpectedSegments(); expected > 0 && resume >= expected {
			return task.CurrentEncodeOffset, false, nil
		}
		m.refreshURLLocked(task)
		task.CurrentEncodeOffset = float64(resume) * segDur
		metrics.Metrics.WorkerRestartCount.WithLabelValues("resume").Inc()
		if err := m.startWorkerLocked(task); err != nil {
			return task.CurrentEncodeOffset, false, err
		}
		log.Log(taskID, "resumed encoding after cached run", "segment", resume)
		return task.CurrentEncodeOffset, true, nil
	}

	m.stopWorkerLocked(task)
	m.refreshURLLocked(task)
	task.CurrentEncodeOffset = float64(targetSeg) * segDur
	metrics.Metrics.WorkerRestartCount.WithLabelValues("seek").Inc()
	if err := m.startWorkerLocked(task); err != nil {
		return task.CurrentEncodeOffset, false, err
	}
	log.Log(taskID, "restarted worker for seek", "target", targetSec, "segment", targetSeg)
	return task.CurrentEncodeOffset, true, nil
}

// EnsureSegment makes sure the given segment either exists, will be produced
// by the current worker, or a fresh worker is started for it. It declines
// (ErrSegmentUnavailable) on long backward jumps so an ongoing encode is not
// thrashed.
func (m *Manager) EnsureSegment(taskID string, seg uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return apierrors.ErrNotFound
	}
	task.touch(m.now())

	if segmentExists(task.OutputDir, seg) {
		return nil
	}
	if task.IsActive() && task.hasLiveWorker() {
		start := task.Worker.StartSegment
		if start <= seg {
			// The running worker is heading there; the caller should wait.
			return nil
		}
		if start > seg+uint64(m.cfg.SeekGapSegments) {
			return apierrors.ErrSegmentUnavailable
		}
	}

	m.stopWorkerLocked(task)
	m.refreshURLLocked(task)
	task.CurrentEncodeOffset = float64(seg) * float64(task.SegmentDurationSec)
	metrics.Metrics.WorkerRestartCount.WithLabelValues("segment").Inc()
	return m.startWorkerLocked(task)
}

// WaitForSegment blocks until the segment is complete on disk or the timeout
// elapses. A segment counts as complete when the task has finished and the
// file exists, or while encoding when the next segment file has been created
// (which means this one has been flushed and closed).
func (m *Manager) WaitForSegment(taskID string, seg uint64, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultSegmentWaitTimeout
	}
	started := time.Now()
	deadline := started.Add(timeout)

	for {
		m.mu.Lock()
		task, ok := m.tasks[taskID]
		if !ok {
			m.mu.Unlock()
			return apierrors.ErrNotFound
		}
		outputDir := task.OutputDir
		finished := task.IsFinished()
		m.mu.Unlock()

		if segmentExists(outputDir, seg) {
			if finished || segmentCreated(outputDir, seg+1) {
				metrics.Metrics.SegmentWaitSec.Observe(time.Since(started).Seconds())
				return nil
			}
		}
		if time.Now().After(deadline) {
			return apierrors.ErrWaitTimeout
		}

		select {
		case <-m.quit:
			return apierrors.ErrWaitTimeout
		case <-time.After(segmentPollInterval):
		}
	}
}

// GetSegmentPath returns the on-disk path for a complete segment, or false
// when the file is absent or still empty.
func (m *Manager) GetSegmentPath(taskID string, seg uint64) (string, bool, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return "", false, apierrors.ErrNotFound
	}
	task.touch(m.now())
	outputDir := task.OutputDir
	m.mu.Unlock()

	if !segmentExists(outputDir, seg) {
		return "", false, nil
	}
	return SegmentPath(outputDir, seg), true, nil
}

// GetPlaylist synthesizes the playlist for a task. The duration falls back
// from probed to hinted to an estimate from the cached segments; with none of
// those the playlist is open-ended.
func (m *Manager) GetPlaylist(taskID string) (string, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return "", apierrors.ErrNotFound
	}
	task.touch(m.now())

	segDur := float64(task.SegmentDurationSec)
	duration := task.Duration()
	if duration <= 0 {
		if highest, found := highestExistingSegment(task.OutputDir); found {
			// Upper-bound estimate so the client timeline covers everything
			// already cached.
			duration = float64(highest+1) * segDur * 1.1
		}
	}

	var startOffset float64
	if task.CurrentEncodeOffset > 0 {
		limit := uint64(task.CurrentEncodeOffset / segDur)
		if found, ok := lowestExistingSegment(task.OutputDir, limit); ok {
			startOffset = float64(found) * segDur
		} else {
			startOffset = task.CurrentEncodeOffset
		}
	}

	params := hls.PlaylistParams{
		TaskID:             task.ID,
		DurationSec:        duration,
		SegmentDurationSec: task.SegmentDurationSec,
		StartOffsetSec:     startOffset,
		URIPrefix:          m.URIPrefix,
	}
	m.mu.Unlock()

	metrics.Metrics.PlaylistRequestCount.Inc()
	return hls.Synthesize(params)
}

// DeleteTask stops the worker, drops the task and removes its output
// directory, segment cache included.
func (m *Manager) DeleteTask(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return apierrors.ErrNotFound
	}
	m.stopWorkerLocked(task)
	if task.IsActive() {
		task.Status = StatusStopped
	}
	delete(m.tasks, taskID)
	m.refreshActiveGaugeLocked()
	outputDir := task.OutputDir
	m.mu.Unlock()

	if err := os.RemoveAll(outputDir); err != nil {
		log.LogError(taskID, "failed to remove output dir", err, "dir", outputDir)
	}
	log.Log(taskID, "task deleted")
	return nil
}

// startWorkerLocked launches a worker at the task's current encode offset.
// The caller holds the manager lock and has already stopped any previous
// worker and refreshed the upstream URL.
func (m *Manager) startWorkerLocked(task *Task) error {
	if err := m.checkCapacityLocked(task.ID); err != nil {
		return err
	}
	if err := os.MkdirAll(task.OutputDir, 0755); err != nil {
		task.Status = StatusError
		task.ErrMsg = err.Error()
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	task.Status = StatusStarting
	segDur := float64(task.SegmentDurationSec)
	startSegment := uint64(task.CurrentEncodeOffset / segDur)

	params := ffmpeg.TranscodeParams{
		SourceURL:          task.SourceURL,
		Headers:            task.RequestHeaders,
		OutputDir:          task.OutputDir,
		StartOffsetSec:     task.CurrentEncodeOffset,
		StartSegment:       startSegment,
		SegmentDurationSec: task.SegmentDurationSec,
		Legacy:             video.IsLegacySource(task.MediaInfo),
	}

	worker, err := m.driver.Start(params)
	if err != nil {
		task.Status = StatusError
		task.ErrMsg = err.Error()
		metrics.Metrics.WorkerStartCount.WithLabelValues("false").Inc()
		m.refreshActiveGaugeLocked()
		return fmt.Errorf("%w: %s", apierrors.ErrSpawnFailed, err)
	}

	task.Worker = worker
	task.Status = StatusRunning
	task.StartedAt = m.now()
	metrics.Metrics.WorkerStartCount.WithLabelValues("true").Inc()
	m.refreshActiveGaugeLocked()
	log.Log(task.ID, "worker started",
		"pid", worker.Pid(),
		"start_segment", startSegment,
		"encode_offset", task.CurrentEncodeOffset,
		"command", worker.RedactedCommand(),
	)

	go m.monitor(task, worker)
	return nil
}

// monitor watches one worker: exit code 0 completes the task, a deliberate
// stop leaves it stopped, anything else is an error. While running, the
// appearance of the worker's first segment promotes the task to Ready. The
// loop ends as soon as the worker is reaped or superseded by a restart.
func (m *Manager) monitor(task *Task, worker *ffmpeg.Worker) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if task.Worker != worker {
			// A restart attached a new worker; its own monitor took over.
			m.mu.Unlock()
			return
		}

		if worker.Exited() {
			if task.IsActive() {
				code := worker.ExitCode()
				switch {
				case code == 0:
					task.Status = StatusCompleted
					task.CompletedAt = m.now()
					log.Log(task.ID, "worker completed")
				case worker.Stopped():
					task.Status = StatusStopped
				default:
					task.Status = StatusError
					task.ErrMsg = fmt.Sprintf("worker exited with code %d", code)
					log.LogError(task.ID, "worker failed", fmt.Errorf("%w: code %d", apierrors.ErrWorkerExited, code))
				}
				m.refreshActiveGaugeLocked()
			}
			m.mu.Unlock()
			return
		}

		if task.Status == StatusRunning && segmentExists(task.OutputDir, worker.StartSegment) {
			task.Status = StatusReady
			log.Log(task.ID, "worker produced its first segment", "segment", worker.StartSegment)
		}
		m.mu.Unlock()
	}
}

// stopWorkerLocked tears down the task's worker if one is attached. It is a
// no-op for already-exited workers and blocks for at most the kill grace
// period.
func (m *Manager) stopWorkerLocked(task *Task) {
	if task.Worker == nil {
		return
	}
	task.Worker.Stop()
}

// refreshURLLocked swaps in fresh upstream credentials before a non-initial
// worker start. Failures keep the existing URL.
func (m *Manager) refreshURLLocked(task *Task) {
	if m.refresher == nil {
		return
	}
	url, headers, err := m.refresher.RefreshURL(task.ContentKey)
	if err != nil || url == "" {
		metrics.Metrics.URLRefreshCount.WithLabelValues("false").Inc()
		if err != nil {
			log.LogError(task.ID, "url refresh failed, keeping existing url", err)
		}
		return
	}
	task.SourceURL = url
	task.RequestHeaders = headers
	metrics.Metrics.URLRefreshCount.WithLabelValues("true").Inc()
	log.Log(task.ID, "refreshed upstream url")
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.CleanupIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.runCleanup()
		}
	}
}

// runCleanup evicts every task idle for longer than the task timeout,
// stopping stale workers and deleting their output directories.
func (m *Manager) runCleanup() {
	timeout := time.Duration(m.cfg.TaskTimeoutSec) * time.Second
	if timeout <= 0 {
		return
	}
	now := m.now()

	var evicted []*Task
	m.mu.Lock()
	for id, task := range m.tasks {
		if now.Sub(task.LastAccessAt) <= timeout {
			continue
		}
		if task.IsActive() {
			log.Log(id, "stopping idle task", "idle", now.Sub(task.LastAccessAt).String())
			m.stopWorkerLocked(task)
			task.Status = StatusStopped
		}
		delete(m.tasks, id)
		evicted = append(evicted, task)
	}
	m.refreshActiveGaugeLocked()
	m.mu.Unlock()

	for _, task := range evicted {
		if err := os.RemoveAll(task.OutputDir); err != nil {
			log.LogError(task.ID, "failed to remove output dir", err, "dir", task.OutputDir)
		}
		log.Log(task.ID, "task evicted")
	}
}

func (m *Manager) refreshActiveGaugeLocked() {
	active := 0
	for _, t := range m.tasks {
		if t.IsActive() {
			active++
		}
	}
	metrics.Metrics.ActiveTasks.Set(float64(active))
}

func (m *Manager) now() time.Time {
	return m.nowFunc()
}
