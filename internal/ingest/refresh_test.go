package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimewatch/intel/internal/models"
)

// In-memory store fakes.

type memSources struct {
	mu      sync.Mutex
	sources []models.Source
	touched map[int]time.Time
}

func newMemSources(sources ...models.Source) *memSources {
	return &memSources{sources: sources, touched: make(map[int]time.Time)}
}

func (m *memSources) ListActiveByRegion(ctx context.Context, region string) ([]models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Source
	for _, s := range m.sources {
		if s.Active && s.RegionLabel == region {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSources) Touch(ctx context.Context, id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id] = at
	return nil
}

type memArticles struct {
	mu     sync.Mutex
	byKey  map[string]models.RawArticle
	nextID int
}

func newMemArticles() *memArticles {
	return &memArticles{byKey: make(map[string]models.RawArticle), nextID: 1}
}

func (m *memArticles) Upsert(ctx context.Context, a *models.RawArticle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d|%s", a.SourceID, a.ExternalID)
	if existing, ok := m.byKey[key]; ok {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		return false, nil
	}
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	m.nextID++
	m.byKey[key] = *a
	return true, nil
}

type memIncidents struct {
	mu   sync.Mutex
	byID map[int]models.EnrichedIncident
}

func newMemIncidents() *memIncidents {
	return &memIncidents{byID: make(map[int]models.EnrichedIncident)}
}

func (m *memIncidents) Create(ctx context.Context, inc *models.EnrichedIncident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[inc.ID]; ok {
		return models.ErrConflict
	}
	m.byID[inc.ID] = *inc
	return nil
}

func (m *memIncidents) CountByRegion(ctx context.Context, region string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID), nil
}

// countingEnricher counts Enrich calls and returns stub-shaped incidents.
type countingEnricher struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEnricher) Enrich(ctx context.Context, article *models.RawArticle, src models.Source) *models.EnrichedIncident {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return &models.EnrichedIncident{
		ID:            article.ID,
		Severity:      models.SeverityMedium,
		CrimeCategory: "Unknown",
		Tags:          []string{},
		Entities:      []models.Entity{},
		LLMModel:      "none",
		PromptVersion: "stub_v1",
	}
}

func (e *countingEnricher) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

const testRegion = "Fraser Valley, BC"

func wpListing(n int) string {
	page := "<html><body>"
	for i := 0; i < n; i++ {
		page += fmt.Sprintf(`<article class="post"><h2><a href="/news/release-%d/">Release number %d about an investigation</a></h2></article>`, i, i)
	}
	return page + "</body></html>"
}

// newTestPipeline wires an orchestrator over a fake fetcher serving one
// WordPress source with n articles.
func newTestPipeline(n int) (*Orchestrator, *memSources, *memArticles, *memIncidents, *countingEnricher) {
	f := &fakeFetcher{pages: map[string]string{
		"https://vpd.example/news/": wpListing(n),
	}}
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://vpd.example/news/release-%d/", i)
		f.pages[url] = articlePage(fmt.Sprintf("Release number %d about an investigation", i))
	}

	sources := newMemSources(models.Source{
		ID: 1, AgencyName: "VPD", RegionLabel: testRegion,
		BaseURL: "https://vpd.example/news/", ParserID: "wordpress", Active: true,
	})
	articles := newMemArticles()
	incidents := newMemIncidents()
	enricher := &countingEnricher{}

	orch := NewOrchestrator(Stores{
		Sources:   sources,
		Articles:  articles,
		Incidents: incidents,
	}, NewRegistry(f), enricher)

	return orch, sources, articles, incidents, enricher
}

func TestRefresh_NoActiveSources(t *testing.T) {
	orch, _, _, _, _ := newTestPipeline(0)

	_, err := orch.Refresh(context.Background(), "Nowhere, BC")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoActiveSources)
}

func TestRefresh_IngestsAndEnrichesNewArticles(t *testing.T) {
	orch, sources, _, incidents, enricher := newTestPipeline(2)

	result, err := orch.Refresh(context.Background(), testRegion)
	require.NoError(t, err)

	assert.Equal(t, testRegion, result.Region)
	assert.Equal(t, 2, result.NewArticles)
	assert.Equal(t, 2, result.TotalIncidents)
	assert.Equal(t, 2, enricher.count())
	assert.Len(t, incidents.byID, 2)

	// The watermark advanced.
	assert.Contains(t, sources.touched, 1)
}

func TestRefresh_SecondRunIsIdempotent(t *testing.T) {
	orch, _, _, _, enricher := newTestPipeline(2)

	first, err := orch.Refresh(context.Background(), testRegion)
	require.NoError(t, err)
	require.Equal(t, 2, first.NewArticles)

	second, err := orch.Refresh(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewArticles)
	assert.Equal(t, 2, second.TotalIncidents)

	// Each article was enriched exactly once across both runs.
	assert.Equal(t, 2, enricher.count())
}

func TestRefresh_UnknownParserSkipsSource(t *testing.T) {
	orch, sources, _, _, enricher := newTestPipeline(0)
	sources.sources = []models.Source{{
		ID: 7, AgencyName: "Legacy PD", RegionLabel: testRegion,
		BaseURL: "https://legacy.example/news", ParserID: "atom", Active: true,
	}}

	result, err := orch.Refresh(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewArticles)
	assert.Equal(t, 0, enricher.count())

	// A skipped source still advances its watermark.
	assert.Contains(t, sources.touched, 7)
}

func TestRefresh_SourceFailureDoesNotFailRegion(t *testing.T) {
	orch, sources, _, _, _ := newTestPipeline(1)
	sources.sources = append(sources.sources, models.Source{
		ID: 2, AgencyName: "Broken PD", RegionLabel: testRegion,
		BaseURL: "https://broken.example/news", ParserID: "wordpress", Active: true,
	})

	result, err := orch.Refresh(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewArticles)

	assert.Contains(t, sources.touched, 1)
	assert.Contains(t, sources.touched, 2)
}

// memJobs is an in-memory JobRegistry with guarded transitions. Like the
// real store, a transition on an expired context fails instead of writing.
type memJobs struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*models.RefreshJob
	failRunning error
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[uuid.UUID]*models.RefreshJob)}
}

func (m *memJobs) Create(ctx context.Context, region string) (*models.RefreshJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &models.RefreshJob{
		ID: len(m.jobs) + 1, JobID: uuid.New(), Region: region,
		Status: models.JobPending, CreatedAt: time.Now(),
	}
	m.jobs[job.JobID] = job
	return job, nil
}

func (m *memJobs) transition(ctx context.Context, jobID uuid.UUID, from []string, to string, mutate func(*models.RefreshJob)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || !contains(from, job.Status) {
		return models.ErrConflict
	}
	job.Status = to
	mutate(job)
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memJobs) MarkRunning(ctx context.Context, jobID uuid.UUID) error {
	if m.failRunning != nil {
		return m.failRunning
	}
	return m.transition(ctx, jobID, []string{models.JobPending}, models.JobRunning, func(j *models.RefreshJob) {
		now := time.Now()
		j.StartedAt = &now
	})
}

func (m *memJobs) MarkSucceeded(ctx context.Context, jobID uuid.UUID, newArticles, totalIncidents int) error {
	return m.transition(ctx, jobID, []string{models.JobRunning}, models.JobSucceeded, func(j *models.RefreshJob) {
		now := time.Now()
		j.NewArticles = &newArticles
		j.TotalIncidents = &totalIncidents
		j.CompletedAt = &now
	})
}

func (m *memJobs) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error {
	return m.transition(ctx, jobID, []string{models.JobPending, models.JobRunning}, models.JobFailed, func(j *models.RefreshJob) {
		now := time.Now()
		j.ErrorMessage = &message
		j.CompletedAt = &now
	})
}

func (m *memJobs) GetByJobID(ctx context.Context, jobID uuid.UUID) (*models.RefreshJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func TestAsyncRunner_SucceedsAndRecordsCounts(t *testing.T) {
	orch, _, _, _, _ := newTestPipeline(1)
	jobs := newMemJobs()
	runner := NewAsyncRunner(jobs, orch)

	job, err := runner.Start(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	runner.Wait()

	final, err := runner.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, final.Status)
	require.NotNil(t, final.NewArticles)
	assert.Equal(t, 1, *final.NewArticles)
	require.NotNil(t, final.TotalIncidents)
	assert.Equal(t, 1, *final.TotalIncidents)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
}

// stalledRefresher blocks until the job context expires, the way a refresh
// queued behind slow sources does.
type stalledRefresher struct{}

func (stalledRefresher) Refresh(ctx context.Context, region string) (*RefreshResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAsyncRunner_JobDeadlineStillReachesTerminalState(t *testing.T) {
	jobs := newMemJobs()
	runner := &AsyncRunner{jobs: jobs, orch: stalledRefresher{}, timeout: 20 * time.Millisecond}

	job, err := runner.Start(context.Background(), testRegion)
	require.NoError(t, err)

	runner.Wait()

	final, err := runner.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "deadline")
	assert.NotNil(t, final.CompletedAt)
}

func TestAsyncRunner_FailedStartIsRecorded(t *testing.T) {
	jobs := newMemJobs()
	jobs.failRunning = fmt.Errorf("connection reset")
	runner := &AsyncRunner{jobs: jobs, orch: stalledRefresher{}, timeout: time.Second}

	job, err := runner.Start(context.Background(), testRegion)
	require.NoError(t, err)

	runner.Wait()

	final, err := runner.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "connection reset")
}

func TestAsyncRunner_FailsForRegionWithoutSources(t *testing.T) {
	orch, _, _, _, _ := newTestPipeline(0)
	jobs := newMemJobs()
	runner := NewAsyncRunner(jobs, orch)

	job, err := runner.Start(context.Background(), "Nowhere, BC")
	require.NoError(t, err)

	runner.Wait()

	final, err := runner.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "no active sources")
}
