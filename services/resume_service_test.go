package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/krshsl/mockprep/cache"
	"github.com/krshsl/mockprep/models"
	"github.com/krshsl/mockprep/queue"
	"github.com/krshsl/mockprep/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryResumeStore struct {
	mu        sync.Mutex
	documents map[string]*models.ResumeDocument
	sections  map[string][]models.ResumeSection
	summaries map[string]*models.ResumeSummary
	createErr error
}

func newMemoryResumeStore() *memoryResumeStore {
	return &memoryResumeStore{
		documents: map[string]*models.ResumeDocument{},
		sections:  map[string][]models.ResumeSection{},
		summaries: map[string]*models.ResumeSummary{},
	}
}

func (m *memoryResumeStore) CreateResumeDocument(_ context.Context, doc *models.ResumeDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	doc.ID = uuid.NewString()
	m.documents[doc.ID] = doc
	return nil
}

func (m *memoryResumeStore) ListResumeDocuments(_ context.Context, userID string) ([]models.ResumeDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ResumeDocument
	for _, d := range m.documents {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memoryResumeStore) GetResumeDocument(_ context.Context, id, userID string) (*models.ResumeDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || (userID != "" && d.UserID != userID) {
		return nil, nil
	}
	return d, nil
}

func (m *memoryResumeStore) GetLatestResumeDocument(_ context.Context, userID string) (*models.ResumeDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.documents {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, nil
}

func (m *memoryResumeStore) DeleteResumeDocument(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.UserID != userID {
		return false, nil
	}
	delete(m.documents, id)
	return true, nil
}

func (m *memoryResumeStore) ListResumeSections(_ context.Context, userID string) ([]models.ResumeSection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sections[userID], nil
}

func (m *memoryResumeStore) UpsertResumeSummary(_ context.Context, summary *models.ResumeSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	copied := *summary
	m.summaries[summary.UserID] = &copied
	return nil
}

func (m *memoryResumeStore) GetResumeSummary(_ context.Context, userID string) (*models.ResumeSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[userID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memoryResumeStore) DeleteResumeSummary(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaries, userID)
	return nil
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type fakeSummaryCache struct {
	entries     map[string]*models.ResumeSummary
	generations map[string]int64
	gets        int
	invalidated []string
	getErr      error
}

func (f *fakeSummaryCache) Get(_ context.Context, userID string) (*models.ResumeSummary, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.entries[userID], nil
}

func (f *fakeSummaryCache) Generation(_ context.Context, userID string) (int64, error) {
	return f.generations[userID], nil
}

func (f *fakeSummaryCache) Populate(_ context.Context, summary *models.ResumeSummary, gen int64) error {
	if f.generations[summary.UserID] != gen {
		return cache.ErrStale
	}
	f.entries[summary.UserID] = summary
	return nil
}

func (f *fakeSummaryCache) Invalidate(_ context.Context, userID string) error {
	if f.generations == nil {
		f.generations = map[string]int64{}
	}
	f.generations[userID]++
	f.invalidated = append(f.invalidated, userID)
	delete(f.entries, userID)
	return nil
}

// racingSummaryStore runs onRead right after a summary is loaded, standing in
// for a concurrent save.
type racingSummaryStore struct {
	*memoryResumeStore
	onRead func()
}

func (r *racingSummaryStore) GetResumeSummary(ctx context.Context, userID string) (*models.ResumeSummary, error) {
	summary, err := r.memoryResumeStore.GetResumeSummary(ctx, userID)
	if r.onRead != nil {
		onRead := r.onRead
		r.onRead = nil
		onRead()
	}
	return summary, err
}

type fakeJobs struct {
	jobs []queue.ResumeJob
	err  error
}

func (f *fakeJobs) PublishResumeJob(_ context.Context, job queue.ResumeJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func newTestResumeService(llm TextGenerator) (*ResumeService, *memoryResumeStore, *memoryObjects) {
	repo := newMemoryResumeStore()
	objects := newMemoryObjects()
	return NewResumeService(repo, llm, objects, UploadConfig{MaxBytes: 1024}), repo, objects
}

func TestResumeService_UploadInline(t *testing.T) {
	llm := &fakeGenerator{replies: []string{"  Jane is a backend engineer.  "}}
	svc, repo, objects := newTestResumeService(llm)
	summaries := &fakeSummaryCache{entries: map[string]*models.ResumeSummary{}}
	svc.WithCache(summaries)

	result, err := svc.Upload(context.Background(), "user-1", "cv.txt", []byte("Jane Doe\nGo, Postgres"))
	require.NoError(t, err)

	require.NotNil(t, result.Document)
	assert.Equal(t, "text/plain", result.Document.ContentType)
	assert.Equal(t, "Jane Doe\nGo, Postgres", result.Document.ExtractedText)
	assert.Regexp(t, `^resumes/user-1/[0-9a-f-]{36}\.txt$`, result.Document.StorageKey)
	assert.Contains(t, objects.objects, result.Document.StorageKey)

	require.NotNil(t, result.Summary)
	assert.False(t, result.SummaryQueued)
	assert.Equal(t, "Jane is a backend engineer.", result.Summary.Summary)
	assert.Equal(t, models.SummarySourceUpload, result.Summary.Source)
	require.NotNil(t, result.Summary.DocumentID)
	assert.Equal(t, result.Document.ID, *result.Summary.DocumentID)

	assert.Contains(t, repo.summaries, "user-1")
	assert.Equal(t, []string{"user-1"}, summaries.invalidated)

	calls := llm.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "summarize_resume", calls[0].Operation)
	assert.Contains(t, calls[0].Prompt, "Go, Postgres")
}

func TestResumeService_UploadQueued(t *testing.T) {
	llm := &fakeGenerator{}
	svc, _, _ := newTestResumeService(llm)
	jobs := &fakeJobs{}
	svc.WithJobs(jobs)

	result, err := svc.Upload(context.Background(), "user-1", "cv.md", []byte("Jane Doe"))
	require.NoError(t, err)

	assert.True(t, result.SummaryQueued)
	assert.Nil(t, result.Summary)
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, queue.ResumeJob{UserID: "user-1", DocumentID: result.Document.ID}, jobs.jobs[0])
	assert.Empty(t, llm.calls())
}

func TestResumeService_UploadQueueDownFallsBackInline(t *testing.T) {
	llm := &fakeGenerator{replies: []string{"summary"}}
	svc, _, _ := newTestResumeService(llm)
	svc.WithJobs(&fakeJobs{err: errors.New("broker down")})

	result, err := svc.Upload(context.Background(), "user-1", "cv.txt", []byte("Jane Doe"))
	require.NoError(t, err)
	assert.False(t, result.SummaryQueued)
	require.NotNil(t, result.Summary)
}

func TestResumeService_UploadSummaryFailureKeepsDocument(t *testing.T) {
	llm := &fakeGenerator{errs: []error{&UpstreamError{Operation: "summarize_resume", Err: errors.New("503")}}}
	svc, repo, _ := newTestResumeService(llm)

	result, err := svc.Upload(context.Background(), "user-1", "cv.txt", []byte("Jane Doe"))
	require.NoError(t, err)
	assert.Nil(t, result.Summary)
	assert.Len(t, repo.documents, 1)
}

func TestResumeService_UploadRejections(t *testing.T) {
	svc, repo, objects := newTestResumeService(&fakeGenerator{})

	tests := []struct {
		name     string
		fileName string
		data     []byte
	}{
		{name: "empty", fileName: "cv.txt", data: nil},
		{name: "too large", fileName: "cv.txt", data: make([]byte, 2048)},
		{name: "unsupported", fileName: "photo.png", data: []byte("\x89PNG\r\n\x1a\n....")},
		{name: "no text", fileName: "cv.txt", data: []byte("   \n  ")},
		{name: "corrupt pdf", fileName: "cv.pdf", data: []byte("garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Upload(context.Background(), "user-1", tt.fileName, tt.data)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, "file", validationErr.Field)
		})
	}
	assert.Empty(t, repo.documents)
	assert.Empty(t, objects.objects)
}

func TestResumeService_UploadRemovesObjectWhenRecordFails(t *testing.T) {
	svc, repo, objects := newTestResumeService(&fakeGenerator{})
	repo.createErr = errors.New("db down")

	_, err := svc.Upload(context.Background(), "user-1", "cv.txt", []byte("Jane Doe"))
	require.Error(t, err)
	assert.Empty(t, objects.objects)
}

func TestResumeService_GetResumeSummaryReadThrough(t *testing.T) {
	svc, repo, _ := newTestResumeService(&fakeGenerator{})
	summaries := &fakeSummaryCache{entries: map[string]*models.ResumeSummary{}}
	svc.WithCache(summaries)
	repo.summaries["user-1"] = &models.ResumeSummary{UserID: "user-1", Summary: "from db"}

	got, err := svc.GetResumeSummary(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "from db", got.Summary)
	assert.Contains(t, summaries.entries, "user-1")

	repo.summaries["user-1"].Summary = "changed behind the cache"
	got, err = svc.GetResumeSummary(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "from db", got.Summary)

	missing, err := svc.GetResumeSummary(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NotContains(t, summaries.entries, "user-2")
}

func TestResumeService_GetResumeSummarySkipsCacheWhenSavedDuringLoad(t *testing.T) {
	ctx := context.Background()
	store := &racingSummaryStore{memoryResumeStore: newMemoryResumeStore()}
	svc := NewResumeService(store, &fakeGenerator{}, newMemoryObjects(), UploadConfig{MaxBytes: 1024})
	summaries := &fakeSummaryCache{entries: map[string]*models.ResumeSummary{}}
	svc.WithCache(summaries)
	store.summaries["user-1"] = &models.ResumeSummary{UserID: "user-1", Summary: "old"}

	store.onRead = func() {
		_, err := svc.SaveManualSummary(ctx, "user-1", "new")
		require.NoError(t, err)
	}

	got, err := svc.GetResumeSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "old", got.Summary)
	assert.NotContains(t, summaries.entries, "user-1", "a load that raced a save must not be cached")

	got, err = svc.GetResumeSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Summary)
	assert.Equal(t, "new", summaries.entries["user-1"].Summary)
}

func TestResumeService_GetResumeSummaryCacheErrorFallsThrough(t *testing.T) {
	svc, repo, _ := newTestResumeService(&fakeGenerator{})
	svc.WithCache(&fakeSummaryCache{entries: map[string]*models.ResumeSummary{}, getErr: errors.New("redis down")})
	repo.summaries["user-1"] = &models.ResumeSummary{UserID: "user-1", Summary: "from db"}

	got, err := svc.GetResumeSummary(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "from db", got.Summary)
}

func TestResumeService_GenerateSummaryFromSections(t *testing.T) {
	llm := &fakeGenerator{replies: []string{"Sections summary"}}
	svc, repo, _ := newTestResumeService(llm)
	repo.sections["user-1"] = []models.ResumeSection{
		{SectionType: "experience", Title: "Backend Engineer", Organization: "Acme", StartDate: "2021-01", Description: "Built payment APIs in Go."},
		{SectionType: "education", Title: "BSc Computer Science"},
	}

	summary, err := svc.GenerateSummary(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SummarySourceSections, summary.Source)
	assert.Nil(t, summary.DocumentID)

	prompt := llm.calls()[0].Prompt
	assert.Contains(t, prompt, "EXPERIENCE: Backend Engineer at Acme (2021-01 - present)")
	assert.Contains(t, prompt, "Built payment APIs in Go.")
	assert.Contains(t, prompt, "EDUCATION: BSc Computer Science")
}

func TestResumeService_GenerateSummaryWithoutSource(t *testing.T) {
	svc, _, _ := newTestResumeService(&fakeGenerator{})

	_, err := svc.GenerateSummary(context.Background(), "user-1")
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestResumeService_HandleJob(t *testing.T) {
	llm := &fakeGenerator{replies: []string{"Queued summary"}}
	svc, repo, _ := newTestResumeService(llm)
	doc := &models.ResumeDocument{UserID: "user-1", ExtractedText: "Jane Doe", StorageKey: "k"}
	require.NoError(t, repo.CreateResumeDocument(context.Background(), doc))

	require.NoError(t, svc.HandleJob(context.Background(), queue.ResumeJob{UserID: "user-1", DocumentID: doc.ID}))
	assert.Equal(t, "Queued summary", repo.summaries["user-1"].Summary)

	err := svc.HandleJob(context.Background(), queue.ResumeJob{UserID: "user-1", DocumentID: "missing"})
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestResumeService_ManualSummaryAndDelete(t *testing.T) {
	svc, repo, _ := newTestResumeService(&fakeGenerator{})
	summaries := &fakeSummaryCache{entries: map[string]*models.ResumeSummary{}}
	svc.WithCache(summaries)
	ctx := context.Background()

	_, err := svc.SaveManualSummary(ctx, "user-1", "   ")
	assert.Error(t, err)

	summary, err := svc.SaveManualSummary(ctx, "user-1", " Hand written ")
	require.NoError(t, err)
	assert.Equal(t, "Hand written", summary.Summary)
	assert.Equal(t, models.SummarySourceManual, repo.summaries["user-1"].Source)

	require.NoError(t, svc.DeleteSummary(ctx, "user-1"))
	assert.NotContains(t, repo.summaries, "user-1")
	assert.Equal(t, []string{"user-1", "user-1"}, summaries.invalidated)
}

func TestResumeService_DeleteDocument(t *testing.T) {
	svc, repo, objects := newTestResumeService(&fakeGenerator{replies: []string{"s"}})
	ctx := context.Background()

	result, err := svc.Upload(ctx, "user-1", "cv.txt", []byte("Jane Doe"))
	require.NoError(t, err)

	var notFound *NotFoundError
	assert.ErrorAs(t, svc.DeleteDocument(ctx, "user-2", result.Document.ID), &notFound)

	require.NoError(t, svc.DeleteDocument(ctx, "user-1", result.Document.ID))
	assert.Empty(t, repo.documents)
	assert.Empty(t, objects.objects)
}
