package services

import (
	"context"
	"sync"

	"github.com/krshsl/mockprep/models"
)

// fakeGenerator replays canned replies in order and records the requests.
type fakeGenerator struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []GenerationRequest
}

func (f *fakeGenerator) GenerateText(_ context.Context, req GenerationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := len(f.requests)
	f.requests = append(f.requests, req)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	if len(f.replies) > 0 {
		return f.replies[len(f.replies)-1], nil
	}
	return "", nil
}

func (f *fakeGenerator) calls() []GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GenerationRequest(nil), f.requests...)
}

type fakeSummaries struct {
	summaries map[string]string
	err       error
}

func (f *fakeSummaries) GetResumeSummary(_ context.Context, userID string) (*models.ResumeSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.summaries[userID]
	if !ok {
		return nil, nil
	}
	return &models.ResumeSummary{UserID: userID, Summary: s, Source: models.SummarySourceManual}, nil
}
