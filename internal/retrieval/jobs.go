package retrieval

import (
	"context"
	"fmt"

	"github.com/hyperjump/hybridkb/internal/jobs"
	"github.com/hyperjump/hybridkb/internal/models"
)

// ParamKnowledgeBase is the job parameter naming the target knowledge base.
const ParamKnowledgeBase = "kb_id"

func (s *Service) registerJobs() {
	s.jobs.Register(jobs.TypeReindexAll, s.reindexAllJob)
	s.jobs.Register(jobs.TypeReindex, s.reindexJob)
	s.jobs.Register(jobs.TypeRebuildLexical, s.rebuildLexicalJob)
}

func (s *Service) reindexAllJob(ctx context.Context, _ map[string]string, report jobs.Reporter) (map[string]interface{}, error) {
	counts, err := s.maint.ReindexAll(ctx, func(done, total int) {
		report(percent(done, total), fmt.Sprintf("%d/%d knowledge bases", done, total))
	})
	result := make(map[string]interface{}, len(counts))
	for kb, n := range counts {
		result[kb] = n
	}
	return result, err
}

func (s *Service) reindexJob(ctx context.Context, params map[string]string, report jobs.Reporter) (map[string]interface{}, error) {
	kbID := params[ParamKnowledgeBase]
	n, err := s.maint.Reindex(ctx, kbID, func(done, total int) {
		report(percent(done, total), fmt.Sprintf("%d/%d chunks", done, total))
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{ParamKnowledgeBase: kbID, "chunks": n}, nil
}

func (s *Service) rebuildLexicalJob(ctx context.Context, params map[string]string, _ jobs.Reporter) (map[string]interface{}, error) {
	kbID := params[ParamKnowledgeBase]
	n, err := s.RebuildLexical(ctx, kbID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{ParamKnowledgeBase: kbID, "chunks": n}, nil
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}

// SubmitJob starts a background job. reindex needs an existing knowledge base;
// rebuild_lexical takes an optional one and rebuilds all indexes without it.
func (s *Service) SubmitJob(ctx context.Context, jobType, kbID string) (*models.Job, error) {
	params := map[string]string{}
	switch jobType {
	case jobs.TypeReindex:
		if kbID == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingParam, ParamKnowledgeBase)
		}
		fallthrough
	case jobs.TypeRebuildLexical:
		if kbID != "" {
			if err := s.registry.Require(ctx, kbID); err != nil {
				return nil, err
			}
			params[ParamKnowledgeBase] = kbID
		}
	}
	return s.jobs.Submit(ctx, jobType, params)
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.Get(ctx, id)
}

// ListJobs returns the most recent jobs first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.jobs.List(ctx, limit)
}

// CancelJob cancels a pending or running job.
func (s *Service) CancelJob(ctx context.Context, id string) error {
	return s.jobs.Cancel(ctx, id)
}

// WaitJobs blocks until every running job has finished.
func (s *Service) WaitJobs() { s.jobs.Wait() }
