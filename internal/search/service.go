// Package search indexes boards and tasks and serves full-text queries,
// preferring Meilisearch with a PostgreSQL fallback.
package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG.
type Service struct {
	meili *Meili
	pg    *Pg
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *Pg) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pg: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: pg error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexBoard indexes a board (fire-and-forget to Meilisearch).
func (s *Service) IndexBoard(b BoardRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexBoard(b); err != nil {
			log.Printf("search: index board %s: %v", b.ID, err)
		}
	}()
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(t TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(t); err != nil {
			log.Printf("search: index task %s: %v", t.ID, err)
		}
	}()
}

// DeleteBoard removes a board from the search index (fire-and-forget).
func (s *Service) DeleteBoard(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteBoard(id); err != nil {
			log.Printf("search: delete board %s: %v", id, err)
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			log.Printf("search: delete task %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	boards, tasks, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexBoards(boards); err != nil {
		log.Printf("search: reindex boards: %v", err)
	}
	if err := s.meili.IndexTasks(tasks); err != nil {
		log.Printf("search: reindex tasks: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
