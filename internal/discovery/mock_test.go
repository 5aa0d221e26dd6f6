package discovery

import (
	"context"
	"sync"

	"github.com/sells-group/news-pipeline/internal/model"
)

// memStore implements Store for testing.
type memStore struct {
	mu        sync.Mutex
	homepages []model.Homepage
	cache     map[string][]string
	batches   []model.NewLinkBatch
	loadErr   error
	saveErr   error
}

func newMemStore(homepages ...model.Homepage) *memStore {
	return &memStore{homepages: homepages, cache: map[string][]string{}}
}

func (m *memStore) ActiveHomepages(_ context.Context) ([]model.Homepage, error) {
	return m.homepages, m.loadErr
}

func (m *memStore) LinkCache(_ context.Context, homepage string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cache[homepage]...), nil
}

func (m *memStore) AddToLinkCache(_ context.Context, homepage string, links []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(homepage, links), nil
}

func (m *memStore) addLocked(homepage string, links []string) int {
	known := map[string]bool{}
	for _, l := range m.cache[homepage] {
		known[l] = true
	}
	added := 0
	for _, l := range links {
		if !known[l] {
			known[l] = true
			m.cache[homepage] = append(m.cache[homepage], l)
			added++
		}
	}
	return added
}

func (m *memStore) SaveNewLinks(_ context.Context, batch model.NewLinkBatch) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	m.addLocked(batch.Homepage, batch.Links)
	return nil
}

// scriptedLister returns queued results per URL.
type scriptedLister struct {
	mu      sync.Mutex
	results map[string][]listResult
	calls   map[string]int
}

type listResult struct {
	links []string
	err   error
}

func newScriptedLister() *scriptedLister {
	return &scriptedLister{results: map[string][]listResult{}, calls: map[string]int{}}
}

func (s *scriptedLister) on(url string, links []string, err error) *scriptedLister {
	s.results[url] = append(s.results[url], listResult{links: links, err: err})
	return s
}

func (s *scriptedLister) Name() string { return "scripted" }

func (s *scriptedLister) ListLinks(_ context.Context, url string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[url]
	s.calls[url]++
	queue := s.results[url]
	if len(queue) == 0 {
		return nil, nil
	}
	if n >= len(queue) {
		n = len(queue) - 1
	}
	return queue[n].links, queue[n].err
}
