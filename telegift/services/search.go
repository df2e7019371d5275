package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sahilm/fuzzy"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
)

const (
	searchCacheSize = 512
	searchCacheTTL  = 30 * time.Second

	// candidateFactor widens the database candidate set before fuzzy
	// re-ranking trims it back to one page.
	candidateFactor = 4
)

// userSearchItems implements fuzzy.Source over user display names.
type userSearchItems []*models.User

func (items userSearchItems) Len() int { return len(items) }

func (items userSearchItems) String(i int) string {
	u := items[i]
	return strings.TrimSpace(u.DisplayName() + " " + u.Username)
}

type cachedSearch struct {
	users    []*models.User
	storedAt time.Time
}

// UserSearch answers people-search queries: a cheap ILIKE pass in the
// database produces candidates, fuzzy matching re-ranks them, and a short
// LRU keeps repeat keystrokes off the database.
type UserSearch struct {
	users repositories.UserRepository
	cache *lru.Cache
}

func NewUserSearch(users repositories.UserRepository) *UserSearch {
	cache, _ := lru.New(searchCacheSize)
	return &UserSearch{users: users, cache: cache}
}

// Search returns up to one page of users matching query, best matches first.
// An empty query falls back to the leaderboard ordering.
func (s *UserSearch) Search(ctx context.Context, query string, offset int) ([]*models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.users.GetTopUsers(ctx, repositories.PageSize)
	}

	key := fmt.Sprintf("%s|%d", strings.ToLower(query), offset)
	if v, ok := s.cache.Get(key); ok {
		if hit := v.(cachedSearch); time.Since(hit.storedAt) < searchCacheTTL {
			return hit.users, nil
		}
		s.cache.Remove(key)
	}

	candidates, err := s.users.SearchByName(ctx, query, offset, repositories.PageSize*candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}

	ranked := s.rank(query, candidates)
	s.cache.Add(key, cachedSearch{users: ranked, storedAt: time.Now()})
	return ranked, nil
}

func (s *UserSearch) rank(query string, candidates []*models.User) []*models.User {
	if len(candidates) == 0 {
		return nil
	}

	items := userSearchItems(candidates)
	matches := fuzzy.FindFrom(query, items)
	if len(matches) == 0 {
		// ILIKE matched but fuzzy scored nothing (e.g. matched on a
		// substring fuzzy penalizes away). Keep the database ordering.
		if len(candidates) > repositories.PageSize {
			candidates = candidates[:repositories.PageSize]
		}
		return candidates
	}

	out := make([]*models.User, 0, len(matches))
	for _, m := range matches {
		out = append(out, candidates[m.Index])
		if len(out) == repositories.PageSize {
			break
		}
	}
	return out
}

// Invalidate drops every cached page. Called after writes that change
// ranking, e.g. a claimed gift.
func (s *UserSearch) Invalidate() {
	s.cache.Purge()
}
