package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"conductor/internal/domain"
)

// History persists per-orchestrator conversation transcripts, one JSON array
// file per orchestrator ID. Appends are full read-modify-write cycles; with
// concurrent writers the last writer wins, which is acceptable for the
// single-process deployments this store targets.
type History struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// HistoryFilter narrows and orders a List call. Date bounds are inclusive
// and compared against the entry timestamp.
type HistoryFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	SortDesc  bool
	Offset    int
	Limit     int
}

// NewHistory creates a conversation history store rooted at dir.
func NewHistory(dir string, logger *slog.Logger) (*History, error) {
	convDir := filepath.Join(dir, "conversations")
	if err := os.MkdirAll(convDir, 0700); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	return &History{dir: convDir, logger: logger}, nil
}

// Append records one exchange at the end of the orchestrator's transcript,
// creating the transcript if it does not exist yet.
func (h *History) Append(_ context.Context, orchestratorID, user, response string, userValues map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.read(orchestratorID)
	if err != nil && !os.IsNotExist(err) {
		return domain.WrapOp("History.Append", err)
	}

	entries = append(entries, domain.ConversationEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		User:       user,
		Response:   response,
		UserValues: userValues,
	})

	if err := writeJSON(h.path(orchestratorID), entries); err != nil {
		return domain.WrapOp("History.Append", err)
	}

	h.logger.Debug("conversation entry recorded",
		"orchestrator_id", orchestratorID,
		"entries", len(entries),
	)
	return nil
}

// List returns the orchestrator's transcript, filtered and ordered.
// A missing transcript yields an empty list, not an error.
func (h *History) List(_ context.Context, orchestratorID string, filter HistoryFilter) ([]domain.ConversationEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.read(orchestratorID)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.ConversationEntry{}, nil
		}
		return nil, domain.WrapOp("History.List", err)
	}

	filtered := entries[:0:0]
	for _, e := range entries {
		ts, parseErr := time.Parse(time.RFC3339, e.Timestamp)
		if parseErr != nil {
			// Entries with unparseable timestamps survive an unfiltered
			// list but cannot match a date filter.
			if filter.StartDate != nil || filter.EndDate != nil {
				continue
			}
			filtered = append(filtered, e)
			continue
		}
		if filter.StartDate != nil && ts.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && ts.After(*filter.EndDate) {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filter.SortDesc {
			return filtered[i].Timestamp > filtered[j].Timestamp
		}
		return filtered[i].Timestamp < filtered[j].Timestamp
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return []domain.ConversationEntry{}, nil
		}
		filtered = filtered[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(filtered) {
		filtered = filtered[:filter.Limit]
	}
	return filtered, nil
}

// Search scans every stored transcript for a case-insensitive substring match
// in the user or response text, stopping as soon as limit hits are collected.
func (h *History) Search(_ context.Context, query string, limit int) ([]domain.ConversationMatch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)

	ids, err := h.listIDs()
	if err != nil {
		return nil, domain.WrapOp("History.Search", err)
	}

	var matches []domain.ConversationMatch
	for _, id := range ids {
		entries, err := h.read(id)
		if err != nil {
			continue
		}
		for _, e := range entries {
			var matchedIn string
			switch {
			case strings.Contains(strings.ToLower(e.User), needle):
				matchedIn = "user"
			case strings.Contains(strings.ToLower(e.Response), needle):
				matchedIn = "response"
			default:
				continue
			}
			matches = append(matches, domain.ConversationMatch{
				OrchestratorID: id,
				MatchedIn:      matchedIn,
				Entry:          e,
			})
			if len(matches) >= limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}

// Summaries lists every stored conversation with its entry count and the
// timestamp of its latest entry.
func (h *History) Summaries(_ context.Context) ([]domain.ConversationSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids, err := h.listIDs()
	if err != nil {
		return nil, domain.WrapOp("History.Summaries", err)
	}

	summaries := make([]domain.ConversationSummary, 0, len(ids))
	for _, id := range ids {
		entries, err := h.read(id)
		if err != nil {
			continue
		}
		s := domain.ConversationSummary{
			OrchestratorID: id,
			MessageCount:   len(entries),
		}
		if len(entries) > 0 {
			s.LatestTimestamp = entries[len(entries)-1].Timestamp
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Clear empties a transcript but keeps the file, so the conversation still
// lists with zero messages.
func (h *History) Clear(_ context.Context, orchestratorID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := os.Stat(h.path(orchestratorID)); err != nil {
		if os.IsNotExist(err) {
			return domain.NewDomainError("History.Clear", domain.ErrConversationNotFound, orchestratorID)
		}
		return domain.WrapOp("History.Clear", err)
	}
	return writeJSON(h.path(orchestratorID), []domain.ConversationEntry{})
}

// Delete removes a transcript file entirely.
func (h *History) Delete(_ context.Context, orchestratorID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.Remove(h.path(orchestratorID)); err != nil {
		if os.IsNotExist(err) {
			return domain.NewDomainError("History.Delete", domain.ErrConversationNotFound, orchestratorID)
		}
		return domain.WrapOp("History.Delete", err)
	}
	return nil
}

func (h *History) path(orchestratorID string) string {
	// IDs are ULIDs; Base guards against path traversal in hand-crafted IDs.
	return filepath.Join(h.dir, filepath.Base(orchestratorID)+".json")
}

func (h *History) read(orchestratorID string) ([]domain.ConversationEntry, error) {
	data, err := os.ReadFile(h.path(orchestratorID))
	if err != nil {
		return nil, err
	}
	var entries []domain.ConversationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s.json: %w", orchestratorID, err)
	}
	return entries, nil
}

func (h *History) listIDs() ([]string, error) {
	dirEntries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
