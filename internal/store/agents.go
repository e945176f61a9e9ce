package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// PutAgent inserts or updates an agent. Updates keep existing group
// memberships intact.
func (s *Store) PutAgent(ctx context.Context, a Agent) error {
	if a.ID == "" {
		return errors.New("store: agent id is required")
	}
	if a.DisplayName == "" {
		return errors.New("store: agent display name is required")
	}
	if a.SourceType == "" {
		a.SourceType = "transcript"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, display_name, source_type, created_at, summary, content)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			source_type  = excluded.source_type,
			summary      = excluded.summary,
			content      = excluded.content`,
		a.ID, a.DisplayName, a.SourceType, a.CreatedAt.Format(time.RFC3339), a.Summary, a.Content)
	if err != nil {
		return fmt.Errorf("put agent %s: %w", a.ID, err)
	}
	return nil
}

// Agent returns one agent by id, including its full content.
func (s *Store) Agent(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, source_type, created_at, summary, content
		FROM agents WHERE id = ?`, id)

	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// DeleteAgent removes an agent and its group memberships.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// Agents lists the catalogue without content bodies, newest first.
func (s *Store) Agents(ctx context.Context) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, source_type, created_at, summary
		FROM agents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		var created string
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.SourceType, &created, &a.Summary); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, created)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// GetCombinedContext assembles one context block for the given agents at
// the requested level, preserving input order. Unknown ids are skipped so
// stale group memberships do not fail a whole query.
func (s *Store) GetCombinedContext(ctx context.Context, agentIDs []string, level ContextLevel) (string, error) {
	if len(agentIDs) == 0 {
		return "", ErrNoAgents
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var sections []string
	for _, id := range agentIDs {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, display_name, source_type, created_at, summary, content
			FROM agents WHERE id = ?`, id)

		a, err := scanAgent(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("combined context for %s: %w", id, err)
		}
		sections = append(sections, renderSection(a, level))
	}

	return strings.Join(sections, "\n\n"), nil
}

func renderSection(a *Agent, level ContextLevel) string {
	header := fmt.Sprintf("=== %s (%s) ===", a.DisplayName, a.SourceType)
	switch level {
	case LevelNone:
		return header
	case LevelSummary:
		body := a.Summary
		if body == "" {
			body = head(a.Content, 600)
		}
		return header + "\n" + body
	default:
		body := a.Content
		if body == "" {
			body = a.Summary
		}
		return header + "\n" + body
	}
}

// QueryAgents ranks agents against the query text. The score is the
// fraction of distinct query words (longer than 3 characters) found in the
// agent's name, summary, or content, so it stays in [0,1].
func (s *Store) QueryAgents(ctx context.Context, text string, opts QueryOptions) ([]RankedAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, source_type, created_at, summary, content
		FROM agents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	terms := searchTerms(text)

	var ranked []RankedAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}

		score := matchScore(terms, a)
		if score < opts.MinScore {
			continue
		}
		ranked = append(ranked, RankedAgent{Agent: *a, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].DisplayName < ranked[j].DisplayName
	})

	if opts.MaxResults > 0 && len(ranked) > opts.MaxResults {
		ranked = ranked[:opts.MaxResults]
	}
	return ranked, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*Agent, error) {
	var a Agent
	var created string
	if err := row.Scan(&a.ID, &a.DisplayName, &a.SourceType, &created, &a.Summary, &a.Content); err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &a, nil
}

func searchTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	seen := make(map[string]struct{}, len(fields))
	var terms []string
	for _, f := range fields {
		if len(f) <= 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func matchScore(terms []string, a *Agent) float64 {
	if len(terms) == 0 {
		return 0
	}

	haystack := strings.ToLower(a.DisplayName + " " + a.Summary + " " + a.Content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
