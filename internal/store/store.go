// Package store provides the SQLite-backed agent and group catalogue that
// the orchestration core reads. The core never mutates catalogue rows; all
// writes happen through the CLI management commands.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrNoAgents is returned when an operation requires at least one agent id.
var ErrNoAgents = errors.New("store: no agent ids")

// Agent is one unit of previously analyzed content, typically a meeting
// transcript. Agents are immutable once created; the orchestration core
// only reads them.
type Agent struct {
	// ID uniquely identifies the agent.
	ID string `json:"id"`

	// DisplayName is the human-readable name shown in attributions.
	DisplayName string `json:"display_name"`

	// SourceType describes where the content came from (e.g. "transcript").
	SourceType string `json:"source_type"`

	// CreatedAt is when the agent was added to the catalogue.
	CreatedAt time.Time `json:"created_at"`

	// Summary is a condensed version of the content.
	Summary string `json:"summary,omitempty"`

	// Content is the full analyzed text.
	Content string `json:"content,omitempty"`
}

// CriteriaType classifies how a group's members were selected.
type CriteriaType string

const (
	CriteriaTemporal CriteriaType = "temporal"
	CriteriaThematic CriteriaType = "thematic"
	CriteriaSource   CriteriaType = "source"
	CriteriaCustom   CriteriaType = "custom"
)

// ParseCriteriaType maps a user-supplied string onto a CriteriaType.
func ParseCriteriaType(s string) (CriteriaType, bool) {
	switch CriteriaType(s) {
	case CriteriaTemporal, CriteriaThematic, CriteriaSource, CriteriaCustom:
		return CriteriaType(s), true
	}
	return "", false
}

// Group is a named collection of agents sharing a classification criterion.
type Group struct {
	// ID uniquely identifies the group.
	ID string `json:"id"`

	// Name is the human-readable group name.
	Name string `json:"name"`

	// Description elaborates on what the group collects.
	Description string `json:"description,omitempty"`

	// Criteria is the classification criterion for membership.
	Criteria CriteriaType `json:"criteria_type"`

	// AgentIDs are the member agents in stored order.
	AgentIDs []string `json:"agent_ids,omitempty"`

	// Enabled marks the group as usable for group-level decomposition.
	Enabled bool `json:"enabled"`
}

// Eligible reports whether the group can participate in group-level
// decomposition: it must be enabled and have at least one member.
func (g Group) Eligible() bool {
	return g.Enabled && len(g.AgentIDs) > 0
}

// ContextLevel controls how much of each agent's content a combined
// context request returns.
type ContextLevel string

const (
	// LevelNone returns only the per-agent header lines.
	LevelNone ContextLevel = "none"

	// LevelSummary returns the stored summary for each agent.
	LevelSummary ContextLevel = "summary"

	// LevelStandard returns the full content for each agent.
	LevelStandard ContextLevel = "standard"
)

// QueryOptions bounds a ranked agent search.
type QueryOptions struct {
	// MaxResults caps the number of agents returned (0 means no cap).
	MaxResults int `json:"max_results"`

	// MinScore drops agents scoring below this threshold.
	MinScore float64 `json:"min_score"`
}

// RankedAgent decorates an agent with its match score for a query.
type RankedAgent struct {
	Agent
	Score float64 `json:"score"`
}

// Options configures the catalogue store.
type Options struct {
	// Path to the SQLite database file. If empty, an in-memory database
	// is used.
	Path string

	// CreateIfMissing creates the parent directory if it does not exist.
	CreateIfMissing bool
}

// Store manages the agent/group catalogue database.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open opens (and if necessary initializes) the catalogue at the given path.
func Open(opts Options) (*Store, error) {
	var dsn string
	if opts.Path == "" {
		dsn = "file::memory:?cache=shared"
	} else {
		if opts.CreateIfMissing {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = "file:" + opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: opts.Path}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path ("" for in-memory stores).
func (s *Store) Path() string {
	return s.path
}
