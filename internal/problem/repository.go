package problem

import (
	"context"
	"time"

	"ojeval/internal/common/cache"
	"ojeval/internal/common/db"
	pkgerrors "ojeval/pkg/errors"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "problem:eval:"
)

// Repository reads problems for evaluation.
type Repository interface {
	Get(ctx context.Context, problemID string) (*Problem, error)
	// Invalidate drops the cached copy after the problem was edited.
	Invalidate(ctx context.Context, problemID string) error
}

type MySQLRepository struct {
	db     db.Database
	cached *cache.ReadThrough[*Problem]
}

func NewRepository(database db.Database, cacheClient cache.Cache) *MySQLRepository {
	return NewRepositoryWithTTL(database, cacheClient, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLRepository{
		db:     database,
		cached: &cache.ReadThrough[*Problem]{Cache: cacheClient, TTL: ttl, EmptyTTL: emptyTTL},
	}
}

func (r *MySQLRepository) Get(ctx context.Context, problemID string) (*Problem, error) {
	p, found, err := r.cached.Load(ctx, problemKey(problemID), func(ctx context.Context) (*Problem, bool, error) {
		p, err := r.getFromDB(ctx, problemID)
		if pkgerrors.Is(err, pkgerrors.ProblemNotFound) {
			return nil, false, nil
		}
		return p, err == nil, err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem %s not found", problemID)
	}
	return p, nil
}

func (r *MySQLRepository) Invalidate(ctx context.Context, problemID string) error {
	return r.cached.Forget(ctx, problemKey(problemID))
}

func (r *MySQLRepository) getFromDB(ctx context.Context, problemID string) (*Problem, error) {
	query := `
		SELECT id, title, test_cases, time_limit, memory_limit
		FROM problems
		WHERE id = ?`

	var (
		p           Problem
		raw         []byte
		timeLimit   float64
		memoryLimit int
	)
	err := r.db.QueryRow(ctx, query, problemID).Scan(&p.ID, &p.Title, &raw, &timeLimit, &memoryLimit)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem %s not found", problemID)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	p.TestCases, err = ParseTestCases(raw)
	if err != nil {
		return nil, err
	}
	p.Limits = NormalizeLimits(timeLimit, memoryLimit)
	return &p, nil
}

func problemKey(problemID string) string {
	return problemKeyPrefix + problemID
}

// StaticRepository serves problems from memory.
type StaticRepository struct {
	problems map[string]*Problem
}

func NewStaticRepository(problems ...*Problem) *StaticRepository {
	m := make(map[string]*Problem, len(problems))
	for _, p := range problems {
		m[p.ID] = p
	}
	return &StaticRepository{problems: m}
}

func (r *StaticRepository) Get(_ context.Context, problemID string) (*Problem, error) {
	p, ok := r.problems[problemID]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.ProblemNotFound, "problem %s not found", problemID)
	}
	return p, nil
}

func (r *StaticRepository) Invalidate(context.Context, string) error { return nil }

var (
	_ Repository = (*MySQLRepository)(nil)
	_ Repository = (*StaticRepository)(nil)
)
