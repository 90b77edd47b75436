package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecelik/mirrorbot/internal/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// ConfigStore implements domain.ConfigStore using PostgreSQL. Configs are
// immutable: the fingerprint is the primary key and there is no update path,
// only create and delete.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a ConfigStore backed by the given connection pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// Create persists a new strategy configuration. A fingerprint collision
// returns domain.ErrAlreadyExists.
func (s *ConfigStore) Create(ctx context.Context, cfg domain.StrategyConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal config %s: %w", cfg.Sha, err)
	}

	const query = `
		INSERT INTO strategy_configs (sha, config_json, created_at)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, query, cfg.Sha, configJSON, cfg.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create config %s: %w", cfg.Sha, err)
	}
	return nil
}

// Get retrieves a configuration by its fingerprint.
func (s *ConfigStore) Get(ctx context.Context, sha string) (domain.StrategyConfig, error) {
	const query = `SELECT config_json FROM strategy_configs WHERE sha = $1`

	var configJSON []byte
	if err := s.pool.QueryRow(ctx, query, sha).Scan(&configJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StrategyConfig{}, domain.ErrNotFound
		}
		return domain.StrategyConfig{}, fmt.Errorf("postgres: get config %s: %w", sha, err)
	}

	var cfg domain.StrategyConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("postgres: unmarshal config %s: %w", sha, err)
	}
	return cfg, nil
}

// Delete removes a configuration. Unknown fingerprints return
// domain.ErrNotFound.
func (s *ConfigStore) Delete(ctx context.Context, sha string) error {
	const query = `DELETE FROM strategy_configs WHERE sha = $1`

	tag, err := s.pool.Exec(ctx, query, sha)
	if err != nil {
		return fmt.Errorf("postgres: delete config %s: %w", sha, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all stored configurations, newest first.
func (s *ConfigStore) List(ctx context.Context) ([]domain.StrategyConfig, error) {
	const query = `SELECT config_json FROM strategy_configs ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.StrategyConfig
	for rows.Next() {
		var configJSON []byte
		if err := rows.Scan(&configJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan config: %w", err)
		}
		var cfg domain.StrategyConfig
		if err := json.Unmarshal(configJSON, &cfg); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list configs rows: %w", err)
	}
	return configs, nil
}
