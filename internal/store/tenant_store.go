package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/signing"
	"github.com/jackc/pgx/v5"
)

// ErrTenantNotFound is returned when no users row matches a lookup.
var ErrTenantNotFound = errors.New("tenant not found")

// TenantRecord is one users row with its phrases, as stored.
type TenantRecord struct {
	PrivateKey string
	DID        *string
	Endpoint   string
	Phrases    []string
}

// Tenant converts the row into a domain tenant, deriving its public identifier
// and normalizing its phrases. It does not validate match criteria.
func (r TenantRecord) Tenant() (*domain.Tenant, error) {
	id, err := signing.PublicIDFromSeed(r.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTenant, err)
	}
	t := &domain.Tenant{
		ID:         id,
		SigningKey: strings.ToLower(strings.TrimSpace(r.PrivateKey)),
		Endpoint:   strings.TrimSpace(r.Endpoint),
		Phrases:    domain.NormalizePhrases(r.Phrases),
	}
	if r.DID != nil {
		t.TargetDID = strings.TrimSpace(*r.DID)
	}
	return t, nil
}

const tenantColumns = `
	SELECT u.private_key, u.did, u.endpoint,
		COALESCE(array_agg(p.phrase) FILTER (WHERE p.phrase IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN phrases p ON p.private_key = u.private_key`

// ListTenants returns every tenant joined with its phrases.
func (s *PostgresStore) ListTenants(ctx context.Context) ([]TenantRecord, error) {
	rows, err := s.pool.Query(ctx, tenantColumns+`
		GROUP BY u.private_key, u.did, u.endpoint
		ORDER BY u.private_key
	`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var records []TenantRecord
	for rows.Next() {
		var r TenantRecord
		if err := rows.Scan(&r.PrivateKey, &r.DID, &r.Endpoint, &r.Phrases); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}

	if records == nil {
		records = []TenantRecord{}
	}
	return records, nil
}

// GetTenant loads one tenant by its public identifier or by its row key.
func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*TenantRecord, error) {
	id = strings.ToLower(strings.TrimSpace(id))

	rec, err := s.getByPrivateKey(ctx, id)
	if !errors.Is(err, ErrTenantNotFound) {
		return rec, err
	}

	key, err := s.findPrivateKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.getByPrivateKey(ctx, key)
}

// Row keys are hex, so the lookup ignores case.
const tenantByKeyQuery = tenantColumns + `
	WHERE lower(u.private_key) = lower($1)
	GROUP BY u.private_key, u.did, u.endpoint`

func (s *PostgresStore) getByPrivateKey(ctx context.Context, key string) (*TenantRecord, error) {
	var r TenantRecord
	err := s.pool.QueryRow(ctx, tenantByKeyQuery, key).Scan(&r.PrivateKey, &r.DID, &r.Endpoint, &r.Phrases)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return &r, nil
}

// findPrivateKey resolves a public identifier. Public keys are not stored, so
// every row key is derived and compared.
func (s *PostgresStore) findPrivateKey(ctx context.Context, publicID string) (string, error) {
	rows, err := s.pool.Query(ctx, `SELECT private_key FROM users`)
	if err != nil {
		return "", fmt.Errorf("querying tenant keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return "", fmt.Errorf("scanning tenant key: %w", err)
		}
		derived, err := signing.PublicIDFromSeed(key)
		if err != nil {
			continue
		}
		if derived == publicID {
			return key, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating tenant keys: %w", err)
	}
	return "", ErrTenantNotFound
}
