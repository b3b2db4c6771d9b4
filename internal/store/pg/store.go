package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/store/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ pool *pgxpool.Pool }

// Pool expone el pool interno para usos avanzados (metrics/migraciones).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

type Tuning struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

func New(ctx context.Context, dsn string, t Tuning) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	if t.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(t.MaxOpenConns)
	}
	// Mapear MaxIdleConns → MinConns (pgxpool)
	if t.MaxIdleConns > 0 {
		pcfg.MinConns = int32(t.MaxIdleConns)
	}
	if t.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(t.ConnMaxLifetime); err == nil {
			pcfg.MaxConnLifetime = d
			pcfg.MaxConnIdleTime = d
		}
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 5
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	// Non-blocking startup: try to ping, but don't fail if it fails.
	// This allows the app to start even if DB is temporarily down.
	if err := pool.Ping(ctx); err != nil {
		log.Printf(`{"level":"warn","msg":"pg_pool_startup_ping_failed","err":"%v"}`, err)
	} else {
		log.Printf(`{"level":"info","msg":"pg_pool_ready","max_conns":%d}`, pcfg.MaxConns)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// tenantColumn mapea el kind del tenant a su columna de identidad.
func tenantColumn(t core.Tenant) (string, error) {
	switch t.Kind {
	case core.TenantLocation:
		return "location_id", nil
	case core.TenantAgency:
		return "agency_id", nil
	default:
		return "", fmt.Errorf("%w: tenant kind %q", core.ErrInvalid, t.Kind)
	}
}

// ====================== INSTALLATIONS ======================

const installationCols = `id, location_id, agency_id, access_token_enc, refresh_token_enc,
	scopes, expires_at, status, last_token_refresh, created_at, updated_at`

func scanInstallation(row pgx.Row) (*core.Installation, error) {
	var (
		ins        core.Installation
		locationID *string
		agencyID   *string
	)
	err := row.Scan(
		&ins.ID, &locationID, &agencyID, &ins.AccessTokenEnc, &ins.RefreshTokenEnc,
		&ins.Scopes, &ins.ExpiresAt, &ins.Status, &ins.LastTokenRefresh,
		&ins.CreatedAt, &ins.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	switch {
	case locationID != nil:
		ins.Tenant = core.LocationTenant(*locationID)
	case agencyID != nil:
		ins.Tenant = core.AgencyTenant(*agencyID)
	}
	return &ins, nil
}

// UpsertInstallation hace el upsert en una sola sentencia contra el índice
// único parcial del tenant: de dos callbacks concurrentes del mismo tenant el
// perdedor degrada a UPDATE sobre la fila ganadora, nunca a unique_violation.
// xmax = 0 en la fila devuelta distingue INSERT de UPDATE.
func (s *Store) UpsertInstallation(ctx context.Context, ins *core.Installation) (*core.Installation, bool, error) {
	if err := ins.Tenant.Validate(); err != nil {
		return nil, false, err
	}
	col, err := tenantColumn(ins.Tenant)
	if err != nil {
		return nil, false, err
	}
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}

	q := fmt.Sprintf(`INSERT INTO installation
		(id, %[1]s, access_token_enc, refresh_token_enc, scopes, expires_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', now(), now())
		ON CONFLICT (%[1]s) WHERE status = 'active' AND %[1]s IS NOT NULL DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			scopes = EXCLUDED.scopes,
			expires_at = EXCLUDED.expires_at,
			status = 'active',
			last_token_refresh = now(),
			updated_at = now()
		RETURNING %[2]s, (xmax = 0)`, col, installationCols)

	var (
		out        core.Installation
		locationID *string
		agencyID   *string
		created    bool
	)
	row := s.pool.QueryRow(ctx, q, ins.ID, ins.Tenant.ID, ins.AccessTokenEnc, ins.RefreshTokenEnc, ins.Scopes, ins.ExpiresAt)
	err = row.Scan(
		&out.ID, &locationID, &agencyID, &out.AccessTokenEnc, &out.RefreshTokenEnc,
		&out.Scopes, &out.ExpiresAt, &out.Status, &out.LastTokenRefresh,
		&out.CreatedAt, &out.UpdatedAt, &created,
	)
	if err != nil {
		return nil, false, err
	}
	switch {
	case locationID != nil:
		out.Tenant = core.LocationTenant(*locationID)
	case agencyID != nil:
		out.Tenant = core.AgencyTenant(*agencyID)
	}
	// En un reinstall la fila existente conserva su id.
	ins.ID = out.ID
	return &out, created, nil
}

func (s *Store) GetInstallation(ctx context.Context, t core.Tenant) (*core.Installation, error) {
	col, err := tenantColumn(t)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM installation WHERE %s = $1 AND status = 'active' LIMIT 1`, installationCols, col)
	return scanInstallation(s.pool.QueryRow(ctx, q, t.ID))
}

func (s *Store) ListInstallations(ctx context.Context) ([]*core.Installation, error) {
	q := fmt.Sprintf(`SELECT %s FROM installation ORDER BY created_at DESC`, installationCols)
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Installation
	for rows.Next() {
		ins, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

func (s *Store) ListExpiring(ctx context.Context, within, cooldown time.Duration) ([]*core.Installation, error) {
	q := fmt.Sprintf(`SELECT %s FROM installation
		WHERE status = 'active'
		  AND expires_at < now() + $1::interval
		  AND (last_token_refresh IS NULL OR last_token_refresh < now() - $2::interval)
		ORDER BY expires_at ASC`, installationCols)
	rows, err := s.pool.Query(ctx, q, within.String(), cooldown.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Installation
	for rows.Next() {
		ins, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTokens(ctx context.Context, id string, tr core.TokenRefresh) error {
	const q = `UPDATE installation SET
		access_token_enc = $2, refresh_token_enc = $3, expires_at = $4,
		last_token_refresh = now(), updated_at = now()
		WHERE id = $1`
	ct, err := s.pool.Exec(ctx, q, id, tr.AccessTokenEnc, tr.RefreshTokenEnc, tr.ExpiresAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, t core.Tenant, status string) error {
	col, err := tenantColumn(t)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE installation SET status = $2, updated_at = now() WHERE %s = $1 AND status = 'active'`, col)
	ct, err := s.pool.Exec(ctx, q, t.ID, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ====================== REPLAY GUARD ======================

func (s *Store) PutState(ctx context.Context, stateHash string, st core.AuthState) error {
	const q = `INSERT INTO auth_state (state_hash, client_id, redirect_uri, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (state_hash) DO NOTHING`
	ct, err := s.pool.Exec(ctx, q, stateHash, st.ClientID, st.RedirectURI, st.ExpiresAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		// Colisión de un token aleatorio de 256 bits: no debería pasar.
		return core.ErrConflict
	}
	return nil
}

// ConsumeState: DELETE ... RETURNING es atómico a nivel de fila, así que de
// dos callbacks concurrentes con el mismo state sólo uno obtiene el registro.
// Un state expirado se trata igual que uno inexistente.
func (s *Store) ConsumeState(ctx context.Context, stateHash string) (*core.AuthState, error) {
	const q = `DELETE FROM auth_state
		WHERE state_hash = $1 AND expires_at > now()
		RETURNING client_id, redirect_uri, expires_at`
	var st core.AuthState
	if err := s.pool.QueryRow(ctx, q, stateHash).Scan(&st.ClientID, &st.RedirectURI, &st.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

// MarkCodeUsed registra el code como consumido. Si ya había un registro sin
// expirar devuelve ErrCodeReplayed; una fila expirada se reutiliza.
func (s *Store) MarkCodeUsed(ctx context.Context, codeHash string, ttl time.Duration) error {
	const q = `INSERT INTO used_code (code_hash, expires_at)
		VALUES ($1, now() + $2::interval)
		ON CONFLICT (code_hash) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE used_code.expires_at <= now()
		RETURNING code_hash`
	var got string
	if err := s.pool.QueryRow(ctx, q, codeHash, ttl.String()).Scan(&got); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrCodeReplayed
		}
		return err
	}
	return nil
}

func (s *Store) IsCodeUsed(ctx context.Context, codeHash string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM used_code WHERE code_hash = $1 AND expires_at > now())`
	var used bool
	if err := s.pool.QueryRow(ctx, q, codeHash).Scan(&used); err != nil {
		return false, err
	}
	return used, nil
}

// ====================== AUDIT ======================

func (s *Store) AppendAudit(ctx context.Context, e core.AuditEntry) error {
	data, err := json.Marshal(e.EventData)
	if err != nil {
		data = []byte("{}")
	}
	meta, err := json.Marshal(e.RequestMeta)
	if err != nil {
		meta = []byte("{}")
	}
	var instID *string
	if e.InstallationID != "" {
		instID = &e.InstallationID
	}
	const q = `INSERT INTO audit_log (installation_id, event_type, event_data, request_meta, created_at)
		VALUES ($1, $2, $3, $4, now())`
	_, err = s.pool.Exec(ctx, q, instID, e.EventType, data, meta)
	return err
}

var _ core.Repository = (*Store)(nil)
