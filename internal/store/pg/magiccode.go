package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"condoflow.io/internal/magiccode"
)

func (s *Store) Suppliers(ctx context.Context) magiccode.SupplierStore { return pgSuppliers{s} }
func (s *Store) Codes(ctx context.Context) magiccode.CodeStore         { return pgCodes{s} }
func (s *Store) Attempts(ctx context.Context) magiccode.AttemptStore   { return pgAttempts{s} }
func (s *Store) Events(ctx context.Context) magiccode.EventStore       { return pgEvents{s} }

type pgSuppliers struct{ s *Store }

func (p pgSuppliers) Create(ctx context.Context, sup *magiccode.Supplier) error {
	_, err := p.s.db.ExecContext(ctx, `
		insert into suppliers(id, name, email, phone, is_active, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$6)
	`, sup.ID, sup.Name, sup.Email, nullStr(sup.Phone), sup.IsActive, sup.CreatedAt)
	return err
}

func (p pgSuppliers) Find(ctx context.Context, id string) (*magiccode.Supplier, error) {
	var sup magiccode.Supplier
	var phone sql.NullString
	err := p.s.db.QueryRowContext(ctx, `
		select id, name, email, phone, is_active, created_at, updated_at
		from suppliers where id=$1
	`, id).Scan(&sup.ID, &sup.Name, &sup.Email, &phone, &sup.IsActive, &sup.CreatedAt, &sup.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, magiccode.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sup.Phone = strVal(phone)
	return &sup, nil
}

func (p pgSuppliers) LatestOpenAssistance(ctx context.Context, supplierID string) (string, error) {
	var id string
	err := p.s.db.QueryRowContext(ctx, `
		select id from assistances
		where supplier_id=$1 and status not in ('completed','cancelled')
		order by created_at desc
		limit 1
	`, supplierID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

type pgCodes struct{ s *Store }

func (p pgCodes) Create(ctx context.Context, code *magiccode.AccessCode) error {
	_, err := p.s.db.ExecContext(ctx, `
		insert into access_codes(id, supplier_id, code_hash, assistance_id, expires_at, session_expires_at, access_count, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, code.ID, code.SupplierID, code.CodeHash, nullStr(code.AssistanceID),
		code.ExpiresAt, code.SessionExpiresAt, code.AccessCount, code.CreatedAt)
	return err
}

func (p pgCodes) FindByHash(ctx context.Context, hash string) (*magiccode.AccessCode, error) {
	var code magiccode.AccessCode
	var assistanceID sql.NullString
	var lastUsed, revoked sql.NullTime
	err := p.s.db.QueryRowContext(ctx, `
		select id, supplier_id, code_hash, assistance_id, expires_at, session_expires_at,
		       access_count, last_used_at, revoked_at, created_at
		from access_codes where code_hash=$1
	`, hash).Scan(&code.ID, &code.SupplierID, &code.CodeHash, &assistanceID,
		&code.ExpiresAt, &code.SessionExpiresAt, &code.AccessCount, &lastUsed, &revoked, &code.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, magiccode.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	code.AssistanceID = strVal(assistanceID)
	code.LastUsedAt = timeVal(lastUsed)
	code.RevokedAt = timeVal(revoked)
	return &code, nil
}

func (p pgCodes) Touch(ctx context.Context, id string, accessCount int, lastUsedAt, sessionExpiresAt time.Time) error {
	// greatest() keeps the session window monotonic under concurrent touches.
	res, err := p.s.db.ExecContext(ctx, `
		update access_codes
		set access_count=$2, last_used_at=$3, session_expires_at=greatest(session_expires_at, $4)
		where id=$1
	`, id, accessCount, lastUsedAt, sessionExpiresAt)
	if err != nil {
		return err
	}
	return requireRow(res, magiccode.ErrNotFound)
}

func (p pgCodes) Bind(ctx context.Context, id, assistanceID string) error {
	_, err := p.s.db.ExecContext(ctx, `
		update access_codes set assistance_id=$2
		where id=$1 and assistance_id is null
	`, id, assistanceID)
	return err
}

func (p pgCodes) RevokeForSupplier(ctx context.Context, supplierID string, at time.Time) (int, error) {
	res, err := p.s.db.ExecContext(ctx, `
		update access_codes set revoked_at=$2
		where supplier_id=$1 and revoked_at is null
	`, supplierID, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type pgAttempts struct{ s *Store }

func (p pgAttempts) Append(ctx context.Context, rec *magiccode.AttemptRecord) error {
	_, err := p.s.db.ExecContext(ctx, `
		insert into access_attempts(id, code_hash, ip, user_agent, success, occurred_at)
		values ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.CodeHash, rec.IP, rec.UserAgent, rec.Success, rec.OccurredAt)
	return err
}

func (p pgAttempts) CountFailures(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := p.s.db.QueryRowContext(ctx, `
		select count(*) from access_attempts
		where ip=$1 and success=false and occurred_at >= $2
	`, ip, since).Scan(&n)
	return n, err
}

type pgEvents struct{ s *Store }

func (p pgEvents) Append(ctx context.Context, ev *magiccode.SecurityEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return err
	}
	_, err = p.s.db.ExecContext(ctx, `
		insert into security_events(id, type, severity, ip, user_agent, details, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, ev.ID, string(ev.Type), string(ev.Severity), ev.IP, ev.UserAgent, details, ev.OccurredAt)
	return err
}

func (p pgEvents) ExistsSince(ctx context.Context, typ magiccode.EventType, ip string, since time.Time) (bool, error) {
	var exists bool
	err := p.s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from security_events
			where type=$1 and ip=$2 and occurred_at >= $3
		)
	`, string(typ), ip, since).Scan(&exists)
	return exists, err
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
