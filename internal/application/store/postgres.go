package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"intake/internal/application/models"
	"intake/internal/platform/postgres"
	"intake/pkg/platform/sentinel"
	txcontext "intake/pkg/platform/tx"
)

// Schema creates the tables used by PostgresStore. It is idempotent.
//
//go:embed schema.sql
var Schema string

// PostgresStore persists applications, their audit entries and the outbox.
// A store returned to a RunInTx callback is bound to that transaction.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx begins a transaction, hands fn a store bound to it and commits when
// fn returns nil. Calling RunInTx on a bound store joins the open transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const applicationColumns = `
	id, project_id, lifecycle_stage, status, entry_timestamp, physical_receipt_timestamp, operator_id,
	applicant_name, father_or_spouse_name, dob, gender, category, is_special_category,
	phone_primary, phone_alt, aadhaar, pan, bank_account, ifsc, income,
	address_line1, address_line2, city, state, pincode,
	family_members, documents, consolidated_scan_url,
	rejection_reason, validator_id, validation_timestamp, validation_remarks,
	lottery_status, duplicate_flags, linked_app_ids, merged_into_id, notes, revision`

// selectColumns reads linked_app_ids as JSON so scanning does not depend on
// the driver's array format.
var selectColumns = strings.Replace(applicationColumns, "linked_app_ids", "to_json(linked_app_ids)", 1)

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Application, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `SELECT `+selectColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	entries, err := s.auditEntries(ctx, id)
	if err != nil {
		return nil, err
	}
	app.AuditLog = entries
	return app, nil
}

func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check application exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Application, error) {
	return s.List(ctx, Filter{})
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*models.Application, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("project_id", filter.ProjectID)
	add("lifecycle_stage", string(filter.Stage))
	add("status", string(filter.Status))
	add("merged_into_id", filter.MergedIntoID)

	query := `SELECT ` + selectColumns + ` FROM applications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY insert_seq`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	byID := make(map[string]*models.Application)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, app)
		byID[app.ID] = app
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	if len(apps) == 0 {
		return apps, nil
	}
	if err := s.attachAuditEntries(ctx, byID); err != nil {
		return nil, err
	}
	return apps, nil
}

func (s *PostgresStore) Create(ctx context.Context, app *models.Application) error {
	if s.tx == nil {
		return s.RunInTx(ctx, func(tx Store) error { return tx.Create(ctx, app) })
	}
	if err := checkSequences(app.AuditLog, 0); err != nil {
		return err
	}
	args, err := applicationArgs(app, 1)
	if err != nil {
		return err
	}
	_, err = s.tx.ExecContext(ctx, `INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38)`, args...)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("application %s: %w", app.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert application: %w", err)
	}
	if err := s.appendAudit(ctx, app, 0); err != nil {
		return err
	}
	app.Revision = 1
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, app *models.Application) error {
	if s.tx == nil {
		return s.RunInTx(ctx, func(tx Store) error { return tx.Update(ctx, app) })
	}
	args, err := applicationArgs(app, app.Revision+1)
	if err != nil {
		return err
	}
	args = append(args, app.Revision)
	res, err := s.tx.ExecContext(ctx, `UPDATE applications SET
		project_id = $2, lifecycle_stage = $3, status = $4, entry_timestamp = $5, physical_receipt_timestamp = $6,
		operator_id = $7, applicant_name = $8, father_or_spouse_name = $9, dob = $10, gender = $11,
		category = $12, is_special_category = $13, phone_primary = $14, phone_alt = $15, aadhaar = $16,
		pan = $17, bank_account = $18, ifsc = $19, income = $20, address_line1 = $21, address_line2 = $22,
		city = $23, state = $24, pincode = $25, family_members = $26, documents = $27,
		consolidated_scan_url = $28, rejection_reason = $29, validator_id = $30, validation_timestamp = $31,
		validation_remarks = $32, lottery_status = $33, duplicate_flags = $34, linked_app_ids = $35,
		merged_into_id = $36, notes = $37, revision = $38
		WHERE id = $1 AND revision = $39`, args...)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if affected == 0 {
		exists, err := s.Exists(ctx, app.ID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("application %s: %w", app.ID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("application %s changed since revision %d: %w", app.ID, app.Revision, sentinel.ErrStaleWrite)
	}

	stored, err := s.auditEntries(ctx, app.ID)
	if err != nil {
		return err
	}
	if err := checkAuditExtension(stored, app.AuditLog); err != nil {
		return fmt.Errorf("application %s: %w", app.ID, err)
	}
	if err := s.appendAudit(ctx, app, len(stored)); err != nil {
		return err
	}
	app.Revision++
	return nil
}

// appendAudit inserts app.AuditLog[from:] and their outbox rows.
func (s *PostgresStore) appendAudit(ctx context.Context, app *models.Application, from int) error {
	for _, e := range app.AuditLog[from:] {
		_, err := s.tx.ExecContext(ctx, `
			INSERT INTO application_audit_entries (app_id, seq, timestamp, user_id, action, details)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			app.ID, e.Sequence, e.Timestamp, e.UserID, e.Action, e.Details)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return fmt.Errorf("audit entry %d of %s: %w", e.Sequence, app.ID, sentinel.ErrStaleWrite)
			}
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	entries, err := outboxEntries(ctx, app, from)
	if err != nil {
		return err
	}
	for _, o := range entries {
		_, err := s.tx.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.AggregateType, o.AggregateID, o.EventType, string(o.Payload), o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) auditEntries(ctx context.Context, appID string) ([]models.AuditEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT seq, timestamp, user_id, action, details
		FROM application_audit_entries WHERE app_id = $1 ORDER BY seq`, appID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.Sequence, &e.Timestamp, &e.UserID, &e.Action, &e.Details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) attachAuditEntries(ctx context.Context, byID map[string]*models.Application) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT app_id, seq, timestamp, user_id, action, details
		FROM application_audit_entries WHERE app_id = ANY($1) ORDER BY app_id, seq`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			appID string
			e     models.AuditEntry
		)
		if err := rows.Scan(&appID, &e.Sequence, &e.Timestamp, &e.UserID, &e.Action, &e.Details); err != nil {
			return fmt.Errorf("scan audit entry: %w", err)
		}
		if app, ok := byID[appID]; ok {
			app.AuditLog = append(app.AuditLog, e)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit entries: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit unpublished rows, hands them to publish and
// marks them published in the same transaction. Concurrent relays skip rows
// another relay holds.
func (s *PostgresStore) ClaimPending(ctx context.Context, limit int, publish func(ctx context.Context, entries []OutboxEntry) error) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	ctx = txcontext.WithTx(ctx, tx)

	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox WHERE published_at IS NULL
		ORDER BY outbox_seq LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	if err := publish(ctx, entries); err != nil {
		return 0, err
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID.String()
	}
	if _, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE outbox SET published_at = $1 WHERE id = ANY($2::uuid[])`, time.Now().UTC(), pq.Array(ids)); err != nil {
		return 0, fmt.Errorf("mark outbox published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox claim: %w", err)
	}
	return len(entries), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app           models.Application
		stage, status string
		lottery       string
		family, docs  []byte
		linked        []byte
		validatedAt   sql.NullTime
	)
	err := row.Scan(
		&app.ID, &app.ProjectID, &stage, &status, &app.EntryTimestamp, &app.PhysicalReceiptTimestamp, &app.OperatorID,
		&app.ApplicantName, &app.FatherOrSpouseName, &app.DOB, &app.Gender, &app.Category, &app.IsSpecialCategory,
		&app.PhonePrimary, &app.PhoneAlt, &app.Aadhaar, &app.PAN, &app.BankAccount, &app.IFSC, &app.Income,
		&app.AddressLine1, &app.AddressLine2, &app.City, &app.State, &app.Pincode,
		&family, &docs, &app.ConsolidatedScanURL,
		&app.RejectionReason, &app.ValidatorID, &validatedAt, &app.ValidationRemarks,
		&lottery, &app.DuplicateFlags, &linked, &app.MergedIntoID, &app.Notes, &app.Revision,
	)
	if err != nil {
		return nil, err
	}
	app.Stage = models.Stage(stage)
	app.Status = models.Status(status)
	app.LotteryStatus = models.LotteryStatus(lottery)
	if validatedAt.Valid {
		ts := validatedAt.Time
		app.ValidationTimestamp = &ts
	}
	if err := json.Unmarshal(family, &app.FamilyMembers); err != nil {
		return nil, fmt.Errorf("decode family members: %w", err)
	}
	if err := json.Unmarshal(docs, &app.Documents); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	if err := json.Unmarshal(linked, &app.LinkedAppIDs); err != nil {
		return nil, fmt.Errorf("decode linked ids: %w", err)
	}
	if len(app.LinkedAppIDs) == 0 {
		app.LinkedAppIDs = nil
	}
	return &app, nil
}

// applicationArgs returns the 38 column values in applicationColumns order.
func applicationArgs(app *models.Application, revision int64) ([]any, error) {
	family, err := json.Marshal(nonNil(app.FamilyMembers))
	if err != nil {
		return nil, fmt.Errorf("encode family members: %w", err)
	}
	docs, err := json.Marshal(nonNil(app.Documents))
	if err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}
	var validatedAt sql.NullTime
	if app.ValidationTimestamp != nil {
		validatedAt = sql.NullTime{Time: *app.ValidationTimestamp, Valid: true}
	}
	linked := app.LinkedAppIDs
	if linked == nil {
		linked = []string{}
	}
	return []any{
		app.ID, app.ProjectID, string(app.Stage), string(app.Status), app.EntryTimestamp, app.PhysicalReceiptTimestamp, app.OperatorID,
		app.ApplicantName, app.FatherOrSpouseName, app.DOB, app.Gender, app.Category, app.IsSpecialCategory,
		app.PhonePrimary, app.PhoneAlt, app.Aadhaar, app.PAN, app.BankAccount, app.IFSC, app.Income,
		app.AddressLine1, app.AddressLine2, app.City, app.State, app.Pincode,
		string(family), string(docs), app.ConsolidatedScanURL,
		app.RejectionReason, app.ValidatorID, validatedAt, app.ValidationRemarks,
		string(app.LotteryStatus), app.DuplicateFlags, pq.Array(linked), app.MergedIntoID, app.Notes, revision,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
