package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type SQLConfig struct {
	Driver       string `envconfig:"DRIVER" split_words:"true" default:"sqlite"`
	DSN          string `envconfig:"DSN" split_words:"true" default:"file:orchestrator.db?cache=shared&_fk=1"`
	MaxOpenConns int    `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"10"`
	AutoMigrate  bool   `envconfig:"AUTO_MIGRATE" split_words:"true" default:"true"`
}

// SQLStore persists request records through bun on Postgres or SQLite.
type SQLStore struct {
	db *bun.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens the database described by cfg and, if requested, creates the schema.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: database dsn is required", contractx.ErrValidation)
	}

	var db *bun.DB
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres, "postgresql", "pg":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case DriverSQLite, "sqlite3":
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", contractx.ErrValidation, cfg.Driver)
	}

	store := NewSQLStore(db)
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func NewSQLStore(db *bun.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	models := []any{
		(*requestRecord)(nil),
		(*agentResultRecord)(nil),
		(*deliveryAttemptRecord)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", model, err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		unique  bool
		columns []string
	}{
		{(*requestRecord)(nil), "processing_requests_created_idx", false, []string{"created_at"}},
		{(*deliveryAttemptRecord)(nil), "webhook_logs_request_seq_uidx", true, []string{"request_id", "seq"}},
	}
	for _, idx := range indexes {
		q := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists()
		if idx.unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) CreateRequest(ctx context.Context, req contractx.ProcessingRequest) error {
	if err := validateNewRequest(req); err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(toRequestRecord(req)).Exec(ctx); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendAgentResult(ctx context.Context, requestID string, res contractx.AgentResult) error {
	record := &agentResultRecord{
		RequestID:  requestID,
		Agent:      string(res.Agent),
		Outcome:    string(res.Outcome),
		DurationMS: res.DurationMS,
		CreatedAt:  res.Timestamp.UTC(),
	}
	if res.Payload != nil {
		payload, err := json.Marshal(res.Payload)
		if err != nil {
			return fmt.Errorf("marshal agent payload: %w", err)
		}
		record.Payload = string(payload)
	}
	if res.Error != nil {
		record.ErrorKind = string(res.Error.Kind)
		record.ErrorMessage = res.Error.Message
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := requireRequest(ctx, tx, requestID); err != nil {
			return err
		}
		n, err := tx.NewSelect().
			Model((*agentResultRecord)(nil)).
			Where("request_id = ?", requestID).
			Where("agent_name = ?", record.Agent).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count agent results: %w", err)
		}
		if n > 0 {
			return duplicateResult(requestID, res.Agent)
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return fmt.Errorf("insert agent result: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) UpdateRequestStatus(ctx context.Context, requestID string, update StatusUpdate) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := new(requestRecord)
		err := tx.NewSelect().
			Model(current).
			Where("id = ?", requestID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(requestID)
			}
			return fmt.Errorf("load request: %w", err)
		}
		if err := checkTransition(requestID, contractx.RequestStatus(current.Status), update.Status); err != nil {
			return err
		}

		q := tx.NewUpdate().
			Model((*requestRecord)(nil)).
			Set("status = ?", string(update.Status)).
			Set("error = ?", string(update.Error)).
			Where("id = ?", requestID)
		if !update.At.IsZero() {
			q = q.Set("updated_at = ?", update.At.UTC())
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("update request status: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) AppendDeliveryAttempt(ctx context.Context, requestID string, attempt contractx.WebhookDeliveryAttempt) error {
	id := attempt.ID
	if id == "" {
		id = uuid.NewString()
	}
	record := &deliveryAttemptRecord{
		ID:           id,
		RequestID:    requestID,
		DeliveryID:   attempt.DeliveryID,
		Trigger:      string(attempt.Trigger),
		Attempt:      attempt.Attempt,
		URL:          attempt.URL,
		Signature:    attempt.Signature,
		StatusCode:   attempt.StatusCode,
		ErrorKind:    string(attempt.ErrorKind),
		ErrorMessage: attempt.Error,
		ResponseBody: attempt.ResponseBody,
		Outcome:      string(attempt.Outcome),
		TimedOut:     attempt.TimedOut,
		CreatedAt:    attempt.Timestamp.UTC(),
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := requireRequest(ctx, tx, requestID); err != nil {
			return err
		}
		var maxSeq sql.NullInt64
		if err := tx.NewSelect().
			Model((*deliveryAttemptRecord)(nil)).
			ColumnExpr("MAX(seq)").
			Where("request_id = ?", requestID).
			Scan(ctx, &maxSeq); err != nil {
			return fmt.Errorf("load attempt sequence: %w", err)
		}
		record.Seq = maxSeq.Int64 + 1
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return fmt.Errorf("insert delivery attempt: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetRequest(ctx context.Context, requestID string) (*contractx.RequestRecord, error) {
	req := new(requestRecord)
	err := s.db.NewSelect().
		Model(req).
		Where("id = ?", requestID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(requestID)
		}
		return nil, fmt.Errorf("load request: %w", err)
	}

	var results []agentResultRecord
	if err := s.db.NewSelect().
		Model(&results).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("load agent results: %w", err)
	}

	var attempts []deliveryAttemptRecord
	if err := s.db.NewSelect().
		Model(&attempts).
		Where("request_id = ?", requestID).
		Order("seq ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("load delivery attempts: %w", err)
	}

	out := &contractx.RequestRecord{Request: req.toDomain()}
	for i := range results {
		res, err := results[i].toDomain()
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, res)
	}
	for i := range attempts {
		out.Attempts = append(out.Attempts, attempts[i].toDomain())
	}
	return out, nil
}

func (s *SQLStore) ListRequests(ctx context.Context, page contractx.Page) (contractx.RequestPage, error) {
	page = page.Normalize()
	out := contractx.RequestPage{
		Items:    []contractx.ProcessingRequest{},
		Page:     page.Page,
		PageSize: page.PageSize,
	}

	var records []requestRecord
	total, err := s.db.NewSelect().
		Model(&records).
		Order("created_at DESC").
		Limit(page.PageSize).
		Offset(page.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return out, fmt.Errorf("list requests: %w", err)
	}
	out.Total = total
	for i := range records {
		out.Items = append(out.Items, records[i].toDomain())
	}
	return out, nil
}

func requireRequest(ctx context.Context, tx bun.Tx, requestID string) error {
	exists, err := tx.NewSelect().
		Model((*requestRecord)(nil)).
		Where("id = ?", requestID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("check request: %w", err)
	}
	if !exists {
		return notFound(requestID)
	}
	return nil
}

func (r *agentResultRecord) toDomain() (contractx.AgentResult, error) {
	res := contractx.AgentResult{
		RequestID:  r.RequestID,
		Agent:      contractx.AgentName(r.Agent),
		Outcome:    contractx.AgentOutcome(r.Outcome),
		DurationMS: r.DurationMS,
		Timestamp:  r.CreatedAt.UTC(),
	}
	if r.Payload != "" {
		var payload contractx.AgentPayload
		if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
			return res, fmt.Errorf("unmarshal agent payload: %w", err)
		}
		res.Payload = &payload
	}
	if r.ErrorKind != "" {
		res.Error = &contractx.AgentError{
			Agent:   res.Agent,
			Kind:    contractx.ErrorKind(r.ErrorKind),
			Message: r.ErrorMessage,
		}
	}
	return res, nil
}
