package audit

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRecorder appends claim attempts to the claim_audit table.
type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(dsn string) (*PostgresRecorder, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRecorder{db: db}, nil
}

func (p *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO claim_audit(ride_id, action, actor, outcome, detail, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		e.RideID, e.Action, e.Actor, e.Outcome, e.Detail, e.At)
	return err
}

func (p *PostgresRecorder) Close() error { return p.db.Close() }
