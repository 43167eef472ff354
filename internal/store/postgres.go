package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const postgresChannel = "attendance_changes"

const (
	loadDocumentQuery = `SELECT value FROM documents WHERE key = $1`
	saveDocumentQuery = `
		INSERT INTO documents (key, value, origin, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, origin = EXCLUDED.origin, updated_at = EXCLUDED.updated_at`
	notifyQuery = `SELECT pg_notify($1, $2)`
)

// PostgresBackend keeps documents in a single table and announces writes
// with LISTEN/NOTIFY. Notifications carry only the key; listeners reload
// the value since NOTIFY payloads are size limited.
type PostgresBackend struct {
	conn *sql.DB
	dsn  string
	log  logrus.FieldLogger
}

type pgNotice struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

func NewPostgresBackend(dsn string, log logrus.FieldLogger) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresBackend{conn: db, dsn: dsn, log: log}, nil
}

func (p *PostgresBackend) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	if err := p.conn.QueryRowContext(ctx, loadDocumentQuery, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (p *PostgresBackend) Save(ctx context.Context, key, origin string, value []byte) error {
	notice, err := json.Marshal(pgNotice{Key: key, Origin: origin})
	if err != nil {
		return err
	}

	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, saveDocumentQuery, key, value, origin, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, notifyQuery, postgresChannel, string(notice)); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresBackend) Watch(ctx context.Context, origin string) (<-chan Change, error) {
	listener := pq.NewListener(p.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.log.WithError(err).WithField("event", ev).Warn("postgres listener")
		}
	})
	if err := listener.Listen(postgresChannel); err != nil {
		listener.Close()
		return nil, err
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer listener.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect
				if n == nil {
					continue
				}
				c, ok := p.change(ctx, n.Extra, origin)
				if !ok {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (p *PostgresBackend) change(ctx context.Context, payload, origin string) (Change, bool) {
	notice, err := decodePgNotice(payload)
	if err != nil {
		p.log.WithError(err).Warn("malformed change notification")
		return Change{}, false
	}
	if notice.Origin == origin {
		return Change{}, false
	}

	value, err := p.Load(ctx, notice.Key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		p.log.WithError(err).WithField("key", notice.Key).Warn("reload changed document")
	}
	return Change{Key: notice.Key, Origin: notice.Origin, Value: value}, true
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

func (p *PostgresBackend) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func decodePgNotice(payload string) (pgNotice, error) {
	var n pgNotice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, err
	}
	if n.Key == "" {
		return n, errors.New("change notification has no key")
	}
	return n, nil
}
