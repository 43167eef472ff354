package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/sirupsen/logrus"
)

// Mirror receives a best-effort copy of every local save.
type Mirror interface {
	PushLedger(ctx context.Context, l types.Ledger) error
	PushLocks(ctx context.Context, t types.LockTable) error
	PushPerson(ctx context.Context, p types.Person) error
}

// Documents reads and writes the three shared documents. Reads never fail:
// a missing or corrupt document is returned empty. Save failures are
// logged, never returned.
type Documents struct {
	backend Backend
	origin  string
	mirror  Mirror
	log     logrus.FieldLogger
}

func NewDocuments(b Backend, log logrus.FieldLogger) *Documents {
	return &Documents{
		backend: b,
		log:     log,
	}
}

// WithOrigin returns a copy that tags its writes with origin.
func (d *Documents) WithOrigin(origin string) *Documents {
	c := *d
	c.origin = origin
	c.log = d.log.WithField("origin", origin)
	return &c
}

// WithMirror returns a copy that pushes each save to m after persisting it.
func (d *Documents) WithMirror(m Mirror) *Documents {
	c := *d
	c.mirror = m
	return &c
}

func (d *Documents) Origin() string {
	return d.origin
}

func (d *Documents) Ping(ctx context.Context) error {
	return d.backend.Ping(ctx)
}

// Watch subscribes to changes made by other origins.
func (d *Documents) Watch(ctx context.Context) (<-chan Change, error) {
	return d.backend.Watch(ctx, d.origin)
}

func (d *Documents) Ledger(ctx context.Context) types.Ledger {
	return load(ctx, d, KeyLedger, DecodeLedger)
}

func (d *Documents) Locks(ctx context.Context) types.LockTable {
	return load(ctx, d, KeyLocks, DecodeLocks)
}

func (d *Documents) Directory(ctx context.Context) types.Directory {
	return load(ctx, d, KeyDirectory, DecodeDirectory)
}

func (d *Documents) SaveLedger(ctx context.Context, l types.Ledger) {
	if !d.save(ctx, KeyLedger, l) || d.mirror == nil {
		return
	}
	if err := d.mirror.PushLedger(ctx, l); err != nil {
		d.log.WithError(err).Debug("remote ledger push failed, keeping local copy")
	}
}

func (d *Documents) SaveLocks(ctx context.Context, t types.LockTable) {
	if !d.save(ctx, KeyLocks, t) || d.mirror == nil {
		return
	}
	if err := d.mirror.PushLocks(ctx, t); err != nil {
		d.log.WithError(err).Debug("remote lock push failed, keeping local copy")
	}
}

func (d *Documents) SaveDirectory(ctx context.Context, dir types.Directory) {
	d.save(ctx, KeyDirectory, dir)
}

// PushPerson forwards a single registration to the mirror, if any.
func (d *Documents) PushPerson(ctx context.Context, p types.Person) {
	if d.mirror == nil {
		return
	}
	if err := d.mirror.PushPerson(ctx, p); err != nil {
		d.log.WithError(err).Debug("remote register failed, keeping local copy")
	}
}

func (d *Documents) save(ctx context.Context, key string, v any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		d.log.WithError(err).WithField("key", key).Error("encode document")
		return false
	}

	if err := d.backend.Save(ctx, key, d.origin, raw); err != nil {
		d.log.WithError(err).WithField("key", key).Error("save document")
		return false
	}
	return true
}

func load[M any](ctx context.Context, d *Documents, key string, decode func([]byte) (M, error)) M {
	raw, err := d.backend.Load(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		d.log.WithError(err).WithField("key", key).Warn("load document, treating as empty")
	}

	m, err := decode(raw)
	if err != nil {
		d.log.WithError(err).WithField("key", key).Warn("corrupt document, treating as empty")
	}
	return m
}

// DecodeLedger parses a raw ledger document. The returned ledger is never
// nil; on error it is empty.
func DecodeLedger(raw []byte) (types.Ledger, error) {
	l, err := decodeMap[types.Ledger](raw)
	if err != nil {
		return types.Ledger{}, err
	}
	return l, nil
}

func DecodeLocks(raw []byte) (types.LockTable, error) {
	t, err := decodeMap[types.LockTable](raw)
	if err != nil {
		return types.LockTable{}, err
	}
	return t, nil
}

func DecodeDirectory(raw []byte) (types.Directory, error) {
	dir, err := decodeMap[types.Directory](raw)
	if err != nil {
		return types.Directory{}, err
	}
	return dir, nil
}

func decodeMap[M ~map[K]V, K comparable, V any](raw []byte) (M, error) {
	m := M{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return M{}, err
	}
	if m == nil {
		// a literal null document
		m = M{}
	}
	return m, nil
}
