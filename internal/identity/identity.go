package identity

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/npezzotti/go-attendance/internal/types"
)

var (
	ErrNotFound  = errors.New("identity not found")
	ErrInvalidID = errors.New("invalid id format")
	ErrDuplicate = errors.New("id already registered")
)

var idPattern = regexp.MustCompile(`^\d{2}-\d{4}-\d{6}$`)

// NormalizeID strips every whitespace character from id.
func NormalizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, id)
}

func ValidID(id string) bool {
	return idPattern.MatchString(NormalizeID(id))
}

// Lookup resolves identification strings to person records.
type Lookup interface {
	Resolve(ctx context.Context, id string) (types.Person, error)
	Exists(ctx context.Context, id string) bool
}

// Directory is the Lookup backed by the shared directory document.
type Directory struct {
	docs *store.Documents
	mu   sync.Mutex
}

func NewDirectory(docs *store.Documents) *Directory {
	return &Directory{docs: docs}
}

func (d *Directory) Resolve(ctx context.Context, id string) (types.Person, error) {
	p, ok := d.docs.Directory(ctx)[NormalizeID(id)]
	if !ok {
		return types.Person{}, ErrNotFound
	}
	return p, nil
}

func (d *Directory) Exists(ctx context.Context, id string) bool {
	_, ok := d.docs.Directory(ctx)[NormalizeID(id)]
	return ok
}

// All returns every record ordered by id.
func (d *Directory) All(ctx context.Context) []types.Person {
	dir := d.docs.Directory(ctx)
	out := make([]types.Person, 0, len(dir))
	for _, p := range dir {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Upsert stores p as is, replacing any record with the same id.
func (d *Directory) Upsert(ctx context.Context, p types.Person) error {
	p.ID = NormalizeID(p.ID)
	if p.ID == "" {
		return ErrInvalidID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.docs.Directory(ctx)
	dir[p.ID] = p
	d.docs.SaveDirectory(ctx, dir)
	return nil
}

// Register adds a new record and forwards it to the remote authority.
func (d *Directory) Register(ctx context.Context, p types.Person) (types.Person, error) {
	p = clean(p)
	if !ValidID(p.ID) {
		return types.Person{}, ErrInvalidID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.docs.Directory(ctx)
	if _, ok := dir[p.ID]; ok {
		return types.Person{}, ErrDuplicate
	}
	dir[p.ID] = p
	d.docs.SaveDirectory(ctx, dir)
	d.docs.PushPerson(ctx, p)

	return p, nil
}

// Update replaces the record stored under id with p, which may carry a new
// id. The new id must not belong to another record.
func (d *Directory) Update(ctx context.Context, id string, p types.Person) (types.Person, error) {
	id = NormalizeID(id)
	p = clean(p)
	if !ValidID(p.ID) {
		return types.Person{}, ErrInvalidID
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.docs.Directory(ctx)
	if _, ok := dir[id]; !ok {
		return types.Person{}, ErrNotFound
	}
	if p.ID != id {
		if _, taken := dir[p.ID]; taken {
			return types.Person{}, ErrDuplicate
		}
	}

	delete(dir, id)
	dir[p.ID] = p
	d.docs.SaveDirectory(ctx, dir)
	d.docs.PushPerson(ctx, p)

	return p, nil
}

func clean(p types.Person) types.Person {
	return types.Person{
		ID:      NormalizeID(p.ID),
		Name:    strings.TrimSpace(p.Name),
		Section: strings.TrimSpace(p.Section),
		Course:  strings.TrimSpace(p.Course),
		Contact: strings.TrimSpace(p.Contact),
	}
}
