package identity

import (
	"context"

	"github.com/npezzotti/go-attendance/internal/types"
)

// DefaultPrivileged lists the ids allowed to arm lock timers and export
// attendance when no list is configured.
var DefaultPrivileged = []string{
	"04-2425-000626",
	"04-2425-000689",
	"04-2425-000617",
	"04-2425-045794",
	"04-2425-030285",
	"11-1111-111111",
	"22-2222-222222",
	"33-3333-333333",
	"44-4444-444444",
	"55-5555-555555",
	"66-6666-666666",
	"77-7777-777777",
	"88-8888-888888",
	"99-9999-999999",
}

// AllowList is a static privilege predicate.
type AllowList struct {
	ids map[string]struct{}
}

func NewAllowList(ids []string) AllowList {
	a := AllowList{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		a.ids[NormalizeID(id)] = struct{}{}
	}
	return a
}

func DefaultAllowList() AllowList {
	return NewAllowList(DefaultPrivileged)
}

func (a AllowList) IsPrivileged(id string) bool {
	_, ok := a.ids[NormalizeID(id)]
	return ok
}

var demoRoster = []types.Person{
	{Name: "James Darrell D. Saquilon", ID: "04-2425-000626", Section: "Redacted", Course: "BSIT"},
	{Name: "Ken Lester C. Sitjar", ID: "04-2425-000689", Section: "Redacted", Course: "BSIT"},
	{Name: "Shanice Gabanes", ID: "04-2425-000617", Section: "Redacted", Course: "BSIT"},
	{Name: "Hanna Jean C. Calawigan", ID: "04-2425-045794", Section: "Redacted", Course: "BSIT"},
	{Name: "Zesty Kein Mondia", ID: "11-1111-111111", Section: "Redacted", Course: "BSIT"},
	{Name: "Fritz Neyra Tanangonan", ID: "22-2222-222222", Section: "Redacted", Course: "BSIT"},
	{Name: "Leah Antonette Piodena", ID: "66-6666-666666", Section: "Redacted", Course: "BSIT"},
	{Name: "Chrischel Joy Lorenzo", ID: "44-4444-444444", Section: "Redacted", Course: "BSIT"},
	{Name: "Art Jayson L. Osuyos", ID: "55-5555-555555", Section: "Redacted", Course: "BSIT"},
	{Name: "Rey Ann Burgos", ID: "77-7777-777777", Section: "Redacted", Course: "BSIT"},
	{Name: "Frank Michael Gamino", ID: "33-3333-333333", Section: "Redacted", Course: "BSIT"},
	{Name: "Janine Marie Mae Peña", ID: "88-8888-888888", Section: "Redacted", Course: "BSIT"},
	{Name: "Melene Akil", ID: "99-9999-999999", Section: "Redacted", Course: "BSIT"},
}

// SeedDemo fills an empty directory with the demo roster. It reports
// whether anything was written.
func SeedDemo(ctx context.Context, d *Directory) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := d.docs.Directory(ctx)
	if len(dir) > 0 {
		return false
	}
	for _, p := range demoRoster {
		dir[p.ID] = p
	}
	d.docs.SaveDirectory(ctx, dir)
	return true
}
