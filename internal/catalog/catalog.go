package catalog

import (
	"strings"

	"github.com/npezzotti/go-attendance/internal/types"
)

// DefaultRooms is the room list every deployment starts with.
var DefaultRooms = []types.Room{
	{ID: "ml-301", Title: "ML 301", Location: "CL Building, 3rd Floor"},
	{ID: "cl-001", Title: "CL 001", Location: "CL Building, 2nd Floor"},
	{ID: "cl-003", Title: "CL 003", Location: "CL Building, 3rd Floor"},
	{ID: "el-409", Title: "EL 409", Location: "EL Building, 3rd Floor"},
	{ID: "cl-005", Title: "CL 005", Location: "CL Building, 3rd Floor"},
	{ID: "ab-302", Title: "AB 302", Location: "AB Building, 3rd Floor"},
	{ID: "GYM", Title: "GYM/P-VILLA", Location: "Top Building, 3rd Floor/Punta Villa"},
	{ID: "ab-303", Title: "AB 303", Location: "AB Building, 3rd Floor"},
	{ID: "exe-404", Title: "exe-404", Location: "Test Room, Not Available Yet"},
}

// Catalog is a read-only list of room descriptors.
type Catalog struct {
	rooms []types.Room
	byID  map[string]types.Room
}

func New(rooms []types.Room) *Catalog {
	c := &Catalog{
		rooms: make([]types.Room, len(rooms)),
		byID:  make(map[string]types.Room, len(rooms)),
	}
	copy(c.rooms, rooms)
	for _, r := range rooms {
		c.byID[r.ID] = r
	}
	return c
}

func Default() *Catalog {
	return New(DefaultRooms)
}

func (c *Catalog) Get(id string) (types.Room, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// All returns the rooms in catalog order.
func (c *Catalog) All() []types.Room {
	out := make([]types.Room, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// Search returns rooms whose title or location contains q, ignoring case.
// An empty query matches every room.
func (c *Catalog) Search(q string) []types.Room {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return c.All()
	}

	var out []types.Room
	for _, r := range c.rooms {
		if strings.Contains(strings.ToLower(r.Title), q) || strings.Contains(strings.ToLower(r.Location), q) {
			out = append(out, r)
		}
	}
	return out
}
