package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-attendance/internal/types"
)

const Redacted = "REDACTED"

// Privileges marks the identities whose details are hidden in a report.
type Privileges interface {
	IsPrivileged(id string) bool
}

type Row struct {
	No            int    `json:"no"`
	ID            string `json:"studentId"`
	Name          string `json:"fullName"`
	SectionCourse string `json:"sectionCourse"`
}

// Report is an attendance snapshot of one room.
type Report struct {
	RoomID      string    `json:"room_id"`
	Title       string    `json:"title"`
	Location    string    `json:"location"`
	GeneratedAt time.Time `json:"generated_at"`
	Rows        []Row     `json:"rows"`
}

// Build orders people by surname, then by the rest of their name, and
// numbers them from 1. Rows of privileged identities keep only the name.
func Build(room types.Room, people []types.Person, allow Privileges, now time.Time) Report {
	sorted := make([]types.Person, len(people))
	copy(sorted, people)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, ri := nameKey(sorted[i].Name)
		sj, rj := nameKey(sorted[j].Name)
		if si != sj {
			return si < sj
		}
		return ri < rj
	})

	rows := make([]Row, 0, len(sorted))
	for i, p := range sorted {
		row := Row{No: i + 1, ID: p.ID, Name: p.Name, SectionCourse: orDash(p.Section) + " / " + orDash(p.Course)}
		if row.Name == "" {
			row.Name = "-"
		}
		if allow != nil && allow.IsPrivileged(p.ID) {
			row.ID = Redacted
			row.SectionCourse = Redacted
			if p.Name == "" {
				row.Name = Redacted
			}
		}
		rows = append(rows, row)
	}

	return Report{
		RoomID:      room.ID,
		Title:       room.Title,
		Location:    room.Location,
		GeneratedAt: now,
		Rows:        rows,
	}
}

// Filename names the exported file, e.g. cl-001_attendance_2025-03-01-09-00-00.csv.
func (r Report) Filename(ext string) string {
	return r.RoomID + "_attendance_" + r.GeneratedAt.UTC().Format("2006-01-02-15-04-05") + "." + ext
}

// WriteCSV writes the rows with a header line.
func (r Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"No.", "Student ID", "Full name", "Section & Course"}); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write([]string{strconv.Itoa(row.No), row.ID, row.Name, row.SectionCourse}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func nameKey(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	surname := strings.ToLower(parts[len(parts)-1])
	rest := strings.ToLower(strings.Join(parts[:len(parts)-1], " "))
	return surname, rest
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
