package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

// Section is one table of a report.
type Section struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Report is the data behind one export.
type Report struct {
	Type        models.ReportType
	GeneratedAt time.Time
	Sections    []Section
}

// DataSource fetches the data for a report type.
type DataSource interface {
	Fetch(ctx context.Context, reportType models.ReportType) (*Report, error)
}

// Section names, in the order an "all" report lists them.
const (
	SectionSales     = "sales"
	SectionProducts  = "products"
	SectionCustomers = "customers"
)

// sectionsFor returns the sections a report type contains.
func sectionsFor(rt models.ReportType) ([]string, error) {
	switch rt {
	case models.ReportSales:
		return []string{SectionSales}, nil
	case models.ReportProducts:
		return []string{SectionProducts}, nil
	case models.ReportCustomers:
		return []string{SectionCustomers}, nil
	case models.ReportAll:
		return []string{SectionSales, SectionProducts, SectionCustomers}, nil
	}
	return nil, fmt.Errorf("unknown report type %q", rt)
}

// StaticSource serves fixed sections. Used for dry runs and tests.
type StaticSource struct {
	sections map[string]Section
	now      func() time.Time
}

// NewStaticSource returns a source serving sections keyed by section name.
func NewStaticSource(sections ...Section) *StaticSource {
	s := &StaticSource{sections: make(map[string]Section), now: time.Now}
	for _, sec := range sections {
		s.sections[sec.Name] = sec
	}
	return s
}

// Fetch assembles the sections of reportType. A section with no data is
// reported with its name only.
func (s *StaticSource) Fetch(ctx context.Context, reportType models.ReportType) (*Report, error) {
	names, err := sectionsFor(reportType)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep := &Report{Type: reportType, GeneratedAt: s.now()}
	for _, name := range names {
		sec, ok := s.sections[name]
		if !ok {
			sec = Section{Name: name}
		}
		rep.Sections = append(rep.Sections, sec)
	}
	return rep, nil
}

// SampleSource returns a StaticSource with a few rows per section.
func SampleSource() *StaticSource {
	return NewStaticSource(
		Section{
			Name:    SectionSales,
			Columns: []string{"Order ID", "Customer", "Total", "Status", "Date"},
			Rows: [][]any{
				{"ord-1001", "amel@example.com", 42.5, "delivered", "2026-06-09"},
				{"ord-1002", "youssef@example.com", 18.0, "pending", "2026-06-10"},
			},
		},
		Section{
			Name:    SectionProducts,
			Columns: []string{"Product ID", "Name", "Price", "Stock"},
			Rows: [][]any{
				{"p-1", "Harissa 200g", 4.9, 120},
				{"p-2", "Couscous fin 1kg", 3.2, 64},
			},
		},
		Section{
			Name:    SectionCustomers,
			Columns: []string{"Customer ID", "Name", "Email", "Joined"},
			Rows: [][]any{
				{"u-1", "Amel", "amel@example.com", "2025-11-02"},
			},
		},
	)
}
