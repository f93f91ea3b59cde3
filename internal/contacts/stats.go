package contacts

import (
	"fmt"
	"sort"
	"strings"
)

// Stats aggregates the outcome of a normalization run.
type Stats struct {
	Total       int            `json:"total_numbers"`
	Valid       int            `json:"valid_numbers"`
	Invalid     int            `json:"invalid_numbers"`
	SuccessRate float64        `json:"success_rate"`
	Countries   map[string]int `json:"countries"`
}

// BuildStats counts valid and invalid records and groups valid ones by country.
func BuildStats(records []PhoneRecord) Stats {
	stats := Stats{Total: len(records), Countries: map[string]int{}}
	for _, rec := range records {
		if !rec.Valid {
			stats.Invalid++
			continue
		}
		stats.Valid++
		if rec.CountryCode != "" {
			stats.Countries[rec.CountryCode]++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Valid) / float64(stats.Total) * 100
	}
	return stats
}

// Summary renders the stats block shown to the user after an upload.
func (s Stats) Summary() string {
	countries := "Nenhum detectado"
	if len(s.Countries) > 0 {
		codes := make([]string, 0, len(s.Countries))
		for code := range s.Countries {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		countries = strings.Join(codes, ", ")
	}
	return fmt.Sprintf("*Estatísticas:*\n• Total: %d números\n• Válidos: %d\n• Inválidos: %d\n• Países: %s",
		s.Total, s.Valid, s.Invalid, countries)
}

// ValidRecords returns the valid records in their original order.
func ValidRecords(records []PhoneRecord) []PhoneRecord {
	out := make([]PhoneRecord, 0, len(records))
	for _, rec := range records {
		if rec.Valid {
			out = append(out, rec)
		}
	}
	return out
}
