package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-autoheal/internal/models"
	"github.com/miradorstack/mirador-autoheal/internal/utils"
)

// LoadMaintenance reads maintenance.flag. Presence of the file means maintenance
// is active, even when its contents cannot be parsed.
func LoadMaintenance(s *Store) (models.MaintenanceFlag, error) {
	data, err := s.ReadFile(MaintenanceFile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.MaintenanceFlag{}, nil
		}
		return models.MaintenanceFlag{}, err
	}
	return ParseMaintenance(string(data)), nil
}

// ParseMaintenance decodes the "<RFC3339> <reason>" marker format.
func ParseMaintenance(raw string) models.MaintenanceFlag {
	flag := models.MaintenanceFlag{Active: true}
	line := strings.TrimSpace(raw)
	if line == "" {
		return flag
	}
	stamp, reason, _ := strings.Cut(line, " ")
	if ts, err := utils.ParseRFC3339(stamp); err == nil {
		flag.SetAt = ts
		flag.Reason = strings.TrimSpace(reason)
	} else {
		flag.Reason = line
	}
	return flag
}

// SetMaintenance writes the marker.
func SetMaintenance(s *Store, reason string, at time.Time) error {
	return s.WriteAtomic(MaintenanceFile, []byte(FormatMaintenance(reason, at)))
}

// FormatMaintenance renders the marker line.
func FormatMaintenance(reason string, at time.Time) string {
	return fmt.Sprintf("%s %s\n", at.UTC().Format(time.RFC3339), reason)
}

// ClearMaintenance removes the marker.
func ClearMaintenance(s *Store) error {
	return s.Remove(MaintenanceFile)
}
