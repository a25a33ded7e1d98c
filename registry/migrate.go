package registry

import (
	"errors"
	"strings"

	"github.com/s0up4200/molnus/entity"
)

// Migration renames one entity id
type Migration struct {
	From string
	To   string
}

// Migrate applies each migration once. Missing sources and taken targets
// are skipped silently; other failures are logged. It never returns an
// error so startup is not blocked. The number of renamed entities is
// returned and the registry is saved when it changed.
func (r *Registry) Migrate(migrations []Migration) int {
	renamed := 0
	for _, m := range migrations {
		if m.From == m.To {
			continue
		}

		err := r.Rename(m.From, m.To)
		switch {
		case err == nil:
			renamed++
			r.logger.Info().
				Str("from", m.From).
				Str("to", m.To).
				Msg("Migrated entity id")
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrTaken):
			r.logger.Debug().
				Str("from", m.From).
				Str("to", m.To).
				Err(err).
				Msg("Skipping entity id migration")
		default:
			r.logger.Warn().
				Str("from", m.From).
				Str("to", m.To).
				Err(err).
				Msg("Entity id migration failed")
		}
	}

	if renamed > 0 {
		if err := r.Save(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to save entity registry after migration")
		}
	}
	return renamed
}

// LegacyMigrations returns the renames that move a camera's entities off
// ids generated from the old device name. Entities that were never
// registered, or already use another id, get no migration.
func (r *Registry) LegacyMigrations(cameraID string) []Migration {
	targets := []struct {
		uniqueID string
		legacy   string
		to       string
	}{
		{entity.SensorUniqueID(cameraID), entity.LegacySensorEntityID(), entity.SensorEntityID(cameraID)},
		{entity.CameraUniqueID(cameraID), entity.LegacyCameraEntityID(), entity.CameraEntityID(cameraID)},
	}

	var migrations []Migration
	for _, t := range targets {
		e, ok := r.Get(t.uniqueID)
		if !ok || !isLegacyID(e.EntityID, t.legacy) {
			continue
		}
		migrations = append(migrations, Migration{From: e.EntityID, To: t.to})
	}
	return migrations
}

// isLegacyID matches the legacy id and its collision suffixes (_2, _3, ...)
func isLegacyID(entityID, legacy string) bool {
	if entityID == legacy {
		return true
	}
	suffix, ok := strings.CutPrefix(entityID, legacy+"_")
	if !ok || suffix == "" {
		return false
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
