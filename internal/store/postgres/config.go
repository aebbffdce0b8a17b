package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalebecaldas/sistema-senhas-web2/internal/models"
	"github.com/kalebecaldas/sistema-senhas-web2/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *Store) GetPriorityConfig(ctx context.Context) (models.PriorityConfig, error) {
	return getPriorityConfigTx(ctx, s.pool)
}

// getPriorityConfigTx seeds the singleton row with defaults on first read.
func getPriorityConfigTx(ctx context.Context, q querier) (models.PriorityConfig, error) {
	defaults := models.DefaultPriorityConfig()
	display := models.DefaultDisplaySettings()
	_, err := q.Exec(ctx, `
		INSERT INTO system_config (id, policy, interleave_count, weight_normal, weight_priority, tolerance_minutes, voice_name, welcome_phrase)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, defaults.Policy, defaults.InterleaveCount, defaults.WeightNormal, defaults.WeightPriority, defaults.ToleranceMinutes, display.VoiceName, display.WelcomePhrase)
	if err != nil {
		return models.PriorityConfig{}, err
	}

	var cfg models.PriorityConfig
	row := q.QueryRow(ctx, `
		SELECT policy, interleave_count, weight_normal, weight_priority, tolerance_minutes
		FROM system_config WHERE id = 1
	`)
	if err := row.Scan(&cfg.Policy, &cfg.InterleaveCount, &cfg.WeightNormal, &cfg.WeightPriority, &cfg.ToleranceMinutes); err != nil {
		return models.PriorityConfig{}, err
	}
	return cfg.Normalized(), nil
}

var priorityConfigColumns = map[string]struct{}{
	"policy":            {},
	"interleave_count":  {},
	"weight_normal":     {},
	"weight_priority":   {},
	"tolerance_minutes": {},
}

// UpdatePriorityConfig applies a partial update. Each field is validated on
// its own: invalid or unknown fields come back as FieldErrors while the rest
// still apply.
func (s *Store) UpdatePriorityConfig(ctx context.Context, updates map[string]any) (models.PriorityConfig, []store.FieldError, error) {
	var fieldErrors []store.FieldError
	setClauses := make([]string, 0, len(updates))
	args := make([]any, 0, len(updates))

	for field, value := range updates {
		if _, known := priorityConfigColumns[field]; !known {
			fieldErrors = append(fieldErrors, store.FieldError{Field: field, Message: "unknown field"})
			continue
		}
		validated, fieldErr := validatePriorityField(field, value)
		if fieldErr != nil {
			fieldErrors = append(fieldErrors, *fieldErr)
			continue
		}
		args = append(args, validated)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, len(args)))
	}

	if len(setClauses) > 0 {
		// Seed the row first so a partial update on a fresh database works.
		if _, err := getPriorityConfigTx(ctx, s.pool); err != nil {
			return models.PriorityConfig{}, nil, err
		}
		query := fmt.Sprintf("UPDATE system_config SET %s WHERE id = 1", strings.Join(setClauses, ", "))
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return models.PriorityConfig{}, nil, err
		}
	}

	cfg, err := getPriorityConfigTx(ctx, s.pool)
	if err != nil {
		return models.PriorityConfig{}, nil, err
	}
	return cfg, fieldErrors, nil
}

func validatePriorityField(field string, value any) (any, *store.FieldError) {
	switch field {
	case "policy":
		policy, ok := value.(string)
		if !ok {
			return nil, &store.FieldError{Field: field, Message: "must be a string"}
		}
		switch policy {
		case models.PolicyInterleave, models.PolicyWeighted, models.PolicyAdaptive:
			return policy, nil
		}
		return nil, &store.FieldError{Field: field, Message: "unknown policy"}
	case "interleave_count":
		n, ok := intValue(value)
		if !ok || (n != 2 && n != 3) {
			return nil, &store.FieldError{Field: field, Message: "must be 2 or 3"}
		}
		return n, nil
	case "weight_normal", "weight_priority":
		n, ok := intValue(value)
		if !ok || n < 1 {
			return nil, &store.FieldError{Field: field, Message: "must be a positive integer"}
		}
		return n, nil
	case "tolerance_minutes":
		n, ok := intValue(value)
		if !ok || n < 1 || n > 60 {
			return nil, &store.FieldError{Field: field, Message: "must be an integer between 1 and 60"}
		}
		return n, nil
	}
	return nil, &store.FieldError{Field: field, Message: "unknown field"}
}

// intValue accepts the numeric shapes a decoded JSON body produces.
func intValue(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}

func (s *Store) GetDisplaySettings(ctx context.Context) (models.DisplaySettings, error) {
	if _, err := getPriorityConfigTx(ctx, s.pool); err != nil {
		return models.DisplaySettings{}, err
	}
	var settings models.DisplaySettings
	row := s.pool.QueryRow(ctx, `
		SELECT voice_name, welcome_phrase FROM system_config WHERE id = 1
	`)
	if err := row.Scan(&settings.VoiceName, &settings.WelcomePhrase); err != nil {
		return models.DisplaySettings{}, err
	}
	return settings, nil
}

func (s *Store) UpdateDisplaySettings(ctx context.Context, settings models.DisplaySettings) (models.DisplaySettings, error) {
	if settings.VoiceName == "" {
		settings.VoiceName = models.DefaultDisplaySettings().VoiceName
	}
	if _, err := getPriorityConfigTx(ctx, s.pool); err != nil {
		return models.DisplaySettings{}, err
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE system_config SET voice_name = $1, welcome_phrase = $2 WHERE id = 1
	`, settings.VoiceName, settings.WelcomePhrase)
	if err != nil {
		return models.DisplaySettings{}, err
	}
	return settings, nil
}
