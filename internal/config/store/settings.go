package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Setting keys remembered between runs.
const (
	SettingArduinoCLIPath = "arduino_cli_path"
	SettingLastFQBN       = "last_fqbn"
	SettingLastPort       = "last_port"
)

const upsertSetting = `
	INSERT INTO settings (instance_name, key, value, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(instance_name, key) DO UPDATE SET
		value = excluded.value,
		updated_at = CURRENT_TIMESTAMP`

// LoadSettings returns the instance settings, limited to keys when given.
// Keys that were never saved are absent from the map.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	var b strings.Builder
	b.WriteString(`SELECT key, value FROM settings WHERE instance_name = ?`)
	args := make([]any, 0, len(keys)+1)
	args = append(args, s.instanceName)
	if len(keys) > 0 {
		b.WriteString(` AND key IN (?`)
		b.WriteString(strings.Repeat(`, ?`, len(keys)-1))
		b.WriteString(`)`)
		for _, k := range keys {
			args = append(args, k)
		}
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	pairs, err := collect(rows, "config: settings", func(r rowScanner) ([2]string, error) {
		k, v, err := scanStringPair(r)
		return [2]string{k, v}, err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p[0]] = p[1]
	}
	return out, nil
}

// LoadSetting returns one setting or a NotFoundError.
func (s *Store) LoadSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE instance_name = ? AND key = ?`,
		s.instanceName, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NotFoundError{Entity: "setting", Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("config: load setting %q: %w", key, err)
	}
	return value, nil
}

// SaveSettings upserts values in one transaction, in key order.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if err := s.writable("save settings"); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, upsertSetting, s.instanceName, k, values[k]); err != nil {
				return fmt.Errorf("config: save setting %q: %w", k, err)
			}
		}
		return nil
	})
}

// DeleteSettings removes keys. Missing keys are ignored.
func (s *Store) DeleteSettings(ctx context.Context, keys ...string) error {
	if err := s.writable("delete settings"); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM settings WHERE instance_name = ? AND key = ?`, s.instanceName, k,
			); err != nil {
				return fmt.Errorf("config: delete setting %q: %w", k, err)
			}
		}
		return nil
	})
}
