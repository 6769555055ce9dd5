package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// GetPluginSettings returns every value stored for one preferences file of a plugin.
func (s *Store) GetPluginSettings(pluginKey, prefsName string) (map[string]any, error) {
	rows, err := s.db.Query(`SELECT key, value FROM plugin_settings WHERE plugin_key = ? AND prefs_name = ?`, pluginKey, prefsName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("failed to decode setting %s: %w", key, err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// SetPluginSetting stores value as JSON under (pluginKey, prefsName, key).
func (s *Store) SetPluginSetting(pluginKey, prefsName, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO plugin_settings (plugin_key, prefs_name, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plugin_key, prefs_name, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, pluginKey, prefsName, key, string(raw), time.Now())
	return err
}

// DeletePluginSetting removes a single key.
func (s *Store) DeletePluginSetting(pluginKey, prefsName, key string) error {
	_, err := s.db.Exec(`DELETE FROM plugin_settings WHERE plugin_key = ? AND prefs_name = ? AND key = ?`, pluginKey, prefsName, key)
	return err
}
