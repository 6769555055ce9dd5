package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrsandeep/stream-go/internal/models"
)

const pluginColumns = `file_path, internal_name, url, is_online, version, repository_url, name,
	status, api_version, authors, description, tv_types, language, icon_url, file_size,
	uploaded_at, enabled`

func scanPlugin(row rowScanner) (*models.PluginData, error) {
	var p models.PluginData
	var authors, tvTypes string
	err := row.Scan(
		&p.FilePath,
		&p.InternalName,
		&p.URL,
		&p.IsOnline,
		&p.Version,
		&p.RepositoryURL,
		&p.Name,
		&p.Status,
		&p.APIVersion,
		&authors,
		&p.Description,
		&tvTypes,
		&p.Language,
		&p.IconURL,
		&p.FileSize,
		&p.UploadedAt,
		&p.Enabled,
	)
	if err != nil {
		return nil, err
	}
	p.Authors = decodeStrings(authors)
	p.TvTypes = decodeStrings(tvTypes)
	return &p, nil
}

func (s *Store) queryPlugins(where string, args ...any) ([]*models.PluginData, error) {
	rows, err := s.db.Query(`SELECT `+pluginColumns+` FROM plugins `+where+` ORDER BY name COLLATE NOCASE, file_path`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plugins []*models.PluginData
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, rows.Err()
}

// UpsertPlugin inserts the record or replaces the one stored at the same file path.
func (s *Store) UpsertPlugin(p models.PluginData) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO plugins (`+pluginColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			internal_name = excluded.internal_name,
			url = excluded.url,
			is_online = excluded.is_online,
			version = excluded.version,
			repository_url = excluded.repository_url,
			name = excluded.name,
			status = excluded.status,
			api_version = excluded.api_version,
			authors = excluded.authors,
			description = excluded.description,
			tv_types = excluded.tv_types,
			language = excluded.language,
			icon_url = excluded.icon_url,
			file_size = excluded.file_size,
			uploaded_at = excluded.uploaded_at,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`,
		p.FilePath, p.InternalName, p.URL, p.IsOnline, p.Version, p.RepositoryURL, p.Name,
		p.Status, p.APIVersion, encodeStrings(p.Authors), p.Description, encodeStrings(p.TvTypes),
		p.Language, p.IconURL, p.FileSize, p.UploadedAt, p.Enabled, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert plugin %s: %w", p.FilePath, err)
	}
	return nil
}

// GetPlugin returns the record stored at filePath.
func (s *Store) GetPlugin(filePath string) (*models.PluginData, error) {
	p, err := scanPlugin(s.db.QueryRow(`SELECT `+pluginColumns+` FROM plugins WHERE file_path = ?`, filePath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPlugins returns every installed plugin.
func (s *Store) ListPlugins() ([]*models.PluginData, error) {
	return s.queryPlugins("")
}

// FindPlugin returns the plugin installed from repositoryURL with the given
// internal name, compared case-insensitively.
func (s *Store) FindPlugin(repositoryURL, internalName string) (*models.PluginData, error) {
	plugins, err := s.queryPlugins(`WHERE repository_url = ? AND internal_name = ? COLLATE NOCASE`, repositoryURL, internalName)
	if err != nil {
		return nil, err
	}
	if len(plugins) == 0 {
		return nil, ErrNotFound
	}
	return plugins[0], nil
}

// FindPluginByName returns the first plugin with the given internal name from any source.
func (s *Store) FindPluginByName(internalName string) (*models.PluginData, error) {
	plugins, err := s.queryPlugins(`WHERE internal_name = ? COLLATE NOCASE`, internalName)
	if err != nil {
		return nil, err
	}
	if len(plugins) == 0 {
		return nil, ErrNotFound
	}
	return plugins[0], nil
}

// ListRepositoryPlugins returns the plugins that came from repositoryURL or
// live under folder on disk.
func (s *Store) ListRepositoryPlugins(repositoryURL, folder string) ([]*models.PluginData, error) {
	all, err := s.queryPlugins(`WHERE repository_url = ? OR file_path LIKE ? ESCAPE '\'`, repositoryURL, likePrefix(folder))
	if err != nil {
		return nil, err
	}
	return all, nil
}

// SetPluginEnabled flips the enabled flag of the record at filePath.
func (s *Store) SetPluginEnabled(filePath string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE plugins SET enabled = ?, updated_at = ? WHERE file_path = ?`, enabled, time.Now(), filePath)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePlugin removes the record stored at filePath.
func (s *Store) DeletePlugin(filePath string) error {
	_, err := s.db.Exec(`DELETE FROM plugins WHERE file_path = ?`, filePath)
	return err
}

// likePrefix builds a LIKE pattern matching paths strictly inside folder.
func likePrefix(folder string) string {
	if folder == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	sep := "/"
	if strings.Contains(folder, `\`) {
		sep = `\`
	}
	return r.Replace(strings.TrimSuffix(folder, sep)+sep) + "%"
}
