package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/vrsandeep/stream-go/internal/models"
)

const repositoryColumns = `id, url, name, description, icon_url, shortcode, enabled`

func scanRepository(row rowScanner) (*models.RepositoryData, error) {
	var repo models.RepositoryData
	err := row.Scan(
		&repo.ID,
		&repo.URL,
		&repo.Name,
		&repo.Description,
		&repo.IconURL,
		&repo.Shortcode,
		&repo.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// GetAllRepositories returns all repositories in insertion order.
func (s *Store) GetAllRepositories() ([]*models.RepositoryData, error) {
	rows, err := s.db.Query(`SELECT ` + repositoryColumns + ` FROM repositories ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repositories []*models.RepositoryData
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repositories = append(repositories, repo)
	}
	return repositories, rows.Err()
}

// FindRepository returns the repository whose id or url equals idOrURL.
func (s *Store) FindRepository(idOrURL string) (*models.RepositoryData, error) {
	repo, err := scanRepository(s.db.QueryRow(
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = ? OR url = ? LIMIT 1`, idOrURL, idOrURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return repo, err
}

// UpsertRepository stores repo, replacing any record with the same id or url.
func (s *Store) UpsertRepository(repo models.RepositoryData) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	createdAt := now
	var existing time.Time
	err = tx.QueryRow(`SELECT created_at FROM repositories WHERE id = ? OR url = ? LIMIT 1`, repo.ID, repo.URL).Scan(&existing)
	if err == nil {
		createdAt = existing
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM repositories WHERE id = ? OR url = ?`, repo.ID, repo.URL); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO repositories (`+repositoryColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, repo.ID, repo.URL, repo.Name, repo.Description, repo.IconURL, repo.Shortcode, repo.Enabled, createdAt, now)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteRepository deletes the repository whose id or url equals idOrURL.
func (s *Store) DeleteRepository(idOrURL string) error {
	_, err := s.db.Exec(`DELETE FROM repositories WHERE id = ? OR url = ?`, idOrURL, idOrURL)
	return err
}
