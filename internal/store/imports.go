package store

import "database/sql"

// GetBankFileHash returns the stored content hash for an imported bank
// file path. Returns empty string and nil error if never imported.
func (s *Store) GetBankFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM bank_imports WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetBankFileHash records the content hash of an imported bank file.
func (s *Store) SetBankFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO bank_imports (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	)
	return err
}
