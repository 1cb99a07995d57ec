package repository

import "fmt"

const (
	RepositoryTypeJSON   = "json"
	RepositoryTypeSQLite = "sqlite"
)

// NewRepositoryFromConfig creates a Repository based on the repository type.
// "json" (default) stores the document in one file watched with fsnotify;
// "sqlite" stores it in a database at the same path.
func NewRepositoryFromConfig(repoType, path string) (Repository, error) {
	switch repoType {
	case RepositoryTypeJSON, "":
		return NewJSONRepository(path)
	case RepositoryTypeSQLite:
		return NewSQLiteRepository(path)
	default:
		return nil, fmt.Errorf("unknown repository type: %s (supported: %s, %s)", repoType, RepositoryTypeJSON, RepositoryTypeSQLite)
	}
}
