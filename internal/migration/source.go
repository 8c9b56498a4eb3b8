package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
)

// migrationFilePattern matches "<digits>[<sep><description>].sql".
// Examples: "001_initial.sql", "2-add-index.sql", "003.sql".
var migrationFilePattern = regexp.MustCompile(`^(\d+)(?:[._-].*)?\.sql$`)

// Source produces the ordered migration sequence for one run.
// Load is called on every run; sources must not cache between calls.
type Source interface {
	Load() ([]Migration, error)
}

// DirSource loads migrations from a directory on the local filesystem.
type DirSource struct {
	// Path is the directory holding the *.sql files.
	Path string

	// AllowMissing makes a missing directory an empty sequence instead of
	// ErrSourceNotFound.
	AllowMissing bool
}

// Load reads, sorts and parses the migration files in Path.
func (s DirSource) Load() ([]Migration, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if s.AllowMissing {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, s.Path)
		}
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, s.Path)
	}

	return loadDir(os.DirFS(s.Path), ".")
}

// FSSource loads migrations from a directory inside an fs.FS,
// typically an embed.FS compiled into the binary.
//
// Usage:
//
//	//go:embed migrations/*.sql
//	var migrationsFS embed.FS
//
//	src := migration.FSSource{FS: migrationsFS, Dir: "migrations"}
type FSSource struct {
	FS fs.FS

	// Dir is the directory within FS. Empty means the root.
	Dir string
}

// Load reads, sorts and parses the migration files in Dir.
func (s FSSource) Load() ([]Migration, error) {
	if s.FS == nil {
		return nil, ErrNoSource
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	return loadDir(s.FS, dir)
}

// ListSource is an ordered list of migration texts supplied in memory.
// Each element is named "migration N" with N its 1-based position.
type ListSource []string

// Load parses each element in order.
func (s ListSource) Load() ([]Migration, error) {
	migrations := make([]Migration, 0, len(s))
	for i, text := range s {
		name := fmt.Sprintf("migration %d", i+1)
		up, down, err := Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Index: i + 1,
			Name:  name,
			Up:    up,
			Down:  down,
		})
	}
	return migrations, nil
}

// migrationFile is a directory entry that matched migrationFilePattern.
type migrationFile struct {
	filename string
	number   string // numeric prefix without leading zeros
}

// loadDir reads the migration files of dir in fsys in numeric order.
func loadDir(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
		}
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	files, err := collectMigrationFiles(entries)
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, 0, len(files))
	for i, f := range files {
		data, err := fs.ReadFile(fsys, path.Join(dir, f.filename))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.filename, err)
		}

		up, down, err := Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", f.filename, err)
		}

		migrations = append(migrations, Migration{
			Index: i + 1,
			Name:  strings.TrimSuffix(f.filename, ".sql"),
			Up:    up,
			Down:  down,
		})
	}

	return migrations, nil
}

// collectMigrationFiles filters and sorts directory entries.
// Files are ordered by numeric prefix; two files with the same number are
// rejected since their order would be ambiguous.
func collectMigrationFiles(entries []fs.DirEntry) ([]migrationFile, error) {
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		number := strings.TrimLeft(m[1], "0")
		if number == "" {
			number = "0"
		}
		files = append(files, migrationFile{filename: entry.Name(), number: number})
	}

	sort.Slice(files, func(i, j int) bool {
		a, b := files[i].number, files[j].number
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		if a != b {
			return a < b
		}
		return files[i].filename < files[j].filename
	})

	for i := 1; i < len(files); i++ {
		if files[i].number == files[i-1].number {
			return nil, fmt.Errorf("%w: %s and %s", ErrDuplicateVersion, files[i-1].filename, files[i].filename)
		}
	}

	return files, nil
}
