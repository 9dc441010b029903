package migrate

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
)

var fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

var (
	upMarker    = []byte("-- +goose Up")
	downMarker  = []byte("-- +goose Down")
	beginMarker = []byte("-- +goose StatementBegin")
	endMarker   = []byte("-- +goose StatementEnd")
)

// ValidateDir checks migration files on disk before they are committed.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return Validate(os.DirFS(dir))
}

// Validate checks every .sql file in fsys: name format, unique version, and
// goose annotations with a Down section so each step can be rolled back.
func Validate(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	versions := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, dup := versions[m[1]]; dup {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkAnnotations(body); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func checkAnnotations(body []byte) error {
	up := bytes.Index(body, upMarker)
	down := bytes.Index(body, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", upMarker)
	case down < 0:
		return fmt.Errorf("missing %q", downMarker)
	case down < up:
		return fmt.Errorf("%q must come before %q", upMarker, downMarker)
	}
	if bytes.Count(body, beginMarker) != bytes.Count(body, endMarker) {
		return fmt.Errorf("unbalanced StatementBegin/StatementEnd")
	}
	return nil
}
