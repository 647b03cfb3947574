package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/satellite-tracker/model"
)

// Source selects where the catalog is loaded from. DatabaseURL wins over
// Path; when both are empty the built-in catalog is used.
type Source struct {
	Path        string
	DatabaseURL string
}

// Load resolves src into a Catalog.
func Load(ctx context.Context, src Source) (*Catalog, error) {
	switch {
	case src.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, src.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect catalog database: %w", err)
		}
		defer pool.Close()
		return LoadPostgres(ctx, pool)
	case src.Path != "":
		return LoadFile(src.Path)
	default:
		return Default(), nil
	}
}

type fileFormat struct {
	Objects []model.TrackedObject `yaml:"objects"`
}

// LoadFile reads a YAML catalog of the form:
//
//	objects:
//	  - id: 25544
//	    name: ISS (ZARYA)
//	    category: station
//	    priority: 1
//	    real_fetch_interval_sec: 30
//	    inclination: 51.64
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML catalog bytes.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Objects)
}

// Querier is the subset of pgxpool.Pool used to read the catalog table.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const listObjectsSQL = `
    SELECT norad_id, name, category, priority, real_fetch_interval_sec, COALESCE(inclination, 0)
    FROM tracked_objects
    WHERE enabled
    ORDER BY priority, norad_id
`

// LoadPostgres reads enabled rows from the tracked_objects table.
func LoadPostgres(ctx context.Context, q Querier) (*Catalog, error) {
	rows, err := q.Query(ctx, listObjectsSQL)
	if err != nil {
		return nil, fmt.Errorf("query tracked_objects: %w", err)
	}
	defer rows.Close()

	objects := make([]model.TrackedObject, 0)
	for rows.Next() {
		var o model.TrackedObject
		if err := rows.Scan(
			&o.ID,
			&o.Name,
			&o.Category,
			&o.Priority,
			&o.RealFetchIntervalSec,
			&o.Inclination,
		); err != nil {
			return nil, fmt.Errorf("scan tracked_objects: %w", err)
		}
		objects = append(objects, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked_objects: %w", err)
	}
	return New(objects)
}
