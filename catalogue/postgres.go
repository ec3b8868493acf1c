package catalogue

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/xpublish-community/edrserve/utils"
)

// PGSource reads dataset definitions from a Postgres catalogue
// table, letting operators publish collections without editing the
// on-disk config.
type PGSource struct {
	db *sql.DB
}

// OpenPG connects to the catalogue database.
func OpenPG(conninfo string, poolSize int) (*PGSource, error) {
	db, err := sql.Open("postgres", conninfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue database: %v", err)
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(poolSize)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach catalogue database: %v", err)
	}
	return &PGSource{db: db}, nil
}

// LoadDatasetDefs fetches the definitions published under one
// namespace. An empty namespace selects the root.
func (s *PGSource) LoadDatasetDefs(namespace string) ([]utils.DatasetDef, error) {
	rows, err := s.db.Query(
		`select name, title, abstract, path, crs
			from edr_datasets
			where namespace = nullif($1,'')::text or (namespace is null and $1 = '')
			order by name`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("catalogue query failed: %v", err)
	}
	defer rows.Close()

	var defs []utils.DatasetDef
	for rows.Next() {
		var def utils.DatasetDef
		var title, abstract, crs sql.NullString
		if err := rows.Scan(&def.Name, &title, &abstract, &def.Path, &crs); err != nil {
			return nil, fmt.Errorf("catalogue row scan failed: %v", err)
		}
		def.NameSpace = namespace
		def.Title = title.String
		def.Abstract = abstract.String
		def.CRS = crs.String
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *PGSource) Close() error {
	return s.db.Close()
}
