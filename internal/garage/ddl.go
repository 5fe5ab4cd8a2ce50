package garage

import "strings"

// DDL creates the garage tables on MySQL or TiDB.
const DDL = `CREATE TABLE IF NOT EXISTS engines (
  id CHAR(36) NOT NULL PRIMARY KEY,
  power INT NOT NULL
);

CREATE TABLE IF NOT EXISTS cars (
  id CHAR(36) NOT NULL PRIMARY KEY,
  name VARCHAR(255) NOT NULL,
  engine_id CHAR(36) NULL UNIQUE,
  CONSTRAINT fk_cars_engine FOREIGN KEY (engine_id) REFERENCES engines (id)
);

CREATE TABLE IF NOT EXISTS wheels (
  id CHAR(36) NOT NULL PRIMARY KEY,
  position VARCHAR(32) NOT NULL,
  car_id CHAR(36) NOT NULL,
  KEY idx_wheels_car (car_id),
  CONSTRAINT fk_wheels_car FOREIGN KEY (car_id) REFERENCES cars (id)
);

CREATE TABLE IF NOT EXISTS doors (
  id CHAR(36) NOT NULL PRIMARY KEY,
  side VARCHAR(32) NOT NULL,
  car_id CHAR(36) NOT NULL,
  KEY idx_doors_car (car_id),
  CONSTRAINT fk_doors_car FOREIGN KEY (car_id) REFERENCES cars (id)
);
`

// SQLiteDDL creates the garage tables on SQLite.
const SQLiteDDL = `CREATE TABLE IF NOT EXISTS engines (
  id TEXT NOT NULL PRIMARY KEY,
  power INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cars (
  id TEXT NOT NULL PRIMARY KEY,
  name TEXT NOT NULL,
  engine_id TEXT NULL UNIQUE REFERENCES engines (id)
);

CREATE TABLE IF NOT EXISTS wheels (
  id TEXT NOT NULL PRIMARY KEY,
  position TEXT NOT NULL,
  car_id TEXT NOT NULL REFERENCES cars (id)
);

CREATE INDEX IF NOT EXISTS idx_wheels_car ON wheels (car_id);

CREATE TABLE IF NOT EXISTS doors (
  id TEXT NOT NULL PRIMARY KEY,
  side TEXT NOT NULL,
  car_id TEXT NOT NULL REFERENCES cars (id)
);

CREATE INDEX IF NOT EXISTS idx_doors_car ON doors (car_id);
`

// DDLFor returns the schema script for a database/sql driver name.
func DDLFor(driver string) string {
	if driver == "sqlite" {
		return SQLiteDDL
	}
	return DDL
}

// Statements splits a schema script into its non-empty statements.
func Statements(ddl string) []string {
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
