package registry

import (
	"strings"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

// Migrations for the given driver. Sqlite and Postgres only differ in their auto-increment key syntax.
func Migrations(log logs.Log, driver string) []migration.Migrator {
	pk := "BIGSERIAL PRIMARY KEY"
	if driver == dbh.DriverSqlite {
		pk = "INTEGER PRIMARY KEY"
	}
	sql := func(s string) string {
		return strings.ReplaceAll(s, "$PK", pk)
	}

	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, sql(`
		CREATE TABLE summary_data(id $PK, run_id TEXT NOT NULL, video_name TEXT NOT NULL, road_name TEXT, section_of_road TEXT,
			road_class TEXT, road_category TEXT, contractor TEXT, status TEXT NOT NULL, error TEXT,
			total_objects INT NOT NULL DEFAULT 0, total_distance DOUBLE PRECISION NOT NULL DEFAULT 0, processing_time TEXT,
			class_counts TEXT, created_at BIGINT NOT NULL, processed_at BIGINT, is_processed BOOLEAN NOT NULL DEFAULT FALSE);
		CREATE UNIQUE INDEX idx_summary_data_run_id ON summary_data(run_id);
		CREATE INDEX idx_summary_data_video_name ON summary_data(video_name);
	`)))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, sql(`
		CREATE TABLE detected_objects(id $PK, run_id TEXT NOT NULL, object_id BIGINT NOT NULL, title TEXT, section_of_road TEXT,
			image_name TEXT, video_name TEXT NOT NULL, class_name TEXT NOT NULL, latitude DOUBLE PRECISION, longitude DOUBLE PRECISION,
			status TEXT, critical_level INT, road_class TEXT, road_category TEXT, contractor TEXT, date_time_detection TEXT,
			frame INT);
		CREATE UNIQUE INDEX idx_detected_objects_run_object ON detected_objects(run_id, object_id);
		CREATE INDEX idx_detected_objects_video_class ON detected_objects(video_name, class_name);
	`)))

	return migs
}
