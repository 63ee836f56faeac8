package transformations

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// SongDataGlob is the fixed layout of the raw song dataset under the
// input root: fan-out directory levels terminating in JSON files.
const SongDataGlob = "song_data/*/*/*/*.json"

// CatalogTransformer derives the songs and artists dimension tables from
// the raw song dataset.
type CatalogTransformer struct {
	db         *sql.DB
	inputPath  string
	outputPath string
}

// NewCatalogTransformer creates a new catalog transformer
func NewCatalogTransformer(db *sql.DB, inputPath, outputPath string) *CatalogTransformer {
	return &CatalogTransformer{
		db:         db,
		inputPath:  inputPath,
		outputPath: outputPath,
	}
}

// TransformAll loads the song dataset and writes both dimension tables
func (t *CatalogTransformer) TransformAll(ctx context.Context) ([]TableResult, error) {
	glob := joinPath(t.inputPath, SongDataGlob)
	log.Printf("Reading song data from %s", glob)

	if err := ensureInputFiles(ctx, t.db, glob); err != nil {
		return nil, err
	}
	if err := ensureOutputRoot(t.outputPath); err != nil {
		return nil, err
	}
	if err := createJSONView(ctx, t.db, "song_data", glob); err != nil {
		return nil, err
	}

	transformations := []struct {
		name string
		fn   func(context.Context) (int64, error)
	}{
		{"songs", t.transformSongs},
		{"artists", t.transformArtists},
	}

	var results []TableResult
	for _, tf := range transformations {
		log.Printf("  → Writing %s...", tf.name)
		rows, err := tf.fn(ctx)
		if err != nil {
			return results, fmt.Errorf("failed to write %s: %w", tf.name, err)
		}
		log.Printf("  ✅ %s complete (%d rows)", tf.name, rows)
		results = append(results, TableResult{Table: tf.name, Rows: rows})
	}

	return results, nil
}

// SongsSQL returns the COPY statement for the songs table: distinct
// projection of the song dataset, partitioned by year and artist.
func (t *CatalogTransformer) SongsSQL() string {
	return fmt.Sprintf(`
		COPY (
			SELECT DISTINCT song_id,
				title,
				artist_id,
				year,
				duration
			FROM song_data
		) TO '%s'
		(FORMAT PARQUET, PARTITION_BY (year, artist_id), OVERWRITE)
	`, joinPath(t.outputPath, "songs"))
}

func (t *CatalogTransformer) transformSongs(ctx context.Context) (int64, error) {
	return execCopy(ctx, t.db, t.SongsSQL())
}

// ArtistsSQL returns the COPY statement for the artists table,
// unpartitioned. Dedup is keyed on artist_id: song files can disagree on
// an artist's location fields, and the table must keep exactly one row
// per artist. The window ordering makes the surviving row deterministic
// across reruns.
func (t *CatalogTransformer) ArtistsSQL() string {
	return fmt.Sprintf(`
		COPY (
			SELECT artist_id, name, location, latitude, longitude
			FROM (
				SELECT artist_id,
					artist_name AS name,
					artist_location AS location,
					artist_latitude AS latitude,
					artist_longitude AS longitude,
					ROW_NUMBER() OVER (
						PARTITION BY artist_id
						ORDER BY artist_name, artist_location, artist_latitude, artist_longitude
					) AS row_num
				FROM song_data
			)
			WHERE row_num = 1
		) TO '%s'
		(FORMAT PARQUET, PER_THREAD_OUTPUT, OVERWRITE)
	`, joinPath(t.outputPath, "artists"))
}

func (t *CatalogTransformer) transformArtists(ctx context.Context) (int64, error) {
	return execCopy(ctx, t.db, t.ArtistsSQL())
}
