package transformations

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// LogDataGlob is the fixed layout of the raw listen-event dataset under
// the input root.
const LogDataGlob = "log_data/*/*/*.json"

// EventsTransformer derives the users and time dimension tables and the
// songplays fact table from the raw event log. The song dataset is
// re-read from the input root for the fact join; each transformer is
// independent of the others' in-session state.
type EventsTransformer struct {
	db         *sql.DB
	inputPath  string
	outputPath string
}

// NewEventsTransformer creates a new event-log transformer
func NewEventsTransformer(db *sql.DB, inputPath, outputPath string) *EventsTransformer {
	return &EventsTransformer{
		db:         db,
		inputPath:  inputPath,
		outputPath: outputPath,
	}
}

// TransformAll loads the event log and writes users, time and songplays
func (t *EventsTransformer) TransformAll(ctx context.Context) ([]TableResult, error) {
	logGlob := joinPath(t.inputPath, LogDataGlob)
	log.Printf("Reading log data from %s", logGlob)

	if err := ensureInputFiles(ctx, t.db, logGlob); err != nil {
		return nil, err
	}
	if err := ensureOutputRoot(t.outputPath); err != nil {
		return nil, err
	}
	if err := createJSONView(ctx, t.db, "log_data", logGlob); err != nil {
		return nil, err
	}
	if err := t.createPlaysView(ctx); err != nil {
		return nil, err
	}

	// The fact join reads the song dataset independently rather than
	// reusing catalog-stage state.
	songGlob := joinPath(t.inputPath, SongDataGlob)
	if err := ensureInputFiles(ctx, t.db, songGlob); err != nil {
		return nil, err
	}
	if err := createJSONView(ctx, t.db, "song_data", songGlob); err != nil {
		return nil, err
	}

	transformations := []struct {
		name string
		fn   func(context.Context) (int64, error)
	}{
		{"users", t.transformUsers},
		{"time", t.transformTime},
		{"songplays", t.transformSongplays},
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

// PlaysSQL returns the view definition shared by all three event-derived
// tables: song-play events only, deduplicated, user id cast to integer,
// with the epoch-millisecond ts converted to an epoch-second string and
// a UTC timestamp.
func (t *EventsTransformer) PlaysSQL() string {
	return `
		CREATE OR REPLACE VIEW plays AS
		SELECT DISTINCT
			ts,
			CAST(userId AS INTEGER) AS user_id,
			firstName AS first_name,
			lastName AS last_name,
			gender,
			level,
			song,
			artist,
			sessionId AS session_id,
			location,
			userAgent AS user_agent,
			length,
			CAST(ts // 1000 AS VARCHAR) AS ts_seconds,
			make_timestamp(CAST(ts AS BIGINT) * 1000) AS start_time
		FROM log_data
		WHERE page = 'NextSong'
	`
}

func (t *EventsTransformer) createPlaysView(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, t.PlaysSQL()); err != nil {
		return fmt.Errorf("failed to create plays view: %w", err)
	}
	return nil
}

// UsersSQL returns the COPY statement for the users table: one row per
// user, attributes taken from that user's most recent event. Ties on ts
// break on session_id so reruns stay deterministic.
func (t *EventsTransformer) UsersSQL() string {
	return fmt.Sprintf(`
		COPY (
			SELECT user_id, first_name, last_name, gender, level
			FROM (
				SELECT user_id, first_name, last_name, gender, level,
					ROW_NUMBER() OVER (
						PARTITION BY user_id
						ORDER BY ts DESC, session_id DESC
					) AS row_num
				FROM plays
			)
			WHERE row_num = 1
		) TO '%s'
		(FORMAT PARQUET, PER_THREAD_OUTPUT, OVERWRITE)
	`, joinPath(t.outputPath, "users"))
}

func (t *EventsTransformer) transformUsers(ctx context.Context) (int64, error) {
	return execCopy(ctx, t.db, t.UsersSQL())
}

// TimeSQL returns the COPY statement for the time table: one row per
// distinct instant with its calendar breakdown, partitioned by year and
// month.
func (t *EventsTransformer) TimeSQL() string {
	return fmt.Sprintf(`
		COPY (
			SELECT DISTINCT
				start_time,
				hour(start_time) AS hour,
				day(start_time) AS day,
				weekofyear(start_time) AS week,
				month(start_time) AS month,
				year(start_time) AS year,
				dayofweek(start_time) AS weekday
			FROM plays
		) TO '%s'
		(FORMAT PARQUET, PARTITION_BY (year, month), OVERWRITE)
	`, joinPath(t.outputPath, "time"))
}

func (t *EventsTransformer) transformTime(ctx context.Context) (int64, error) {
	return execCopy(ctx, t.db, t.TimeSQL())
}

// SongplaysSQL returns the COPY statement for the songplays fact table.
// Events join to the song catalog on title and artist name with a fuzzy
// duration match (|length - duration| < 2 seconds); unmatched events
// keep a fact row with null song/artist ids. The synthetic songplay_id
// is strictly increasing within a run but not stable across runs.
func (t *EventsTransformer) SongplaysSQL() string {
	return fmt.Sprintf(`
		COPY (
			SELECT
				ROW_NUMBER() OVER (ORDER BY l.start_time, l.session_id) AS songplay_id,
				l.start_time,
				l.user_id,
				l.level,
				s.song_id,
				s.artist_id,
				l.session_id,
				l.location,
				l.user_agent,
				year(l.start_time) AS year,
				month(l.start_time) AS month
			FROM plays l
			LEFT JOIN song_data s
				ON l.song = s.title
				AND l.artist = s.artist_name
				AND abs(l.length - s.duration) < 2
		) TO '%s'
		(FORMAT PARQUET, PARTITION_BY (year, month), OVERWRITE)
	`, joinPath(t.outputPath, "songplays"))
}

func (t *EventsTransformer) transformSongplays(ctx context.Context) (int64, error) {
	return execCopy(ctx, t.db, t.SongplaysSQL())
}
