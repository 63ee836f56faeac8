package transformations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Fixture timestamps, all within 2018-11 (UTC).
const (
	ts1 = 1541106106796 // 2018-11-01
	ts2 = 1542241826796 // 2018-11-15
	ts3 = 1542241886796 // 2018-11-15, one minute later
)

var songFixtures = []string{
	`{"num_songs": 1, "artist_id": "ARX1", "artist_latitude": 35.1, "artist_longitude": -90.0, "artist_location": "Memphis, TN", "artist_name": "Artist X", "song_id": "SOA1", "title": "Song A", "duration": 209.0, "year": 1999}`,
	`{"num_songs": 1, "artist_id": "ARY2", "artist_latitude": null, "artist_longitude": null, "artist_location": "", "artist_name": "Artist Y", "song_id": "SOB2", "title": "Song B", "duration": 150.0, "year": 2005}`,
}

var logFixtures = []string{
	// Matches SOA1: |210.4 - 209.0| = 1.4 < 2
	fmt.Sprintf(`{"ts": %d, "userId": "10", "firstName": "Ada", "lastName": "Lovelace", "gender": "F", "level": "free", "page": "NextSong", "song": "Song A", "artist": "Artist X", "length": 210.4, "sessionId": 100, "location": "Memphis, TN", "userAgent": "Mozilla/5.0"}`, ts1),
	// Same song title but |206.0 - 209.0| = 3.0, no match: null song_id
	fmt.Sprintf(`{"ts": %d, "userId": "10", "firstName": "Ada", "lastName": "Lovelace", "gender": "F", "level": "paid", "page": "NextSong", "song": "Song A", "artist": "Artist X", "length": 206.0, "sessionId": 200, "location": "Memphis, TN", "userAgent": "Mozilla/5.0"}`, ts2),
	// Matches SOB2: |150.5 - 150.0| = 0.5 < 2
	fmt.Sprintf(`{"ts": %d, "userId": "20", "firstName": "Sam", "lastName": "Cooke", "gender": "M", "level": "free", "page": "NextSong", "song": "Song B", "artist": "Artist Y", "length": 150.5, "sessionId": 300, "location": "Chicago, IL", "userAgent": "Mozilla/5.0"}`, ts3),
	// Not a song play, must be filtered out
	fmt.Sprintf(`{"ts": %d, "userId": "10", "firstName": "Ada", "lastName": "Lovelace", "gender": "F", "level": "paid", "page": "Home", "song": null, "artist": null, "length": null, "sessionId": 200, "location": "Memphis, TN", "userAgent": "Mozilla/5.0"}`, ts2),
	// Exact duplicate of the third event, removed by dedup
	fmt.Sprintf(`{"ts": %d, "userId": "20", "firstName": "Sam", "lastName": "Cooke", "gender": "M", "level": "free", "page": "NextSong", "song": "Song B", "artist": "Artist Y", "length": 150.5, "sessionId": 300, "location": "Chicago, IL", "userAgent": "Mozilla/5.0"}`, ts3),
}

// writeFixtures lays out the raw datasets in their nested directory
// shapes under a temp input root and returns (inputRoot, outputRoot).
func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()

	songDir := filepath.Join(root, "in", "song_data", "A", "B", "C")
	if err := os.MkdirAll(songDir, 0o755); err != nil {
		t.Fatalf("mkdir song_data: %v", err)
	}
	writeLines(t, filepath.Join(songDir, "songs.json"), songFixtures)

	logDir := filepath.Join(root, "in", "log_data", "2018", "11")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("mkdir log_data: %v", err)
	}
	writeLines(t, filepath.Join(logDir, "2018-11-events.json"), logFixtures)

	return filepath.Join(root, "in"), filepath.Join(root, "out")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func queryInt(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var n int64
	if err := db.QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func TestCatalogTransformer_EndToEnd(t *testing.T) {
	in, out := writeFixtures(t)
	db := openDB(t)
	ctx := context.Background()

	tr := NewCatalogTransformer(db, in, out)
	results, err := tr.TransformAll(ctx)
	if err != nil {
		t.Fatalf("TransformAll failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 table results, got %d", len(results))
	}

	songsGlob := out + "/songs/**/*.parquet"
	gotSongs := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s', hive_partitioning = true)", songsGlob))
	if gotSongs != 2 {
		t.Errorf("expected 2 song rows, got %d", gotSongs)
	}

	distinctSongs := queryInt(t, db, fmt.Sprintf(
		"SELECT count(DISTINCT song_id) FROM read_parquet('%s', hive_partitioning = true)", songsGlob))
	if distinctSongs != gotSongs {
		t.Errorf("song_id not unique: %d rows, %d distinct ids", gotSongs, distinctSongs)
	}

	// Partition values come back from the directory layout
	gotYear := queryInt(t, db, fmt.Sprintf(
		"SELECT CAST(\"year\" AS BIGINT) FROM read_parquet('%s', hive_partitioning = true) WHERE song_id = 'SOA1'", songsGlob))
	if gotYear != 1999 {
		t.Errorf("expected SOA1 under year=1999 partition, got %d", gotYear)
	}

	artistsGlob := out + "/artists/**/*.parquet"
	gotArtists := queryInt(t, db, fmt.Sprintf(
		"SELECT count(DISTINCT artist_id) FROM read_parquet('%s')", artistsGlob))
	if gotArtists != 2 {
		t.Errorf("expected 2 artists, got %d", gotArtists)
	}
}

func TestTransformAll_CreatesOutputRoot(t *testing.T) {
	in, _ := writeFixtures(t)
	db := openDB(t)
	ctx := context.Background()

	// Output root nested under directories that do not exist yet.
	// COPY TO only creates the leaf table directory itself.
	out := filepath.Join(t.TempDir(), "lake", "star")

	if _, err := NewCatalogTransformer(db, in, out).TransformAll(ctx); err != nil {
		t.Fatalf("catalog stage failed on fresh output root: %v", err)
	}
	if _, err := NewEventsTransformer(db, in, out).TransformAll(ctx); err != nil {
		t.Fatalf("events stage failed on fresh output root: %v", err)
	}

	gotUsers := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s')", out+"/users/**/*.parquet"))
	if gotUsers != 2 {
		t.Errorf("expected 2 user rows, got %d", gotUsers)
	}

	gotPlays := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s', hive_partitioning = true)", out+"/songplays/**/*.parquet"))
	if gotPlays != 3 {
		t.Errorf("expected 3 songplay rows, got %d", gotPlays)
	}
}

func TestCatalogTransformer_OneRowPerArtist(t *testing.T) {
	root := t.TempDir()
	songDir := filepath.Join(root, "in", "song_data", "A", "B", "C")
	if err := os.MkdirAll(songDir, 0o755); err != nil {
		t.Fatalf("mkdir song_data: %v", err)
	}

	// Same artist id with disagreeing location fields across song files
	writeLines(t, filepath.Join(songDir, "songs.json"), []string{
		`{"num_songs": 1, "artist_id": "ARX1", "artist_latitude": 35.1, "artist_longitude": -90.0, "artist_location": "Memphis, TN", "artist_name": "Artist X", "song_id": "SOA1", "title": "Song A", "duration": 209.0, "year": 1999}`,
		`{"num_songs": 1, "artist_id": "ARX1", "artist_latitude": 35.2, "artist_longitude": -90.1, "artist_location": "Memphis", "artist_name": "Artist X", "song_id": "SOC3", "title": "Song C", "duration": 180.0, "year": 2001}`,
	})

	db := openDB(t)
	out := filepath.Join(root, "out")

	tr := NewCatalogTransformer(db, filepath.Join(root, "in"), out)
	if _, err := tr.TransformAll(context.Background()); err != nil {
		t.Fatalf("TransformAll failed: %v", err)
	}

	artistsGlob := out + "/artists/**/*.parquet"
	gotRows := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s')", artistsGlob))
	if gotRows != 1 {
		t.Fatalf("expected 1 artist row for duplicate artist_id, got %d", gotRows)
	}

	// Window ordering pins the surviving row, so reruns are stable
	var location string
	err := db.QueryRow(fmt.Sprintf(
		"SELECT location FROM read_parquet('%s') WHERE artist_id = 'ARX1'", artistsGlob)).Scan(&location)
	if err != nil {
		t.Fatalf("query artist: %v", err)
	}
	if location != "Memphis" {
		t.Errorf("expected deterministic pick 'Memphis', got %q", location)
	}
}

func TestCatalogTransformer_EmptyInputFails(t *testing.T) {
	root := t.TempDir()
	db := openDB(t)

	tr := NewCatalogTransformer(db, filepath.Join(root, "nothing"), filepath.Join(root, "out"))
	if _, err := tr.TransformAll(context.Background()); err == nil {
		t.Fatal("expected error for empty input glob, got nil")
	}
}

func TestEventsTransformer_EndToEnd(t *testing.T) {
	in, out := writeFixtures(t)
	db := openDB(t)
	ctx := context.Background()

	tr := NewEventsTransformer(db, in, out)
	if _, err := tr.TransformAll(ctx); err != nil {
		t.Fatalf("TransformAll failed: %v", err)
	}

	// Filter + dedup: 5 raw events -> 3 plays (one Home, one duplicate)
	playsGlob := out + "/songplays/**/*.parquet"
	gotPlays := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s', hive_partitioning = true)", playsGlob))
	if gotPlays != 3 {
		t.Errorf("expected 3 songplay rows, got %d", gotPlays)
	}

	// Fuzzy join: session 100 matched (delta 1.4), session 200 did not (delta 3.0)
	var songID sql.NullString
	err := db.QueryRow(fmt.Sprintf(
		"SELECT song_id FROM read_parquet('%s', hive_partitioning = true) WHERE session_id = 100", playsGlob)).Scan(&songID)
	if err != nil {
		t.Fatalf("query matched fact: %v", err)
	}
	if !songID.Valid || songID.String != "SOA1" {
		t.Errorf("expected session 100 to match SOA1, got %+v", songID)
	}

	nullFacts := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s', hive_partitioning = true) WHERE song_id IS NULL", playsGlob))
	if nullFacts != 1 {
		t.Errorf("expected 1 unmatched fact row, got %d", nullFacts)
	}

	// Synthetic ids are unique and strictly positive
	distinctIDs := queryInt(t, db, fmt.Sprintf(
		"SELECT count(DISTINCT songplay_id) FROM read_parquet('%s', hive_partitioning = true)", playsGlob))
	if distinctIDs != gotPlays {
		t.Errorf("songplay_id not unique: %d rows, %d distinct", gotPlays, distinctIDs)
	}

	// Users: one row per user, latest attributes win (user 10 upgraded to paid at ts2)
	usersGlob := out + "/users/**/*.parquet"
	gotUsers := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s')", usersGlob))
	if gotUsers != 2 {
		t.Errorf("expected 2 user rows, got %d", gotUsers)
	}

	var level string
	err = db.QueryRow(fmt.Sprintf(
		"SELECT level FROM read_parquet('%s') WHERE user_id = 10", usersGlob)).Scan(&level)
	if err != nil {
		t.Fatalf("query user 10: %v", err)
	}
	if level != "paid" {
		t.Errorf("expected user 10 level 'paid' (most recent event), got %q", level)
	}

	// Time: one row per distinct instant, partition fields match the instant
	timeGlob := out + "/time/**/*.parquet"
	gotTimes := queryInt(t, db, fmt.Sprintf(
		"SELECT count(DISTINCT start_time) FROM read_parquet('%s', hive_partitioning = true)", timeGlob))
	if gotTimes != 3 {
		t.Errorf("expected 3 distinct instants, got %d", gotTimes)
	}

	misplaced := queryInt(t, db, fmt.Sprintf(`
		SELECT count(*) FROM read_parquet('%s', hive_partitioning = true)
		WHERE year(start_time) != CAST("year" AS BIGINT)
		   OR month(start_time) != CAST("month" AS BIGINT)`, timeGlob))
	if misplaced != 0 {
		t.Errorf("expected all time rows inside their partition, %d misplaced", misplaced)
	}
}

func TestEventsTransformer_RerunOverwrites(t *testing.T) {
	in, out := writeFixtures(t)
	db := openDB(t)
	ctx := context.Background()

	tr := NewEventsTransformer(db, in, out)
	if _, err := tr.TransformAll(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := tr.TransformAll(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	// Unchanged input reruns replace, never append
	gotPlays := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s', hive_partitioning = true)", out+"/songplays/**/*.parquet"))
	if gotPlays != 3 {
		t.Errorf("rerun should overwrite: expected 3 songplay rows, got %d", gotPlays)
	}

	gotUsers := queryInt(t, db, fmt.Sprintf(
		"SELECT count(*) FROM read_parquet('%s')", out+"/users/**/*.parquet"))
	if gotUsers != 2 {
		t.Errorf("rerun should overwrite: expected 2 user rows, got %d", gotUsers)
	}
}
