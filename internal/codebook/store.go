package codebook

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is the codebook file format version.
const currentSchemaVersion = 1

// Meta describes a stored codebook without loading its vectors.
type Meta struct {
	Dim          int
	Precision    Precision
	Fingerprint  string
	Entries      int
	Observations int64
	BuiltAt      time.Time
}

// Save writes the codebook to a SQLite file, replacing any previous
// content. The fingerprint is stored alongside so later runs can detect
// configuration drift without loading the vectors.
func Save(path string, cb *Codebook, fp Fingerprint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create codebook directory")
	}
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin codebook transaction")
	}
	defer tx.Rollback()

	for _, table := range []string{"entries", "meta"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}

	stmt, err := tx.Prepare("INSERT INTO entries (idx, point_id, vector, observations) VALUES (?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "prepare entry insert")
	}
	defer stmt.Close()

	var observations int64
	for i, id := range cb.IDs {
		if _, err := stmt.Exec(i, id, encodeVector(cb.Vectors[i], cb.Precision), cb.Counts[i]); err != nil {
			return errors.Wrapf(err, "insert entry %d", i)
		}
		observations += cb.Counts[i]
	}

	meta := map[string]string{
		"dim":          strconv.Itoa(cb.Dim),
		"precision":    string(cb.Precision),
		"fingerprint":  fp.String(),
		"entries":      strconv.Itoa(cb.Len()),
		"observations": strconv.FormatInt(observations, 10),
		"built_at":     time.Now().UTC().Format(time.RFC3339),
	}
	metaStmt, err := tx.Prepare("INSERT INTO meta (key, value) VALUES (?, ?)")
	if err != nil {
		return errors.Wrap(err, "prepare meta insert")
	}
	defer metaStmt.Close()
	for k, v := range meta {
		if _, err := metaStmt.Exec(k, v); err != nil {
			return errors.Wrapf(err, "insert meta %s", k)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit codebook")
	}
	return nil
}

// Load reads a full codebook back from disk. Vectors stored at float32
// precision are widened to float64 in memory; entry order is the stored
// dense index order.
func Load(path string) (*Codebook, Meta, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, Meta{}, err
	}
	defer db.Close()

	meta, err := readMeta(db)
	if err != nil {
		return nil, Meta{}, err
	}

	rows, err := db.Query("SELECT idx, point_id, vector, observations FROM entries ORDER BY idx ASC")
	if err != nil {
		return nil, Meta{}, errors.Wrap(err, "query codebook entries")
	}
	defer rows.Close()

	ids := make([]int64, 0, meta.Entries)
	vectors := make([][]float64, 0, meta.Entries)
	counts := make([]int64, 0, meta.Entries)
	for rows.Next() {
		var (
			idx  int
			id   int64
			blob []byte
			obs  int64
		)
		if err := rows.Scan(&idx, &id, &blob, &obs); err != nil {
			return nil, Meta{}, errors.Wrap(err, "scan codebook entry")
		}
		if idx != len(ids) {
			return nil, Meta{}, errors.Errorf("codebook entry indices are not dense: expected %d, got %d", len(ids), idx)
		}
		vec, err := decodeVector(blob, meta.Precision)
		if err != nil {
			return nil, Meta{}, errors.Wrapf(err, "decode vector for point %d", id)
		}
		if len(vec) != meta.Dim {
			return nil, Meta{}, errors.Errorf("vector for point %d has dim %d, file declares %d", id, len(vec), meta.Dim)
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
		counts = append(counts, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, Meta{}, errors.Wrap(err, "iterate codebook entries")
	}

	return newCodebook(meta.Dim, meta.Precision, ids, vectors, counts), meta, nil
}

// ReadMeta reads only the metadata of a stored codebook. Used for
// freshness checks before deciding whether a rebuild is needed.
func ReadMeta(path string) (Meta, error) {
	if _, err := os.Stat(path); err != nil {
		return Meta{}, errors.Wrap(err, "stat codebook file")
	}
	db, err := openDB(path)
	if err != nil {
		return Meta{}, err
	}
	defer db.Close()
	return readMeta(db)
}

// ObservationCounts returns the per-entry observation counts in dense
// index order, without decoding any vectors.
func ObservationCounts(path string) ([]int64, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "stat codebook file")
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT observations FROM entries ORDER BY idx ASC")
	if err != nil {
		return nil, errors.Wrap(err, "query observation counts")
	}
	defer rows.Close()

	var counts []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "scan observation count")
		}
		counts = append(counts, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate observation counts")
	}
	return counts, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL")
	if err != nil {
		return nil, errors.Wrap(err, "open codebook database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping codebook database")
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "apply codebook schema")
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		return errors.Wrap(err, "check schema version")
	}
	if n == 0 {
		_, err := db.Exec(
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			currentSchemaVersion, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return errors.Wrap(err, "set schema version")
		}
		return nil
	}
	var version int
	if err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if version > currentSchemaVersion {
		return errors.Errorf("codebook file uses schema version %d, this build understands up to %d", version, currentSchemaVersion)
	}
	return nil
}

func readMeta(db *sql.DB) (Meta, error) {
	kv := map[string]string{}
	rows, err := db.Query("SELECT key, value FROM meta")
	if err != nil {
		return Meta{}, errors.Wrap(err, "query codebook meta")
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Meta{}, errors.Wrap(err, "scan codebook meta")
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Meta{}, errors.Wrap(err, "iterate codebook meta")
	}
	if len(kv) == 0 {
		return Meta{}, errors.New("codebook file has no metadata; was the build interrupted?")
	}

	var meta Meta
	meta.Fingerprint = kv["fingerprint"]
	if meta.Dim, err = strconv.Atoi(kv["dim"]); err != nil {
		return Meta{}, errors.Wrap(err, "parse codebook dim")
	}
	if meta.Precision, err = ParsePrecision(kv["precision"]); err != nil {
		return Meta{}, err
	}
	if meta.Entries, err = strconv.Atoi(kv["entries"]); err != nil {
		return Meta{}, errors.Wrap(err, "parse codebook entry count")
	}
	if meta.Observations, err = strconv.ParseInt(kv["observations"], 10, 64); err != nil {
		return Meta{}, errors.Wrap(err, "parse codebook observation count")
	}
	if at, err := time.Parse(time.RFC3339, kv["built_at"]); err == nil {
		meta.BuiltAt = at
	}
	return meta, nil
}

// encodeVector serializes a descriptor as little-endian floats at the
// recorded precision.
func encodeVector(vec []float64, prec Precision) []byte {
	if prec == Float32 {
		blob := make([]byte, len(vec)*4)
		for i, v := range vec {
			binary.LittleEndian.PutUint32(blob[i*4:i*4+4], math.Float32bits(float32(v)))
		}
		return blob
	}
	blob := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(blob[i*8:i*8+8], math.Float64bits(v))
	}
	return blob
}

// decodeVector deserializes a descriptor blob, widening to float64.
func decodeVector(blob []byte, prec Precision) ([]float64, error) {
	if prec == Float32 {
		if len(blob)%4 != 0 {
			return nil, errors.Errorf("float32 blob size %d is not a multiple of 4", len(blob))
		}
		vec := make([]float64, len(blob)/4)
		for i := range vec {
			vec[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4])))
		}
		return vec, nil
	}
	if len(blob)%8 != 0 {
		return nil, errors.Errorf("float64 blob size %d is not a multiple of 8", len(blob))
	}
	vec := make([]float64, len(blob)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8 : i*8+8]))
	}
	return vec, nil
}
