// Package feature reads and writes the SQLite store of extracted image
// features. Extraction itself happens outside this program; the store is
// the hand-off point between the feature extractors and the codebook
// build and localization pipelines.
package feature

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is the feature file format version.
const currentSchemaVersion = 1

// ErrNotFound reports that the store has no row for the requested image.
// Callers treat it as a data-integrity condition for that one image, not
// a failure of the store.
var ErrNotFound = errors.New("image not found in feature store")

// Meta keys filled by the extractor-side tooling.
const (
	MetaLocalModel  = "local_model"
	MetaLocalDim    = "local_dim"
	MetaGlobalModel = "global_model"
	MetaGlobalDim   = "global_dim"
)

// LocalRecord is the detected keypoints and their descriptors for one
// image. Keypoints[i] pairs with Descriptors[i].
type LocalRecord struct {
	Image       string
	Keypoints   []r2.Point
	Descriptors [][]float64
}

// GlobalRecord is the whole-image descriptor for one image.
type GlobalRecord struct {
	Image      string
	Descriptor []float64
}

// Store is a feature database handle. Safe for concurrent readers.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens a feature store, creating the file and schema when absent.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create feature store directory")
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL")
	if err != nil {
		return nil, errors.Wrap(err, "open feature database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping feature database")
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk location of the store.
func (s *Store) Path() string {
	return s.path
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return errors.Wrap(err, "apply feature schema")
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
		return errors.Wrap(err, "set schema version")
	}
	var version int
	if err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if version > currentSchemaVersion {
		return errors.Errorf("feature store uses schema version %d, this build understands up to %d", version, currentSchemaVersion)
	}
	return nil
}

// Local returns the keypoints and local descriptors of one image.
// Returns ErrNotFound when the image has no local features row.
func (s *Store) Local(image string) ([]r2.Point, [][]float64, error) {
	var (
		count, dim int
		kpBlob     []byte
		descBlob   []byte
	)
	err := s.db.QueryRow(
		"SELECT count, dim, keypoints, descriptors FROM local_features WHERE image = ?", image,
	).Scan(&count, &dim, &kpBlob, &descBlob)
	if err == sql.ErrNoRows {
		return nil, nil, errors.Wrapf(ErrNotFound, "local features for %s", image)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "query local features for %s", image)
	}

	if len(kpBlob) != count*2*4 {
		return nil, nil, errors.Errorf("keypoint blob for %s holds %d bytes, expected %d", image, len(kpBlob), count*2*4)
	}
	if len(descBlob) != count*dim*4 {
		return nil, nil, errors.Errorf("descriptor blob for %s holds %d bytes, expected %d", image, len(descBlob), count*dim*4)
	}

	kps := make([]r2.Point, count)
	for i := range kps {
		kps[i] = r2.Point{
			X: float64(decodeFloat32(kpBlob, 2*i)),
			Y: float64(decodeFloat32(kpBlob, 2*i+1)),
		}
	}
	descs := make([][]float64, count)
	for i := range descs {
		row := make([]float64, dim)
		for j := range row {
			row[j] = float64(decodeFloat32(descBlob, i*dim+j))
		}
		descs[i] = row
	}
	return kps, descs, nil
}

// Global returns the whole-image descriptor of one image. Returns
// ErrNotFound when the image has no global features row.
func (s *Store) Global(image string) ([]float64, error) {
	var (
		dim  int
		blob []byte
	)
	err := s.db.QueryRow(
		"SELECT dim, descriptor FROM global_features WHERE image = ?", image,
	).Scan(&dim, &blob)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "global features for %s", image)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query global features for %s", image)
	}
	if len(blob) != dim*4 {
		return nil, errors.Errorf("global descriptor blob for %s holds %d bytes, expected %d", image, len(blob), dim*4)
	}
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = float64(decodeFloat32(blob, i))
	}
	return vec, nil
}

// Images lists every image present in the store, sorted by name.
func (s *Store) Images() ([]string, error) {
	rows, err := s.db.Query(
		"SELECT image FROM local_features UNION SELECT image FROM global_features ORDER BY image ASC",
	)
	if err != nil {
		return nil, errors.Wrap(err, "query feature images")
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var img string
		if err := rows.Scan(&img); err != nil {
			return nil, errors.Wrap(err, "scan feature image")
		}
		images = append(images, img)
	}
	return images, errors.Wrap(rows.Err(), "iterate feature images")
}

// PutLocal writes a batch of local feature records in one transaction,
// replacing existing rows. Every record must carry one descriptor per
// keypoint, all with the same dimension.
func (s *Store) PutLocal(records []LocalRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin local feature transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO local_features (image, count, dim, keypoints, descriptors) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return errors.Wrap(err, "prepare local feature insert")
	}
	defer stmt.Close()

	for _, rec := range records {
		if len(rec.Keypoints) != len(rec.Descriptors) {
			return errors.Errorf("image %s has %d keypoints but %d descriptors", rec.Image, len(rec.Keypoints), len(rec.Descriptors))
		}
		dim := 0
		if len(rec.Descriptors) > 0 {
			dim = len(rec.Descriptors[0])
		}
		kpBlob := make([]byte, len(rec.Keypoints)*2*4)
		for i, kp := range rec.Keypoints {
			encodeFloat32(kpBlob, 2*i, float32(kp.X))
			encodeFloat32(kpBlob, 2*i+1, float32(kp.Y))
		}
		descBlob := make([]byte, len(rec.Descriptors)*dim*4)
		for i, desc := range rec.Descriptors {
			if len(desc) != dim {
				return errors.Errorf("image %s descriptor %d has dim %d, expected %d", rec.Image, i, len(desc), dim)
			}
			for j, v := range desc {
				encodeFloat32(descBlob, i*dim+j, float32(v))
			}
		}
		if _, err := stmt.Exec(rec.Image, len(rec.Keypoints), dim, kpBlob, descBlob); err != nil {
			return errors.Wrapf(err, "insert local features for %s", rec.Image)
		}
	}
	return errors.Wrap(tx.Commit(), "commit local features")
}

// PutGlobal writes a batch of global descriptors in one transaction,
// replacing existing rows.
func (s *Store) PutGlobal(records []GlobalRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin global feature transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO global_features (image, dim, descriptor) VALUES (?, ?, ?)",
	)
	if err != nil {
		return errors.Wrap(err, "prepare global feature insert")
	}
	defer stmt.Close()

	for _, rec := range records {
		blob := make([]byte, len(rec.Descriptor)*4)
		for i, v := range rec.Descriptor {
			encodeFloat32(blob, i, float32(v))
		}
		if _, err := stmt.Exec(rec.Image, len(rec.Descriptor), blob); err != nil {
			return errors.Wrapf(err, "insert global features for %s", rec.Image)
		}
	}
	return errors.Wrap(tx.Commit(), "commit global features")
}

// Meta returns the store's metadata key/value pairs.
func (s *Store) Meta() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM meta")
	if err != nil {
		return nil, errors.Wrap(err, "query feature meta")
	}
	defer rows.Close()

	kv := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "scan feature meta")
		}
		kv[k] = v
	}
	return kv, errors.Wrap(rows.Err(), "iterate feature meta")
}

// SetMeta writes metadata key/value pairs, replacing existing keys.
func (s *Store) SetMeta(kv map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin meta transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)")
	if err != nil {
		return errors.Wrap(err, "prepare meta insert")
	}
	defer stmt.Close()
	for k, v := range kv {
		if _, err := stmt.Exec(k, v); err != nil {
			return errors.Wrapf(err, "insert meta %s", k)
		}
	}
	return errors.Wrap(tx.Commit(), "commit meta")
}

func encodeFloat32(blob []byte, idx int, v float32) {
	binary.LittleEndian.PutUint32(blob[idx*4:idx*4+4], math.Float32bits(v))
}

func decodeFloat32(blob []byte, idx int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(blob[idx*4 : idx*4+4]))
}
