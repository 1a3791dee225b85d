// Package calibdb persists stereo calibrations in a SQLite database, one named row per rig.
package calibdb

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/rock-image-processing/image-processing-stereo/rimage/transform"
	"github.com/rock-image-processing/image-processing-stereo/utils"
)

// Store is a calibration database.
type Store struct {
	db   *sql.DB
	path string
}

func columnList() string {
	return strings.Join(transform.CalibrationFields, ", ")
}

func schema() string {
	cols := make([]string, 0, len(transform.CalibrationFields))
	for _, f := range transform.CalibrationFields {
		cols = append(cols, fmt.Sprintf("\t\t\t%-17s DOUBLE,", f))
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS calibrations (
			name              TEXT PRIMARY KEY,
%s
			image_width       INTEGER,
			image_height      INTEGER,
			updated_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`, strings.Join(cols, "\n"))
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, utils.NewIOError(path, err)
	}
	if _, err := db.Exec(schema()); err != nil {
		return nil, utils.NewIOError(path, multierr.Combine(err, db.Close()))
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores params under name, replacing a previous calibration of the same name. A zero
// size is stored as unknown.
func (s *Store) Save(ctx context.Context, name string, params *transform.CalibrationParameters, size image.Point) error {
	if err := params.Validate(); err != nil {
		return err
	}
	node := params.Node()
	args := make([]interface{}, 0, len(transform.CalibrationFields)+3)
	args = append(args, name)
	updates := make([]string, 0, len(transform.CalibrationFields)+2)
	for _, f := range transform.CalibrationFields {
		args = append(args, node[f])
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", f, f))
	}
	args = append(args, nullInt(size.X), nullInt(size.Y))
	updates = append(updates,
		"image_width = excluded.image_width",
		"image_height = excluded.image_height",
		"updated_at = CURRENT_TIMESTAMP")

	query := fmt.Sprintf(
		"INSERT INTO calibrations (name, %s, image_width, image_height) VALUES (?%s, ?, ?) ON CONFLICT(name) DO UPDATE SET %s",
		columnList(), strings.Repeat(", ?", len(transform.CalibrationFields)), strings.Join(updates, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return utils.NewIOError(s.path, errors.Wrapf(err, "saving calibration %q", name))
	}
	return nil
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

// LoadNode returns the calibration node stored under name, including the image size keys when
// the size is known. Columns stored as NULL are left out of the node.
func (s *Store) LoadNode(ctx context.Context, name string) (map[string]interface{}, error) {
	values := make([]sql.NullFloat64, len(transform.CalibrationFields))
	var width, height sql.NullInt64
	dest := make([]interface{}, 0, len(values)+2)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &width, &height)

	query := fmt.Sprintf("SELECT %s, image_width, image_height FROM calibrations WHERE name = ?", columnList())
	err := s.db.QueryRowContext(ctx, query, name).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewConfigurationUnavailableError(s.path+"#"+name, err)
	}
	if err != nil {
		return nil, utils.NewIOError(s.path, errors.Wrapf(err, "loading calibration %q", name))
	}

	node := make(map[string]interface{}, len(values)+2)
	for i, v := range values {
		if v.Valid {
			node[transform.CalibrationFields[i]] = v.Float64
		}
	}
	if width.Valid && height.Valid {
		node[transform.ImageWidthKey] = width.Int64
		node[transform.ImageHeightKey] = height.Int64
	}
	return node, nil
}

// Load returns the decoded calibration stored under name.
func (s *Store) Load(ctx context.Context, name string) (*transform.CalibrationParameters, error) {
	node, err := s.LoadNode(ctx, name)
	if err != nil {
		return nil, err
	}
	return transform.DecodeCalibrationNode(node)
}

// Names lists the stored calibrations in name order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM calibrations ORDER BY name")
	if err != nil {
		return nil, utils.NewIOError(s.path, err)
	}
	defer goutils.UncheckedErrorFunc(rows.Close)
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, utils.NewIOError(s.path, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewIOError(s.path, err)
	}
	return names, nil
}

// Delete removes the calibration stored under name. Deleting a missing name is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM calibrations WHERE name = ?", name); err != nil {
		return utils.NewIOError(s.path, err)
	}
	return nil
}

// Source returns a transform.ParameterSource reading the calibration stored under name.
func (s *Store) Source(name string) transform.ParameterSource {
	return &source{store: s, name: name}
}

type source struct {
	store *Store
	name  string
}

func (src *source) LoadCalibrationNode(ctx context.Context) (map[string]interface{}, error) {
	return src.store.LoadNode(ctx, src.name)
}

func (src *source) String() string {
	return src.store.path + "#" + src.name
}
