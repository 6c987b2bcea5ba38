package data

import (
	"context"
	"database/sql"
)

type Camera struct {
	ID            int
	Name          string
	Area          string
	RTSPURL       string
	Enabled       bool
	StreamEnabled bool
}

type CameraModel struct {
	DB DBTX
}

// Upsert syncs one camera row from its on-disk config.
func (m CameraModel) Upsert(ctx context.Context, c Camera) error {
	query := `
		INSERT INTO cameras (id, name, area, rtsp_url, enabled, stream_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    area = EXCLUDED.area,
		    rtsp_url = EXCLUDED.rtsp_url,
		    enabled = EXCLUDED.enabled,
		    stream_enabled = EXCLUDED.stream_enabled`
	_, err := m.DB.ExecContext(ctx, query, c.ID, c.Name, c.Area, c.RTSPURL, c.Enabled, c.StreamEnabled)
	return err
}

func (m CameraModel) GetByID(ctx context.Context, id int) (*Camera, error) {
	query := `
		SELECT id, name, COALESCE(area, ''), COALESCE(rtsp_url, ''), enabled, stream_enabled
		FROM cameras
		WHERE id = $1`

	var c Camera
	err := m.DB.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Area, &c.RTSPURL, &c.Enabled, &c.StreamEnabled)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (m CameraModel) List(ctx context.Context) ([]Camera, error) {
	query := `
		SELECT id, name, COALESCE(area, ''), COALESCE(rtsp_url, ''), enabled, stream_enabled
		FROM cameras
		ORDER BY id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Camera
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.Name, &c.Area, &c.RTSPURL, &c.Enabled, &c.StreamEnabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
