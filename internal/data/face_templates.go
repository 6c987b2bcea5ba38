package data

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// FaceTemplate is one reference embedding for an employee. Immutable
// after insert; the embedding column stores little-endian float32
// bytes as written by the enrollment collaborator.
type FaceTemplate struct {
	ID         int
	EmployeeID int
	Embedding  []float32
	PoseLabel  string
	Quality    float64
	CreatedAt  time.Time
}

type FaceTemplateModel struct {
	DB DBTX
}

func (m FaceTemplateModel) Insert(ctx context.Context, employeeID int, embedding []float32, poseLabel string, quality float64) error {
	query := `
		INSERT INTO face_templates (employee_id, embedding, pose_label, quality_score, created_at)
		VALUES ($1, $2, $3, $4, NOW())`
	_, err := m.DB.ExecContext(ctx, query, employeeID, EncodeEmbedding(embedding), poseLabel, quality)
	return err
}

// ListAll returns every template. Rows with embeddings that do not
// decode to a whole number of float32s are skipped, not fatal.
func (m FaceTemplateModel) ListAll(ctx context.Context) ([]FaceTemplate, error) {
	query := `
		SELECT id, employee_id, embedding, COALESCE(pose_label, ''), COALESCE(quality_score, 0), created_at
		FROM face_templates
		ORDER BY employee_id, id`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FaceTemplate
	for rows.Next() {
		var t FaceTemplate
		var raw []byte
		if err := rows.Scan(&t.ID, &t.EmployeeID, &raw, &t.PoseLabel, &t.Quality, &t.CreatedAt); err != nil {
			return nil, err
		}
		emb, ok := DecodeEmbedding(raw)
		if !ok {
			continue
		}
		t.Embedding = emb
		out = append(out, t)
	}
	return out, rows.Err()
}

// EncodeEmbedding packs a float32 vector into little-endian bytes.
func EncodeEmbedding(v []float32) []byte {
	raw := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	return raw
}

// DecodeEmbedding unpacks little-endian float32 bytes.
func DecodeEmbedding(raw []byte) ([]float32, bool) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, true
}
