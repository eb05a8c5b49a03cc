package continuity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rcliao/agent-continuity/internal/chunker"
	"github.com/rcliao/agent-continuity/internal/model"
)

// Document is extracted text handed over by the upload pipeline.
type Document struct {
	UserID           string
	SessionID        string
	DocumentID       string // generated when empty
	FileName         string
	FileType         string
	ExtractionMethod string
	Text             string
	Confidence       float64 // zero means 1.0
	Importance       float64 // zero means 0.5
	Tags             []string
	Chunking         chunker.Options
}

// Ingested lists the entries written for one document, in chunk order.
type Ingested struct {
	DocumentID string         `json:"document_id"`
	Entries    []*model.Entry `json:"entries"`
	Tokens     int            `json:"tokens"`
}

// IngestDocument chunks the document and writes one file_context entry per
// chunk. Each entry carries its neighbours as related chunks and its section
// heading as an anchor point. A failure part way leaves the chunks already
// written in place and reports how far it got.
func (m *Manager) IngestDocument(ctx context.Context, d Document) (*Ingested, error) {
	if d.UserID == "" {
		return nil, errors.New("ingest: user id is required")
	}
	chunks := chunker.Split(d.Text, d.Chunking)
	if len(chunks) == 0 {
		return nil, errors.New("ingest: document has no text")
	}
	if d.DocumentID == "" {
		d.DocumentID = uuid.NewString()
	}
	conf := d.Confidence
	if conf == 0 {
		conf = 1
	}
	imp := d.Importance
	if imp == 0 {
		imp = 0.5
	}

	out := &Ingested{DocumentID: d.DocumentID}
	for i, c := range chunks {
		rel := &model.FileRelationships{}
		if i > 0 {
			rel.RelatedChunkIDs = append(rel.RelatedChunkIDs, chunkID(d.DocumentID, i-1))
		}
		if i < len(chunks)-1 {
			rel.RelatedChunkIDs = append(rel.RelatedChunkIDs, chunkID(d.DocumentID, i+1))
		}
		if c.Section != "" {
			rel.AnchorPoints = []model.AnchorPoint{{
				Name:     c.Section,
				Location: fmt.Sprintf("lines %d-%d", c.StartLine, c.EndLine),
			}}
		}

		e, err := m.CreateMemory(ctx, d.UserID, d.SessionID, model.TypeFileContext, sectionCategory(c.Section), c.Text, CreateOptions{
			Importance: Float(imp),
			Tags:       d.Tags,
			File: &model.FileProvenance{
				DocumentID:       d.DocumentID,
				FileName:         d.FileName,
				FileType:         d.FileType,
				ChunkID:          chunkID(d.DocumentID, c.Seq),
				Page:             c.Page,
				Section:          c.Section,
				ExtractionMethod: d.ExtractionMethod,
				Confidence:       conf,
			},
			FileRelations: rel,
		})
		if err != nil {
			return out, fmt.Errorf("ingest chunk %d of %d: %w", i+1, len(chunks), err)
		}
		out.Entries = append(out.Entries, e)
		out.Tokens += e.TokenCount
	}

	log.Info().
		Str("document_id", d.DocumentID).
		Str("file_name", d.FileName).
		Int("chunks", len(out.Entries)).
		Int("tokens", out.Tokens).
		Msg("document_ingested")
	return out, nil
}

func chunkID(docID string, seq int) string {
	return fmt.Sprintf("%s#%d", docID, seq)
}

func sectionCategory(section string) string {
	return strings.ToLower(strings.TrimSpace(section))
}
