package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// Corpus reads indexed inspiration records written by the ingestion pipeline.
type Corpus struct {
	pool  querier
	table string
}

// NewCorpus wraps an open pool. The table must expose id, url, title,
// description, screenshot, industry, styles (text[]), embedding (float4[])
// and a monotonically increasing position column.
func NewCorpus(pool querier, table string) (*Corpus, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "inspirations")
	if err != nil {
		return nil, err
	}
	return &Corpus{pool: pool, table: table}, nil
}

// Records returns every record in insertion order.
func (c *Corpus) Records(ctx context.Context) ([]inspiration.InspirationRecord, error) {
	query := fmt.Sprintf(`
SELECT id, COALESCE(url, ''), COALESCE(title, ''), COALESCE(description, ''),
	COALESCE(screenshot, ''), COALESCE(industry, ''),
	COALESCE(styles, '{}'::text[]), COALESCE(embedding, '{}'::float4[])
FROM %s
ORDER BY position`, c.table)

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	var records []inspiration.InspirationRecord
	for rows.Next() {
		var (
			rec       inspiration.InspirationRecord
			embedding []float32
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.URL,
			&rec.Title,
			&rec.Description,
			&rec.ScreenshotRef,
			&rec.Industry,
			&rec.Styles,
			&embedding,
		); err != nil {
			return nil, fmt.Errorf("scan corpus row: %w", err)
		}
		if len(embedding) > 0 {
			rec.Embedding = inspiration.Vector(embedding)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpus: %w", err)
	}
	return records, nil
}

// Close releases the underlying pool.
func (c *Corpus) Close() {
	c.pool.Close()
}
