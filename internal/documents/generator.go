package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

type Generator struct {
	storage ObjectStorage
	records store.DocumentStore
	now     func() time.Time
}

func NewGenerator(storage ObjectStorage, records store.DocumentStore) *Generator {
	return &Generator{
		storage: storage,
		records: records,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ObjectKey names the stored file of a bill document.
func ObjectKey(kind domain.BillKind, billNumber string, at time.Time) string {
	if kind == domain.BillKindExport {
		return fmt.Sprintf("exports/bill-%s-%d.pdf", billNumber, at.UnixMilli())
	}
	return fmt.Sprintf("imports/import-bill-%s-%d.pdf", billNumber, at.UnixMilli())
}

// Generate renders the bill, stores it and records where it went. It
// returns the public URL of the PDF.
func (g *Generator) Generate(ctx context.Context, job domain.DocumentJob) (string, error) {
	data, err := Render(job)
	if err != nil {
		return "", err
	}

	now := g.now()
	url, err := g.storage.Put(ctx, ObjectKey(job.Kind, job.BillNumber, now), data, "application/pdf")
	if err != nil {
		return "", err
	}

	record := domain.DocumentRecord{
		ID:         uuid.NewString(),
		BillNumber: job.BillNumber,
		Kind:       job.Kind,
		PDFURL:     url,
		CreatedBy:  job.Requester,
		CreatedAt:  now,
	}
	if err := g.records.CreateDocumentRecord(ctx, record); err != nil {
		return "", fmt.Errorf("documents: record %s: %w", job.BillNumber, err)
	}
	return url, nil
}
