package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/transaction-classifier/internal/classify"
)

const objectPrefix = "classifications"

// ObjectWriter stores a blob under a name.
type ObjectWriter interface {
	WriteObject(ctx context.Context, name string, data []byte, contentType string) error
}

// BucketWriter writes objects into a Cloud Storage bucket.
type BucketWriter struct {
	client *storage.Client
	bucket string
}

// NewBucketWriter uses Application Default Credentials to reach bucket.
func NewBucketWriter(ctx context.Context, bucket string) (*BucketWriter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewBucketWriter: create storage client: %w", err)
	}
	return &BucketWriter{client: client, bucket: bucket}, nil
}

// Close closes the storage client.
func (b *BucketWriter) Close() error {
	return b.client.Close()
}

// WriteObject implements ObjectWriter.
func (b *BucketWriter) WriteObject(ctx context.Context, name string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("WriteObject: write %s: %w", name, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("WriteObject: finalize %s: %w", name, err)
	}
	return nil
}

type archivedFailure struct {
	TransactionID string `json:"transaction_id"`
	Stage         string `json:"stage"`
	Error         string `json:"error"`
}

type archivedReport struct {
	*classify.Report
	Failed   int               `json:"failed"`
	Failures []archivedFailure `json:"failures"`
}

// GCSSink archives each report as a JSON object.
type GCSSink struct {
	writer ObjectWriter
}

// NewGCSSink creates a sink that writes through w.
func NewGCSSink(w ObjectWriter) *GCSSink {
	return &GCSSink{writer: w}
}

// ObjectName returns classifications/<yyyy>/<mm>/<dd>/<job>.json for the report's finish date.
func ObjectName(report *classify.Report) string {
	t := report.FinishedAt.UTC()
	return path.Join(objectPrefix, t.Format("2006/01/02"), report.JobID+".json")
}

// Record implements classify.ResultSink.
func (s *GCSSink) Record(ctx context.Context, report *classify.Report) error {
	out := archivedReport{
		Report:   report,
		Failed:   report.Failed(),
		Failures: make([]archivedFailure, 0, len(report.Failures)),
	}
	for _, f := range report.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		out.Failures = append(out.Failures, archivedFailure{
			TransactionID: f.TransactionID,
			Stage:         f.Stage,
			Error:         msg,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("GCSSink.Record: marshal report: %w", err)
	}

	name := ObjectName(report)
	if err := s.writer.WriteObject(ctx, name, data, "application/json"); err != nil {
		return fmt.Errorf("GCSSink.Record: %w", err)
	}
	return nil
}
