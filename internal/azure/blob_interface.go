package azure

import (
	"context"
	"errors"
)

// ErrReportNotFound is returned when no report is archived under a blob name
var ErrReportNotFound = errors.New("report not found")

// BlobStorage is the report archive used by the report service
type BlobStorage interface {
	UploadPDF(ctx context.Context, filename string, data []byte) (string, error)
	DownloadPDF(ctx context.Context, blobName string) ([]byte, error)
}

var (
	_ BlobStorage = (*BlobStorageClient)(nil)
	_ BlobStorage = (*MockBlobStorageClient)(nil)
)
