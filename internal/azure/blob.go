package azure

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// reportPrefix is the virtual directory generated reports are written under
const reportPrefix = "reports"

// BlobStorageClient archives generated adherence reports in Azure Blob Storage
type BlobStorageClient struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger
}

// NewBlobStorageClient creates a new Azure Blob Storage client
func NewBlobStorageClient(accountName, accountKey, containerName string, logger *zap.Logger) (*BlobStorageClient, error) {
	if accountName == "" || accountKey == "" || containerName == "" {
		return nil, fmt.Errorf("accountName, accountKey, and containerName are required")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStorageClient{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

// ReportFileName builds the archive name of a subject's report
func ReportFileName(subjectID, reportID string, generatedAt time.Time) string {
	subject := strings.NewReplacer("/", "_", "\\", "_").Replace(subjectID)
	return path.Join(subject, fmt.Sprintf("%s_%s.pdf", generatedAt.UTC().Format("20060102"), reportID))
}

// ReportBlobName maps the subject and file segments of a report location
// back to its blob name. ok is false for segments that would leave the
// report prefix.
func ReportBlobName(subject, file string) (name string, ok bool) {
	for _, seg := range []string{subject, file} {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "/\\") {
			return "", false
		}
	}
	return reportBlobName(path.Join(subject, file)), true
}

func reportBlobName(filename string) string {
	return path.Join(reportPrefix, filename)
}

// UploadPDF uploads a report and returns its blob name
func (c *BlobStorageClient) UploadPDF(ctx context.Context, filename string, data []byte) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is required")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("report is empty")
	}

	blobName := reportBlobName(filename)
	c.logger.Info("uploading report to blob storage",
		zap.String("blob_name", blobName),
		zap.Int("size_bytes", len(data)),
	)

	blobClient := c.client.ServiceClient().NewContainerClient(c.containerName).NewBlockBlobClient(blobName)

	_, err := blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"contenttype": toPtr("application/pdf"),
		},
	})
	if err != nil {
		c.logger.Error("failed to upload report",
			zap.String("blob_name", blobName),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	return blobName, nil
}

// DownloadPDF downloads a previously archived report
func (c *BlobStorageClient) DownloadPDF(ctx context.Context, blobName string) ([]byte, error) {
	if blobName == "" {
		return nil, fmt.Errorf("blob name is required")
	}

	blobClient := c.client.ServiceClient().NewContainerClient(c.containerName).NewBlockBlobClient(blobName)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, blobName)
	}
	if err != nil {
		c.logger.Error("failed to download report",
			zap.String("blob_name", blobName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to download report: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("failed to read report data",
			zap.String("blob_name", blobName),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to read report data: %w", err)
	}

	return data, nil
}

func toPtr(s string) *string {
	return &s
}
