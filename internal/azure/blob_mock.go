package azure

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MockBlobStorageClient keeps archived reports in memory
type MockBlobStorageClient struct {
	mu      sync.RWMutex
	storage map[string][]byte
	logger  *zap.Logger
}

// NewMockBlobStorageClient creates a new in-memory report archive
func NewMockBlobStorageClient(logger *zap.Logger) *MockBlobStorageClient {
	return &MockBlobStorageClient{
		storage: make(map[string][]byte),
		logger:  logger,
	}
}

func (c *MockBlobStorageClient) UploadPDF(ctx context.Context, filename string, data []byte) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is required")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("report is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blobName := reportBlobName(filename)
	c.storage[blobName] = bytes.Clone(data)

	if c.logger != nil {
		c.logger.Debug("mock: report archived",
			zap.String("blob_name", blobName),
			zap.Int("size_bytes", len(data)),
		)
	}

	return blobName, nil
}

func (c *MockBlobStorageClient) DownloadPDF(ctx context.Context, blobName string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, exists := c.storage[blobName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, blobName)
	}
	return bytes.Clone(data), nil
}

// ListBlobs returns the archived blob names in lexical order
func (c *MockBlobStorageClient) ListBlobs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blobs := make([]string, 0, len(c.storage))
	for name := range c.storage {
		blobs = append(blobs, name)
	}
	sort.Strings(blobs)
	return blobs
}
