package azure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBlobStorageClient(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name          string
		accountName   string
		accountKey    string
		containerName string
		wantErr       bool
	}{
		{
			name:          "valid configuration",
			accountName:   "testaccount",
			accountKey:    "dGVzdGtleQ==", // base64 encoded "testkey"
			containerName: "reports",
			wantErr:       false,
		},
		{
			name:          "missing account name",
			accountKey:    "dGVzdGtleQ==",
			containerName: "reports",
			wantErr:       true,
		},
		{
			name:          "missing account key",
			accountName:   "testaccount",
			containerName: "reports",
			wantErr:       true,
		},
		{
			name:        "missing container name",
			accountName: "testaccount",
			accountKey:  "dGVzdGtleQ==",
			wantErr:     true,
		},
		{
			name:          "invalid account key format",
			accountName:   "testaccount",
			accountKey:    "invalid-key-format",
			containerName: "reports",
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewBlobStorageClient(tt.accountName, tt.accountKey, tt.containerName, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.containerName, client.containerName)
		})
	}
}

func TestBlobStorageClient_RejectsBeforeNetwork(t *testing.T) {
	client, err := NewBlobStorageClient("testaccount", "dGVzdGtleQ==", "reports", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.UploadPDF(ctx, "", []byte("%PDF"))
	assert.Error(t, err)

	_, err = client.UploadPDF(ctx, "report.pdf", nil)
	assert.Error(t, err)

	_, err = client.DownloadPDF(ctx, "")
	assert.Error(t, err)
}

func TestBlobStorageClient_ContextCancellation(t *testing.T) {
	client, err := NewBlobStorageClient("testaccount", "dGVzdGtleQ==", "reports", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.UploadPDF(ctx, "test.pdf", []byte("data"))
	assert.Error(t, err, "UploadPDF() should fail with cancelled context")

	_, err = client.DownloadPDF(ctx, "reports/test.pdf")
	assert.Error(t, err, "DownloadPDF() should fail with cancelled context")
}

func TestReportFileName(t *testing.T) {
	at := time.Date(2025, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -5*3600))

	assert.Equal(t, "subject-1/20250310_r1.pdf", ReportFileName("subject-1", "r1", at))
	assert.Equal(t, "a_b/20250310_r1.pdf", ReportFileName("a/b", "r1", at), "subject IDs never add directory levels")
}

func TestReportBlobName(t *testing.T) {
	name, ok := ReportBlobName("subject-1", "20250310_r1.pdf")
	assert.True(t, ok)
	assert.Equal(t, "reports/subject-1/20250310_r1.pdf", name)

	for _, segs := range [][2]string{{"..", "x.pdf"}, {"subject-1", ".."}, {"", "x.pdf"}, {"a", "b/c.pdf"}, {"a", "b\\c.pdf"}} {
		_, ok := ReportBlobName(segs[0], segs[1])
		assert.False(t, ok, "%q", segs)
	}
}

func TestMockBlobStorageClient_RoundTrip(t *testing.T) {
	mock := NewMockBlobStorageClient(zap.NewNop())
	ctx := context.Background()

	name, err := mock.UploadPDF(ctx, "subject-1/20250310_r1.pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	assert.Equal(t, "reports/subject-1/20250310_r1.pdf", name)

	data, err := mock.DownloadPDF(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.3"), data)

	data[0] = 'X'
	again, err := mock.DownloadPDF(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, byte('%'), again[0], "stored bytes must not alias returned slices")

	assert.Equal(t, []string{name}, mock.ListBlobs())

	_, err = mock.DownloadPDF(ctx, "reports/missing.pdf")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestToPtr(t *testing.T) {
	ptr := toPtr("application/pdf")
	require.NotNil(t, ptr)
	assert.Equal(t, "application/pdf", *ptr)
}
