// Package azure provides the Azure Blob Storage implementation of the
// ObjectStore capability.
package azure

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/ternarybob/arbor"

	"github.com/aubreys-it/en-export/internal/common"
)

// BlobStore implements interfaces.ObjectStore backed by an Azure
// storage account container.
type BlobStore struct {
	client    *azblob.Client
	container string
	logger    arbor.ILogger
}

// NewBlobStore creates a blob store from the configured connection
// string and container name.
func NewBlobStore(cfg common.StorageConfig, logger arbor.ILogger) (*BlobStore, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStore{
		client:    client,
		container: cfg.Container,
		logger:    logger,
	}, nil
}

// EnsureContainer creates the destination container if absent. An
// already-existing container is not an error, so the call is safe on
// every run and under concurrent runs.
func (s *BlobStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil
		}
		return fmt.Errorf("failed to ensure container %s: %w", s.container, err)
	}

	s.logger.Info().Str("container", s.container).Msg("Storage container created")
	return nil
}

// Upload streams body to the named blob, overwriting any existing blob
// of that name, and returns the blob URL.
func (s *BlobStore) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	if _, err := s.client.UploadStream(ctx, s.container, name, body, nil); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}

	url := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(name).
		URL()

	s.logger.Info().
		Str("container", s.container).
		Str("object", name).
		Msg("Report uploaded")

	return url, nil
}
