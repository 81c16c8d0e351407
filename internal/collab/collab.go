// Package collab holds the clients and error handlers for the downstream
// collaborator services (metadata, download, storage). Each collaborator
// is an opaque HTTP service; its client knows the endpoint, its handler
// knows the error vocabulary.
package collab

import (
	"context"

	"github.com/dvtran/ytarchive/internal/core/domain"
)

// MetadataClient talks to the metadata service.
type MetadataClient interface {
	// FetchVideo resolves metadata for a single video.
	FetchVideo(ctx context.Context, videoID string) (*domain.VideoMeta, error)

	// FetchPlaylist resolves a playlist into its ordered videos.
	FetchPlaylist(ctx context.Context, playlistID string) (*domain.Playlist, error)
}

// DownloadClient talks to the download service.
type DownloadClient interface {
	// Download fetches one video and returns the produced file path.
	Download(ctx context.Context, videoID string, opts domain.JobOptions) (string, error)
}

// StorageClient talks to the storage service.
type StorageClient interface {
	// Store moves a downloaded file and its metadata into the archive.
	Store(ctx context.Context, videoID, path string, meta *domain.VideoMeta) error
}
