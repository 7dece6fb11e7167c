package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// EvidenceArchive range les payloads bruts des événements mis en revue manuelle
type EvidenceArchive struct {
	client *minio.Client
	bucket string
}

func NewEvidenceArchive(client *minio.Client, bucket string) *EvidenceArchive {
	return &EvidenceArchive{client: client, bucket: bucket}
}

func (a *EvidenceArchive) Archive(ctx context.Context, key string, payload []byte) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("MinIO non initialisé")
	}
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return err
	}
	log.Printf("🗄️ Preuve archivée : %s/%s", a.bucket, key)
	return nil
}

// SignedURL : lien temporaire de consultation pour les admins
func (a *EvidenceArchive) SignedURL(ctx context.Context, key string, duration time.Duration) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("MinIO non initialisé")
	}
	presignedURL, err := a.client.PresignedGetObject(ctx, a.bucket, key, duration, make(url.Values))
	if err != nil {
		return "", err
	}
	return presignedURL.String(), nil
}
