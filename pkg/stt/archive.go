package stt

import (
	"context"
	"github.com/minio/minio-go/v7"
)

type MinIOArchiver struct {
	client *minio.Client
	bucket string
}

func NewMinIOArchiver(client *minio.Client, bucket string) *MinIOArchiver {
	return &MinIOArchiver{client: client, bucket: bucket}
}

func (a *MinIOArchiver) Archive(ctx context.Context, key, path string) error {
	_, err := a.client.FPutObject(ctx, a.bucket, key, path, minio.PutObjectOptions{
		ContentType: "audio/wav",
	})
	return err
}
