package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const MaxUploadSizeBytes int64 = 10 * 1024 * 1024

var attachmentMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/heic":      true,
	"image/webp":      true,
}

// AllowedAttachmentMimeType reports whether mimeType may be attached to a report.
func AllowedAttachmentMimeType(mimeType string) bool {
	return attachmentMimeTypes[strings.ToLower(strings.TrimSpace(mimeType))]
}

// DetectMimeType sniffs data, falling back to the declared type when sniffing is inconclusive.
func DetectMimeType(data []byte, declared string) string {
	sniffed := http.DetectContentType(data)
	if sniffed == "application/octet-stream" && declared != "" {
		return declared
	}
	return sniffed
}

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (service account / GOOGLE_APPLICATION_CREDENTIALS).
	// To provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func gcsBucket() (string, error) {
	bucketName := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	return bucketName, nil
}

// GCSObjectStorage stores report artifacts in the GCS_BUCKET bucket.
type GCSObjectStorage struct{}

func (GCSObjectStorage) Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	if err := UploadBytesToGCS(ctx, objectName, data, contentType); err != nil {
		return "", err
	}
	return ReportObjectReference(objectName), nil
}

func (GCSObjectStorage) Delete(ctx context.Context, reference string) error {
	_, objectName, ok := ParseReportObjectReference(reference)
	if !ok {
		return fmt.Errorf("invalid object reference %q", reference)
	}
	return DeleteObjectFromGCS(ctx, objectName)
}

func (GCSObjectStorage) Get(ctx context.Context, reference string) ([]byte, error) {
	_, objectName, ok := ParseReportObjectReference(reference)
	if !ok {
		return nil, fmt.Errorf("invalid object reference %q", reference)
	}
	return ReadObjectFromGCS(ctx, objectName)
}

func UploadBytesToGCS(ctx context.Context, objectName string, data []byte, contentType string) error {
	if int64(len(data)) > MaxUploadSizeBytes {
		return fmt.Errorf("file size exceeds %dMB limit", MaxUploadSizeBytes/(1024*1024))
	}
	bucketName, err := gcsBucket()
	if err != nil {
		return err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to upload bytes to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

func ReadObjectFromGCS(ctx context.Context, objectName string) ([]byte, error) {
	bucketName, err := gcsBucket()
	if err != nil {
		return nil, err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	reader, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, MaxUploadSizeBytes+1))
}

// DeleteObjectFromGCS deletes an object; a missing object counts as deleted.
func DeleteObjectFromGCS(ctx context.Context, objectName string) error {
	bucketName, err := gcsBucket()
	if err != nil {
		return err
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	err = client.Bucket(bucketName).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}
