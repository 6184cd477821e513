package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cursewell/cursewell/cursewell/database/repositories"
)

// ArchiveService exports resolved curses to object storage before
// reclamation deletes them, so the pool's history is not lost.
type ArchiveService struct {
	client *s3.Client
	bucket string
	region string
	prefix string
	curses repositories.CurseRepository
}

func NewArchiveService(key, secret, region, bucket, prefix string, curses repositories.CurseRepository) *ArchiveService {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		panic(fmt.Sprintf("Unable to load archive storage config: %v", err))
	}

	return &ArchiveService{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		region: region,
		prefix: strings.TrimPrefix(prefix, "/"),
		curses: curses,
	}
}

type archivedCurse struct {
	CurseID  int64  `json:"curse_id"`
	Curse    string `json:"curse"`
	UserID   *int64 `json:"user_id"`
	Blessing *int   `json:"blessing"`
	PulledBy *int64 `json:"pulled_by"`
}

// ExportBlessed uploads a snapshot of all blessed curses and returns the
// object key and the number of rows exported.
func (s *ArchiveService) ExportBlessed(ctx context.Context) (string, int, error) {
	curses, err := s.curses.GetBlessed(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read blessed curses: %w", err)
	}

	records := make([]archivedCurse, 0, len(curses))
	for _, c := range curses {
		records = append(records, archivedCurse{
			CurseID:  c.ID,
			Curse:    c.Curse,
			UserID:   c.UserID,
			Blessing: c.Blessing,
			PulledBy: c.PulledBy,
		})
	}

	body, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal archive: %w", err)
	}

	key := fmt.Sprintf("%s/curses-%s.json", s.prefix, time.Now().UTC().Format("20060102-150405"))
	key = strings.TrimPrefix(key, "/")

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload archive: %w", err)
	}

	slog.Info("Archive exported",
		slog.String("type", "sys"),
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("curses", len(records)))
	return key, len(records), nil
}
