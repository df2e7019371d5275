package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AvatarStorage keeps user profile photos in a Spaces bucket so the web app
// can load them straight from the CDN instead of proxying Telegram on every
// request. Objects are written public-read under <avatarRoot>/<userID>.jpg.
type AvatarStorage struct {
	client     *s3.Client
	bucket     string
	region     string
	avatarRoot string
}

func NewAvatarStorage(key, secret, region, bucket, avatarRoot string) (*AvatarStorage, error) {
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
		return nil, fmt.Errorf("loading spaces config: %w", err)
	}

	return &AvatarStorage{
		client:     s3.NewFromConfig(cfg),
		bucket:     bucket,
		region:     region,
		avatarRoot: strings.Trim(avatarRoot, "/"),
	}, nil
}

func (s *AvatarStorage) key(userID int64) string {
	return fmt.Sprintf("%s/%d.jpg", s.avatarRoot, userID)
}

// URL returns the public CDN address of a user's stored photo.
func (s *AvatarStorage) URL(userID int64) string {
	return fmt.Sprintf("https://%s.%s.cdn.digitaloceanspaces.com/%s", s.bucket, s.region, s.key(userID))
}

// Put uploads a user's photo, replacing any previous object.
func (s *AvatarStorage) Put(ctx context.Context, userID int64, jpeg []byte) (string, error) {
	key := s.key(userID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(jpeg),
		ContentType: aws.String("image/jpeg"),
		ACL:         "public-read",
	})
	if err != nil {
		return "", fmt.Errorf("uploading avatar for user %d: %w", userID, err)
	}
	return s.URL(userID), nil
}

// Delete removes a user's stored photo, e.g. after they cleared it on
// Telegram.
func (s *AvatarStorage) Delete(ctx context.Context, userID int64) error {
	key := s.key(userID)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("deleting avatar for user %d: %w", userID, err)
	}
	return nil
}
