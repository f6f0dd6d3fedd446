// Package avatar はS3互換ストレージ上のアバター画像を管理する。
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/hitoshi/hr360/internal/model"
	"github.com/hitoshi/hr360/internal/security"
)

const (
	// uploadURLTTL は署名付きアップロードURLの有効期間。
	uploadURLTTL = 15 * time.Minute
	// maxMirrorBytes はIdPのプロフィール画像を複製する際の上限サイズ。
	maxMirrorBytes = 2 << 20
	fetchTimeout   = 10 * time.Second
)

// allowedContentTypes はアップロードを許可する画像形式と拡張子。
var allowedContentTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ErrUnsupportedContentType は許可されていない画像形式の場合のエラー。
var ErrUnsupportedContentType = errors.New("unsupported image content type")

// Config はアバターストレージの設定。
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string // MinIOなどS3互換ストレージのエンドポイント。空ならAWS
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // 公開URLのベース。空ならエンドポイントとバケットから組み立てる
}

// UploadURL は署名付きアップロードURLの発行結果。
type UploadURL struct {
	Key       string      `json:"key"`
	UploadURL string      `json:"uploadUrl"`
	PublicURL string      `json:"publicUrl"`
	Method    string      `json:"method"`
	Headers   http.Header `json:"headers,omitempty"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type putPresigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var loadAWSConfig = awsconfig.LoadDefaultConfig

// Storage はアバター画像のアップロードURL発行と、外部画像の複製を行う。
type Storage struct {
	cfg       Config
	objects   objectPutter
	presigner putPresigner
	guard     security.URLGuard
	now       func() time.Time
}

// New はS3クライアントを構築してStorageを生成する。
func New(ctx context.Context, cfg Config, guard security.URLGuard) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, model.NewAvatarStorageDisabledError()
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newStorage(cfg, client, s3.NewPresignClient(client), guard), nil
}

func newStorage(cfg Config, objects objectPutter, presigner putPresigner, guard security.URLGuard) *Storage {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Storage{cfg: cfg, objects: objects, presigner: presigner, guard: guard, now: time.Now}
}

// PresignUpload はユーザーのアバター画像をPUTする署名付きURLを発行する。
func (s *Storage) PresignUpload(ctx context.Context, userID, contentType string) (*UploadURL, error) {
	ext, err := extensionFor(contentType)
	if err != nil {
		return nil, model.NewBadRequestError("対応していない画像形式です")
	}
	key := s.newKey(userID, ext)

	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(uploadURLTTL))
	if err != nil {
		return nil, fmt.Errorf("presign put object: %w", err)
	}

	return &UploadURL{
		Key:       key,
		UploadURL: req.URL,
		PublicURL: s.PublicURL(key),
		Method:    req.Method,
		Headers:   req.SignedHeader,
		ExpiresAt: s.now().Add(uploadURLTTL),
	}, nil
}

// Mirror は外部の画像URLをSSRF対策済みクライアントで取得し、ストレージへ保存して公開URLを返す。
func (s *Storage) Mirror(ctx context.Context, userID, sourceURL string) (string, error) {
	if err := s.guard.ValidateURL(sourceURL); err != nil {
		return "", fmt.Errorf("unsafe avatar url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("create avatar request: %w", err)
	}
	resp, err := s.guard.NewSafeClient(fetchTimeout).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch avatar: unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	ext, err := extensionFor(contentType)
	if err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMirrorBytes+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if len(body) > maxMirrorBytes {
		return "", fmt.Errorf("avatar exceeds %d bytes", maxMirrorBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	key := s.newKey(userID, ext)
	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(mediaType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}
	return s.PublicURL(key), nil
}

// PublicURL はオブジェクトキーの公開URLを返す。
func (s *Storage) PublicURL(key string) string {
	switch {
	case s.cfg.PublicBaseURL != "":
		return s.cfg.PublicBaseURL + "/" + key
	case s.cfg.Endpoint != "":
		return s.cfg.Endpoint + "/" + s.cfg.Bucket + "/" + key
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
	}
}

// Owns はURLがこのストレージの公開URLかどうかを返す。
func (s *Storage) Owns(rawURL string) bool {
	return strings.HasPrefix(rawURL, s.PublicURL(""))
}

func (s *Storage) newKey(userID, ext string) string {
	return fmt.Sprintf("avatars/%s/%s.%s", userID, uuid.NewString(), ext)
}

func extensionFor(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", ErrUnsupportedContentType
	}
	ext, ok := allowedContentTypes[strings.ToLower(mediaType)]
	if !ok {
		return "", ErrUnsupportedContentType
	}
	return ext, nil
}
