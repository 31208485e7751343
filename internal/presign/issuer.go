package presign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-lambda-go/events"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/httpapi"
	"resume-pipeline/internal/storage"
)

const maxKeyBytes = 1024

var ErrInvalidKey = errors.New("invalid object key")

type URLSigner interface {
	PresignPut(ctx context.Context, bucket, key string, expiry time.Duration) (*storage.PresignedRequest, error)
}

// Grant is a time-limited permission to PUT one object.
type Grant struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Issuer struct {
	cfg    config.Presign
	signer URLSigner
	log    *slog.Logger
}

func NewIssuer(cfg config.Presign, signer URLSigner, log *slog.Logger) *Issuer {
	if log == nil {
		log = slog.Default()
	}
	return &Issuer{cfg: cfg, signer: signer, log: log}
}

// ResolveKey validates a client-supplied object name and places it under the
// upload prefix. Names already under the prefix are kept as-is.
func (i *Issuer) ResolveKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: object_name is required", ErrInvalidKey)
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: must be a relative path", ErrInvalidKey)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: contains control characters", ErrInvalidKey)
		}
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: empty or relative path segment", ErrInvalidKey)
		}
	}

	key := name
	if !strings.HasPrefix(key, i.cfg.UploadPrefix) {
		key = i.cfg.UploadPrefix + key
	}
	if len(key) > maxKeyBytes {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, maxKeyBytes)
	}

	if len(i.cfg.AllowedExtensions) > 0 {
		ext := strings.ToLower(path.Ext(key))
		if !slices.Contains(i.cfg.AllowedExtensions, ext) {
			return "", fmt.Errorf("%w: extension %q not allowed (allowed: %s)", ErrInvalidKey, ext, strings.Join(i.cfg.AllowedExtensions, ", "))
		}
	}
	return key, nil
}

func (i *Issuer) Issue(ctx context.Context, name string) (*Grant, error) {
	key, err := i.ResolveKey(name)
	if err != nil {
		return nil, err
	}
	req, err := i.signer.PresignPut(ctx, i.cfg.BucketName, key, i.cfg.Expiry)
	if err != nil {
		return nil, err
	}
	return &Grant{
		URL:       req.URL,
		Key:       key,
		Method:    req.Method,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

// Handle serves GET /get-s3-presigned-url?object_name=<name>.
func (i *Issuer) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if m := httpapi.Method(req); m != "" && m != http.MethodGet {
		return httpapi.Error(http.StatusMethodNotAllowed, "method not allowed", nil)
	}

	name := httpapi.Query(req, "object_name", "key")
	grant, err := i.Issue(ctx, name)
	if errors.Is(err, ErrInvalidKey) {
		return httpapi.Error(http.StatusBadRequest, "invalid_object_name", err)
	}
	if err != nil {
		i.log.Error("presign failed", "bucket", i.cfg.BucketName, "object_name", name, "error", err)
		return httpapi.Error(http.StatusInternalServerError, "presign_failed", err)
	}

	i.log.Info("issued upload url", "bucket", i.cfg.BucketName, "key", grant.Key, "expires_at", grant.ExpiresAt)
	return httpapi.OK(grant)
}
