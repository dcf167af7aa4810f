package plan

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the part of the S3 client the loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads plan files from local paths and s3://bucket/key references.
type Loader struct {
	region   string
	endpoint string

	mu     sync.Mutex
	client ObjectGetter
}

// NewLoader creates a loader. The S3 client is created on first use. If
// endpoint is non-empty, path-style addressing is enabled (for MinIO and
// similar).
func NewLoader(region, endpoint string) *Loader {
	return &Loader{region: region, endpoint: endpoint}
}

// WithClient makes the loader fetch s3:// references through c.
func (l *Loader) WithClient(c ObjectGetter) *Loader {
	l.mu.Lock()
	l.client = c
	l.mu.Unlock()
	return l
}

// Load reads and parses the plan at ref.
func (l *Loader) Load(ctx context.Context, ref string) (*Plan, error) {
	var (
		data []byte
		err  error
	)
	if bucket, key, ok := parseS3Ref(ref); ok {
		data, err = l.fetch(ctx, bucket, key)
	} else {
		data, err = os.ReadFile(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", ref, err)
	}
	return Parse(ref, data)
}

func (l *Loader) fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	client, err := l.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (l *Loader) s3Client(ctx context.Context) (ObjectGetter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(l.region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	var s3opts []func(*s3.Options)
	if l.endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(l.endpoint)
			o.UsePathStyle = true
		})
	}
	l.client = s3.NewFromConfig(cfg, s3opts...)
	return l.client, nil
}

// parseS3Ref splits s3://bucket/key.
func parseS3Ref(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
