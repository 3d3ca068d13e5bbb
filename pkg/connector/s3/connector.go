// Package s3 connects the job to S3-compatible object storage. A
// BucketConnector is bound to one endpoint and one bucket; the job builds
// one for the source bucket and one for the target bucket.
package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/formats"
)

const (
	defaultRegion         = "us-east-1"
	defaultMaxAttempts    = 3
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	defaultMaxConcurrency = 4
)

// API is the subset of the S3 client the connector uses. It is satisfied by
// *s3.Client and by in-memory fakes in tests.
type API interface {
	awss3.ListObjectsV2APIClient
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

// Params are the four values that identify a bucket.
type Params struct {
	AccessKey   string
	SecretKey   string
	EndpointURL string
	Bucket      string
}

type options struct {
	region       string
	maxAttempts  int
	usePathStyle bool
	separator    rune
	logger       *zap.Logger
	client       API
}

// Option configures a BucketConnector.
type Option func(*options)

// WithRegion sets the signing region.
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

// WithMaxAttempts bounds the SDK retryer, including the first attempt.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithPathStyle selects path-style addressing (http://host/bucket/key).
func WithPathStyle(enabled bool) Option {
	return func(o *options) { o.usePathStyle = enabled }
}

// WithSeparator sets the default CSV delimiter for ReadCSV and WriteTable.
func WithSeparator(sep rune) Option {
	return func(o *options) {
		if sep != 0 {
			o.separator = sep
		}
	}
}

// WithLogger sets the connector's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClient replaces the SDK client, mainly for tests.
func WithClient(client API) Option {
	return func(o *options) { o.client = client }
}

// BucketConnector reads and writes objects of a single bucket.
type BucketConnector struct {
	params     Params
	client     API
	uploader   *manager.Uploader
	httpClient aws.HTTPClient
	separator  rune
	logger     *zap.Logger
}

// NewBucketConnector validates params and builds the SDK client. It does no
// network I/O; an unreachable endpoint surfaces on the first operation.
func NewBucketConnector(params Params, opts ...Option) (*BucketConnector, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	o := options{
		region:       defaultRegion,
		maxAttempts:  defaultMaxAttempts,
		usePathStyle: true,
		separator:    ',',
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &BucketConnector{
		params:    params,
		client:    o.client,
		separator: o.separator,
		logger: o.logger.With(
			zap.String("endpoint_url", params.EndpointURL),
			zap.String("bucket", params.Bucket)),
	}

	if c.client == nil {
		client, httpClient, err := newClient(params, o)
		if err != nil {
			return nil, err
		}
		c.client = client
		c.httpClient = httpClient
	}

	c.uploader = manager.NewUploader(c.client, func(u *manager.Uploader) {
		u.PartSize = defaultUploadPartSize
		u.Concurrency = defaultMaxConcurrency
	})

	c.logger.Debug("bucket connector created",
		zap.String("region", o.region),
		zap.Int("max_attempts", o.maxAttempts),
		zap.Bool("path_style", o.usePathStyle))
	return c, nil
}

func newClient(params Params, o options) (*awss3.Client, aws.HTTPClient, error) {
	// The buildable client is kept so the SDK can still apply its own
	// transport options, such as the AWS_CA_BUNDLE root CAs.
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(o.region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKey, params.SecretKey, "")),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), o.maxAttempts)
		}),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient()),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConnectorConstruction, "failed to load AWS configuration").
			WithDetail("endpoint_url", params.EndpointURL)
	}

	client := awss3.NewFromConfig(cfg, func(so *awss3.Options) {
		so.BaseEndpoint = aws.String(params.EndpointURL)
		so.UsePathStyle = o.usePathStyle
	})
	return client, cfg.HTTPClient, nil
}

func (p Params) validate() error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(p.AccessKey) == "" {
		missing = append(missing, "access_key")
	}
	if strings.TrimSpace(p.SecretKey) == "" {
		missing = append(missing, "secret_key")
	}
	if strings.TrimSpace(p.EndpointURL) == "" {
		missing = append(missing, "endpoint_url")
	}
	if strings.TrimSpace(p.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeConnectorConstruction, "missing connector parameters: %s",
			strings.Join(missing, ", ")).WithDetail("missing", missing)
	}

	u, err := url.Parse(p.EndpointURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Newf(errors.ErrorTypeConnectorConstruction, "endpoint url %q is not an absolute URL", p.EndpointURL)
	}
	return nil
}

// Bucket returns the bucket name.
func (c *BucketConnector) Bucket() string { return c.params.Bucket }

// EndpointURL returns the endpoint the connector talks to.
func (c *BucketConnector) EndpointURL() string { return c.params.EndpointURL }

// ListKeys returns every key in the bucket that starts with prefix.
func (c *BucketConnector) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	paginator := awss3.NewListObjectsV2Paginator(c.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(c.params.Bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list objects").
				WithDetail("bucket", c.params.Bucket).
				WithDetail("prefix", prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	c.logger.Debug("listed objects", zap.String("prefix", prefix), zap.Int("count", len(keys)))
	return keys, nil
}

// ReadObject returns the object's body. A missing key is reported as
// ErrorTypeNotFound.
func (c *BucketConnector) ReadObject(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(c.params.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "object not found").
				WithDetail("bucket", c.params.Bucket).
				WithDetail("key", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to get object").
			WithDetail("bucket", c.params.Bucket).
			WithDetail("key", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read object body").
			WithDetail("key", key)
	}
	return data, nil
}

// ReadCSV reads a CSV object into a table. A zero sep uses the connector's
// separator.
func (c *BucketConnector) ReadCSV(ctx context.Context, key string, sep rune) (*formats.Table, error) {
	data, err := c.ReadObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if sep == 0 {
		sep = c.separator
	}
	t, err := formats.DecodeCSV(bytes.NewReader(data), formats.WithSeparator(sep))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse CSV object").
			WithDetail("key", key)
	}
	c.logger.Debug("read CSV object", zap.String("key", key), zap.Int("rows", t.Len()))
	return t, nil
}

// WriteObject uploads body under key.
func (c *BucketConnector) WriteObject(ctx context.Context, key string, body []byte, contentType string) error {
	input := &awss3.PutObjectInput{
		Bucket: aws.String(c.params.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload object").
			WithDetail("bucket", c.params.Bucket).
			WithDetail("key", key)
	}

	c.logger.Debug("uploaded object", zap.String("key", key), zap.Int("bytes", len(body)))
	return nil
}

// WriteTable encodes t as format ("csv" or "parquet") and uploads it under
// key. Any other format fails with ErrorTypeWrongFormat before anything is
// written. CSV output uses the connector's separator unless opts override it.
func (c *BucketConnector) WriteTable(ctx context.Context, t *formats.Table, key, format string, opts ...formats.Option) error {
	f, err := formats.ParseFormat(format)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrongFormat, "cannot write table").
			WithDetail("key", key)
	}

	data, err := t.Encode(f, append([]formats.Option{formats.WithSeparator(c.separator)}, opts...)...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode table").
			WithDetail("format", string(f))
	}
	return c.WriteObject(ctx, key, data, f.ContentType())
}

// Close releases idle HTTP connections held by the SDK client.
func (c *BucketConnector) Close() error {
	if closer, ok := c.httpClient.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}
