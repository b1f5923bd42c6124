// Package s3 stores chunks in a bucket on an S3 compatible service
package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/config/configstruct"
	"github.com/ddrive/ddrive/fs/fserrors"
	"github.com/ddrive/ddrive/fs/fshttp"
	"github.com/ddrive/ddrive/lib/readers"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Constants
const (
	minChunkSize     = fs.SizeSuffix(s3manager.MinUploadPartSize)
	defaultChunkSize = 5 * fs.Mebi
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "s3",
		Description: "Amazon S3 compliant storage",
		NewBackend:  NewBackend,
		Options: fs.Options{{
			Name:     "bucket",
			Help:     "Bucket the chunks are stored in. It must already exist.",
			Required: true,
		}, {
			Name: "prefix",
			Help: "Prefix for every key ddrive makes in the bucket.",
		}, {
			Name: "access_key_id",
			Help: "AWS Access Key ID.\nLeave blank to use the environment or the shared credentials file.",
		}, {
			Name: "secret_access_key",
			Help: "AWS Secret Access Key (password).",
		}, {
			Name:    "region",
			Help:    "Region to connect to.",
			Default: "us-east-1",
		}, {
			Name: "endpoint",
			Help: "Endpoint for S3 API.\nLeave blank if using AWS to use the default endpoint for the region.",
		}, {
			Name:    "force_path_style",
			Help:    "If true use path style access, if false use virtual hosted style.",
			Default: "true",
		}, {
			Name:    "chunk_size",
			Help:    "Chunks larger than this are uploaded as multipart uploads with parts of this size.",
			Default: defaultChunkSize.String(),
		}, {
			Name: "capacity",
			Help: "Bytes ddrive may store in the bucket.\nLeave blank to use the default capacity.",
		}},
	})
}

// Options defines the configuration for this backend
type Options struct {
	Bucket          string        `config:"bucket"`
	Prefix          string        `config:"prefix"`
	AccessKeyID     string        `config:"access_key_id"`
	SecretAccessKey string        `config:"secret_access_key"`
	Region          string        `config:"region"`
	Endpoint        string        `config:"endpoint"`
	ForcePathStyle  bool          `config:"force_path_style"`
	ChunkSize       fs.SizeSuffix `config:"chunk_size"`
	Capacity        fs.SizeSuffix `config:"capacity"`
}

// Fs represents a bucket holding chunks
type Fs struct {
	name     string              // name of this account
	opt      Options             // parsed options
	c        *s3.S3              // the connection to the s3 server
	uploader *s3manager.Uploader // multipart uploads
}

// retryErrorCodes is a slice of error codes that we will retry
var retryErrorCodes = []int{
	429, // Too Many Requests
	500, // Internal Server Error - "We encountered an internal error. Please try again."
	503, // Service Unavailable/Slow Down - "Reduce your request rate"
}

// shouldRetry returns a boolean as to whether this err deserves to be
// retried.
func shouldRetry(err error) (bool, error) {
	if awsError, ok := err.(awserr.Error); ok {
		if fserrors.ShouldRetry(awsError.OrigErr()) {
			return true, err
		}
		if awsError.Code() == "RequestTimeout" {
			return true, err
		}
		if reqErr, ok := err.(awserr.RequestFailure); ok {
			for _, e := range retryErrorCodes {
				if reqErr.StatusCode() == e {
					return true, err
				}
			}
		}
	}
	return fserrors.ShouldRetry(err), err
}

// resolver overrides the endpoint for the services set in it
type resolver map[string]string

var defaultResolver = endpoints.DefaultResolver()

// Add a service to the resolver, ignoring empty urls
func (r resolver) addService(service, url string) {
	if url == "" {
		return
	}
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	r[service] = url
}

// EndpointFor return the endpoint for s3 if set or the default if not
func (r resolver) EndpointFor(service, region string, opts ...func(*endpoints.Options)) (endpoints.ResolvedEndpoint, error) {
	url, ok := r[service]
	if ok {
		return endpoints.ResolvedEndpoint{
			URL:           url,
			SigningRegion: region,
		}, nil
	}
	return defaultResolver.EndpointFor(service, region, opts...)
}

// s3Connection makes a connection to s3
func s3Connection(ctx context.Context, opt *Options, client *http.Client) (*s3.S3, error) {
	ci := fs.GetConfig(ctx)
	v := credentials.Value{
		AccessKeyID:     opt.AccessKeyID,
		SecretAccessKey: opt.SecretAccessKey,
	}
	// first provider to supply a credential set "wins"
	cred := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.StaticProvider{Value: v},
		&credentials.EnvProvider{},
		&credentials.SharedCredentialsProvider{},
	})
	switch {
	case v.AccessKeyID == "" && v.SecretAccessKey == "":
		// use the environment or shared file
	case v.AccessKeyID == "":
		return nil, errors.New("access_key_id not found")
	case v.SecretAccessKey == "":
		return nil, errors.New("secret_access_key not found")
	}
	if opt.Region == "" {
		opt.Region = "us-east-1"
	}
	awsConfig := aws.NewConfig().
		WithMaxRetries(ci.LowLevelRetries).
		WithCredentials(cred).
		WithHTTPClient(client).
		WithS3ForcePathStyle(opt.ForcePathStyle).
		WithRegion(opt.Region)
	if opt.Endpoint != "" {
		r := make(resolver)
		r.addService("s3", opt.Endpoint)
		awsConfig.WithEndpointResolver(r)
	}
	ses, err := session.NewSessionWithOptions(session.Options{
		Config: *awsConfig,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to make S3 session")
	}
	return s3.New(ses), nil
}

// NewBackend constructs an Fs for the account name
func NewBackend(ctx context.Context, name string, m configmap.Mapper) (fs.Backend, error) {
	opt := &Options{
		Region:         "us-east-1",
		ForcePathStyle: true,
		ChunkSize:      defaultChunkSize,
	}
	err := configstruct.Set(m, opt)
	if err != nil {
		return nil, err
	}
	if opt.Bucket == "" {
		return nil, errors.Errorf("s3 account %q needs a bucket", name)
	}
	if opt.ChunkSize < minChunkSize {
		return nil, errors.Errorf("chunk_size %v is less than %v", opt.ChunkSize, minChunkSize)
	}
	opt.Prefix = strings.Trim(opt.Prefix, "/")
	c, err := s3Connection(ctx, opt, fshttp.NewClient(ctx))
	if err != nil {
		return nil, err
	}
	return &Fs{
		name: name,
		opt:  *opt,
		c:    c,
		uploader: s3manager.NewUploaderWithClient(c, func(u *s3manager.Uploader) {
			u.PartSize = int64(opt.ChunkSize)
			u.Concurrency = 1
		}),
	}, nil
}

// Name of the account
func (f *Fs) Name() string {
	return f.name
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("S3 bucket %s", path.Join(f.opt.Bucket, f.opt.Prefix))
}

// Authenticate checks the bucket can be reached with the credentials
func (f *Fs) Authenticate(ctx context.Context) error {
	_, err := f.c.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(f.opt.Bucket),
	})
	if err == nil {
		return nil
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		switch reqErr.StatusCode() {
		case http.StatusForbidden, http.StatusUnauthorized:
			return fs.AuthError(err, f.name)
		case http.StatusNotFound:
			return errors.Errorf("bucket %q not found", f.opt.Bucket)
		}
	}
	return errors.Wrapf(err, "failed to reach bucket %q", f.opt.Bucket)
}

// FindOrCreateFolder returns the key prefix for name inside parent
//
// S3 has no folders so nothing is made.
func (f *Fs) FindOrCreateFolder(ctx context.Context, name string, parent fs.FolderRef) (fs.FolderRef, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return "", errors.Errorf("invalid name %q", name)
	}
	if parent == "" {
		return fs.FolderRef(path.Join(f.opt.Prefix, name)), nil
	}
	return fs.FolderRef(path.Join(string(parent), name)), nil
}

// UploadChunk uploads in to a new key inside folder
func (f *Fs) UploadChunk(ctx context.Context, in io.Reader, size int64, remoteName string, folder fs.FolderRef, progress fs.ProgressFunc) (fs.RemoteID, error) {
	if remoteName == "" || strings.Contains(remoteName, "/") {
		return "", errors.Errorf("invalid name %q", remoteName)
	}
	prefix := string(folder)
	if folder == "" {
		prefix = f.opt.Prefix
	}
	key := path.Join(prefix, uuid.New().String()+"-"+remoteName)
	var n int64
	in = readers.NewProgressReader(in, func(bytes int64) {
		n = bytes
		if progress != nil {
			progress(bytes)
		}
	})
	_, err := f.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(f.opt.Bucket),
		Key:         aws.String(key),
		Body:        in,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		if retry, _ := shouldRetry(err); retry {
			err = fserrors.RetryError(err)
		}
		return "", errors.Wrapf(err, "failed to upload %q", remoteName)
	}
	if n != size {
		_ = f.DeleteChunk(ctx, fs.RemoteID(key))
		return "", fserrors.RetryErrorf("upload of %q stored %d bytes, expected %d", remoteName, n, size)
	}
	return fs.RemoteID(key), nil
}

// DownloadChunk copies the object with key id to out
func (f *Fs) DownloadChunk(ctx context.Context, id fs.RemoteID, out io.Writer, progress fs.ProgressFunc) (int64, error) {
	resp, err := f.c.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.opt.Bucket),
		Key:    aws.String(string(id)),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to download %q", id)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	n, err := io.Copy(readers.NewProgressWriter(out, progress), resp.Body)
	if err != nil {
		return n, fserrors.RetryError(errors.Wrapf(err, "failed to read %q", id))
	}
	return n, nil
}

// DeleteChunk removes the object with key id
func (f *Fs) DeleteChunk(ctx context.Context, id fs.RemoteID) error {
	_, err := f.c.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.opt.Bucket),
		Key:    aws.String(string(id)),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to delete %q", id)
	}
	return nil
}

// About adds up the objects under the prefix and reports them against
// the configured capacity
func (f *Fs) About(ctx context.Context) (*fs.Usage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(f.opt.Bucket),
	}
	if f.opt.Prefix != "" {
		input.Prefix = aws.String(f.opt.Prefix + "/")
	}
	var used int64
	err := f.c.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, object := range page.Contents {
			used += aws.Int64Value(object.Size)
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list bucket")
	}
	usage := &fs.Usage{
		Total: fs.SizeUnknown,
		Used:  used,
		Free:  fs.SizeUnknown,
	}
	if f.opt.Capacity > 0 {
		usage.Total = int64(f.opt.Capacity)
		usage.Free = usage.Total - used
		if usage.Free < 0 {
			usage.Free = 0
		}
	}
	return usage, nil
}

// Check the interfaces are satisfied
var (
	_ fs.Backend = (*Fs)(nil)
	_ fs.Abouter = (*Fs)(nil)
)
