// Package drive stores chunks in a Google Drive account
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/config/configstruct"
	"github.com/ddrive/ddrive/fs/fserrors"
	"github.com/ddrive/ddrive/lib/oauthutil"
	"github.com/ddrive/ddrive/lib/pacer"
	"github.com/ddrive/ddrive/lib/readers"
	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Constants
const (
	minSleep         = 10 * time.Millisecond
	maxSleep         = 2 * time.Second
	decayConstant    = 2 // bigger for slower decay, exponential
	driveFolderType  = "application/vnd.google-apps.folder"
	chunkMimeType    = "application/octet-stream"
	scopePrefix      = "https://www.googleapis.com/auth/"
	defaultChunkSize = 8 * fs.Mebi
	aboutCacheKey    = "\x00about"
)

// Globals
var (
	// Description of how to auth for this app
	driveConfig = &oauth2.Config{
		Scopes:      []string{scopePrefix + "drive.file", "email"},
		Endpoint:    google.Endpoint,
		RedirectURL: oauthutil.RedirectURL,
	}
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "drive",
		Description: "Google Drive",
		NewBackend:  NewBackend,
		Config:      Config,
		Options: append(fs.Options{{
			Name: "verify_email",
			Help: "Check the account ID matches the email address of the Drive user.",
		}, {
			Name:    "upload_chunk_size",
			Help:    "Chunks larger than this are uploaded in pieces of this size.",
			Default: defaultChunkSize.String(),
		}}, oauthutil.SharedOptions...),
	})
}

// Options defines the configuration for this backend
type Options struct {
	ClientID        string        `config:"client_id"`
	ClientSecret    string        `config:"client_secret"`
	VerifyEmail     bool          `config:"verify_email"`
	UploadChunkSize fs.SizeSuffix `config:"upload_chunk_size"`
}

// Fs represents a Google Drive account
type Fs struct {
	name    string           // name of this account
	opt     Options          // parsed options
	m       configmap.Mapper // config for the account
	mu      sync.Mutex       // protects svc
	svc     *drive.Service   // the connection to the drive server
	pacer   *pacer.Pacer     // To pace the API calls
	folders *cache.Cache     // folder IDs by parent and name, plus the quota
}

// parseOptions reads the options for the account out of m
func parseOptions(m configmap.Mapper) (*Options, error) {
	opt := &Options{UploadChunkSize: defaultChunkSize}
	if err := configstruct.Set(m, opt); err != nil {
		return nil, err
	}
	if opt.UploadChunkSize < 256*fs.Kibi {
		return nil, errors.Errorf("upload_chunk_size must be at least 256Ki, got %v", opt.UploadChunkSize)
	}
	return opt, nil
}

// Config runs the OAuth flow for the account name
func Config(ctx context.Context, name string, m configmap.Mapper) error {
	opt, err := parseOptions(m)
	if err != nil {
		return err
	}
	if opt.ClientID == "" || opt.ClientSecret == "" {
		return errors.New("drive accounts need client_id and client_secret from a Google Cloud OAuth client")
	}
	return oauthutil.Config(ctx, name, m, driveConfig, &oauthutil.Options{
		OAuth2Opts: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("login_hint", name),
			oauth2.SetAuthURLParam("prompt", "consent"),
		},
	})
}

// NewBackend constructs an Fs for the account name
//
// The connection to Drive is made by Authenticate.
func NewBackend(ctx context.Context, name string, m configmap.Mapper) (fs.Backend, error) {
	opt, err := parseOptions(m)
	if err != nil {
		return nil, err
	}
	return newFs(name, m, opt), nil
}

func newFs(name string, m configmap.Mapper, opt *Options) *Fs {
	return &Fs{
		name:    name,
		opt:     *opt,
		m:       m,
		pacer:   pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep).SetDecayConstant(decayConstant).SetPacer(pacer.GoogleDrivePacer),
		folders: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Name of the account
func (f *Fs) Name() string {
	return f.name
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("Google drive %s", f.name)
}

// shouldRetry determines whether a given err rates being retried
func shouldRetry(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if fserrors.ShouldRetry(err) {
		return true, err
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code >= 500 && gerr.Code < 600 {
			// All 5xx errors should be retried
			return true, err
		}
		if gerr.Code == http.StatusTooManyRequests {
			return true, err
		}
		if len(gerr.Errors) > 0 {
			reason := gerr.Errors[0].Reason
			if reason == "rateLimitExceeded" || reason == "userRateLimitExceeded" {
				return true, err
			}
		}
	}
	return false, err
}

// isStatus returns true if err is a googleapi error with the code given
func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

// authError turns errors from the token source or a 401 into
// authentication errors
func (f *Fs) authError(err error) error {
	if err == nil || errors.Is(err, fs.ErrorAuthenticationRequired) {
		return err
	}
	if isStatus(err, http.StatusUnauthorized) {
		return fs.AuthError(err, f.name)
	}
	return err
}

// service returns the Drive service, or an error if Authenticate
// hasn't succeeded
func (f *Fs) service() (*drive.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.svc == nil {
		return nil, fs.AuthError(errors.New("not authenticated"), f.name)
	}
	return f.svc, nil
}

// Authenticate makes a Drive client from the stored token, refreshing
// it if required
func (f *Fs) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	if f.svc == nil {
		client, ts, err := oauthutil.NewClient(ctx, f.name, f.m, driveConfig)
		if err != nil {
			f.mu.Unlock()
			return fs.AuthError(err, f.name)
		}
		if _, err = ts.Token(); err != nil {
			f.mu.Unlock()
			return fs.AuthError(err, f.name)
		}
		f.svc, err = drive.NewService(ctx, option.WithHTTPClient(client))
		if err != nil {
			f.mu.Unlock()
			return errors.Wrap(err, "couldn't create Drive client")
		}
	}
	f.mu.Unlock()
	if f.opt.VerifyEmail {
		return f.verifyEmail(ctx)
	}
	return nil
}

// verifyEmail checks the Drive user is the account we think it is
func (f *Fs) verifyEmail(ctx context.Context) error {
	svc, err := f.service()
	if err != nil {
		return err
	}
	var about *drive.About
	err = f.pacer.Call(func() (bool, error) {
		about, err = svc.About.Get().Fields("user").Context(ctx).Do()
		return shouldRetry(err)
	})
	if err != nil {
		return f.authError(errors.Wrap(err, "failed to read Drive user"))
	}
	if about.User == nil || !strings.EqualFold(about.User.EmailAddress, f.name) {
		got := ""
		if about.User != nil {
			got = about.User.EmailAddress
		}
		return fs.AuthError(errors.Errorf("token belongs to %q", got), f.name)
	}
	return nil
}

// escapeQuery makes s safe to put in single quotes in a Drive query
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// parentID returns the Drive ID for a folder reference
func parentID(folder fs.FolderRef) string {
	if folder == "" {
		return "root"
	}
	return string(folder)
}

// findFolder looks for the folder called name in parent
func (f *Fs) findFolder(ctx context.Context, svc *drive.Service, name, parent string) (id string, found bool, err error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parent), driveFolderType)
	var files *drive.FileList
	err = f.pacer.Call(func() (bool, error) {
		files, err = svc.Files.List().Q(query).Fields("files(id,name)").PageSize(10).Context(ctx).Do()
		return shouldRetry(err)
	})
	if err != nil {
		return "", false, f.authError(errors.Wrap(err, "couldn't list folders"))
	}
	for _, item := range files.Files {
		if item.Name == name {
			return item.Id, true, nil
		}
	}
	return "", false, nil
}

// FindOrCreateFolder finds the folder called name in parent, making it
// if it doesn't exist
func (f *Fs) FindOrCreateFolder(ctx context.Context, name string, parent fs.FolderRef) (fs.FolderRef, error) {
	svc, err := f.service()
	if err != nil {
		return "", err
	}
	pid := parentID(parent)
	key := pid + "/" + name
	if id, ok := f.folders.Get(key); ok {
		return fs.FolderRef(id.(string)), nil
	}
	id, found, err := f.findFolder(ctx, svc, name, pid)
	if err != nil {
		return "", err
	}
	if !found {
		createInfo := &drive.File{
			Name:     name,
			MimeType: driveFolderType,
			Parents:  []string{pid},
		}
		var info *drive.File
		err = f.pacer.Call(func() (bool, error) {
			info, err = svc.Files.Create(createInfo).Fields("id").Context(ctx).Do()
			return shouldRetry(err)
		})
		if err != nil {
			return "", f.authError(errors.Wrapf(err, "couldn't create folder %q", name))
		}
		id = info.Id
		fs.Debugf(f, "Created folder %q with ID %q", name, id)
	}
	f.folders.SetDefault(key, id)
	return fs.FolderRef(id), nil
}

// UploadChunk uploads in as a new file inside folder
//
// The upload isn't retried here as in can only be read once. Retriable
// failures are returned as retry errors for the caller to retry.
func (f *Fs) UploadChunk(ctx context.Context, in io.Reader, size int64, remoteName string, folder fs.FolderRef, progress fs.ProgressFunc) (fs.RemoteID, error) {
	svc, err := f.service()
	if err != nil {
		return "", err
	}
	createInfo := &drive.File{
		Name:     remoteName,
		MimeType: chunkMimeType,
		Parents:  []string{parentID(folder)},
	}
	in = readers.NewProgressReader(in, progress)
	var info *drive.File
	err = f.pacer.CallNoRetry(func() (bool, error) {
		info, err = svc.Files.Create(createInfo).
			Media(in, googleapi.ContentType(chunkMimeType), googleapi.ChunkSize(int(f.opt.UploadChunkSize))).
			Fields("id,size").
			Context(ctx).
			Do()
		return shouldRetry(err)
	})
	if err != nil {
		return "", f.authError(errors.Wrapf(err, "failed to upload %q", remoteName))
	}
	if info.Size != 0 && info.Size != size {
		return "", fserrors.RetryErrorf("upload of %q stored %d bytes, expected %d", remoteName, info.Size, size)
	}
	f.folders.Delete(aboutCacheKey)
	return fs.RemoteID(info.Id), nil
}

// DownloadChunk copies the contents of the file with id to out
func (f *Fs) DownloadChunk(ctx context.Context, id fs.RemoteID, out io.Writer, progress fs.ProgressFunc) (int64, error) {
	svc, err := f.service()
	if err != nil {
		return 0, err
	}
	var res *http.Response
	err = f.pacer.Call(func() (bool, error) {
		res, err = svc.Files.Get(string(id)).Context(ctx).Download()
		return shouldRetry(err)
	})
	if err != nil {
		return 0, f.authError(errors.Wrapf(err, "failed to download %q", id))
	}
	defer func() {
		_ = res.Body.Close()
	}()
	n, err := io.Copy(readers.NewProgressWriter(out, progress), res.Body)
	if err != nil {
		return n, fserrors.RetryError(errors.Wrapf(err, "failed to read %q", id))
	}
	return n, nil
}

// DeleteChunk removes the file with id
//
// A file which is already gone counts as deleted.
func (f *Fs) DeleteChunk(ctx context.Context, id fs.RemoteID) error {
	svc, err := f.service()
	if err != nil {
		return err
	}
	err = f.pacer.Call(func() (bool, error) {
		err = svc.Files.Delete(string(id)).Context(ctx).Do()
		return shouldRetry(err)
	})
	if isStatus(err, http.StatusNotFound) {
		fs.Debugf(f, "Chunk %q already deleted", id)
		return nil
	}
	if err != nil {
		return f.authError(errors.Wrapf(err, "failed to delete %q", id))
	}
	f.folders.Delete(aboutCacheKey)
	return nil
}

// About gets quota information
func (f *Fs) About(ctx context.Context) (*fs.Usage, error) {
	if usage, ok := f.folders.Get(aboutCacheKey); ok {
		u := *usage.(*fs.Usage)
		return &u, nil
	}
	svc, err := f.service()
	if err != nil {
		return nil, err
	}
	var about *drive.About
	err = f.pacer.Call(func() (bool, error) {
		about, err = svc.About.Get().Fields("storageQuota").Context(ctx).Do()
		return shouldRetry(err)
	})
	if err != nil {
		return nil, f.authError(errors.Wrap(err, "failed to get Drive storageQuota"))
	}
	usage := &fs.Usage{
		Total: fs.SizeUnknown,
		Used:  fs.SizeUnknown,
		Free:  fs.SizeUnknown,
	}
	if q := about.StorageQuota; q != nil {
		usage.Used = q.Usage
		if q.Limit > 0 {
			usage.Total = q.Limit
			usage.Free = q.Limit - q.Usage
			if usage.Free < 0 {
				usage.Free = 0
			}
		}
	}
	f.folders.Set(aboutCacheKey, usage, time.Minute)
	u := *usage
	return &u, nil
}

// Check the interfaces are satisfied
var (
	_ fs.Backend = (*Fs)(nil)
	_ fs.Abouter = (*Fs)(nil)
)
