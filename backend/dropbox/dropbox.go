// Package dropbox stores chunks in a Dropbox account
package dropbox

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/config/configstruct"
	"github.com/ddrive/ddrive/fs/fserrors"
	"github.com/ddrive/ddrive/lib/oauthutil"
	"github.com/ddrive/ddrive/lib/pacer"
	"github.com/ddrive/ddrive/lib/readers"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Constants
const (
	minSleep          = 10 * time.Millisecond
	maxSleep          = 2 * time.Second
	decayConstant     = 2 // bigger for slower decay, exponential
	maxFileNameLength = 255
	// Upload sessions send at most this much per call
	maxChunkSize     = 150 * fs.Mebi
	defaultChunkSize = 48 * fs.Mebi
)

// Globals
var (
	// Description of how to auth for this app
	dropboxConfig = &oauth2.Config{
		Scopes: []string{
			"files.metadata.write",
			"files.content.write",
			"files.content.read",
			"account_info.read",
		},
		Endpoint:    dropbox.OAuthEndpoint(""),
		RedirectURL: oauthutil.RedirectLocalhostURL,
	}
)

// Register with Fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "dropbox",
		Description: "Dropbox",
		NewBackend:  NewBackend,
		Config:      Config,
		Options: append(fs.Options{{
			Name:    "chunk_size",
			Help:    "Chunks larger than this are sent with an upload session in pieces of this size.\nMust be less than 150Mi.",
			Default: defaultChunkSize.String(),
		}, {
			Name: "verify_email",
			Help: "Check the account ID matches the email address of the Dropbox user.",
		}}, oauthutil.SharedOptions...),
	})
}

// Options defines the configuration for this backend
type Options struct {
	ClientID     string        `config:"client_id"`
	ClientSecret string        `config:"client_secret"`
	ChunkSize    fs.SizeSuffix `config:"chunk_size"`
	VerifyEmail  bool          `config:"verify_email"`
}

// Fs represents a Dropbox account
type Fs struct {
	name  string           // name of this account
	opt   Options          // parsed options
	m     configmap.Mapper // config for the account
	mu    sync.Mutex       // protects srv and users
	srv   files.Client     // the connection to the files API
	users users.Client     // the connection to the users API
	pacer *pacer.Pacer     // To pace the API calls
}

func parseOptions(m configmap.Mapper) (*Options, error) {
	opt := &Options{ChunkSize: defaultChunkSize}
	if err := configstruct.Set(m, opt); err != nil {
		return nil, err
	}
	if opt.ChunkSize <= 0 || opt.ChunkSize >= maxChunkSize {
		return nil, errors.Errorf("chunk_size %v must be more than 0 and less than %v", opt.ChunkSize, maxChunkSize)
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
		return errors.New("dropbox accounts need client_id and client_secret from a Dropbox app")
	}
	return oauthutil.Config(ctx, name, m, dropboxConfig, &oauthutil.Options{
		NoOffline: true,
		OAuth2Opts: []oauth2.AuthCodeOption{
			oauth2.SetAuthURLParam("token_access_type", "offline"),
		},
	})
}

// NewBackend constructs an Fs for the account name
func NewBackend(ctx context.Context, name string, m configmap.Mapper) (fs.Backend, error) {
	opt, err := parseOptions(m)
	if err != nil {
		return nil, err
	}
	return &Fs{
		name:  name,
		opt:   *opt,
		m:     m,
		pacer: pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep).SetDecayConstant(decayConstant),
	}, nil
}

// Name of the account
func (f *Fs) Name() string {
	return f.name
}

// String converts this Fs to a string
func (f *Fs) String() string {
	return fmt.Sprintf("Dropbox %s", f.name)
}

// shouldRetry returns a boolean as to whether this err deserves to be
// retried.
func shouldRetry(err error) (bool, error) {
	if err == nil {
		return false, err
	}
	errString := err.Error()
	if strings.Contains(errString, "insufficient_space") || strings.Contains(errString, "malformed_path") {
		return false, err
	}
	var rateErr auth.RateLimitAPIError
	if errors.As(err, &rateErr) {
		if rateErr.RateLimitError != nil && rateErr.RateLimitError.RetryAfter > 0 {
			fs.Logf(nil, "Too many requests or write operations. Trying again in %d seconds.", rateErr.RateLimitError.RetryAfter)
		}
		return true, err
	}
	if strings.Contains(errString, "too_many_write_operations") || strings.Contains(errString, "too_many_requests") || errString == "" {
		return true, err
	}
	return fserrors.ShouldRetry(err), err
}

// authError turns errors saying the token is no good into
// authentication errors
func (f *Fs) authError(err error) error {
	if err == nil || errors.Is(err, fs.ErrorAuthenticationRequired) {
		return err
	}
	var authErr auth.AuthAPIError
	if errors.As(err, &authErr) {
		return fs.AuthError(err, f.name)
	}
	return err
}

// clients returns the API clients, or an error if Authenticate hasn't
// succeeded
func (f *Fs) clients() (files.Client, users.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.srv == nil {
		return nil, nil, fs.AuthError(errors.New("not authenticated"), f.name)
	}
	return f.srv, f.users, nil
}

// Authenticate makes the Dropbox clients from the stored token,
// refreshing it if required
func (f *Fs) Authenticate(ctx context.Context) error {
	f.mu.Lock()
	if f.srv == nil {
		client, ts, err := oauthutil.NewClient(ctx, f.name, f.m, dropboxConfig)
		if err != nil {
			f.mu.Unlock()
			return fs.AuthError(err, f.name)
		}
		if _, err = ts.Token(); err != nil {
			f.mu.Unlock()
			return fs.AuthError(err, f.name)
		}
		config := dropbox.Config{
			LogLevel: dropbox.LogOff,
			Client:   client,
		}
		f.srv = files.New(config)
		f.users = users.New(config)
	}
	f.mu.Unlock()
	if f.opt.VerifyEmail {
		return f.verifyEmail(ctx)
	}
	return nil
}

// verifyEmail checks the Dropbox user is the account we think it is
func (f *Fs) verifyEmail(ctx context.Context) error {
	_, usrs, err := f.clients()
	if err != nil {
		return err
	}
	var account *users.FullAccount
	err = f.pacer.Call(func() (bool, error) {
		account, err = usrs.GetCurrentAccount()
		return shouldRetry(err)
	})
	if err != nil {
		return f.authError(errors.Wrap(err, "failed to read Dropbox user"))
	}
	if !strings.EqualFold(account.Email, f.name) {
		return fs.AuthError(errors.Errorf("token belongs to %q", account.Email), f.name)
	}
	return nil
}

// checkLeaf checks name is a single path element Dropbox will accept
func checkLeaf(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return errors.Errorf("invalid name %q", name)
	}
	if utf8.RuneCountInString(name) > maxFileNameLength {
		return errors.Errorf("name %q is longer than %d characters", name, maxFileNameLength)
	}
	return nil
}

// folderPath returns the Dropbox path of a folder reference
func folderPath(folder fs.FolderRef) string {
	if folder == "" {
		return "/"
	}
	return string(folder)
}

// isConflict returns true if err says the folder already exists
func isConflict(err error) bool {
	var e files.CreateFolderV2APIError
	return errors.As(err, &e) && e.EndpointError != nil && e.EndpointError.Path != nil &&
		e.EndpointError.Path.Tag == files.WriteErrorConflict
}

// isNotFound returns true if err says the object doesn't exist
func isNotFound(err error) bool {
	var e files.DeleteV2APIError
	return errors.As(err, &e) && e.EndpointError != nil && e.EndpointError.PathLookup != nil &&
		e.EndpointError.PathLookup.Tag == files.LookupErrorNotFound
}

// FindOrCreateFolder makes the folder name inside parent
//
// Dropbox addresses folders by path so the path is the reference.
func (f *Fs) FindOrCreateFolder(ctx context.Context, name string, parent fs.FolderRef) (fs.FolderRef, error) {
	srv, _, err := f.clients()
	if err != nil {
		return "", err
	}
	if err = checkLeaf(name); err != nil {
		return "", err
	}
	dir := path.Join(folderPath(parent), name)
	err = f.pacer.Call(func() (bool, error) {
		_, err = srv.CreateFolderV2(files.NewCreateFolderArg(dir))
		return shouldRetry(err)
	})
	if err != nil && !isConflict(err) {
		return "", f.authError(errors.Wrapf(err, "couldn't create folder %q", dir))
	}
	return fs.FolderRef(dir), nil
}

// UploadChunk uploads in as remoteName inside folder
//
// Dropbox renames the file if remoteName is taken so every upload makes
// a new object. The ID of the object is returned.
func (f *Fs) UploadChunk(ctx context.Context, in io.Reader, size int64, remoteName string, folder fs.FolderRef, progress fs.ProgressFunc) (fs.RemoteID, error) {
	srv, _, err := f.clients()
	if err != nil {
		return "", err
	}
	if err = checkLeaf(remoteName); err != nil {
		return "", err
	}
	commit := files.NewCommitInfo(path.Join(folderPath(folder), remoteName))
	commit.Autorename = true
	in = readers.NewContextReader(ctx, readers.NewProgressReader(in, progress))
	var entry *files.FileMetadata
	if size > int64(f.opt.ChunkSize) {
		entry, err = f.uploadSession(srv, in, size, commit)
	} else {
		arg := &files.UploadArg{CommitInfo: *commit}
		err = f.pacer.CallNoRetry(func() (bool, error) {
			entry, err = srv.Upload(arg, in)
			return shouldRetry(err)
		})
	}
	if err != nil {
		return "", f.authError(errors.Wrapf(err, "failed to upload %q", remoteName))
	}
	if int64(entry.Size) != size {
		return "", fserrors.RetryErrorf("upload of %q stored %d bytes, expected %d", remoteName, entry.Size, size)
	}
	return fs.RemoteID(entry.Id), nil
}

// uploadSession sends in a piece at a time in an upload session
func (f *Fs) uploadSession(srv files.Client, in io.Reader, size int64, commit *files.CommitInfo) (entry *files.FileMetadata, err error) {
	chunkSize := int64(f.opt.ChunkSize)
	var res *files.UploadSessionStartResult
	err = f.pacer.CallNoRetry(func() (bool, error) {
		res, err = srv.UploadSessionStart(files.NewUploadSessionStartArg(), io.LimitReader(in, chunkSize))
		return shouldRetry(err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "upload session start failed")
	}
	cursor := files.NewUploadSessionCursor(res.SessionId, uint64(chunkSize))
	for size-int64(cursor.Offset) > chunkSize {
		arg := files.NewUploadSessionAppendArg(cursor)
		err = f.pacer.CallNoRetry(func() (bool, error) {
			err = srv.UploadSessionAppendV2(arg, io.LimitReader(in, chunkSize))
			return shouldRetry(err)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "upload session append at %d failed", cursor.Offset)
		}
		cursor.Offset += uint64(chunkSize)
	}
	arg := files.NewUploadSessionFinishArg(cursor, commit)
	err = f.pacer.CallNoRetry(func() (bool, error) {
		entry, err = srv.UploadSessionFinish(arg, in)
		return shouldRetry(err)
	})
	if err != nil {
		return nil, errors.Wrap(err, "upload session finish failed")
	}
	return entry, nil
}

// DownloadChunk copies the contents of the file with id to out
func (f *Fs) DownloadChunk(ctx context.Context, id fs.RemoteID, out io.Writer, progress fs.ProgressFunc) (int64, error) {
	srv, _, err := f.clients()
	if err != nil {
		return 0, err
	}
	var in io.ReadCloser
	err = f.pacer.Call(func() (bool, error) {
		_, in, err = srv.Download(files.NewDownloadArg(string(id)))
		return shouldRetry(err)
	})
	if err != nil {
		return 0, f.authError(errors.Wrapf(err, "failed to download %q", id))
	}
	defer func() {
		_ = in.Close()
	}()
	n, err := io.Copy(readers.NewProgressWriter(out, progress), readers.NewContextReader(ctx, in))
	if err != nil {
		return n, fserrors.RetryError(errors.Wrapf(err, "failed to read %q", id))
	}
	return n, nil
}

// DeleteChunk removes the file with id
//
// A file which is already gone counts as deleted.
func (f *Fs) DeleteChunk(ctx context.Context, id fs.RemoteID) error {
	srv, _, err := f.clients()
	if err != nil {
		return err
	}
	err = f.pacer.Call(func() (bool, error) {
		_, err = srv.DeleteV2(files.NewDeleteArg(string(id)))
		return shouldRetry(err)
	})
	if isNotFound(err) {
		fs.Debugf(f, "Chunk %q already deleted", id)
		return nil
	}
	if err != nil {
		return f.authError(errors.Wrapf(err, "failed to delete %q", id))
	}
	return nil
}

// About gets quota information
func (f *Fs) About(ctx context.Context) (*fs.Usage, error) {
	_, usrs, err := f.clients()
	if err != nil {
		return nil, err
	}
	var q *users.SpaceUsage
	err = f.pacer.Call(func() (bool, error) {
		q, err = usrs.GetSpaceUsage()
		return shouldRetry(err)
	})
	if err != nil {
		return nil, f.authError(errors.Wrap(err, "about failed"))
	}
	usage := &fs.Usage{
		Total: fs.SizeUnknown,
		Used:  int64(q.Used),
		Free:  fs.SizeUnknown,
	}
	if q.Allocation != nil {
		var total uint64
		switch q.Allocation.Tag {
		case users.SpaceAllocationIndividual:
			if q.Allocation.Individual != nil {
				total = q.Allocation.Individual.Allocated
			}
		case users.SpaceAllocationTeam:
			if q.Allocation.Team != nil {
				total = q.Allocation.Team.Allocated
				usage.Used = int64(q.Allocation.Team.Used)
			}
		}
		if total > 0 {
			usage.Total = int64(total)
			usage.Free = usage.Total - usage.Used
			if usage.Free < 0 {
				usage.Free = 0
			}
		}
	}
	return usage, nil
}

// Check the interfaces are satisfied
var (
	_ fs.Backend = (*Fs)(nil)
	_ fs.Abouter = (*Fs)(nil)
)
