package dropbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/fserrors"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFiles implements the parts of files.Client the backend uses
type fakeFiles struct {
	files.Client
	n        int
	folders  map[string]bool
	objects  map[string][]byte
	names    map[string]string
	sessions map[string]*bytes.Buffer
	appends  int
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		folders:  make(map[string]bool),
		objects:  make(map[string][]byte),
		names:    make(map[string]string),
		sessions: make(map[string]*bytes.Buffer),
	}
}

func conflictError() error {
	return files.CreateFolderV2APIError{
		APIError: dropbox.APIError{ErrorSummary: "path/conflict/folder/"},
		EndpointError: &files.CreateFolderError{
			Tagged: dropbox.Tagged{Tag: files.CreateFolderErrorPath},
			Path:   &files.WriteError{Tagged: dropbox.Tagged{Tag: files.WriteErrorConflict}},
		},
	}
}

func notFoundError() error {
	return files.DeleteV2APIError{
		APIError: dropbox.APIError{ErrorSummary: "path_lookup/not_found/"},
		EndpointError: &files.DeleteError{
			Tagged:     dropbox.Tagged{Tag: files.DeleteErrorPathLookup},
			PathLookup: &files.LookupError{Tagged: dropbox.Tagged{Tag: files.LookupErrorNotFound}},
		},
	}
}

func (c *fakeFiles) CreateFolderV2(arg *files.CreateFolderArg) (*files.CreateFolderResult, error) {
	if c.folders[arg.Path] {
		return nil, conflictError()
	}
	c.folders[arg.Path] = true
	return &files.CreateFolderResult{}, nil
}

func (c *fakeFiles) store(commit *files.CommitInfo, data []byte) *files.FileMetadata {
	c.n++
	id := fmt.Sprintf("id:%d", c.n)
	c.objects[id] = data
	c.names[id] = commit.Path
	return &files.FileMetadata{Id: id, Size: uint64(len(data))}
}

func (c *fakeFiles) Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	return c.store(&arg.CommitInfo, data), nil
}

func (c *fakeFiles) UploadSessionStart(arg *files.UploadSessionStartArg, content io.Reader) (*files.UploadSessionStartResult, error) {
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, content); err != nil {
		return nil, err
	}
	id := fmt.Sprintf("session-%d", len(c.sessions))
	c.sessions[id] = buf
	return &files.UploadSessionStartResult{SessionId: id}, nil
}

func (c *fakeFiles) UploadSessionAppendV2(arg *files.UploadSessionAppendArg, content io.Reader) error {
	buf := c.sessions[arg.Cursor.SessionId]
	if uint64(buf.Len()) != arg.Cursor.Offset {
		return errors.Errorf("bad offset %d", arg.Cursor.Offset)
	}
	c.appends++
	_, err := io.Copy(buf, content)
	return err
}

func (c *fakeFiles) UploadSessionFinish(arg *files.UploadSessionFinishArg, content io.Reader) (*files.FileMetadata, error) {
	buf := c.sessions[arg.Cursor.SessionId]
	if uint64(buf.Len()) != arg.Cursor.Offset {
		return nil, errors.Errorf("bad offset %d", arg.Cursor.Offset)
	}
	if _, err := io.Copy(buf, content); err != nil {
		return nil, err
	}
	return c.store(arg.Commit, buf.Bytes()), nil
}

func (c *fakeFiles) Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error) {
	data, ok := c.objects[arg.Path]
	if !ok {
		return nil, nil, errors.New("path/not_found/")
	}
	return &files.FileMetadata{Id: arg.Path}, io.NopCloser(bytes.NewReader(data)), nil
}

func (c *fakeFiles) DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error) {
	if _, ok := c.objects[arg.Path]; !ok {
		return nil, notFoundError()
	}
	delete(c.objects, arg.Path)
	return &files.DeleteResult{}, nil
}

// fakeUsers implements the parts of users.Client the backend uses
type fakeUsers struct {
	users.Client
	email string
	usage *users.SpaceUsage
}

func (c *fakeUsers) GetCurrentAccount() (*users.FullAccount, error) {
	return &users.FullAccount{Account: users.Account{Email: c.email}}, nil
}

func (c *fakeUsers) GetSpaceUsage() (*users.SpaceUsage, error) {
	return c.usage, nil
}

func newTestFs(t *testing.T, m configmap.Simple) (*Fs, *fakeFiles, *fakeUsers) {
	if m == nil {
		m = configmap.Simple{}
	}
	b, err := NewBackend(context.Background(), "me@example.com", m)
	require.NoError(t, err)
	f := b.(*Fs)
	f.pacer.SetRetries(1)
	srv := newFakeFiles()
	usr := &fakeUsers{email: "me@example.com"}
	f.srv, f.users = srv, usr
	return f, srv, usr
}

func TestParseOptions(t *testing.T) {
	opt, err := parseOptions(configmap.Simple{})
	require.NoError(t, err)
	assert.Equal(t, defaultChunkSize, opt.ChunkSize)

	_, err = parseOptions(configmap.Simple{"chunk_size": "150Mi"})
	assert.Error(t, err)
	_, err = parseOptions(configmap.Simple{"chunk_size": "0"})
	assert.Error(t, err)
}

func TestShouldRetry(t *testing.T) {
	for _, test := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("potato"), false},
		{errors.New("too_many_write_operations/"), true},
		{errors.New("too_many_requests/"), true},
		{errors.New("path/insufficient_space/"), false},
		{auth.RateLimitAPIError{RateLimitError: &auth.RateLimitError{RetryAfter: 1}}, true},
		{errors.Wrap(auth.RateLimitAPIError{}, "wrapped"), true},
		{io.ErrUnexpectedEOF, true},
	} {
		got, err := shouldRetry(test.err)
		assert.Equal(t, test.want, got, "%v", test.err)
		assert.Equal(t, test.err, err)
	}
}

func TestCheckLeaf(t *testing.T) {
	rep := func(n int, r rune) string {
		return strings.Repeat(string(r), n)
	}
	for _, test := range []struct {
		in string
		ok bool
	}{
		{in: "", ok: false},
		{in: "..", ok: false},
		{in: "a/b", ok: false},
		{in: "file.ddrive_chunk.001", ok: true},
		{in: rep(maxFileNameLength, 'a'), ok: true},
		{in: rep(maxFileNameLength+1, 'a'), ok: false},
		{in: rep(maxFileNameLength, '你'), ok: true},
		{in: rep(maxFileNameLength+1, '你'), ok: false},
	} {
		err := checkLeaf(test.in)
		assert.Equal(t, test.ok, err == nil, test.in)
	}
}

func TestNotAuthenticated(t *testing.T) {
	b, err := NewBackend(context.Background(), "me@example.com", configmap.Simple{})
	require.NoError(t, err)
	_, err = b.FindOrCreateFolder(context.Background(), "x", "")
	assert.True(t, errors.Is(err, fs.ErrorAuthenticationRequired))
	assert.True(t, errors.Is(b.Authenticate(context.Background()), fs.ErrorAuthenticationRequired))
}

func TestAuthError(t *testing.T) {
	f, _, _ := newTestFs(t, nil)
	err := f.authError(auth.AuthAPIError{AuthError: &auth.AuthError{Tagged: dropbox.Tagged{Tag: auth.AuthErrorExpiredAccessToken}}})
	assert.True(t, errors.Is(err, fs.ErrorAuthenticationRequired))
	assert.False(t, errors.Is(f.authError(errors.New("potato")), fs.ErrorAuthenticationRequired))
}

func TestFindOrCreateFolder(t *testing.T) {
	ctx := context.Background()
	f, srv, _ := newTestFs(t, nil)
	root, err := f.FindOrCreateFolder(ctx, "ddrive-chunks", "")
	require.NoError(t, err)
	assert.Equal(t, fs.FolderRef("/ddrive-chunks"), root)
	sub, err := f.FindOrCreateFolder(ctx, "file.bin", root)
	require.NoError(t, err)
	assert.Equal(t, fs.FolderRef("/ddrive-chunks/file.bin"), sub)
	assert.True(t, srv.folders["/ddrive-chunks/file.bin"])

	// existing folders are fine
	again, err := f.FindOrCreateFolder(ctx, "file.bin", root)
	require.NoError(t, err)
	assert.Equal(t, sub, again)
}

func TestUploadDownloadDelete(t *testing.T) {
	ctx := context.Background()
	f, srv, _ := newTestFs(t, nil)
	data := strings.Repeat("chunk", 100)
	var uploaded int64
	id, err := f.UploadChunk(ctx, strings.NewReader(data), int64(len(data)), "file.bin.ddrive_chunk.001", "/file.bin", func(n int64) {
		uploaded = n
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), uploaded)
	assert.Equal(t, "/file.bin/file.bin.ddrive_chunk.001", srv.names[string(id)])

	var buf bytes.Buffer
	n, err := f.DownloadChunk(ctx, id, &buf, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, buf.String())

	require.NoError(t, f.DeleteChunk(ctx, id))
	assert.Empty(t, srv.objects)
	require.NoError(t, f.DeleteChunk(ctx, id), "already deleted")

	_, err = f.DownloadChunk(ctx, id, &buf, nil)
	assert.Error(t, err)
}

func TestUploadSession(t *testing.T) {
	ctx := context.Background()
	f, srv, _ := newTestFs(t, configmap.Simple{"chunk_size": "10"})
	data := strings.Repeat("0123456789", 3) + "xyz"
	id, err := f.UploadChunk(ctx, strings.NewReader(data), int64(len(data)), "big", "", nil)
	require.NoError(t, err)
	assert.Equal(t, data, string(srv.objects[string(id)]))
	assert.Equal(t, 2, srv.appends)
	assert.Equal(t, "/big", srv.names[string(id)])

	// exactly a multiple of the chunk size
	data = strings.Repeat("0123456789", 2)
	id, err = f.UploadChunk(ctx, strings.NewReader(data), int64(len(data)), "even", "", nil)
	require.NoError(t, err)
	assert.Equal(t, data, string(srv.objects[string(id)]))
}

func TestUploadShort(t *testing.T) {
	f, _, _ := newTestFs(t, nil)
	_, err := f.UploadChunk(context.Background(), strings.NewReader("abc"), 5, "part", "", nil)
	require.Error(t, err)
	assert.True(t, fserrors.IsRetryError(err))
}

func TestAbout(t *testing.T) {
	ctx := context.Background()
	f, _, usr := newTestFs(t, nil)
	usr.usage = &users.SpaceUsage{
		Used: 100,
		Allocation: &users.SpaceAllocation{
			Tagged:     dropbox.Tagged{Tag: users.SpaceAllocationIndividual},
			Individual: &users.IndividualSpaceAllocation{Allocated: 1000},
		},
	}
	usage, err := f.About(ctx)
	require.NoError(t, err)
	assert.Equal(t, &fs.Usage{Total: 1000, Used: 100, Free: 900}, usage)

	usr.usage = &users.SpaceUsage{
		Used: 100,
		Allocation: &users.SpaceAllocation{
			Tagged: dropbox.Tagged{Tag: users.SpaceAllocationTeam},
			Team:   &users.TeamSpaceAllocation{Used: 5000, Allocated: 4000},
		},
	}
	usage, err = f.About(ctx)
	require.NoError(t, err)
	assert.Equal(t, &fs.Usage{Total: 4000, Used: 5000, Free: 0}, usage)

	usr.usage = &users.SpaceUsage{Used: 7}
	usage, err = f.About(ctx)
	require.NoError(t, err)
	assert.Equal(t, &fs.Usage{Total: fs.SizeUnknown, Used: 7, Free: fs.SizeUnknown}, usage)
}

func TestVerifyEmail(t *testing.T) {
	f, _, usr := newTestFs(t, nil)
	require.NoError(t, f.verifyEmail(context.Background()))
	usr.email = "other@example.com"
	err := f.verifyEmail(context.Background())
	assert.True(t, errors.Is(err, fs.ErrorAuthenticationRequired))
}
