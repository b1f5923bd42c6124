// Package oauthutil provides OAuth utilities.
package oauthutil

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ddrive/ddrive/fs"
	"github.com/ddrive/ddrive/fs/config"
	"github.com/ddrive/ddrive/fs/config/configmap"
	"github.com/ddrive/ddrive/fs/fshttp"
	"github.com/ddrive/ddrive/lib/random"
	"github.com/pkg/errors"
	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"
)

const (
	// bindPort is the port that we bind the local webserver to
	bindPort = "53682"

	// bindAddress is binding for local webserver when active
	bindAddress = "127.0.0.1:" + bindPort

	// RedirectURL is redirect to local webserver when active
	RedirectURL = "http://" + bindAddress + "/"

	// RedirectLocalhostURL is redirect to local webserver when active with localhost
	RedirectLocalhostURL = "http://localhost:" + bindPort + "/"

	// authResponseTemplate is the page shown in the browser once the
	// provider has redirected back to us
	authResponseTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{ if .OK }}Success!{{ else }}Failure!{{ end }}</title>
</head>
<body>
<h1>{{ if .OK }}Success!{{ else }}Failure!{{ end }}</h1>
<hr>
<pre style="width: 750px; white-space: pre-wrap;">
{{ if eq .OK false }}
Error: {{ .Name }}<br>
{{ if .Description }}Description: {{ .Description }}<br>{{ end }}
{{ else }}
All done. Please go back to ddrive.
{{ end }}
</pre>
</body>
</html>
`
)

var authResponse = template.Must(template.New("authResponse").Parse(authResponseTemplate))

// SharedOptions are shared between backends the utilize an OAuth flow
var SharedOptions = fs.Options{{
	Name: config.ConfigClientID,
	Help: "OAuth Client Id.\nLeave blank normally.",
}, {
	Name: config.ConfigClientSecret,
	Help: "OAuth Client Secret.\nLeave blank normally.",
}, {
	Name: config.ConfigToken,
	Help: "OAuth Access Token as a JSON blob.",
}}

// GetToken returns the token saved in the config under name.
//
// A missing or unreadable token is an authentication error as only
// linking the account again can fix it.
func GetToken(name string, m configmap.Mapper) (*oauth2.Token, error) {
	tokenString, ok := m.Get(config.ConfigToken)
	if !ok || tokenString == "" {
		return nil, fs.AuthError(errors.Errorf("empty token found - please run \"ddrive add-account %s\"", name), name)
	}
	token := new(oauth2.Token)
	err := json.Unmarshal([]byte(tokenString), token)
	if err != nil {
		return nil, fs.AuthError(errors.Wrap(err, "failed to parse token"), name)
	}
	return token, nil
}

// PutToken stores the token in the config if it has changed
func PutToken(name string, m configmap.Mapper, token *oauth2.Token) error {
	tokenBytes, err := json.Marshal(token)
	if err != nil {
		return err
	}
	tokenString := string(tokenBytes)
	old, ok := m.Get(config.ConfigToken)
	if ok && tokenString == old {
		return nil
	}
	if err = m.Set(config.ConfigToken, tokenString); err != nil {
		return errors.Wrap(err, "failed to save token")
	}
	fs.Debugf(name, "Saved new token in config file")
	return nil
}

// TokenSource stores updated tokens in the config file
type TokenSource struct {
	mu          sync.Mutex
	name        string
	m           configmap.Mapper
	tokenSource oauth2.TokenSource
	token       *oauth2.Token
	config      *oauth2.Config
	ctx         context.Context
}

// If token has expired then first try re-reading it from the config
// file in case a concurrently running ddrive has updated it already.
//
// Returns whether the token has been reread.
func (ts *TokenSource) reReadToken() bool {
	newToken, err := GetToken(ts.name, ts.m)
	if err != nil {
		fs.Debugf(ts.name, "Failed to read token out of config file: %v", err)
		return false
	}
	if !newToken.Valid() && newToken.RefreshToken == ts.token.RefreshToken {
		return false
	}
	fs.Debugf(ts.name, "Loaded fresh token from config file")
	ts.token = newToken
	ts.tokenSource = nil
	return true
}

type retrieveErrResponse struct {
	Error string `json:"error"`
}

// If err is a fatal OAuth error return an authentication error,
// otherwise return err itself.
func maybeWrapOAuthError(err error, name string) error {
	rErr, ok := err.(*oauth2.RetrieveError)
	if !ok || rErr.Response == nil {
		return err
	}
	if rErr.Response.StatusCode != http.StatusBadRequest && rErr.Response.StatusCode != http.StatusUnauthorized {
		return err
	}
	fs.Debugf(name, "got fatal oauth error: %v", rErr)
	var resp retrieveErrResponse
	if jsonErr := json.Unmarshal(rErr.Body, &resp); jsonErr != nil || resp.Error == "" {
		resp.Error = "token refresh refused"
	}
	return fs.AuthError(errors.Errorf("%s - relink with \"ddrive add-account %s\"", resp.Error, name), name)
}

// Token returns a token or an error.
// Token must be safe for concurrent use by multiple goroutines.
// The returned Token must not be modified.
//
// This saves the token in the config file if it has changed
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var (
		token   *oauth2.Token
		err     error
		changed = false
	)
	const maxTries = 5

	// Try getting the token a few times
	for i := 1; i <= maxTries; i++ {
		if !ts.token.Valid() {
			if ts.reReadToken() {
				changed = true
			} else if ts.token.RefreshToken == "" {
				return nil, fs.AuthError(errors.New("token expired and there's no refresh token"), ts.name)
			}
		}

		// Make a new token source if required
		if ts.tokenSource == nil {
			ts.tokenSource = ts.config.TokenSource(ts.ctx, ts.token)
		}

		token, err = ts.tokenSource.Token()
		if err == nil {
			break
		}
		if newErr := maybeWrapOAuthError(err, ts.name); newErr != err {
			return nil, newErr
		}
		fs.Debugf(ts.name, "Token refresh failed try %d/%d: %v", i, maxTries, err)
		time.Sleep(retryDelay)
	}
	if err != nil {
		return nil, errors.Wrap(err, "couldn't fetch token")
	}
	changed = changed || token.AccessToken != ts.token.AccessToken || token.RefreshToken != ts.token.RefreshToken || !token.Expiry.Equal(ts.token.Expiry)
	ts.token = token
	if changed {
		if err = PutToken(ts.name, ts.m, token); err != nil {
			return nil, errors.Wrap(err, "couldn't store token")
		}
	}
	return token, nil
}

// retryDelay is the pause between token refresh attempts
var retryDelay = time.Second

// Check interface satisfied
var _ oauth2.TokenSource = (*TokenSource)(nil)

// Context returns a context with our HTTP Client baked in for oauth2
func Context(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// overrideCredentials sets the ClientID and ClientSecret from the
// config file if they are not blank.
// If any value is overridden, true is returned.
// the origConfig is copied
func overrideCredentials(m configmap.Mapper, origConfig *oauth2.Config) (newConfig *oauth2.Config, changed bool) {
	newConfig = new(oauth2.Config)
	*newConfig = *origConfig
	if clientID, ok := m.Get(config.ConfigClientID); ok && clientID != "" {
		newConfig.ClientID = clientID
		// Clear out any existing client secret since the ID changed.
		newConfig.ClientSecret = ""
		changed = true
	}
	if clientSecret, ok := m.Get(config.ConfigClientSecret); ok && clientSecret != "" {
		newConfig.ClientSecret = clientSecret
		changed = true
	}
	return newConfig, changed
}

// NewClientWithBaseClient gets a token from the config file and
// configures a Client with it.  It returns the client and the
// TokenSource it uses.  It uses the httpClient passed in as the base
// client.
func NewClientWithBaseClient(ctx context.Context, name string, m configmap.Mapper, oauthConfig *oauth2.Config, baseClient *http.Client) (*http.Client, *TokenSource, error) {
	oauthConfig, _ = overrideCredentials(m, oauthConfig)
	token, err := GetToken(name, m)
	if err != nil {
		return nil, nil, err
	}

	// Set our own http client in the context
	ctx = Context(ctx, baseClient)

	// Wrap the TokenSource in our TokenSource which saves changed
	// tokens in the config file
	ts := &TokenSource{
		name:   name,
		m:      m,
		token:  token,
		config: oauthConfig,
		ctx:    ctx,
	}
	return oauth2.NewClient(ctx, ts), ts, nil
}

// NewClient gets a token from the config file and configures a Client
// with it.  It returns the client and the TokenSource it uses
func NewClient(ctx context.Context, name string, m configmap.Mapper, oauthConfig *oauth2.Config) (*http.Client, *TokenSource, error) {
	return NewClientWithBaseClient(ctx, name, m, oauthConfig, fshttp.NewClient(ctx))
}

// AuthResult is returned from the web server after authorization
// success or failure
type AuthResult struct {
	OK          bool // Failure or Success?
	Name        string
	Description string
	Code        string
	Form        url.Values // the complete contents of the form
}

// Error satisfies the error interface so AuthResult can be used as an error
func (ar *AuthResult) Error() string {
	status := "Error"
	if ar.OK {
		status = "OK"
	}
	return fmt.Sprintf("%s: %s\nCode: %q\nDescription: %s", status, ar.Name, ar.Code, ar.Description)
}

// CheckAuthFn is called when a good Auth has been received
type CheckAuthFn func(*oauth2.Config, *AuthResult) error

// Options for the oauth config
type Options struct {
	NoOffline  bool                    // If set then "access_type=offline" parameter is not passed
	CheckAuth  CheckAuthFn             // When the AuthResult is known the checkAuth function is called if set
	OAuth2Opts []oauth2.AuthCodeOption // extra oauth2 options
}

// Config runs the interactive OAuth flow for the account name.
//
// A browser is opened on the provider's consent page and a local
// webserver waits for the redirect carrying the code, which is then
// exchanged for a token and stored in m.
func Config(ctx context.Context, name string, m configmap.Mapper, oauthConfig *oauth2.Config, opt *Options) error {
	if opt == nil {
		opt = &Options{}
	}
	oauthConfig, changed := overrideCredentials(m, oauthConfig)
	if changed {
		fs.Logf(nil, "Make sure your Redirect URL is set to %q in your custom config.", oauthConfig.RedirectURL)
	}
	code, err := configSetup(ctx, name, m, oauthConfig, opt)
	if err != nil {
		return fs.AuthError(errors.Wrap(err, "config failed to get a token"), name)
	}
	return configExchange(ctx, name, m, oauthConfig, code)
}

// get the URL we need to send the user to
func getAuthURL(oauthConfig *oauth2.Config, opt *Options) (authURL string, state string, err error) {
	// Make random state
	state, err = random.Password(128)
	if err != nil {
		return "", "", err
	}

	// Generate oauth URL
	opts := opt.OAuth2Opts
	if !opt.NoOffline {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	authURL = oauthConfig.AuthCodeURL(state, opts...)
	return authURL, state, nil
}

// configSetup does the initial creation of the token
//
// It will run an internal webserver to receive the results
func configSetup(ctx context.Context, name string, m configmap.Mapper, oauthConfig *oauth2.Config, opt *Options) (string, error) {
	authorizeNoAutoBrowser := configmap.GetBool(m, config.ConfigAuthNoBrowser)

	authURL, state, err := getAuthURL(oauthConfig, opt)
	if err != nil {
		return "", err
	}

	// Prepare webserver
	server := newAuthServer(bindAddress, state, authURL)
	err = server.Init()
	if err != nil {
		return "", errors.Wrap(err, "failed to start auth webserver")
	}
	go server.Serve()
	defer server.Stop()
	authURL = "http://" + bindAddress + "/auth?state=" + state

	if !authorizeNoAutoBrowser {
		// Open the URL for the user to visit
		_ = open.Start(authURL)
		fs.Logf(nil, "If your browser doesn't open automatically go to the following link: %s", authURL)
	} else {
		fs.Logf(nil, "Please go to the following link: %s", authURL)
	}
	fs.Logf(nil, "Log in and authorize ddrive for access to %q", name)

	// Read the code via the webserver
	fs.Logf(nil, "Waiting for code...")
	var auth *AuthResult
	select {
	case auth = <-server.result:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if !auth.OK || auth.Code == "" {
		return "", auth
	}
	fs.Logf(nil, "Got code")
	if opt.CheckAuth != nil {
		err = opt.CheckAuth(oauthConfig, auth)
		if err != nil {
			return "", err
		}
	}
	return auth.Code, nil
}

// Exchange the code for a token
func configExchange(ctx context.Context, name string, m configmap.Mapper, oauthConfig *oauth2.Config, code string) error {
	ctx = Context(ctx, fshttp.NewClient(ctx))
	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		return fs.AuthError(errors.Wrap(err, "failed to get token"), name)
	}
	return PutToken(name, m, token)
}

// Local web server for collecting auth
type authServer struct {
	state       string
	listener    net.Listener
	bindAddress string
	authURL     string
	server      *http.Server
	result      chan *AuthResult
}

// newAuthServer makes the webserver for collecting auth
func newAuthServer(bindAddress, state, authURL string) *authServer {
	return &authServer{
		state:       state,
		bindAddress: bindAddress,
		authURL:     authURL, // http://host/auth redirects to here
		result:      make(chan *AuthResult, 1),
	}
}

// Receive the auth request
func (s *authServer) handleAuth(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		fs.Debugf(nil, "Ignoring %s request on auth server to %q", req.Method, req.URL.Path)
		http.NotFound(w, req)
		return
	}
	fs.Debugf(nil, "Received %s request on auth server to %q", req.Method, req.URL.Path)

	// Reply with the response to the user and to the channel
	reply := func(status int, res *AuthResult) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(status)
		if err := authResponse.Execute(w, res); err != nil {
			fs.Debugf(nil, "Could not execute template for web response.")
		}
		select {
		case s.result <- res:
		default:
			fs.Debugf(nil, "Ignoring repeated auth response")
		}
	}

	// Parse the form parameters and save them
	err := req.ParseForm()
	if err != nil {
		reply(http.StatusBadRequest, &AuthResult{
			Name:        "Parse form error",
			Description: err.Error(),
		})
		return
	}

	// get code, error if empty
	code := req.Form.Get("code")
	if code == "" {
		description := "No code returned by remote server"
		if providerErr := req.Form.Get("error"); providerErr != "" {
			description = providerErr
		}
		reply(http.StatusBadRequest, &AuthResult{
			Name:        "Auth Error",
			Description: description,
		})
		return
	}

	// check state
	state := req.Form.Get("state")
	if state != s.state {
		reply(http.StatusBadRequest, &AuthResult{
			Name:        "Auth state doesn't match",
			Description: fmt.Sprintf("Expecting %q got %q", s.state, state),
		})
		return
	}

	// code OK
	reply(http.StatusOK, &AuthResult{
		OK:   true,
		Code: code,
		Form: req.Form,
	})
}

// Init gets the internal web server ready to receive config details
func (s *authServer) Init() error {
	fs.Debugf(nil, "Starting auth server on %s", s.bindAddress)
	mux := http.NewServeMux()
	s.server = &http.Server{
		Addr:              s.bindAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server.SetKeepAlivesEnabled(false)

	mux.HandleFunc("/auth", func(w http.ResponseWriter, req *http.Request) {
		state := req.FormValue("state")
		if state != s.state {
			fs.Debugf(nil, "State did not match: want %q got %q", s.state, state)
			http.Error(w, "State did not match - please try again", http.StatusForbidden)
			return
		}
		fs.Debugf(nil, "Redirecting browser to: %s", s.authURL)
		http.Redirect(w, req, s.authURL, http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/", s.handleAuth)

	var err error
	s.listener, err = net.Listen("tcp", s.bindAddress)
	if err != nil {
		return err
	}
	return nil
}

// Serve the auth server, doesn't return
func (s *authServer) Serve() {
	err := s.server.Serve(s.listener)
	fs.Debugf(nil, "Closed auth server with error: %v", err)
}

// Stop the auth server by closing its socket
func (s *authServer) Stop() {
	fs.Debugf(nil, "Closing auth server")
	_ = s.listener.Close()

	// close the server
	_ = s.server.Close()
}
