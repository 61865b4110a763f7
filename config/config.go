// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package config loads CouchDB connection profiles.
//
// Profiles are read from a YAML file of the form
//
//	profiles:
//	  default:
//	    scheme: https
//	    host: couch.example.com
//	    port: 6984
//	    database: invoices
//	    username: app
//	    password: secret
//	    auth: cookie
//	    timeout: 10s
//
// and may be overridden by COUCHDOC_* environment variables.
package config

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-kivik/couchdoc/chttp"
)

// Supported authentication mechanisms.
const (
	AuthBasic  = "basic"
	AuthCookie = "cookie"
	AuthProxy  = "proxy"
)

// Defaults applied by Connection.DSN.
const (
	DefaultScheme = "http"
	DefaultPort   = 5984
)

// ErrProfileNotFound is returned by Load when the named profile does not exist.
var ErrProfileNotFound = errors.New("config: profile not found")

// Connection describes how to reach a single CouchDB database.
type Connection struct {
	Scheme   string `yaml:"scheme"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Auth is one of AuthBasic (the default when a username is set),
	// AuthCookie or AuthProxy.
	Auth string `yaml:"auth"`
	// ProxySecret signs proxy auth headers. Only used with AuthProxy.
	ProxySecret string   `yaml:"proxy_secret"`
	Roles       []string `yaml:"roles"`
	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

type file struct {
	Profiles map[string]Connection `yaml:"profiles"`
}

// Load reads the named profile from the YAML file at path.
func Load(path, profile string) (Connection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Connection{}, errors.Wrap(err, "config: read profiles")
	}
	return Parse(data, profile)
}

// Parse reads the named profile from YAML data.
func Parse(data []byte, profile string) (Connection, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Connection{}, errors.Wrap(err, "config: parse profiles")
	}
	conn, ok := f.Profiles[profile]
	if !ok {
		return Connection{}, errors.Wrapf(ErrProfileNotFound, "%q", profile)
	}
	return conn, nil
}

// overrides are the environment variables that replace profile values.
type overrides struct {
	Scheme      string `env:"COUCHDOC_SCHEME"`
	Host        string `env:"COUCHDOC_HOST"`
	Port        string `env:"COUCHDOC_PORT"`
	Database    string `env:"COUCHDOC_DATABASE"`
	Username    string `env:"COUCHDOC_USERNAME"`
	Password    string `env:"COUCHDOC_PASSWORD"`
	Auth        string `env:"COUCHDOC_AUTH"`
	ProxySecret string `env:"COUCHDOC_PROXY_SECRET"`
	Roles       string `env:"COUCHDOC_ROLES"`
	Timeout     string `env:"COUCHDOC_TIMEOUT"`
}

// ApplyEnviron overlays the COUCHDOC_* variables of the process environment
// onto c.
func (c Connection) ApplyEnviron() (Connection, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return c, errors.Wrap(err, "config: read environment")
	}
	return c.ApplyEnv(es)
}

// ApplyEnv overlays the non-empty COUCHDOC_* variables in es onto c.
func (c Connection) ApplyEnv(es env.EnvSet) (Connection, error) {
	var o overrides
	if err := env.Unmarshal(es, &o); err != nil {
		return c, errors.Wrap(err, "config: parse environment")
	}
	setString(&c.Scheme, o.Scheme)
	setString(&c.Host, o.Host)
	setString(&c.Database, o.Database)
	setString(&c.Username, o.Username)
	setString(&c.Password, o.Password)
	setString(&c.Auth, o.Auth)
	setString(&c.ProxySecret, o.ProxySecret)
	if o.Roles != "" {
		c.Roles = splitRoles(o.Roles)
	}
	if o.Port != "" {
		port, err := strconv.Atoi(o.Port)
		if err != nil {
			return c, errors.Wrap(err, "config: COUCHDOC_PORT")
		}
		c.Port = port
	}
	if o.Timeout != "" {
		timeout, err := time.ParseDuration(o.Timeout)
		if err != nil {
			return c, errors.Wrap(err, "config: COUCHDOC_TIMEOUT")
		}
		c.Timeout = timeout
	}
	return c, nil
}

// splitRoles parses a comma-separated role list, dropping empty entries.
func splitRoles(value string) []string {
	var roles []string
	for _, role := range strings.Split(value, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Validate checks that c is complete enough to connect.
func (c Connection) Validate() error {
	if c.Host == "" {
		return errors.New("config: host required")
	}
	if c.Database == "" {
		return errors.New("config: database required")
	}
	switch c.Scheme {
	case "", "http", "https":
	default:
		return errors.Errorf("config: unsupported scheme %q", c.Scheme)
	}
	switch c.Auth {
	case "", AuthBasic, AuthCookie:
	case AuthProxy:
		if c.Username == "" {
			return errors.New("config: proxy auth requires a username")
		}
	default:
		return errors.Errorf("config: unsupported auth %q", c.Auth)
	}
	return nil
}

// DSN returns the server URL, without credentials.
func (c Connection) DSN() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/",
	}
	return u.String()
}

// Authenticator returns the chttp.Authenticator for c, or nil when no
// credentials are configured.
func (c Connection) Authenticator() chttp.Authenticator {
	switch c.Auth {
	case AuthCookie:
		return &chttp.CookieAuth{Username: c.Username, Password: c.Password}
	case AuthProxy:
		return &chttp.ProxyAuth{Username: c.Username, Secret: c.ProxySecret, Roles: c.Roles}
	}
	if c.Username == "" {
		return nil
	}
	return &chttp.BasicAuth{Username: c.Username, Password: c.Password}
}

// HTTPClient returns an *http.Client honoring c.Timeout.
func (c Connection) HTTPClient() *http.Client {
	return &http.Client{Timeout: c.Timeout}
}
