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

package main

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/go-kivik/couchdoc"
	"github.com/go-kivik/couchdoc/config"
)

type globalFlags struct {
	configPath string
	profile    string
	logFile    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "couchdoc",
		Short:         "Commit and inspect CouchDB documents",
		Version:       couchdoc.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "couchdoc.yaml", "connection profiles file")
	flags.StringVarP(&g.profile, "profile", "p", "default", "connection profile name")
	flags.StringVar(&g.logFile, "log-file", "", "write logs to this file, rotated, instead of stderr")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(newCommitCmd(g), newShowCmd(g))
	return root
}

// logger returns the logger selected by the flags, and a closer for its
// output.
func (g *globalFlags) logger(stderr io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if g.logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   g.logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out, closer = lj, lj
		if level > slog.LevelInfo {
			level = slog.LevelInfo
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// connection loads the selected profile with environment overrides applied.
func (g *globalFlags) connection() (config.Connection, error) {
	conn, err := config.Load(g.configPath, g.profile)
	if err != nil {
		return conn, err
	}
	conn, err = conn.ApplyEnviron()
	if err != nil {
		return conn, err
	}
	return conn, errors.Wrapf(conn.Validate(), "profile %q", g.profile)
}

func (g *globalFlags) client(cmd *cobra.Command, opts ...couchdoc.Option) (*couchdoc.Client, io.Closer, error) {
	conn, err := g.connection()
	if err != nil {
		return nil, nil, err
	}
	logger, closer := g.logger(cmd.ErrOrStderr())
	opts = append([]couchdoc.Option{
		couchdoc.WithLogger(logger),
		couchdoc.WithUserAgent("couchdoc-cli/" + couchdoc.Version),
	}, opts...)
	c, err := couchdoc.New(conn, opts...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return c, closer, nil
}
