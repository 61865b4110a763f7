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
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-kivik/couchdoc"
)

const defaultContentType = "application/octet-stream"

type commitFlags struct {
	id          string
	docPath     string
	sets        []string
	attachments []string
	strict      bool
}

func newCommitCmd(g *globalFlags) *cobra.Command {
	f := &commitFlags{}
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Create or update a document and its attachments",
		Long: `Stage a document from a JSON file and/or individual fields, then commit
it. The document is only written when it differs from the stored revision,
and attachments are only uploaded when their content changed.

When --id is omitted, a random UUID is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.run(cmd, g)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.id, "id", "", "document id")
	flags.StringVar(&f.docPath, "doc", "", "JSON file holding the document body")
	flags.StringArrayVar(&f.sets, "set", nil, "set a field, as key=value; JSON values are decoded")
	flags.StringArrayVar(&f.attachments, "attach", nil, "attach a file, as name=path[,content-type]")
	flags.BoolVar(&f.strict, "strict-attachments", false, "fail when an attachment cannot be uploaded")
	return cmd
}

func (f *commitFlags) run(cmd *cobra.Command, g *globalFlags) error {
	fields, err := f.fields()
	if err != nil {
		return err
	}
	atts, err := parseAttachments(f.attachments)
	if err != nil {
		return err
	}
	var opts []couchdoc.Option
	if f.strict {
		opts = append(opts, couchdoc.WithAttachmentPolicy(couchdoc.FailOnAttachmentError))
	}
	c, closer, err := g.client(cmd, opts...)
	if err != nil {
		return err
	}
	defer closer.Close() // nolint: errcheck

	id := f.id
	if id == "" {
		id = uuid.NewString()
	}
	c.SetID(id)
	c.Merge(fields)
	for _, att := range atts {
		c.AddAttachment(att.Name, att.ContentType, att.Source)
	}

	ok := c.Commit(cmd.Context())
	out := cmd.OutOrStdout()
	for _, r := range c.AttachmentResults() {
		if r.Err != nil {
			fmt.Fprintf(out, "attachment %s: %s (%s)\n", r.Name, r.Outcome, r.Err)
			continue
		}
		fmt.Fprintf(out, "attachment %s: %s\n", r.Name, r.Outcome)
	}
	if !ok {
		return errors.Wrapf(c.Err(), "commit %q", id)
	}
	fmt.Fprintf(out, "%s %s\n", c.ID(), c.Rev())
	return nil
}

// fields merges the --doc file and the --set flags, the latter taking
// precedence.
func (f *commitFlags) fields() (couchdoc.Document, error) {
	doc := couchdoc.Document{}
	if f.docPath != "" {
		data, err := os.ReadFile(f.docPath)
		if err != nil {
			return nil, errors.Wrap(err, "read document")
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrapf(err, "parse %s", f.docPath)
		}
	}
	for _, set := range f.sets {
		key, value, err := parseSet(set)
		if err != nil {
			return nil, err
		}
		doc[key] = value
	}
	return doc, nil
}

// parseSet splits key=value. A value that is valid JSON is decoded, anything
// else is kept as a string.
func parseSet(set string) (string, interface{}, error) {
	key, raw, ok := strings.Cut(set, "=")
	if !ok || key == "" {
		return "", nil, errors.Errorf("invalid --set %q, expected key=value", set)
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return key, raw, nil
	}
	return key, value, nil
}

// parseAttachments parses name=path[,content-type] specs. The content type
// defaults to one guessed from the file extension.
func parseAttachments(specs []string) ([]*couchdoc.Attachment, error) {
	atts := make([]*couchdoc.Attachment, 0, len(specs))
	for _, spec := range specs {
		name, rest, ok := strings.Cut(spec, "=")
		if !ok || name == "" || rest == "" {
			return nil, errors.Errorf("invalid --attach %q, expected name=path[,content-type]", spec)
		}
		path, contentType, _ := strings.Cut(rest, ",")
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(path))
		}
		if contentType == "" {
			contentType = defaultContentType
		}
		atts = append(atts, &couchdoc.Attachment{
			Name:        name,
			ContentType: contentType,
			Source:      couchdoc.FileSource(path),
		})
	}
	return atts, nil
}
