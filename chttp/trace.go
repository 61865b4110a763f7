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

package chttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

type traceKey struct{}

// ClientTrace holds hooks run for every response DoReq receives. Either hook
// may be nil.
type ClientTrace struct {
	// HTTPResponse receives a copy of the response with a nil Body.
	HTTPResponse func(*http.Response)

	// HTTPResponseBody receives a copy of the response with a nil Body, and
	// the fully buffered body. The caller of DoReq still reads the same bytes.
	HTTPResponseBody func(*http.Response, []byte)
}

// WithClientTrace returns a copy of ctx carrying trace. A nil trace returns
// ctx unchanged.
func WithClientTrace(ctx context.Context, trace *ClientTrace) context.Context {
	if trace == nil {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, trace)
}

// ContextClientTrace returns the ClientTrace carried by ctx, or nil.
func ContextClientTrace(ctx context.Context) *ClientTrace {
	trace, _ := ctx.Value(traceKey{}).(*ClientTrace)
	return trace
}

func (t *ClientTrace) observe(r *http.Response) {
	if t.HTTPResponse != nil {
		head := *r
		head.Body = nil
		t.HTTPResponse(&head)
	}
	if t.HTTPResponseBody == nil || r.Body == nil {
		return
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = &bufferedBody{Reader: bytes.NewReader(body), err: err}
	head := *r
	head.Body = nil
	t.HTTPResponseBody(&head, body)
}

// bufferedBody replays a body that was already read, ending with the error
// that interrupted the original read, if any.
type bufferedBody struct {
	*bytes.Reader
	err error
}

func (b *bufferedBody) Read(p []byte) (int, error) {
	n, err := b.Reader.Read(p)
	if err == io.EOF && b.err != nil {
		err = b.err
	}
	return n, err
}

func (b *bufferedBody) Close() error {
	return nil
}
