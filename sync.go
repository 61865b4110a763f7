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

package couchdoc

import (
	"context"
	"log/slog"
	"net/http"
)

type syncState int

const (
	stateIdle syncState = iota
	stateFetching
	stateCreating
	stateDiffing
	stateWriting
	stateNoOp
	stateAttachments
	stateDone
	stateFailed
)

var stateNames = [...]string{
	stateIdle:        "idle",
	stateFetching:    "fetching",
	stateCreating:    "creating",
	stateDiffing:     "diffing",
	stateWriting:     "writing",
	stateNoOp:        "noop",
	stateAttachments: "attachments",
	stateDone:        "done",
	stateFailed:      "failed",
}

func (s syncState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Write kinds, as reported in syncResult.write and the metrics.
const (
	writeNone    = ""
	writeCreate  = "create"
	writeReplace = "replace"
)

// synchronizer drives one document through fetch, create-or-diff-update and
// attachment reconciliation.
type synchronizer struct {
	transport  Transport
	reconciler *reconciler
	policy     AttachmentPolicy
	logger     *slog.Logger
	metrics    *Metrics
}

// syncResult is the outcome of one synchronization cycle.
type syncResult struct {
	state syncState
	id    string
	rev   string
	write string
	// changes is the diff that triggered a replace.
	changes     []Change
	attachments []AttachmentResult
	// attachmentsDone is set once the attachment phase has run.
	attachmentsDone bool
	failure         *Failure
}

// syncCycle carries the working state of a single run.
type syncCycle struct {
	*syncResult
	staged  Document
	atts    map[string]*Attachment
	current Document
	payload Document
}

func (s *synchronizer) run(ctx context.Context, id string, staged Document, atts map[string]*Attachment) *syncResult {
	c := &syncCycle{
		syncResult: &syncResult{id: id},
		staged:     staged,
		atts:       atts,
	}
	st := stateFetching
	for {
		s.logger.Debug("sync state", "doc", id, "state", st.String())
		switch st {
		case stateFetching:
			st = s.fetch(ctx, c)
		case stateCreating:
			st = s.create(ctx, c)
		case stateDiffing:
			st = s.diff(c)
		case stateWriting:
			st = s.replace(ctx, c)
		case stateNoOp:
			st = stateAttachments
		case stateAttachments:
			st = s.reconcile(ctx, c)
		default:
			c.state = st
			return c.syncResult
		}
	}
}

func (s *synchronizer) fail(c *syncCycle, op Operation, err error) syncState {
	c.failure = NewFailure(err)
	s.logger.Error("sync failed", "doc", c.id, "op", op.String(), "status", c.failure.Status, "error", c.failure.ErrorCode, "reason", c.failure.Reason)
	return stateFailed
}

func (s *synchronizer) fetch(ctx context.Context, c *syncCycle) syncState {
	doc, err := s.transport.FindDocument(ctx, c.id)
	class, _ := Classify(OpFindDocument, err)
	switch class {
	case NoFailure:
		c.current = doc
		return stateDiffing
	case DatabaseMissing:
		// A freshly created database cannot hold the document, so the
		// lookup is not repeated.
		if err := s.createDatabase(ctx); err != nil {
			return s.fail(c, OpCreateDatabase, err)
		}
		return stateCreating
	case DocumentMissing, DocumentDeleted:
		// A deleted document is recreated from scratch; its tombstone
		// revision is discarded.
		return stateCreating
	}
	return s.fail(c, OpFindDocument, err)
}

func (s *synchronizer) createDatabase(ctx context.Context) error {
	err := s.transport.CreateDatabase(ctx)
	if f := NewFailure(err); f != nil {
		if f.Status == http.StatusPreconditionFailed {
			// Created concurrently by another writer.
			s.logger.Debug("database already exists")
			return nil
		}
		return err
	}
	s.logger.Info("database created")
	s.metrics.databaseCreated()
	return nil
}

func (s *synchronizer) create(ctx context.Context, c *syncCycle) syncState {
	payload := c.staged.Copy()
	payload[fieldID] = c.id
	delete(payload, fieldRev)
	delete(payload, fieldAttachments)
	delete(payload, fieldDeleted)

	id, rev, err := s.transport.CreateDocument(ctx, payload)
	if class, _ := Classify(OpCreateDocument, err); class == DatabaseMissing {
		if err := s.createDatabase(ctx); err != nil {
			return s.fail(c, OpCreateDatabase, err)
		}
		// Retried once. Whatever the second attempt returns stands.
		id, rev, err = s.transport.CreateDocument(ctx, payload)
	}
	if err != nil {
		return s.fail(c, OpCreateDocument, err)
	}
	if id != "" {
		c.id = id
	}
	c.rev = rev
	c.write = writeCreate
	s.metrics.write(writeCreate)
	s.logger.Info("document created", "doc", c.id, "rev", rev)
	return stateAttachments
}

func (s *synchronizer) diff(c *syncCycle) syncState {
	merged := c.staged.Copy()
	for _, field := range []string{fieldID, fieldRev, fieldAttachments} {
		if v, ok := c.current[field]; ok {
			merged[field] = v
		} else {
			delete(merged, field)
		}
	}
	payload, err := normalize(merged)
	if err != nil {
		return s.fail(c, OpReplaceDocument, err)
	}
	current, err := ValueOf(map[string]interface{}(c.current))
	if err != nil {
		return s.fail(c, OpFindDocument, err)
	}
	staged, err := ValueOf(map[string]interface{}(payload))
	if err != nil {
		return s.fail(c, OpReplaceDocument, err)
	}
	c.rev = c.current.Rev()
	c.changes = Diff(current, staged)
	if len(c.changes) == 0 {
		s.logger.Debug("document unchanged", "doc", c.id, "rev", c.rev)
		return stateNoOp
	}
	c.payload = payload
	return stateWriting
}

func (s *synchronizer) replace(ctx context.Context, c *syncCycle) syncState {
	rev, err := s.transport.ReplaceDocument(ctx, c.payload, c.id, c.current.Rev())
	if err != nil {
		return s.fail(c, OpReplaceDocument, err)
	}
	c.rev = rev
	c.write = writeReplace
	s.metrics.write(writeReplace)
	s.logger.Info("document updated", "doc", c.id, "rev", rev, "changes", len(c.changes))
	return stateAttachments
}

func (s *synchronizer) reconcile(ctx context.Context, c *syncCycle) syncState {
	if len(c.atts) == 0 {
		return stateDone
	}
	c.attachmentsDone = true
	upload, results, err := s.reconciler.plan(ctx, c.id, c.atts)
	if err != nil {
		s.logger.Warn("attachment manifest unavailable", "doc", c.id, "error", err)
		for name := range c.atts {
			c.attachments = append(c.attachments, AttachmentResult{Name: name, Outcome: AttachmentFailed, Err: err})
			s.metrics.attachment(AttachmentFailed)
		}
		if s.policy == FailOnAttachmentError {
			return s.fail(c, OpFetchAttachments, err)
		}
		return stateDone
	}
	rev, uploaded := s.reconciler.upload(ctx, c.id, c.rev, upload)
	c.rev = rev
	c.attachments = append(results, uploaded...)
	var firstErr error
	for _, r := range c.attachments {
		s.metrics.attachment(r.Outcome)
		if r.Outcome == AttachmentFailed && firstErr == nil {
			firstErr = r.Err
		}
	}
	if firstErr != nil && s.policy == FailOnAttachmentError {
		return s.fail(c, OpPutAttachment, firstErr)
	}
	return stateDone
}
