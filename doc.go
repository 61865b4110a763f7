/*
Package couchdoc persists application model objects as CouchDB documents.

A Client is bound to one database. Each logical document is staged, then
committed:

	c, _ := couchdoc.New(config.Connection{Host: "localhost", Database: "invoices"},
		couchdoc.WithTemplate(couchdoc.Document{"type": "invoice"}),
		couchdoc.WithDateFields(map[string]string{"issued": "2006-01-02"}),
	)
	c.SetID("invoice-42")
	_ = c.StageDates(couchdoc.StructModel(invoice))
	c.AddAttachment("invoice.pdf", "application/pdf", couchdoc.FileSource("/tmp/42.pdf"))
	if !c.Commit(ctx) {
		log.Print(c.Err())
	}

Synchronization

Commit fetches the current document first. If the document does not exist, or
was deleted, it is created. If the database does not exist, it is created and
the document with it. Otherwise the staged document is compared with the
fetched one, and a replace is issued against the fetched revision only when
they differ. A rejected replace, such as a 409 Conflict from a concurrent
writer, fails the commit; retry by committing again, which fetches afresh.

Attachments

Staged attachments are compared by MD5 digest against the attachment stubs of
the stored document, and only new or changed content is uploaded. Each upload
uses the revision returned by the previous write. By default upload failures
are logged and reported by AttachmentResults without failing the commit; use
WithAttachmentPolicy(FailOnAttachmentError) to change that.

Errors

Commit returns false on failure. Err then returns the server's status, error
code and reason. Commit returning true does not tell whether a write occurred.
*/
package couchdoc
