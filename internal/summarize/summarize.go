// Package summarize flattens retrieved documents into a prompt-ready digest.
package summarize

import (
	"strings"

	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

// maxDocuments bounds how many retrieved documents feed the digest. Results
// beyond the first three add prompt tokens without improving grounding.
const maxDocuments = 3

// Documents renders up to the first three documents as two-line blocks
// joined by blank lines:
//
//	- {title}
//	  {content}
//
// Missing titles render as empty strings. An empty result list yields "".
// Pure function; total over its domain.
func Documents(docs []vectorstore.Document) string {
	if len(docs) > maxDocuments {
		docs = docs[:maxDocuments]
	}

	blocks := make([]string, 0, len(docs))
	for _, d := range docs {
		blocks = append(blocks, "- "+d.Title+"\n  "+d.Content)
	}
	return strings.Join(blocks, "\n\n")
}
