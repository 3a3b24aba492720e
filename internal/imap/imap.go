package imap

import (
	"time"

	"github.com/emersion/go-imap"
)

// Client is the mailbox access surface the pipeline depends on. The
// ingestion path is strictly read only: no flag changes, no moves, no
// deletes ever reach the server.
type Client interface {
	Connect(server string, ssl bool) error
	Login(user, password string) error
	SelectMailbox(name string) error
	ListUIDsSince(since time.Time) ([]uint32, error)
	FetchMessages(uids []uint32) ([]*imap.Message, error)
	Close() error
}
