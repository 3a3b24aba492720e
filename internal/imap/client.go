package imap

import (
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// fetchChunkSize bounds the UID set per FETCH so one huge mailbox day
// cannot stall a single round trip indefinitely.
const fetchChunkSize = 50

type StandardClient struct {
	client  *client.Client
	timeout time.Duration
}

// NewStandardClient creates a new StandardClient with a default timeout of 30 seconds for IMAP operations
func NewStandardClient() *StandardClient {
	return &StandardClient{
		timeout: 30 * time.Second,
	}
}

// Connect establishes a connection to the IMAP server. Only TLS
// connections are accepted; a config asking for a plaintext connection
// is refused here rather than silently downgraded.
func (c *StandardClient) Connect(server string, ssl bool) error {
	if !ssl {
		return fmt.Errorf("refusing plaintext IMAP connection to %s", server)
	}
	cl, err := client.DialTLS(server, nil)
	if err != nil {
		return fmt.Errorf("IMAP connection error: %w", err)
	}
	c.client = cl
	return nil
}

// Login authenticates the user with the IMAP server using the provided username and password. It returns an error if authentication fails or if there is no active connection.
func (c *StandardClient) Login(user, password string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Login(user, password)
}

// SelectMailbox selects the specified mailbox read-only for subsequent
// operations. It returns an error if the mailbox cannot be selected or
// if there is no active connection.
func (c *StandardClient) SelectMailbox(name string) error {
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	_, err := c.client.Select(name, true)
	return err
}

// ListUIDsSince retrieves the UIDs of all messages received on or
// after the given date, regardless of seen state. IMAP SINCE has
// date granularity; the caller filters to the exact window bounds
// after parsing.
func (c *StandardClient) ListUIDsSince(since time.Time) ([]uint32, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("error searching mailbox: %w", err)
	}

	return uids, nil
}

// FetchMessages retrieves the full messages for the given UIDs in
// chunks, preserving server order within each chunk. Bodies are
// fetched with BODY.PEEK so the seen flag is never set.
func (c *StandardClient) FetchMessages(uids []uint32) ([]*imap.Message, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	var out []*imap.Message
	for start := 0; start < len(uids); start += fetchChunkSize {
		end := start + fetchChunkSize
		if end > len(uids) {
			end = len(uids)
		}
		chunk, err := c.fetchChunk(uids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (c *StandardClient) fetchChunk(uids []uint32) ([]*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid}

	prevTimeout := c.client.Timeout
	c.client.Timeout = c.timeout
	defer func() { c.client.Timeout = prevTimeout }()

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var out []*imap.Message
	for m := range messages {
		out = append(out, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("error fetching %d messages: %w", len(uids), err)
	}
	return out, nil
}

// Close logs out from the IMAP server and closes the connection. It returns an error if the logout operation fails. If there is no active connection, it simply returns nil.
func (c *StandardClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Logout()
}
