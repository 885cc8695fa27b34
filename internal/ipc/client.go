package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Dispatch.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Dispatch.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Dispatch.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue submits a new work item to the scheduler.
func (c *Client) Enqueue(req EnqueueRequest) (*EnqueueResponse, error) {
	var resp EnqueueResponse
	if err := c.client.Call("Dispatch.Enqueue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns work items optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	req := QueueListRequest{Statuses: statuses}
	if err := c.client.Call("Dispatch.QueueList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueDescribe returns details for a single work item.
func (c *Client) QueueDescribe(id int64) (*QueueDescribeResponse, error) {
	var resp QueueDescribeResponse
	req := QueueDescribeRequest{ID: id}
	if err := c.client.Call("Dispatch.QueueDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueCancel cancels work items by id.
func (c *Client) QueueCancel(ids []int64) (*QueueCancelResponse, error) {
	var resp QueueCancelResponse
	req := QueueCancelRequest{IDs: ids}
	if err := c.client.Call("Dispatch.QueueCancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentList returns registered agents with current loads.
func (c *Client) AgentList() (*AgentListResponse, error) {
	var resp AgentListResponse
	if err := c.client.Call("Dispatch.AgentList", AgentListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionList returns known sessions.
func (c *Client) SessionList() (*SessionListResponse, error) {
	var resp SessionListResponse
	if err := c.client.Call("Dispatch.SessionList", SessionListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionProgress returns aggregate progress for one session.
func (c *Client) SessionProgress(sessionID string, includeItems bool) (*SessionProgressResponse, error) {
	var resp SessionProgressResponse
	req := SessionProgressRequest{SessionID: sessionID, IncludeItems: includeItems}
	if err := c.client.Call("Dispatch.SessionProgress", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DLQList returns dead letter entries.
func (c *Client) DLQList() (*DLQListResponse, error) {
	var resp DLQListResponse
	if err := c.client.Call("Dispatch.DLQList", DLQListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DLQReprocess requeues a dead lettered item.
func (c *Client) DLQReprocess(entryID, triggeredBy string) (*DLQReprocessResponse, error) {
	var resp DLQReprocessResponse
	req := DLQReprocessRequest{EntryID: entryID, TriggeredBy: triggeredBy}
	if err := c.client.Call("Dispatch.DLQReprocess", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DLQEscalate flags a dead letter entry for human attention.
func (c *Client) DLQEscalate(entryID, reason string) (*DLQEscalateResponse, error) {
	var resp DLQEscalateResponse
	req := DLQEscalateRequest{EntryID: entryID, Reason: reason}
	if err := c.client.Call("Dispatch.DLQEscalate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowDescribe returns a workflow with its transition history.
func (c *Client) WorkflowDescribe(workflowID string) (*WorkflowDescribeResponse, error) {
	var resp WorkflowDescribeResponse
	req := WorkflowDescribeRequest{WorkflowID: workflowID}
	if err := c.client.Call("Dispatch.WorkflowDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkflowSummary returns aggregate phase statistics over a trailing window.
func (c *Client) WorkflowSummary(windowSeconds int) (*WorkflowSummaryResponse, error) {
	var resp WorkflowSummaryResponse
	req := WorkflowSummaryRequest{WindowSeconds: windowSeconds}
	if err := c.client.Call("Dispatch.WorkflowSummary", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Dispatch.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
