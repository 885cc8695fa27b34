package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"dispatch/internal/api"
	"dispatch/internal/daemon"
	"dispatch/internal/logging"
	"dispatch/internal/logs"
	"dispatch/internal/scheduler"
	"dispatch/internal/store"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Dispatch", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun dispatch stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockFilePath
	resp.TaskTypes = status.TaskTypes
	resp.QueueStats = api.MergeQueueStats(status.Scheduler.QueueStats)
	resp.LastError = status.Scheduler.LastError
	if status.Scheduler.LastItem != nil {
		item := api.FromWorkItem(status.Scheduler.LastItem)
		resp.LastItem = &item
	}
	return nil
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	enqueue := scheduler.EnqueueRequest{
		SessionID:        req.SessionID,
		WorkflowID:       req.WorkflowID,
		TaskType:         req.TaskType,
		Capabilities:     req.Capabilities,
		Priority:         req.Priority,
		Payload:          req.Payload,
		CreatedByAgentID: req.CreatedByAgentID,
	}
	if req.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			return fmt.Errorf("invalid deadline: %w", err)
		}
		enqueue.Deadline = &deadline
	}
	item, err := s.daemon.Scheduler().Enqueue(s.ctx, enqueue)
	if err != nil {
		return err
	}
	resp.Item = api.FromWorkItem(item)
	s.log().Info("work item enqueued via IPC",
		logging.String(logging.FieldEventType, "work_enqueue"),
		logging.Int64(logging.FieldItemID, item.ID))
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]store.ItemStatus, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		parsed, ok := store.ParseItemStatus(status)
		if !ok {
			continue
		}
		statuses = append(statuses, parsed)
	}
	items, err := s.daemon.Queue().List(s.ctx, statuses...)
	if err != nil {
		return err
	}
	resp.Items = items
	return nil
}

func (s *service) QueueDescribe(req QueueDescribeRequest, resp *QueueDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid work item id %d", req.ID)
	}
	item, err := s.daemon.Queue().Describe(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("work item %d not found", req.ID)
	}
	resp.Item = *item
	return nil
}

func (s *service) QueueCancel(req QueueCancelRequest, resp *QueueCancelResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("queue cancel requires at least one id")
	}
	s.log().Debug("queue cancel requested", logging.Int("item_count", len(req.IDs)))
	var updated int64
	for _, id := range req.IDs {
		if err := s.daemon.Scheduler().Cancel(s.ctx, id); err != nil {
			s.log().Warn("cancel failed",
				logging.Int64(logging.FieldItemID, id),
				logging.Error(err))
			continue
		}
		updated++
	}
	resp.Updated = updated
	s.log().Info("queue items cancelled",
		logging.String(logging.FieldEventType, "queue_cancel"),
		logging.Int64("updated_count", updated))
	return nil
}

func (s *service) AgentList(_ AgentListRequest, resp *AgentListResponse) error {
	agents, err := s.daemon.AgentViews(s.ctx)
	if err != nil {
		return err
	}
	resp.Agents = agents
	return nil
}

func (s *service) SessionList(_ SessionListRequest, resp *SessionListResponse) error {
	sessions, err := s.daemon.Sessions().List(s.ctx)
	if err != nil {
		return err
	}
	resp.Sessions = make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, api.FromSession(sess))
	}
	return nil
}

func (s *service) SessionProgress(req SessionProgressRequest, resp *SessionProgressResponse) error {
	if req.SessionID == "" {
		return errors.New("session progress requires a session id")
	}
	progress, err := s.daemon.SessionProgressView(s.ctx, req.SessionID, req.IncludeItems)
	if err != nil {
		return err
	}
	resp.Progress = *progress
	return nil
}

func (s *service) DLQList(_ DLQListRequest, resp *DLQListResponse) error {
	entries, err := s.daemon.DLQ().List(s.ctx)
	if err != nil {
		return err
	}
	resp.Entries = api.FromDLQEntries(entries)
	return nil
}

func (s *service) DLQReprocess(req DLQReprocessRequest, resp *DLQReprocessResponse) error {
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "cli"
	}
	entry, err := s.daemon.DLQ().Reprocess(s.ctx, req.EntryID, triggeredBy)
	if err != nil {
		return err
	}
	resp.Entry = api.FromDLQEntry(entry)
	s.log().Info("dead letter reprocessed via IPC",
		logging.String(logging.FieldEventType, "dlq_reprocess"),
		logging.String("entry_id", req.EntryID))
	return nil
}

func (s *service) DLQEscalate(req DLQEscalateRequest, resp *DLQEscalateResponse) error {
	entry, err := s.daemon.DLQ().Escalate(s.ctx, req.EntryID, req.Reason)
	if err != nil {
		return err
	}
	resp.Entry = api.FromDLQEntry(entry)
	s.log().Info("dead letter escalated via IPC",
		logging.String(logging.FieldEventType, "dlq_escalate"),
		logging.String("entry_id", req.EntryID))
	return nil
}

func (s *service) WorkflowDescribe(req WorkflowDescribeRequest, resp *WorkflowDescribeResponse) error {
	if req.WorkflowID == "" {
		return errors.New("workflow describe requires a workflow id")
	}
	wf, err := s.daemon.Workflows().Get(s.ctx, req.WorkflowID)
	if err != nil {
		return err
	}
	transitions, err := s.daemon.Workflows().History(s.ctx, req.WorkflowID)
	if err != nil {
		return err
	}
	resp.Workflow = api.FromWorkflow(wf)
	resp.Transitions = api.FromTransitions(transitions)
	return nil
}

func (s *service) WorkflowSummary(req WorkflowSummaryRequest, resp *WorkflowSummaryResponse) error {
	window := time.Duration(req.WindowSeconds) * time.Second
	summary, err := s.daemon.PhaseSummaryView(s.ctx, window)
	if err != nil {
		return err
	}
	resp.Summary = summary
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
