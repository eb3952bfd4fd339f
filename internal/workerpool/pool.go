package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bottomsky/algotirhm-sdk/internal/envelope"
	"github.com/bottomsky/algotirhm-sdk/internal/execution"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

// Config configures a Pool. Command/Args/Env describe how to re-exec this
// same binary in worker mode (see child.go); the worker inherits Env, which
// must carry ALGO_MODULES so it bootstraps an identical spec registry.
type Config struct {
	MaxWorkers int
	QueueSize  int // defaults to 2*MaxWorkers
	KillGraceS float64
	// KillTree selects whole-tree termination (POSIX process-group kill,
	// Windows taskkill /T) over signaling only the worker process itself.
	KillTree bool
	Command    string
	Args       []string
	Env        []string
	Logger     telemetry.Logger
	// SweepInterval controls the periodic liveness sweep of idle workers.
	// Defaults to 2s. Supervision is single-node: one supervisor owns its
	// own child processes, so a plain time.Ticker suffices.
	SweepInterval time.Duration
}

type worker struct {
	id      string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	writer  *frameWriter

	mu          sync.Mutex
	currentTask string // task_id this worker is presently executing, "" if idle
	dead        bool
}

type pendingTask struct {
	workerID    string
	submittedAt time.Time
	resultCh    chan Response
}

// Pool is the supervised worker pool: a shared set of long-lived child
// processes, a bounded admission semaphore, hard timeout-kill-and-respawn,
// and crash recovery.
type Pool struct {
	cfg Config
	sem *semaphore.Weighted

	mu        sync.Mutex
	idle      []*worker
	byID      map[string]*worker
	pending   map[string]*pendingTask
	outbound  chan workerFrame
	sweepStop chan struct{}
	started   bool
	stopped   bool
}

type workerFrame struct {
	workerID string
	resp     Response
	err      error // non-nil means the worker's read loop ended (EOF/crash)
}

// New returns a Pool ready to Start. Command/Args/Env must be set on cfg so
// the pool can re-exec this binary in worker mode.
func New(cfg Config) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2 * cfg.MaxWorkers
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NoopLogger{}
	}
	p := &Pool{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.QueueSize)),
		byID:     make(map[string]*worker),
		pending:  make(map[string]*pendingTask),
		outbound: make(chan workerFrame, cfg.MaxWorkers),
	}
	return p
}

// Start spawns MaxWorkers child processes and begins draining their shared
// outbound channel. Start is idempotent.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.sweepStop = make(chan struct{})
	p.mu.Unlock()

	for i := 0; i < p.cfg.MaxWorkers; i++ {
		w, err := p.spawn(ctx)
		if err != nil {
			return fmt.Errorf("spawn worker %d: %w", i, err)
		}
		p.mu.Lock()
		p.idle = append(p.idle, w)
		p.byID[w.id] = w
		p.mu.Unlock()
	}

	go p.drainOutbound()
	go p.sweepLiveness()
	return nil
}

func (p *Pool) spawn(ctx context.Context) (*worker, error) {
	id := uuid.NewString()
	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Env = p.cfg.Env
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	w := &worker{id: id, cmd: cmd, stdin: stdin, stdout: stdout, writer: newFrameWriter(stdin)}
	go p.readLoop(w)
	p.cfg.Logger.Info(ctx, "worker spawned", "worker_id", id, "pid", cmd.Process.Pid)
	return w, nil
}

// readLoop drains one worker's stdout and forwards every Response onto the
// shared outbound channel. When the pipe closes or errors it reports the
// crash via the same channel so drainOutbound can complete any pending task
// and trigger a respawn.
func (p *Pool) readLoop(w *worker) {
	reader := newFrameReader(w.stdout)
	for {
		var resp Response
		if err := reader.ReadFrame(&resp); err != nil {
			p.outbound <- workerFrame{workerID: w.id, err: err}
			return
		}
		p.outbound <- workerFrame{workerID: w.id, resp: resp}
	}
}

func (p *Pool) drainOutbound() {
	for {
		select {
		case <-p.sweepStop:
			return
		case frame, ok := <-p.outbound:
			if !ok {
				return
			}
			if frame.err != nil {
				p.handleCrash(frame.workerID)
				continue
			}
			p.completeTask(frame.workerID, frame.resp)
		}
	}
}

func (p *Pool) completeTask(workerID string, resp Response) {
	p.mu.Lock()
	pt, ok := p.pending[resp.TaskID]
	if ok {
		delete(p.pending, resp.TaskID)
	}
	w := p.byID[workerID]
	if w != nil {
		w.mu.Lock()
		w.currentTask = ""
		w.mu.Unlock()
		if !w.dead {
			p.idle = append(p.idle, w)
		}
	}
	p.mu.Unlock()
	if ok {
		pt.resultCh <- resp
	}
}

// handleCrash runs when a worker's read loop observes EOF or a decode
// error: any task it was executing is completed with a "system" error
// and a replacement worker is spawned.
// Other in-flight tasks on other workers are unaffected.
func (p *Pool) handleCrash(workerID string) {
	p.mu.Lock()
	w := p.byID[workerID]
	if w == nil || w.dead {
		p.mu.Unlock()
		return
	}
	w.dead = true
	taskID := w.currentTask
	p.mu.Unlock()

	p.cfg.Logger.Warn(context.Background(), "worker crashed", "worker_id", workerID)
	if taskID != "" {
		p.mu.Lock()
		pt, ok := p.pending[taskID]
		if ok {
			delete(p.pending, taskID)
		}
		p.mu.Unlock()
		if ok {
			pt.resultCh <- Response{
				TaskID:  taskID,
				Success: false,
				Error:   &WireError{Kind: string(envelope.KindSystem), Message: "worker crashed"},
			}
		}
	}
	p.respawnReplacing(workerID)
}

func (p *Pool) respawnReplacing(deadID string) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	nw, err := p.spawn(context.Background())
	if err != nil {
		p.cfg.Logger.Error(context.Background(), "failed to respawn worker", "dead_worker_id", deadID, "error", err)
		return
	}
	p.mu.Lock()
	delete(p.byID, deadID)
	p.byID[nw.id] = nw
	p.idle = append(p.idle, nw)
	p.mu.Unlock()
}

// sweepLiveness periodically checks idle workers whose OS process has
// already exited without the read loop having noticed yet (e.g. the pipe
// hasn't been closed but the process table says it's gone). This is a
// backstop; the primary detection path is readLoop observing EOF.
func (p *Pool) sweepLiveness() {
	t := time.NewTicker(p.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-p.sweepStop:
			return
		case <-t.C:
			p.mu.Lock()
			suspects := make([]*worker, 0, len(p.idle))
			suspects = append(suspects, p.idle...)
			p.mu.Unlock()
			for _, w := range suspects {
				if w.cmd.ProcessState != nil && !w.dead {
					p.handleCrash(w.id)
				}
			}
		}
	}
}

// Submit implements execution.Runner for the pool. Admission is a
// non-blocking semaphore try-acquire; there is no waiting on the admission
// side.
func (p *Pool) Submit(ctx context.Context, req execution.Request) (execution.Result, error) {
	submittedAt := time.Now()
	result := execution.Result{StartedAt: submittedAt}

	if !p.sem.TryAcquire(1) {
		result.Error = &envelope.ExecError{Kind: envelope.KindRejected, Message: "queue full"}
		return result, nil
	}
	defer p.sem.Release(1)

	effTimeout := req.EffectiveTimeout()
	deadline := time.Now().Add(24 * time.Hour) // effectively unbounded when no timeout is configured
	var timeoutDur time.Duration
	if effTimeout != nil {
		timeoutDur = time.Duration(*effTimeout * float64(time.Second))
		deadline = submittedAt.Add(timeoutDur)
	}

	w, err := p.acquireIdleWorker(ctx, deadline)
	if err != nil {
		result.Error = &envelope.ExecError{Kind: envelope.KindRejected, Message: err.Error()}
		return result, nil
	}

	taskID := uuid.NewString()
	pt := &pendingTask{workerID: w.id, submittedAt: submittedAt, resultCh: make(chan Response, 1)}
	p.mu.Lock()
	p.pending[taskID] = pt
	p.mu.Unlock()
	w.mu.Lock()
	w.currentTask = taskID
	w.mu.Unlock()

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		p.mu.Lock()
		delete(p.pending, taskID)
		p.mu.Unlock()
		result.Error = &envelope.ExecError{Kind: envelope.KindValidation, Message: fmt.Sprintf("marshal payload: %v", err)}
		return result, nil
	}

	task := Task{
		TaskID:          taskID,
		SpecName:        req.Spec.Name,
		SpecVersion:     req.Spec.Version,
		Payload:         payload,
		RequestID:       req.RequestID,
		TraceID:         req.TraceID,
		RequestDatetime: req.RequestDatetime,
		Context:         requestContextMap(req),
		TimeoutS:        effTimeout,
	}
	if err := w.writer.WriteFrame(task); err != nil {
		p.mu.Lock()
		delete(p.pending, taskID)
		p.mu.Unlock()
		result.Error = &envelope.ExecError{Kind: envelope.KindSystem, Message: fmt.Sprintf("post task to worker: %v", err)}
		return result, nil
	}

	var waitC <-chan time.Time
	if effTimeout != nil {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		waitC = timer.C
	}

	select {
	case resp := <-pt.resultCh:
		return responseToResult(req, submittedAt, w.id, resp), nil
	case <-waitC:
		return p.onTimeout(req, submittedAt, taskID, w), nil
	case <-ctx.Done():
		return p.onTimeout(req, submittedAt, taskID, w), nil
	}
}

// onTimeout removes the pending record so a late reply is discarded, kills
// the worker (grace period then force), spawns a replacement, and returns
// `timeout` with the dead worker's identifier.
func (p *Pool) onTimeout(req execution.Request, submittedAt time.Time, taskID string, w *worker) execution.Result {
	p.mu.Lock()
	delete(p.pending, taskID)
	w.dead = true
	p.mu.Unlock()

	p.killWorker(w)
	p.respawnReplacing(w.id)

	return execution.Result{
		Success:     false,
		Error:       &envelope.ExecError{Kind: envelope.KindTimeout, Message: "execution timed out"},
		StartedAt:   submittedAt,
		EndedAt:     time.Now(),
		WorkerID:    w.id,
		QueueWaitMS: 0,
	}
}

func (p *Pool) killWorker(w *worker) {
	grace := time.Duration(p.cfg.KillGraceS * float64(time.Second))
	if grace <= 0 {
		grace = 3 * time.Second
	}
	p.signalWorker(w, terminateSignal())
	done := make(chan struct{})
	go func() { _ = w.cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(grace):
		p.signalWorker(w, killSignal())
		<-done
	}
}

func (p *Pool) signalWorker(w *worker, sig syscall.Signal) {
	if p.cfg.KillTree {
		_ = killProcessGroup(w.cmd, sig)
		return
	}
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(sig)
	}
}

// acquireIdleWorker blocks until a worker is idle or deadline passes. It
// polls on a short interval rather than using a condition variable so the
// wait can be bounded by both ctx cancellation and the wall-clock deadline
// without the supervisor ever holding mu across a blocking wait.
func (p *Pool) acquireIdleWorker(ctx context.Context, deadline time.Time) (*worker, error) {
	const pollInterval = 5 * time.Millisecond
	for {
		p.mu.Lock()
		if len(p.idle) > 0 {
			w := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()
			return w, nil
		}
		p.mu.Unlock()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no idle worker available")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func requestContextMap(req execution.Request) map[string]any {
	if req.Context == nil {
		return nil
	}
	out := map[string]any{"tenantId": req.Context.TenantID, "userId": req.Context.UserID}
	for k, v := range req.Context.Extra {
		out[k] = v
	}
	return out
}

func responseToResult(req execution.Request, submittedAt time.Time, workerID string, resp Response) execution.Result {
	queueWaitMS := float64(resp.StartedAt.Sub(submittedAt)) / float64(time.Millisecond)
	if queueWaitMS < 0 {
		queueWaitMS = 0
	}
	res := execution.Result{
		Success:     resp.Success,
		StartedAt:   resp.StartedAt,
		EndedAt:     resp.EndedAt,
		WorkerID:    workerID,
		QueueWaitMS: queueWaitMS,
		ResponseMeta: execution.ResponseMetaSnapshot{
			Code:    resp.ResponseMeta.Code,
			Message: resp.ResponseMeta.Message,
			Context: resp.ResponseMeta.Context,
		},
	}
	if resp.Success {
		res.Data = decodeInto(resp.Data, req.Spec.OutputModel)
	} else if resp.Error != nil {
		res.Error = &envelope.ExecError{
			Kind:      envelope.ErrorKind(resp.Error.Kind),
			Message:   resp.Error.Message,
			Details:   resp.Error.Details,
			Traceback: resp.Error.Traceback,
		}
	}
	return res
}

// decodeInto unmarshals raw JSON into a fresh value of target's type so the
// pool's results carry the same concrete Go type the in-process runner
// produces, rather than a generic map.
func decodeInto(raw json.RawMessage, target any) any {
	if len(raw) == 0 || target == nil {
		return nil
	}
	t := reflect.TypeOf(target)
	out := reflect.New(t).Interface()
	if err := json.Unmarshal(raw, out); err != nil {
		return nil
	}
	return reflect.ValueOf(out).Elem().Interface()
}

// Shutdown sends every worker the shutdown sentinel and gives it a grace
// period to exit on its own (letting worker-local stateful instances run
// their Shutdown hook), then force-kills any stragglers. Every in-flight
// pending task is completed with a "system" error first — the outbound
// drain stops here, so a reply could never be delivered anyway, and a
// Submit blocked on its result channel must not outlive the pool.
func (p *Pool) Shutdown(ctx context.Context, wait bool) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	workers := make([]*worker, 0, len(p.byID))
	for _, w := range p.byID {
		workers = append(workers, w)
	}
	pending := p.pending
	p.pending = make(map[string]*pendingTask)
	if p.sweepStop != nil {
		close(p.sweepStop)
	}
	p.mu.Unlock()

	for taskID, pt := range pending {
		pt.resultCh <- Response{
			TaskID:  taskID,
			Success: false,
			Error:   &WireError{Kind: string(envelope.KindSystem), Message: "worker pool shut down"},
		}
	}

	grace := time.Duration(p.cfg.KillGraceS * float64(time.Second))
	if grace <= 0 {
		grace = 3 * time.Second
	}
	if !wait {
		grace = 0
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			_ = w.writer.WriteFrame(Task{TaskID: shutdownSentinelTaskID})
			done := make(chan struct{})
			go func() { _ = w.cmd.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(grace):
				p.signalWorker(w, killSignal())
				<-done
			}
		}(w)
	}
	wg.Wait()
	return nil
}
