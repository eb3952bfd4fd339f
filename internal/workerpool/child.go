package workerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bottomsky/algotirhm-sdk/internal/envelope"
	"github.com/bottomsky/algotirhm-sdk/internal/execution"
	"github.com/bottomsky/algotirhm-sdk/internal/runner"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

// SpecResolver is satisfied by *spec.Registry. The child worker process
// builds its own registry (via the same ALGO_MODULES bootstrap the
// supervisor process used) rather than receiving serialized specs over the
// wire, since an algo.Identity-backed entrypoint is only meaningful once
// reconstructed by this process's own init()-time registrations anyway.
type SpecResolver interface {
	Get(name, version string) (spec.Spec, error)
}

// RunWorkerMain is the child-process entry point: it reads
// Task frames from in, executes each against a single long-lived
// runner.Runner (which gives this package stateful-instance caching and
// coercion for free, reused rather than reimplemented), and writes back
// Response frames on out. It returns when the supervisor sends the shutdown
// sentinel, when in is closed (EOF), or when ctx is canceled.
//
// Tasks are processed strictly one at a time: a worker process is
// single-unit, so there is no concurrency to manage here.
func RunWorkerMain(ctx context.Context, in io.Reader, out io.Writer, resolver SpecResolver, logger telemetry.Logger) error {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	reader := newFrameReader(in)
	writer := newFrameWriter(out)
	rn := runner.New()
	defer func() { _ = rn.Shutdown(context.Background(), true) }()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var task Task
		if err := reader.ReadFrame(&task); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read task frame: %w", err)
		}
		if task.TaskID == shutdownSentinelTaskID {
			return nil
		}
		resp := handleTask(ctx, rn, resolver, task, logger)
		if err := writer.WriteFrame(resp); err != nil {
			return fmt.Errorf("write response frame: %w", err)
		}
	}
}

func handleTask(ctx context.Context, rn *runner.Runner, resolver SpecResolver, task Task, logger telemetry.Logger) Response {
	startedAt := time.Now()

	s, err := resolver.Get(task.SpecName, task.SpecVersion)
	if err != nil {
		return Response{
			TaskID:    task.TaskID,
			Success:   false,
			Error:     &WireError{Kind: string(envelope.KindSystem), Message: err.Error()},
			StartedAt: startedAt,
			EndedAt:   time.Now(),
		}
	}

	var payload any
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return Response{
				TaskID:    task.TaskID,
				Success:   false,
				Error:     &WireError{Kind: string(envelope.KindValidation), Message: fmt.Sprintf("decode task payload: %v", err)},
				StartedAt: startedAt,
				EndedAt:   time.Now(),
			}
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if task.TimeoutS != nil && *task.TimeoutS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(*task.TimeoutS*float64(time.Second)))
		defer cancel()
	}

	var reqCtx *envelope.Context
	if task.Context != nil {
		reqCtx = &envelope.Context{}
		if v, ok := task.Context["tenantId"].(string); ok {
			reqCtx.TenantID = v
		}
		if v, ok := task.Context["userId"].(string); ok {
			reqCtx.UserID = v
		}
	}

	res, _ := rn.Submit(runCtx, execution.Request{
		Spec:            s,
		Payload:         payload,
		RequestID:       task.RequestID,
		RequestDatetime: task.RequestDatetime,
		TraceID:         task.TraceID,
		Context:         reqCtx,
	})

	resp := Response{
		TaskID:    task.TaskID,
		Success:   res.Success,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		ResponseMeta: WireResponseMeta{
			Code:    res.ResponseMeta.Code,
			Message: res.ResponseMeta.Message,
			Context: res.ResponseMeta.Context,
		},
	}
	if res.Success {
		data, err := json.Marshal(res.Data)
		if err != nil {
			resp.Success = false
			resp.Error = &WireError{Kind: string(envelope.KindSystem), Message: fmt.Sprintf("encode result: %v", err)}
		} else {
			resp.Data = data
		}
	} else if res.Error != nil {
		resp.Error = &WireError{
			Kind:      string(res.Error.Kind),
			Message:   res.Error.Message,
			Details:   res.Error.Details,
			Traceback: res.Error.Traceback,
		}
	}
	logger.Debug(ctx, "worker task handled", "task_id", task.TaskID, "success", resp.Success)
	return resp
}
