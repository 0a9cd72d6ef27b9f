package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a whole run when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

const readSize = 32 * 1024

// ErrTimedOut is the cause of a run that exceeded its hard timeout.
var ErrTimedOut = errors.New("execution timed out")

// Sink receives what a Pump reads. Registry sessions implement it.
type Sink interface {
	IngestFrame(id string, frame []byte) error
	Abort(id string) error
	Fail(id string, cause error) error
	Finish(id string) error
}

// Pump reads one response body into one session.
type Pump struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Run reads body until it ends, the context is cancelled, or the timeout
// passes, and reports the outcome to sink:
//
//   - end of stream: the buffered tail is ingested, then Finish
//   - ctx cancelled: Abort
//   - timeout: a synthetic {"status":"error"} frame is ingested
//   - any other read error: Fail
//
// body is always closed. Cancellation closes it early so a blocked Read
// returns. Run returns nil only on a clean end of stream.
func (p *Pump) Run(ctx context.Context, id string, body io.ReadCloser, sink Sink) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session", id))

	ctx, cancel := p.Bound(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() {
		_ = body.Close()
	})
	defer stop()
	defer body.Close()

	var dec Decoder
	buf := make([]byte, readSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				if ierr := sink.IngestFrame(id, []byte(frame)); ierr != nil {
					return fmt.Errorf("ingest: %w", ierr)
				}
			}
		}
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			cause := context.Cause(ctx)
			if errors.Is(cause, ErrTimedOut) {
				logger.Warn("execution timed out", slog.Duration("timeout", p.timeout()))
				if ierr := sink.IngestFrame(id, TimeoutFrame(cause)); ierr != nil {
					logger.Debug("timeout frame dropped", slog.Any("error", ierr))
				}
				return cause
			}
			logger.Info("execution aborted")
			if aerr := sink.Abort(id); aerr != nil {
				logger.Debug("abort ignored", slog.Any("error", aerr))
			}
			return cause

		case errors.Is(err, io.EOF):
			if frame, ok := dec.Flush(); ok {
				if ierr := sink.IngestFrame(id, []byte(frame)); ierr != nil {
					return fmt.Errorf("ingest: %w", ierr)
				}
			}
			return sink.Finish(id)

		default:
			logger.Error("stream read failed", slog.Any("error", err))
			if ferr := sink.Fail(id, err); ferr != nil {
				logger.Debug("failure ignored", slog.Any("error", ferr))
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// Bound limits ctx to the hard timeout of a run, with a cause wrapping
// ErrTimedOut. Callers that open the stream themselves bound the request with
// it. Run keeps an earlier deadline already on ctx.
func (p *Pump) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.timeout()
	return context.WithTimeoutCause(ctx, timeout, fmt.Errorf("%w after %s", ErrTimedOut, timeout))
}

func (p *Pump) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

type statusFrame struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TimeoutFrame is the error frame recorded when a run times out.
func TimeoutFrame(cause error) []byte {
	b, _ := json.Marshal(statusFrame{Status: "error", Message: cause.Error()})
	return b
}
