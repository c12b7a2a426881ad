package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nightreel/reelforge/internal/models"
)

// Task type names. Delivery is at-least-once: every handler registered here
// must tolerate redelivery of the same payload.
const (
	TypePaymentIngest = "payment:ingest"
	TypeOperationRun  = "operation:run"
)

// Client enqueues events. Enqueue returning nil means the task is queued,
// not that the handler has run; settlement is confirmed by polling the
// ledger, never assumed.
type Client struct {
	inner *asynq.Client
	log   *slog.Logger
}

func NewClient(redisAddr, redisPassword string, log *slog.Logger) *Client {
	return &Client{
		inner: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword}),
		log:   log,
	}
}

func (c *Client) Close() error {
	return c.inner.Close()
}

// EnqueuePayment queues a balance-mutating event. Retries are safe: the
// balance engine dedupes on the invoice id.
func (c *Client) EnqueuePayment(ctx context.Context, event models.PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	task := asynq.NewTask(TypePaymentIngest, payload, asynq.MaxRetry(5))
	info, err := c.inner.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue payment event: %w", err)
	}
	c.log.Info("payment event queued", "task_id", info.ID, "invoice_id", event.InvoiceID)
	return nil
}

// EnqueueOperation queues a generation request. Operations are charged and
// therefore never auto-retried after a failure.
func (c *Client) EnqueueOperation(ctx context.Context, req models.OperationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal operation request: %w", err)
	}
	task := asynq.NewTask(TypeOperationRun, payload, asynq.MaxRetry(0))
	info, err := c.inner.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	c.log.Info("operation queued", "task_id", info.ID, "user_id", req.UserID, "model_key", req.ModelKey)
	return nil
}

// Server runs registered handlers out-of-band from producers.
type Server struct {
	inner *asynq.Server
	mux   *asynq.ServeMux
	log   *slog.Logger
}

func NewServer(redisAddr, redisPassword string, log *slog.Logger) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword},
		asynq.Config{
			Concurrency: 10,
			Logger:      asynqLogger{log: log},
		},
	)
	return &Server{inner: srv, mux: asynq.NewServeMux(), log: log}
}

func (s *Server) HandlePayment(h func(ctx context.Context, event models.PaymentEvent) error) {
	s.mux.HandleFunc(TypePaymentIngest, func(ctx context.Context, task *asynq.Task) error {
		var event models.PaymentEvent
		if err := json.Unmarshal(task.Payload(), &event); err != nil {
			return fmt.Errorf("unmarshal payment event: %w", asynq.SkipRetry)
		}
		return h(ctx, event)
	})
}

func (s *Server) HandleOperation(h func(ctx context.Context, req models.OperationRequest) error) {
	s.mux.HandleFunc(TypeOperationRun, func(ctx context.Context, task *asynq.Task) error {
		var req models.OperationRequest
		if err := json.Unmarshal(task.Payload(), &req); err != nil {
			return fmt.Errorf("unmarshal operation request: %w", asynq.SkipRetry)
		}
		return h(ctx, req)
	})
}

func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.inner.Shutdown()
	}()
	s.log.Info("dispatcher started")
	if err := s.inner.Run(s.mux); err != nil {
		return fmt.Errorf("run dispatcher: %w", err)
	}
	return nil
}

type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
