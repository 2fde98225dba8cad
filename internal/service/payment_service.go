package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"payment_processing/internal/events"
	"payment_processing/internal/gateway"
	"payment_processing/internal/kafka"
	"payment_processing/internal/metrics"
	"payment_processing/internal/models"
	"payment_processing/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PaymentStore interface {
	GetByOrderIDTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Payment, error)
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payment) error
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, notes string) error
}

type OutboxStore interface {
	CreateMessageTx(ctx context.Context, tx pgx.Tx, msg *models.OutboxMessage) error
}

// PaymentService handles the two saga commands. Both handlers follow the same
// shape: one transaction for idempotency check + state transition + outbox
// insert, and a second, independent transaction for the failure event when the
// first one is already lost. Announcements never go to the bus directly; the
// relay drains the outbox.
type PaymentService struct {
	db       TxBeginner
	payments PaymentStore
	outbox   OutboxStore
	gateway  gateway.ResultProvider

	gatewayTimeout time.Duration
	logger         *log.Logger
	now            func() time.Time
}

func NewPaymentService(
	db TxBeginner,
	payments PaymentStore,
	outbox OutboxStore,
	gw gateway.ResultProvider,
	gatewayTimeout time.Duration,
	logger *log.Logger,
) *PaymentService {
	if logger == nil {
		logger = log.Default()
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 10 * time.Second
	}

	return &PaymentService{
		db:             db,
		payments:       payments,
		outbox:         outbox,
		gateway:        gw,
		gatewayTimeout: gatewayTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// ProcessPaymentMessage decodes and handles a process-payment command from the
// bus. Implements kafka.CommandProcessor.
func (s *PaymentService) ProcessPaymentMessage(ctx context.Context, message []byte) error {
	var cmd kafka.ProcessPaymentRequest
	if err := json.Unmarshal(message, &cmd); err != nil {
		return fmt.Errorf("%w: unmarshal process command: %v", kafka.ErrUnprocessable, err)
	}
	return s.HandleProcessPayment(ctx, &cmd)
}

// CompensatePaymentMessage decodes and handles a compensate-payment command
// from the bus. Implements kafka.CommandProcessor.
func (s *PaymentService) CompensatePaymentMessage(ctx context.Context, message []byte) error {
	var cmd kafka.CompensatePayment
	if err := json.Unmarshal(message, &cmd); err != nil {
		return fmt.Errorf("%w: unmarshal compensate command: %v", kafka.ErrUnprocessable, err)
	}
	return s.HandleCompensatePayment(ctx, &cmd)
}

func (s *PaymentService) HandleProcessPayment(ctx context.Context, cmd *kafka.ProcessPaymentRequest) error {
	if err := validateProcess(cmd); err != nil {
		return fmt.Errorf("%w: %v", kafka.ErrUnprocessable, err)
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.processOnce(ctx, cmd)
		if !errors.Is(err, repository.ErrDuplicateOrder) {
			break
		}
		// Lost the insert race to a concurrent duplicate. Rerun: the winner's
		// row is committed now, so the duplicate branch picks it up.
	}
	if err == nil {
		return nil
	}

	s.logger.Printf("process payment failed order_id=%s correlation_id=%s: %v", cmd.OrderID, cmd.CorrelationID, err)

	evt := events.PaymentProcessed{
		CorrelationID: cmd.CorrelationID,
		OrderID:       cmd.OrderID,
		Success:       false,
	}
	if rerr := s.recordEventAlone(ctx, evt); rerr != nil {
		s.logger.Printf("record failure event order_id=%s: %v", cmd.OrderID, rerr)
		// Nothing recorded the outcome: leave the command unacked so the
		// broker redelivers it.
		return fmt.Errorf("process payment order %s: %w", cmd.OrderID, err)
	}

	metrics.IncPaymentsProcessed("error")
	return nil
}

func (s *PaymentService) processOnce(ctx context.Context, cmd *kafka.ProcessPaymentRequest) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := s.payments.GetByOrderIDTx(ctx, tx, cmd.OrderID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup payment: %w", err)
	}

	if existing != nil {
		// Duplicate delivery. Not dropped: the orchestrator awaits a reply
		// per correlation id, so the original outcome is recorded again.
		evt := events.PaymentProcessed{
			CorrelationID: cmd.CorrelationID,
			OrderID:       cmd.OrderID,
			Success:       replaySuccess(existing.Status),
		}
		if err := s.saveEventTx(ctx, tx, evt); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		s.logger.Printf("duplicate process command order_id=%s, replayed outcome success=%t", cmd.OrderID, replaySuccess(existing.Status))
		metrics.IncDuplicateCommand("process")
		return nil
	}

	payment := &models.Payment{
		ID:      uuid.New(),
		OrderID: cmd.OrderID,
		Amount:  cmd.Amount,
		Status:  models.StatusProcessing,
	}
	if err := s.payments.CreateTx(ctx, tx, payment); err != nil {
		return err
	}

	ok, err := s.charge(ctx, payment)
	if err != nil {
		return fmt.Errorf("charge order %s: %w", cmd.OrderID, err)
	}

	if err := s.payments.UpdateStatusTx(ctx, tx, payment.ID, processNextStatus(ok), ""); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	evt := events.PaymentProcessed{
		CorrelationID: cmd.CorrelationID,
		OrderID:       cmd.OrderID,
		Success:       ok,
	}
	if err := s.saveEventTx(ctx, tx, evt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if ok {
		metrics.IncPaymentsProcessed("success")
	} else {
		metrics.IncPaymentsProcessed("declined")
	}
	s.logger.Printf("payment processed order_id=%s amount=%v success=%t", cmd.OrderID, cmd.Amount, ok)
	return nil
}

func (s *PaymentService) HandleCompensatePayment(ctx context.Context, cmd *kafka.CompensatePayment) error {
	if err := validateCompensate(cmd); err != nil {
		return fmt.Errorf("%w: %v", kafka.ErrUnprocessable, err)
	}

	err := s.compensateOnce(ctx, cmd)
	if err == nil {
		return nil
	}

	s.logger.Printf("compensate payment failed order_id=%s correlation_id=%s: %v", cmd.OrderID, cmd.CorrelationID, err)

	evt := events.PaymentCompensated{
		CorrelationID: cmd.CorrelationID,
		OrderID:       cmd.OrderID,
		Success:       false,
	}
	if rerr := s.recordEventAlone(ctx, evt); rerr != nil {
		s.logger.Printf("record compensation failure event order_id=%s: %v", cmd.OrderID, rerr)
		return fmt.Errorf("compensate payment order %s: %w", cmd.OrderID, err)
	}

	metrics.IncPaymentsCompensated("error")
	return nil
}

func (s *PaymentService) compensateOnce(ctx context.Context, cmd *kafka.CompensatePayment) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	evt := events.PaymentCompensated{
		CorrelationID: cmd.CorrelationID,
		OrderID:       cmd.OrderID,
		Success:       true,
	}

	payment, err := s.payments.GetByOrderIDTx(ctx, tx, cmd.OrderID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// No payment ever got created here. Still report success so the
		// orchestrator's rollback converges with nothing to undo.
		s.logger.Printf("no payment to compensate order_id=%s", cmd.OrderID)
	case err != nil:
		return fmt.Errorf("lookup payment: %w", err)
	default:
		next, changed := compensateNext(payment.Status)
		switch {
		case changed:
			notes := fmt.Sprintf("refunded as saga compensation at %s", s.now().UTC().Format(time.RFC3339))
			if err := s.payments.UpdateStatusTx(ctx, tx, payment.ID, next, notes); err != nil {
				return fmt.Errorf("update payment status: %w", err)
			}
		case models.IsTerminal(payment.Status):
			s.logger.Printf("compensate is a no-op order_id=%s status=%s", cmd.OrderID, payment.Status)
		default:
			// the process command never settled; nothing was charged yet
			s.logger.Printf("compensate arrived before processing settled order_id=%s status=%s", cmd.OrderID, payment.Status)
		}
	}

	if err := s.saveEventTx(ctx, tx, evt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	metrics.IncPaymentsCompensated("success")
	s.logger.Printf("payment compensated order_id=%s", cmd.OrderID)
	return nil
}

// charge calls the gateway with a bounded deadline so a stuck gateway cannot
// hold the row lock forever.
func (s *PaymentService) charge(ctx context.Context, p *models.Payment) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.Charge(ctx, p.OrderID, p.Amount)
}

func (s *PaymentService) saveEventTx(ctx context.Context, tx pgx.Tx, event any) error {
	eventType, payload, err := events.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode outbox event: %w", err)
	}
	msg := &models.OutboxMessage{
		EventType: eventType,
		Payload:   payload,
	}
	if err := s.outbox.CreateMessageTx(ctx, tx, msg); err != nil {
		return fmt.Errorf("save event to outbox: %w", err)
	}
	return nil
}

// recordEventAlone opens a second, independent transaction solely to record an
// outcome event after the primary transaction is already rolled back.
func (s *PaymentService) recordEventAlone(ctx context.Context, event any) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin recovery tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.saveEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit recovery tx: %w", err)
	}
	return nil
}

func validateProcess(cmd *kafka.ProcessPaymentRequest) error {
	if cmd == nil {
		return errors.New("command is nil")
	}
	if cmd.CorrelationID == uuid.Nil {
		return errors.New("correlation_id is required")
	}
	if cmd.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	if cmd.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	return nil
}

func validateCompensate(cmd *kafka.CompensatePayment) error {
	if cmd == nil {
		return errors.New("command is nil")
	}
	if cmd.CorrelationID == uuid.Nil {
		return errors.New("correlation_id is required")
	}
	if cmd.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	return nil
}
