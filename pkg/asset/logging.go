package asset

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation  string
	TransferID string
	From       OwnerID
	To         OwnerID
	Token      TokenKind
	Amount     int64
	Kind       TransferKind
	Status     string
	Error      error
}

// OperationLoggerFunc adapts a plain function to OperationLogger.
type OperationLoggerFunc func(ctx context.Context, entry OperationLog)

// LogOperation implements OperationLogger.
func (fn OperationLoggerFunc) LogOperation(ctx context.Context, entry OperationLog) {
	fn(ctx, entry)
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithIDGenerator overrides transfer id generation.
func WithIDGenerator(idFn func() string) ServiceOption {
	return func(service *Service) {
		if idFn != nil {
			service.idFn = idFn
		}
	}
}
