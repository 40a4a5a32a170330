package persistence

import (
	"time"

	"github.com/asaidimu/go-events"
	"go.uber.org/zap"
)

func createEvent(
	eventType PersistenceEventType,
	operation string,
	collectionName string,
	input any,
	output any,
	query any,
	err *string,
	startTime time.Time,
) PersistenceEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	var collection *string
	if collectionName != "" {
		collection = &collectionName
	}

	return PersistenceEvent{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Operation:  operation,
		Collection: collection,
		Input:      input,
		Output:     output,
		Error:      err,
		Query:      query,
		Duration:   duration,
	}
}

// emitter publishes telemetry for one collection.
type emitter struct {
	bus    *events.TypedEventBus[PersistenceEvent]
	name   string
	logger *zap.Logger
}

func (e emitter) emit(event PersistenceEvent) {
	if e.bus != nil {
		e.bus.Emit(string(event.Type), event)
	}
}

// withEventEmission wraps an operation with start, success, and failure
// events. The result is returned even on failure, since some failures happen
// after the operation has been committed.
func (e emitter) withEventEmission(
	operation string,
	startEventType PersistenceEventType,
	successEventType PersistenceEventType,
	failedEventType PersistenceEventType,
	input any,
	queryParam any,
	fn func() (any, error),
) (any, error) {
	startTime := time.Now()

	e.emit(createEvent(startEventType, operation, e.name, input, nil, queryParam, nil, startTime))

	result, err := fn()
	if err != nil {
		errStr := err.Error()
		e.logger.Debug("Operation failed",
			zap.String("operation", operation),
			zap.String("collection", e.name),
			zap.Error(err),
		)
		e.emit(createEvent(failedEventType, operation, e.name, input, nil, queryParam, &errStr, startTime))
		return result, err
	}

	e.emit(createEvent(successEventType, operation, e.name, input, result, queryParam, nil, startTime))
	return result, nil
}
