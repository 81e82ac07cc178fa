package postback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"tracker-server/internal/observability"
	"tracker-server/internal/store"

	"github.com/google/uuid"
)

// MaxRetries is the retry budget per target after the initial attempt.
const MaxRetries = 5

// retryBackoff is the fixed backoff schedule indexed by the number of
// attempts already made. After the budget is spent the delivery is
// abandoned; the postback log history is the only record.
var retryBackoff = [MaxRetries]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// Store defines the store operations the delivery engine needs.
type Store interface {
	ResolverStore
	GetConversionByID(ctx context.Context, conversionID uuid.UUID) (store.Conversion, error)
	GetClickByID(ctx context.Context, clickID uuid.UUID) (store.Click, error)
	CreatePostbackLog(ctx context.Context, params store.CreatePostbackLogParams) (store.PostbackLog, error)
	CreatePostbackDelivery(ctx context.Context, params store.CreatePostbackDeliveryParams) (store.PostbackDelivery, error)
	GetDuePostbackDeliveries(ctx context.Context, limit int) ([]store.PostbackDelivery, error)
	GetPendingPostbackDeliveriesByConversion(ctx context.Context, conversionID uuid.UUID) ([]store.PostbackDelivery, error)
	MarkPostbackDeliveryResult(ctx context.Context, deliveryID uuid.UUID, params store.MarkPostbackDeliveryResultParams) error
	SchedulePostbackRetry(ctx context.Context, deliveryID uuid.UUID, attemptNumber int, nextRetryAt time.Time, lastError *string) error
}

// Service delivers conversion postbacks to resolved targets and schedules
// bounded retries for failed attempts.
type Service struct {
	store      Store
	resolver   *Resolver
	logger     *observability.Logger
	httpClient *http.Client
}

// New creates a new postback Service
func New(postbackStore Store, logger *observability.Logger) *Service {
	return &Service{
		store:    postbackStore,
		resolver: NewResolver(postbackStore, logger),
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Deliver resolves a conversion into targets and attempts each one.
// Per-target failures are logged and scheduled for retry, never returned;
// the error return covers only the conversion/click lookups so manual
// triggers can distinguish an unknown conversion.
func (s *Service) Deliver(ctx context.Context, conversionID uuid.UUID) error {
	ctx = observability.WithFields(ctx, observability.Field{Key: "conversion_id", Value: conversionID.String()})

	conversion, err := s.store.GetConversionByID(ctx, conversionID)
	if err != nil {
		return fmt.Errorf("failed to load conversion: %w", err)
	}
	click, err := s.store.GetClickByID(ctx, conversion.ClickID)
	if err != nil {
		return fmt.Errorf("failed to load click: %w", err)
	}

	targets, err := s.resolver.ResolveTargets(ctx, conversion)
	if err != nil {
		s.logger.Error(ctx, "failed to resolve postback targets", err)
		return nil
	}
	if len(targets) == 0 {
		s.logger.Info(ctx, "no postback targets resolved for conversion")
		return nil
	}

	for _, target := range targets {
		if err := s.deliverTarget(ctx, conversion, click, target); err != nil {
			s.logger.Error(ctx, fmt.Sprintf("postback delivery to %s failed", target.URL), err)
			// Targets are independent; keep going.
		}
	}
	return nil
}

// deliverTarget builds the final URL once, records durable delivery state,
// and performs the first attempt. Retries reuse the stored URL verbatim.
func (s *Service) deliverTarget(ctx context.Context, conversion store.Conversion, click store.Click, target Target) error {
	finalURL, err := BuildTargetURL(target, conversion, click)
	if err != nil {
		return fmt.Errorf("failed to build postback url: %w", err)
	}

	delivery, err := s.store.CreatePostbackDelivery(ctx, store.CreatePostbackDeliveryParams{
		ConversionID:  conversion.ID,
		RecipientType: target.RecipientType(),
		RecipientID:   target.RecipientID,
		OfferID:       target.OfferID,
		URL:           finalURL,
		Method:        target.Method,
	})
	if err != nil {
		return fmt.Errorf("failed to create postback delivery: %w", err)
	}

	s.attempt(ctx, delivery)
	return nil
}

// RetryDueDeliveries processes pending deliveries whose retry time has
// passed, up to limit rows.
func (s *Service) RetryDueDeliveries(ctx context.Context, limit int) error {
	deliveries, err := s.store.GetDuePostbackDeliveries(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to get due deliveries: %w", err)
	}
	if len(deliveries) > 0 {
		s.logger.Info(ctx, fmt.Sprintf("found %d postback deliveries due for retry", len(deliveries)))
	}

	for _, delivery := range deliveries {
		s.attempt(ctx, delivery)
	}
	return nil
}

// RetryConversion immediately attempts a conversion's pending deliveries
// without waiting for their scheduled retry time. Returns the number of
// deliveries attempted.
func (s *Service) RetryConversion(ctx context.Context, conversionID uuid.UUID) (int, error) {
	deliveries, err := s.store.GetPendingPostbackDeliveriesByConversion(ctx, conversionID)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending deliveries: %w", err)
	}
	for _, delivery := range deliveries {
		s.attempt(ctx, delivery)
	}
	return len(deliveries), nil
}

// attempt performs one HTTP attempt for a delivery, writes the audit log
// row, and advances the delivery's durable state: success, next retry, or
// abandoned once the budget is spent.
func (s *Service) attempt(ctx context.Context, delivery store.PostbackDelivery) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "delivery_id", Value: delivery.ID.String()},
		observability.Field{Key: "recipient_type", Value: delivery.RecipientType},
		observability.Field{Key: "attempt", Value: delivery.AttemptNumber},
	)

	success, responseStatus, responseBody, durationMs, attemptErr := s.execute(ctx, delivery.Method, delivery.URL)

	logParams := store.CreatePostbackLogParams{
		ConversionID:  delivery.ConversionID,
		URL:           delivery.URL,
		Method:        delivery.Method,
		DurationMs:    &durationMs,
		Success:       success,
		RetryCount:    delivery.AttemptNumber,
		RecipientType: delivery.RecipientType,
		RecipientID:   delivery.RecipientID,
	}
	if responseStatus != 0 {
		logParams.ResponseStatus = &responseStatus
	}
	if responseBody != "" {
		logParams.ResponseBody = &responseBody
	}
	if _, err := s.store.CreatePostbackLog(ctx, logParams); err != nil {
		s.logger.Error(ctx, "failed to create postback log", err)
	}

	attemptsMade := delivery.AttemptNumber + 1

	if success {
		err := s.store.MarkPostbackDeliveryResult(ctx, delivery.ID, store.MarkPostbackDeliveryResultParams{
			Status:        store.DeliveryStatusSuccess,
			AttemptNumber: attemptsMade,
		})
		if err != nil {
			s.logger.Error(ctx, "failed to mark delivery success", err)
		}
		s.logger.Info(ctx, "postback delivered")
		return
	}

	errorMessage := "non-2xx response"
	if attemptErr != nil {
		errorMessage = attemptErr.Error()
	}

	if delivery.AttemptNumber >= MaxRetries {
		err := s.store.MarkPostbackDeliveryResult(ctx, delivery.ID, store.MarkPostbackDeliveryResultParams{
			Status:        store.DeliveryStatusAbandoned,
			AttemptNumber: attemptsMade,
			LastError:     &errorMessage,
		})
		if err != nil {
			s.logger.Error(ctx, "failed to mark delivery abandoned", err)
		}
		s.logger.Warn(ctx, "postback delivery abandoned after retry budget spent")
		return
	}

	nextRetryAt := time.Now().Add(retryBackoff[delivery.AttemptNumber])
	if err := s.store.SchedulePostbackRetry(ctx, delivery.ID, attemptsMade, nextRetryAt, &errorMessage); err != nil {
		s.logger.Error(ctx, "failed to schedule postback retry", err)
		return
	}
	s.logger.Info(ctx, fmt.Sprintf("postback delivery failed, retry at %s", nextRetryAt.Format(time.RFC3339)))
}

// execute performs the HTTP request for one attempt. Transport failures
// return a zero response status; non-2xx responses return the actual code.
func (s *Service) execute(ctx context.Context, method, targetURL string) (success bool, responseStatus int, responseBody string, durationMs int, err error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return false, 0, "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Tracker-Postback/1.0")

	resp, err := s.httpClient.Do(req)
	durationMs = int(time.Since(start).Milliseconds())
	if err != nil {
		return false, 0, "", durationMs, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseStatus = resp.StatusCode

	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 10240))
	if readErr != nil {
		s.logger.Warn(ctx, "failed to read postback response body")
	} else {
		responseBody = string(bodyBytes)
	}

	if responseStatus >= 200 && responseStatus < 300 {
		return true, responseStatus, responseBody, durationMs, nil
	}
	return false, responseStatus, responseBody, durationMs, fmt.Errorf("received non-2xx status code: %d", responseStatus)
}
