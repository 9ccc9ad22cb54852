package federation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "fedrelay/internal/errors"
	"fedrelay/pkg/constants"

	"github.com/sirupsen/logrus"
)

// Client delivers activity documents to remote inboxes.
type Client interface {
	Deliver(ctx context.Context, req DeliveryRequest) error
}

// RequestSigner signs an outbound request on behalf of a local user.
// Cryptographic signing lives outside this subsystem; a no-op signer is used
// when the deployment handles signatures elsewhere (e.g. a signing proxy).
type RequestSigner interface {
	Sign(req *http.Request, localUserID string) error
}

// NoopSigner performs no request signing.
type NoopSigner struct{}

func (NoopSigner) Sign(*http.Request, string) error { return nil }

// DeliveryRequest carries one hydrated activity toward one target inbox.
type DeliveryRequest struct {
	TargetInboxURL string
	LocalUserID    string
	ActivityID     string
	Payload        []byte
}

type HTTPClient struct {
	client    *http.Client
	signer    RequestSigner
	userAgent string
	logger    *logrus.Logger
}

func NewHTTPClient(httpClient *http.Client, signer RequestSigner, userAgent string, logger *logrus.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second}
	}
	if signer == nil {
		signer = NoopSigner{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &HTTPClient{
		client:    httpClient,
		signer:    signer,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Deliver POSTs the activity document to the target inbox. Failures are
// classified: transport errors and remote 5xx/429/408 come back retryable,
// other 4xx as permanent rejections.
func (c *HTTPClient) Deliver(ctx context.Context, delivery DeliveryRequest) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.TargetInboxURL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to build delivery request")
	}

	req.Header.Set("Content-Type", constants.ContentTypeActivityJSON)
	req.Header.Set("Accept", constants.ContentTypeActivityJSON)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := c.signer.Sign(req, delivery.LocalUserID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to sign delivery request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewDeliveryError(delivery.TargetInboxURL, 0, err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewDeliveryError(delivery.TargetInboxURL, resp.StatusCode,
			fmt.Errorf("remote inbox returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	c.logger.WithFields(logrus.Fields{
		"inbox":       delivery.TargetInboxURL,
		"activity_id": delivery.ActivityID,
		"status":      resp.StatusCode,
	}).Debug("Activity delivered")

	return nil
}
