package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/config"
	"github.com/arklim/auth-core/internal/infra/logger"
)

const defaultKavenegarBaseURL = "https://api.kavenegar.com"

// KavenegarGateway sends SMS through the Kavenegar REST API. Purposes with a configured template go through the
// verify-lookup endpoint, everything else is sent as a plain message from the configured sender line.
type KavenegarGateway struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	sender    string
	sandbox   bool
	templates map[string]string
	logger    *zap.Logger
}

// NewKavenegarGateway builds the gateway. A nil client gets a 10 second timeout.
func NewKavenegarGateway(cfg config.SMSSettings, client *http.Client, log *zap.Logger) (*KavenegarGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("kavenegar: api key is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultKavenegarBaseURL
	}
	return &KavenegarGateway{
		client:    client,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		sender:    cfg.Sender,
		sandbox:   cfg.Sandbox,
		templates: cfg.Templates,
		logger:    log,
	}, nil
}

type kavenegarResponse struct {
	Return struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"return"`
}

// Send delivers the message to a phone number.
func (g *KavenegarGateway) Send(ctx context.Context, contact string, channel domain.Channel, message domain.Message) error {
	if channel != domain.ChannelSMS {
		return fmt.Errorf("kavenegar: unsupported channel %q", channel)
	}

	receptor := strings.TrimPrefix(strings.TrimSpace(contact), "+")
	if g.sandbox {
		g.logger.Info("kavenegar sandbox send", zap.String("receptor", logger.MaskPhone(contact)), zap.String("purpose", string(message.Purpose)))
		return nil
	}

	endpoint, form := g.request(receptor, message)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("kavenegar: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("kavenegar: send: %w", redactTransportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("kavenegar: read response: %w", err)
	}

	var parsed kavenegarResponse
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("kavenegar: decode response: %w", jsonErr)
	}
	if resp.StatusCode != http.StatusOK || parsed.Return.Status != http.StatusOK {
		g.logger.Warn("kavenegar rejected message",
			zap.Int("http_status", resp.StatusCode),
			zap.Int("status", parsed.Return.Status),
			zap.String("message", parsed.Return.Message),
			zap.String("receptor", logger.MaskPhone(contact)),
		)
		return fmt.Errorf("kavenegar: status %d: %s", resp.StatusCode, parsed.Return.Message)
	}
	return nil
}

func (g *KavenegarGateway) request(receptor string, message domain.Message) (string, url.Values) {
	if template, ok := g.templates[string(message.Purpose)]; ok && template != "" && message.Code != "" {
		return fmt.Sprintf("%s/v1/%s/verify/lookup.json", g.baseURL, g.apiKey), url.Values{
			"receptor": {receptor},
			"token":    {message.Code},
			"template": {template},
		}
	}

	form := url.Values{
		"receptor": {receptor},
		"message":  {message.Body},
	}
	if g.sender != "" {
		form.Set("sender", g.sender)
	}
	return fmt.Sprintf("%s/v1/%s/sms/send.json", g.baseURL, g.apiKey), form
}

// redactTransportError drops the request URL from transport failures, since the API key is part of the path.
func redactTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s request: %w", strings.ToLower(urlErr.Op), urlErr.Err)
	}
	return err
}

var _ port.DeliveryGateway = (*KavenegarGateway)(nil)
