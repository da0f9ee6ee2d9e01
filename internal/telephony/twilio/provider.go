package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	twiliosdk "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/internal/domain"
	"github.com/acme/call-memento/internal/telephony"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

// Invalid-destination error codes from the carrier. These mean the number
// itself is bad, so redialing on the compliance schedule would never help.
var invalidDestinationCodes = map[int]struct{}{
	21211: {}, // invalid To number
	21214: {}, // To number not reachable
	21217: {}, // number outside permitted regions
}

// Primer seeds the speech instructions for a call before the carrier opens
// the media stream, so the bridge can greet without a database round trip.
type Primer interface {
	Prime(ctx context.Context, callID string, instructions string) error
}

// Provider initiates calls through the Twilio REST API.
type Provider struct {
	client *twiliosdk.RestClient
	cfg    config.CarrierConfig
	primer Primer
	logger *logger.Logger
}

func NewProvider(cfg config.CarrierConfig, primer Primer, log *logger.Logger) (*Provider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: carrier credentials missing", apperrors.ErrConfiguration)
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("%w: carrier from_number missing", apperrors.ErrConfiguration)
	}

	client := twiliosdk.NewRestClientWithParams(twiliosdk.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Provider{
		client: client,
		cfg:    cfg,
		primer: primer,
		logger: log.Named("twilio"),
	}, nil
}

// Initiate creates the outbound call with dual-channel recording and points
// the carrier at the media-stream listener. The record id rides along as a
// custom stream parameter so the bridge can associate the socket.
func (p *Provider) Initiate(ctx context.Context, call *domain.CallRecord, dialString string) (telephony.Initiation, error) {
	callID := call.ID.String()
	p.prime(ctx, call)

	params, err := p.buildParams(callID, dialString)
	if err != nil {
		return telephony.Initiation{}, err
	}

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return telephony.Initiation{}, mapCarrierError(err)
	}
	if resp.Sid == nil || *resp.Sid == "" {
		return telephony.Initiation{}, fmt.Errorf("%w: carrier returned call without sid", apperrors.ErrCarrier)
	}

	p.logger.Info("call initiated",
		zap.String("call_id", callID),
		zap.String("call_sid", *resp.Sid))

	return telephony.Initiation{CallSID: *resp.Sid}, nil
}

// prime is best effort: a cache miss at stream start falls back to a
// record lookup, so a failed push must never block the dial.
func (p *Provider) prime(ctx context.Context, call *domain.CallRecord) {
	if p.primer == nil || call.Instructions == nil || *call.Instructions == "" {
		return
	}
	if err := p.primer.Prime(ctx, call.ID.String(), *call.Instructions); err != nil {
		p.logger.Warn("instruction prime failed",
			zap.String("call_id", call.ID.String()),
			zap.Error(err))
	}
}

func (p *Provider) buildParams(callID, dialString string) (*openapi.CreateCallParams, error) {
	doc, err := p.streamTwiML(callID)
	if err != nil {
		return nil, fmt.Errorf("%w: render twiml: %v", apperrors.ErrConfiguration, err)
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(dialString)
	params.SetFrom(p.cfg.FromNumber)
	params.SetTwiml(doc)
	params.SetRecord(true)
	params.SetRecordingChannels("dual")
	params.SetRecordingStatusCallback(p.callbackURL(callID, "recording"))
	params.SetRecordingStatusCallbackEvent([]string{"completed"})
	params.SetRecordingStatusCallbackMethod(http.MethodPost)
	params.SetStatusCallback(p.callbackURL(callID, "status"))
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetStatusCallbackMethod(http.MethodPost)
	return params, nil
}

func (p *Provider) streamTwiML(callID string) (string, error) {
	stream := &twiml.VoiceStream{
		Url: p.cfg.StreamURL,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "recordId", Value: callID},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	return twiml.Voice([]twiml.Element{connect})
}

func (p *Provider) callbackURL(callID, leaf string) string {
	return fmt.Sprintf("%s/webhooks/calls/%s/%s", p.cfg.CallbackBase, callID, leaf)
}

// FetchRecording downloads a dual-channel recording using the account's
// basic-auth credentials. Recording media URLs are unauthenticated links
// that require the account credentials to dereference.
func (p *Provider) FetchRecording(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	httpClient := &http.Client{Timeout: p.cfg.RequestTimeout}
	if p.cfg.RequestTimeout <= 0 {
		httpClient.Timeout = 2 * time.Minute
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: recording fetch: %v", apperrors.ErrCarrier, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: recording fetch status %d", apperrors.ErrCarrier, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: recording read: %v", apperrors.ErrCarrier, err)
	}
	return data, nil
}

func mapCarrierError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		if _, ok := invalidDestinationCodes[restErr.Code]; ok {
			return fmt.Errorf("%w: %s", apperrors.ErrDestinationResolution, restErr.Message)
		}
		if restErr.Status == http.StatusUnauthorized || restErr.Status == http.StatusForbidden {
			return fmt.Errorf("%w: %s", apperrors.ErrConfiguration, restErr.Message)
		}
		return fmt.Errorf("%w: %s", apperrors.ErrCarrier, restErr.Message)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrCarrier, err)
}
