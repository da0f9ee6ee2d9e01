package twilio

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"

	"github.com/acme/call-memento/internal/config"
	"github.com/acme/call-memento/internal/domain"
	apperrors "github.com/acme/call-memento/pkg/errors"
	"github.com/acme/call-memento/pkg/logger"
)

type fakePrimer struct {
	calls        int
	callID       string
	instructions string
}

func (f *fakePrimer) Prime(_ context.Context, callID, instructions string) error {
	f.calls++
	f.callID = callID
	f.instructions = instructions
	return nil
}

func testCarrierConfig() config.CarrierConfig {
	return config.CarrierConfig{
		AccountSID:   "AC00000000000000000000000000000000",
		AuthToken:    "secret",
		FromNumber:   "+15005550006",
		CallbackBase: "https://hooks.example",
		StreamURL:    "wss://media.example/streams",
	}
}

func newTestProvider(t *testing.T, primer Primer) *Provider {
	t.Helper()
	p, err := NewProvider(testCarrierConfig(), primer, &logger.Logger{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestNewProviderRequiresCredentials(t *testing.T) {
	cfg := testCarrierConfig()
	cfg.AuthToken = ""
	if _, err := NewProvider(cfg, nil, &logger.Logger{Logger: zap.NewNop()}); !apperrors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("missing token: err = %v, want configuration error", err)
	}

	cfg = testCarrierConfig()
	cfg.FromNumber = ""
	if _, err := NewProvider(cfg, nil, &logger.Logger{Logger: zap.NewNop()}); !apperrors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("missing from number: err = %v, want configuration error", err)
	}
}

func TestPrimePassesRecordIdentity(t *testing.T) {
	primer := &fakePrimer{}
	p := newTestProvider(t, primer)

	instructions := "wish grandma a happy birthday"
	rec := &domain.CallRecord{ID: uuid.New(), Instructions: &instructions}

	p.prime(context.Background(), rec)
	if primer.calls != 1 {
		t.Fatalf("prime calls = %d, want 1", primer.calls)
	}
	if primer.callID != rec.ID.String() {
		t.Errorf("primed call id = %q, want %q", primer.callID, rec.ID.String())
	}
	if primer.instructions != instructions {
		t.Errorf("primed instructions = %q, want %q", primer.instructions, instructions)
	}
}

func TestPrimeSkipsRecordWithoutInstructions(t *testing.T) {
	primer := &fakePrimer{}
	p := newTestProvider(t, primer)

	p.prime(context.Background(), &domain.CallRecord{ID: uuid.New()})
	empty := ""
	p.prime(context.Background(), &domain.CallRecord{ID: uuid.New(), Instructions: &empty})
	if primer.calls != 0 {
		t.Errorf("prime calls = %d, want 0", primer.calls)
	}
}

func TestCallParamsCarryRecordID(t *testing.T) {
	p := newTestProvider(t, nil)
	callID := uuid.New().String()

	params, err := p.buildParams(callID, "+12125551234")
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}

	if params.Twiml == nil || !strings.Contains(*params.Twiml, callID) {
		t.Errorf("twiml does not carry the record id: %v", params.Twiml)
	}
	if !strings.Contains(*params.Twiml, "wss://media.example/streams") {
		t.Errorf("twiml does not target the stream listener: %v", *params.Twiml)
	}

	wantStatus := "https://hooks.example/webhooks/calls/" + callID + "/status"
	if params.StatusCallback == nil || *params.StatusCallback != wantStatus {
		t.Errorf("status callback = %v, want %s", params.StatusCallback, wantStatus)
	}
	wantRecording := "https://hooks.example/webhooks/calls/" + callID + "/recording"
	if params.RecordingStatusCallback == nil || *params.RecordingStatusCallback != wantRecording {
		t.Errorf("recording callback = %v, want %s", params.RecordingStatusCallback, wantRecording)
	}

	if params.Record == nil || !*params.Record {
		t.Error("call must be recorded")
	}
	if params.RecordingChannels == nil || *params.RecordingChannels != "dual" {
		t.Errorf("recording channels = %v, want dual", params.RecordingChannels)
	}
}

func TestMapCarrierError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"invalid destination code", &twilioclient.TwilioRestError{Code: 21211, Status: 400, Message: "invalid To"}, apperrors.ErrDestinationResolution},
		{"auth rejected", &twilioclient.TwilioRestError{Code: 20003, Status: 401, Message: "authenticate"}, apperrors.ErrConfiguration},
		{"carrier fault", &twilioclient.TwilioRestError{Code: 20500, Status: 500, Message: "internal"}, apperrors.ErrCarrier},
		{"transport fault", errors.New("connection reset"), apperrors.ErrCarrier},
	}

	for _, tc := range cases {
		if got := mapCarrierError(tc.in); !errors.Is(got, tc.want) {
			t.Errorf("%s: mapped to %v, want %v", tc.name, got, tc.want)
		}
	}
}
