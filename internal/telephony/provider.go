package telephony

import (
	"context"

	"github.com/acme/call-memento/internal/domain"
	apperrors "github.com/acme/call-memento/pkg/errors"
)

// Initiation describes a carrier call that was accepted for dialing.
type Initiation struct {
	CallSID string
}

// Initiator places the outbound leg of a keepsake call. Implementations must
// map transport failures to apperrors.ErrCarrier and missing credentials to
// apperrors.ErrConfiguration so the processor can pick the right recovery.
type Initiator interface {
	Initiate(ctx context.Context, call *domain.CallRecord, dialString string) (Initiation, error)
}

// RecordingFetcher downloads a finished call recording from the carrier.
type RecordingFetcher interface {
	FetchRecording(ctx context.Context, url string) ([]byte, error)
}

// Resolver turns an encrypted destination handle into a dialable number.
// Decryption runs out of process; until it lands the resolver reports
// apperrors.ErrDecryptionPending.
type Resolver interface {
	Resolve(ctx context.Context, dest domain.Destination) (string, error)
}

// StaticResolver serves records whose dial string has already been written
// back by the decryption pipeline.
type StaticResolver struct{}

func (StaticResolver) Resolve(_ context.Context, dest domain.Destination) (string, error) {
	if dest.DialString == nil || *dest.DialString == "" {
		return "", apperrors.ErrDecryptionPending
	}
	return *dest.DialString, nil
}
