package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tamadeu/jsMyAdmin-sub000/internal/identity"
	"go.uber.org/zap"
)

var (
	errMissingHostConfig = errors.New("server host configuration required")
	errMissingDialer     = errors.New("credential dialer required")
	// ErrInvalidVerifierConfig indicates the verifier cannot be constructed.
	ErrInvalidVerifierConfig = errors.New("auth: invalid credential verifier config")
	// ErrBadCredentials indicates the database server rejected the login.
	ErrBadCredentials = errors.New("auth: bad credentials")
)

// DialFunc attempts a connection to the managed server with the supplied
// credentials, returning an error when the server rejects them.
type DialFunc func(ctx context.Context, username, password string) error

// CredentialVerifierConfig bundles configuration for a CredentialVerifier.
type CredentialVerifierConfig struct {
	Host   string
	Dial   DialFunc
	Logger *zap.Logger
}

// CredentialVerifier authenticates end users against the managed database
// server with their own credentials; no local password store exists.
type CredentialVerifier struct {
	host   string
	dial   DialFunc
	logger *zap.Logger
}

// NewCredentialVerifier constructs a verifier with validated configuration.
func NewCredentialVerifier(cfg CredentialVerifierConfig) (*CredentialVerifier, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingHostConfig)
	}
	if cfg.Dial == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingDialer)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialVerifier{host: host, dial: cfg.Dial, logger: logger}, nil
}

// Verify checks the username/password pair against the server and returns
// the identity the session will be scoped to.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (identity.Identity, error) {
	id, err := identity.New(username, v.host)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}

	if err := v.dial(ctx, id.Username, password); err != nil {
		v.logger.Warn("credential verification failed",
			zap.String("username", id.Username),
			zap.String("host", v.host),
			zap.Error(err))
		return identity.Identity{}, fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}

	return id, nil
}
