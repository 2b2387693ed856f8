package login

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-secure-stdlib/nonceutil"
	"github.com/valkey-io/valkey-go"
)

var errNonceNotFound = errors.New("nonce not found")

// NonceService issues the single-use nonces bound to implicit-flow ID tokens.
type NonceService interface {
	Get(ctx context.Context) (string, error)
	Redeem(ctx context.Context, nonce string) error
}

type HashicorpNonceService struct {
	nonceService nonceutil.NonceService
}

func NewHashicorpNonceService() (*HashicorpNonceService, error) {
	nonceService := nonceutil.NewNonceService()
	if err := nonceService.Initialize(); err != nil {
		return nil, fmt.Errorf("could not initialize nonce service: %w", err)
	}
	return &HashicorpNonceService{nonceService}, nil
}

func (s *HashicorpNonceService) Get(context.Context) (string, error) {
	nonce, _, err := s.nonceService.Get()
	if err != nil {
		return "", err
	}
	return nonce, nil
}

func (s *HashicorpNonceService) Redeem(_ context.Context, nonce string) error {
	if !s.nonceService.Redeem(nonce) {
		return errNonceNotFound
	}
	return nil
}

const nonceBits = 256

// ValkeyNonceService keeps nonces in Valkey so a callback may land on any replica.
type ValkeyNonceService struct {
	client valkey.Client
	ttl    time.Duration
}

func NewValkeyNonceService(client valkey.Client, ttl time.Duration) *ValkeyNonceService {
	return &ValkeyNonceService{client: client, ttl: ttl}
}

func (v *ValkeyNonceService) Get(ctx context.Context) (string, error) {
	randomBytes := make([]byte, nonceBits/8)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(randomBytes)

	cmd := v.client.B().Set().Key("nonce:" + nonce).Value("").Ex(v.ttl).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return "", fmt.Errorf("storing nonce in Valkey: %w", err)
	}
	return nonce, nil
}

func (v *ValkeyNonceService) Redeem(ctx context.Context, nonce string) error {
	// DEL reports how many keys it removed, so only one caller can see 1
	deleted, err := v.client.Do(ctx, v.client.B().Del().Key("nonce:"+nonce).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("deleting nonce from Valkey: %w", err)
	}
	if deleted == 0 {
		return errNonceNotFound
	}
	return nil
}
