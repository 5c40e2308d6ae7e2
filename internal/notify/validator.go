package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validator authenticates an inbound webhook request before any notification
// reaches the dispatcher. The platform signs each delivery with a bearer JWT
// whose claims must bind to the tenant and application this process serves.
//
// Validation failures are side-effect-free: no session or history mutation
// ever happens for a rejected request.

type ValidatorConfig struct {
	Secret   string
	Issuer   string
	Audience string

	// TenantID and AppID pin deliveries to this bot's trust configuration.
	TenantID string
	AppID    string
}

type Validator struct {
	secret   []byte
	issuer   string
	audience string
	tenantID string
	appID    string

	now func() time.Time
}

type deliveryClaims struct {
	jwt.RegisteredClaims

	TenantID string `json:"tid"`
	AppID    string `json:"app_id"`
}

func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("notify: validator secret is required")
	}
	if cfg.TenantID == "" {
		return nil, errors.New("notify: validator tenant_id is required")
	}
	return &Validator{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		tenantID: cfg.TenantID,
		appID:    cfg.AppID,
		now:      time.Now,
	}, nil
}

// Validate authenticates the Authorization header and parses the body into a
// Batch. Errors are ErrAuth or ErrBadPayload; nothing else leaks out.
func (v *Validator) Validate(authorization string, body []byte) (Batch, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return Batch{}, fmt.Errorf("%w: missing bearer token", ErrAuth)
	}

	var claims deliveryClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(30*time.Second),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if err := jwt.NewValidator(opts...).Validate(claims.RegisteredClaims); err != nil {
		return Batch{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	if claims.TenantID != v.tenantID {
		return Batch{}, fmt.Errorf("%w: tenant mismatch", ErrAuth)
	}
	if v.appID != "" && claims.AppID != v.appID {
		return Batch{}, fmt.Errorf("%w: application mismatch", ErrAuth)
	}

	notifications, err := ParseBatch(body)
	if err != nil {
		return Batch{}, err
	}
	return Batch{TenantID: claims.TenantID, Notifications: notifications}, nil
}

func bearerToken(authorization string) (string, bool) {
	const prefix = "Bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(authorization[len(prefix):]), true
}
