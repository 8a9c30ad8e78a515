package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/ajsuth/headstart/internal/platform/config"
)

// ProviderFirebase tags identities verified through Firebase Authentication.
const ProviderFirebase = "firebase"

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens and maps custom claims onto an Identity.
type FirebaseVerifier struct {
	client    idTokenVerifier
	roleClaim string
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseRoleClaim names the custom claim carrying the caller's roles.
func WithFirebaseRoleClaim(claim string) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if claim = strings.TrimSpace(claim); claim != "" {
			v.roleClaim = claim
		}
	}
}

func withFirebaseClient(client idTokenVerifier) FirebaseOption {
	return func(v *FirebaseVerifier) {
		v.client = client
	}
}

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	verifier := &FirebaseVerifier{roleClaim: defaultRoleClaim}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	if verifier.client != nil {
		return verifier, nil
	}

	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: initialise firebase auth client: %w", err)
	}
	verifier.client = client
	return verifier, nil
}

// Verify implements TokenVerifier.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if v == nil || v.client == nil {
		return nil, ErrVerifierUnavailable
	}

	verified, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		if firebaseauth.IsIDTokenExpired(err) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims := verified.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	username := claimAsString(claims, "email")
	if username == "" {
		username = claimAsString(claims, "name")
	}

	return &Identity{
		Subject:  verified.UID,
		Username: username,
		UserType: claimAsString(claims, "usrtype"),
		Roles:    rolesFromClaims(claims, v.roleClaim),
		Provider: ProviderFirebase,
		Claims:   claims,
	}, nil
}
