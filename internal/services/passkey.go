package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/challenge"
	"github.com/nridwan/elysian-realm-sub000/internal/config"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/internal/repository"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
)

// CeremonyTimeout is the option timeout sent to the browser. It is a client
// hint only; challenge lifetime is governed by challenge.TTL.
const CeremonyTimeout = 120 * time.Second

type CredentialRepository interface {
	FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PasskeyCredential, error)
	FindByID(ctx context.Context, rawID []byte) (*models.PasskeyCredential, error)
	Create(ctx context.Context, cred *models.PasskeyCredential) error
	UpdateCounter(ctx context.Context, id string, counter uint32, usedAt time.Time) error
	UpdateDisplayName(ctx context.Context, id string, name *string) error
	Delete(ctx context.Context, id string) error
}

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type PasskeyParams struct {
	WebAuthn    config.WebAuthnConfig
	Challenges  challenge.Store
	Credentials CredentialRepository
	Users       UserRepository
}

// PasskeyService runs the WebAuthn registration and authentication
// ceremonies against stored challenges and credentials.
type PasskeyService struct {
	webAuthn    *webauthn.WebAuthn
	challenges  challenge.Store
	credentials CredentialRepository
	users       UserRepository
	now         func() time.Time
}

func NewPasskeyService(params PasskeyParams) (*PasskeyService, error) {
	if params.Challenges == nil || params.Credentials == nil || params.Users == nil {
		return nil, errors.New("passkey service requires challenge, credential and user stores")
	}

	wa, err := webauthn.New(relyingPartyConfig(params.WebAuthn))
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &PasskeyService{
		webAuthn:    wa,
		challenges:  params.Challenges,
		credentials: params.Credentials,
		users:       params.Users,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func relyingPartyConfig(cfg config.WebAuthnConfig) *webauthn.Config {
	ceremony := webauthn.TimeoutConfig{Enforce: false, Timeout: CeremonyTimeout, TimeoutUVD: CeremonyTimeout}

	return &webauthn.Config{
		RPID:                  cfg.RPID,
		RPDisplayName:         cfg.RPDisplayName,
		RPOrigins:             cfg.RPOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		},
		Timeouts: webauthn.TimeoutsConfig{
			Login:        ceremony,
			Registration: ceremony,
		},
	}
}

// passkeyUser adapts a stored user and credentials to webauthn.User.
type passkeyUser struct {
	id          uuid.UUID
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	b, _ := u.id.MarshalBinary()
	return b
}

func (u *passkeyUser) WebAuthnName() string {
	return u.name
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.displayName
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func toWebAuthnCredentials(stored []models.PasskeyCredential) []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, sc := range stored {
		rawID, err := repository.DecodeCredentialID(sc.ID)
		if err != nil {
			logger.Warn("passkey_credential_id_invalid", map[string]interface{}{"credential_id": sc.ID})
			continue
		}

		transports := make([]protocol.AuthenticatorTransport, len(sc.Transports))
		for i, t := range sc.Transports {
			transports[i] = protocol.AuthenticatorTransport(t)
		}

		creds = append(creds, webauthn.Credential{
			ID:              rawID,
			PublicKey:       sc.PublicKey,
			AttestationType: sc.AttestationType,
			Transport:       transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: sc.BackupEligible,
				BackupState:    sc.BackedUp,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    sc.AAGUID,
				SignCount: sc.SignatureCounter,
			},
		})
	}
	return creds
}

func descriptors(creds []webauthn.Credential) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, len(creds))
	for i, cred := range creds {
		out[i] = cred.Descriptor()
	}
	return out
}

func (s *PasskeyService) loadUser(ctx context.Context, id uuid.UUID) (*models.User, *passkeyUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, wrapError("find user", err)
	}

	stored, err := s.credentials.FindByOwner(ctx, user.ID)
	if err != nil {
		return nil, nil, wrapError("find credentials", err)
	}

	return user, &passkeyUser{
		id:          user.ID,
		name:        user.Email,
		displayName: user.Name,
		credentials: toWebAuthnCredentials(stored),
	}, nil
}

func (s *PasskeyService) saveChallenge(ctx context.Context, ns challenge.Namespace, key string, session *webauthn.SessionData, auxiliary string) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return wrapError("encode session", err)
	}

	rec := challenge.Record{
		Challenge: session.Challenge,
		Auxiliary: auxiliary,
		Session:   payload,
		CreatedAt: s.now(),
	}
	if err := s.challenges.Put(ctx, ns, key, rec, challenge.TTL); err != nil {
		return wrapError("store challenge", err)
	}
	return nil
}

// loadChallenge returns missing for both absent records and empty keys.
func (s *PasskeyService) loadChallenge(ctx context.Context, ns challenge.Namespace, key string, missing error) (*challenge.Record, *webauthn.SessionData, error) {
	rec, err := s.challenges.Get(ctx, ns, key)
	if errors.Is(err, challenge.ErrNotFound) || errors.Is(err, challenge.ErrEmptyKey) {
		return nil, nil, missing
	}
	if err != nil {
		return nil, nil, wrapError("load challenge", err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(rec.Session, &session); err != nil {
		return nil, nil, wrapError("decode session", err)
	}
	return rec, &session, nil
}

func (s *PasskeyService) discardChallenge(ctx context.Context, ns challenge.Namespace, key string) {
	if err := s.challenges.Delete(ctx, ns, key); err != nil {
		logger.Error("passkey_challenge_delete_failed", err, map[string]interface{}{
			"namespace": string(ns),
		})
	}
}

type RegistrationStart struct {
	UserID      uuid.UUID
	Email       string
	DisplayName string
	// PasskeyName is carried to FinishRegistration as the credential label.
	PasskeyName string
	// SessionUUID keys the challenge instead of the user id when set.
	SessionUUID string
}

func registrationKey(userID uuid.UUID, sessionUUID string) string {
	if sessionUUID != "" {
		return sessionUUID
	}
	return userID.String()
}

// StartRegistration builds creation options that exclude the user's existing
// credentials and stores the challenge for FinishRegistration.
func (s *PasskeyService) StartRegistration(ctx context.Context, req RegistrationStart) (*protocol.CredentialCreation, error) {
	stored, err := s.credentials.FindByOwner(ctx, req.UserID)
	if err != nil {
		return nil, wrapError("find credentials", err)
	}
	existing := toWebAuthnCredentials(stored)

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Email
	}
	user := &passkeyUser{id: req.UserID, name: req.Email, displayName: displayName, credentials: existing}

	options, session, err := s.webAuthn.BeginRegistration(user,
		webauthn.WithExclusions(descriptors(existing)),
	)
	if err != nil {
		return nil, wrapError("begin registration", err)
	}

	key := registrationKey(req.UserID, req.SessionUUID)
	if err := s.saveChallenge(ctx, challenge.NamespaceRegistration, key, session, strings.TrimSpace(req.PasskeyName)); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishRegistration verifies the attestation against the stored challenge
// and persists the new credential. A failed verification leaves the
// challenge in place for a retry.
func (s *PasskeyService) FinishRegistration(ctx context.Context, userID uuid.UUID, response *protocol.ParsedCredentialCreationData, sessionUUID string) (*models.PasskeyCredential, error) {
	key := registrationKey(userID, sessionUUID)
	rec, session, err := s.loadChallenge(ctx, challenge.NamespaceRegistration, key, ErrNoRegistrationChallenge)
	if err != nil {
		return nil, err
	}
	// A response to a superseded challenge has no live challenge to match.
	if response.Response.CollectedClientData.Challenge != rec.Challenge {
		return nil, ErrNoRegistrationChallenge
	}

	_, user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	credential, err := s.webAuthn.CreateCredential(user, *session, response)
	if err != nil {
		logger.WarnWithUser(userID.String(), "passkey_verification_failed", map[string]interface{}{
			"ceremony": "registration",
			"reason":   err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	transports := make([]string, len(credential.Transport))
	for i, t := range credential.Transport {
		transports[i] = string(t)
	}

	deviceType := models.DeviceTypeSingle
	if credential.Flags.BackupEligible {
		deviceType = models.DeviceTypeMulti
	}

	record := &models.PasskeyCredential{
		ID:               repository.EncodeCredentialID(credential.ID),
		OwnerID:          userID,
		PublicKey:        credential.PublicKey,
		SignatureCounter: credential.Authenticator.SignCount,
		Transports:       transports,
		DeviceType:       deviceType,
		BackedUp:         credential.Flags.BackupState,
		BackupEligible:   credential.Flags.BackupEligible,
		AttestationType:  credential.AttestationType,
		AAGUID:           credential.Authenticator.AAGUID,
	}
	if rec.Auxiliary != "" {
		name := rec.Auxiliary
		record.DisplayName = &name
	}

	if err := s.credentials.Create(ctx, record); err != nil {
		return nil, wrapError("save credential", err)
	}
	s.discardChallenge(ctx, challenge.NamespaceRegistration, key)

	logger.InfoWithUser(userID.String(), "passkey_registered", map[string]interface{}{
		"credential_id": record.ID,
		"device_type":   record.DeviceType,
	})
	return record, nil
}

// StartAuthentication begins an email-identified login restricted to the
// user's credentials. The challenge is keyed by user id; sessionUUID is only
// logged.
func (s *PasskeyService) StartAuthentication(ctx context.Context, email, sessionUUID string) (*protocol.CredentialAssertion, uuid.UUID, error) {
	found, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, uuid.Nil, ErrUserNotFound
	}
	if err != nil {
		return nil, uuid.Nil, wrapError("find user", err)
	}

	_, user, err := s.loadUser(ctx, found.ID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if len(user.credentials) == 0 {
		return nil, uuid.Nil, ErrNoPasskeys
	}

	options, session, err := s.webAuthn.BeginLogin(user,
		webauthn.WithAllowedCredentials(descriptors(user.credentials)),
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, uuid.Nil, wrapError("begin login", err)
	}

	if err := s.saveChallenge(ctx, challenge.NamespaceAuthentication, found.ID.String(), session, ""); err != nil {
		return nil, uuid.Nil, err
	}

	logger.Debug("passkey_authentication_started", map[string]interface{}{
		"user_id": found.ID.String(),
		"session": sessionUUID,
	})
	return options, found.ID, nil
}

// StartPasswordless begins a discoverable login with no allow-list.
func (s *PasskeyService) StartPasswordless(ctx context.Context, sessionUUID string) (*protocol.CredentialAssertion, error) {
	if sessionUUID == "" {
		return nil, ErrSessionRequired
	}

	options, session, err := s.webAuthn.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, wrapError("begin discoverable login", err)
	}

	if err := s.saveChallenge(ctx, challenge.NamespacePasswordless, sessionUUID, session, ""); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishAuthentication verifies an assertion and returns the id of the
// credential's owner. An empty userID selects the passwordless challenge
// keyed by sessionUUID. The stored counter only changes on success.
func (s *PasskeyService) FinishAuthentication(ctx context.Context, userID string, response *protocol.ParsedCredentialAssertionData, sessionUUID string) (uuid.UUID, error) {
	stored, err := s.credentials.FindByID(ctx, response.RawID)
	if errors.Is(err, repository.ErrNotFound) {
		return uuid.Nil, ErrPasskeyNotFound
	}
	if err != nil {
		return uuid.Nil, wrapError("find credential", err)
	}

	ns, key := challenge.NamespacePasswordless, sessionUUID
	if userID != "" {
		ns, key = challenge.NamespaceAuthentication, userID
	}
	rec, session, err := s.loadChallenge(ctx, ns, key, ErrNoAuthenticationChallenge)
	if err != nil {
		return uuid.Nil, err
	}
	if response.Response.CollectedClientData.Challenge != rec.Challenge {
		return uuid.Nil, ErrNoAuthenticationChallenge
	}

	if userID != "" && userID != stored.OwnerID.String() {
		logger.Warn("passkey_verification_failed", map[string]interface{}{
			"ceremony":      "authentication",
			"reason":        "credential owner mismatch",
			"credential_id": stored.ID,
		})
		return uuid.Nil, ErrAuthenticationFailed
	}

	_, owner, err := s.loadUser(ctx, stored.OwnerID)
	if err != nil {
		return uuid.Nil, err
	}

	var credential *webauthn.Credential
	if userID != "" {
		credential, err = s.webAuthn.ValidateLogin(owner, *session, response)
	} else {
		credential, err = s.webAuthn.ValidateDiscoverableLogin(
			func(_, userHandle []byte) (webauthn.User, error) {
				if !bytes.Equal(userHandle, owner.WebAuthnID()) {
					return nil, ErrPasskeyNotFound
				}
				return owner, nil
			},
			*session,
			response,
		)
	}
	if err != nil {
		logger.WarnWithUser(stored.OwnerID.String(), "passkey_verification_failed", map[string]interface{}{
			"ceremony":      string(ns),
			"credential_id": stored.ID,
			"reason":        err.Error(),
		})
		return uuid.Nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrVerificationFailed)
	}

	reported := response.Response.AuthenticatorData.Counter
	if !counterAdvanced(stored.SignatureCounter, reported) || credential.Authenticator.CloneWarning {
		logger.WarnWithUser(stored.OwnerID.String(), "passkey_replay_detected", map[string]interface{}{
			"credential_id":    stored.ID,
			"stored_counter":   stored.SignatureCounter,
			"reported_counter": reported,
		})
		return uuid.Nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrReplayDetected)
	}

	if err := s.credentials.UpdateCounter(ctx, stored.ID, reported, s.now()); err != nil {
		if errors.Is(err, repository.ErrStaleCounter) {
			logger.WarnWithUser(stored.OwnerID.String(), "passkey_replay_detected", map[string]interface{}{
				"credential_id":    stored.ID,
				"reported_counter": reported,
				"reason":           "concurrent login advanced the counter",
			})
			return uuid.Nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrReplayDetected)
		}
		return uuid.Nil, wrapError("update counter", err)
	}
	s.discardChallenge(ctx, ns, key)

	logger.InfoWithUser(stored.OwnerID.String(), "passkey_authenticated", map[string]interface{}{
		"credential_id": stored.ID,
		"passwordless":  userID == "",
	})
	return stored.OwnerID, nil
}

// counterAdvanced requires a strictly greater counter, except that
// authenticators which never count may keep reporting zero.
func counterAdvanced(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return true
	}
	return reported > stored
}

func (s *PasskeyService) ListCredentials(ctx context.Context, ownerID uuid.UUID) ([]models.PasskeyCredential, error) {
	creds, err := s.credentials.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, wrapError("find credentials", err)
	}
	return creds, nil
}

func (s *PasskeyService) ownedCredential(ctx context.Context, ownerID uuid.UUID, credentialID string) (*models.PasskeyCredential, error) {
	rawID, err := repository.DecodeCredentialID(credentialID)
	if err != nil {
		return nil, ErrPasskeyNotFound
	}

	cred, err := s.credentials.FindByID(ctx, rawID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPasskeyNotFound
	}
	if err != nil {
		return nil, wrapError("find credential", err)
	}
	if cred.OwnerID != ownerID {
		return nil, ErrPasskeyNotFound
	}
	return cred, nil
}

// RenameCredential sets the display name of one of the owner's credentials.
// An empty name clears it.
func (s *PasskeyService) RenameCredential(ctx context.Context, ownerID uuid.UUID, credentialID, name string) (*models.PasskeyCredential, error) {
	cred, err := s.ownedCredential(ctx, ownerID, credentialID)
	if err != nil {
		return nil, err
	}

	var displayName *string
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		displayName = &trimmed
	}
	if err := s.credentials.UpdateDisplayName(ctx, cred.ID, displayName); err != nil {
		return nil, wrapError("rename credential", err)
	}

	cred.DisplayName = displayName
	return cred, nil
}

// DeleteCredential removes one of the owner's credentials and returns it.
func (s *PasskeyService) DeleteCredential(ctx context.Context, ownerID uuid.UUID, credentialID string) (*models.PasskeyCredential, error) {
	cred, err := s.ownedCredential(ctx, ownerID, credentialID)
	if err != nil {
		return nil, err
	}
	if err := s.credentials.Delete(ctx, cred.ID); err != nil {
		return nil, wrapError("delete credential", err)
	}

	logger.InfoWithUser(ownerID.String(), "passkey_deleted", map[string]interface{}{
		"credential_id": cred.ID,
	})
	return cred, nil
}
