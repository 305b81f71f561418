package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"guardianlink/internal/auth"
	"guardianlink/internal/email"
	"guardianlink/internal/storage"
)

const (
	purposeVerify = "verify"
	purposeReset  = "reset"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountPending     = errors.New("account is not verified yet")
	ErrForbidden          = errors.New("operation not permitted")
)

// UserStore is the persistence surface the identity flows need.
type UserStore interface {
	CreateUser(ctx context.Context, p storage.CreateUserParams) (storage.User, error)
	UserByEmail(ctx context.Context, email string) (storage.User, error)
	ActivateUser(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, email, passwordHash string) error
}

// Service implements account lifecycle: registration, email verification,
// login and password reset. Accounts start pending and become active only
// after the emailed code comes back.
type Service struct {
	logger *zap.SugaredLogger
	users  UserStore
	codes  CodeStore
	mailer email.Sender
	signer auth.Signer
}

func NewService(logger *zap.SugaredLogger, users UserStore, codes CodeStore, mailer email.Sender, signer auth.Signer) *Service {
	return &Service{
		logger: logger,
		users:  users,
		codes:  codes,
		mailer: mailer,
		signer: signer,
	}
}

type RegisterParams struct {
	Name           string
	Email          string
	Password       string
	Role           storage.Role
	OrganizationID string
}

// Register creates a pending guardian account and emails a verification
// code. Open registration never hands out privileged roles: superAdmin
// accounts are seeded at deploy time, and the tiers below are provisioned
// down the admin chain (ProvisionUser, CreateGuardian) by an authenticated
// caller of the tier above.
func (s *Service) Register(ctx context.Context, p RegisterParams) (storage.User, error) {
	if p.Name == "" || p.Email == "" || p.Password == "" {
		return storage.User{}, errors.New("name, email and password are required")
	}
	if p.Role != storage.RoleGuardian {
		return storage.User{}, ErrForbidden
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return storage.User{}, fmt.Errorf("hashing password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, storage.CreateUserParams{
		Name:           p.Name,
		Email:          p.Email,
		PasswordHash:   string(hash),
		Role:           p.Role,
		OrganizationID: p.OrganizationID,
		Status:         storage.UserStatusPending,
	})
	if err != nil {
		return storage.User{}, err
	}

	if err := s.sendVerification(ctx, u.Email); err != nil {
		// The account exists, the code can be re-requested.
		s.logger.Errorw("sending verification code", "email", u.Email, "error", err)
	}

	return u, nil
}

// provisionChain maps an actor role to the single role it may provision.
// Guardians sit at the bottom of the chain and are created through
// CreateGuardian, which additionally carries the child links.
var provisionChain = map[storage.Role]storage.Role{
	storage.RoleSuperAdmin:        storage.RoleOrganizationAdmin,
	storage.RoleOrganizationAdmin: storage.RoleTeacher,
}

// ProvisionUser lets an authenticated admin create the next account tier:
// superAdmin provisions organization admins, organization admins provision
// teachers. Any other actor/role combination is rejected.
func (s *Service) ProvisionUser(ctx context.Context, actorRole storage.Role, p RegisterParams) (storage.User, error) {
	if next, ok := provisionChain[actorRole]; !ok || next != p.Role {
		return storage.User{}, ErrForbidden
	}
	if p.Name == "" || p.Email == "" {
		return storage.User{}, errors.New("name and email are required")
	}

	return s.invite(ctx, p, nil)
}

// CreateGuardian lets a teacher provision a guardian account linked to the
// teacher's students. The guardian receives a reset code by mail and picks
// their own password through the reset flow.
func (s *Service) CreateGuardian(ctx context.Context, actorRole storage.Role, p RegisterParams, childIDs []string) (storage.User, error) {
	if actorRole != storage.RoleTeacher {
		return storage.User{}, ErrForbidden
	}
	if p.Name == "" || p.Email == "" {
		return storage.User{}, errors.New("name and email are required")
	}

	p.Role = storage.RoleGuardian
	return s.invite(ctx, p, childIDs)
}

// invite creates an active account with an unusable placeholder credential
// and mails a reset code so the invitee picks their own password.
func (s *Service) invite(ctx context.Context, p RegisterParams, childIDs []string) (storage.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return storage.User{}, fmt.Errorf("hashing password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, storage.CreateUserParams{
		Name:           p.Name,
		Email:          p.Email,
		PasswordHash:   string(hash),
		Role:           p.Role,
		OrganizationID: p.OrganizationID,
		Status:         storage.UserStatusActive,
		ChildIDs:       childIDs,
	})
	if err != nil {
		return storage.User{}, err
	}

	code, err := s.codes.Issue(ctx, purposeReset, u.Email)
	if err != nil {
		return storage.User{}, err
	}
	if err := s.mailer.Send(ctx, u.Email, "Your account",
		fmt.Sprintf("An account was created for you. Use code %s to set your password.", code)); err != nil {
		s.logger.Errorw("sending account invite", "email", u.Email, "error", err)
	}

	return u, nil
}

// Verify activates a pending account when the emailed code matches.
func (s *Service) Verify(ctx context.Context, emailAddr, code string) error {
	if err := s.codes.Verify(ctx, purposeVerify, emailAddr, code); err != nil {
		return err
	}
	return s.users.ActivateUser(ctx, emailAddr)
}

// ResendVerification issues a fresh code for a still-pending account.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) error {
	u, err := s.users.UserByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	if u.Status != storage.UserStatusPending {
		return errors.New("account is already verified")
	}
	return s.sendVerification(ctx, u.Email)
}

// Login checks the credentials and returns the user with a signed access
// token. Failures do not reveal whether the email exists.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (storage.User, string, error) {
	u, err := s.users.UserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return storage.User{}, "", ErrInvalidCredentials
		}
		return storage.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return storage.User{}, "", ErrInvalidCredentials
	}
	if u.Status != storage.UserStatusActive {
		return storage.User{}, "", ErrAccountPending
	}

	token, err := s.signer.Issue(u)
	if err != nil {
		return storage.User{}, "", err
	}
	return u, token, nil
}

// RequestPasswordReset mails a reset code. Unknown emails succeed silently
// so the endpoint cannot be used to probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	if _, err := s.users.UserByEmail(ctx, emailAddr); err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return nil
		}
		return err
	}

	code, err := s.codes.Issue(ctx, purposeReset, emailAddr)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, emailAddr, "Password reset",
		fmt.Sprintf("Use code %s to reset your password.", code))
}

// ResetPassword replaces the password when the reset code matches.
func (s *Service) ResetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	if newPassword == "" {
		return errors.New("password is required")
	}
	if err := s.codes.Verify(ctx, purposeReset, emailAddr, code); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return s.users.UpdatePassword(ctx, emailAddr, string(hash))
}

func (s *Service) sendVerification(ctx context.Context, emailAddr string) error {
	code, err := s.codes.Issue(ctx, purposeVerify, emailAddr)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, emailAddr, "Verify your account",
		fmt.Sprintf("Your verification code is %s.", code))
}
