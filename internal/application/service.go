package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentourtools/tourstudio/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type TourService struct {
	repo    domain.TourRepository
	backend domain.StitchBackend

	recorder *Recorder

	mu       sync.Mutex
	sessions map[string]*EditorSession
}

func NewTourService(repo domain.TourRepository, backend domain.StitchBackend) *TourService {
	return &TourService{
		repo:     repo,
		backend:  backend,
		recorder: NewRecorder(),
		sessions: make(map[string]*EditorSession),
	}
}

// Recorder exposes the process-wide microphone slot, shared by all sessions.
func (s *TourService) Recorder() *Recorder { return s.recorder }

func (s *TourService) CreateTour(ctx context.Context, ownerID uint, name string, rooms map[string][]domain.ImageFile) (domain.Tour, map[string]string, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Tour{}, nil, errors.New("tour name is required")
	}
	if len(rooms) == 0 {
		return domain.Tour{}, nil, errors.New("at least one room with images is required")
	}
	for roomName, files := range rooms {
		if strings.TrimSpace(roomName) == "" {
			return domain.Tour{}, nil, errors.New("room names must not be blank")
		}
		if len(files) == 0 {
			return domain.Tour{}, nil, fmt.Errorf("room %q has no images", roomName)
		}
	}

	tourID := uuid.NewString()
	urls, err := s.backend.StitchTour(ctx, tourID, name, rooms)
	if err != nil {
		return domain.Tour{}, nil, err
	}

	tour, err := s.repo.CreateTour(ctx, domain.Tour{ID: tourID, Name: name, OwnerID: ownerID})
	if err != nil {
		return domain.Tour{}, nil, err
	}
	return tour, urls, nil
}

func (s *TourService) GetTour(ctx context.Context, id string) (domain.Tour, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Tour{}, errors.New("tour id is required")
	}
	return s.repo.GetTourByID(ctx, id)
}

func (s *TourService) ListTours(ctx context.Context, ownerID *uint, query string, limit int) ([]domain.Tour, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return s.repo.ListTours(ctx, ownerID, query, limit)
}

func (s *TourService) DeleteTour(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("tour id is required")
	}
	if err := s.repo.DeleteTour(ctx, id); err != nil {
		return err
	}
	s.CloseSession(id)
	return nil
}

// OpenSession loads the tour from the backend and returns an editing session.
// An already-open session for the same tour is reused.
func (s *TourService) OpenSession(ctx context.Context, tourID string) (*EditorSession, error) {
	if strings.TrimSpace(tourID) == "" {
		return nil, errors.New("tour id is required")
	}

	s.mu.Lock()
	if existing, ok := s.sessions[tourID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	data, err := s.backend.GetTourData(ctx, tourID)
	if err != nil {
		return nil, err
	}

	session := newEditorSession(tourID, s.backend, s.recorder, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[tourID]; ok {
		return existing, nil
	}
	s.sessions[tourID] = session
	return session, nil
}

func (s *TourService) Session(tourID string) (*EditorSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tourID]
	if !ok {
		return nil, errors.New("no open editing session for this tour")
	}
	return session, nil
}

func (s *TourService) CloseSession(tourID string) {
	s.mu.Lock()
	session, ok := s.sessions[tourID]
	delete(s.sessions, tourID)
	s.mu.Unlock()
	if ok {
		session.Close()
	}
}

func (s *TourService) BootstrapAdmin(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return errors.New("bootstrap admin email and password are required")
	}

	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	u, err := s.repo.CreateUser(ctx, domain.User{Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: hash})
	if err != nil {
		return err
	}

	adminRoleID, err := s.repo.CreateRoleIfMissing(ctx, "admin", "Administrator")
	if err != nil {
		return err
	}
	permID, err := s.repo.CreatePermissionIfMissing(ctx, "*")
	if err != nil {
		return err
	}
	if err := s.repo.GrantPermissionToRole(ctx, adminRoleID, permID); err != nil {
		return err
	}
	if err := s.repo.AssignRoleToUser(ctx, u.ID, adminRoleID); err != nil {
		return err
	}

	return s.repo.CreateAuditLog(ctx, domain.AuditLog{ActorUserID: &u.ID, Action: "auth.bootstrap_admin", TargetType: "user", Metadata: "initial admin created"})
}

func (s *TourService) Register(ctx context.Context, email, password string) (domain.User, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return domain.User{}, errors.New("email and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	u, err := s.repo.CreateUser(ctx, domain.User{Email: strings.ToLower(strings.TrimSpace(email)), PasswordHash: hash})
	if err != nil {
		return domain.User{}, err
	}

	editorRoleID, err := s.repo.CreateRoleIfMissing(ctx, "editor", "Tour Editor")
	if err != nil {
		return domain.User{}, err
	}
	for _, perm := range []string{"tour.read", "tour.write"} {
		permID, err := s.repo.CreatePermissionIfMissing(ctx, perm)
		if err != nil {
			return domain.User{}, err
		}
		if err := s.repo.GrantPermissionToRole(ctx, editorRoleID, permID); err != nil {
			return domain.User{}, err
		}
	}
	if err := s.repo.AssignRoleToUser(ctx, u.ID, editorRoleID); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (s *TourService) LoginWithSession(ctx context.Context, email, password string, ttl time.Duration) (domain.User, string, error) {
	u, err := s.authenticateEmailPassword(ctx, email, password)
	if err != nil {
		return domain.User{}, "", err
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return domain.User{}, "", err
	}

	_, err = s.repo.CreateSession(ctx, domain.AuthSession{
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
	if err != nil {
		return domain.User{}, "", err
	}

	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{ActorUserID: &u.ID, Action: "auth.login.session", TargetType: "user", Metadata: "session login"})
	return u, plain, nil
}

func (s *TourService) LoginWithAPIToken(ctx context.Context, email, password, tokenName string, ttl *time.Duration) (domain.User, string, error) {
	u, err := s.authenticateEmailPassword(ctx, email, password)
	if err != nil {
		return domain.User{}, "", err
	}

	plain, hash, err := newTokenPair()
	if err != nil {
		return domain.User{}, "", err
	}

	var expiresAt *time.Time
	if ttl != nil {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}

	_, err = s.repo.CreateAPIToken(ctx, domain.APIToken{
		UserID:    u.ID,
		Name:      defaultString(tokenName, "cli"),
		TokenHash: hash,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return domain.User{}, "", err
	}

	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{ActorUserID: &u.ID, Action: "auth.login.api_token", TargetType: "user", Metadata: "api token issued"})
	return u, plain, nil
}

func (s *TourService) AuthenticateSession(ctx context.Context, token string) (domain.Identity, error) {
	hash := hashToken(token)
	session, err := s.repo.GetSessionByTokenHash(ctx, hash)
	if err != nil {
		return domain.Identity{}, errors.New("unauthorized")
	}
	if session.ExpiresAt.Before(time.Now().UTC()) {
		_ = s.repo.DeleteSessionByTokenHash(ctx, hash)
		return domain.Identity{}, errors.New("session expired")
	}

	return s.identityByUserID(ctx, session.UserID)
}

func (s *TourService) AuthenticateBearerToken(ctx context.Context, token string) (domain.Identity, error) {
	hash := hashToken(token)
	apit, err := s.repo.GetAPITokenByTokenHash(ctx, hash)
	if err != nil {
		return domain.Identity{}, errors.New("unauthorized")
	}
	if apit.ExpiresAt != nil && apit.ExpiresAt.Before(time.Now().UTC()) {
		return domain.Identity{}, errors.New("token expired")
	}
	// Best effort; authentication does not depend on the usage timestamp.
	_ = s.repo.TouchAPITokenUsed(ctx, apit.ID)

	return s.identityByUserID(ctx, apit.UserID)
}

func (s *TourService) LogoutSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	return s.repo.DeleteSessionByTokenHash(ctx, hashToken(token))
}

func (s *TourService) Can(identity domain.Identity, permission string) bool {
	if _, ok := identity.Permissions["*"]; ok {
		return true
	}
	_, ok := identity.Permissions[permission]
	return ok
}

func (s *TourService) WriteAudit(ctx context.Context, actorUserID *uint, action, targetType, targetID string) {
	_ = s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUserID: actorUserID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
	})
}

func (s *TourService) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *TourService) authenticateEmailPassword(ctx context.Context, email, password string) (domain.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return domain.User{}, errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, errors.New("invalid credentials")
	}
	return u, nil
}

func (s *TourService) identityByUserID(ctx context.Context, userID uint) (domain.Identity, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return domain.Identity{}, errors.New("unauthorized")
	}
	permList, err := s.repo.GetPermissionsByUserID(ctx, userID)
	if err != nil {
		return domain.Identity{}, err
	}
	permMap := make(map[string]struct{}, len(permList))
	for _, p := range permList {
		permMap[p] = struct{}{}
	}
	return domain.Identity{User: u, Permissions: permMap}, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func newTokenPair() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(raw)
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum[:])
}

func defaultString(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	return input
}
