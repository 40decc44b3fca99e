package domain

import "context"

type TourRepository interface {
	CreateTour(ctx context.Context, value Tour) (Tour, error)
	GetTourByID(ctx context.Context, id string) (Tour, error)
	ListTours(ctx context.Context, ownerID *uint, query string, limit int) ([]Tour, error)
	DeleteTour(ctx context.Context, id string) error

	CreateUser(ctx context.Context, value User) (User, error)
	CountUsers(ctx context.Context) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id uint) (User, error)
	CreateSession(ctx context.Context, value AuthSession) (AuthSession, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (AuthSession, error)
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	CreateAPIToken(ctx context.Context, value APIToken) (APIToken, error)
	GetAPITokenByTokenHash(ctx context.Context, tokenHash string) (APIToken, error)
	TouchAPITokenUsed(ctx context.Context, id uint) error
	CreateRoleIfMissing(ctx context.Context, key, name string) (uint, error)
	CreatePermissionIfMissing(ctx context.Context, key string) (uint, error)
	GrantPermissionToRole(ctx context.Context, roleID, permissionID uint) error
	AssignRoleToUser(ctx context.Context, userID, roleID uint) error
	GetPermissionsByUserID(ctx context.Context, userID uint) ([]string, error)
	CreateAuditLog(ctx context.Context, value AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error)
}

// StitchBackend is the remote stitching service. It is the system of record
// for panoramas, markers, tooltips, audio and the start room; every mutation
// here must succeed before local session state is touched.
type StitchBackend interface {
	StitchTour(ctx context.Context, tourID, tourName string, rooms map[string][]ImageFile) (map[string]string, error)
	GetTourData(ctx context.Context, tourID string) (TourData, error)
	RenameRoom(ctx context.Context, tourID, oldName, newName string) error
	DeleteRoom(ctx context.Context, tourID, roomName string) error
	RestitchRoom(ctx context.Context, tourID, roomName string, files []ImageFile) (string, error)
	SaveMarkers(ctx context.Context, tourID, fromRoom string, markers []Marker) error
	SaveTooltips(ctx context.Context, tourID, roomName string, tooltips []Tooltip) error
	UploadAudio(ctx context.Context, tourID, roomName, filename string, data []byte) (string, error)
	DeleteAudio(ctx context.Context, tourID, roomName string) error
	UpdateStartRoom(ctx context.Context, tourID, newStartRoom string) error
}
