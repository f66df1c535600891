package mfa

import (
	cryptoRand "crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
)

const (
	defaultIssuer          = "Sataplan"
	defaultBackupCodeCount = 10
	defaultQRCodeSize      = 256
)

// TOTPService manages user MFA secrets, backup codes, and QR provisioning.
// Secrets are AES-GCM encrypted at rest; backup codes are stored as bcrypt
// hashes and consumed one at a time.
type TOTPService struct {
	db            *gorm.DB
	encryptionKey []byte

	issuer      string
	backupCodes int
	qrCodeSize  int
	now         func() time.Time
}

// NewTOTPService constructs a TOTP service backed by the provided database.
func NewTOTPService(db *gorm.DB, encryptionKey []byte, opts ...Option) (*TOTPService, error) {
	if db == nil {
		return nil, errors.New("totp: db is required")
	}
	if len(encryptionKey) == 0 {
		return nil, errors.New("totp: encryption key is required")
	}

	service := &TOTPService{
		db:            db,
		encryptionKey: encryptionKey,
		issuer:        defaultIssuer,
		backupCodes:   defaultBackupCodeCount,
		qrCodeSize:    defaultQRCodeSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// GenerateSecret provisions a new MFA secret and backup codes for a user.
// Re-enrolling replaces any existing secret and invalidates old backup codes.
func (s *TOTPService) GenerateSecret(userID, username string) (*otp.Key, []string, error) {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" || username == "" {
		return nil, nil, errors.New("totp: user id and username are required")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: username,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("totp: generate key: %w", err)
	}

	plainCodes, hashedJSON, err := s.mintBackupCodes()
	if err != nil {
		return nil, nil, err
	}

	encryptedSecret, err := crypto.Encrypt([]byte(key.Secret()), s.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("totp: encrypt secret: %w", err)
	}

	var secret models.MFASecret
	err = s.db.Where(models.MFASecret{UserID: userID}).
		Assign(map[string]any{
			"secret":       encryptedSecret,
			"backup_codes": hashedJSON,
			"last_used_at": nil,
		}).
		FirstOrCreate(&secret).Error
	if err != nil {
		return nil, nil, fmt.Errorf("totp: store mfa secret: %w", err)
	}

	return key, plainCodes, nil
}

// mintBackupCodes draws the configured number of backup codes and returns the
// plain codes for one-time display alongside their hashes for storage.
func (s *TOTPService) mintBackupCodes() ([]string, datatypes.JSON, error) {
	plain := make([]string, s.backupCodes)
	hashed := make([]string, s.backupCodes)
	for i := range plain {
		code, err := randomBackupCode()
		if err != nil {
			return nil, nil, fmt.Errorf("totp: generate backup code: %w", err)
		}
		hash, err := crypto.HashPassword(code)
		if err != nil {
			return nil, nil, fmt.Errorf("totp: hash backup code: %w", err)
		}
		plain[i], hashed[i] = code, hash
	}

	encoded, err := json.Marshal(hashed)
	if err != nil {
		return nil, nil, fmt.Errorf("totp: marshal backup codes: %w", err)
	}
	return plain, datatypes.JSON(encoded), nil
}

// VerifyCode checks a submitted TOTP code against the stored secret.
func (s *TOTPService) VerifyCode(userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return false, errors.New("totp: user id and code are required")
	}

	secret, err := s.loadSecret(userID)
	if err != nil {
		return false, err
	}

	rawSecret, err := crypto.Decrypt(secret.Secret, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("totp: decrypt secret: %w", err)
	}
	if !totp.Validate(code, string(rawSecret)) {
		return false, nil
	}

	now := s.now()
	if err := s.db.Model(secret).Update("last_used_at", &now).Error; err != nil {
		return false, fmt.Errorf("totp: update last used: %w", err)
	}
	return true, nil
}

// UseBackupCode validates and consumes a single backup code.
func (s *TOTPService) UseBackupCode(userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return false, errors.New("totp: user id and code are required")
	}

	secret, err := s.loadSecret(userID)
	if err != nil {
		return false, err
	}
	hashes, err := decodeBackupCodes(secret.BackupCodes)
	if err != nil {
		return false, err
	}

	remaining, consumed := consumeBackupCode(hashes, code)
	if !consumed {
		return false, nil
	}

	encoded, err := json.Marshal(remaining)
	if err != nil {
		return false, fmt.Errorf("totp: marshal backup codes: %w", err)
	}
	if err := s.db.Model(secret).Update("backup_codes", datatypes.JSON(encoded)).Error; err != nil {
		return false, fmt.Errorf("totp: update backup codes: %w", err)
	}
	return true, nil
}

// RemainingBackupCodes returns the number of backup codes still available.
func (s *TOTPService) RemainingBackupCodes(userID string) (int, error) {
	secret, err := s.loadSecret(strings.TrimSpace(userID))
	if err != nil {
		return 0, err
	}
	hashes, err := decodeBackupCodes(secret.BackupCodes)
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// GenerateQRCode returns a PNG-encoded QR code for the provided TOTP key.
func (s *TOTPService) GenerateQRCode(key *otp.Key) ([]byte, error) {
	if key == nil {
		return nil, errors.New("totp: key is required")
	}
	return qrcode.Encode(key.String(), qrcode.Medium, s.qrCodeSize)
}

// Disable removes the stored secret so the user can re-enrol from scratch.
func (s *TOTPService) Disable(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("totp: user id is required")
	}

	if err := s.db.Where("user_id = ?", userID).Delete(&models.MFASecret{}).Error; err != nil {
		return fmt.Errorf("totp: delete mfa secret: %w", err)
	}
	return nil
}

func (s *TOTPService) loadSecret(userID string) (*models.MFASecret, error) {
	if userID == "" {
		return nil, errors.New("totp: user id is required")
	}

	var secret models.MFASecret
	err := s.db.Where("user_id = ?", userID).First(&secret).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("totp: secret not found for user %s", userID)
	case err != nil:
		return nil, fmt.Errorf("totp: load secret: %w", err)
	}
	return &secret, nil
}

func decodeBackupCodes(stored datatypes.JSON) ([]string, error) {
	var hashes []string
	if err := json.Unmarshal(stored, &hashes); err != nil {
		return nil, fmt.Errorf("totp: unmarshal backup codes: %w", err)
	}
	return hashes, nil
}

// consumeBackupCode removes the first hash matching the submitted code.
func consumeBackupCode(hashes []string, code string) ([]string, bool) {
	for i, stored := range hashes {
		if crypto.VerifyPassword(stored, code) {
			return append(hashes[:i], hashes[i+1:]...), true
		}
	}
	return hashes, false
}

// randomBackupCode draws an 8-character base32 code.
func randomBackupCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.EncodeToString(buf)[:8], nil
}

// Option allows customising the TOTP service.
type Option func(*TOTPService)

// WithIssuer overrides the issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *TOTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithBackupCodeCount overrides the number of backup codes generated for users.
func WithBackupCodeCount(count int) Option {
	return func(s *TOTPService) {
		if count > 0 {
			s.backupCodes = count
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) Option {
	return func(s *TOTPService) {
		if size > 0 {
			s.qrCodeSize = size
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *TOTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}
