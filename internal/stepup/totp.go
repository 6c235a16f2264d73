package stepup

import (
	cryptoRand "crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"

	"github.com/finovant/paydesk/internal/models"
	"github.com/finovant/paydesk/pkg/crypto"
	apperrors "github.com/finovant/paydesk/pkg/errors"
)

const (
	defaultIssuer            = "PayDesk"
	defaultRecoveryCodeCount = 10
	defaultQRCodeSize        = 256

	// pendingEnrollmentTTL bounds how long a sealed enrollment token stays
	// redeemable before the principal has to start over.
	pendingEnrollmentTTL = 10 * time.Minute
)

// TOTPOption allows customising the TOTP service.
type TOTPOption func(*TOTPService)

// WithIssuer overrides the default issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) TOTPOption {
	return func(s *TOTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithRecoveryCodeCount overrides the number of recovery codes generated.
func WithRecoveryCodeCount(count int) TOTPOption {
	return func(s *TOTPService) {
		if count > 0 {
			s.recoveryCodes = count
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) TOTPOption {
	return func(s *TOTPService) {
		if size > 0 {
			s.qrCodeSize = size
		}
	}
}

// WithTOTPClock injects a custom clock, primarily for testing.
func WithTOTPClock(clock func() time.Time) TOTPOption {
	return func(s *TOTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Enrollment is what BeginEnrollment hands back to the caller: the
// provisioning URI always, a rendered QR code when rendering succeeded,
// single-use recovery codes shown exactly once, and the sealed token that
// carries the pending secret until activation commits it.
type Enrollment struct {
	URI           string
	QRCode        []byte
	RecoveryCodes []string
	Token         string
}

// pendingEnrollment is the sealed payload behind an enrollment token. The
// secret travels here, encrypted to the service key, instead of sitting in
// the database before the authenticator has proven itself.
type pendingEnrollment struct {
	PrincipalID   string    `json:"principal_id"`
	Secret        string    `json:"secret"`
	RecoveryCodes []string  `json:"recovery_codes"`
	IssuedAt      time.Time `json:"issued_at"`
}

// TOTPService manages authenticator secrets with deferred persistence:
// BeginEnrollment writes nothing, handing back a sealed token instead, and
// the secret row is only committed in the same transaction as the first
// successful verification. A secret that was never proven never touches the
// database, and restarting enrollment is always safe.
type TOTPService struct {
	db            *gorm.DB
	encryptionKey []byte

	issuer        string
	recoveryCodes int
	qrCodeSize    int
	now           func() time.Time
}

// NewTOTPService constructs a TOTP service backed by the provided database.
func NewTOTPService(db *gorm.DB, encryptionKey []byte, opts ...TOTPOption) (*TOTPService, error) {
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
		recoveryCodes: defaultRecoveryCodeCount,
		qrCodeSize:    defaultQRCodeSize,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// BeginEnrollment provisions a new secret for the principal without storing
// anything: the secret rides inside the returned sealed token until
// ActivateEnrollment commits it. Principals with a committed authenticator
// are refused. QR rendering failures degrade to the bare provisioning URI
// rather than failing enrollment.
func (s *TOTPService) BeginEnrollment(principalID, username string) (*Enrollment, error) {
	principalID = strings.TrimSpace(principalID)
	username = strings.TrimSpace(username)
	if principalID == "" || username == "" {
		return nil, errors.New("totp: principal id and username are required")
	}

	activated, err := s.Activated(principalID)
	if err != nil {
		return nil, err
	}
	if activated {
		return nil, apperrors.New("ALREADY_ENROLLED", "Principal already has an activated authenticator", http.StatusConflict)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: username,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generate key: %w", err)
	}

	codes := make([]string, s.recoveryCodes)
	hashed := make([]string, s.recoveryCodes)
	for i := range codes {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, fmt.Errorf("totp: generate recovery code: %w", err)
		}
		codes[i] = code

		hash, err := crypto.HashPassword(code)
		if err != nil {
			return nil, fmt.Errorf("totp: hash recovery code: %w", err)
		}
		hashed[i] = hash
	}

	token, err := s.sealPending(&pendingEnrollment{
		PrincipalID:   principalID,
		Secret:        key.Secret(),
		RecoveryCodes: hashed,
		IssuedAt:      s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	enrollment := &Enrollment{
		URI:           key.String(),
		RecoveryCodes: codes,
		Token:         token,
	}
	if png, err := s.renderQRCode(key); err == nil {
		enrollment.QRCode = png
	}

	return enrollment, nil
}

// ActivateEnrollment redeems a sealed enrollment token. The submitted code is
// checked against the pending secret, and only on success does a single
// transaction create the enrollment row and mark the principal enrolled. A
// wrong code leaves the database untouched; the caller may retry with the
// same token until it expires.
func (s *TOTPService) ActivateEnrollment(principalID, token, code string) error {
	principalID = strings.TrimSpace(principalID)
	token = strings.TrimSpace(token)
	code = strings.TrimSpace(code)
	if principalID == "" || token == "" || code == "" {
		return errors.New("totp: principal id, token and code are required")
	}

	pending, err := s.openPending(token)
	if err != nil {
		return err
	}
	if pending.PrincipalID != principalID {
		return apperrors.NewBadRequest("Enrollment token is invalid")
	}

	now := s.now()
	if now.After(pending.IssuedAt.Add(pendingEnrollmentTTL)) {
		return apperrors.New("ENROLLMENT_EXPIRED", "Enrollment token has expired, restart enrollment", http.StatusBadRequest)
	}

	if !totp.Validate(code, pending.Secret) {
		return apperrors.ErrInvalidCode
	}

	encryptedSecret, err := crypto.Encrypt([]byte(pending.Secret), s.encryptionKey)
	if err != nil {
		return fmt.Errorf("totp: encrypt secret: %w", err)
	}
	codesJSON, err := json.Marshal(pending.RecoveryCodes)
	if err != nil {
		return fmt.Errorf("totp: marshal recovery codes: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.TOTPEnrollment
		err := tx.Where("principal_id = ?", principalID).First(&existing).Error
		switch {
		case err == nil:
			return apperrors.New("ALREADY_ENROLLED", "Principal already has an activated authenticator", http.StatusConflict)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("totp: load enrollment: %w", err)
		}

		record := models.TOTPEnrollment{
			PrincipalID:   principalID,
			Secret:        encryptedSecret,
			RecoveryCodes: string(codesJSON),
			ActivatedAt:   now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("totp: create enrollment: %w", err)
		}
		if err := tx.Model(&models.Principal{}).
			Where("id = ?", principalID).
			Update("totp_enrolled", true).Error; err != nil {
			return fmt.Errorf("totp: mark principal enrolled: %w", err)
		}
		return nil
	})
}

// VerifyCode checks a submitted code against the committed secret. Principals
// without a committed enrollment simply fail verification.
func (s *TOTPService) VerifyCode(principalID, code string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	code = strings.TrimSpace(code)
	if principalID == "" || code == "" {
		return false, errors.New("totp: principal id and code are required")
	}

	enrollment, err := s.loadEnrollment(principalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	rawSecret, err := crypto.Decrypt(enrollment.Secret, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("totp: decrypt secret: %w", err)
	}

	if !totp.Validate(code, string(rawSecret)) {
		return false, nil
	}

	now := s.now()
	if err := s.db.Model(enrollment).Update("last_used_at", &now).Error; err != nil {
		return false, fmt.Errorf("totp: update enrollment: %w", err)
	}

	return true, nil
}

// UseRecoveryCode validates and consumes a single recovery code.
func (s *TOTPService) UseRecoveryCode(principalID, code string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	code = strings.TrimSpace(code)
	if principalID == "" || code == "" {
		return false, errors.New("totp: principal id and code are required")
	}

	enrollment, err := s.loadEnrollment(principalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	var hashed []string
	if err := json.Unmarshal([]byte(enrollment.RecoveryCodes), &hashed); err != nil {
		return false, fmt.Errorf("totp: unmarshal recovery codes: %w", err)
	}

	consumed := false
	for i, stored := range hashed {
		if crypto.VerifyPassword(stored, code) {
			hashed = append(hashed[:i], hashed[i+1:]...)
			consumed = true
			break
		}
	}
	if !consumed {
		return false, nil
	}

	encoded, err := json.Marshal(hashed)
	if err != nil {
		return false, fmt.Errorf("totp: marshal recovery codes: %w", err)
	}

	if err := s.db.Model(enrollment).Update("recovery_codes", string(encoded)).Error; err != nil {
		return false, fmt.Errorf("totp: update recovery codes: %w", err)
	}

	return true, nil
}

// Activated reports whether the principal holds a committed authenticator.
// The row only ever exists post-activation, so presence is the answer.
func (s *TOTPService) Activated(principalID string) (bool, error) {
	_, err := s.loadEnrollment(strings.TrimSpace(principalID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *TOTPService) sealPending(pending *pendingEnrollment) (string, error) {
	payload, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("totp: marshal pending enrollment: %w", err)
	}
	token, err := crypto.Encrypt(payload, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("totp: seal pending enrollment: %w", err)
	}
	return token, nil
}

func (s *TOTPService) openPending(token string) (*pendingEnrollment, error) {
	payload, err := crypto.Decrypt(token, s.encryptionKey)
	if err != nil {
		return nil, apperrors.NewBadRequest("Enrollment token is invalid")
	}
	var pending pendingEnrollment
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, apperrors.NewBadRequest("Enrollment token is invalid")
	}
	return &pending, nil
}

func (s *TOTPService) loadEnrollment(principalID string) (*models.TOTPEnrollment, error) {
	if principalID == "" {
		return nil, errors.New("totp: principal id is required")
	}

	var enrollment models.TOTPEnrollment
	if err := s.db.Where("principal_id = ?", principalID).First(&enrollment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("totp: load enrollment: %w", err)
	}

	return &enrollment, nil
}

func (s *TOTPService) renderQRCode(key *otp.Key) ([]byte, error) {
	if key == nil {
		return nil, errors.New("totp: key is required")
	}
	return qrcode.Encode(key.String(), qrcode.Medium, s.qrCodeSize)
}

func generateRecoveryCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}

	return base32.StdEncoding.EncodeToString(buf)[:8], nil
}
