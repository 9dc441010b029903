package enrollment

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
)

const (
	extraAdminComponent   = "android.app.extra.PROVISIONING_DEVICE_ADMIN_COMPONENT_NAME"
	extraDownloadLocation = "android.app.extra.PROVISIONING_DEVICE_ADMIN_PACKAGE_DOWNLOAD_LOCATION"
	extraPackageChecksum  = "android.app.extra.PROVISIONING_DEVICE_ADMIN_PACKAGE_CHECKSUM"
	extraSkipEncryption   = "android.app.extra.PROVISIONING_SKIP_ENCRYPTION"
	extraLeaveSystemApps  = "android.app.extra.PROVISIONING_LEAVE_ALL_SYSTEM_APPS_ENABLED"
	extraAdminBundle      = "android.app.extra.PROVISIONING_ADMIN_EXTRAS_BUNDLE"
)

// AdminExtras is handed to the device admin app after provisioning.
type AdminExtras struct {
	EnrollmentToken string    `json:"enrollment_token"`
	ServerURL       string    `json:"server_url"`
	ResellerID      uuid.UUID `json:"reseller_id"`
}

// Provisioner builds the Android device-owner provisioning payload encoded
// into enrollment QR codes.
type Provisioner struct {
	adminComponent string
	downloadURL    string
	serverURL      string
	checksum       string
}

// NewProvisioner reads the enrollment config. When no checksum is configured
// it is derived from the local APK, if one is present.
func NewProvisioner(cfg config.EnrollmentConfig) (*Provisioner, error) {
	if strings.TrimSpace(cfg.AdminComponent) == "" {
		return nil, fmt.Errorf("admin component required")
	}
	if strings.TrimSpace(cfg.APKURL) == "" {
		return nil, fmt.Errorf("apk url required")
	}
	checksum := strings.TrimSpace(cfg.APKChecksum)
	if checksum == "" && cfg.APKDir != "" && cfg.APKFile != "" {
		sum, err := FileChecksum(filepath.Join(cfg.APKDir, cfg.APKFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("apk checksum: %w", err)
		}
		checksum = sum
	}
	return &Provisioner{
		adminComponent: cfg.AdminComponent,
		downloadURL:    cfg.APKURL,
		serverURL:      strings.TrimRight(cfg.ServerURL, "/"),
		checksum:       checksum,
	}, nil
}

// DownloadURL is where devices fetch the admin package.
func (p *Provisioner) DownloadURL() string {
	return p.downloadURL
}

// Payload returns the JSON provisioning document for token.
func (p *Provisioner) Payload(token string, resellerID uuid.UUID) ([]byte, error) {
	doc := map[string]any{
		extraAdminComponent:   p.adminComponent,
		extraDownloadLocation: p.downloadURL,
		extraSkipEncryption:   false,
		extraLeaveSystemApps:  true,
		extraAdminBundle: AdminExtras{
			EnrollmentToken: token,
			ServerURL:       p.serverURL,
			ResellerID:      resellerID,
		},
	}
	if p.checksum != "" {
		doc[extraPackageChecksum] = p.checksum
	}
	return json.Marshal(doc)
}

// FileChecksum returns the base64 SHA-256 digest of the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
