package mabang

import (
	"errors"
	"fmt"
	"time"
)

// Default base URLs of the three cooperating backends.
const (
	DefaultPrimaryBaseURL = "https://www.mabangerp.com"
	DefaultAuxBaseURL     = "https://aamz.mabangerp.com"
	DefaultVotoboBaseURL  = "https://member.votobo.com"
	DefaultBiaojuBaseURL  = "https://biaoju.mabangerp.com"
)

// Errors for client configuration
var (
	ErrConfigMissingUsername       = errors.New("mabang: username is required")
	ErrConfigMissingPassword       = errors.New("mabang: password is required")
	ErrConfigMissingBusinessNumber = errors.New("mabang: business number is required")
	ErrConfigMissingUserID         = errors.New("mabang: user id is required")
)

// Config holds credentials and connection settings for one Mabang account.
// One Config owns exactly one logical session.
type Config struct {
	// Username and Password authenticate against the primary backend.
	Username string
	Password string
	// BusinessNumber and UserID form the derived key for the votobo backend.
	BusinessNumber string
	UserID         string

	// Base URLs of the cooperating backends. Empty values fall back to the
	// production defaults.
	PrimaryBaseURL string
	AuxBaseURL     string
	VotoboBaseURL  string
	BiaojuBaseURL  string

	// TimeoutSeconds is the per-request HTTP timeout.
	TimeoutSeconds int
	// SessionTTL is how long a validated session is trusted before the next
	// access triggers lazy revalidation.
	SessionTTL time.Duration
}

// NewConfig creates a configuration with production defaults.
func NewConfig(username, password, businessNumber, userID string) *Config {
	cfg := &Config{
		Username:       username,
		Password:       password,
		BusinessNumber: businessNumber,
		UserID:         userID,
	}
	cfg.applyDefaults()
	return cfg
}

// Validate checks required fields and fills in defaults for optional ones.
func (c *Config) Validate() error {
	if c.Username == "" {
		return ErrConfigMissingUsername
	}
	if c.Password == "" {
		return ErrConfigMissingPassword
	}
	if c.BusinessNumber == "" {
		return ErrConfigMissingBusinessNumber
	}
	if c.UserID == "" {
		return ErrConfigMissingUserID
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.PrimaryBaseURL == "" {
		c.PrimaryBaseURL = DefaultPrimaryBaseURL
	}
	if c.AuxBaseURL == "" {
		c.AuxBaseURL = DefaultAuxBaseURL
	}
	if c.VotoboBaseURL == "" {
		c.VotoboBaseURL = DefaultVotoboBaseURL
	}
	if c.BiaojuBaseURL == "" {
		c.BiaojuBaseURL = DefaultBiaojuBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 10 * time.Minute
	}
}

// VotoboKey builds the derived login key the votobo backend expects. The
// trailing segment is a fixed tenant marker issued alongside the account.
func (c *Config) VotoboKey() string {
	return fmt.Sprintf("md_MABANG_ERP_PRIVATE_LOGIN_%s_%s_M0010806", c.BusinessNumber, c.UserID)
}
