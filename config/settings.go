package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Settings holds the process-level configuration for the sale engine.
// Campaign parameters live in a separate file (see LoadCampaignParams);
// these are the operational knobs.
type Settings struct {
	// Campaign identity
	CampaignName string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisDB       int
	RedisPassword string

	// HTTP
	APIPort       int
	StatusAPIPort int

	// Events
	EventBufferSize int
	PublishEvents   bool

	// Logging
	LogLevel string
}

// LoadSettings reads settings from the environment with defaults.
func LoadSettings() *Settings {
	s := &Settings{
		CampaignName:    getEnv("CAMPAIGN_NAME", "sale"),
		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		APIPort:         getEnvInt("API_PORT", 8080),
		StatusAPIPort:   getEnvInt("STATUS_API_PORT", 8081),
		EventBufferSize: getEnvInt("EVENT_BUFFER_SIZE", 1000),
		PublishEvents:   getEnvBool("PUBLISH_EVENTS", true),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	if level, err := log.ParseLevel(s.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Invalid LOG_LEVEL %q, using info", s.LogLevel)
	}

	return s
}

// CampaignParams are the immutable campaign parameters, supplied once per
// campaign in a parameter file.
type CampaignParams struct {
	SaleName                 string `mapstructure:"saleName"`
	TotalSaleCap             string `mapstructure:"totalSaleCap"`
	MinContribution          string `mapstructure:"minContribution"`
	MinThreshold             string `mapstructure:"minThreshold"`
	MaxTokens                string `mapstructure:"maxTokens"`
	ClosingDurationSecs      int64  `mapstructure:"closingDuration"`
	VaultInitialAmount       string `mapstructure:"vaultInitialAmount"`
	VaultDisbursementAmount  string `mapstructure:"vaultDisbursementAmount"`
	DisbursementIntervalSecs int64  `mapstructure:"disbursementInterval"`
	StartTimeUnix            int64  `mapstructure:"startTime"`
	Owner                    string `mapstructure:"owner"`
	Wallet                   string `mapstructure:"wallet"`
	WhitelistAdmin           string `mapstructure:"whitelistAdmin"`

	Disbursements []DisbursementParam `mapstructure:"disbursements"`
}

// DisbursementParam is one reserved token grant in the parameter file.
type DisbursementParam struct {
	Beneficiary string `mapstructure:"beneficiary"`
	Amount      string `mapstructure:"amount"`
	DelaySecs   int64  `mapstructure:"delay"`
}

// LoadCampaignParams reads and validates a campaign parameter file
// (JSON or YAML).
func LoadCampaignParams(path string) (*CampaignParams, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read campaign parameters: %w", err)
	}

	var params CampaignParams
	if err := v.Unmarshal(&params); err != nil {
		return nil, fmt.Errorf("failed to parse campaign parameters: %w", err)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"sale":      params.SaleName,
		"totalCap":  params.TotalSaleCap,
		"startTime": time.Unix(params.StartTimeUnix, 0),
	}).Info("Loaded campaign parameters")
	return &params, nil
}

// Validate checks addresses and amounts.
func (p *CampaignParams) Validate() error {
	for name, addr := range map[string]string{
		"owner":          p.Owner,
		"wallet":         p.Wallet,
		"whitelistAdmin": p.WhitelistAdmin,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("campaign parameter %s is not a valid address: %q", name, addr)
		}
	}

	for name, amount := range map[string]string{
		"totalSaleCap":            p.TotalSaleCap,
		"minContribution":         p.MinContribution,
		"minThreshold":            p.MinThreshold,
		"maxTokens":               p.MaxTokens,
		"vaultInitialAmount":      p.VaultInitialAmount,
		"vaultDisbursementAmount": p.VaultDisbursementAmount,
	} {
		if _, ok := new(big.Int).SetString(amount, 10); !ok {
			return fmt.Errorf("campaign parameter %s is not a valid amount: %q", name, amount)
		}
	}

	for i, d := range p.Disbursements {
		if !common.IsHexAddress(d.Beneficiary) {
			return fmt.Errorf("disbursement %d beneficiary is not a valid address: %q", i, d.Beneficiary)
		}
		if _, ok := new(big.Int).SetString(d.Amount, 10); !ok {
			return fmt.Errorf("disbursement %d amount is not valid: %q", i, d.Amount)
		}
	}

	if p.StartTimeUnix <= 0 {
		return fmt.Errorf("campaign parameter startTime is required")
	}
	return nil
}

// Amount parses one of the validated big integer fields.
func Amount(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Warnf("Invalid integer for %s: %q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warnf("Invalid boolean for %s: %q, using %v", key, value, fallback)
	}
	return fallback
}
