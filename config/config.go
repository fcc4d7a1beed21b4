// Package config handles process configuration that must be known before
// the database is reachable: where the database and chain are, how to sign,
// and the environment defaults for the allocation parameters.
//
// Values come from, in increasing priority, built-in defaults, ~/.cyclepot
// (yaml), a .env file in the working directory and the environment.
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ts4z/cyclepot/model"
)

var bindings = map[string]string{
	"db_url":              "DB_URL",
	"listen_address":      "LISTEN_ADDRESS",
	"sql_connector":       "SQL_CONNECTOR",
	"base_rpc_url":        "BASE_RPC_URL",
	"contract_address":    "CONTRACT_ADDRESS",
	"chain_id":            "CHAIN_ID",
	"keystore_data":       "KEYSTORE_DATA",
	"keystore_password":   "KEYSTORE_PASSWORD",
	"cycle_duration_days": "CYCLE_DURATION_DAYS",
	"number_of_winners":   "NUMBER_OF_WINNERS",
	"fee_percentage":      "FEE_PERCENTAGE",
	"payout_timeout":      "PAYOUT_TIMEOUT",
	"gas_limit":           "GAS_LIMIT",
	"admin_password_hash": "ADMIN_PASSWORD_HASH",
	"cookie_hash_key":     "COOKIE_HASH_KEY",
	"cookie_block_key":    "COOKIE_BLOCK_KEY",
	"secure_cookies":      "SECURE_COOKIES",
	"allowed_origins":     "ALLOWED_ORIGINS",
	"schedule":            "SCHEDULE",
	"verbose":             "VERBOSE",
}

func setDefaults() {
	viper.SetDefault("db_url", "")
	viper.SetDefault("listen_address", ":8080")
	viper.SetDefault("sql_connector", "pgx")
	viper.SetDefault("base_rpc_url", "https://sepolia.base.org")
	viper.SetDefault("chain_id", 84532)
	viper.SetDefault("cycle_duration_days", model.DefaultCycleDurationDays)
	viper.SetDefault("number_of_winners", model.DefaultNumberOfWinners)
	viper.SetDefault("fee_percentage", model.DefaultFeePercentage)
	viper.SetDefault("payout_timeout", 2*time.Minute)
	viper.SetDefault("gas_limit", 500000)
	viper.SetDefault("secure_cookies", true)
	viper.SetDefault("allowed_origins", "*")
	viper.SetDefault("schedule", "@hourly")
}

// Init loads configuration.  It is safe to call more than once.
func Init() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("can't read .env file", "error", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".cyclepot")
	viper.AddConfigPath(home)
	viper.AutomaticEnv()
	for key, env := range bindings {
		viper.BindEnv(key, env)
	}
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// ignore error if config file missing
		slog.Debug("viper can't read config file", "error", err)
	}
	slog.Info("configuration loaded",
		"listen_address", ListenAddress(),
		"sql_connector", SQLConnector(),
		"rpc", RPCURL(),
		"contract", ContractAddress())
}

func DBURL() string {
	return viper.GetString("db_url")
}

func ListenAddress() string {
	return viper.GetString("listen_address")
}

func SQLConnector() string {
	return viper.GetString("sql_connector")
}

func RPCURL() string {
	return viper.GetString("base_rpc_url")
}

func ContractAddress() string {
	return viper.GetString("contract_address")
}

func ChainID() int64 {
	return viper.GetInt64("chain_id")
}

// KeystoreData is the base64 encoding of an encrypted JSON keystore.
func KeystoreData() string {
	return viper.GetString("keystore_data")
}

func KeystorePassword() string {
	return viper.GetString("keystore_password")
}

func PayoutTimeout() time.Duration {
	return viper.GetDuration("payout_timeout")
}

func GasLimit() uint64 {
	return viper.GetUint64("gas_limit")
}

// AllocationDefaults seeds the allocation_config row when none exists yet.
func AllocationDefaults() *model.AllocationConfig {
	return &model.AllocationConfig{
		CycleDurationDays: viper.GetFloat64("cycle_duration_days"),
		NumberOfWinners:   viper.GetInt("number_of_winners"),
		FeePercentage:     viper.GetInt("fee_percentage"),
	}
}

// AdminPasswordHash is a password.Hash output; empty disables admin access.
func AdminPasswordHash() string {
	return viper.GetString("admin_password_hash")
}

func CookieHashKey() string {
	return viper.GetString("cookie_hash_key")
}

func CookieBlockKey() string {
	return viper.GetString("cookie_block_key")
}

func SecureCookies() bool {
	return viper.GetBool("secure_cookies")
}

// AllowedOrigins is a comma-separated list of CORS origins.
func AllowedOrigins() []string {
	r := []string{}
	for _, o := range strings.Split(viper.GetString("allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			r = append(r, o)
		}
	}
	return r
}

// Schedule is a robfig/cron spec for the periodic cycle check.
func Schedule() string {
	return viper.GetString("schedule")
}

func Verbose() bool {
	return viper.GetBool("verbose")
}
