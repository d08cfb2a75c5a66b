package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/semmidev/restorepoint/internal/domain"
)

type Config struct {
	App           AppConfig        `mapstructure:"app"`
	Database      DatabaseConfig   `mapstructure:"database"`
	Backup        BackupConfig     `mapstructure:"backup"`
	Encryption    EncryptionConfig `mapstructure:"encryption"`
	Vault         VaultConfig      `mapstructure:"vault"`
	Scheduler     SchedulerConfig  `mapstructure:"scheduler"`
	Schedules     []ScheduleConfig `mapstructure:"schedules"`
	UploadTargets []UploadTarget   `mapstructure:"upload_targets"`
	Metrics       MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	LogDir   string `mapstructure:"log_dir"`
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	// Overrides for the external tools; empty means the engine default.
	DumpTool    string `mapstructure:"dump_tool"`
	RestoreTool string `mapstructure:"restore_tool"`

	// PostgreSQL specific
	SSLMode      string `mapstructure:"ssl_mode"`
	Schema       string `mapstructure:"schema"`
	ChangeColumn string `mapstructure:"change_column"`

	// MongoDB specific
	AuthDatabase string `mapstructure:"auth_database"`

	// Vault KV path holding a "password" key, used when Password is empty.
	VaultPath string `mapstructure:"vault_path"`
}

type BackupConfig struct {
	RootDir            string        `mapstructure:"root_dir"`
	RetentionDays      int           `mapstructure:"retention_days"`
	MaxBackupSizeMB    int64         `mapstructure:"max_backup_size_mb"`
	MinFreeSpaceMB     int64         `mapstructure:"min_free_space_mb"`
	Compress           bool          `mapstructure:"compress"`
	Encrypt            bool          `mapstructure:"encrypt"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	IncrementalWindow  time.Duration `mapstructure:"incremental_window"`
	FileDirectories    []string      `mapstructure:"file_directories"`
	ExcludePatterns    []string      `mapstructure:"exclude_patterns"`
	FilesRestoreDir    string        `mapstructure:"files_restore_dir"`
	CleanupSchedule    string        `mapstructure:"cleanup_schedule"`
	ReplicateOnSuccess bool          `mapstructure:"replicate_on_success"`
}

type EncryptionConfig struct {
	Passphrase string `mapstructure:"passphrase"`
	WorkFactor int    `mapstructure:"work_factor"`
	VaultPath  string `mapstructure:"vault_path"`
	VaultKey   string `mapstructure:"vault_key"`
}

type VaultConfig struct {
	Address  string `mapstructure:"address"`
	Token    string `mapstructure:"token"`
	RoleID   string `mapstructure:"role_id"`
	SecretID string `mapstructure:"secret_id"`
}

func (v VaultConfig) Enabled() bool {
	return v.Address != ""
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ScheduleConfig struct {
	Name    string               `mapstructure:"name"`
	Type    string               `mapstructure:"type"`
	Cron    string               `mapstructure:"cron"`
	Enabled bool                 `mapstructure:"enabled"`
	Options domain.BackupOptions `mapstructure:"options"`
}

type UploadTarget struct {
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Local mirror (e.g. a NAS mount)
	Path string `mapstructure:"path"`

	// Google Drive: a service account file, or an OAuth client secret plus
	// the refresh token printed by `restorepoint gdrive-auth`.
	CredentialsFile  string `mapstructure:"credentials_file"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	RefreshToken     string `mapstructure:"refresh_token"`
	FolderID         string `mapstructure:"folder_id"`

	// AWS S3 or any S3 compatible endpoint
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`

	// Telegram
	BotToken   string `mapstructure:"bot_token"`
	ChatID     string `mapstructure:"chat_id"`
	SendFile   bool   `mapstructure:"send_file"`
	NotifyOnly bool   `mapstructure:"notify_only"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// envBindings maps config keys to the plain environment names operators
// already use. RESTOREPOINT_<SECTION>_<KEY> works for every key as well.
var envBindings = map[string][]string{
	"backup.root_dir":           {"BACKUP_DIR"},
	"backup.retention_days":     {"BACKUP_RETENTION_DAYS"},
	"backup.max_backup_size_mb": {"MAX_BACKUP_SIZE_MB"},
	"backup.min_free_space_mb":  {"MIN_FREE_SPACE_MB"},
	"app.log_level":             {"LOG_LEVEL"},
	"app.log_dir":               {"LOG_DIR"},
	"encryption.passphrase":     {"BACKUP_ENCRYPTION_PASSPHRASE"},
	"database.host":             {"DB_HOST"},
	"database.port":             {"DB_PORT"},
	"database.username":         {"DB_USER"},
	"database.password":         {"DB_PASSWORD"},
	"database.database":         {"DB_NAME"},
	"vault.address":             {"VAULT_ADDR"},
	"vault.token":               {"VAULT_TOKEN"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "restorepoint")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.type", "postgresql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.change_column", "updated_at")

	v.SetDefault("backup.root_dir", "./backups")
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.max_backup_size_mb", 10240)
	v.SetDefault("backup.min_free_space_mb", 1024)
	v.SetDefault("backup.compress", true)
	v.SetDefault("backup.command_timeout", 2*time.Hour)
	v.SetDefault("backup.incremental_window", 24*time.Hour)
	v.SetDefault("backup.file_directories", []string{"uploads", "logs", "backups/metadata", "public"})
	v.SetDefault("backup.exclude_patterns", []string{"*.tmp", "*.log"})
	v.SetDefault("backup.files_restore_dir", ".")
	v.SetDefault("backup.cleanup_schedule", "0 0 3 * * *")
	v.SetDefault("backup.replicate_on_success", true)

	v.SetDefault("encryption.work_factor", 18)
	v.SetDefault("encryption.vault_key", "passphrase")

	v.SetDefault("scheduler.enabled", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9108")
}

// Load reads the YAML file at path (if present), applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("RESTOREPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.App.LogFile == "" && cfg.App.LogDir != "" {
		cfg.App.LogFile = filepath.Join(cfg.App.LogDir, cfg.App.Name+".log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgresql", "mysql", "mongodb":
	default:
		return &domain.ConfigurationError{Field: "database.type", Reason: fmt.Sprintf("unsupported type %q", c.Database.Type)}
	}
	if c.Database.Host == "" {
		return &domain.ConfigurationError{Field: "database.host", Reason: "is required"}
	}
	if c.Database.Database == "" {
		return &domain.ConfigurationError{Field: "database.database", Reason: "is required"}
	}

	if c.Backup.RootDir == "" {
		return &domain.ConfigurationError{Field: "backup.root_dir", Reason: "is required"}
	}
	if c.Backup.RetentionDays < 0 {
		return &domain.ConfigurationError{Field: "backup.retention_days", Reason: "must not be negative"}
	}
	if c.Backup.MaxBackupSizeMB <= 0 {
		return &domain.ConfigurationError{Field: "backup.max_backup_size_mb", Reason: "must be positive"}
	}
	if c.Backup.MinFreeSpaceMB < 0 {
		return &domain.ConfigurationError{Field: "backup.min_free_space_mb", Reason: "must not be negative"}
	}
	if c.Backup.Encrypt && c.Encryption.Passphrase == "" && c.Encryption.VaultPath == "" {
		return &domain.ConfigurationError{Field: "encryption.passphrase", Reason: "required when backup.encrypt is set"}
	}
	if c.Encryption.VaultPath != "" && !c.Vault.Enabled() {
		return &domain.ConfigurationError{Field: "vault.address", Reason: "required when encryption.vault_path is set"}
	}

	for i, s := range c.Schedules {
		if s.Name == "" {
			return &domain.ConfigurationError{Field: fmt.Sprintf("schedules[%d].name", i), Reason: "is required"}
		}
		if !domain.BackupType(s.Type).Valid() {
			return &domain.ConfigurationError{Field: fmt.Sprintf("schedules[%d].type", i), Reason: fmt.Sprintf("unknown type %q", s.Type)}
		}
		if s.Cron == "" {
			return &domain.ConfigurationError{Field: fmt.Sprintf("schedules[%d].cron", i), Reason: "is required"}
		}
	}

	return nil
}

// MaxBackupSizeBytes is the integrity ceiling for a single artifact.
func (c *Config) MaxBackupSizeBytes() int64 {
	return c.Backup.MaxBackupSizeMB * 1024 * 1024
}

func (c *Config) MinFreeSpaceBytes() uint64 {
	return uint64(c.Backup.MinFreeSpaceMB) * 1024 * 1024
}

func (c *Config) GetEnabledUploadTargets() []UploadTarget {
	var enabled []UploadTarget
	for _, target := range c.UploadTargets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}

// Exists reports whether a config file is present; used by the CLI to decide
// whether to warn that only defaults and environment are in effect.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
