// Package config はメッセージングサービスの設定を読み込む。
//
// 設定は次の順で重ねて適用する。
//  1. 組み込みのデフォルト値
//  2. CONFIG_FILE で指定されたYAMLファイル
//  3. 環境変数（.env ファイルの内容を含む）
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はサービス全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `yaml:"port"`
	// DBPath はSQLiteデータベースのDSN。
	DBPath string `yaml:"db_path"`
	// JWTSecret はアクセストークン検証用の秘密鍵。
	JWTSecret string `yaml:"jwt_secret"`
	// InternalAPIKey は内部APIの呼び出し元を認証するキー。空なら内部APIは無効。
	InternalAPIKey string `yaml:"internal_api_key"`
	// FrontendURLs はCORSで許可するオリジン。
	FrontendURLs []string `yaml:"frontend_urls"`
	// DevMode がtrueの場合、開発用トークン発行エンドポイントを有効にする。
	DevMode bool `yaml:"dev_mode"`

	// Realtime はリアルタイム配信の設定。
	Realtime RealtimeConfig `yaml:"realtime"`
	// Email はメール配信の設定。
	Email EmailConfig `yaml:"email"`
	// RateLimit は送信系APIのレート制限。
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RealtimeConfig はリアルタイム配信の設定。
type RealtimeConfig struct {
	// RedisURL が設定されている場合、Redis Pub/Sub経由で他インスタンスにも配信する。
	RedisURL string `yaml:"redis_url"`
	// RedisChannel はPub/Subのチャネル名。
	RedisChannel string `yaml:"redis_channel"`
	// SendQueueSize は接続ごとの送信キューの長さ。
	SendQueueSize int `yaml:"send_queue_size"`
}

// EmailConfig はメール配信の設定。
type EmailConfig struct {
	// Provider は "brevo" または "mock"。
	Provider string `yaml:"provider"`
	// BrevoAPIKey はBrevo APIのキー。
	BrevoAPIKey string `yaml:"brevo_api_key"`
	// From は送信元メールアドレス。
	From string `yaml:"from"`
	// FromName は送信元の表示名。
	FromName string `yaml:"from_name"`
	// AppBaseURL はメール本文のリンクに使うベースURL。
	AppBaseURL string `yaml:"app_base_url"`
	// Timeout は1通あたりの送信タイムアウト。
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig は送信系APIのレート制限。
type RateLimitConfig struct {
	// PerSecond は1秒あたりの許可数。0以下で無制限。
	PerSecond float64 `yaml:"per_second"`
	// Burst は瞬間的に許可する最大数。
	Burst int `yaml:"burst"`
}

// Default はデフォルト設定を返す。
func Default() Config {
	return Config{
		Port:         "8080",
		DBPath:       "/data/messaging.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		JWTSecret:    "dev-secret-key",
		FrontendURLs: []string{"http://localhost:3000"},
		Realtime: RealtimeConfig{
			RedisChannel:  "msghub:events",
			SendQueueSize: 64,
		},
		Email: EmailConfig{
			Provider:   "mock",
			From:       "no-reply@example.com",
			FromName:   "msghub",
			AppBaseURL: "http://localhost:3000",
			Timeout:    10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Burst:     20,
		},
	}
}

// Load は .env、YAMLファイル、環境変数の順に設定を読み込む。
// .env が存在しない場合は無視する。
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile はYAMLファイルの値で設定を上書きする。ファイルにないキーは変更しない。
func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("設定ファイルのパースに失敗: %w", err)
	}
	return nil
}

// applyEnv は環境変数の値で設定を上書きする。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("PORT", &c.Port)
	str("DB_PATH", &c.DBPath)
	str("JWT_SECRET", &c.JWTSecret)
	str("INTERNAL_API_KEY", &c.InternalAPIKey)
	str("REDIS_URL", &c.Realtime.RedisURL)
	str("REDIS_CHANNEL", &c.Realtime.RedisChannel)
	str("EMAIL_PROVIDER", &c.Email.Provider)
	str("BREVO_API_KEY", &c.Email.BrevoAPIKey)
	str("EMAIL_FROM", &c.Email.From)
	str("EMAIL_FROM_NAME", &c.Email.FromName)
	str("APP_BASE_URL", &c.Email.AppBaseURL)

	if v, ok := lookup("FRONTEND_URL"); ok && v != "" {
		c.FrontendURLs = splitList(v)
	}
	if v, ok := lookup("DEV_MODE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEV_MODEが不正です: %w", err)
		}
		c.DevMode = b
	}
	if v, ok := lookup("EMAIL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("EMAIL_TIMEOUTが不正です: %w", err)
		}
		c.Email.Timeout = d
	}
	if v, ok := lookup("SEND_RATE_PER_SEC"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SEND_RATE_PER_SECが不正です: %w", err)
		}
		c.RateLimit.PerSecond = f
	}
	if v, ok := lookup("SEND_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SEND_BURSTが不正です: %w", err)
		}
		c.RateLimit.Burst = n
	}
	return nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("ポートが指定されていません")
	}
	if c.DBPath == "" {
		return errors.New("データベースのパスが指定されていません")
	}
	if c.JWTSecret == "" {
		return errors.New("JWTシークレットが指定されていません")
	}
	switch c.Email.Provider {
	case "mock":
	case "brevo":
		if c.Email.BrevoAPIKey == "" {
			return errors.New("BrevoのAPIキーが指定されていません")
		}
	default:
		return fmt.Errorf("未知のメールプロバイダです: %s", c.Email.Provider)
	}
	if c.Email.Timeout <= 0 {
		return errors.New("メール送信のタイムアウトは正の値が必要です")
	}
	if c.Realtime.SendQueueSize <= 0 {
		return errors.New("送信キューの長さは正の値が必要です")
	}
	return nil
}

// Addr はHTTPサーバーのリッスンアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.Port
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
