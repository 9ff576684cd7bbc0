package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Portal  PortalConfig  `mapstructure:"portal"`
	Upload  UploadConfig  `mapstructure:"upload"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
}

// PortalConfig 远端处理门户的地址与各接口路径
type PortalConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	LoginPath    string        `mapstructure:"login_path"`
	RegisterPath string        `mapstructure:"register_path"`
	SendCodePath string        `mapstructure:"send_code_path"`
	ImagePath    string        `mapstructure:"image_path"`
	VideoPath    string        `mapstructure:"video_path"`
	ProgressPath string        `mapstructure:"progress_path"`
	ResultPath   string        `mapstructure:"result_path"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig 会话凭证的持久化方式: memory | disk | sqlite
type StorageConfig struct {
	Type    string `mapstructure:"type"`
	DataDir string `mapstructure:"data_dir"`
	DSN     string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.heartbeat", 30*time.Second)

	v.SetDefault("portal.base_url", "http://localhost:8080")
	v.SetDefault("portal.login_path", "/api/v1/auth/user/login")
	v.SetDefault("portal.register_path", "/api/v1/users/register")
	v.SetDefault("portal.send_code_path", "/api/v1/users/send-verification-code")
	v.SetDefault("portal.image_path", "/api/py/process_image")
	v.SetDefault("portal.video_path", "/api/py/process_video")
	v.SetDefault("portal.progress_path", "/api/video_progress/{task_id}")
	v.SetDefault("portal.result_path", "/api/py/video_result/{task_id}")

	v.SetDefault("upload.max_bytes", 512<<20)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.type", "disk")
	v.SetDefault("storage.data_dir", "./data")
}

// Load 读取配置文件；文件不存在时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 门户地址最常被部署环境覆盖，单独绑定一个短变量名
	_ = v.BindEnv("portal.base_url", "PORTAL_BASE_URL")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	c.Portal.BaseURL = strings.TrimRight(c.Portal.BaseURL, "/")

	return c, nil
}
