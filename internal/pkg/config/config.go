// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是 worker 的全量配置，从 YAML 文件加载，环境变量可以覆盖基础设施地址。
// 码表（承运商状态码、渠道状态码）和供应商路由规则都是数据驱动的，
// 放在配置里而不是写死在代码分支里。
type Config struct {
	Service struct {
		Name string `yaml:"name"`
		Port int    `yaml:"port"`
	} `yaml:"service"`

	Infra struct {
		MySQLDSN     string   `yaml:"mysql_dsn"`
		RedisAddr    string   `yaml:"redis_addr"`
		RedisPass    string   `yaml:"redis_pass"`
		RedisDB      int      `yaml:"redis_db"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		Jaeger       struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Servers []string `yaml:"servers"` // 为空时不启用跨实例任务锁
		} `yaml:"zookeeper"`
		Nacos struct {
			ServerAddrs string `yaml:"server_addrs"` // 为空时不启用动态配置
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
			DataID      string `yaml:"data_id"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	HTTP struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		RetryAttempts  int `yaml:"retry_attempts"`
		BackoffSeconds int `yaml:"backoff_seconds"`
	} `yaml:"http"`

	Jobs struct {
		IngestInterval     time.Duration `yaml:"ingest_interval"`
		StatusSyncInterval time.Duration `yaml:"status_sync_interval"`
		TrackingInterval   time.Duration `yaml:"tracking_interval"`
		CancelInterval     time.Duration `yaml:"cancel_interval"`
		LookbackHours      int           `yaml:"lookback_hours"`
	} `yaml:"jobs"`

	Marketplaces map[string]MarketplaceConfig `yaml:"marketplaces"`

	Suppliers map[string]SupplierConfig `yaml:"suppliers"`

	Carriers struct {
		Endpoints map[string]string            `yaml:"endpoints"` // 承运商编码 -> 查询入口
		CodeMaps  map[string]map[string]string `yaml:"code_maps"` // 承运商编码 -> (原始状态码 -> 归一化状态)
		Secrets   map[string]string            `yaml:"secrets"`   // 需要签名的承运商的密钥
		CacheTTL  time.Duration                `yaml:"cache_ttl"` // 运单缓存窗口
	} `yaml:"carriers"`

	Routing struct {
		// Rules 按声明顺序求值，第一条命中的规则决定商品行归属哪个供应商
		Rules []RoutingRule `yaml:"rules"`
		// DefaultSupplier 所有规则都未命中时的兜底供应商
		DefaultSupplier string `yaml:"default_supplier"`
	} `yaml:"routing"`

	Alert struct {
		Topic      string `yaml:"topic"`
		StatsTopic string `yaml:"stats_topic"`
		// FailThreshold 同一订单连续转发失败达到该次数时发告警
		FailThreshold int `yaml:"fail_threshold"`
	} `yaml:"alert"`
}

// MarketplaceConfig 单个渠道的接入配置
type MarketplaceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	AccessKey    string `yaml:"access_key"`    // coupang HMAC
	SecretKey    string `yaml:"secret_key"`    // coupang HMAC
	VendorID     string `yaml:"vendor_id"`     // coupang
	APIKey       string `yaml:"api_key"`       // elevenst
	ClientID     string `yaml:"client_id"`     // smartstore OAuth2
	ClientSecret string `yaml:"client_secret"` // smartstore OAuth2
	// StatusCodes 渠道原始状态码 -> 统一订单状态
	StatusCodes map[string]string `yaml:"status_codes"`
}

// SupplierConfig 单个供应商的接入配置
type SupplierConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
}

// RoutingRule 一条供应商路由规则，Expression 是作用在商品行事实上的 CEL 表达式
type RoutingRule struct {
	Supplier   string `yaml:"supplier"`
	Expression string `yaml:"expression"`
}

// Load 从文件加载配置并应用环境变量覆盖
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return &cfg, nil
}

// applyEnvOverrides 基础设施地址允许用环境变量覆盖，方便容器部署
func (c *Config) applyEnvOverrides() {
	if v := getEnv("MYSQL_DSN", ""); v != "" {
		c.Infra.MySQLDSN = v
	}
	if v := getEnv("REDIS_ADDR", ""); v != "" {
		c.Infra.RedisAddr = v
	}
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		c.Infra.KafkaBrokers = strings.Split(v, ",")
	}
	if v := getEnv("JAEGER_ENDPOINT", ""); v != "" {
		c.Infra.Jaeger.Endpoint = v
	}
	if v := getEnv("ZOOKEEPER_SERVERS", ""); v != "" {
		c.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := getEnv("NACOS_SERVER_ADDRS", ""); v != "" {
		c.Infra.Nacos.ServerAddrs = v
	}
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "fulfillment-worker"
	}
	if c.Service.Port == 0 {
		c.Service.Port = 8090
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		c.HTTP.TimeoutSeconds = 10
	}
	if c.HTTP.RetryAttempts <= 0 {
		c.HTTP.RetryAttempts = 3
	}
	if c.HTTP.BackoffSeconds <= 0 {
		c.HTTP.BackoffSeconds = 2
	}
	if c.Jobs.IngestInterval <= 0 {
		c.Jobs.IngestInterval = 10 * time.Minute
	}
	if c.Jobs.StatusSyncInterval <= 0 {
		c.Jobs.StatusSyncInterval = 30 * time.Minute
	}
	if c.Jobs.TrackingInterval <= 0 {
		c.Jobs.TrackingInterval = 30 * time.Minute
	}
	if c.Jobs.CancelInterval <= 0 {
		c.Jobs.CancelInterval = 15 * time.Minute
	}
	if c.Jobs.LookbackHours <= 0 {
		c.Jobs.LookbackHours = 24
	}
	if c.Carriers.CacheTTL <= 0 {
		c.Carriers.CacheTTL = 10 * time.Minute
	}
	if c.Alert.Topic == "" {
		c.Alert.Topic = "fulfillment.alerts"
	}
	if c.Alert.StatsTopic == "" {
		c.Alert.StatsTopic = "fulfillment.job_stats"
	}
	if c.Alert.FailThreshold <= 0 {
		c.Alert.FailThreshold = 3
	}
}

// getEnv 从环境变量读取配置，不存在时返回回退值
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
