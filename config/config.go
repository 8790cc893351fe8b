package config

import (
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// Driver 驱动核心参数
type Driver struct {
	// 单笔订单的美元价值上限，超过直接放弃出价
	MaxOrderVolumeUSD float64 `toml:"max_order_volume_usd"`
	// 需要换币时的基础让利（万分之一）
	SwapMarginBps int64 `toml:"swap_margin_bps"`
	// 无可靠喂价时的额外让利（万分之一）
	NoFeedMarginBps int64 `toml:"no_feed_margin_bps"`
	// 协议费+推荐费（万分之一）
	ProtocolFeeBps int64 `toml:"protocol_fee_bps"`
	// 报价与最小产出的上限倍数（百分比，110 表示 1.10 倍）
	QuoteClampPct int64 `toml:"quote_clamp_pct"`
	// 报价与预言机价格的容忍偏差（万分之一，250 表示 2.5%）
	OracleTolBps int64 `toml:"oracle_tol_bps"`
	// 稳定币脱锚折算比例上限（万分之一）
	DepegCapBps int64 `toml:"depeg_cap_bps"`
	// 链上提交最大重试次数（仅限瞬时失败）
	MaxSubmitRetry int `toml:"max_submit_retry"`
	// 重试基础退避
	RetryBackoff time.Duration `toml:"retry_backoff"`
	// 单笔链上操作的超时
	SubmitTimeout time.Duration `toml:"submit_timeout"`
	// 工作协程池大小
	WorkerPoolSize int `toml:"worker_pool_size"`
}

// Unlock 解锁协调参数
type Unlock struct {
	// 批量解锁的起批门槛
	BatchThreshold int `toml:"batch_threshold"`
	// 协议允许的单批最大订单数
	BatchMax int `toml:"batch_max"`
	// 批次排空周期
	DrainInterval time.Duration `toml:"drain_interval"`
	// 单次跨链证明拉取超时
	AttestationTimeout time.Duration `toml:"attestation_timeout"`
	// 已解锁订单的短期记忆时长（防重复提交）
	UnlockedTTL time.Duration `toml:"unlocked_ttl"`
}

// Risk 损失风控参数（美元）
type Risk struct {
	Ceiling10m   float64 `toml:"ceiling_10m"`
	Ceiling1h    float64 `toml:"ceiling_1h"`
	Ceiling24h   float64 `toml:"ceiling_24h"`
	CeilingDaily float64 `toml:"ceiling_daily"`
}

// Feed 竞拍实时行情源
type Feed struct {
	WSURL             string        `toml:"ws_url"`
	ReconnectInterval time.Duration `toml:"reconnect_interval"`
	ReadTimeout       time.Duration `toml:"read_timeout"`
	// 喂价过期窗口，超过视为无价
	PriceStaleAfter time.Duration `toml:"price_stale_after"`
}

// Chain 单条链的接入配置
type Chain struct {
	ID   uint16 `toml:"id"`
	Name string `toml:"name"`
	// 多节点并发广播，任一节点接受即成功
	RPCURLs []string `toml:"rpc_urls"`
	// 该链是否参与批量解锁（部分链逐单更划算）
	Batchable bool `toml:"batchable"`
}

type MySQL struct {
	DSN                string   `toml:"dsn"`
	SlaveAddr          []string `toml:"slave_addr"`
	MaxIdleConnections int      `toml:"max_idle_connections"`
	MaxOpenConnections int      `toml:"max_open_connections"`
	SetConnMaxLifetime int      `toml:"set_conn_max_lifetime"`
	SetConnMaxIdleTime int      `toml:"set_conn_max_idle_time"`
	ProxyEnabled       bool     `toml:"proxy_enabled"`
	ProxyAddr          string   `toml:"proxy_addr"`
	// 单机部署可改用 sqlite，优先级高于 DSN
	SQLitePath string `toml:"sqlite_path"`
}

// Services 驱动依赖的外围服务
// 交易构建与签名在 signer 协同进程内完成，驱动不持有私钥。
type Services struct {
	// 兑换报价 + 美元喂价 + 成本估算
	QuoteURL string `toml:"quote_url"`
	// 跨链证明网络网关
	AttestorURL string `toml:"attestor_url"`
	// 头寸调拨服务，留空禁用补仓
	RebalancerURL string `toml:"rebalancer_url"`
	// 本地交易签名服务
	SignerURL string `toml:"signer_url"`
	// 单次 HTTP 请求超时
	Timeout time.Duration `toml:"timeout"`
	// 驱动的链上地址（判断是否中标）
	DriverAddress string `toml:"driver_address"`
}

type NATS struct {
	Endpoint string `toml:"endpoint"`
}

type Logger struct {
	Level      string `toml:"level"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type Monitor struct {
	HealthServerAddr string `toml:"health_server_addr"`
}

type Config struct {
	Driver   Driver   `toml:"driver"`
	Unlock   Unlock   `toml:"unlock"`
	Risk     Risk     `toml:"risk"`
	Feed     Feed     `toml:"feed"`
	Chains   []Chain  `toml:"chains"`
	Services Services `toml:"services"`
	MySQL    MySQL    `toml:"mysql"`
	NATS     NATS     `toml:"nats"`
	Logger   Logger   `toml:"log"`
	Monitor  Monitor  `toml:"monitor"`
}

var (
	cfg         *Config
	cfgPath     string
	cfgLock     sync.RWMutex
	lastModTime time.Time
	stopChan    chan struct{}
)

func Default() *Config {
	return &Config{
		Driver: Driver{
			MaxOrderVolumeUSD: 50_000,
			SwapMarginBps:     30,
			NoFeedMarginBps:   70,
			ProtocolFeeBps:    3,
			QuoteClampPct:     110,
			OracleTolBps:      250,
			DepegCapBps:       10_000,
			MaxSubmitRetry:    3,
			RetryBackoff:      2 * time.Second,
			SubmitTimeout:     45 * time.Second,
			WorkerPoolSize:    30,
		},
		Unlock: Unlock{
			BatchThreshold:     8,
			BatchMax:           20,
			DrainInterval:      30 * time.Second,
			AttestationTimeout: 20 * time.Second,
			UnlockedTTL:        30 * time.Minute,
		},
		Risk: Risk{
			Ceiling10m:   200,
			Ceiling1h:    500,
			Ceiling24h:   2_000,
			CeilingDaily: 2_000,
		},
		Feed: Feed{
			WSURL:             "wss://feed.example.org/auction",
			ReconnectInterval: 5 * time.Second,
			ReadTimeout:       90 * time.Second,
			PriceStaleAfter:   2 * time.Minute,
		},
		Services: Services{
			QuoteURL:    "http://localhost:16910",
			AttestorURL: "http://localhost:16911",
			SignerURL:   "http://localhost:16912",
			Timeout:     15 * time.Second,
		},
		MySQL: MySQL{
			DSN:                "root:password@tcp(localhost:3306)/driver?charset=utf8mb4&parseTime=True&loc=Local",
			SlaveAddr:          []string{},
			MaxIdleConnections: 16,
			MaxOpenConnections: 64,
			SetConnMaxLifetime: 7200,
			SetConnMaxIdleTime: 3600,
			ProxyEnabled:       false,
			ProxyAddr:          "127.0.0.1:7890",
		},
		NATS: NATS{
			Endpoint: "nats://localhost:4222",
		},
		Logger: Logger{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 60,
			MaxAge:     7,
			Compress:   false,
			Console:    false,
		},
		Monitor: Monitor{
			HealthServerAddr: "0.0.0.0:16900",
		},
	}
}

func Load(path string) error {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
	cfgPath = path
	lastModTime = info.ModTime()

	return nil
}

func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	return cfg
}

// Init 初始化配置并启动定期重载（默认10秒）
func Init(path string) error {
	return InitWithInterval(path, 10*time.Second)
}

// InitWithInterval 初始化配置并指定重载间隔
func InitWithInterval(path string, interval time.Duration) error {
	if err := Load(path); err != nil {
		return err
	}

	stopChan = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reloadIfNeeded()
			case <-stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop 停止配置重载
func Stop() {
	if stopChan != nil {
		close(stopChan)
	}
}

// reloadIfNeeded 仅在文件修改时重载
// 注意：仅决策类参数支持热更，存储 DSN 等需重启生效
func reloadIfNeeded() {
	cfgLock.RLock()
	path := cfgPath
	lastMod := lastModTime
	cfgLock.RUnlock()

	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Msg("config stat failed")
		return
	}

	if info.ModTime().After(lastMod) {
		if err = Load(path); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
		} else {
			logger.Info().Msg("config reloaded")
		}
	}
}
