package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig 測試預設值
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Game.GridSize)
	assert.Equal(t, 5, cfg.Game.MaxShipCount)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingPeriod)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Empty(t, cfg.Redis.Addr, "外部依賴預設不啟用")
	assert.Empty(t, cfg.NATS.URL)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":8086", cfg.Addr())
}

// TestLoad_YAML 測試讀取 YAML 設定檔
func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
  read_timeout: 5s
game:
  grid_size: 12
  max_ship_count: 4
log:
  level: debug
  format: json
redis:
  addr: "localhost:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "未設定的欄位保留預設值")
	assert.Equal(t, 12, cfg.Game.GridSize)
	assert.Equal(t, 4, cfg.Game.MaxShipCount)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

// TestLoad_MissingFile 測試設定檔不存在
func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "讀取設定檔失敗")
}

// TestApplyEnv 測試環境變數覆蓋
func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BATTLESHIP_PORT":      "7000",
		"BATTLESHIP_GRID_SIZE": "8",
		"BATTLESHIP_MAX_SHIPS": "3",
		"NATS_URL":             "nats://localhost:4222",
		"DATABASE_URL":         "postgres://u:p@localhost/db",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Game.GridSize)
	assert.Equal(t, 3, cfg.Game.MaxShipCount)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Postgres.DSN)
}

// TestApplyEnv_InvalidNumber 測試環境變數格式錯誤
func TestApplyEnv_InvalidNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "BATTLESHIP_PORT" {
			return "abc", true
		}
		return "", false
	}

	err := DefaultConfig().applyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATTLESHIP_PORT")
}

// TestValidate 測試設定檢查
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		errMsg string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "無效的端口"},
		{"grid too small", func(c *Config) { c.Game.GridSize = 4 }, "棋盤大小"},
		{"no ships", func(c *Config) { c.Game.MaxShipCount = 0 }, "船艦數量"},
		{"ping not shorter than pong", func(c *Config) { c.WebSocket.PingPeriod = c.WebSocket.PongWait }, "ping_period"},
		{"empty send queue", func(c *Config) { c.WebSocket.SendQueueSize = 0 }, "send_queue_size"},
		{"zero cleanup interval", func(c *Config) { c.Game.CleanupInterval = 0 }, "cleanup_interval"},
		{"empty audit buffer", func(c *Config) { c.Audit.BufferSize = 0 }, "buffer_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
