// Package migrations 管理對局歸檔（match_events）的資料表結構
//
// SQL 檔以 embed 打包進執行檔，部署時不需要另外帶 migrations 目錄。
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var schemaFS embed.FS

const schemaDir = "sql"

// Migrator 對局歸檔的 schema 管理器
type Migrator struct {
	m      *migrate.Migrate
	logger *slog.Logger
}

// New 建立 schema 管理器（dsn 使用 postgres:// 格式）
func New(dsn string, logger *slog.Logger) (*Migrator, error) {
	source, err := iofs.New(schemaFS, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("載入 schema 檔失敗: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return nil, fmt.Errorf("連接歸檔資料庫失敗: %w", err)
	}
	m.Log = migrateLogger{logger: logger}

	return &Migrator{m: m, logger: logger}, nil
}

// Run 建立、升級到最新版本後關閉（伺服器啟動與測試容器共用）
func Run(dsn string, logger *slog.Logger) (err error) {
	mg, err := New(dsn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := mg.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return mg.Up()
}

// Up 升級到最新版本
//
// 上次升級中斷留下的 dirty 標記直接清除：歸檔表的 DDL 全部是 IF [NOT] EXISTS，可重複執行。
func (mg *Migrator) Up() error {
	version, dirty, err := mg.m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("讀取 schema 版本失敗: %w", err)
	}
	if dirty {
		mg.logger.Warn("歸檔 schema 標記為 dirty，清除後重跑", "version", version)
		if err := mg.m.Force(int(version)); err != nil {
			return fmt.Errorf("清除 dirty 標記失敗: %w", err)
		}
	}

	err = mg.m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		mg.logger.Debug("歸檔 schema 已是最新", "version", version)
		return nil
	case err != nil:
		return fmt.Errorf("升級歸檔 schema 失敗: %w", err)
	}

	current, _, _ := mg.m.Version()
	mg.logger.Info("歸檔 schema 已升級", "from", version, "to", current)
	return nil
}

// Down 退回一個版本，已在最初版本時不做事
func (mg *Migrator) Down() error {
	if _, _, err := mg.m.Version(); errors.Is(err, migrate.ErrNilVersion) {
		return nil
	}

	err := mg.m.Steps(-1)
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return fmt.Errorf("退回歸檔 schema 失敗: %w", err)
}

// Version 目前版本與 dirty 標記（尚未建立任何表時回傳 migrate.ErrNilVersion）
func (mg *Migrator) Version() (uint, bool, error) {
	return mg.m.Version()
}

// Close 釋放 schema 來源與資料庫連線
func (mg *Migrator) Close() error {
	sourceErr, dbErr := mg.m.Close()
	return errors.Join(sourceErr, dbErr)
}

// migrateLogger 把 golang-migrate 的輸出導到 slog
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l migrateLogger) Verbose() bool { return false }
